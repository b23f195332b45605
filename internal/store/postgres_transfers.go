/**
 * @description
 * PostgreSQL implementation of the transfer and review portion of the
 * Repository interface. A transfer's vote rows (transfer_reviews) are the
 * unit of quorum accounting: rows are created for the first tier when the
 * transfer is submitted and seeded lazily for later tiers as earlier ones
 * pass. The seed guard makes tier seeding idempotent under concurrent
 * approvals.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: Exact balance arithmetic on finalize.
 * - internal/domain: Contains the transfer domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/boxproject/box-appServer/internal/domain"
)

const transferColumns = `t.id, t.order_number, t.tx_info, t.trans_hash, t.applyer_id,
       a.account, a.app_account_id, t.currency_id, t.amount, t.flow_id, t.apply_content,
       t.applyer_sign, t.progress, t.arrived, t.tx_id, t.apply_at, t.approval_at, t.reject_at`

const transferFrom = ` FROM transfers t JOIN accounts a ON a.id = t.applyer_id `

func scanTransfer(row pgx.Row) (*domain.Transfer, error) {
	var t domain.Transfer
	var applyAt time.Time
	var approvalAt, rejectAt *time.Time
	err := row.Scan(&t.ID, &t.OrderNumber, &t.TxInfo, &t.TransHash, &t.ApplyerID, &t.ApplyerAcc,
		&t.ApplyerUID, &t.CurrencyID, &t.Amount, &t.FlowID, &t.ApplyContent, &t.ApplyerSign,
		&t.Progress, &t.Arrived, &t.ChainTxID, &applyAt, &approvalAt, &rejectAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	t.ApplyAt = applyAt.Unix()
	if approvalAt != nil {
		at := approvalAt.Unix()
		t.ApprovalAt = &at
	}
	if rejectAt != nil {
		at := rejectAt.Unix()
		t.RejectAt = &at
	}
	return &t, nil
}

// CreateTransferWithReviews inserts the transfer row together with the
// pending vote rows of its first approval tier, atomically.
func (r *PostgresRepository) CreateTransferWithReviews(ctx context.Context, transfer *domain.Transfer, managerIDs []int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO transfers (order_number, tx_info, trans_hash, applyer_id, currency_id,
		                       amount, flow_id, apply_content, applyer_sign, progress, arrived)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0)
		RETURNING id, apply_at
	`
	var applyAt time.Time
	err = tx.QueryRow(ctx, query, transfer.OrderNumber, transfer.TxInfo, transfer.TransHash,
		transfer.ApplyerID, transfer.CurrencyID, transfer.Amount, transfer.FlowID,
		transfer.ApplyContent, transfer.ApplyerSign, transfer.Progress).Scan(&transfer.ID, &applyAt)
	if err != nil {
		return err
	}
	transfer.ApplyAt = applyAt.Unix()

	for _, managerID := range managerIDs {
		insert := `INSERT INTO transfer_reviews (trans_id, manager_acc_id, comments) VALUES ($1, $2, 0)`
		if _, err := tx.Exec(ctx, insert, transfer.ID, managerID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// FindTransferByOrderNumber resolves a transfer by its public order number.
func (r *PostgresRepository) FindTransferByOrderNumber(ctx context.Context, orderNumber string) (*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + transferFrom + `WHERE t.order_number = $1`
	return scanTransfer(r.db.QueryRow(ctx, query, orderNumber))
}

// FindTransferByHash resolves a transfer by its content hash, which is the
// key the settlement layer reports withdrawals under.
func (r *PostgresRepository) FindTransferByHash(ctx context.Context, transHash string) (*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + transferFrom + `WHERE t.trans_hash = $1`
	return scanTransfer(r.db.QueryRow(ctx, query, transHash))
}

// FindReview resolves one approver's vote row on a transfer. Absence means
// the caller is not (yet) an approver of this transfer.
func (r *PostgresRepository) FindReview(ctx context.Context, transferID, managerAccID int64) (*domain.Review, error) {
	var review domain.Review
	query := `SELECT trans_id, manager_acc_id, comments, sign FROM transfer_reviews WHERE trans_id = $1 AND manager_acc_id = $2`
	err := r.db.QueryRow(ctx, query, transferID, managerAccID).Scan(
		&review.TransferID, &review.ManagerAccID, &review.Comments, &review.Sign)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrReviewNotFound
		}
		return nil, err
	}
	return &review, nil
}

// RecordReview writes an approver's decision and signature onto their
// pending vote row.
func (r *PostgresRepository) RecordReview(ctx context.Context, transferID, managerAccID int64, comments int, sign string) error {
	query := `UPDATE transfer_reviews SET comments = $1, sign = $2 WHERE trans_id = $3 AND manager_acc_id = $4`
	result, err := r.db.Exec(ctx, query, comments, sign, transferID, managerAccID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrReviewNotFound
	}
	return nil
}

// ListReviews returns every vote row of a transfer joined with the voter's
// account identity, in insertion order.
func (r *PostgresRepository) ListReviews(ctx context.Context, transferID int64) ([]ReviewRecord, error) {
	query := `
		SELECT rt.manager_acc_id, a.app_account_id, a.account, rt.comments, rt.sign
		FROM transfer_reviews rt
		JOIN accounts a ON a.id = rt.manager_acc_id
		WHERE rt.trans_id = $1
		ORDER BY rt.id
	`
	rows, err := r.db.Query(ctx, query, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reviews []ReviewRecord
	for rows.Next() {
		var rec ReviewRecord
		if err := rows.Scan(&rec.ManagerAccID, &rec.AppAccountID, &rec.Account, &rec.Comments, &rec.Sign); err != nil {
			return nil, err
		}
		reviews = append(reviews, rec)
	}
	return reviews, rows.Err()
}

// SeedReviews creates pending vote rows for the given approvers unless any
// of them already has one. The guard is advisory only under READ COMMITTED,
// since FOR UPDATE over zero rows locks nothing; the UNIQUE(trans_id,
// manager_acc_id) constraint is what makes concurrent seeding exactly-once,
// with the losing transaction treating its 23505 as "already seeded".
func (r *PostgresRepository) SeedReviews(ctx context.Context, transferID int64, managerIDs []int64) (bool, error) {
	if len(managerIDs) == 0 {
		return false, nil
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var seeded int
	guard := `
		SELECT COUNT(*) FROM (
			SELECT 1 FROM transfer_reviews
			WHERE trans_id = $1 AND manager_acc_id = ANY($2)
			FOR UPDATE
		) existing
	`
	if err := tx.QueryRow(ctx, guard, transferID, managerIDs).Scan(&seeded); err != nil {
		return false, err
	}
	if seeded > 0 {
		return false, tx.Commit(ctx)
	}

	for _, managerID := range managerIDs {
		insert := `INSERT INTO transfer_reviews (trans_id, manager_acc_id, comments) VALUES ($1, $2, 0)`
		if _, err := tx.Exec(ctx, insert, transferID, managerID); err != nil {
			if isUniqueViolation(err) {
				return false, nil
			}
			return false, err
		}
	}
	return true, tx.Commit(ctx)
}

// UpdateTransferProgress persists a recomputed overall progress, stamping
// the terminal timestamps on first transition.
func (r *PostgresRepository) UpdateTransferProgress(ctx context.Context, id int64, progress int) error {
	query := `
		UPDATE transfers
		SET progress = $1,
		    approval_at = CASE WHEN $1 = 3 AND approval_at IS NULL THEN NOW() ELSE approval_at END,
		    reject_at = CASE WHEN $1 = 2 AND reject_at IS NULL THEN NOW() ELSE reject_at END
		WHERE id = $2
	`
	result, err := r.db.Exec(ctx, query, progress, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTransferNotFound
	}
	return nil
}

// MarkTransferSubmitted records a successful settlement hand-off: the
// transfer is approved and its withdrawal is provisionally in flight.
func (r *PostgresRepository) MarkTransferSubmitted(ctx context.Context, id int64) error {
	query := `
		UPDATE transfers
		SET progress = 3, arrived = 1,
		    approval_at = CASE WHEN approval_at IS NULL THEN NOW() ELSE approval_at END
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTransferNotFound
	}
	return nil
}

// ListTransfersByApplyer returns one page of the applicant's own transfer
// requests, newest first. A progress of -1 disables the filter.
func (r *PostgresRepository) ListTransfersByApplyer(ctx context.Context, applyerID int64, progress, page, limit int) ([]domain.TransferRecord, int64, error) {
	where := `WHERE t.applyer_id = $1`
	args := []any{applyerID}
	if progress >= 0 {
		where += ` AND t.progress = $2`
		args = append(args, progress)
	}

	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM transfers t `+where, args...).Scan(&count); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT t.order_number, t.tx_info, t.progress, t.amount, c.currency, t.arrived, t.apply_at
		FROM transfers t
		JOIN currencies c ON c.id = t.currency_id ` + where + `
		ORDER BY t.apply_at DESC
		LIMIT ` + placeholder(len(args)+1) + ` OFFSET ` + placeholder(len(args)+2)
	args = append(args, limit, (page-1)*limit)

	return r.queryTransferRecords(ctx, query, args, count)
}

// ListTransfersForApprover returns one page of the transfers the approver
// has a vote row on, with raw progress values. The progress filter follows
// the voter's view: 0 means "waiting for my vote", anything else means "I
// have voted and the transfer reached that state".
func (r *PostgresRepository) ListTransfersForApprover(ctx context.Context, managerAccID int64, progress, page, limit int) ([]domain.TransferRecord, int64, error) {
	from := `
		FROM transfers t
		JOIN transfer_reviews rt ON rt.trans_id = t.id AND rt.manager_acc_id = $1
		JOIN currencies c ON c.id = t.currency_id
	`
	where := ``
	args := []any{managerAccID}
	switch {
	case progress == 0:
		where = `WHERE rt.comments = 0 AND t.progress < 2`
	case progress > 0:
		where = `WHERE t.progress = $2 AND rt.comments <> 0`
		args = append(args, progress)
	}

	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) `+from+where, args...).Scan(&count); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT t.order_number, t.tx_info, t.progress, t.amount, c.currency, t.arrived, t.apply_at ` + from + where + `
		ORDER BY t.apply_at DESC
		LIMIT ` + placeholder(len(args)+1) + ` OFFSET ` + placeholder(len(args)+2)
	args = append(args, limit, (page-1)*limit)

	return r.queryTransferRecords(ctx, query, args, count)
}

func (r *PostgresRepository) queryTransferRecords(ctx context.Context, query string, args []any, count int64) ([]domain.TransferRecord, int64, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []domain.TransferRecord
	for rows.Next() {
		var rec domain.TransferRecord
		var applyAt time.Time
		if err := rows.Scan(&rec.OrderNumber, &rec.TxInfo, &rec.Progress, &rec.Amount,
			&rec.Currency, &rec.Arrived, &applyAt); err != nil {
			return nil, 0, err
		}
		rec.ApplyAt = applyAt.Unix()
		records = append(records, rec)
	}
	return records, count, rows.Err()
}

// MarkWithdrawalBroadcast records the provisional settlement callback: the
// withdrawal is on chain but not yet settled.
func (r *PostgresRepository) MarkWithdrawalBroadcast(ctx context.Context, transHash, chainTxID string) error {
	query := `UPDATE transfers SET arrived = 1, tx_id = $1 WHERE trans_hash = $2`
	result, err := r.db.Exec(ctx, query, chainTxID, transHash)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTransferNotFound
	}
	return nil
}

// FinalizeWithdrawal records the final settlement callback, debits the
// custodial balance in the same transaction, and returns the settled transfer.
func (r *PostgresRepository) FinalizeWithdrawal(ctx context.Context, transHash, chainTxID string) (*domain.Transfer, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	settled := domain.Transfer{TransHash: transHash, Arrived: 2, ChainTxID: &chainTxID}
	query := `
		UPDATE transfers SET arrived = 2, tx_id = $1
		WHERE trans_hash = $2
		RETURNING id, order_number, currency_id, amount
	`
	if err := tx.QueryRow(ctx, query, chainTxID, transHash).Scan(&settled.ID, &settled.OrderNumber, &settled.CurrencyID, &settled.Amount); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}

	debit, err := decimal.NewFromString(settled.Amount)
	if err != nil {
		return nil, err
	}
	result, err := tx.Exec(ctx, `UPDATE currencies SET balance = balance - $1 WHERE id = $2`, debit, settled.CurrencyID)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected() == 0 {
		return nil, ErrCurrencyNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &settled, nil
}
