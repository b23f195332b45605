/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface for accounts, the organization tree, and registrations. Tree
 * mutations delegate the interval arithmetic to internal/nestedset and run
 * every primitive of one operation inside a single transaction.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain, internal/nestedset: Domain models and tree arithmetic.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boxproject/box-appServer/internal/domain"
	"github.com/boxproject/box-appServer/internal/nestedset"
)

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrFlowNotFound         = errors.New("flow not found")
	ErrFlowExists           = errors.New("flow template already exists")
	ErrTransferNotFound     = errors.New("transfer not found")
	ErrReviewNotFound       = errors.New("review not found")
	ErrCurrencyNotFound     = errors.New("currency not found")
)

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// placeholder renders the nth positional query parameter, for queries whose
// filter set is assembled dynamically.
func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

const accountColumns = `id, account, app_account_id, reg_id, pub_key, en_pub_key, cipher_text,
       lft, rgt, depth, is_departured <> 0, is_uploaded <> 0, created_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.Account, &a.AppAccountID, &a.RegID, &a.PubKey, &a.EnPubKey,
		&a.CipherText, &a.Lft, &a.Rgt, &a.Depth, &a.Departed, &a.Uploaded, &a.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

// FindAccountByAppID resolves a non-departed account by its app-side id.
func (r *PostgresRepository) FindAccountByAppID(ctx context.Context, appAccountID string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE app_account_id = $1 AND is_departured = 0`
	return scanAccount(r.db.QueryRow(ctx, query, appAccountID))
}

// FindAccountAnyByAppID resolves an account by app-side id including
// departed rows, for callers that need to distinguish "never existed" from
// "left the organization". Departed rows keep stale interval coordinates.
func (r *PostgresRepository) FindAccountAnyByAppID(ctx context.Context, appAccountID string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE app_account_id = $1 ORDER BY id DESC LIMIT 1`
	return scanAccount(r.db.QueryRow(ctx, query, appAccountID))
}

// FindAccountByID resolves an account by its internal numeric id.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, id int64) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRow(ctx, query, id))
}

// FindRootAbove resolves the depth-zero ancestor whose interval encloses the
// given coordinates. For a root account's own coordinates it returns that
// account itself.
func (r *PostgresRepository) FindRootAbove(ctx context.Context, lft, rgt int64) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts
		WHERE depth = 0 AND lft <= $1 AND rgt >= $2 AND is_departured = 0`
	return scanAccount(r.db.QueryRow(ctx, query, lft, rgt))
}

// AccountNameExists reports whether any account row (departed or not) holds
// the given display name.
func (r *PostgresRepository) AccountNameExists(ctx context.Context, account string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE account = $1)`, account).Scan(&exists)
	return exists, err
}

// nestedsetTx adapts one open transaction to the nestedset.Store primitive
// surface. Every primitive is a single statement over the accounts table.
type nestedsetTx struct {
	tx      pgx.Tx
	pending *CreateAccountParams
}

func (s *nestedsetTx) MaxRgt(ctx context.Context) (int64, error) {
	var max int64
	err := s.tx.QueryRow(ctx, `SELECT COALESCE(MAX(rgt), 0) FROM accounts WHERE is_departured = 0`).Scan(&max)
	return max, err
}

func (s *nestedsetTx) Node(ctx context.Context, id string) (nestedset.Node, error) {
	var n nestedset.Node
	query := `SELECT app_account_id, lft, rgt, depth FROM accounts WHERE app_account_id = $1 AND is_departured = 0`
	err := s.tx.QueryRow(ctx, query, id).Scan(&n.ID, &n.Lft, &n.Rgt, &n.Depth)
	if err == pgx.ErrNoRows {
		return nestedset.Node{}, nestedset.ErrNodeNotFound
	}
	return n, err
}

func (s *nestedsetTx) ShiftRgt(ctx context.Context, min, delta int64) error {
	_, err := s.tx.Exec(ctx, `UPDATE accounts SET rgt = rgt + $1 WHERE rgt >= $2 AND is_departured = 0`, delta, min)
	return err
}

func (s *nestedsetTx) ShiftLft(ctx context.Context, min, delta int64) error {
	_, err := s.tx.Exec(ctx, `UPDATE accounts SET lft = lft + $1 WHERE lft > $2 AND is_departured = 0`, delta, min)
	return err
}

func (s *nestedsetTx) Place(ctx context.Context, lft, rgt, depth int64) error {
	p := s.pending
	query := `
		INSERT INTO accounts (account, app_account_id, reg_id, pub_key, en_pub_key, cipher_text,
		                      lft, rgt, depth, is_departured, is_uploaded)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10)
	`
	uploaded := 0
	if p.Uploaded {
		uploaded = 1
	}
	_, err := s.tx.Exec(ctx, query, p.Account, p.AppAccountID, p.RegID, p.PubKey, p.EnPubKey,
		p.CipherText, lft, rgt, depth, uploaded)
	return err
}

func (s *nestedsetTx) MarkDeparted(ctx context.Context, id string) error {
	_, err := s.tx.Exec(ctx, `UPDATE accounts SET is_departured = 1 WHERE app_account_id = $1 AND is_departured = 0`, id)
	return err
}

func (s *nestedsetTx) AbsorbInterior(ctx context.Context, lft, rgt, depth int64) error {
	query := `
		UPDATE accounts SET lft = lft - 1, rgt = rgt - 1, depth = $1
		WHERE lft > $2 AND lft < $3 AND is_departured = 0
	`
	_, err := s.tx.Exec(ctx, query, depth, lft, rgt)
	return err
}

func (s *nestedsetTx) SetCoordinates(ctx context.Context, id string, lft, rgt, depth int64) error {
	query := `UPDATE accounts SET lft = $1, rgt = $2, depth = $3 WHERE app_account_id = $4 AND is_departured = 0`
	_, err := s.tx.Exec(ctx, query, lft, rgt, depth, id)
	return err
}

// CreateAccount inserts one account into the tree at the given parent
// boundary, renumbering intervals in the same transaction.
func (r *PostgresRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (*domain.Account, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	adapter := &nestedsetTx{tx: tx, pending: &params}
	if _, _, err := nestedset.Insert(ctx, adapter, params.CaptainRgt, params.Depth); err != nil {
		return nil, fmt.Errorf("insert into tree: %w", err)
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE app_account_id = $1 AND is_departured = 0`
	account, err := scanAccount(tx.QueryRow(ctx, query, params.AppAccountID))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return account, nil
}

func applyCipherUpdates(ctx context.Context, tx pgx.Tx, updates []domain.CipherUpdate) error {
	for _, u := range updates {
		query := `UPDATE accounts SET cipher_text = $1 WHERE app_account_id = $2 AND is_departured = 0`
		if _, err := tx.Exec(ctx, query, u.CipherText, u.AppAccountID); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAccount marks the account departed, collapses its interval out of
// the tree and rewrites the cipher digests of the surviving reports, all in
// one transaction.
func (r *PostgresRepository) RemoveAccount(ctx context.Context, appAccountID string, updates []domain.CipherUpdate) (*domain.Account, error) {
	account, err := r.FindAccountByAppID(ctx, appAccountID)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := nestedset.Remove(ctx, &nestedsetTx{tx: tx}, appAccountID); err != nil {
		if errors.Is(err, nestedset.ErrNodeNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("remove from tree: %w", err)
	}
	if err := applyCipherUpdates(ctx, tx, updates); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return account, nil
}

// RelocateAccount re-attaches a member under a new leader and applies the
// accompanying cipher rewrites in the same transaction.
func (r *PostgresRepository) RelocateAccount(ctx context.Context, memberAppID, leaderAppID string, updates []domain.CipherUpdate) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := nestedset.Relocate(ctx, &nestedsetTx{tx: tx}, memberAppID, leaderAppID); err != nil {
		if errors.Is(err, nestedset.ErrNodeNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("relocate in tree: %w", err)
	}
	if err := applyCipherUpdates(ctx, tx, updates); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListDirectReports returns one page of the leader's immediate reports,
// each with the count of their own reports.
func (r *PostgresRepository) ListDirectReports(ctx context.Context, leaderAppID string, page, limit int) ([]domain.EmployeeSummary, int64, error) {
	leader, err := r.FindAccountByAppID(ctx, leaderAppID)
	if err != nil {
		return nil, 0, err
	}

	var count int64
	countQuery := `
		SELECT COUNT(*) FROM accounts
		WHERE is_departured = 0 AND lft > $1 AND rgt < $2 AND depth = $3
	`
	if err := r.db.QueryRow(ctx, countQuery, leader.Lft, leader.Rgt, leader.Depth+1).Scan(&count); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT a.account, a.app_account_id, a.cipher_text, a.is_uploaded <> 0,
		       (SELECT COUNT(*) FROM accounts c
		        WHERE c.is_departured = 0 AND c.lft > a.lft AND c.rgt < a.rgt AND c.depth = a.depth + 1)
		FROM accounts a
		WHERE a.is_departured = 0 AND a.lft > $1 AND a.rgt < $2 AND a.depth = $3
		ORDER BY a.lft
		LIMIT $4 OFFSET $5
	`
	rows, err := r.db.Query(ctx, query, leader.Lft, leader.Rgt, leader.Depth+1, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var reports []domain.EmployeeSummary
	for rows.Next() {
		s := domain.EmployeeSummary{ManagerAccountID: leaderAppID}
		if err := rows.Scan(&s.Account, &s.AppAccountID, &s.CipherText, &s.Uploaded, &s.EmployeeNum); err != nil {
			return nil, 0, err
		}
		reports = append(reports, s)
	}
	return reports, count, rows.Err()
}

// SearchEmployees matches account names inside the viewer's subtree.
func (r *PostgresRepository) SearchEmployees(ctx context.Context, viewerAppID, keyword string, page, limit int) ([]domain.EmployeeSummary, int64, error) {
	viewer, err := r.FindAccountByAppID(ctx, viewerAppID)
	if err != nil {
		return nil, 0, err
	}
	pattern := "%" + keyword + "%"

	var count int64
	countQuery := `
		SELECT COUNT(*) FROM accounts
		WHERE is_departured = 0 AND lft > $1 AND rgt < $2 AND account ILIKE $3
	`
	if err := r.db.QueryRow(ctx, countQuery, viewer.Lft, viewer.Rgt, pattern).Scan(&count); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT a.account, a.app_account_id, a.cipher_text, a.is_uploaded <> 0,
		       COALESCE((SELECT p.app_account_id FROM accounts p
		                 WHERE p.is_departured = 0 AND p.lft < a.lft AND p.rgt > a.rgt AND p.depth = a.depth - 1), ''),
		       (SELECT COUNT(*) FROM accounts c
		        WHERE c.is_departured = 0 AND c.lft > a.lft AND c.rgt < a.rgt AND c.depth = a.depth + 1)
		FROM accounts a
		WHERE a.is_departured = 0 AND a.lft > $1 AND a.rgt < $2 AND a.account ILIKE $3
		ORDER BY a.lft
		LIMIT $4 OFFSET $5
	`
	rows, err := r.db.Query(ctx, query, viewer.Lft, viewer.Rgt, pattern, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var matches []domain.EmployeeSummary
	for rows.Next() {
		var s domain.EmployeeSummary
		if err := rows.Scan(&s.Account, &s.AppAccountID, &s.CipherText, &s.Uploaded, &s.ManagerAccountID, &s.EmployeeNum); err != nil {
			return nil, 0, err
		}
		matches = append(matches, s)
	}
	return matches, count, rows.Err()
}

// ListPendingKeyUploads returns the escrowed key bundles of every member
// whose public key the organization owner has not re-encrypted yet.
func (r *PostgresRepository) ListPendingKeyUploads(ctx context.Context) ([]domain.EmployeeKey, error) {
	query := `
		SELECT a.app_account_id, a.account, rh.captain_id, a.pub_key, rh.msg, a.cipher_text, a.created_at
		FROM accounts a
		JOIN registration_history rh ON rh.id = a.reg_id
		WHERE a.is_departured = 0 AND a.is_uploaded = 0 AND a.depth > 0
		ORDER BY a.created_at
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.EmployeeKey
	for rows.Next() {
		var k domain.EmployeeKey
		var appliedAt time.Time
		if err := rows.Scan(&k.Applyer, &k.ApplyerAccount, &k.Captain, &k.PubKey, &k.Msg, &k.CipherText, &appliedAt); err != nil {
			return nil, err
		}
		k.AppliedAt = appliedAt.Unix()
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// FindEmployeeKey returns one member's escrowed key bundle.
func (r *PostgresRepository) FindEmployeeKey(ctx context.Context, employeeAppID string) (*domain.EmployeeKey, error) {
	var k domain.EmployeeKey
	var appliedAt time.Time
	query := `
		SELECT a.app_account_id, a.account, rh.captain_id, a.pub_key, rh.msg, a.cipher_text, a.created_at
		FROM accounts a
		JOIN registration_history rh ON rh.id = a.reg_id
		WHERE a.app_account_id = $1 AND a.is_departured = 0
	`
	err := r.db.QueryRow(ctx, query, employeeAppID).Scan(&k.Applyer, &k.ApplyerAccount,
		&k.Captain, &k.PubKey, &k.Msg, &k.CipherText, &appliedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	k.AppliedAt = appliedAt.Unix()
	return &k, nil
}

// MarkKeysUploaded flags the given members' escrowed keys as delivered to
// the organization owner.
func (r *PostgresRepository) MarkKeysUploaded(ctx context.Context, appAccountIDs []string) error {
	if len(appAccountIDs) == 0 {
		return nil
	}
	query := `UPDATE accounts SET is_uploaded = 1 WHERE app_account_id = ANY($1) AND is_departured = 0`
	_, err := r.db.Exec(ctx, query, appAccountIDs)
	return err
}

// CreateRegistration stores a fresh onboarding application.
func (r *PostgresRepository) CreateRegistration(ctx context.Context, reg *domain.Registration) error {
	query := `
		INSERT INTO registration_history (reg_id, applyer_id, captain_id, applyer_account, msg, consent)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, applyed_at
	`
	return r.db.QueryRow(ctx, query, reg.RegID, reg.ApplyerID, reg.CaptainID,
		reg.ApplyerAccount, reg.Msg, reg.Consent).Scan(&reg.ID, &reg.AppliedAt)
}

func scanRegistration(row pgx.Row) (*domain.Registration, error) {
	var reg domain.Registration
	err := row.Scan(&reg.ID, &reg.RegID, &reg.ApplyerID, &reg.CaptainID, &reg.ApplyerAccount,
		&reg.Msg, &reg.Consent, &reg.Deleted, &reg.AppliedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRegistrationNotFound
		}
		return nil, err
	}
	return &reg, nil
}

const registrationColumns = `id, reg_id, applyer_id, captain_id, applyer_account, msg, consent, is_deleted <> 0, applyed_at`

// FindRegistrationByRegID resolves a registration by its public id.
func (r *PostgresRepository) FindRegistrationByRegID(ctx context.Context, regID string) (*domain.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registration_history WHERE reg_id = $1`
	return scanRegistration(r.db.QueryRow(ctx, query, regID))
}

// FindRegistrationByID resolves a registration by its internal numeric id,
// the value account rows reference.
func (r *PostgresRepository) FindRegistrationByID(ctx context.Context, id int64) (*domain.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registration_history WHERE id = $1`
	return scanRegistration(r.db.QueryRow(ctx, query, id))
}

// PendingRegistrationExists reports whether the applicant already has an
// undecided application with the same captain.
func (r *PostgresRepository) PendingRegistrationExists(ctx context.Context, applyerID, captainID string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (SELECT 1 FROM registration_history
		               WHERE applyer_id = $1 AND captain_id = $2 AND is_deleted = 0)
	`
	err := r.db.QueryRow(ctx, query, applyerID, captainID).Scan(&exists)
	return exists, err
}

// ListPendingRegistrations returns the captain's newest undecided
// applications, capped at limit. Anything older than the cap is soft
// deleted so stale applications do not pile up on the captain's screen.
func (r *PostgresRepository) ListPendingRegistrations(ctx context.Context, captainID string, limit int) ([]domain.Registration, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT ` + registrationColumns + ` FROM registration_history
		WHERE captain_id = $1 AND consent = 0 AND is_deleted = 0
		ORDER BY applyed_at DESC
		LIMIT $2
	`
	rows, err := tx.Query(ctx, query, captainID, limit)
	if err != nil {
		return nil, err
	}
	var regs []domain.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		regs = append(regs, *reg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(regs) == limit {
		prune := `
			UPDATE registration_history SET is_deleted = 1
			WHERE captain_id = $1 AND consent = 0 AND is_deleted = 0 AND applyed_at < $2
		`
		if _, err := tx.Exec(ctx, prune, captainID, regs[len(regs)-1].AppliedAt); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return regs, nil
}

// ResolveRegistration records the captain's decision and retires the row
// from the pending queue.
func (r *PostgresRepository) ResolveRegistration(ctx context.Context, regID string, consent int) error {
	query := `UPDATE registration_history SET consent = $1, is_deleted = 1 WHERE reg_id = $2`
	result, err := r.db.Exec(ctx, query, consent, regID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrRegistrationNotFound
	}
	return nil
}

// RegistrationDetail joins a registration with the account its approval
// created, if any. Depth is -1 while no account exists.
func (r *PostgresRepository) RegistrationDetail(ctx context.Context, regID string) (*domain.RegistrationDetail, error) {
	var detail domain.RegistrationDetail
	var depth *int64
	query := `
		SELECT rh.id, rh.reg_id, rh.applyer_id, rh.captain_id, rh.applyer_account, rh.msg,
		       rh.consent, rh.is_deleted <> 0, rh.applyed_at, a.depth, a.cipher_text
		FROM registration_history rh
		LEFT JOIN accounts a ON a.reg_id = rh.id AND a.is_departured = 0
		WHERE rh.reg_id = $1
	`
	err := r.db.QueryRow(ctx, query, regID).Scan(&detail.ID, &detail.RegID, &detail.ApplyerID,
		&detail.CaptainID, &detail.ApplyerAccount, &detail.Msg, &detail.Consent, &detail.Deleted,
		&detail.AppliedAt, &depth, &detail.CipherText)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRegistrationNotFound
		}
		return nil, err
	}
	detail.Depth = -1
	if depth != nil {
		detail.Depth = *depth
	}
	return &detail, nil
}
