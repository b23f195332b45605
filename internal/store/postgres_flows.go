/**
 * @description
 * PostgreSQL implementation of the flow-template portion of the Repository
 * interface. Templates are content addressed: the flow hash has a unique
 * constraint and a violation surfaces as ErrFlowExists.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the flow domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/boxproject/box-appServer/internal/domain"
)

const flowColumns = `id, flow_id, flow_hash, flow_name, founder_id, content, founder_sign,
       single_limit, progress, created_at, approval_at`

func scanFlow(row pgx.Row) (*domain.Flow, error) {
	var f domain.Flow
	var createdAt time.Time
	var approvalAt *time.Time
	err := row.Scan(&f.ID, &f.FlowID, &f.FlowHash, &f.FlowName, &f.FounderID, &f.Content,
		&f.FounderSign, &f.SingleLimit, &f.Progress, &createdAt, &approvalAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrFlowNotFound
		}
		return nil, err
	}
	f.CreatedAt = createdAt.Unix()
	if approvalAt != nil {
		at := approvalAt.Unix()
		f.ApprovalAt = &at
	}
	return &f, nil
}

// CreateFlow stores a new flow template. A duplicate content hash is
// rejected with ErrFlowExists.
func (r *PostgresRepository) CreateFlow(ctx context.Context, flow *domain.Flow) error {
	query := `
		INSERT INTO business_flows (flow_id, flow_hash, flow_name, founder_id, content, founder_sign, single_limit, progress)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	var createdAt time.Time
	err := r.db.QueryRow(ctx, query, flow.FlowID, flow.FlowHash, flow.FlowName, flow.FounderID,
		flow.Content, flow.FounderSign, flow.SingleLimit, flow.Progress).Scan(&flow.ID, &createdAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrFlowExists
		}
		return err
	}
	flow.CreatedAt = createdAt.Unix()
	return nil
}

// FindFlowByFlowID resolves a flow template by its public id.
func (r *PostgresRepository) FindFlowByFlowID(ctx context.Context, flowID string) (*domain.Flow, error) {
	query := `SELECT ` + flowColumns + ` FROM business_flows WHERE flow_id = $1`
	return scanFlow(r.db.QueryRow(ctx, query, flowID))
}

// FindFlowByID resolves a flow template by its internal numeric id.
func (r *PostgresRepository) FindFlowByID(ctx context.Context, id int64) (*domain.Flow, error) {
	query := `SELECT ` + flowColumns + ` FROM business_flows WHERE id = $1`
	return scanFlow(r.db.QueryRow(ctx, query, id))
}

// FindFlowByHash resolves a flow template by its content hash.
func (r *PostgresRepository) FindFlowByHash(ctx context.Context, hash string) (*domain.Flow, error) {
	query := `SELECT ` + flowColumns + ` FROM business_flows WHERE flow_hash = $1`
	return scanFlow(r.db.QueryRow(ctx, query, hash))
}

// ListFlows returns one page of the founder's templates, newest first. A
// progress of -1 disables the progress filter; an empty keyword disables the
// name search.
func (r *PostgresRepository) ListFlows(ctx context.Context, founderID int64, keyword string, progress, page, limit int) ([]domain.Flow, int64, error) {
	where := `WHERE founder_id = $1`
	args := []any{founderID}
	if progress >= 0 {
		where += ` AND progress = ` + placeholder(len(args)+1)
		args = append(args, progress)
	}
	if keyword != "" {
		where += ` AND flow_name ILIKE ` + placeholder(len(args)+1)
		args = append(args, "%"+keyword+"%")
	}

	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM business_flows `+where, args...).Scan(&count); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + flowColumns + ` FROM business_flows ` + where + `
		ORDER BY created_at DESC
		LIMIT ` + placeholder(len(args)+1) + ` OFFSET ` + placeholder(len(args)+2)
	args = append(args, limit, (page-1)*limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var flows []domain.Flow
	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, 0, err
		}
		flows = append(flows, *flow)
	}
	return flows, count, rows.Err()
}

// UpdateFlowProgress refreshes the cached settlement-layer progress,
// stamping the approval time on first transition to approved.
func (r *PostgresRepository) UpdateFlowProgress(ctx context.Context, id int64, progress int) error {
	query := `
		UPDATE business_flows
		SET progress = $1,
		    approval_at = CASE WHEN $1 = 3 AND approval_at IS NULL THEN NOW() ELSE approval_at END
		WHERE id = $2
	`
	result, err := r.db.Exec(ctx, query, progress, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrFlowNotFound
	}
	return nil
}
