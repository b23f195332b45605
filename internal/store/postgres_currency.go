/**
 * @description
 * PostgreSQL implementation of the currency and deposit portion of the
 * Repository interface. Balances are stored as NUMERIC and handled with
 * shopspring/decimal end to end so scaling between whole units and on-chain
 * integer amounts stays exact.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: Exact balance arithmetic.
 * - internal/domain: Contains the currency domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/boxproject/box-appServer/internal/domain"
)

const currencyColumns = `id, currency, factor, balance, address, is_available <> 0, is_token <> 0`

func scanCurrency(row pgx.Row) (*domain.Currency, error) {
	var c domain.Currency
	err := row.Scan(&c.ID, &c.Currency, &c.Factor, &c.Balance, &c.Address, &c.Available, &c.IsToken)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCurrencyNotFound
		}
		return nil, err
	}
	return &c, nil
}

// FindCurrencyByName resolves an available currency by its display symbol.
func (r *PostgresRepository) FindCurrencyByName(ctx context.Context, name string) (*domain.Currency, error) {
	query := `SELECT ` + currencyColumns + ` FROM currencies WHERE currency = $1 AND is_available = 1`
	return scanCurrency(r.db.QueryRow(ctx, query, name))
}

// FindCurrencyByID resolves a currency by the id the settlement layer
// reports it under, regardless of availability.
func (r *PostgresRepository) FindCurrencyByID(ctx context.Context, id int64) (*domain.Currency, error) {
	query := `SELECT ` + currencyColumns + ` FROM currencies WHERE id = $1`
	return scanCurrency(r.db.QueryRow(ctx, query, id))
}

// ListCurrencies returns every available currency in id order.
func (r *PostgresRepository) ListCurrencies(ctx context.Context) ([]domain.Currency, error) {
	query := `SELECT ` + currencyColumns + ` FROM currencies WHERE is_available = 1 ORDER BY id`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var currencies []domain.Currency
	for rows.Next() {
		c, err := scanCurrency(rows)
		if err != nil {
			return nil, err
		}
		currencies = append(currencies, *c)
	}
	return currencies, rows.Err()
}

// SyncCurrencies reconciles one kind (coins or tokens) against the
// settlement layer's listing: everything of that kind is marked unavailable
// except the base asset, then each reported currency is upserted by its
// settlement-layer id. Balances of existing rows are preserved.
func (r *PostgresRepository) SyncCurrencies(ctx context.Context, kind int, currencies []domain.Currency) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	isToken := 0
	if kind == domain.CurrencyKindToken {
		isToken = 1
	}
	// Id 1 is the base chain asset and is never retired.
	retire := `UPDATE currencies SET is_available = 0 WHERE is_token = $1 AND id <> 1`
	if _, err := tx.Exec(ctx, retire, isToken); err != nil {
		return err
	}

	for _, c := range currencies {
		upsert := `
			INSERT INTO currencies (id, currency, factor, balance, address, is_available, is_token)
			VALUES ($1, $2, $3, 0, $4, 1, $5)
			ON CONFLICT (id) DO UPDATE
			SET currency = EXCLUDED.currency, factor = EXCLUDED.factor,
			    address = COALESCE(currencies.address, EXCLUDED.address), is_available = 1
		`
		if _, err := tx.Exec(ctx, upsert, c.ID, c.Currency, c.Factor, c.Address, isToken); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// UpdateCurrencyAddress stores a freshly resolved deposit address.
func (r *PostgresRepository) UpdateCurrencyAddress(ctx context.Context, id int64, address string) error {
	result, err := r.db.Exec(ctx, `UPDATE currencies SET address = $1 WHERE id = $2`, address, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrCurrencyNotFound
	}
	return nil
}

// RecordDeposit stores the per-source deposit rows and credits the
// custodial balance once, atomically.
func (r *PostgresRepository) RecordDeposit(ctx context.Context, rows []domain.DepositRecord, credit decimal.Decimal) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, row := range rows {
		insert := `
			INSERT INTO deposit_history (order_number, from_addr, to_addr, currency_id, amount, tx_id)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		if _, err := tx.Exec(ctx, insert, row.OrderNumber, row.FromAddr, row.ToAddr,
			row.CurrencyID, row.Amount, row.ChainTxID); err != nil {
			return err
		}
	}

	result, err := tx.Exec(ctx, `UPDATE currencies SET balance = balance + $1 WHERE id = $2`, credit, rows[0].CurrencyID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrCurrencyNotFound
	}
	return tx.Commit(ctx)
}

// ListTradeRecords merges deposits and withdrawals of one currency into a
// single history, newest first. Deposit rows sharing an order number are
// collapsed into one entry with the summed amount.
func (r *PostgresRepository) ListTradeRecords(ctx context.Context, currencyID int64, page, limit int) ([]domain.TradeRecord, int64, error) {
	merged := `
		SELECT order_number, MAX(tx_id) AS tx_info, SUM(amount)::TEXT AS amount,
		       3 AS progress, MAX(created_at) AS updated_at, 0 AS type
		FROM deposit_history
		WHERE currency_id = $1
		GROUP BY order_number
		UNION ALL
		SELECT order_number, tx_info, amount, progress,
		       COALESCE(approval_at, reject_at, apply_at) AS updated_at, 1 AS type
		FROM transfers
		WHERE currency_id = $1
	`

	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM (`+merged+`) h`, currencyID).Scan(&count); err != nil {
		return nil, 0, err
	}

	query := `SELECT * FROM (` + merged + `) h ORDER BY updated_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, currencyID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []domain.TradeRecord
	for rows.Next() {
		var rec domain.TradeRecord
		var updatedAt time.Time
		if err := rows.Scan(&rec.OrderNumber, &rec.TxInfo, &rec.Amount, &rec.Progress, &updatedAt, &rec.Type); err != nil {
			return nil, 0, err
		}
		rec.UpdatedAt = updatedAt.Unix()
		records = append(records, rec)
	}
	return records, count, rows.Err()
}
