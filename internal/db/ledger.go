package db

import (
	"context"
	"database/sql"

	"wager-exchange/internal/apperr"
)

// Ledger enforces non-negative integer balances and provides the atomic
// reserve/credit/refund operations spec.md §4.1 describes. Rows are keyed
// on (user_id, asset) and created lazily the first time they're touched —
// the "load-or-create under lock" pattern that replaces ORM-style lazy row
// materialization (spec.md §9).

// GetBalance returns the current amount for (userID, asset), or 0 if no row
// exists. It does not materialize the row and takes no lock.
func GetBalance(ctx context.Context, q Queryer, userID, asset string) (int64, error) {
	var amount int64
	err := q.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE user_id=$1 AND asset=$2`, userID, asset,
	).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return amount, err
}

// Queryer is satisfied by both *sql.DB and *sql.Tx.
type Queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// lockBalanceRow selects (and creates, if absent) the balance row for
// update, returning its current amount. Must run inside tx.
func lockBalanceRow(ctx context.Context, tx *sql.Tx, userID, asset string) (int64, error) {
	var amount int64
	err := tx.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE user_id=$1 AND asset=$2 FOR UPDATE`, userID, asset,
	).Scan(&amount)
	if err == sql.ErrNoRows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO balances (user_id, asset, amount) VALUES ($1, $2, 0)
			 ON CONFLICT (user_id, asset) DO NOTHING`, userID, asset,
		); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return amount, err
}

// Reserve debits n from (userID, asset), failing with INSUFFICIENT_FUNDS if
// the current amount is less than n. Must run under the transaction that
// also persists the order it backs (spec.md §4.1).
func Reserve(ctx context.Context, tx *sql.Tx, userID, asset string, n int64) error {
	amount, err := lockBalanceRow(ctx, tx, userID, asset)
	if err != nil {
		return err
	}
	if amount < n {
		return apperr.New(apperr.InsufficientFunds, "balance too low")
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE balances SET amount = amount - $1 WHERE user_id=$2 AND asset=$3`, n, userID, asset)
	return err
}

// Credit increments (userID, asset) by n, creating the row if absent. Never
// fails for n >= 0.
func Credit(ctx context.Context, tx *sql.Tx, userID, asset string, n int64) error {
	if n == 0 {
		return nil
	}
	if _, err := lockBalanceRow(ctx, tx, userID, asset); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE balances SET amount = amount + $1 WHERE user_id=$2 AND asset=$3`, n, userID, asset)
	return err
}

// Refund is an alias of Credit used on cancel/leftover, kept distinct for
// observability (spec.md §4.1).
func Refund(ctx context.Context, tx *sql.Tx, userID, asset string, n int64) error {
	return Credit(ctx, tx, userID, asset, n)
}

// ListBalances returns every (asset -> amount) pair held by userID, used by
// GET /balance.
func ListBalances(ctx context.Context, q *sql.DB, userID string) (map[string]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT asset, amount FROM balances WHERE user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var asset string
		var amount int64
		if err := rows.Scan(&asset, &amount); err != nil {
			return nil, err
		}
		out[asset] = amount
	}
	return out, rows.Err()
}
