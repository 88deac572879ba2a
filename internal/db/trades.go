package db

import (
	"context"
	"database/sql"

	"wager-exchange/internal/model"
)

// InsertTrade appends an immutable trade row (spec.md §3 Trade Log).
func InsertTrade(ctx context.Context, tx *sql.Tx, t *model.Trade) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO trades (id, ticker, qty, price, created_at) VALUES ($1,$2,$3,$4,$5)`,
		t.ID, t.Ticker, t.Qty, t.Price, t.CreatedAt,
	)
	return err
}

// ListTrades returns the most recent limit trades for ticker, newest first.
func ListTrades(ctx context.Context, q *sql.DB, ticker string, limit int) ([]model.Trade, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, ticker, qty, price, created_at FROM trades
		 WHERE ticker=$1 ORDER BY created_at DESC LIMIT $2`, ticker, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		if err := rows.Scan(&t.ID, &t.Ticker, &t.Qty, &t.Price, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
