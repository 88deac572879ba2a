package db

import (
	"context"
	"database/sql"

	"wager-exchange/internal/model"
)

func CreateInstrument(ctx context.Context, q *sql.DB, ticker, name string) error {
	_, err := q.ExecContext(ctx, `INSERT INTO instruments (ticker, name) VALUES ($1,$2)`, ticker, name)
	return err
}

func DeleteInstrument(ctx context.Context, q *sql.DB, ticker string) (bool, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM instruments WHERE ticker=$1`, ticker)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func GetInstrument(ctx context.Context, q *sql.DB, ticker string) (*model.Instrument, error) {
	i := &model.Instrument{}
	err := q.QueryRowContext(ctx, `SELECT ticker, name FROM instruments WHERE ticker=$1`, ticker).Scan(&i.Ticker, &i.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return i, err
}

func ListInstruments(ctx context.Context, q *sql.DB) ([]model.Instrument, error) {
	rows, err := q.QueryContext(ctx, `SELECT ticker, name FROM instruments ORDER BY ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Instrument
	for rows.Next() {
		var i model.Instrument
		if err := rows.Scan(&i.Ticker, &i.Name); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}
