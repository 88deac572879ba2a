// Package audit runs a background sampling loop over the conservation
// quantity of spec.md §8: for every ticker T (including CASH), it computes
// Σ balances(T) + Σ open_reservations(T) and logs any negative total. It
// does not compare totals between samples, so a total that changes but
// stays non-negative is not reported. It never mutates state — a violation
// is a logged bug report, not a correction.
package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"wager-exchange/internal/model"
)

// Run starts the auditor under t and samples every interval until t dies.
// Grounded in saiputravu-Exchange's WorkerPool, which supervises its
// goroutines with the same tomb.Tomb pattern.
func Run(t *tomb.Tomb, db *sql.DB, interval time.Duration) {
	t.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.Dying():
				return nil
			case <-ticker.C:
				if err := sample(t.Context(nil), db); err != nil {
					log.Error().Err(err).Msg("audit sample failed")
				}
			}
		}
	})
}

// sample recomputes Σ balances(T) + Σ open_reservations(T) for every asset
// that has a balance row and logs any asset whose total is negative, which
// the ledger's non-negative invariant makes impossible.
func sample(ctx context.Context, db *sql.DB) error {
	assets, err := allAssets(ctx, db)
	if err != nil {
		return err
	}
	for _, asset := range assets {
		total, err := reservedPlusFree(ctx, db, asset)
		if err != nil {
			return err
		}
		if total < 0 {
			log.Error().Str("asset", asset).Int64("total", total).
				Msg("conservation invariant violated: negative total")
		}
	}
	return nil
}

func allAssets(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT asset FROM balances`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// reservedPlusFree computes Σ balances(asset) + Σ open_reservations(asset)
// per spec.md §8's invariant definition.
func reservedPlusFree(ctx context.Context, conn *sql.DB, asset string) (int64, error) {
	var free int64
	if err := conn.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount),0) FROM balances WHERE asset=$1`, asset,
	).Scan(&free); err != nil {
		return 0, err
	}

	var reserved int64
	if asset == model.CashAsset {
		err := conn.QueryRowContext(ctx,
			`SELECT COALESCE(SUM((qty - filled) * price), 0) FROM orders
			 WHERE side='BUY' AND type='LIMIT' AND status IN ('NEW','PARTIALLY_EXECUTED')`,
		).Scan(&reserved)
		if err != nil {
			return 0, err
		}
	} else {
		err := conn.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(qty - filled), 0) FROM orders
			 WHERE side='SELL' AND ticker=$1 AND status IN ('NEW','PARTIALLY_EXECUTED')`, asset,
		).Scan(&reserved)
		if err != nil {
			return 0, err
		}
	}
	return free + reserved, nil
}
