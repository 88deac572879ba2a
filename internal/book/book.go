// Package book implements the Book View: a read-only aggregation of open
// limit orders into price levels (spec.md §4.3). It never takes locks that
// could block matching — it queries the store directly and may briefly
// observe a past-consistent view during a concurrent fill, which spec.md
// calls out as acceptable because the view is advisory.
package book

import (
	"context"
	"database/sql"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/atomic"

	"wager-exchange/internal/model"
)

// View serves price-level snapshots, backed by a small bounded cache keyed
// by (ticker, side) so a burst of public orderbook polling doesn't hammer
// the database between trades. The cache is intentionally short-lived and
// advisory, matching the read projection's own consistency guarantee.
type View struct {
	db    *sql.DB
	cache *lru.Cache[cacheKey, cacheEntry]
	ttl   time.Duration
	gen   atomic.Uint64 // bumped by Invalidate after every commit that touches the book
}

type cacheKey struct {
	ticker string
	side   model.Side
}

type cacheEntry struct {
	levels []model.BookLevel
	gen    uint64
	at     time.Time
}

func New(db *sql.DB, ttl time.Duration) *View {
	c, err := lru.New[cacheKey, cacheEntry](256)
	if err != nil {
		panic(err) // only fails for a non-positive size, which is a programmer error
	}
	return &View{db: db, cache: c, ttl: ttl}
}

// Invalidate bumps the cache generation. The controller calls this after
// every committed place/cancel so the next read reflects the trade instead
// of serving a snapshot from before it (within ttl it would anyway).
func (v *View) Invalidate() { v.gen.Add(1) }

// Snapshot returns the top limit price levels for ticker: bids descending,
// asks ascending. Market orders and non-open orders are excluded.
func (v *View) Snapshot(ctx context.Context, ticker string, limit int) (bids, asks []model.BookLevel, err error) {
	bids, err = v.levels(ctx, ticker, model.SideBuy, limit)
	if err != nil {
		return nil, nil, err
	}
	asks, err = v.levels(ctx, ticker, model.SideSell, limit)
	if err != nil {
		return nil, nil, err
	}
	return bids, asks, nil
}

func (v *View) levels(ctx context.Context, ticker string, side model.Side, limit int) ([]model.BookLevel, error) {
	key := cacheKey{ticker: ticker, side: side}
	gen := v.gen.Load()
	if entry, ok := v.cache.Get(key); ok && entry.gen == gen && time.Since(entry.at) < v.ttl {
		return capLevels(entry.levels, limit), nil
	}

	order := "price ASC"
	if side == model.SideBuy {
		order = "price DESC"
	}
	rows, err := v.db.QueryContext(ctx,
		`SELECT price, SUM(qty - filled) FROM orders
		 WHERE ticker=$1 AND side=$2 AND type='LIMIT' AND status IN ('NEW','PARTIALLY_EXECUTED')
		 GROUP BY price ORDER BY `+order, ticker, side)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var levels []model.BookLevel
	for rows.Next() {
		var l model.BookLevel
		if err := rows.Scan(&l.Price, &l.Qty); err != nil {
			return nil, err
		}
		levels = append(levels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	v.cache.Add(key, cacheEntry{levels: levels, gen: gen, at: time.Now()})
	return capLevels(levels, limit), nil
}

func capLevels(levels []model.BookLevel, limit int) []model.BookLevel {
	if limit <= 0 || limit >= len(levels) {
		out := make([]model.BookLevel, len(levels))
		copy(out, levels)
		return out
	}
	out := make([]model.BookLevel, limit)
	copy(out, levels[:limit])
	return out
}
