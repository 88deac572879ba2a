// Package matching implements the Matching Engine: price-time priority
// walk over the opposing side of the book, fill accounting and settlement
// (spec.md §4.4). It runs synchronously inside the caller's transaction —
// there is no in-memory book and no background actor, per spec.md §5.
package matching

import (
	"context"
	"database/sql"
	"sort"
	"time"

	hset "github.com/hashicorp/go-set/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"wager-exchange/internal/db"
	"wager-exchange/internal/model"
)

// Result is what a single matching pass produced.
type Result struct {
	Trades        []model.Trade
	AffectedUsers *hset.Set[string]
}

// creditOp is one pending balance credit, batched so it can be applied in
// the canonical (asset, user) lock order spec.md §5.3 prescribes.
type creditOp struct {
	userID string
	asset  string
	amount int64
}

// Run matches taker (already persisted with status NEW, filled 0) against
// the opposing side of ticker and returns every trade it produced.
// taker.Filled is updated in place; taker.Status is left for the caller
// (the controller) to finalize.
func Run(ctx context.Context, tx *sql.Tx, taker *model.Order) (*Result, error) {
	res := &Result{AffectedUsers: hset.New[string](4)}
	res.AffectedUsers.Insert(taker.UserID)

	var priceCap *int64
	if taker.Type == model.TypeLimit {
		priceCap = taker.Price
	}

	makers, err := db.BestOpposingMakers(ctx, tx, taker.Side, taker.Ticker, priceCap)
	if err != nil {
		return nil, err
	}

	for i := range makers {
		rem := taker.Remaining()
		if rem <= 0 {
			break
		}
		maker := &makers[i].Order

		avail := maker.Remaining()
		if avail <= 0 {
			continue // invisible to the query in practice; defensive per spec.md §4.4 edge case
		}

		if maker.Type == model.TypeMarket && taker.Type == model.TypeMarket {
			// No deterministic price: a market order cannot cross another
			// market order. Exit the loop entirely (spec.md §4.4 step 5).
			break
		}

		tradeQty := min64(rem, avail)

		var tradePrice int64
		switch {
		case maker.Type == model.TypeLimit:
			tradePrice = *maker.Price
		case taker.Type == model.TypeLimit:
			tradePrice = *taker.Price
		default:
			break // unreachable given the check above
		}

		var buyer, seller *model.Order
		if taker.Side == model.SideBuy {
			buyer, seller = taker, maker
		} else {
			buyer, seller = maker, taker
		}

		notional := tradeQty * tradePrice

		// MARKET BUY never reserved cash at entry: cap each fill against
		// the buyer's live balance and stop matching if it can't cover
		// this fill (spec.md §4.5 step 3).
		if buyer.Type == model.TypeMarket && buyer.Side == model.SideBuy {
			avail, err := db.GetBalance(ctx, tx, buyer.UserID, model.CashAsset)
			if err != nil {
				return nil, err
			}
			if avail < notional {
				log.Debug().Str("order", buyer.ID).Int64("need", notional).Int64("have", avail).
					Msg("market buy cash cap reached, stopping match")
				break
			}
		}

		ops := []creditOp{
			{userID: buyer.UserID, asset: taker.Ticker, amount: tradeQty},
			{userID: seller.UserID, asset: model.CashAsset, amount: notional},
		}
		if buyer.Type == model.TypeMarket {
			// Nothing was reserved: debit the buyer's cash now as part of
			// settlement instead of releasing a prior reservation.
			ops = append(ops, creditOp{userID: buyer.UserID, asset: model.CashAsset, amount: -notional})
		} else if buyer.Type == model.TypeLimit && *buyer.Price > tradePrice {
			// Price improvement: the buyer reserved at its own limit price
			// but traded better, so refund the per-fill excess immediately
			// (spec.md §4.4 step 5 note; scenario 3).
			ops = append(ops, creditOp{userID: buyer.UserID, asset: model.CashAsset, amount: (*buyer.Price - tradePrice) * tradeQty})
		}

		sortOps(ops)
		for _, op := range ops {
			if op.amount == 0 {
				continue
			}
			if op.amount > 0 {
				if err := db.Credit(ctx, tx, op.userID, op.asset, op.amount); err != nil {
					return nil, err
				}
			} else {
				if err := db.Reserve(ctx, tx, op.userID, op.asset, -op.amount); err != nil {
					return nil, err
				}
			}
		}

		maker.Filled += tradeQty
		if err := db.UpdateFill(ctx, tx, maker.ID, maker.Filled, maker.Qty); err != nil {
			return nil, err
		}

		taker.Filled += tradeQty
		if err := db.UpdateFill(ctx, tx, taker.ID, taker.Filled, taker.Qty); err != nil {
			return nil, err
		}

		trade := model.Trade{
			ID:        uuid.NewString(),
			Ticker:    taker.Ticker,
			Qty:       tradeQty,
			Price:     tradePrice,
			CreatedAt: time.Now().UTC(),
		}
		if err := db.InsertTrade(ctx, tx, &trade); err != nil {
			return nil, err
		}
		res.Trades = append(res.Trades, trade)
		res.AffectedUsers.Insert(maker.UserID)
	}

	return res, nil
}

func sortOps(ops []creditOp) {
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].asset != ops[j].asset {
			return ops[i].asset < ops[j].asset
		}
		return ops[i].userID < ops[j].userID
	})
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
