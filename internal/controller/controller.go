// Package controller implements the Order Controller: the single entry
// point that turns a PlaceRequest or a cancel into one atomic transaction
// against the store (spec.md §4.5). It owns the transaction boundary and
// the bounded retry on lock contention (spec.md §7); the Matching Engine
// and Ledger never open transactions of their own.
package controller

import (
	"context"
	"database/sql"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"wager-exchange/internal/apperr"
	"wager-exchange/internal/book"
	"wager-exchange/internal/db"
	"wager-exchange/internal/matching"
	"wager-exchange/internal/metrics"
	"wager-exchange/internal/model"
)

const maxAttempts = 3

type Controller struct {
	store *db.Store
	book  *book.View
}

func New(store *db.Store, bv *book.View) *Controller {
	return &Controller{store: store, book: bv}
}

// Place validates req, reserves the required balance, admits the order and
// runs it through the matching engine, all inside one transaction. A
// CONFLICT from lock contention is retried with jittered backoff before
// being surfaced to the caller.
func (c *Controller) Place(ctx context.Context, userID string, req model.PlaceRequest) (*model.PlaceResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveSeconds()

	if err := validatePlace(req); err != nil {
		return nil, err
	}
	inst, err := db.GetInstrument(ctx, c.store.DB, req.Ticker)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "lookup instrument", err)
	}
	if inst == nil {
		return nil, apperr.New(apperr.UnknownTicker, "unknown ticker "+req.Ticker)
	}

	var result *model.PlaceResult
	err = withRetry(ctx, func() error {
		tx, err := c.store.BeginTx(ctx)
		if err != nil {
			return apperr.Wrap(apperr.Internal, "begin tx", err)
		}
		defer tx.Rollback()

		order := &model.Order{
			ID:        uuid.NewString(),
			UserID:    userID,
			Type:      req.Type,
			Side:      req.Side,
			Ticker:    req.Ticker,
			Qty:       req.Qty,
			Status:    model.StatusNew,
			CreatedAt: time.Now().UTC(),
		}
		if req.Type == model.TypeLimit {
			price := req.Price
			order.Price = &price
		}

		if err := reserve(ctx, tx, order); err != nil {
			return err
		}
		if err := db.InsertOrder(ctx, tx, order); err != nil {
			return apperr.Wrap(apperr.Internal, "insert order", err)
		}

		mres, err := matching.Run(ctx, tx, order)
		if err != nil {
			if _, ok := apperr.As(err); ok {
				return err
			}
			return apperr.Wrap(apperr.Internal, "match order", err)
		}

		if err := closeLeftover(ctx, tx, order); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return apperr.Wrap(apperr.Internal, "commit", err)
		}

		result = &model.PlaceResult{
			OrderID:       order.ID,
			Status:        order.Status,
			Filled:        order.Filled,
			Trades:        mres.Trades,
			AffectedUsers: mres.AffectedUsers.Slice(),
		}
		metrics.OrdersPlaced.WithLabelValues(string(req.Side), string(req.Type)).Inc()
		for range mres.Trades {
			metrics.TradesExecuted.WithLabelValues(req.Ticker).Inc()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.book.Invalidate()
	return result, nil
}

// reserve debits the balance a newly admitted order must hold, per
// spec.md §4.5 step 3. MARKET BUY reserves nothing: the matching engine
// caps and debits it fill-by-fill instead.
func reserve(ctx context.Context, tx *sql.Tx, o *model.Order) error {
	switch {
	case o.Side == model.SideBuy && o.Type == model.TypeLimit:
		return db.Reserve(ctx, tx, o.UserID, model.CashAsset, o.Qty*(*o.Price))
	case o.Side == model.SideSell:
		return db.Reserve(ctx, tx, o.UserID, o.Ticker, o.Qty)
	default: // MARKET BUY
		return nil
	}
}

// closeLeftover finalizes an order's status after matching and refunds any
// quantity a MARKET order could not fill (spec.md §4.5 steps 6-7). LIMIT
// remainders stay on the book; their reservation is untouched.
func closeLeftover(ctx context.Context, tx *sql.Tx, o *model.Order) error {
	if o.Remaining() == 0 {
		o.Status = model.StatusExecuted
		return nil
	}
	if o.Type == model.TypeLimit {
		if o.Filled > 0 {
			o.Status = model.StatusPartiallyExecuted
		}
		return nil
	}

	// MARKET leftover: close and refund whatever was reserved but unused.
	if err := db.CloseMarketLeftover(ctx, tx, o.ID); err != nil {
		return apperr.Wrap(apperr.Internal, "close market leftover", err)
	}
	o.Status = model.StatusCancelled
	if o.Side == model.SideSell {
		if err := db.Refund(ctx, tx, o.UserID, o.Ticker, o.Remaining()); err != nil {
			return apperr.Wrap(apperr.Internal, "refund leftover", err)
		}
	}
	return nil
}

// Cancel marks orderID CANCELLED and refunds its unfilled reservation
// (spec.md §4.5 cancel flow). Only the owning user may cancel, and only
// while the order is still open.
func (c *Controller) Cancel(ctx context.Context, userID, orderID string) error {
	err := withRetry(ctx, func() error {
		tx, err := c.store.BeginTx(ctx)
		if err != nil {
			return apperr.Wrap(apperr.Internal, "begin tx", err)
		}
		defer tx.Rollback()

		o, err := db.LockOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return apperr.Wrap(apperr.Internal, "lock order", err)
		}
		if o == nil {
			return apperr.New(apperr.OrderNotFound, "order not found")
		}
		if o.UserID != userID {
			return apperr.New(apperr.Forbidden, "not your order")
		}
		if !o.Status.Open() {
			return apperr.New(apperr.CannotCancel, "order is not open")
		}

		remaining := o.Remaining()
		if remaining > 0 {
			if o.Side == model.SideBuy && o.Price != nil {
				if err := db.Refund(ctx, tx, userID, model.CashAsset, remaining*(*o.Price)); err != nil {
					return apperr.Wrap(apperr.Internal, "refund cash", err)
				}
			} else if o.Side == model.SideSell {
				if err := db.Refund(ctx, tx, userID, o.Ticker, remaining); err != nil {
					return apperr.Wrap(apperr.Internal, "refund ticker", err)
				}
			}
		}

		if err := db.CancelOrder(ctx, tx, orderID); err != nil {
			return apperr.Wrap(apperr.Internal, "cancel order", err)
		}
		if err := tx.Commit(); err != nil {
			return apperr.Wrap(apperr.Internal, "commit", err)
		}
		metrics.OrdersCancelled.Inc()
		return nil
	})
	if err != nil {
		return err
	}
	c.book.Invalidate()
	return nil
}

func validatePlace(req model.PlaceRequest) error {
	v := &apperr.Validator{}
	v.Require(req.Side == model.SideBuy || req.Side == model.SideSell, "side must be BUY or SELL")
	v.Require(req.Type == model.TypeLimit || req.Type == model.TypeMarket, "type must be LIMIT or MARKET")
	v.Require(req.Ticker != "", "ticker is required")
	v.Require(req.Qty > 0, "qty must be positive")
	if req.Type == model.TypeLimit {
		v.Require(req.Price > 0, "price must be positive for a limit order")
	}
	return v.Err()
}

// withRetry runs fn up to maxAttempts times, retrying only on a store-level
// serialization failure (spec.md §7 CONFLICT). When every attempt fails
// that way, the returned CONFLICT error carries every attempt's error.
func withRetry(ctx context.Context, fn func() error) error {
	var attempts *multierror.Error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		attempts = multierror.Append(attempts, err)
		if !db.IsSerializationFailure(unwrapPQ(err)) {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}
		metrics.ConflictRetries.Inc()
		backoff := time.Duration(10*(1<<attempt))*time.Millisecond + time.Duration(rand.Intn(10))*time.Millisecond
		log.Warn().Int("attempt", attempt+1).Dur("backoff", backoff).Msg("retrying after lock conflict")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return apperr.Wrap(apperr.Conflict, "exhausted retries", attempts)
}

func unwrapPQ(err error) error {
	if e, ok := apperr.As(err); ok && e.Err != nil {
		return e.Err
	}
	return err
}
