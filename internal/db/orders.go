package db

import (
	"context"
	"database/sql"

	"wager-exchange/internal/model"
)

// InsertOrder persists a newly admitted order with status NEW, filled 0.
func InsertOrder(ctx context.Context, tx *sql.Tx, o *model.Order) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, type, side, ticker, qty, price, status, filled, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		o.ID, o.UserID, o.Type, o.Side, o.Ticker, o.Qty, o.Price, o.Status, o.Filled, o.CreatedAt,
	)
	return err
}

// UpdateFill bumps filled by delta and recomputes status: EXECUTED once
// filled == qty, else PARTIALLY_EXECUTED. It never overwrites a CANCELLED
// order (spec.md §4.2).
func UpdateFill(ctx context.Context, tx *sql.Tx, orderID string, newFilled, qty int64) error {
	status := model.StatusPartiallyExecuted
	if newFilled >= qty {
		status = model.StatusExecuted
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE orders SET filled=$1, status=$2, updated_at=now()
		 WHERE id=$3 AND status IN ('NEW','PARTIALLY_EXECUTED')`,
		newFilled, status, orderID,
	)
	return err
}

// CloseMarketLeftover closes a MARKET order whose remainder could not be
// filled: CANCELLED, filled frozen at its current value (spec.md §4.5 step 6).
func CloseMarketLeftover(ctx context.Context, tx *sql.Tx, orderID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE orders SET status='CANCELLED', updated_at=now() WHERE id=$1`, orderID)
	return err
}

// CancelOrder marks an order CANCELLED. It checks neither ownership nor
// status: the controller loads the row with LockOrderForUpdate, raises
// ORDER_NOT_FOUND / CANNOT_CANCEL itself and computes the refund from that
// row before calling this.
func CancelOrder(ctx context.Context, tx *sql.Tx, orderID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE orders SET status='CANCELLED', updated_at=now() WHERE id=$1`, orderID)
	return err
}

// LockOrderForUpdate loads an order row under FOR UPDATE, used by cancel to
// serialize against a concurrent match on the same order.
func LockOrderForUpdate(ctx context.Context, tx *sql.Tx, orderID string) (*model.Order, error) {
	o := &model.Order{}
	err := tx.QueryRowContext(ctx,
		`SELECT id, user_id, type, side, ticker, qty, price, status, filled, created_at
		 FROM orders WHERE id=$1 FOR UPDATE`, orderID,
	).Scan(&o.ID, &o.UserID, &o.Type, &o.Side, &o.Ticker, &o.Qty, &o.Price, &o.Status, &o.Filled, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

// GetOrder loads an order without locking, for read endpoints.
func GetOrder(ctx context.Context, q *sql.DB, orderID string) (*model.Order, error) {
	o := &model.Order{}
	err := q.QueryRowContext(ctx,
		`SELECT id, user_id, type, side, ticker, qty, price, status, filled, created_at
		 FROM orders WHERE id=$1`, orderID,
	).Scan(&o.ID, &o.UserID, &o.Type, &o.Side, &o.Ticker, &o.Qty, &o.Price, &o.Status, &o.Filled, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

// ListUserOrders returns every order userID has ever placed, newest first.
func ListUserOrders(ctx context.Context, q *sql.DB, userID string) ([]model.Order, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, user_id, type, side, ticker, qty, price, status, filled, created_at
		 FROM orders WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Order
	for rows.Next() {
		var o model.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Type, &o.Side, &o.Ticker, &o.Qty, &o.Price, &o.Status, &o.Filled, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Maker is one opposing resting order returned by the best-opposing-makers
// query, already locked FOR UPDATE within the caller's transaction.
type Maker struct {
	model.Order
}

// BestOpposingMakers implements spec.md §4.2's two symmetric queries: for a
// BUY taker, all open SELL orders on ticker capped at price (if any),
// ordered price ASC, created_at ASC, id ASC; for a SELL taker, the mirror.
// Every returned row is locked FOR UPDATE for the remainder of tx.
func BestOpposingMakers(ctx context.Context, tx *sql.Tx, takerSide model.Side, ticker string, cap *int64) ([]Maker, error) {
	makerSide := model.SideSell
	order := "price ASC, created_at ASC, id ASC"
	priceFilter := ""
	args := []any{ticker}
	if takerSide == model.SideSell {
		makerSide = model.SideBuy
		order = "price DESC, created_at ASC, id ASC"
	}
	if cap != nil {
		args = append(args, *cap)
		if takerSide == model.SideBuy {
			priceFilter = "AND price <= $2"
		} else {
			priceFilter = "AND price >= $2"
		}
	}
	q := `SELECT id, user_id, type, side, ticker, qty, price, status, filled, created_at
	      FROM orders
	      WHERE ticker=$1 AND side='` + string(makerSide) + `' AND status IN ('NEW','PARTIALLY_EXECUTED') AND filled < qty ` +
		priceFilter + ` ORDER BY ` + order + ` FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Maker
	for rows.Next() {
		var m Maker
		if err := rows.Scan(&m.ID, &m.UserID, &m.Type, &m.Side, &m.Ticker, &m.Qty, &m.Price, &m.Status, &m.Filled, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
