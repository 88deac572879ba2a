// Package model holds the domain types shared across the exchange: users,
// instruments, balances, orders and trades. Nothing here touches storage or
// transport — those live in internal/db and internal/api.
package model

import "time"

// CashAsset is the single reserved ticker that denominates every trade
// price. It is never listed as an Instrument and cannot be deleted.
const CashAsset = "CASH"

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"name"`
	Role        Role      `json:"role"`
	APIKey      string    `json:"api_key"`
	CreatedAt   time.Time `json:"created_at"`
}

type Instrument struct {
	Ticker string `json:"ticker"`
	Name   string `json:"name"`
}

type Balance struct {
	UserID string `json:"-"`
	Asset  string `json:"-"`
	Amount int64  `json:"amount"`
}

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderType string

const (
	TypeLimit  OrderType = "LIMIT"
	TypeMarket OrderType = "MARKET"
)

type OrderStatus string

const (
	StatusNew                OrderStatus = "NEW"
	StatusPartiallyExecuted  OrderStatus = "PARTIALLY_EXECUTED"
	StatusExecuted           OrderStatus = "EXECUTED"
	StatusCancelled          OrderStatus = "CANCELLED"
)

// Open reports whether an order with this status still rests on the book.
func (s OrderStatus) Open() bool {
	return s == StatusNew || s == StatusPartiallyExecuted
}

type Order struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Type      OrderType   `json:"-"`
	Side      Side        `json:"-"`
	Ticker    string      `json:"-"`
	Qty       int64       `json:"-"`
	Price     *int64      `json:"-"` // nil for MARKET
	Status    OrderStatus `json:"status"`
	Filled    int64       `json:"filled"`
	CreatedAt time.Time   `json:"timestamp"`
}

// Remaining is the unfilled quantity of the order.
func (o *Order) Remaining() int64 { return o.Qty - o.Filled }

type Trade struct {
	ID        string    `json:"id"`
	Ticker    string    `json:"ticker"`
	Qty       int64     `json:"amount"`
	Price     int64     `json:"price"`
	CreatedAt time.Time `json:"timestamp"`
}

// BookLevel is one aggregated price level in a Book View snapshot.
type BookLevel struct {
	Price int64 `json:"price"`
	Qty   int64 `json:"qty"`
}

// PlaceRequest is the tagged variant replacing the duck-typed
// "price present => LIMIT" request body: the HTTP layer constructs exactly
// one of these and hands it to the controller before any state change
// (spec.md §9).
type PlaceRequest struct {
	Side   Side
	Type   OrderType
	Ticker string
	Qty    int64
	Price  int64 // only meaningful when Type == TypeLimit
}

// PlaceResult is returned by the controller after a place completes.
type PlaceResult struct {
	OrderID string
	Status  OrderStatus
	Filled  int64
	Trades  []Trade
	// AffectedUsers lists every user whose balance changed as part of this
	// place (the taker plus every maker it traded against), so a caller can
	// drive targeted balance pushes instead of a blanket refresh.
	AffectedUsers []string
}
