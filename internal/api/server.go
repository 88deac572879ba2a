// Package api implements the exchange's HTTP surface (spec.md §6): a
// chi router exposing public market-data routes, user order/balance
// routes, and admin CRUD, all under the /api/v1 prefix, plus the
// websocket push and metrics scrape the ambient stack adds on top.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"wager-exchange/internal/apperr"
	"wager-exchange/internal/auth"
	"wager-exchange/internal/book"
	"wager-exchange/internal/config"
	"wager-exchange/internal/controller"
	"wager-exchange/internal/db"
	"wager-exchange/internal/metrics"
	"wager-exchange/internal/model"
	"wager-exchange/internal/ws"
)

// Server holds every dependency a handler might need. Place and cancel run
// inside the controller's transaction; register and admin deposit/withdraw
// open their own short transaction here; reads go through the db/book
// helpers without one.
type Server struct {
	store *db.Store
	ctrl  *controller.Controller
	book  *book.View
	hub   *ws.Hub
	cfg   *config.Config
}

func NewServer(store *db.Store, ctrl *controller.Controller, bv *book.View, hub *ws.Hub, cfg *config.Config) *Server {
	return &Server{store: store, ctrl: ctrl, book: bv, hub: hub, cfg: cfg}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)
	r.Use(auth.Middleware(s.store.DB))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json200(w, map[string]string{"status": "ok"})
	})
	r.Get("/ws", s.hub.HandleWS)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/public/register", s.register)
		r.Get("/public/instrument", s.listInstruments)
		r.Get("/public/orderbook/{ticker}", s.orderbook)
		r.Get("/public/transactions/{ticker}", s.transactions)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser)
			r.Get("/balance", s.balance)
			r.Post("/order", s.placeOrder)
			r.Get("/orders", s.listOrders)
			r.Get("/order/{id}", s.getOrder)
			r.Delete("/order/{id}", s.cancelOrder)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			r.Post("/admin/instrument", s.createInstrument)
			r.Delete("/admin/instrument/{ticker}", s.deleteInstrument)
			r.Post("/admin/balance/deposit", s.deposit)
			r.Post("/admin/balance/withdraw", s.withdraw)
			r.Delete("/admin/user/{user_id}", s.deleteUser)
		})
	})

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ── public ───────────────────────────────────────────

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apperr.WriteJSON(w, apperr.New(apperr.Validation, "invalid body"))
		return
	}
	v := &apperr.Validator{}
	v.Require(len(body.Name) >= 3, "name must be at least 3 characters")
	if err := v.Err(); err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	ctx := r.Context()
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.Internal, "begin tx", err))
		return
	}
	defer tx.Rollback()
	u, err := db.CreateUser(ctx, tx, uuid.NewString(), body.Name, uuid.NewString(), model.RoleUser)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.Internal, "create user", err))
		return
	}
	if err := db.Credit(ctx, tx, u.ID, model.CashAsset, s.cfg.RegisterSeedCash); err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.Internal, "seed balance", err))
		return
	}
	if err := tx.Commit(); err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.Internal, "commit", err))
		return
	}
	json200(w, u)
}

func (s *Server) listInstruments(w http.ResponseWriter, r *http.Request) {
	instruments, err := db.ListInstruments(r.Context(), s.store.DB)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.Internal, "list instruments", err))
		return
	}
	if instruments == nil {
		instruments = []model.Instrument{}
	}
	json200(w, instruments)
}

func (s *Server) orderbook(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	limit := queryLimit(r, 25)
	bids, asks, err := s.book.Snapshot(r.Context(), ticker, limit)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.Internal, "snapshot book", err))
		return
	}
	json200(w, map[string]any{"bid_levels": bids, "ask_levels": asks})
}

func (s *Server) transactions(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	limit := queryLimit(r, 50)
	trades, err := db.ListTrades(r.Context(), s.store.DB, ticker, limit)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.Internal, "list trades", err))
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	json200(w, trades)
}

// ── user ─────────────────────────────────────────────

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFrom(r.Context())
	bal, err := db.ListBalances(r.Context(), s.store.DB, u.ID)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.Internal, "list balances", err))
		return
	}
	json200(w, bal)
}

// orderBody is the wire shape for LimitBody/MarketBody; presence of Price
// is the tagged-variant discriminant (spec.md §6, §9).
type orderBody struct {
	Direction model.Side `json:"direction"`
	Ticker    string     `json:"ticker"`
	Qty       int64      `json:"qty"`
	Price     *int64     `json:"price"`
}

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFrom(r.Context())
	var body orderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apperr.WriteJSON(w, apperr.New(apperr.Validation, "invalid body"))
		return
	}

	req := model.PlaceRequest{
		Side:   body.Direction,
		Ticker: body.Ticker,
		Qty:    body.Qty,
	}
	if body.Price != nil {
		req.Type = model.TypeLimit
		req.Price = *body.Price
	} else {
		req.Type = model.TypeMarket
	}

	result, err := s.ctrl.Place(r.Context(), u.ID, req)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	for _, t := range result.Trades {
		s.hub.Publish(body.Ticker, "trade", t)
	}
	if len(result.AffectedUsers) > 0 {
		s.hub.Publish(body.Ticker, "balance_update", map[string]any{"user_ids": result.AffectedUsers})
	}
	json200(w, map[string]any{"success": true, "order_id": result.OrderID})
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFrom(r.Context())
	orders, err := db.ListUserOrders(r.Context(), s.store.DB, u.ID)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.Internal, "list orders", err))
		return
	}
	out := make([]orderOut, len(orders))
	for i := range orders {
		out[i] = toOrderOut(&orders[i])
	}
	json200(w, out)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	o, err := db.GetOrder(r.Context(), s.store.DB, id)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.Internal, "get order", err))
		return
	}
	if o == nil {
		apperr.WriteJSON(w, apperr.New(apperr.OrderNotFound, "order not found"))
		return
	}
	json200(w, toOrderOut(o))
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFrom(r.Context())
	id := chi.URLParam(r, "id")
	if err := s.ctrl.Cancel(r.Context(), u.ID, id); err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	json200(w, map[string]bool{"success": true})
}

// ── admin ────────────────────────────────────────────

func (s *Server) createInstrument(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Ticker string `json:"ticker"`
		Name   string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apperr.WriteJSON(w, apperr.New(apperr.Validation, "invalid body"))
		return
	}
	v := &apperr.Validator{}
	v.Require(body.Ticker != "", "ticker is required")
	v.Require(body.Ticker != model.CashAsset, "CASH is reserved")
	v.Require(body.Name != "", "name is required")
	if err := v.Err(); err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	if err := db.CreateInstrument(r.Context(), s.store.DB, body.Ticker, body.Name); err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.Internal, "create instrument", err))
		return
	}
	json200(w, map[string]bool{"success": true})
}

func (s *Server) deleteInstrument(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	found, err := db.DeleteInstrument(r.Context(), s.store.DB, ticker)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.Internal, "delete instrument", err))
		return
	}
	if !found {
		apperr.WriteJSON(w, apperr.New(apperr.UnknownTicker, "unknown ticker "+ticker))
		return
	}
	json200(w, map[string]bool{"success": true})
}

type balanceAdjustBody struct {
	UserID string `json:"user_id"`
	Ticker string `json:"ticker"`
	Amount int64  `json:"amount"`
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	s.adjustBalance(w, r, true)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	s.adjustBalance(w, r, false)
}

func (s *Server) adjustBalance(w http.ResponseWriter, r *http.Request, credit bool) {
	var body balanceAdjustBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apperr.WriteJSON(w, apperr.New(apperr.Validation, "invalid body"))
		return
	}
	v := &apperr.Validator{}
	v.Require(body.UserID != "", "user_id is required")
	v.Require(body.Ticker != "", "ticker is required")
	v.Require(body.Amount > 0, "amount must be positive")
	if err := v.Err(); err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	ctx := r.Context()
	target, err := db.GetUser(ctx, s.store.DB, body.UserID)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.Internal, "lookup user", err))
		return
	}
	if target == nil {
		apperr.WriteJSON(w, apperr.New(apperr.OrderNotFound, "unknown user"))
		return
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.Internal, "begin tx", err))
		return
	}
	defer tx.Rollback()

	if credit {
		err = db.Credit(ctx, tx, body.UserID, body.Ticker, body.Amount)
	} else {
		err = db.Reserve(ctx, tx, body.UserID, body.Ticker, body.Amount)
	}
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.Internal, "commit", err))
		return
	}
	json200(w, map[string]bool{"success": true})
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	deleted, err := db.DeleteUser(r.Context(), s.store.DB, userID)
	if err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.Internal, "delete user", err))
		return
	}
	if deleted == nil {
		apperr.WriteJSON(w, apperr.New(apperr.OrderNotFound, "unknown user"))
		return
	}
	json200(w, deleted)
}

// ── helpers ──────────────────────────────────────────

func queryLimit(r *http.Request, fallback int) int {
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func json200(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// orderOut is the OrderOut shape spec.md §6 names, nesting the order's
// tagged fields under body since model.Order keeps them out of its own
// JSON (json:"-" in internal/model).
type orderOut struct {
	ID        string      `json:"id"`
	Status    model.OrderStatus `json:"status"`
	UserID    string      `json:"user_id"`
	Timestamp time.Time   `json:"timestamp"`
	Body      orderBody   `json:"body"`
	Filled    int64       `json:"filled"`
}

func toOrderOut(o *model.Order) orderOut {
	return orderOut{
		ID:        o.ID,
		Status:    o.Status,
		UserID:    o.UserID,
		Timestamp: o.CreatedAt,
		Body: orderBody{
			Direction: o.Side,
			Ticker:    o.Ticker,
			Qty:       o.Qty,
			Price:     o.Price,
		},
		Filled: o.Filled,
	}
}
