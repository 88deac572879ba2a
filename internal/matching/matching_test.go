package matching

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wager-exchange/internal/db"
	"wager-exchange/internal/model"
)

func TestSortOpsOrdersByAssetThenUser(t *testing.T) {
	ops := []creditOp{
		{userID: "bob", asset: "CASH", amount: 5},
		{userID: "alice", asset: "BTC", amount: 1},
		{userID: "alice", asset: "CASH", amount: 3},
	}
	sortOps(ops)

	assert.Equal(t, []creditOp{
		{userID: "alice", asset: "BTC", amount: 1},
		{userID: "alice", asset: "CASH", amount: 3},
		{userID: "bob", asset: "CASH", amount: 5},
	}, ops)
}

func TestMin64(t *testing.T) {
	assert.Equal(t, int64(3), min64(3, 5))
	assert.Equal(t, int64(3), min64(5, 3))
	assert.Equal(t, int64(-1), min64(-1, 0))
}

// testDB skips unless a real database is configured; the matching engine
// runs entirely inside a transaction and has no seam to mock around.
func testDB(t *testing.T) *db.Store {
	t.Helper()
	dsn := os.Getenv("EXCHANGE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("EXCHANGE_TEST_DATABASE_URL not set, skipping integration test")
	}
	store, err := db.Open(dsn)
	require.NoError(t, err)
	require.NoError(t, store.Migrate("../../migrations"))
	t.Cleanup(func() { store.Close() })
	return store
}

func seedUser(t *testing.T, store *db.Store, cash int64) string {
	t.Helper()
	ctx := context.Background()
	u, err := db.CreateUser(ctx, store.DB, uuid.NewString(), "trader", uuid.NewString(), model.RoleUser)
	require.NoError(t, err)
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Credit(ctx, tx, u.ID, model.CashAsset, cash))
	require.NoError(t, tx.Commit())
	return u.ID
}

func restingOrder(t *testing.T, store *db.Store, userID, ticker string, side model.Side, otype model.OrderType, qty int64, price *int64) *model.Order {
	t.Helper()
	ctx := context.Background()
	o := &model.Order{
		ID: uuid.NewString(), UserID: userID, Type: otype, Side: side, Ticker: ticker,
		Qty: qty, Price: price, Status: model.StatusNew, CreatedAt: time.Now().UTC(),
	}
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	if side == model.SideSell {
		require.NoError(t, db.Reserve(ctx, tx, userID, ticker, qty))
	} else if otype == model.TypeLimit {
		require.NoError(t, db.Reserve(ctx, tx, userID, model.CashAsset, qty*(*price)))
	}
	require.NoError(t, db.InsertOrder(ctx, tx, o))
	require.NoError(t, tx.Commit())
	return o
}

func price(p int64) *int64 { return &p }

func creditAsset(t *testing.T, store *db.Store, userID, asset string, amount int64) {
	t.Helper()
	ctx := context.Background()
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Credit(ctx, tx, userID, asset, amount))
	require.NoError(t, tx.Commit())
}

// TestRunPriceTimePriority mirrors spec.md §8 scenario 2: two equal-priced
// resting asks, the earlier one must fill first.
func TestRunPriceTimePriority(t *testing.T) {
	store := testDB(t)
	ctx := context.Background()
	require.NoError(t, db.CreateInstrument(ctx, store.DB, "BTC", "Bitcoin"))

	seller1 := seedUser(t, store, 0)
	creditAsset(t, store, seller1, "BTC", 5)
	a1 := restingOrder(t, store, seller1, "BTC", model.SideSell, model.TypeLimit, 5, price(100))

	seller2 := seedUser(t, store, 0)
	creditAsset(t, store, seller2, "BTC", 5)
	time.Sleep(2 * time.Millisecond) // ensure a2.created_at > a1.created_at
	restingOrder(t, store, seller2, "BTC", model.SideSell, model.TypeLimit, 5, price(100))

	buyer := seedUser(t, store, 100000)
	taker := &model.Order{
		ID: uuid.NewString(), UserID: buyer, Type: model.TypeLimit, Side: model.SideBuy,
		Ticker: "BTC", Qty: 7, Price: price(100), Status: model.StatusNew, CreatedAt: time.Now().UTC(),
	}
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Reserve(ctx, tx, buyer, model.CashAsset, 700))
	require.NoError(t, db.InsertOrder(ctx, tx, taker))

	res, err := Run(ctx, tx, taker)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.Len(t, res.Trades, 2)
	assert.Equal(t, int64(5), res.Trades[0].Qty)
	assert.Equal(t, int64(2), res.Trades[1].Qty)

	a1After, err := db.GetOrder(ctx, store.DB, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExecuted, a1After.Status)
}

// TestRunPriceImprovementRefund mirrors spec.md §8 scenario 3.
func TestRunPriceImprovementRefund(t *testing.T) {
	store := testDB(t)
	ctx := context.Background()
	require.NoError(t, db.CreateInstrument(ctx, store.DB, "BTC", "Bitcoin"))

	seller := seedUser(t, store, 0)
	creditAsset(t, store, seller, "BTC", 10)
	restingOrder(t, store, seller, "BTC", model.SideSell, model.TypeLimit, 10, price(90))

	buyer := seedUser(t, store, 100000)
	taker := &model.Order{
		ID: uuid.NewString(), UserID: buyer, Type: model.TypeLimit, Side: model.SideBuy,
		Ticker: "BTC", Qty: 10, Price: price(100), Status: model.StatusNew, CreatedAt: time.Now().UTC(),
	}
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Reserve(ctx, tx, buyer, model.CashAsset, 1000))
	require.NoError(t, db.InsertOrder(ctx, tx, taker))

	res, err := Run(ctx, tx, taker)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.Len(t, res.Trades, 1)
	assert.Equal(t, int64(90), res.Trades[0].Price)

	bal, err := db.GetBalance(ctx, store.DB, buyer, model.CashAsset)
	require.NoError(t, err)
	// Started with 100000, reserved 1000, refunded (100-90)*10=100 on the fill.
	assert.Equal(t, int64(100000-1000+100), bal)
}

// TestRunTwoMarketOrdersNeverTrade mirrors spec.md §8 scenario 6.
func TestRunTwoMarketOrdersNeverTrade(t *testing.T) {
	store := testDB(t)
	ctx := context.Background()
	require.NoError(t, db.CreateInstrument(ctx, store.DB, "BTC", "Bitcoin"))

	// A resting MARKET order only exists transiently inside its own
	// transaction in the real controller; here we insert one directly to
	// exercise the matching engine's defensive guard in isolation.
	restingUser := seedUser(t, store, 0)
	tx0, err := store.BeginTx(ctx)
	require.NoError(t, err)
	resting := &model.Order{
		ID: uuid.NewString(), UserID: restingUser, Type: model.TypeMarket, Side: model.SideBuy,
		Ticker: "BTC", Qty: 1, Status: model.StatusNew, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, db.InsertOrder(ctx, tx0, resting))
	require.NoError(t, tx0.Commit())

	seller := seedUser(t, store, 0)
	creditAsset(t, store, seller, "BTC", 1)
	taker := &model.Order{
		ID: uuid.NewString(), UserID: seller, Type: model.TypeMarket, Side: model.SideSell,
		Ticker: "BTC", Qty: 1, Status: model.StatusNew, CreatedAt: time.Now().UTC(),
	}
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Reserve(ctx, tx, seller, "BTC", 1))
	require.NoError(t, db.InsertOrder(ctx, tx, taker))

	res, err := Run(ctx, tx, taker)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Empty(t, res.Trades)
	assert.Equal(t, int64(0), taker.Filled)
}
