package db

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wager-exchange/internal/apperr"
	"wager-exchange/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("EXCHANGE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("EXCHANGE_TEST_DATABASE_URL not set, skipping integration test")
	}
	store, err := Open(dsn)
	require.NoError(t, err)
	require.NoError(t, store.Migrate("../../migrations"))
	t.Cleanup(func() { store.Close() })
	return store
}

func testUser(t *testing.T, store *Store) string {
	t.Helper()
	u, err := CreateUser(context.Background(), store.DB, uuid.NewString(), "tester", uuid.NewString(), model.RoleUser)
	require.NoError(t, err)
	return u.ID
}

func TestGetBalanceDefaultsToZeroWithoutMaterializing(t *testing.T) {
	store := testStore(t)
	uid := testUser(t, store)

	bal, err := GetBalance(context.Background(), store.DB, uid, "BTC")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)

	bals, err := ListBalances(context.Background(), store.DB, uid)
	require.NoError(t, err)
	assert.Empty(t, bals)
}

func TestCreditThenReserveRoundTrips(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	uid := testUser(t, store)

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, Credit(ctx, tx, uid, "BTC", 10))
	require.NoError(t, Reserve(ctx, tx, uid, "BTC", 4))
	require.NoError(t, tx.Commit())

	bal, err := GetBalance(ctx, store.DB, uid, "BTC")
	require.NoError(t, err)
	assert.Equal(t, int64(6), bal)
}

func TestReserveFailsInsufficientFunds(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	uid := testUser(t, store)

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	err = Reserve(ctx, tx, uid, model.CashAsset, 100)
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.InsufficientFunds, e.Kind)
}

func TestRefundIsAnAliasOfCredit(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	uid := testUser(t, store)

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, Refund(ctx, tx, uid, model.CashAsset, 50))
	require.NoError(t, tx.Commit())

	bal, err := GetBalance(ctx, store.DB, uid, model.CashAsset)
	require.NoError(t, err)
	assert.Equal(t, int64(50), bal)
}

func TestListBalancesReturnsEveryAsset(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	uid := testUser(t, store)

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, Credit(ctx, tx, uid, model.CashAsset, 100))
	require.NoError(t, Credit(ctx, tx, uid, "BTC", 2))
	require.NoError(t, tx.Commit())

	bals, err := ListBalances(ctx, store.DB, uid)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{model.CashAsset: 100, "BTC": 2}, bals)
}
