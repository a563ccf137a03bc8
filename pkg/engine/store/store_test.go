package store

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/papermarket/engine/pkg/engine/ledger"
	"github.com/papermarket/engine/pkg/engine/order"
)

var (
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir() + "/store.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testTrade(tokenID string, ts int64) *order.Trade {
	return &order.Trade{
		ID:           uuid.New(),
		TokenID:      tokenID,
		MakerOrderID: uuid.New(),
		TakerOrderID: uuid.New(),
		TakerSide:    order.Buy,
		Price:        decimal.RequireFromString("0.45"),
		Size:         decimal.RequireFromString("10"),
		Timestamp:    ts,
	}
}

func TestTradeJournalRoundTrip(t *testing.T) {
	s := newTestStore(t)

	// Written out of order; the key layout must bring them back sorted.
	for _, ts := range []int64{3000, 1000, 2000} {
		require.NoError(t, s.SaveTrade(testTrade("UP", ts)))
	}
	require.NoError(t, s.SaveTrade(testTrade("DOWN", 1500)))

	trades, err := s.Trades("UP", 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	require.Equal(t, int64(1000), trades[0].Timestamp)
	require.Equal(t, int64(2000), trades[1].Timestamp)
	require.Equal(t, int64(3000), trades[2].Timestamp)

	// Range and limit filters.
	trades, err = s.Trades("UP", 1500, 2500, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, int64(2000), trades[0].Timestamp)

	trades, err = s.Trades("UP", 0, 0, 2)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	trades, err = s.Trades("MISSING", 0, 0, 0)
	require.NoError(t, err)
	require.Empty(t, trades)
}

func TestAccountRoundTrip(t *testing.T) {
	s := newTestStore(t)

	missing, err := s.LoadAccount(alice)
	require.NoError(t, err)
	require.Nil(t, missing)

	view := ledger.View{
		Owner:    alice,
		Cash:     decimal.RequireFromString("9995.5"),
		HeldCash: decimal.RequireFromString("4.008"),
		Positions: map[string]ledger.Position{
			"UP": {Size: decimal.RequireFromString("10"), Held: decimal.Zero},
		},
		FeesPaid:   decimal.RequireFromString("0.008"),
		TradeCount: 2,
	}
	require.NoError(t, s.SaveAccount(view))

	loaded, err := s.LoadAccount(alice)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, alice, loaded.Owner)
	require.True(t, loaded.Cash.Equal(view.Cash))
	require.True(t, loaded.Positions["UP"].Size.Equal(decimal.RequireFromString("10")))
	require.Equal(t, int64(2), loaded.TradeCount)
}

func TestAccountsScan(t *testing.T) {
	s := newTestStore(t)

	views, err := s.Accounts()
	require.NoError(t, err)
	require.Empty(t, views)

	for _, owner := range []common.Address{alice, bob} {
		require.NoError(t, s.SaveAccount(ledger.View{
			Owner:     owner,
			Cash:      decimal.RequireFromString("10000"),
			Positions: map[string]ledger.Position{},
		}))
	}
	// Trades must not leak into the account scan.
	require.NoError(t, s.SaveTrade(testTrade("UP", 1000)))

	views, err = s.Accounts()
	require.NoError(t, err)
	require.Len(t, views, 2)
	owners := map[common.Address]bool{}
	for _, v := range views {
		owners[v.Owner] = true
		require.True(t, v.Cash.Equal(decimal.RequireFromString("10000")))
	}
	require.True(t, owners[alice])
	require.True(t, owners[bob])
}
