package settle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/papermarket/engine/params"
	"github.com/papermarket/engine/pkg/engine"
	"github.com/papermarket/engine/pkg/engine/instrument"
	"github.com/papermarket/engine/pkg/engine/ledger"
	"github.com/papermarket/engine/pkg/engine/order"
	"github.com/papermarket/engine/pkg/util"
)

var alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// tickClock is a util.Clock whose After channel fires when the test says so.
type tickClock struct {
	ticks chan time.Time
}

func (c *tickClock) After(time.Duration) <-chan time.Time { return c.ticks }
func (c *tickClock) Now() time.Time                       { return time.Now() }

type fixture struct {
	eng *engine.Engine
	reg *instrument.Registry
	led *ledger.Ledger
}

func newFixture(t *testing.T, expiry time.Time) *fixture {
	t.Helper()

	cfg := params.Default().Engine
	reg := instrument.NewRegistry()
	require.NoError(t, reg.Register(&instrument.Instrument{
		TokenID:       "UP",
		PairedTokenID: "DOWN",
		TickSize:      d("0.001"),
		Expiry:        expiry,
	}))
	require.NoError(t, reg.Register(&instrument.Instrument{
		TokenID:       "DOWN",
		PairedTokenID: "UP",
		TickSize:      d("0.001"),
		Expiry:        expiry,
	}))

	led := ledger.New(cfg.StartingBalance, zap.NewNop())
	eng := engine.New(cfg, reg, led, nil, util.RealClock{}, zap.NewNop())
	return &fixture{eng: eng, reg: reg, led: led}
}

func TestSweepSettlesDueInstruments(t *testing.T) {
	fx := newFixture(t, time.Now().Add(-time.Minute))
	ctx := context.Background()

	// A resting bid that settlement must expire.
	res, err := fx.eng.PlaceOrder(ctx, engine.PlaceRequest{
		Owner: alice, TokenID: "UP", Side: order.Buy,
		Price: d("0.400"), Size: d("5"), Type: order.GTC,
	})
	require.NoError(t, err)

	resolver := ResolverFunc(func(inst *instrument.Instrument) (string, error) {
		return "UP", nil
	})
	s := NewScheduler(fx.eng, fx.reg, resolver, util.RealClock{}, time.Second, zap.NewNop())

	s.Sweep(ctx)

	for _, token := range []string{"UP", "DOWN"} {
		inst, err := fx.reg.Get(token)
		require.NoError(t, err)
		require.Equal(t, instrument.Expired, inst.Status)
	}

	view, err := fx.eng.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	require.Equal(t, order.Expired, view.State)
	require.True(t, fx.led.Snapshot(alice).HeldCash.IsZero())

	// A second sweep finds nothing due.
	s.Sweep(ctx)
}

func TestSweepSkipsUndueInstruments(t *testing.T) {
	fx := newFixture(t, time.Now().Add(time.Hour))

	called := false
	resolver := ResolverFunc(func(inst *instrument.Instrument) (string, error) {
		called = true
		return inst.TokenID, nil
	})
	s := NewScheduler(fx.eng, fx.reg, resolver, util.RealClock{}, time.Second, zap.NewNop())

	s.Sweep(context.Background())

	require.False(t, called, "resolver untouched before expiry")
	inst, err := fx.reg.Get("UP")
	require.NoError(t, err)
	require.Equal(t, instrument.Active, inst.Status)
}

func TestSweepRetriesAfterResolverFailure(t *testing.T) {
	fx := newFixture(t, time.Now().Add(-time.Minute))
	ctx := context.Background()

	attempts := 0
	resolver := ResolverFunc(func(inst *instrument.Instrument) (string, error) {
		attempts++
		if attempts <= 2 {
			return "", errors.New("oracle unavailable")
		}
		return inst.TokenID, nil
	})
	s := NewScheduler(fx.eng, fx.reg, resolver, util.RealClock{}, time.Second, zap.NewNop())

	// First sweep fails on both instruments, leaving them active.
	s.Sweep(ctx)
	inst, err := fx.reg.Get("UP")
	require.NoError(t, err)
	require.Equal(t, instrument.Active, inst.Status)

	// Next sweep succeeds.
	s.Sweep(ctx)
	for _, token := range []string{"UP", "DOWN"} {
		inst, err := fx.reg.Get(token)
		require.NoError(t, err)
		require.Equal(t, instrument.Expired, inst.Status)
	}
}

func TestPairResolverDecidesEachPairOnce(t *testing.T) {
	fx := newFixture(t, time.Now().Add(-time.Minute))
	ctx := context.Background()

	// Alice holds both sides of the pair, credited by fixture trades against
	// an issuer account.
	issuer := common.HexToAddress("0x1000000000000000000000000000000000000000")
	for _, token := range []string{"UP", "DOWN"} {
		fx.led.ApplyTrade(&order.Trade{
			ID:        uuid.New(),
			TokenID:   token,
			Maker:     issuer,
			Taker:     alice,
			TakerSide: order.Buy,
			Price:     d("0.5"),
			Size:      d("10"),
		}, decimal.Zero, decimal.Zero, decimal.Zero)
	}
	cashBefore := fx.led.Snapshot(alice).Cash

	// Each token would claim itself if the oracle were asked per token. The
	// pair resolver must draw once and give the paired token the same answer.
	draws := 0
	resolver := NewPairResolver(func(inst *instrument.Instrument) string {
		draws++
		return inst.TokenID
	})
	s := NewScheduler(fx.eng, fx.reg, resolver, util.RealClock{}, time.Second, zap.NewNop())

	s.Sweep(ctx)

	require.Equal(t, 1, draws, "one draw per market pair")
	for _, token := range []string{"UP", "DOWN"} {
		inst, err := fx.reg.Get(token)
		require.NoError(t, err)
		require.Equal(t, instrument.Expired, inst.Status)
	}

	// Exactly one side pays out: 10 units at 1 each, never 20.
	gain := fx.led.Snapshot(alice).Cash.Sub(cashBefore)
	require.True(t, gain.Equal(d("10")), "payout for one winning side, got %s", gain)
}

func TestRunSweepsOnClockTicks(t *testing.T) {
	fx := newFixture(t, time.Now().Add(-time.Minute))

	clock := &tickClock{ticks: make(chan time.Time)}
	settled := make(chan struct{}, 1)
	resolver := ResolverFunc(func(inst *instrument.Instrument) (string, error) {
		select {
		case settled <- struct{}{}:
		default:
		}
		return inst.TokenID, nil
	})
	s := NewScheduler(fx.eng, fx.reg, resolver, clock, time.Second, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	clock.ticks <- time.Now()
	select {
	case <-settled:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep never ran")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
