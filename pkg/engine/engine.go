// Package engine implements the virtual matching engine: order lifecycle,
// price-time matching, balance accounting, and settlement at expiry.
//
// All mutating operations for one instrument are serialized through that
// instrument's critical section; operations on different instruments run in
// parallel. No operation ever holds two instrument sections at once.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/papermarket/engine/params"
	"github.com/papermarket/engine/pkg/engine/book"
	"github.com/papermarket/engine/pkg/engine/instrument"
	"github.com/papermarket/engine/pkg/engine/ledger"
	"github.com/papermarket/engine/pkg/engine/order"
	"github.com/papermarket/engine/pkg/engine/store"
	"github.com/papermarket/engine/pkg/util"
)

// instState is everything the engine owns for one instrument. Reachable only
// through the semaphore, never through ambient globals.
type instState struct {
	sem    chan struct{} // capacity 1: the instrument's critical section
	book   *book.Book
	orders map[uuid.UUID]*order.Order // every accepted order, incl. terminal
	trades []*order.Trade             // append-only
}

type Engine struct {
	cfg    params.Engine
	log    *zap.Logger
	reg    *instrument.Registry
	ledger *ledger.Ledger
	store  *store.Store // optional; nil disables persistence
	clock  util.Clock

	mu         sync.RWMutex
	states     map[string]*instState
	orderIndex map[uuid.UUID]string // order ID -> token ID
}

func New(cfg params.Engine, reg *instrument.Registry, led *ledger.Ledger, st *store.Store, clock util.Clock, log *zap.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		log:        log,
		reg:        reg,
		ledger:     led,
		store:      st,
		clock:      clock,
		states:     make(map[string]*instState),
		orderIndex: make(map[uuid.UUID]string),
	}
}

// Ledger exposes account views to the serving layer.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// FeeRateBps returns the fixed taker fee in basis points.
func (e *Engine) FeeRateBps() int64 {
	return e.cfg.TakerFeeBps
}

// state returns the instrument's state, creating it lazily. Fails if the
// token is not registered.
func (e *Engine) state(tokenID string) (*instState, error) {
	if !e.reg.Exists(tokenID) {
		return nil, fmt.Errorf("%w: %s", ErrInstrumentNotFound, tokenID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[tokenID]
	if !ok {
		st = &instState{
			sem:    make(chan struct{}, 1),
			book:   book.New(),
			orders: make(map[uuid.UUID]*order.Order),
		}
		e.states[tokenID] = st
	}
	return st, nil
}

// acquire takes the instrument's critical section with a bounded wait.
// Returns ErrBusy past the configured timeout so callers can retry with
// backoff instead of blocking indefinitely.
func (e *Engine) acquire(ctx context.Context, tokenID string) (*instState, func(), error) {
	st, err := e.state(tokenID)
	if err != nil {
		return nil, nil, err
	}

	select {
	case st.sem <- struct{}{}:
		return st, func() { <-st.sem }, nil
	case <-e.clock.After(e.cfg.LockWait):
		return nil, nil, fmt.Errorf("%w: %s", ErrBusy, tokenID)
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// record registers an order with the instrument state and the global index.
// Caller holds the instrument's critical section.
func (e *Engine) record(st *instState, tokenID string, o *order.Order) {
	st.orders[o.ID] = o
	e.mu.Lock()
	e.orderIndex[o.ID] = tokenID
	e.mu.Unlock()
}

func (e *Engine) lookupToken(orderID uuid.UUID) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tokenID, ok := e.orderIndex[orderID]
	return tokenID, ok
}

// BookSnapshot is the aggregate view of one instrument's book.
type BookSnapshot struct {
	TokenID   string          `json:"tokenId"`
	Bids      []book.Level    `json:"bids"`
	Asks      []book.Level    `json:"asks"`
	TickSize  decimal.Decimal `json:"tickSize"`
	Timestamp int64           `json:"timestamp"`
}

// Snapshot returns the current book depth for an instrument.
func (e *Engine) Snapshot(ctx context.Context, tokenID string) (*BookSnapshot, error) {
	inst, err := e.reg.Get(tokenID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInstrumentNotFound, tokenID)
	}

	st, release, err := e.acquire(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	defer release()

	return &BookSnapshot{
		TokenID:   tokenID,
		Bids:      st.book.Depth(order.Buy),
		Asks:      st.book.Depth(order.Sell),
		TickSize:  inst.TickSize,
		Timestamp: e.clock.Now().UnixMilli(),
	}, nil
}

// TickSize returns the instrument's minimum price increment.
func (e *Engine) TickSize(tokenID string) (decimal.Decimal, error) {
	inst, err := e.reg.Get(tokenID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInstrumentNotFound, tokenID)
	}
	return inst.TickSize, nil
}

// NegRisk returns the instrument's neg-risk flag (always false in this
// system, mirrored from the upstream protocol for API compatibility).
func (e *Engine) NegRisk(tokenID string) (bool, error) {
	inst, err := e.reg.Get(tokenID)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrInstrumentNotFound, tokenID)
	}
	return inst.NegRisk, nil
}

// OrderView is a copy of an order safe to hand to callers.
type OrderView struct {
	ID        uuid.UUID       `json:"id"`
	Owner     common.Address  `json:"owner"`
	TokenID   string          `json:"tokenId"`
	Side      order.Side      `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Filled    decimal.Decimal `json:"filled"`
	Type      order.Type      `json:"type"`
	State     order.State     `json:"state"`
	CreatedAt int64           `json:"createdAt"`
	TradeIDs  []uuid.UUID     `json:"tradeIds,omitempty"`
}

func viewOf(o *order.Order, tokenID string) OrderView {
	tradeIDs := make([]uuid.UUID, len(o.TradeIDs))
	copy(tradeIDs, o.TradeIDs)
	return OrderView{
		ID:        o.ID,
		Owner:     o.Owner,
		TokenID:   tokenID,
		Side:      o.Side,
		Price:     o.Price,
		Size:      o.Size,
		Filled:    o.Filled,
		Type:      o.Type,
		State:     o.State,
		CreatedAt: o.CreatedAt,
		TradeIDs:  tradeIDs,
	}
}

// GetOrder returns the current state of an order.
func (e *Engine) GetOrder(ctx context.Context, orderID uuid.UUID) (*OrderView, error) {
	tokenID, ok := e.lookupToken(orderID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	st, release, err := e.acquire(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	defer release()

	o, ok := st.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	v := viewOf(o, tokenID)
	return &v, nil
}

// OpenOrders lists an owner's LIVE and PARTIALLY_FILLED orders, optionally
// restricted to one instrument. Instruments whose critical section is busy
// are skipped rather than blocking the listing.
func (e *Engine) OpenOrders(ctx context.Context, owner common.Address, tokenID string) ([]OrderView, error) {
	tokens := e.tokensFor(tokenID)

	var out []OrderView
	for _, token := range tokens {
		st, release, err := e.acquire(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			e.log.Warn("open_orders_skip", zap.String("token", token), zap.Error(err))
			continue
		}
		for _, o := range st.orders {
			if o.Owner == owner && o.Cancelable() {
				out = append(out, viewOf(o, token))
			}
		}
		release()
	}
	return out, nil
}

// Trades returns the trade history for an instrument, oldest first, filtered
// to the [from, to] millisecond range when the bounds are non-zero.
func (e *Engine) Trades(ctx context.Context, tokenID string, from, to int64) ([]order.Trade, error) {
	st, release, err := e.acquire(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	defer release()

	// With persistence on, the journal is authoritative: it holds every saved
	// trade, including those from before a restart.
	if e.store != nil {
		saved, err := e.store.Trades(tokenID, from, to, 0)
		if err != nil {
			return nil, err
		}
		out := make([]order.Trade, 0, len(saved))
		for _, t := range saved {
			out = append(out, *t)
		}
		return out, nil
	}

	var out []order.Trade
	for _, t := range st.trades {
		if from > 0 && t.Timestamp < from {
			continue
		}
		if to > 0 && t.Timestamp > to {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

// tokensFor resolves a token filter: empty means every instrument that has
// engine state.
func (e *Engine) tokensFor(tokenID string) []string {
	if tokenID != "" {
		return []string{tokenID}
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	tokens := make([]string, 0, len(e.states))
	for token := range e.states {
		tokens = append(tokens, token)
	}
	return tokens
}
