package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/papermarket/engine/params"
	"github.com/papermarket/engine/pkg/engine/book"
	"github.com/papermarket/engine/pkg/engine/instrument"
	"github.com/papermarket/engine/pkg/engine/order"
)

var one = decimal.NewFromInt(1)

// PlaceRequest is an already-authenticated, already-signature-verified order
// submission.
type PlaceRequest struct {
	Owner   common.Address
	TokenID string
	Side    order.Side
	Price   decimal.Decimal
	Size    decimal.Decimal
	Type    order.Type
}

// PlaceResult reports the outcome of an accepted order. Validation failures
// return an error instead and persist nothing.
type PlaceResult struct {
	OrderID  uuid.UUID
	Status   order.State
	Filled   decimal.Decimal
	Trades   []order.Trade
	ErrorMsg string
}

// PlaceOrder runs the full intake pipeline: validate, reserve funds, match,
// update the ledger, and record the order. Everything between acquiring the
// instrument's critical section and returning is one atomic unit.
func (e *Engine) PlaceOrder(ctx context.Context, req PlaceRequest) (*PlaceResult, error) {
	inst, err := e.reg.Get(req.TokenID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInstrumentNotFound, req.TokenID)
	}
	if err := inst.ValidatePrice(req.Price); err != nil {
		return nil, validationf(err.Error())
	}
	if req.Size.LessThan(e.cfg.MinOrderSize) {
		return nil, validationf(fmt.Sprintf("size %s below minimum %s", req.Size, e.cfg.MinOrderSize))
	}

	st, release, err := e.acquire(ctx, req.TokenID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Status may have flipped while we waited: settlement holds the same
	// critical section.
	if inst.Status != instrument.Active {
		return nil, validationf(fmt.Sprintf("instrument %s is %s", req.TokenID, inst.Status))
	}

	o := &order.Order{
		ID:        uuid.New(),
		Owner:     req.Owner,
		TokenID:   req.TokenID,
		Side:      req.Side,
		Price:     req.Price,
		Size:      req.Size,
		Filled:    decimal.Zero,
		Type:      req.Type,
		State:     order.Live,
		CreatedAt: e.clock.Now().UnixMilli(),
	}

	// Reserve worst-case funds before anything touches the book, so fills
	// can never fail or overdraw.
	if err := e.holdFor(o); err != nil {
		return nil, validationf(err.Error())
	}

	skipSelf := e.cfg.SelfTrade == params.SelfTradeSkip
	if !skipSelf && st.book.SelfCross(o) {
		e.releaseRemainder(o)
		return nil, validationf("order would self-trade")
	}

	// FOK: simulate the full match first; reject without touching the book
	// if the crossing liquidity cannot cover the entire size.
	if o.Type == order.FOK && st.book.Matchable(o, skipSelf).LessThan(o.Size) {
		e.releaseRemainder(o)
		o.State = order.Canceled
		e.record(st, req.TokenID, o)
		e.log.Info("order_killed",
			zap.String("order", o.ID.String()),
			zap.String("token", req.TokenID))
		return &PlaceResult{
			OrderID:  o.ID,
			Status:   o.State,
			Filled:   decimal.Zero,
			ErrorMsg: "fill-or-kill: insufficient crossing liquidity",
		}, nil
	}

	fills := st.book.Uncross(o, skipSelf)
	trades := e.applyFills(st, o, fills)

	switch {
	case o.Remaining().IsZero():
		o.State = order.Matched
	case o.Type == order.GTC:
		if len(fills) > 0 {
			o.State = order.PartiallyFilled
		}
		st.book.Insert(o)
	default:
		// FAK: discard the unfilled remainder. (A FOK order that reaches
		// here always filled fully, per the pre-simulation above.)
		e.releaseRemainder(o)
		o.State = order.Canceled
	}
	e.record(st, req.TokenID, o)

	e.log.Info("order_placed",
		zap.String("order", o.ID.String()),
		zap.String("owner", o.Owner.Hex()),
		zap.String("token", o.TokenID),
		zap.String("side", o.Side.String()),
		zap.String("type", o.Type.String()),
		zap.String("price", o.Price.String()),
		zap.String("size", o.Size.String()),
		zap.String("state", o.State.String()),
		zap.Int("fills", len(fills)))

	return &PlaceResult{
		OrderID: o.ID,
		Status:  o.State,
		Filled:  o.Filled,
		Trades:  trades,
	}, nil
}

// holdFor reserves the order's worst-case cost: cash for buys (notional plus
// the taker fee, taken from cost at fill time), position units for sells.
func (e *Engine) holdFor(o *order.Order) error {
	if o.Side == order.Buy {
		hold := o.Size.Mul(o.Price).Mul(one.Add(e.cfg.TakerFeeRate()))
		return e.ledger.HoldCash(o.Owner, hold)
	}
	return e.ledger.HoldPosition(o.Owner, o.TokenID, o.Size)
}

// releaseRemainder returns the reservation backing an order's unfilled
// quantity. Used on cancel, expiry, FOK kill, and FAK remainder discard.
func (e *Engine) releaseRemainder(o *order.Order) {
	remaining := o.Remaining()
	if remaining.IsZero() {
		return
	}
	if o.Side == order.Buy {
		e.ledger.ReleaseCash(o.Owner, remaining.Mul(o.Price).Mul(one.Add(e.cfg.TakerFeeRate())))
	} else {
		e.ledger.ReleasePosition(o.Owner, o.TokenID, remaining)
	}
}

// applyFills turns book fills into trade records, applies them to the
// ledger, and advances maker states. Caller holds the instrument's critical
// section; the reservations guarantee none of this can fail.
func (e *Engine) applyFills(st *instState, taker *order.Order, fills []book.Fill) []order.Trade {
	feeRate := e.cfg.TakerFeeRate()
	now := e.clock.Now().UnixMilli()

	trades := make([]order.Trade, 0, len(fills))
	for _, f := range fills {
		t := &order.Trade{
			ID:           uuid.New(),
			TokenID:      taker.TokenID,
			MakerOrderID: f.Maker.ID,
			TakerOrderID: taker.ID,
			Maker:        f.Maker.Owner,
			Taker:        taker.Owner,
			TakerSide:    taker.Side,
			Price:        f.Price,
			Size:         f.Size,
			Timestamp:    now,
		}

		// The taker pays the fee, whichever side it is on. The buyer's cash
		// reservation is consumed at the buy order's own limit price, which
		// is the price it was reserved at.
		takerFee := t.Notional().Mul(feeRate)
		buyerFee, sellerFee := decimal.Zero, decimal.Zero
		buyOrder := f.Maker
		if taker.Side == order.Buy {
			buyOrder = taker
			buyerFee = takerFee
		} else {
			sellerFee = takerFee
		}
		buyerHoldRelease := f.Size.Mul(buyOrder.Price).Mul(one.Add(feeRate))
		e.ledger.ApplyTrade(t, buyerHoldRelease, buyerFee, sellerFee)

		f.Maker.TradeIDs = append(f.Maker.TradeIDs, t.ID)
		taker.TradeIDs = append(taker.TradeIDs, t.ID)
		if f.Maker.Remaining().IsZero() {
			f.Maker.State = order.Matched
		} else {
			f.Maker.State = order.PartiallyFilled
		}

		st.trades = append(st.trades, t)
		if e.store != nil {
			if err := e.store.SaveTrade(t); err != nil {
				e.log.Error("trade_persist_failed",
					zap.String("trade", t.ID.String()),
					zap.Error(err))
			}
		}
		trades = append(trades, *t)
	}
	return trades
}
