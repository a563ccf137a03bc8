package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papermarket/engine/pkg/engine/order"
)

// CancelResult reports per-order outcomes. A cancel that raced a terminal
// state lands in NotCanceled with its reason; it is never an error.
type CancelResult struct {
	Canceled    []uuid.UUID          `json:"canceled"`
	NotCanceled map[uuid.UUID]string `json:"notCanceled,omitempty"`

	// BusyTokens lists instruments whose critical section could not be
	// acquired during a cancel-all; orders there were left untouched and
	// the caller may retry.
	BusyTokens []string `json:"busyTokens,omitempty"`
}

func newCancelResult() *CancelResult {
	return &CancelResult{
		NotCanceled: make(map[uuid.UUID]string),
	}
}

// Cancel cancels a single order by ID. Unknown IDs return ErrOrderNotFound;
// an already-terminal order is reported as not canceled.
func (e *Engine) Cancel(ctx context.Context, owner common.Address, orderID uuid.UUID) (*CancelResult, error) {
	tokenID, ok := e.lookupToken(orderID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	st, release, err := e.acquire(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	defer release()

	res := newCancelResult()
	e.cancelLocked(st, owner, orderID, res)
	return res, nil
}

// CancelAll cancels every cancelable order of an owner, optionally filtered
// to one instrument. Each order is canceled independently: failures are
// reported per order and never abort the batch.
func (e *Engine) CancelAll(ctx context.Context, owner common.Address, tokenID string) (*CancelResult, error) {
	res := newCancelResult()
	for _, token := range e.tokensFor(tokenID) {
		st, release, err := e.acquire(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			res.BusyTokens = append(res.BusyTokens, token)
			e.log.Warn("cancel_all_busy", zap.String("token", token), zap.Error(err))
			continue
		}
		for id, o := range st.orders {
			if o.Owner == owner && o.Cancelable() {
				e.cancelLocked(st, owner, id, res)
			}
		}
		release()
	}
	return res, nil
}

// cancelLocked performs one cancellation. Caller holds the instrument's
// critical section, so a fill cannot race the state check.
func (e *Engine) cancelLocked(st *instState, owner common.Address, orderID uuid.UUID, res *CancelResult) {
	o, ok := st.orders[orderID]
	if !ok {
		res.NotCanceled[orderID] = "order not found"
		return
	}
	if o.Owner != owner {
		res.NotCanceled[orderID] = "order not owned by caller"
		return
	}
	if !o.Cancelable() {
		res.NotCanceled[orderID] = "already " + o.State.String()
		return
	}

	st.book.Remove(o.ID)
	e.releaseRemainder(o)
	o.State = order.Canceled
	res.Canceled = append(res.Canceled, orderID)

	e.log.Info("order_canceled",
		zap.String("order", orderID.String()),
		zap.String("owner", owner.Hex()))
}
