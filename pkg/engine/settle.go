package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/papermarket/engine/pkg/engine/instrument"
	"github.com/papermarket/engine/pkg/engine/order"
)

// Settle resolves an expired instrument against the winning outcome token:
// every resting order transitions to EXPIRED (distinct from user-initiated
// CANCELED), every position pays out 1 per unit if tokenID won and 0
// otherwise, and the instrument becomes EXPIRED.
//
// Runs exactly once per instrument. Re-running on an already-EXPIRED
// instrument, or running before expiry, is an invariant violation that is
// logged and treated as a no-op rather than an error.
func (e *Engine) Settle(ctx context.Context, tokenID, winnerTokenID string) error {
	inst, err := e.reg.Get(tokenID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInstrumentNotFound, tokenID)
	}

	st, release, err := e.acquire(ctx, tokenID)
	if err != nil {
		return err
	}
	defer release()

	// Checked under the critical section: a concurrent settlement has
	// either finished (status flipped) or is still waiting behind us.
	if inst.Status == instrument.Expired {
		e.log.Warn("settlement_repeated", zap.String("token", tokenID))
		return nil
	}
	if !inst.Due(e.clock.Now()) {
		e.log.Warn("settlement_before_expiry",
			zap.String("token", tokenID),
			zap.Time("expiry", inst.Expiry))
		return nil
	}

	// Expire resting orders first so every reservation is released before
	// positions are paid out.
	expired := 0
	for _, o := range st.orders {
		if !o.Cancelable() {
			continue
		}
		st.book.Remove(o.ID)
		e.releaseRemainder(o)
		o.State = order.Expired
		expired++
	}

	credits := e.ledger.SettleToken(tokenID, tokenID == winnerTokenID)
	if err := e.reg.MarkExpired(tokenID); err != nil {
		e.log.Error("settlement_mark_failed", zap.String("token", tokenID), zap.Error(err))
	}

	if e.store != nil {
		for _, c := range credits {
			if err := e.store.SaveAccount(e.ledger.Snapshot(c.Owner)); err != nil {
				e.log.Error("settlement_persist_failed",
					zap.String("owner", c.Owner.Hex()),
					zap.Error(err))
			}
		}
	}

	e.log.Info("instrument_settled",
		zap.String("token", tokenID),
		zap.String("winner", winnerTokenID),
		zap.Int("expired_orders", expired),
		zap.Int("credited_accounts", len(credits)))
	return nil
}
