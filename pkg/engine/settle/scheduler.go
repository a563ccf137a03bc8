// Package settle drives instrument settlement: a clock-driven sweep that
// finds instruments past expiry, asks the outcome resolver who won, and
// hands the result to the engine.
package settle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papermarket/engine/pkg/engine"
	"github.com/papermarket/engine/pkg/engine/instrument"
	"github.com/papermarket/engine/pkg/util"
)

// Resolver reports the winning outcome token for an expired instrument.
// The actual oracle lives outside the engine.
type Resolver interface {
	Resolve(inst *instrument.Instrument) (winnerTokenID string, err error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(inst *instrument.Instrument) (string, error)

func (f ResolverFunc) Resolve(inst *instrument.Instrument) (string, error) {
	return f(inst)
}

// PairResolver decides each market pair exactly once. Both tokens of a pair
// are swept independently, so an oracle that answered them with separate
// draws could declare two winners for one market and pay out both sides; the
// first token to resolve fixes the winner and the paired token receives the
// same answer.
type PairResolver struct {
	mu      sync.Mutex
	winners map[string]string // pair key -> winning token ID
	draw    func(inst *instrument.Instrument) string
}

func NewPairResolver(draw func(inst *instrument.Instrument) string) *PairResolver {
	return &PairResolver{
		winners: make(map[string]string),
		draw:    draw,
	}
}

func (r *PairResolver) Resolve(inst *instrument.Instrument) (string, error) {
	key := pairKey(inst.TokenID, inst.PairedTokenID)

	r.mu.Lock()
	defer r.mu.Unlock()

	winner, ok := r.winners[key]
	if !ok {
		winner = r.draw(inst)
		r.winners[key] = winner
	}
	return winner, nil
}

// pairKey canonicalizes a token pair so both tokens map to the same entry.
func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

type Scheduler struct {
	eng      *engine.Engine
	reg      *instrument.Registry
	resolver Resolver
	clock    util.Clock
	interval time.Duration
	log      *zap.Logger
}

func NewScheduler(eng *engine.Engine, reg *instrument.Registry, resolver Resolver, clock util.Clock, interval time.Duration, log *zap.Logger) *Scheduler {
	return &Scheduler{
		eng:      eng,
		reg:      reg,
		resolver: resolver,
		clock:    clock,
		interval: interval,
		log:      log,
	}
}

// Run sweeps periodically until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("settlement_scheduler_started",
		zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("settlement_scheduler_stopped")
			return
		case <-s.clock.After(s.interval):
			s.Sweep(ctx)
		}
	}
}

// Sweep settles every instrument whose expiry has passed. Exported so tests
// and operators can drive settlement without the timer. A resolver failure
// leaves the instrument for the next sweep.
func (s *Scheduler) Sweep(ctx context.Context) {
	for _, tokenID := range s.reg.Due(s.clock.Now()) {
		inst, err := s.reg.Get(tokenID)
		if err != nil {
			continue
		}

		winner, err := s.resolver.Resolve(inst)
		if err != nil {
			s.log.Error("outcome_resolution_failed",
				zap.String("token", tokenID),
				zap.Error(err))
			continue
		}

		err = engine.WithRetry(ctx, func() error {
			return s.eng.Settle(ctx, tokenID, winner)
		})
		if err != nil {
			s.log.Error("settlement_failed",
				zap.String("token", tokenID),
				zap.Error(err))
		}
	}
}
