package instrument

import (
	"fmt"
	"sync"
	"time"
)

// Registry holds all known instruments in a thread-safe manner. It is the
// leaf dependency of the matching engine and the settlement scheduler.
type Registry struct {
	mu          sync.RWMutex
	instruments map[string]*Instrument // token ID -> instrument
}

func NewRegistry() *Registry {
	return &Registry{
		instruments: make(map[string]*Instrument),
	}
}

// Register adds an instrument to the registry.
// Returns an error if the token ID is already registered.
func (r *Registry) Register(inst *Instrument) error {
	if inst == nil {
		return fmt.Errorf("cannot register nil instrument")
	}
	if inst.TokenID == "" {
		return fmt.Errorf("cannot register instrument without token ID")
	}
	if !inst.TickSize.IsPositive() {
		return fmt.Errorf("instrument %s: tick size must be positive", inst.TokenID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instruments[inst.TokenID]; exists {
		return fmt.Errorf("instrument %s already registered", inst.TokenID)
	}

	r.instruments[inst.TokenID] = inst
	return nil
}

// Get retrieves an instrument by token ID.
func (r *Registry) Get(tokenID string) (*Instrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, exists := r.instruments[tokenID]
	if !exists {
		return nil, fmt.Errorf("instrument %s not found", tokenID)
	}
	return inst, nil
}

// Exists checks whether a token ID is registered.
func (r *Registry) Exists(tokenID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.instruments[tokenID]
	return exists
}

// List returns all registered instruments.
func (r *Registry) List() []*Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Instrument, 0, len(r.instruments))
	for _, inst := range r.instruments {
		out = append(out, inst)
	}
	return out
}

// Due returns the token IDs of ACTIVE instruments whose expiry has passed.
// The settlement scheduler drains these.
func (r *Registry) Due(now time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var due []string
	for id, inst := range r.instruments {
		if inst.Status == Active && inst.Due(now) {
			due = append(due, id)
		}
	}
	return due
}

// MarkExpired transitions an instrument ACTIVE→EXPIRED. Expired is terminal;
// marking an already expired instrument is an error so settlement can detect
// double runs.
func (r *Registry) MarkExpired(tokenID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, exists := r.instruments[tokenID]
	if !exists {
		return fmt.Errorf("instrument %s not found", tokenID)
	}
	if inst.Status == Expired {
		return fmt.Errorf("instrument %s already expired", tokenID)
	}
	inst.Status = Expired
	return nil
}

// Count returns the number of registered instruments.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instruments)
}
