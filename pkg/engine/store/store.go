// Package store provides pebble-backed persistence for the trade journal and
// account snapshots. The engine treats it as best-effort: a write failure is
// logged, never propagated into matching.
package store

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/papermarket/engine/pkg/engine/ledger"
	"github.com/papermarket/engine/pkg/engine/order"
)

type Store struct {
	db *pebble.DB
}

// Open opens (or creates) a pebble database at the given path.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20),
		MemTableSize: 32 << 20,
		MaxOpenFiles: 1000,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveTrade appends a trade to the journal. Trades are immutable so NoSync is
// acceptable; settlement forces a sync via SaveAccount.
func (s *Store) SaveTrade(t *order.Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}
	if err := s.db.Set(tradeKey(t.TokenID, t.Timestamp, t.ID.String()), data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// Trades loads the trade journal for a token, oldest first, filtered to the
// [from, to] millisecond range when the bounds are non-zero.
func (s *Store) Trades(tokenID string, from, to int64, limit int) ([]*order.Trade, error) {
	prefix := tradePrefix(tokenID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open trade iterator: %w", err)
	}
	defer iter.Close()

	var trades []*order.Trade
	for iter.First(); iter.Valid(); iter.Next() {
		var t order.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			continue // skip corrupt entries
		}
		if from > 0 && t.Timestamp < from {
			continue
		}
		if to > 0 && t.Timestamp > to {
			break
		}
		trades = append(trades, &t)
		if limit > 0 && len(trades) >= limit {
			break
		}
	}
	return trades, nil
}

// SaveAccount persists an account snapshot.
func (s *Store) SaveAccount(v ledger.View) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	if err := s.db.Set(accountKey(v.Owner), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// Accounts loads every persisted account snapshot, for ledger recovery at
// startup.
func (s *Store) Accounts() ([]ledger.View, error) {
	prefix := accountPrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open account iterator: %w", err)
	}
	defer iter.Close()

	var views []ledger.View
	for iter.First(); iter.Valid(); iter.Next() {
		var v ledger.View
		if err := json.Unmarshal(iter.Value(), &v); err != nil {
			continue // skip corrupt entries
		}
		views = append(views, v)
	}
	return views, nil
}

// LoadAccount loads an account snapshot. Returns nil if absent.
func (s *Store) LoadAccount(owner common.Address) (*ledger.View, error) {
	data, closer, err := s.db.Get(accountKey(owner))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	defer closer.Close()

	var v ledger.View
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	return &v, nil
}
