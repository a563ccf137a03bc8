// Package book implements the per-instrument limit order book: price levels
// ordered by priority with strict FIFO queues inside each level.
//
// The book is not internally locked. All mutations happen while the engine
// holds the owning instrument's critical section, which also rules out torn
// reads of a level mid-match.
package book

import (
	"github.com/google/btree"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/papermarket/engine/pkg/engine/order"
)

// Level is the aggregate view of one price level, derived from the resting
// orders' remaining quantities.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// Fill is one match produced by Uncross. The taker is implicit.
type Fill struct {
	Maker *order.Order
	Price decimal.Decimal
	Size  decimal.Decimal
}

type level struct {
	price decimal.Decimal
	side  order.Side
	queue []*order.Order // FIFO, oldest first
}

// Book keeps each side as a btree of price levels. The btree's less function
// orders levels best-price-first, so Min() is the top of book and Ascend
// walks levels in matching priority.
type Book struct {
	bids  *btree.BTreeG[*level]
	asks  *btree.BTreeG[*level]
	index map[uuid.UUID]*level // order ID -> level, for O(log n) removal
}

func New() *Book {
	return &Book{
		bids: btree.NewG(8, func(a, b *level) bool {
			return a.price.GreaterThan(b.price) // highest bid first
		}),
		asks: btree.NewG(8, func(a, b *level) bool {
			return a.price.LessThan(b.price) // lowest ask first
		}),
		index: make(map[uuid.UUID]*level),
	}
}

func (b *Book) tree(s order.Side) *btree.BTreeG[*level] {
	if s == order.Buy {
		return b.bids
	}
	return b.asks
}

// Insert rests an order on its side of the book. The caller guarantees the
// order has remaining quantity and is in a restable state.
func (b *Book) Insert(o *order.Order) {
	t := b.tree(o.Side)
	key := &level{price: o.Price, side: o.Side}
	lvl, ok := t.Get(key)
	if !ok {
		lvl = key
		t.ReplaceOrInsert(lvl)
	}
	lvl.queue = append(lvl.queue, o)
	b.index[o.ID] = lvl
}

// Remove takes an order off the book. Level aggregates update atomically with
// the removal because they are derived from the queue itself.
func (b *Book) Remove(id uuid.UUID) (*order.Order, bool) {
	lvl, ok := b.index[id]
	if !ok {
		return nil, false
	}
	for i, o := range lvl.queue {
		if o.ID == id {
			lvl.queue = append(lvl.queue[:i], lvl.queue[i+1:]...)
			delete(b.index, id)
			if len(lvl.queue) == 0 {
				b.tree(lvl.side).Delete(lvl)
			}
			return o, true
		}
	}
	return nil, false
}

// Contains reports whether an order is resting on the book.
func (b *Book) Contains(id uuid.UUID) bool {
	_, ok := b.index[id]
	return ok
}

// BestBid returns the highest bid price.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	lvl, ok := b.bids.Min()
	if !ok {
		return decimal.Zero, false
	}
	return lvl.price, true
}

// BestAsk returns the lowest ask price.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	lvl, ok := b.asks.Min()
	if !ok {
		return decimal.Zero, false
	}
	return lvl.price, true
}

// Depth returns the aggregated levels of one side, best price first.
func (b *Book) Depth(s order.Side) []Level {
	var out []Level
	b.tree(s).Ascend(func(lvl *level) bool {
		size := decimal.Zero
		for _, o := range lvl.queue {
			size = size.Add(o.Remaining())
		}
		out = append(out, Level{Price: lvl.price, Size: size})
		return true
	})
	return out
}

// crosses reports whether a taker at limit price can trade against an
// opposing level: buy price >= ask, sell price <= bid.
func crosses(taker *order.Order, levelPrice decimal.Decimal) bool {
	if taker.Side == order.Buy {
		return taker.Price.GreaterThanOrEqual(levelPrice)
	}
	return taker.Price.LessThanOrEqual(levelPrice)
}

// Matchable returns the total quantity the taker could fill right now,
// honoring the self-trade skip. Used to pre-simulate FOK orders without
// mutating the book.
func (b *Book) Matchable(taker *order.Order, skipSelf bool) decimal.Decimal {
	total := decimal.Zero
	want := taker.Remaining()
	b.tree(taker.Side.Opposite()).Ascend(func(lvl *level) bool {
		if !crosses(taker, lvl.price) {
			return false
		}
		for _, maker := range lvl.queue {
			if skipSelf && maker.Owner == taker.Owner {
				continue
			}
			total = total.Add(maker.Remaining())
			if total.GreaterThanOrEqual(want) {
				return false
			}
		}
		return true
	})
	return decimal.Min(total, want)
}

// SelfCross reports whether the taker would meet one of its owner's own
// resting orders at a crossing price. Used by the reject policy before any
// mutation happens.
func (b *Book) SelfCross(taker *order.Order) bool {
	found := false
	b.tree(taker.Side.Opposite()).Ascend(func(lvl *level) bool {
		if !crosses(taker, lvl.price) {
			return false
		}
		for _, maker := range lvl.queue {
			if maker.Owner == taker.Owner {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

// Uncross matches the taker against the opposite side by price-time priority.
// Each fill executes at the maker's resting price. Maker and taker filled
// quantities are advanced and fully filled makers are removed from the book;
// the caller owns every other side effect (ledger, states, trade records).
func (b *Book) Uncross(taker *order.Order, skipSelf bool) []Fill {
	opp := b.tree(taker.Side.Opposite())

	// Materialize crossing levels first: mutating the btree during Ascend is
	// not allowed.
	var candidates []*level
	opp.Ascend(func(lvl *level) bool {
		if !crosses(taker, lvl.price) {
			return false
		}
		candidates = append(candidates, lvl)
		return true
	})

	var fills []Fill
	for _, lvl := range candidates {
		if taker.Remaining().IsZero() {
			break
		}
		i := 0
		for i < len(lvl.queue) && !taker.Remaining().IsZero() {
			maker := lvl.queue[i]
			if skipSelf && maker.Owner == taker.Owner {
				i++
				continue
			}
			qty := decimal.Min(taker.Remaining(), maker.Remaining())
			maker.Filled = maker.Filled.Add(qty)
			taker.Filled = taker.Filled.Add(qty)
			fills = append(fills, Fill{Maker: maker, Price: lvl.price, Size: qty})
			if maker.Remaining().IsZero() {
				lvl.queue = append(lvl.queue[:i], lvl.queue[i+1:]...)
				delete(b.index, maker.ID)
			} else {
				i++
			}
		}
		if len(lvl.queue) == 0 {
			opp.Delete(lvl)
		}
	}
	return fills
}

// Len returns the number of resting orders.
func (b *Book) Len() int {
	return len(b.index)
}
