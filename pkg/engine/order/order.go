// Package order defines the order and trade types shared by the book,
// ledger, and matching engine.
package order

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func ParseSide(v string) (Side, error) {
	switch v {
	case "BUY", "buy":
		return Buy, nil
	case "SELL", "sell":
		return Sell, nil
	}
	return 0, fmt.Errorf("invalid side %q", v)
}

// Type is the time-in-force of an order. The set is closed: matching policy
// is selected once at intake, never via dynamic dispatch.
type Type int8

const (
	GTC Type = iota // rest unmatched remainder on the book
	FOK             // fill entirely and immediately, or not at all
	FAK             // fill what crosses, discard the remainder
)

func (t Type) String() string {
	switch t {
	case GTC:
		return "GTC"
	case FOK:
		return "FOK"
	case FAK:
		return "FAK"
	default:
		return "UNKNOWN"
	}
}

func ParseType(v string) (Type, error) {
	switch v {
	case "GTC":
		return GTC, nil
	case "FOK":
		return FOK, nil
	case "FAK", "IOC":
		return FAK, nil
	}
	return 0, fmt.Errorf("invalid order type %q", v)
}

// State is the lifecycle state of an order. It is a pure function of the
// order's fill history and cancellation/expiry events.
type State int8

const (
	Live State = iota
	PartiallyFilled
	Matched
	Canceled
	Expired
)

func (s State) String() string {
	switch s {
	case Live:
		return "LIVE"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case Matched:
		return "MATCHED"
	case Canceled:
		return "CANCELED"
	case Expired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == Matched || s == Canceled || s == Expired
}

// Order is owned by the engine once accepted; it is mutated only while the
// owning instrument's critical section is held.
type Order struct {
	ID      uuid.UUID       `json:"id"`
	Owner   common.Address  `json:"owner"`
	TokenID string          `json:"tokenId"`
	Side    Side            `json:"side"`
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
	Filled  decimal.Decimal `json:"filled"`
	Type    Type            `json:"type"`
	State   State           `json:"state"`

	// CreatedAt is Unix milliseconds; it also provides time priority within
	// a price level together with book arrival order.
	CreatedAt int64 `json:"createdAt"`

	TradeIDs []uuid.UUID `json:"tradeIds,omitempty"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Size.Sub(o.Filled)
}

// Cancelable reports whether the order can still be pulled from the book.
func (o *Order) Cancelable() bool {
	return o.State == Live || o.State == PartiallyFilled
}

// Trade records a single match between a maker and a taker. Append-only.
type Trade struct {
	ID           uuid.UUID       `json:"id"`
	TokenID      string          `json:"tokenId"`
	MakerOrderID uuid.UUID       `json:"makerOrderId"`
	TakerOrderID uuid.UUID       `json:"takerOrderId"`
	Maker        common.Address  `json:"maker"`
	Taker        common.Address  `json:"taker"`
	TakerSide    Side            `json:"takerSide"`
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
	Timestamp    int64           `json:"timestamp"`
}

// Notional returns price × size.
func (t *Trade) Notional() decimal.Decimal {
	return t.Price.Mul(t.Size)
}
