package instrument

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle status of an instrument.
type Status int8

const (
	Active Status = iota
	Expired
)

func (s Status) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case Expired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

var (
	one = decimal.NewFromInt(1)
)

// Instrument is the metadata for one tradable outcome token. Created by the
// external market generator; immutable except for the Active→Expired
// transition at settlement.
type Instrument struct {
	// TokenID identifies the outcome token this book trades.
	TokenID string

	// PairedTokenID is the complementary outcome token of the same market.
	// Exactly one of the pair pays out 1 per unit at expiry.
	PairedTokenID string

	// TickSize is the smallest price increment. Prices are quoted in (0,1)
	// exclusive as outcome probabilities.
	TickSize decimal.Decimal

	// NegRisk mirrors the upstream exchange protocol flag. Always false here.
	NegRisk bool

	Expiry time.Time
	Status Status
}

// ValidatePrice checks that p lies strictly inside (0,1) and is aligned to
// the tick size. Violations reject the order before it reaches the book.
func (i *Instrument) ValidatePrice(p decimal.Decimal) error {
	if !p.IsPositive() || p.GreaterThanOrEqual(one) {
		return fmt.Errorf("price %s outside (0,1)", p)
	}
	if !p.Mod(i.TickSize).IsZero() {
		return fmt.Errorf("price %s not a multiple of tick size %s", p, i.TickSize)
	}
	return nil
}

// Due reports whether the instrument's expiry timestamp has been reached.
func (i *Instrument) Due(now time.Time) bool {
	return !now.Before(i.Expiry)
}
