// Package ledger is the authoritative source of every owner's virtual cash
// and per-token positions. Orders reserve funds up front (cash for buys,
// position units for sells) so that applying a fill can never fail or drive
// a balance negative.
package ledger

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/papermarket/engine/pkg/engine/order"
)

// Position tracks holdings of one outcome token.
type Position struct {
	Size decimal.Decimal `json:"size"` // units held, never negative
	Held decimal.Decimal `json:"held"` // units reserved by open SELL orders
}

// Available returns the units not reserved by open orders.
func (p *Position) Available() decimal.Decimal {
	return p.Size.Sub(p.Held)
}

// Account is created on first interaction with the configured starting
// balance and never deleted.
type Account struct {
	Owner      common.Address       `json:"owner"`
	Cash       decimal.Decimal      `json:"cash"`
	HeldCash   decimal.Decimal      `json:"heldCash"` // reserved by open BUY orders
	Positions  map[string]*Position `json:"positions"`
	FeesPaid   decimal.Decimal      `json:"feesPaid"`
	TradeCount int64                `json:"tradeCount"`
}

// AvailableCash returns cash not reserved by open orders.
func (a *Account) AvailableCash() decimal.Decimal {
	return a.Cash.Sub(a.HeldCash)
}

func (a *Account) position(tokenID string) *Position {
	pos, ok := a.Positions[tokenID]
	if !ok {
		pos = &Position{}
		a.Positions[tokenID] = pos
	}
	return pos
}

// Ledger manages all accounts behind one mutex. Engine operations hold an
// instrument's critical section before touching the ledger and the ledger
// never acquires instrument locks, so the lock order is acyclic.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[common.Address]*Account
	starting decimal.Decimal
	log      *zap.Logger
}

func New(startingBalance decimal.Decimal, log *zap.Logger) *Ledger {
	return &Ledger{
		accounts: make(map[common.Address]*Account),
		starting: startingBalance,
		log:      log,
	}
}

// account returns the owner's account, creating it with the starting balance
// on first touch. Assumes l.mu is held.
func (l *Ledger) account(owner common.Address) *Account {
	acc, ok := l.accounts[owner]
	if !ok {
		acc = &Account{
			Owner:     owner,
			Cash:      l.starting,
			Positions: make(map[string]*Position),
		}
		l.accounts[owner] = acc
		l.log.Info("account_created",
			zap.String("owner", owner.Hex()),
			zap.String("balance", l.starting.String()))
	}
	return acc
}

// HoldCash reserves cash for an open BUY order. Fails without side effects if
// the available balance is insufficient.
func (l *Ledger) HoldCash(owner common.Address, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.account(owner)
	if acc.AvailableCash().LessThan(amount) {
		return fmt.Errorf("insufficient balance: have %s, need %s",
			acc.AvailableCash(), amount)
	}
	acc.HeldCash = acc.HeldCash.Add(amount)
	return nil
}

// ReleaseCash returns reserved cash when an order is canceled, expired, or
// its unfilled remainder discarded.
func (l *Ledger) ReleaseCash(owner common.Address, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.account(owner)
	if acc.HeldCash.LessThan(amount) {
		l.log.Error("cash_hold_underflow",
			zap.String("owner", owner.Hex()),
			zap.String("held", acc.HeldCash.String()),
			zap.String("release", amount.String()))
		amount = acc.HeldCash
	}
	acc.HeldCash = acc.HeldCash.Sub(amount)
}

// HoldPosition reserves token units for an open SELL order. SELL size is
// limited to the unreserved position; short selling is not supported.
func (l *Ledger) HoldPosition(owner common.Address, tokenID string, qty decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.account(owner)
	pos := acc.position(tokenID)
	if pos.Available().LessThan(qty) {
		return fmt.Errorf("insufficient position in %s: have %s, need %s",
			tokenID, pos.Available(), qty)
	}
	pos.Held = pos.Held.Add(qty)
	return nil
}

// ReleasePosition returns reserved token units.
func (l *Ledger) ReleasePosition(owner common.Address, tokenID string, qty decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.account(owner)
	pos := acc.position(tokenID)
	if pos.Held.LessThan(qty) {
		l.log.Error("position_hold_underflow",
			zap.String("owner", owner.Hex()),
			zap.String("token", tokenID),
			zap.String("held", pos.Held.String()),
			zap.String("release", qty.String()))
		qty = pos.Held
	}
	pos.Held = pos.Held.Sub(qty)
}

// ApplyTrade moves cash and position between the two parties of a trade.
// buyerHoldRelease is the portion of the buyer's cash reservation consumed by
// this fill; buyerFee/sellerFee is the taker fee of whichever party took
// (zero for the maker). Reservations made at order acceptance guarantee this
// cannot fail, which keeps match+ledger a single atomic unit.
func (l *Ledger) ApplyTrade(t *order.Trade, buyerHoldRelease, buyerFee, sellerFee decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	buyer, seller := t.Taker, t.Maker
	if t.TakerSide == order.Sell {
		buyer, seller = t.Maker, t.Taker
	}
	notional := t.Notional()

	b := l.account(buyer)
	b.HeldCash = b.HeldCash.Sub(decimal.Min(buyerHoldRelease, b.HeldCash))
	b.Cash = b.Cash.Sub(notional).Sub(buyerFee)
	b.FeesPaid = b.FeesPaid.Add(buyerFee)
	b.position(t.TokenID).Size = b.position(t.TokenID).Size.Add(t.Size)
	b.TradeCount++

	s := l.account(seller)
	pos := s.position(t.TokenID)
	pos.Size = pos.Size.Sub(t.Size)
	pos.Held = pos.Held.Sub(decimal.Min(t.Size, pos.Held))
	s.Cash = s.Cash.Add(notional).Sub(sellerFee)
	s.FeesPaid = s.FeesPaid.Add(sellerFee)
	s.TradeCount++
}

// SettlementCredit reports one account's payout from instrument settlement.
type SettlementCredit struct {
	Owner  common.Address
	Units  decimal.Decimal
	Payout decimal.Decimal
}

// SettleToken resolves every position in tokenID: winners receive 1 unit of
// cash per token held, losers receive nothing. Positions (and any leftover
// holds, which settlement has already released by canceling orders) are
// zeroed, so re-running is a no-op.
func (l *Ledger) SettleToken(tokenID string, won bool) []SettlementCredit {
	l.mu.Lock()
	defer l.mu.Unlock()

	var credits []SettlementCredit
	for owner, acc := range l.accounts {
		pos, ok := acc.Positions[tokenID]
		if !ok || pos.Size.IsZero() {
			continue
		}
		payout := decimal.Zero
		if won {
			payout = pos.Size
			acc.Cash = acc.Cash.Add(payout)
		}
		credits = append(credits, SettlementCredit{Owner: owner, Units: pos.Size, Payout: payout})
		pos.Size = decimal.Zero
		pos.Held = decimal.Zero
	}
	return credits
}

// Restore seeds accounts from persisted snapshots at startup. Holds are not
// carried over: open orders do not survive a restart, so every reservation
// they backed is void.
func (l *Ledger) Restore(views []View) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, v := range views {
		acc := &Account{
			Owner:      v.Owner,
			Cash:       v.Cash,
			Positions:  make(map[string]*Position, len(v.Positions)),
			FeesPaid:   v.FeesPaid,
			TradeCount: v.TradeCount,
		}
		for token, pos := range v.Positions {
			acc.Positions[token] = &Position{Size: pos.Size}
		}
		l.accounts[v.Owner] = acc
		l.log.Info("account_restored",
			zap.String("owner", v.Owner.Hex()),
			zap.String("cash", v.Cash.String()))
	}
}

// View is a copy of an account safe to hand to callers.
type View struct {
	Owner      common.Address      `json:"owner"`
	Cash       decimal.Decimal     `json:"cash"`
	HeldCash   decimal.Decimal     `json:"heldCash"`
	Positions  map[string]Position `json:"positions"`
	FeesPaid   decimal.Decimal     `json:"feesPaid"`
	TradeCount int64               `json:"tradeCount"`
}

// Snapshot returns a copy of the owner's account, creating it first if this
// is the owner's first interaction.
func (l *Ledger) Snapshot(owner common.Address) View {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.account(owner)
	return viewOf(acc)
}

// Snapshots returns copies of all accounts, for persistence after settlement.
func (l *Ledger) Snapshots() []View {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]View, 0, len(l.accounts))
	for _, acc := range l.accounts {
		out = append(out, viewOf(acc))
	}
	return out
}

func viewOf(acc *Account) View {
	positions := make(map[string]Position, len(acc.Positions))
	for token, pos := range acc.Positions {
		positions[token] = *pos
	}
	return View{
		Owner:      acc.Owner,
		Cash:       acc.Cash,
		HeldCash:   acc.HeldCash,
		Positions:  positions,
		FeesPaid:   acc.FeesPaid,
		TradeCount: acc.TradeCount,
	}
}
