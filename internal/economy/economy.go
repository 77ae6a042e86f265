// Package economy tracks per-user cash and position accounting: fund
// locking for buy-side liquidity, trade-time settlement, and deposits.
// Every monetary quantity is an exact decimal (github.com/shopspring/decimal)
// with two fractional digits; engine prices stay integer cents and convert
// to dollars only at this boundary.
package economy

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"fenrir/internal/common"
)

var centsPerDollar = decimal.NewFromInt(100)

// CentsToDollars converts an integer-cent price to an exact dollar amount.
func CentsToDollars(cents int32) decimal.Decimal {
	return decimal.NewFromInt32(cents).Div(centsPerDollar)
}

// Account is one user's cash and position ledger.
type Account struct {
	UserID    common.UserID
	Available decimal.Decimal
	Locked    decimal.Decimal
	Portfolio map[common.MarketID]int64
}

func newAccount(id common.UserID) *Account {
	return &Account{
		UserID:    id,
		Available: decimal.Zero,
		Locked:    decimal.Zero,
		Portfolio: make(map[common.MarketID]int64),
	}
}

func lessUserID(a, b common.UserID) bool { return a < b }

// Manager is the per-user account store.
type Manager struct {
	accounts map[common.UserID]*Account
	// index backs deterministic enumeration for Accounts()/the auditor,
	// since Go map iteration order is randomized.
	index *btree.BTreeG[common.UserID]

	// totalDeposited is the cumulative mint counter spec.md §4.5/§8 asks
	// the economy boundary to provide so cash conservation (P2) can be
	// checked against something external to the account map itself.
	totalDeposited decimal.Decimal
}

// New creates an empty economy manager.
func New() *Manager {
	return &Manager{
		accounts: make(map[common.UserID]*Account),
		index:    btree.NewBTreeG(lessUserID),
	}
}

// Account returns (creating if necessary) the account for id.
func (m *Manager) Account(id common.UserID) *Account {
	acc, ok := m.accounts[id]
	if !ok {
		acc = newAccount(id)
		m.accounts[id] = acc
		m.index.Set(id)
	}
	return acc
}

// Accounts returns every account in deterministic UserID order.
func (m *Manager) Accounts() []*Account {
	out := make([]*Account, 0, len(m.accounts))
	m.index.Scan(func(id common.UserID) bool {
		out = append(out, m.accounts[id])
		return true
	})
	return out
}

// TotalDeposited is the cumulative mint counter backing P2.
func (m *Manager) TotalDeposited() decimal.Decimal {
	return m.totalDeposited
}

// SetTotalDeposited overwrites the cumulative mint counter directly. Used
// only by persistence restore, which reconstructs the counter from a dump
// rather than replaying every historical deposit.
func (m *Manager) SetTotalDeposited(amount decimal.Decimal) {
	m.totalDeposited = amount
}

// AttemptOrderLock locks price*qty dollars from a buyer's available
// balance into locked, atomically, only if sufficient funds exist. Only
// buyers lock cash; sellers lock nothing (short-selling is implicit via a
// negative portfolio position).
func (m *Manager) AttemptOrderLock(id common.UserID, price decimal.Decimal, qty int64) bool {
	acc := m.Account(id)
	cost := price.Mul(decimal.NewFromInt(qty))

	if acc.Available.LessThan(cost) {
		return false
	}
	acc.Available = acc.Available.Sub(cost)
	acc.Locked = acc.Locked.Add(cost)
	return true
}

// ReleaseOrderLock moves amount*qty dollars from locked back to available,
// clamped so locked never goes negative. Used both to refund a cancelled
// order's remaining quantity and, with qty=1, to refund an explicit lump
// sum (a price-improvement refund).
func (m *Manager) ReleaseOrderLock(id common.UserID, amount decimal.Decimal, qty int64) {
	acc := m.Account(id)
	cost := amount.Mul(decimal.NewFromInt(qty))

	if cost.GreaterThan(acc.Locked) {
		log.Error().
			Uint64("userID", uint64(id)).
			Str("requested", cost.String()).
			Str("locked", acc.Locked.String()).
			Msg("release_order_lock exceeds locked balance, clamping")
		cost = acc.Locked
	}
	acc.Locked = acc.Locked.Sub(cost)
	acc.Available = acc.Available.Add(cost)
}

// ConfirmTrade applies one trade's cash and position effects: the buyer's
// locked funds are spent and their portfolio increases; the seller is paid
// into available and their portfolio decreases.
func (m *Manager) ConfirmTrade(buyer, seller common.UserID, marketID common.MarketID, price decimal.Decimal, qty int64) {
	cost := price.Mul(decimal.NewFromInt(qty))

	buyerAcc := m.Account(buyer)
	if cost.GreaterThan(buyerAcc.Locked) {
		log.Error().
			Uint64("userID", uint64(buyer)).
			Str("cost", cost.String()).
			Str("locked", buyerAcc.Locked.String()).
			Msg("confirm_trade: buyer locked balance underflow, clamping")
		buyerAcc.Locked = decimal.Zero
	} else {
		buyerAcc.Locked = buyerAcc.Locked.Sub(cost)
	}
	buyerAcc.Portfolio[marketID] += qty

	sellerAcc := m.Account(seller)
	sellerAcc.Available = sellerAcc.Available.Add(cost)
	sellerAcc.Portfolio[marketID] -= qty
}

// ConfirmSettlement applies one settlement trade's cash effect. Unlike
// ConfirmTrade, one side of tr is always common.SystemUserID, which never
// owns cash: cash moves only into or out of the real user's available
// balance (no lock to debit, no lock required), keyed off which role the
// real user occupies. A long user paid by SYSTEM (buyer role) is credited;
// a user paying SYSTEM (seller role) is debited. The settled position is
// zeroed, mirroring the book's own positions map.
func (m *Manager) ConfirmSettlement(tr common.Trade) {
	amount := CentsToDollars(tr.Price).Mul(decimal.NewFromInt(int64(tr.Qty)))

	if tr.BuyUserID != common.SystemUserID {
		acc := m.Account(tr.BuyUserID)
		acc.Available = acc.Available.Add(amount)
		acc.Portfolio[tr.MarketID] = 0
	}
	if tr.SellUserID != common.SystemUserID {
		acc := m.Account(tr.SellUserID)
		acc.Available = acc.Available.Sub(amount)
		acc.Portfolio[tr.MarketID] = 0
	}
}

// Deposit credits a pure mint to a user's available balance and records it
// against the cumulative deposit counter P2 is checked against.
func (m *Manager) Deposit(id common.UserID, amount decimal.Decimal) {
	acc := m.Account(id)
	acc.Available = acc.Available.Add(amount)
	m.totalDeposited = m.totalDeposited.Add(amount)
}

// Balance is the external-facing view of one account (spec.md §6).
type Balance struct {
	Available decimal.Decimal
	Locked    decimal.Decimal
	Positions map[common.MarketID]int64
}

// BalanceOf returns the external balance view for id.
func (m *Manager) BalanceOf(id common.UserID) Balance {
	acc := m.Account(id)
	positions := make(map[common.MarketID]int64, len(acc.Portfolio))
	for k, v := range acc.Portfolio {
		positions[k] = v
	}
	return Balance{Available: acc.Available, Locked: acc.Locked, Positions: positions}
}
