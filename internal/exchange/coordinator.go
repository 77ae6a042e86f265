// Package exchange provides the Coordinator: the thin orchestrator that
// sequences fund locking, matching, trade confirmation, price-improvement
// refunds, and auditing for a single place/cancel/settle call. It is the
// one consistency domain spec.md §5 describes: every write passes through
// Coordinator.mu, serializing the engine, economy, and auditor into a
// single-writer, cooperative system.
package exchange

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"fenrir/internal/audit"
	"fenrir/internal/book"
	"fenrir/internal/common"
	"fenrir/internal/economy"
	"fenrir/internal/engine"
)

// Coordinator owns no state of its own beyond its lock and halted flag; it
// references the engine, economy, and auditor it orchestrates.
type Coordinator struct {
	mu      sync.Mutex
	engine  *engine.Engine
	economy *economy.Manager
	auditor *audit.Auditor

	// halted is set once and never cleared: an AuditFailure is a
	// kill-switch condition per spec.md §7, not recoverable in-core.
	halted bool
}

// ErrHalted is returned by every write method once a prior audit failure
// has halted the coordinator. It wraps common.ErrAuditFailure so callers
// checking errors.Is(err, common.ErrAuditFailure) still match.
var ErrHalted = fmt.Errorf("%w: coordinator halted by a prior audit failure", common.ErrAuditFailure)

// New wires a coordinator over an engine, economy manager, and auditor.
func New(e *engine.Engine, m *economy.Manager, a *audit.Auditor) *Coordinator {
	return &Coordinator{engine: e, economy: m, auditor: a}
}

// PlaceResult is returned by PlaceOrder.
type PlaceResult struct {
	Trades      []common.Trade
	RefundCents int64
}

// PlaceOrder runs the atomic place-order workflow of spec.md §4.6: lock
// funds (buy side only) → ensure market → match → confirm each trade →
// refund any price improvement → audit. On any engine-level rejection, a
// buyer's speculative lock is refunded before the error is returned.
func (c *Coordinator) PlaceOrder(marketID common.MarketID, side common.Side, limitPriceCents int32, qty int64, orderID common.OrderID, userID common.UserID) (PlaceResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.halted {
		return PlaceResult{}, ErrHalted
	}

	limitPrice := economy.CentsToDollars(limitPriceCents)

	if side == common.Buy {
		if !c.economy.AttemptOrderLock(userID, limitPrice, qty) {
			return PlaceResult{}, common.ErrInsufficientFunds
		}
	}

	trades, err := c.engine.ProcessOrder(marketID, side, limitPriceCents, qty, orderID, userID)
	if err != nil {
		if side == common.Buy {
			c.economy.ReleaseOrderLock(userID, limitPrice, qty)
		}
		log.Error().Err(err).Int64("orderID", int64(orderID)).Msg("place_order rejected")
		return PlaceResult{}, err
	}

	var totalFilled int64
	totalPaid := decimal.Zero

	for _, tr := range trades {
		price := economy.CentsToDollars(tr.Price)
		c.economy.ConfirmTrade(tr.BuyUserID, tr.SellUserID, marketID, price, int64(tr.Qty))

		if tr.BuyUserID == userID {
			totalFilled += int64(tr.Qty)
			totalPaid = totalPaid.Add(price.Mul(decimal.NewFromInt(int64(tr.Qty))))
		}
	}

	var refundCents int64
	if side == common.Buy && totalFilled > 0 {
		totalLockedForFilled := limitPrice.Mul(decimal.NewFromInt(totalFilled))
		refund := totalLockedForFilled.Sub(totalPaid)
		if refund.IsPositive() {
			c.economy.ReleaseOrderLock(userID, refund, 1)
			refundCents = refund.Mul(decimal.NewFromInt(100)).IntPart()
		}
	}

	if err := c.auditor.RunFullAudit(); err != nil {
		c.halted = true
		log.Error().Err(err).Msg("audit failure after place_order, halting writes")
		return PlaceResult{}, err
	}

	log.Debug().
		Int64("orderID", int64(orderID)).
		Str("side", side.String()).
		Int("trades", len(trades)).
		Msg("place_order complete")

	return PlaceResult{Trades: trades, RefundCents: refundCents}, nil
}

// CancelOrder runs the cancel workflow: cancel in the engine, and if the
// cancelled order was a buy, refund its remaining locked quantity.
func (c *Coordinator) CancelOrder(orderID common.OrderID) (book.OrderMetadata, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.halted {
		return book.OrderMetadata{}, false, ErrHalted
	}

	meta, ok := c.engine.CancelOrder(orderID)
	if !ok {
		return book.OrderMetadata{}, false, nil
	}

	if meta.Side == common.Buy {
		c.economy.ReleaseOrderLock(meta.UserID, economy.CentsToDollars(meta.Price), meta.Quantity)
	}

	if err := c.auditor.RunFullAudit(); err != nil {
		c.halted = true
		log.Error().Err(err).Msg("audit failure after cancel_order, halting writes")
		return meta, true, err
	}

	log.Debug().Int64("orderID", int64(orderID)).Msg("cancel_order complete")
	return meta, true, nil
}

// SettleMarketsFor settles every market for targetID against actualValue.
// Resting buy orders in the settling markets are cancelled by the book, so
// their locked funds are released first. Settlement trades have no
// pre-existing lock on either side (they never passed through place_order),
// so each is applied via ConfirmSettlement rather than ConfirmTrade: cash
// moves directly between the real user and nowhere else, since
// common.SystemUserID never owns cash.
func (c *Coordinator) SettleMarketsFor(targetID uint64, actualValue uint32) ([]common.Trade, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.halted {
		return nil, ErrHalted
	}

	for _, entry := range c.engine.Registry() {
		if entry.MarketID.TargetID != targetID || entry.Side != common.Buy {
			continue
		}
		if b := c.engine.Book(entry.MarketID); b == nil || !b.Active() {
			continue
		}
		c.economy.ReleaseOrderLock(entry.UserID, economy.CentsToDollars(entry.Price), entry.Quantity)
	}

	trades := c.engine.SettleMarketsFor(targetID, actualValue)

	for _, tr := range trades {
		c.economy.ConfirmSettlement(tr)
	}

	if err := c.auditor.RunFullAudit(); err != nil {
		c.halted = true
		log.Error().Err(err).Msg("audit failure after settle_markets_for, halting writes")
		return trades, err
	}

	log.Info().Uint64("targetID", targetID).Uint32("actualValue", actualValue).Int("trades", len(trades)).Msg("settle_markets_for complete")
	return trades, nil
}

// SnapshotMarket returns one market's bid/ask ladder. Safe to call
// concurrently with writers; it takes no write lock of its own beyond the
// coordinator's, since OrderBook snapshots are cheap copies.
func (c *Coordinator) SnapshotMarket(marketID common.MarketID) book.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.SnapshotMarket(marketID)
}

// ListMarkets returns every market's summary in deterministic order.
func (c *Coordinator) ListMarkets() []engine.MarketInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.ListMarkets()
}

// Deposit credits a pure mint to a user's available balance.
func (c *Coordinator) Deposit(userID common.UserID, amountCents int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.economy.Deposit(userID, decimal.NewFromInt(amountCents).Div(decimal.NewFromInt(100)))
}

// Balance returns one user's external-facing balance view.
func (c *Coordinator) Balance(userID common.UserID) economy.Balance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.economy.BalanceOf(userID)
}
