package audit_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrir/internal/audit"
	"fenrir/internal/common"
	"fenrir/internal/economy"
	"fenrir/internal/engine"
)

func TestAuditPassesAfterCleanMatch(t *testing.T) {
	e := engine.New()
	m := economy.New()
	a := audit.New(e, m)

	market := common.MarketID{TargetID: 1, Threshold: 480}
	m.Deposit(2, decimal.NewFromInt(1000))

	ok := m.AttemptOrderLock(2, economy.CentsToDollars(100), 10)
	require.True(t, ok)

	_, err := e.ProcessOrder(market, common.Sell, 100, 10, 1, 1)
	require.NoError(t, err)
	trades, err := e.ProcessOrder(market, common.Buy, 100, 10, 2, 2)
	require.NoError(t, err)

	for _, tr := range trades {
		m.ConfirmTrade(2, 1, market, economy.CentsToDollars(tr.Price), int64(tr.Qty))
	}

	assert.NoError(t, a.RunFullAudit())
}

func TestAuditCatchesPositionImbalance(t *testing.T) {
	e := engine.New()
	m := economy.New()
	a := audit.New(e, m)

	market := common.MarketID{TargetID: 1, Threshold: 480}
	e.CreateMarket(market, "test")

	// Directly corrupt the book's position map to simulate a bug, since
	// there is no legitimate way to reach this state through the API.
	e.Book(market).Positions()[42] = 7

	err := a.RunFullAudit()
	assert.ErrorIs(t, err, common.ErrAuditFailure)
}

func TestAuditCatchesRegistryMismatch(t *testing.T) {
	e := engine.New()
	m := economy.New()
	a := audit.New(e, m)

	market := common.MarketID{TargetID: 1, Threshold: 480}
	e.CreateMarket(market, "test")

	// Resting an order directly on the book, bypassing the engine's
	// registry sync, desyncs book volume from registry volume — exactly
	// what the registry-integrity check exists to catch.
	require.NoError(t, e.Book(market).AddResting(common.Buy, 100, 5, 1, 7))

	err := a.RunFullAudit()
	assert.ErrorIs(t, err, common.ErrAuditFailure)
}
