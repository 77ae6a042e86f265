package book_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrir/internal/book"
	"fenrir/internal/common"
)

func TestFullMatch(t *testing.T) {
	b := book.New()

	_, err := b.ProcessOrder(common.Sell, 100, 10, 1, 1)
	require.NoError(t, err)

	trades, err := b.ProcessOrder(common.Buy, 100, 10, 2, 2)
	require.NoError(t, err)

	require.Len(t, trades, 1)
	assert.EqualValues(t, 100, trades[0].Price)
	assert.EqualValues(t, 10, trades[0].Qty)
	assert.Equal(t, common.OrderID(1), trades[0].MakerOrderID)
	assert.Equal(t, common.OrderID(2), trades[0].TakerOrderID)

	_, ok := b.BestAsk()
	assert.False(t, ok)
	_, ok = b.BestBid()
	assert.False(t, ok)

	assert.EqualValues(t, -10, b.Positions()[1])
	assert.EqualValues(t, 10, b.Positions()[2])
}

func TestPriceImprovementForTaker(t *testing.T) {
	b := book.New()

	_, err := b.ProcessOrder(common.Buy, 100, 10, 1, 1)
	require.NoError(t, err)

	trades, err := b.ProcessOrder(common.Sell, 90, 5, 2, 2)
	require.NoError(t, err)

	require.Len(t, trades, 1)
	assert.EqualValues(t, 100, trades[0].Price)
	assert.EqualValues(t, 5, trades[0].Qty)

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.EqualValues(t, 100, bid)
	assert.EqualValues(t, 5, b.Orders()[1].Quantity)

	_, ok = b.BestAsk()
	assert.False(t, ok)
}

func TestMultiLevelSweep(t *testing.T) {
	b := book.New()

	_, err := b.ProcessOrder(common.Sell, 100, 5, 1, 1)
	require.NoError(t, err)
	_, err = b.ProcessOrder(common.Sell, 101, 5, 2, 1)
	require.NoError(t, err)

	trades, err := b.ProcessOrder(common.Buy, 102, 8, 3, 2)
	require.NoError(t, err)

	require.Len(t, trades, 2)
	assert.EqualValues(t, 100, trades[0].Price)
	assert.EqualValues(t, 5, trades[0].Qty)
	assert.EqualValues(t, 101, trades[1].Price)
	assert.EqualValues(t, 3, trades[1].Qty)

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.EqualValues(t, 101, ask)
	assert.EqualValues(t, 2, b.Orders()[2].Quantity)
}

func TestTimePriority(t *testing.T) {
	b := book.New()

	_, err := b.ProcessOrder(common.Sell, 100, 10, 1, 1)
	require.NoError(t, err)
	_, err = b.ProcessOrder(common.Sell, 100, 10, 2, 1)
	require.NoError(t, err)

	trades, err := b.ProcessOrder(common.Buy, 100, 10, 3, 2)
	require.NoError(t, err)

	require.Len(t, trades, 1)
	assert.Equal(t, common.OrderID(1), trades[0].MakerOrderID)

	require.Contains(t, b.Orders(), common.OrderID(2))
	assert.EqualValues(t, 10, b.Orders()[2].Quantity)
}

func TestCancelOrder(t *testing.T) {
	b := book.New()

	require.NoError(t, b.AddResting(common.Buy, 100, 5, 1, 7))

	meta, ok := b.CancelOrder(1)
	require.True(t, ok)
	assert.EqualValues(t, 5, meta.Quantity)
	assert.EqualValues(t, 100, meta.Price)

	_, ok = b.CancelOrder(1)
	assert.False(t, ok, "second cancel of the same order must report not-found")

	_, ok = b.BestBid()
	assert.False(t, ok)
}

func TestDuplicateOrderIDRejected(t *testing.T) {
	b := book.New()

	require.NoError(t, b.AddResting(common.Buy, 100, 5, 1, 7))
	_, err := b.ProcessOrder(common.Buy, 100, 5, 1, 7)
	assert.ErrorIs(t, err, common.ErrDuplicateOrderID)
}

func TestInvalidQuantityRejected(t *testing.T) {
	b := book.New()

	_, err := b.ProcessOrder(common.Buy, 100, 0, 1, 7)
	assert.ErrorIs(t, err, common.ErrInvalidQuantity)
}

func TestMarketInactiveRejected(t *testing.T) {
	b := book.New()
	b.SettleMarket(1)

	_, err := b.ProcessOrder(common.Buy, 100, 5, 1, 7)
	assert.ErrorIs(t, err, common.ErrMarketInactive)
}

func TestSettleMarketConservesPositions(t *testing.T) {
	b := book.New()

	_, err := b.ProcessOrder(common.Sell, 60, 10, 1, 3)
	require.NoError(t, err)
	_, err = b.ProcessOrder(common.Buy, 60, 10, 2, 2)
	require.NoError(t, err)

	trades := b.SettleMarket(1)
	require.Len(t, trades, 2)

	var sawLong, sawShort bool
	for _, tr := range trades {
		switch {
		case tr.BuyUserID == 2 && tr.SellUserID == common.SystemUserID:
			sawLong = true
			assert.EqualValues(t, 10, tr.Qty)
		case tr.SellUserID == 3 && tr.BuyUserID == common.SystemUserID:
			sawShort = true
			assert.EqualValues(t, 10, tr.Qty)
		}
	}
	assert.True(t, sawLong)
	assert.True(t, sawShort)

	assert.False(t, b.Active())
	for _, pos := range b.Positions() {
		assert.Zero(t, pos)
	}
}

func TestSettleMarketAtTerminalZeroReversesRoles(t *testing.T) {
	b := book.New()

	_, err := b.ProcessOrder(common.Sell, 60, 10, 1, 3)
	require.NoError(t, err)
	_, err = b.ProcessOrder(common.Buy, 60, 10, 2, 2)
	require.NoError(t, err)

	trades := b.SettleMarket(0)
	require.Len(t, trades, 2)

	var sawLong, sawShort bool
	for _, tr := range trades {
		assert.EqualValues(t, 0, tr.Price)
		switch {
		case tr.SellUserID == 2 && tr.BuyUserID == common.SystemUserID:
			sawLong = true
			assert.EqualValues(t, 10, tr.Qty)
		case tr.BuyUserID == 3 && tr.SellUserID == common.SystemUserID:
			sawShort = true
			assert.EqualValues(t, 10, tr.Qty)
		}
	}
	assert.True(t, sawLong, "long user pays SYSTEM at terminal 0, roles reversed from terminal 1")
	assert.True(t, sawShort, "short user is paid by SYSTEM at terminal 0, roles reversed from terminal 1")

	assert.False(t, b.Active())
	for _, pos := range b.Positions() {
		assert.Zero(t, pos)
	}
}

func TestSelfMatchPermitted(t *testing.T) {
	b := book.New()

	_, err := b.ProcessOrder(common.Sell, 100, 5, 1, 9)
	require.NoError(t, err)
	trades, err := b.ProcessOrder(common.Buy, 100, 5, 2, 9)
	require.NoError(t, err)

	require.Len(t, trades, 1)
	assert.EqualValues(t, 0, b.Positions()[9])
}

func TestSnapshotOrdering(t *testing.T) {
	b := book.New()
	require.NoError(t, b.AddResting(common.Buy, 99, 10, 1, 1))
	require.NoError(t, b.AddResting(common.Buy, 101, 10, 2, 1))
	require.NoError(t, b.AddResting(common.Sell, 105, 10, 3, 1))
	require.NoError(t, b.AddResting(common.Sell, 102, 10, 4, 1))

	snap := b.TakeSnapshot()
	require.Len(t, snap.Bids, 2)
	require.Len(t, snap.Asks, 2)
	assert.EqualValues(t, 101, snap.Bids[0].Price)
	assert.EqualValues(t, 99, snap.Bids[1].Price)
	assert.EqualValues(t, 102, snap.Asks[0].Price)
	assert.EqualValues(t, 105, snap.Asks[1].Price)
}
