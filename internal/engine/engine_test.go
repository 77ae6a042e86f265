package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrir/internal/common"
	"fenrir/internal/engine"
)

func TestCreateMarketIdempotent(t *testing.T) {
	e := engine.New()
	market := common.MarketID{TargetID: 1, Threshold: 480}

	e.CreateMarket(market, "first name")
	e.CreateMarket(market, "second name")

	name, ok := e.MarketName(market)
	require.True(t, ok)
	assert.Equal(t, "first name", name)
}

func TestProcessOrderEnsuresMarketAndDerivesName(t *testing.T) {
	e := engine.New()
	market := common.MarketID{TargetID: 7, Threshold: 100}

	_, err := e.ProcessOrder(market, common.Buy, 50, 10, 1, 1)
	require.NoError(t, err)

	name, ok := e.MarketName(market)
	require.True(t, ok)
	assert.Equal(t, "target 7 >= 100", name)
}

func TestRegistrySyncsAcrossMatch(t *testing.T) {
	e := engine.New()
	market := common.MarketID{TargetID: 1, Threshold: 480}

	_, err := e.ProcessOrder(market, common.Sell, 50, 10, 1, 1)
	require.NoError(t, err)

	entry, ok := e.RegistryEntryFor(1)
	require.True(t, ok)
	assert.EqualValues(t, 10, entry.Quantity)

	trades, err := e.ProcessOrder(market, common.Buy, 50, 4, 2, 2)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	entry, ok = e.RegistryEntryFor(1)
	require.True(t, ok, "maker order 1 partially filled, should still be registered")
	assert.EqualValues(t, 6, entry.Quantity)

	_, ok = e.RegistryEntryFor(2)
	assert.False(t, ok, "fully-filled taker order 2 should never enter the registry")
}

func TestCancelOrderErasesRegistry(t *testing.T) {
	e := engine.New()
	market := common.MarketID{TargetID: 1, Threshold: 480}

	_, err := e.ProcessOrder(market, common.Buy, 50, 10, 1, 1)
	require.NoError(t, err)

	meta, ok := e.CancelOrder(1)
	require.True(t, ok)
	assert.Equal(t, market, meta.MarketID)

	_, ok = e.RegistryEntryFor(1)
	assert.False(t, ok)
}

func TestSettleMarketsForOnlyTargetsMatchingTargetID(t *testing.T) {
	e := engine.New()
	marketA := common.MarketID{TargetID: 1, Threshold: 480}
	marketB := common.MarketID{TargetID: 2, Threshold: 480}

	e.CreateMarket(marketA, "a")
	e.CreateMarket(marketB, "b")

	trades := e.SettleMarketsFor(1, 500)
	assert.Empty(t, trades)

	assert.False(t, e.Book(marketA).Active())
	assert.True(t, e.Book(marketB).Active())
}

func TestListMarketsSortedByMarketID(t *testing.T) {
	e := engine.New()
	e.CreateMarket(common.MarketID{TargetID: 2, Threshold: 100}, "second")
	e.CreateMarket(common.MarketID{TargetID: 1, Threshold: 100}, "first")

	infos := e.ListMarkets()
	require.Len(t, infos, 2)
	assert.Equal(t, "first", infos[0].Name)
	assert.Equal(t, "second", infos[1].Name)
}

func TestRebuildRegistryReconstructsFromBooks(t *testing.T) {
	e := engine.New()
	market := common.MarketID{TargetID: 1, Threshold: 480}

	_, err := e.ProcessOrder(market, common.Buy, 50, 10, 1, 1)
	require.NoError(t, err)

	// Simulate a post-restore engine whose registry was never populated.
	e2 := engine.New()
	e2.CreateMarket(market, "restored")
	require.NoError(t, e2.Book(market).AddResting(common.Buy, 50, 10, 1, 1))

	_, ok := e2.RegistryEntryFor(1)
	assert.False(t, ok, "registry should be empty before rebuild")

	e2.RebuildRegistry()
	entry, ok := e2.RegistryEntryFor(1)
	require.True(t, ok)
	assert.EqualValues(t, 10, entry.Quantity)
}
