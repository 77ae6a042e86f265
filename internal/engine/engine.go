// Package engine owns every market's OrderBook plus the engine-global order
// registry that makes O(1) cross-market cancellation possible.
package engine

import (
	"fmt"

	"github.com/tidwall/btree"

	"fenrir/internal/book"
	"fenrir/internal/common"
)

// RegistryEntry mirrors one resting order across every book; it must be
// kept in lockstep with the owning OrderBook's own index (I2/I3).
type RegistryEntry struct {
	MarketID common.MarketID
	Side     common.Side
	Price    int32
	Quantity int64
	UserID   common.UserID
}

// MarketInfo is the display-facing summary returned by ListMarkets.
type MarketInfo struct {
	MarketID common.MarketID
	Name     string
	BestBid  *int32
	BestAsk  *int32
}

func lessMarketID(a, b common.MarketID) bool {
	if a.TargetID != b.TargetID {
		return a.TargetID < b.TargetID
	}
	return a.Threshold < b.Threshold
}

// Engine is the multi-market router: per-market books plus the global
// order registry.
type Engine struct {
	markets  map[common.MarketID]*book.OrderBook
	names    map[common.MarketID]string
	registry map[common.OrderID]RegistryEntry

	// marketIndex backs a deterministic, sorted ListMarkets — Go map
	// iteration order is randomized, which the teacher's single-book
	// engine never had to care about.
	marketIndex *btree.BTreeG[common.MarketID]
}

// New creates an engine with no markets.
func New() *Engine {
	return &Engine{
		markets:     make(map[common.MarketID]*book.OrderBook),
		names:       make(map[common.MarketID]string),
		registry:    make(map[common.OrderID]RegistryEntry),
		marketIndex: btree.NewBTreeG(lessMarketID),
	}
}

// CreateMarket lazily and idempotently creates a market with a display
// name. Calling it again for an existing market is a no-op.
func (e *Engine) CreateMarket(id common.MarketID, name string) {
	if _, ok := e.markets[id]; ok {
		return
	}
	e.markets[id] = book.New()
	e.names[id] = name
	e.marketIndex.Set(id)
}

// ensureMarket lazily creates a market with a derived default name if it
// doesn't already exist, per spec.md's "create on first touch" coordinator
// step.
func (e *Engine) ensureMarket(id common.MarketID) *book.OrderBook {
	b, ok := e.markets[id]
	if !ok {
		e.CreateMarket(id, defaultMarketName(id))
		b = e.markets[id]
	}
	return b
}

func defaultMarketName(id common.MarketID) string {
	return fmt.Sprintf("target %d >= %d", id.TargetID, id.Threshold)
}

// ProcessOrder delegates to the owning book and then synchronises the
// global registry against the trades and any resting remainder.
func (e *Engine) ProcessOrder(marketID common.MarketID, side common.Side, price int32, qty int64, id common.OrderID, user common.UserID) ([]common.Trade, error) {
	b := e.ensureMarket(marketID)

	trades, err := b.ProcessOrder(side, price, qty, id, user)
	if err != nil {
		return trades, err
	}

	for i := range trades {
		trades[i].MarketID = marketID
		e.syncMakerRegistry(b, marketID, trades[i].MakerOrderID)
	}

	if restingOrder, ok := b.Orders()[id]; ok {
		e.registry[id] = RegistryEntry{
			MarketID: marketID,
			Side:     side,
			Price:    restingOrder.Price,
			Quantity: restingOrder.Quantity,
			UserID:   user,
		}
	}

	return trades, nil
}

func (e *Engine) syncMakerRegistry(b *book.OrderBook, marketID common.MarketID, makerID common.OrderID) {
	if makerID == common.UnknownOrderRef {
		return
	}
	maker, stillResting := b.Orders()[makerID]
	if !stillResting {
		delete(e.registry, makerID)
		return
	}
	e.registry[makerID] = RegistryEntry{
		MarketID: marketID,
		Side:     maker.Side,
		Price:    maker.Price,
		Quantity: maker.Quantity,
		UserID:   maker.UserID,
	}
}

// CancelOrder looks up the registry, cancels in the owning book, and
// erases the registry entry. Returns false if the order is unknown.
func (e *Engine) CancelOrder(id common.OrderID) (book.OrderMetadata, bool) {
	entry, ok := e.registry[id]
	if !ok {
		return book.OrderMetadata{}, false
	}

	b := e.markets[entry.MarketID]
	meta, ok := b.CancelOrder(id)
	if !ok {
		// Registry said it existed but the book disagrees: the
		// registry is authoritative only for routing, never for
		// existence, so trust the book and clean up the stale entry.
		delete(e.registry, id)
		return book.OrderMetadata{}, false
	}
	meta.MarketID = entry.MarketID

	delete(e.registry, id)
	return meta, true
}

// SettleMarketsFor settles every market whose target matches targetID
// against actualValue, returning every synthetic trade produced.
func (e *Engine) SettleMarketsFor(targetID uint64, actualValue uint32) []common.Trade {
	var all []common.Trade

	e.marketIndex.Scan(func(id common.MarketID) bool {
		if id.TargetID != targetID {
			return true
		}
		b := e.markets[id]
		if !b.Active() {
			return true
		}

		terminal := int32(0)
		if actualValue >= id.Threshold {
			terminal = 1
		}

		trades := b.SettleMarket(terminal)
		for i := range trades {
			trades[i].MarketID = id
		}
		all = append(all, trades...)

		for orderID, entry := range e.registry {
			if entry.MarketID == id {
				delete(e.registry, orderID)
			}
		}
		return true
	})

	return all
}

// RebuildRegistry reconstructs the global registry from every book's live
// orders. Must run after loading a persisted snapshot, before any further
// writes reach the engine.
func (e *Engine) RebuildRegistry() {
	e.registry = make(map[common.OrderID]RegistryEntry)
	e.marketIndex.Scan(func(id common.MarketID) bool {
		b := e.markets[id]
		for orderID, o := range b.Orders() {
			e.registry[orderID] = RegistryEntry{
				MarketID: id,
				Side:     o.Side,
				Price:    o.Price,
				Quantity: o.Quantity,
				UserID:   o.UserID,
			}
		}
		return true
	})
}

// ListMarkets returns a deterministic, sorted-by-MarketID summary of every
// market, including best bid/ask.
func (e *Engine) ListMarkets() []MarketInfo {
	var out []MarketInfo
	e.marketIndex.Scan(func(id common.MarketID) bool {
		b := e.markets[id]
		info := MarketInfo{MarketID: id, Name: e.names[id]}
		if bid, ok := b.BestBid(); ok {
			info.BestBid = &bid
		}
		if ask, ok := b.BestAsk(); ok {
			info.BestAsk = &ask
		}
		out = append(out, info)
		return true
	})
	return out
}

// SnapshotMarket returns the bid/ask ladder for one market. Returns a zero
// Snapshot if the market doesn't exist.
func (e *Engine) SnapshotMarket(id common.MarketID) book.Snapshot {
	b, ok := e.markets[id]
	if !ok {
		return book.Snapshot{}
	}
	return b.TakeSnapshot()
}

// Book exposes the underlying OrderBook for a market, mainly for the
// persistence layer's dump/load round trip. Returns nil if unknown.
func (e *Engine) Book(id common.MarketID) *book.OrderBook {
	return e.markets[id]
}

// MarketIDs returns every market id the engine knows about, in sorted
// order.
func (e *Engine) MarketIDs() []common.MarketID {
	var ids []common.MarketID
	e.marketIndex.Scan(func(id common.MarketID) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// MarketName returns the display name registered for id, if any.
func (e *Engine) MarketName(id common.MarketID) (string, bool) {
	name, ok := e.names[id]
	return name, ok
}

// RegistryEntryFor exposes one registry entry, for the auditor.
func (e *Engine) RegistryEntryFor(id common.OrderID) (RegistryEntry, bool) {
	entry, ok := e.registry[id]
	return entry, ok
}

// Registry exposes the full registry, for the auditor's registry-integrity
// check. Callers must not mutate it.
func (e *Engine) Registry() map[common.OrderID]RegistryEntry {
	return e.registry
}

// Markets exposes the full market map, for the auditor's position-
// conservation check. Callers must not mutate it.
func (e *Engine) Markets() map[common.MarketID]*book.OrderBook {
	return e.markets
}
