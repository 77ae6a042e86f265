// Package book implements one market's price-level order book: matching
// with strict price-time priority, partial fills, lazy heap cleanup, and
// O(1) cancellation given an order pointer.
package book

import (
	"container/heap"
	"sort"
	"sync/atomic"

	"fenrir/internal/common"
)

// Level is a read-only snapshot of one occupied price level.
type Level struct {
	Price  int32
	Volume int64
	Count  int
}

// Snapshot is the bid/ask ladder returned to callers; bids descending,
// asks ascending.
type Snapshot struct {
	Bids []Level
	Asks []Level
}

// OrderBook is one market's book. Zero value is not usable; construct with
// New.
type OrderBook struct {
	orders map[common.OrderID]*Order

	bids     map[int32]*PriceLevelQueue
	asks     map[int32]*PriceLevelQueue
	bidHeap  bidPriceHeap
	askHeap  askPriceHeap

	// positions is the net signed contract count per user; the sum over
	// this map must always be zero (I1), including SystemUserID.
	positions map[common.UserID]int64

	active bool
	clock  atomic.Uint64
}

// New creates an empty, active order book.
func New() *OrderBook {
	return &OrderBook{
		orders:    make(map[common.OrderID]*Order),
		bids:      make(map[int32]*PriceLevelQueue),
		asks:      make(map[int32]*PriceLevelQueue),
		positions: make(map[common.UserID]int64),
		active:    true,
	}
}

// Active reports whether the market still accepts orders.
func (b *OrderBook) Active() bool { return b.active }

// Positions returns the live position map. Callers must not mutate it.
func (b *OrderBook) Positions() map[common.UserID]int64 { return b.positions }

// Orders returns the live order index, keyed by order id. Callers must not
// mutate it; it is exposed read-only for the auditor's registry check.
func (b *OrderBook) Orders() map[common.OrderID]*Order { return b.orders }

// Deactivate marks the book inactive without touching orders or positions.
// Used by persistence restore to reproduce a previously-settled market's
// terminal state.
func (b *OrderBook) Deactivate() { b.active = false }

// SetPosition overwrites one user's net position directly. Used only by
// persistence restore, which reconstructs positions from a dump rather than
// replaying every historical trade.
func (b *OrderBook) SetPosition(user common.UserID, qty int64) {
	b.positions[user] = qty
}

func (b *OrderBook) nextTimestamp() uint64 {
	return b.clock.Add(1)
}

// AddResting places an order on the book without attempting to match it.
// Used both for the remainder of a partially-filled incoming order and by
// RebuildRegistry-style snapshot restores that re-insert already-resting
// orders directly.
func (b *OrderBook) AddResting(side common.Side, price int32, qty int64, id common.OrderID, user common.UserID) error {
	if !b.active {
		return common.ErrMarketInactive
	}
	if qty <= 0 {
		return common.ErrInvalidQuantity
	}
	if _, exists := b.orders[id]; exists {
		return common.ErrDuplicateOrderID
	}

	o := &Order{
		ID:        id,
		UserID:    user,
		Side:      side,
		Price:     price,
		Quantity:  qty,
		Timestamp: b.nextTimestamp(),
	}
	b.orders[id] = o
	b.appendToLevel(o)
	return nil
}

func (b *OrderBook) appendToLevel(o *Order) {
	if o.Side == common.Buy {
		level, ok := b.bids[o.Price]
		if !ok {
			level = &PriceLevelQueue{}
			b.bids[o.Price] = level
			heap.Push(&b.bidHeap, o.Price)
		}
		level.Append(o)
		return
	}
	level, ok := b.asks[o.Price]
	if !ok {
		level = &PriceLevelQueue{}
		b.asks[o.Price] = level
		heap.Push(&b.askHeap, o.Price)
	}
	level.Append(o)
}

// ProcessOrder matches an incoming order against the book and rests any
// unfilled remainder. Trades are returned in the order they occurred
// (best-price-first, time-priority within a level); the trade price is
// always the resting (maker) order's price.
func (b *OrderBook) ProcessOrder(side common.Side, price int32, qty int64, id common.OrderID, user common.UserID) ([]common.Trade, error) {
	if !b.active {
		return nil, common.ErrMarketInactive
	}
	if qty <= 0 {
		return nil, common.ErrInvalidQuantity
	}
	if _, exists := b.orders[id]; exists {
		return nil, common.ErrDuplicateOrderID
	}

	var trades []common.Trade
	remaining := qty

	if side == common.Buy {
		trades, remaining = b.matchBuy(price, remaining, id, user)
	} else {
		trades, remaining = b.matchSell(price, remaining, id, user)
	}

	if remaining > 0 {
		// AddResting re-checks active/qty/duplicate, all already
		// satisfied here, so the error is unreachable but checked
		// for completeness.
		if err := b.AddResting(side, price, remaining, id, user); err != nil {
			return trades, err
		}
	}

	return trades, nil
}

func (b *OrderBook) matchBuy(price int32, qty int64, takerID common.OrderID, takerUser common.UserID) ([]common.Trade, int64) {
	var trades []common.Trade

	for qty > 0 && len(b.askHeap) > 0 {
		bestAsk := b.askHeap[0]
		level, ok := b.asks[bestAsk]
		if !ok {
			heap.Pop(&b.askHeap)
			continue
		}
		if price < bestAsk {
			break
		}

		for qty > 0 {
			maker := level.Head()
			if maker == nil {
				break
			}
			fill := min64(qty, maker.Quantity)

			trades = append(trades, common.Trade{
				BuyOrderID:   takerID,
				SellOrderID:  maker.ID,
				Price:        bestAsk,
				Qty:          int32(fill),
				MakerOrderID: maker.ID,
				TakerOrderID: takerID,
				BuyUserID:    takerUser,
				SellUserID:   maker.UserID,
			})

			b.positions[takerUser] += fill
			b.positions[maker.UserID] -= fill

			maker.Quantity -= fill
			qty -= fill
			level.TotalVolume -= fill

			if maker.Quantity == 0 {
				level.Remove(maker)
				delete(b.orders, maker.ID)
			}
		}

		if level.Count == 0 {
			delete(b.asks, bestAsk)
			heap.Pop(&b.askHeap)
		}
	}

	return trades, qty
}

func (b *OrderBook) matchSell(price int32, qty int64, takerID common.OrderID, takerUser common.UserID) ([]common.Trade, int64) {
	var trades []common.Trade

	for qty > 0 && len(b.bidHeap) > 0 {
		bestBid := b.bidHeap[0]
		level, ok := b.bids[bestBid]
		if !ok {
			heap.Pop(&b.bidHeap)
			continue
		}
		if price > bestBid {
			break
		}

		for qty > 0 {
			maker := level.Head()
			if maker == nil {
				break
			}
			fill := min64(qty, maker.Quantity)

			trades = append(trades, common.Trade{
				BuyOrderID:   maker.ID,
				SellOrderID:  takerID,
				Price:        bestBid,
				Qty:          int32(fill),
				MakerOrderID: maker.ID,
				TakerOrderID: takerID,
				BuyUserID:    maker.UserID,
				SellUserID:   takerUser,
			})

			b.positions[maker.UserID] += fill
			b.positions[takerUser] -= fill

			maker.Quantity -= fill
			qty -= fill
			level.TotalVolume -= fill

			if maker.Quantity == 0 {
				level.Remove(maker)
				delete(b.orders, maker.ID)
			}
		}

		if level.Count == 0 {
			delete(b.bids, bestBid)
			heap.Pop(&b.bidHeap)
		}
	}

	return trades, qty
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// OrderMetadata is a snapshot of an order's identifying fields, returned by
// CancelOrder so callers (e.g. the coordinator refunding a buyer's lock)
// don't need a second lookup.
type OrderMetadata struct {
	ID       common.OrderID
	MarketID common.MarketID
	Side     common.Side
	Price    int32
	Quantity int64
	UserID   common.UserID
}

// CancelOrder removes a resting order. Returns false if the order is
// unknown (already filled or never existed) — this is the expected "not
// found" path, not an error.
func (b *OrderBook) CancelOrder(id common.OrderID) (OrderMetadata, bool) {
	o, ok := b.orders[id]
	if !ok {
		return OrderMetadata{}, false
	}

	if o.Side == common.Buy {
		if level, ok := b.bids[o.Price]; ok {
			level.Remove(o)
			if level.Count == 0 {
				delete(b.bids, o.Price)
			}
		}
	} else {
		if level, ok := b.asks[o.Price]; ok {
			level.Remove(o)
			if level.Count == 0 {
				delete(b.asks, o.Price)
			}
		}
	}

	delete(b.orders, id)

	return OrderMetadata{
		ID:       o.ID,
		Side:     o.Side,
		Price:    o.Price,
		Quantity: o.Quantity,
		UserID:   o.UserID,
	}, true
}

// BestBid returns the highest resting bid price, reaping any stale heap
// entries first. Leaves the true top on the heap.
func (b *OrderBook) BestBid() (int32, bool) {
	for len(b.bidHeap) > 0 {
		p := b.bidHeap[0]
		if _, ok := b.bids[p]; ok {
			return p, true
		}
		heap.Pop(&b.bidHeap)
	}
	return 0, false
}

// BestAsk returns the lowest resting ask price, reaping stale heap entries.
func (b *OrderBook) BestAsk() (int32, bool) {
	for len(b.askHeap) > 0 {
		p := b.askHeap[0]
		if _, ok := b.asks[p]; ok {
			return p, true
		}
		heap.Pop(&b.askHeap)
	}
	return 0, false
}

// TakeSnapshot returns the current ladder, bids descending and asks
// ascending.
func (b *OrderBook) TakeSnapshot() Snapshot {
	var snap Snapshot

	bidPrices := sortedKeysDesc(b.bids)
	for _, p := range bidPrices {
		lvl := b.bids[p]
		snap.Bids = append(snap.Bids, Level{Price: p, Volume: lvl.TotalVolume, Count: lvl.Count})
	}

	askPrices := sortedKeysAsc(b.asks)
	for _, p := range askPrices {
		lvl := b.asks[p]
		snap.Asks = append(snap.Asks, Level{Price: p, Volume: lvl.TotalVolume, Count: lvl.Count})
	}

	return snap
}

// SettleMarket closes the book permanently. Every resting order is
// cancelled (without refund bookkeeping — that is the coordinator's job,
// done from the engine registry before it calls settlement) and every
// non-zero position is marked
// against terminalPrice (0 or 1) via a synthetic trade against
// common.SystemUserID, preserving I1.
func (b *OrderBook) SettleMarket(terminalPrice int32) []common.Trade {
	b.active = false

	b.orders = make(map[common.OrderID]*Order)
	b.bids = make(map[int32]*PriceLevelQueue)
	b.asks = make(map[int32]*PriceLevelQueue)
	b.bidHeap = nil
	b.askHeap = nil

	var trades []common.Trade
	for user, pos := range b.positions {
		if pos == 0 {
			continue
		}
		qty := pos
		if qty < 0 {
			qty = -qty
		}

		// Long at terminal 1 (or short at terminal 0): user is paid by
		// SYSTEM, user is the buyer. Long at terminal 0 (or short at
		// terminal 1): user pays SYSTEM, roles reverse.
		userIsBuyer := (pos > 0) == (terminalPrice == 1)

		tr := common.Trade{
			BuyOrderID:   common.UnknownOrderRef,
			SellOrderID:  common.UnknownOrderRef,
			Price:        terminalPrice,
			Qty:          int32(qty),
			MakerOrderID: common.UnknownOrderRef,
			TakerOrderID: common.UnknownOrderRef,
		}
		if userIsBuyer {
			tr.BuyUserID = user
			tr.SellUserID = common.SystemUserID
		} else {
			tr.BuyUserID = common.SystemUserID
			tr.SellUserID = user
		}
		trades = append(trades, tr)

		b.positions[user] = 0
	}

	return trades
}

func sortedKeysDesc(m map[int32]*PriceLevelQueue) []int32 {
	keys := make([]int32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] > keys[j] })
	return keys
}

func sortedKeysAsc(m map[int32]*PriceLevelQueue) []int32 {
	keys := make([]int32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
