// Package persistence dumps and restores the full world state — economy
// accounts, every market's book, and the ID mapper — to a single JSON file,
// the way the Python prototype's server.py save_world/load_world did.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"fenrir/internal/common"
	"fenrir/internal/economy"
	"fenrir/internal/engine"
	"fenrir/internal/idmap"
)

// AccountBlob is one account's persisted balances. decimal.Decimal already
// marshals/unmarshals as a plain JSON string, so no DecimalEncoder-style
// workaround is needed here.
type AccountBlob struct {
	Available decimal.Decimal   `json:"available"`
	Locked    decimal.Decimal   `json:"locked"`
	Portfolio map[string]int64  `json:"portfolio"`
}

// OrderBlob is one resting order within a market. Timestamp is carried
// only so dump/restore can reproduce the original time-priority ordering;
// the restored book reassigns its own fresh clock values on AddResting.
type OrderBlob struct {
	ID        common.OrderID `json:"id"`
	UserID    common.UserID  `json:"user_id"`
	Side      common.Side    `json:"side"`
	Price     int32          `json:"price"`
	Quantity  int64          `json:"quantity"`
	Timestamp uint64         `json:"timestamp"`
}

// MarketBlob is one market's persisted book.
type MarketBlob struct {
	TargetID  uint64            `json:"target_id"`
	Threshold uint32            `json:"threshold"`
	Name      string            `json:"name"`
	Active    bool              `json:"active"`
	Orders    []OrderBlob       `json:"orders"`
	Positions map[string]int64  `json:"positions"`
}

// StateBlob is the full persisted world, matching the shape of the
// prototype's combined economy/engine/mapper save file.
type StateBlob struct {
	TotalDeposited decimal.Decimal          `json:"total_deposited"`
	Accounts       map[string]AccountBlob   `json:"accounts"`
	Markets        []MarketBlob             `json:"markets"`
	UserMappings   map[string]common.UserID `json:"user_mappings"`
}

// DumpState serializes the economy, engine, and user mapper into a single
// blob suitable for json.Marshal.
func DumpState(e *engine.Engine, m *economy.Manager, um *idmap.UserMapper) StateBlob {
	blob := StateBlob{
		TotalDeposited: m.TotalDeposited(),
		Accounts:       make(map[string]AccountBlob),
		UserMappings:   um.All(),
	}

	for _, acc := range m.Accounts() {
		portfolio := make(map[string]int64, len(acc.Portfolio))
		for marketID, qty := range acc.Portfolio {
			portfolio[marketKey(marketID)] = qty
		}
		blob.Accounts[fmt.Sprintf("%d", acc.UserID)] = AccountBlob{
			Available: acc.Available,
			Locked:    acc.Locked,
			Portfolio: portfolio,
		}
	}

	for _, marketID := range e.MarketIDs() {
		b := e.Book(marketID)
		name, _ := e.MarketName(marketID)

		var orders []OrderBlob
		for _, o := range b.Orders() {
			orders = append(orders, OrderBlob{
				ID:        o.ID,
				UserID:    o.UserID,
				Side:      o.Side,
				Price:     o.Price,
				Quantity:  o.Quantity,
				Timestamp: o.Timestamp,
			})
		}
		sort.Slice(orders, func(i, j int) bool { return orders[i].Timestamp < orders[j].Timestamp })

		positions := make(map[string]int64)
		for user, qty := range b.Positions() {
			if qty != 0 {
				positions[fmt.Sprintf("%d", user)] = qty
			}
		}

		blob.Markets = append(blob.Markets, MarketBlob{
			TargetID:  marketID.TargetID,
			Threshold: marketID.Threshold,
			Name:      name,
			Active:    b.Active(),
			Orders:    orders,
			Positions: positions,
		})
	}

	return blob
}

func marketKey(id common.MarketID) string {
	return fmt.Sprintf("%d,%d", id.TargetID, id.Threshold)
}

// SaveToFile writes the full world state to path as indented JSON.
func SaveToFile(path string, e *engine.Engine, m *economy.Manager, um *idmap.UserMapper) error {
	blob := DumpState(e, m, um)

	data, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	log.Info().Str("path", path).Int("accounts", len(blob.Accounts)).Int("markets", len(blob.Markets)).Msg("world state saved")
	return nil
}

// LoadFromFile restores an engine, economy manager, and user mapper from a
// previously saved state file. A missing file is not an error — it means a
// fresh start.
func LoadFromFile(path string, e *engine.Engine, m *economy.Manager, um *idmap.UserMapper) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Info().Str("path", path).Msg("no saved state found, starting fresh")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state file: %w", err)
	}

	var blob StateBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return fmt.Errorf("unmarshal state: %w", err)
	}

	RestoreState(blob, e, m, um)

	// The engine's registry is never part of the dump; it is always
	// reconstructed from the restored books, per the coordinator's
	// load-then-rebuild contract.
	e.RebuildRegistry()

	log.Info().Str("path", path).Int("accounts", len(blob.Accounts)).Int("markets", len(blob.Markets)).Msg("world state loaded")
	return nil
}

// RestoreState applies a StateBlob's contents onto an (assumed empty)
// engine and economy manager. Exported separately from LoadFromFile so
// tests can round-trip a blob without touching the filesystem.
func RestoreState(blob StateBlob, e *engine.Engine, m *economy.Manager, um *idmap.UserMapper) {
	um.Restore(blob.UserMappings)

	for idStr, accBlob := range blob.Accounts {
		var userID common.UserID
		fmt.Sscanf(idStr, "%d", &userID)

		acc := m.Account(userID)
		acc.Available = accBlob.Available
		acc.Locked = accBlob.Locked
		for keyStr, qty := range accBlob.Portfolio {
			var targetID uint64
			var threshold uint32
			fmt.Sscanf(keyStr, "%d,%d", &targetID, &threshold)
			acc.Portfolio[common.MarketID{TargetID: targetID, Threshold: threshold}] = qty
		}
	}
	m.SetTotalDeposited(blob.TotalDeposited)

	for _, mb := range blob.Markets {
		marketID := common.MarketID{TargetID: mb.TargetID, Threshold: mb.Threshold}
		e.CreateMarket(marketID, mb.Name)
		b := e.Book(marketID)

		for _, ob := range mb.Orders {
			if err := b.AddResting(ob.Side, ob.Price, ob.Quantity, ob.ID, ob.UserID); err != nil {
				log.Error().Err(err).Int64("orderID", int64(ob.ID)).Msg("failed to restore resting order")
			}
		}
		for idStr, qty := range mb.Positions {
			var userID common.UserID
			fmt.Sscanf(idStr, "%d", &userID)
			b.SetPosition(userID, qty)
		}
		if !mb.Active {
			b.Deactivate()
		}
	}
}
