// Package audit runs the invariant checks that must hold after every
// state-changing operation: position conservation, cash conservation, and
// registry integrity. Any failure is fatal — the caller must halt further
// writes.
package audit

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"fenrir/internal/common"
	"fenrir/internal/economy"
	"fenrir/internal/engine"
)

// Auditor verifies invariants across an engine and an economy manager.
type Auditor struct {
	engine  *engine.Engine
	economy *economy.Manager
}

// New creates an auditor over the given engine and economy manager.
func New(e *engine.Engine, m *economy.Manager) *Auditor {
	return &Auditor{engine: e, economy: m}
}

// RunFullAudit runs all three checks in order, logging one line per check.
// It returns the first failure, wrapped in common.ErrAuditFailure.
func (a *Auditor) RunFullAudit() error {
	if err := a.auditPositions(); err != nil {
		return err
	}
	if err := a.auditCash(); err != nil {
		return err
	}
	if err := a.auditRegistry(); err != nil {
		return err
	}
	return nil
}

// auditPositions checks I1: every market's positions sum to zero.
func (a *Auditor) auditPositions() error {
	for marketID, b := range a.engine.Markets() {
		var total int64
		for _, pos := range b.Positions() {
			total += pos
		}
		if total != 0 {
			return fmt.Errorf("%w: market %+v unbalanced, net position %d", common.ErrAuditFailure, marketID, total)
		}
	}
	log.Info().Msg("audit: market positions balanced, net zero")
	return nil
}

// auditCash checks P2: total liquidity equals cumulative deposits (there
// are no burns in this core, so mint-minus-burn is always the deposit
// total).
func (a *Auditor) auditCash() error {
	total := a.totalLiquidity()
	deposited := a.economy.TotalDeposited()

	if !total.Equal(deposited) {
		return fmt.Errorf("%w: cash conservation violated, total liquidity %s != total deposited %s",
			common.ErrAuditFailure, total.String(), deposited.String())
	}
	log.Info().Str("totalLiquidity", total.String()).Msg("audit: cash conservation holds")
	return nil
}

func (a *Auditor) totalLiquidity() decimal.Decimal {
	total := decimal.Zero
	for _, acc := range a.economy.Accounts() {
		total = total.Add(acc.Available).Add(acc.Locked)
	}
	return total
}

// auditRegistry checks I2/I3: every order in a book is mirrored exactly
// once in the engine-global registry, and the registry holds nothing a
// book doesn't.
func (a *Auditor) auditRegistry() error {
	for marketID, b := range a.engine.Markets() {
		bookVolume := int64(0)
		for _, o := range b.Orders() {
			bookVolume += o.Quantity
		}

		registryVolume := int64(0)
		for _, entry := range a.engine.Registry() {
			if entry.MarketID == marketID {
				registryVolume += entry.Quantity
			}
		}

		if bookVolume != registryVolume {
			return fmt.Errorf("%w: registry mismatch in market %+v: book volume %d, registry volume %d",
				common.ErrAuditFailure, marketID, bookVolume, registryVolume)
		}

		for orderID, o := range b.Orders() {
			entry, ok := a.engine.RegistryEntryFor(orderID)
			if !ok {
				return fmt.Errorf("%w: order %d in book %+v missing from registry", common.ErrAuditFailure, orderID, marketID)
			}
			if entry.Quantity != o.Quantity || entry.Price != o.Price || entry.Side != o.Side || entry.UserID != o.UserID || entry.MarketID != marketID {
				return fmt.Errorf("%w: registry entry for order %d does not match book", common.ErrAuditFailure, orderID)
			}
		}
	}
	log.Info().Msg("audit: registry integrity holds")
	return nil
}
