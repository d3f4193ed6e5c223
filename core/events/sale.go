package events

import (
	"math/big"
	"strconv"
	"strings"

	"launchpad/core/types"
	"launchpad/crypto"
)

const (
	// TypeSaleStageAdded is emitted when a new stage is appended to the sale
	// schedule.
	TypeSaleStageAdded = "sale.stage.added"
	// TypeSaleStageUpdated is emitted when an existing stage's cap or purchase
	// bounds change.
	TypeSaleStageUpdated = "sale.stage.updated"
	// TypeSaleStageActivated is emitted when a stage becomes the active stage.
	TypeSaleStageActivated = "sale.stage.activated"
	// TypeSaleStageDeactivated is emitted when the active stage is switched
	// off without a successor.
	TypeSaleStageDeactivated = "sale.stage.deactivated"
	// TypeSaleStateChanged is emitted when the global sale gate flips.
	TypeSaleStateChanged = "sale.state.changed"
	// TypeSaleContribution is emitted once per accepted purchase after the
	// ledger writes commit.
	TypeSaleContribution = "sale.contribution.recorded"
)

// SaleStageAdded captures the parameters of a newly appended stage.
type SaleStageAdded struct {
	StageID     uint64
	Cap         *big.Int
	MinPurchase *big.Int
	MaxPurchase *big.Int
}

// EventType implements the Event interface.
func (SaleStageAdded) EventType() string { return TypeSaleStageAdded }

// Event converts the stage parameters to the generic event payload.
func (e SaleStageAdded) Event() *types.Event {
	return &types.Event{
		Type:       TypeSaleStageAdded,
		Attributes: stageAttributes(e.StageID, e.Cap, e.MinPurchase, e.MaxPurchase),
	}
}

// SaleStageUpdated captures the post-update parameters of a stage.
type SaleStageUpdated struct {
	StageID     uint64
	Cap         *big.Int
	MinPurchase *big.Int
	MaxPurchase *big.Int
}

// EventType implements the Event interface.
func (SaleStageUpdated) EventType() string { return TypeSaleStageUpdated }

// Event converts the updated parameters to the generic event payload.
func (e SaleStageUpdated) Event() *types.Event {
	return &types.Event{
		Type:       TypeSaleStageUpdated,
		Attributes: stageAttributes(e.StageID, e.Cap, e.MinPurchase, e.MaxPurchase),
	}
}

// SaleStageActivated records which stage became active.
type SaleStageActivated struct {
	StageID uint64
}

// EventType implements the Event interface.
func (SaleStageActivated) EventType() string { return TypeSaleStageActivated }

// Event converts the activation to the generic event payload.
func (e SaleStageActivated) Event() *types.Event {
	return &types.Event{
		Type: TypeSaleStageActivated,
		Attributes: map[string]string{
			"stage_id": strconv.FormatUint(e.StageID, 10),
		},
	}
}

// SaleStageDeactivated records which stage was switched off.
type SaleStageDeactivated struct {
	StageID uint64
}

// EventType implements the Event interface.
func (SaleStageDeactivated) EventType() string { return TypeSaleStageDeactivated }

// Event converts the deactivation to the generic event payload.
func (e SaleStageDeactivated) Event() *types.Event {
	return &types.Event{
		Type: TypeSaleStageDeactivated,
		Attributes: map[string]string{
			"stage_id": strconv.FormatUint(e.StageID, 10),
		},
	}
}

// SaleStateChanged records a flip of the global sale gate.
type SaleStateChanged struct {
	Active bool
}

// EventType implements the Event interface.
func (SaleStateChanged) EventType() string { return TypeSaleStateChanged }

// Event converts the gate flip to the generic event payload.
func (e SaleStateChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeSaleStateChanged,
		Attributes: map[string]string{
			"active": strconv.FormatBool(e.Active),
		},
	}
}

// SaleContribution captures an accepted purchase after all ledger writes
// committed. Asset identifies the payment token the buyer supplied and
// AmountIn its raw amount; StableAmount is the credited stable value.
type SaleContribution struct {
	Buyer        [20]byte
	StageID      uint64
	StableAmount *big.Int
	Asset        string
	AmountIn     *big.Int
}

// EventType implements the Event interface.
func (SaleContribution) EventType() string { return TypeSaleContribution }

// Event converts the contribution to the generic event payload.
func (e SaleContribution) Event() *types.Event {
	stable := big.NewInt(0)
	if e.StableAmount != nil {
		stable = new(big.Int).Set(e.StableAmount)
	}
	amountIn := big.NewInt(0)
	if e.AmountIn != nil {
		amountIn = new(big.Int).Set(e.AmountIn)
	}
	buyer := ""
	if e.Buyer != ([20]byte{}) {
		buyer = crypto.NewAddress(e.Buyer[:]).String()
	}
	return &types.Event{
		Type: TypeSaleContribution,
		Attributes: map[string]string{
			"buyer":         buyer,
			"stage_id":      strconv.FormatUint(e.StageID, 10),
			"stable_amount": stable.String(),
			"asset":         strings.TrimSpace(e.Asset),
			"amount_in":     amountIn.String(),
		},
	}
}

func stageAttributes(id uint64, cap, min, max *big.Int) map[string]string {
	capValue := big.NewInt(0)
	if cap != nil {
		capValue = new(big.Int).Set(cap)
	}
	minValue := big.NewInt(0)
	if min != nil {
		minValue = new(big.Int).Set(min)
	}
	maxValue := big.NewInt(0)
	if max != nil {
		maxValue = new(big.Int).Set(max)
	}
	return map[string]string{
		"stage_id":     strconv.FormatUint(id, 10),
		"cap":          capValue.String(),
		"min_purchase": minValue.String(),
		"max_purchase": maxValue.String(),
	}
}
