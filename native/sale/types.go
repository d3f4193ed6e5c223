package sale

import (
	"fmt"
	"math/big"
	"strings"
)

// StageParams carries the admin-supplied configuration of a stage. Cap is the
// total stable amount the stage may raise; MinPurchase and MaxPurchase bound a
// single buyer's cumulative contribution within the stage.
type StageParams struct {
	Cap         *big.Int
	MinPurchase *big.Int
	MaxPurchase *big.Int
}

// Validate enforces the structural stage invariants shared by add and update
// operations.
func (p StageParams) Validate() error {
	if p.Cap == nil || p.Cap.Sign() <= 0 {
		return ErrInvalidLimits
	}
	if p.MinPurchase != nil && p.MinPurchase.Sign() < 0 {
		return ErrInvalidLimits
	}
	if p.MaxPurchase != nil && p.MaxPurchase.Sign() < 0 {
		return ErrInvalidLimits
	}
	min := big.NewInt(0)
	if p.MinPurchase != nil {
		min = p.MinPurchase
	}
	max := big.NewInt(0)
	if p.MaxPurchase != nil {
		max = p.MaxPurchase
	}
	if max.Cmp(min) < 0 {
		return ErrInvalidLimits
	}
	return nil
}

// Stage is the materialised view of a sale stage.
type Stage struct {
	ID          uint64
	Cap         *big.Int
	MinPurchase *big.Int
	MaxPurchase *big.Int
	TotalRaised *big.Int
	Active      bool
}

// Copy returns a deep copy to avoid callers mutating shared pointers.
func (s *Stage) Copy() *Stage {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Cap != nil {
		clone.Cap = new(big.Int).Set(s.Cap)
	}
	if s.MinPurchase != nil {
		clone.MinPurchase = new(big.Int).Set(s.MinPurchase)
	}
	if s.MaxPurchase != nil {
		clone.MaxPurchase = new(big.Int).Set(s.MaxPurchase)
	}
	if s.TotalRaised != nil {
		clone.TotalRaised = new(big.Int).Set(s.TotalRaised)
	}
	return &clone
}

// Remaining reports the stable amount the stage can still absorb before the
// cap is reached.
func (s *Stage) Remaining() *big.Int {
	if s == nil || s.Cap == nil {
		return big.NewInt(0)
	}
	raised := big.NewInt(0)
	if s.TotalRaised != nil {
		raised = s.TotalRaised
	}
	remaining := new(big.Int).Sub(s.Cap, raised)
	if remaining.Sign() < 0 {
		return big.NewInt(0)
	}
	return remaining
}

type storedStage struct {
	Cap         string
	MinPurchase string
	MaxPurchase string
	TotalRaised string
}

type storedSaleState struct {
	Active      bool
	StageCount  uint64
	ActiveStage uint64
	HasActive   bool
}

type storedAmount struct {
	Amount string
}

func toStoredStage(stage *Stage) storedStage {
	return storedStage{
		Cap:         amountToString(stage.Cap),
		MinPurchase: amountToString(stage.MinPurchase),
		MaxPurchase: amountToString(stage.MaxPurchase),
		TotalRaised: amountToString(stage.TotalRaised),
	}
}

func fromStoredStage(id uint64, stored *storedStage) (*Stage, error) {
	if stored == nil {
		return nil, fmt.Errorf("sale: nil stored stage")
	}
	cap, err := amountFromString(stored.Cap)
	if err != nil {
		return nil, fmt.Errorf("sale: stage %d cap: %w", id, err)
	}
	min, err := amountFromString(stored.MinPurchase)
	if err != nil {
		return nil, fmt.Errorf("sale: stage %d min purchase: %w", id, err)
	}
	max, err := amountFromString(stored.MaxPurchase)
	if err != nil {
		return nil, fmt.Errorf("sale: stage %d max purchase: %w", id, err)
	}
	raised, err := amountFromString(stored.TotalRaised)
	if err != nil {
		return nil, fmt.Errorf("sale: stage %d total raised: %w", id, err)
	}
	return &Stage{
		ID:          id,
		Cap:         cap,
		MinPurchase: min,
		MaxPurchase: max,
		TotalRaised: raised,
	}, nil
}

func amountToString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func amountFromString(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}
