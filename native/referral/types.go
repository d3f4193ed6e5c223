package referral

import (
	"fmt"
	"math/big"
	"strings"
)

const (
	// RateBpsDenominator is the fixed-point denominator for reward rates.
	RateBpsDenominator = 10_000
	// MaxRateBps caps each level's reward rate at 20%.
	MaxRateBps = 2_000
)

// Config holds the reward rates and the claim gate. Rates are expressed in
// basis points of the contributed stable amount.
type Config struct {
	Level1Bps     uint32
	Level2Bps     uint32
	ClaimsEnabled bool
}

// Validate enforces the protocol bound on both reward rates.
func (c Config) Validate() error {
	if c.Level1Bps > MaxRateBps || c.Level2Bps > MaxRateBps {
		return ErrInvalidRate
	}
	return nil
}

// Ledger is the materialised earnings record of a single referrer.
type Ledger struct {
	TotalEarned  *big.Int
	Claimed      *big.Int
	Level1Earned *big.Int
	Level2Earned *big.Int
}

// Pending reports the amount still claimable.
func (l *Ledger) Pending() *big.Int {
	if l == nil || l.TotalEarned == nil {
		return big.NewInt(0)
	}
	claimed := big.NewInt(0)
	if l.Claimed != nil {
		claimed = l.Claimed
	}
	pending := new(big.Int).Sub(l.TotalEarned, claimed)
	if pending.Sign() < 0 {
		return big.NewInt(0)
	}
	return pending
}

// Copy returns a deep copy to avoid callers mutating shared pointers.
func (l *Ledger) Copy() *Ledger {
	if l == nil {
		return nil
	}
	clone := &Ledger{}
	if l.TotalEarned != nil {
		clone.TotalEarned = new(big.Int).Set(l.TotalEarned)
	}
	if l.Claimed != nil {
		clone.Claimed = new(big.Int).Set(l.Claimed)
	}
	if l.Level1Earned != nil {
		clone.Level1Earned = new(big.Int).Set(l.Level1Earned)
	}
	if l.Level2Earned != nil {
		clone.Level2Earned = new(big.Int).Set(l.Level2Earned)
	}
	return clone
}

// Credit describes a single applied accrual, returned so callers can emit
// events and metrics for exactly the levels that earned.
type Credit struct {
	Referrer [20]byte
	Level    uint8
	Earned   *big.Int
}

type storedConfig struct {
	Level1Bps     uint32
	Level2Bps     uint32
	ClaimsEnabled bool
}

type storedLink struct {
	Referrer [20]byte
}

type storedLedger struct {
	TotalEarned  string
	Claimed      string
	Level1Earned string
	Level2Earned string
}

func toStoredLedger(ledger *Ledger) storedLedger {
	return storedLedger{
		TotalEarned:  amountToString(ledger.TotalEarned),
		Claimed:      amountToString(ledger.Claimed),
		Level1Earned: amountToString(ledger.Level1Earned),
		Level2Earned: amountToString(ledger.Level2Earned),
	}
}

func fromStoredLedger(stored *storedLedger) (*Ledger, error) {
	if stored == nil {
		return nil, fmt.Errorf("referral: nil stored ledger")
	}
	total, err := amountFromString(stored.TotalEarned)
	if err != nil {
		return nil, fmt.Errorf("referral: total earned: %w", err)
	}
	claimed, err := amountFromString(stored.Claimed)
	if err != nil {
		return nil, fmt.Errorf("referral: claimed: %w", err)
	}
	level1, err := amountFromString(stored.Level1Earned)
	if err != nil {
		return nil, fmt.Errorf("referral: level1 earned: %w", err)
	}
	level2, err := amountFromString(stored.Level2Earned)
	if err != nil {
		return nil, fmt.Errorf("referral: level2 earned: %w", err)
	}
	return &Ledger{
		TotalEarned:  total,
		Claimed:      claimed,
		Level1Earned: level1,
		Level2Earned: level2,
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
