package events

import (
	"math/big"
	"strconv"

	"launchpad/core/types"
	"launchpad/crypto"
)

const (
	// TypeReferralLinked is emitted when a buyer is bound to a referrer for
	// the first time.
	TypeReferralLinked = "referral.linked"
	// TypeReferralCredited is emitted once per referral level that accrues
	// earnings from a purchase.
	TypeReferralCredited = "referral.credited"
	// TypeReferralClaimed is emitted when a referrer withdraws pending
	// earnings.
	TypeReferralClaimed = "referral.claimed"
	// TypeReferralRatesUpdated is emitted when the per-level reward rates
	// change.
	TypeReferralRatesUpdated = "referral.rates.updated"
	// TypeReferralClaimsGate is emitted when the claim gate is toggled.
	TypeReferralClaimsGate = "referral.claims.gate"
)

// ReferralLinked captures the first-touch binding of a buyer to a referrer.
type ReferralLinked struct {
	User     [20]byte
	Referrer [20]byte
}

// EventType implements the Event interface.
func (ReferralLinked) EventType() string { return TypeReferralLinked }

// Event converts the link to the generic event payload.
func (e ReferralLinked) Event() *types.Event {
	return &types.Event{
		Type: TypeReferralLinked,
		Attributes: map[string]string{
			"user":     encodeAccount(e.User),
			"referrer": encodeAccount(e.Referrer),
		},
	}
}

// ReferralCredited captures a single-level reward accrual. Level is 1 for the
// direct referrer and 2 for the referrer's referrer.
type ReferralCredited struct {
	Referrer [20]byte
	Referred [20]byte
	Level    uint8
	Base     *big.Int
	Earned   *big.Int
}

// EventType implements the Event interface.
func (ReferralCredited) EventType() string { return TypeReferralCredited }

// Event converts the accrual to the generic event payload.
func (e ReferralCredited) Event() *types.Event {
	base := big.NewInt(0)
	if e.Base != nil {
		base = new(big.Int).Set(e.Base)
	}
	earned := big.NewInt(0)
	if e.Earned != nil {
		earned = new(big.Int).Set(e.Earned)
	}
	return &types.Event{
		Type: TypeReferralCredited,
		Attributes: map[string]string{
			"referrer": encodeAccount(e.Referrer),
			"referred": encodeAccount(e.Referred),
			"level":    strconv.FormatUint(uint64(e.Level), 10),
			"base":     base.String(),
			"earned":   earned.String(),
		},
	}
}

// ReferralClaimed captures a successful withdrawal of pending earnings.
type ReferralClaimed struct {
	User   [20]byte
	Amount *big.Int
}

// EventType implements the Event interface.
func (ReferralClaimed) EventType() string { return TypeReferralClaimed }

// Event converts the claim to the generic event payload.
func (e ReferralClaimed) Event() *types.Event {
	amount := big.NewInt(0)
	if e.Amount != nil {
		amount = new(big.Int).Set(e.Amount)
	}
	return &types.Event{
		Type: TypeReferralClaimed,
		Attributes: map[string]string{
			"user":   encodeAccount(e.User),
			"amount": amount.String(),
		},
	}
}

// ReferralRatesUpdated captures the new per-level reward rates in basis
// points.
type ReferralRatesUpdated struct {
	Level1Bps uint32
	Level2Bps uint32
}

// EventType implements the Event interface.
func (ReferralRatesUpdated) EventType() string { return TypeReferralRatesUpdated }

// Event converts the rate change to the generic event payload.
func (e ReferralRatesUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeReferralRatesUpdated,
		Attributes: map[string]string{
			"level1_bps": strconv.FormatUint(uint64(e.Level1Bps), 10),
			"level2_bps": strconv.FormatUint(uint64(e.Level2Bps), 10),
		},
	}
}

// ReferralClaimsGate captures a toggle of the claim gate.
type ReferralClaimsGate struct {
	Enabled bool
}

// EventType implements the Event interface.
func (ReferralClaimsGate) EventType() string { return TypeReferralClaimsGate }

// Event converts the gate toggle to the generic event payload.
func (e ReferralClaimsGate) Event() *types.Event {
	return &types.Event{
		Type: TypeReferralClaimsGate,
		Attributes: map[string]string{
			"enabled": strconv.FormatBool(e.Enabled),
		},
	}
}

func encodeAccount(account [20]byte) string {
	if account == ([20]byte{}) {
		return ""
	}
	return crypto.NewAddress(account[:]).String()
}
