package rpc

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"launchpad/crypto"
	"launchpad/native/sale"
)

// StageResult is the wire form of a sale stage. Amounts are decimal strings.
type StageResult struct {
	ID          uint64 `json:"id"`
	Cap         string `json:"cap"`
	MinPurchase string `json:"minPurchase"`
	MaxPurchase string `json:"maxPurchase"`
	TotalRaised string `json:"totalRaised"`
	Active      bool   `json:"active"`
}

// StatusResult reports the sale gate, stage count and active stage.
type StatusResult struct {
	Active     bool         `json:"active"`
	StageCount uint64       `json:"stageCount"`
	Stage      *StageResult `json:"stage,omitempty"`
}

// PurchaseResult is the wire form of a settled purchase receipt.
type PurchaseResult struct {
	StageID      uint64         `json:"stageId"`
	Token        string         `json:"token"`
	AmountIn     string         `json:"amountIn"`
	StableAmount string         `json:"stableAmount"`
	Linked       bool           `json:"linked"`
	Credits      []CreditResult `json:"credits"`
}

// CreditResult is one referral reward accrued by a purchase.
type CreditResult struct {
	Referrer string `json:"referrer"`
	Level    uint8  `json:"level"`
	Earned   string `json:"earned"`
}

// ContributionResult reports a user's cumulative contributions.
type ContributionResult struct {
	Address string            `json:"address"`
	Total   string            `json:"total"`
	ByStage map[string]string `json:"byStage"`
}

// ReferralStateResult reports a user's earnings ledger and stored link.
type ReferralStateResult struct {
	Address      string `json:"address"`
	TotalEarned  string `json:"totalEarned"`
	Claimed      string `json:"claimed"`
	Pending      string `json:"pending"`
	Level1Earned string `json:"level1Earned"`
	Level2Earned string `json:"level2Earned"`
	Referrer     string `json:"referrer,omitempty"`
	Linked       bool   `json:"linked"`
}

// RatesResult reports the referral reward configuration.
type RatesResult struct {
	Level1Bps     uint32 `json:"level1Bps"`
	Level2Bps     uint32 `json:"level2Bps"`
	ClaimsEnabled bool   `json:"claimsEnabled"`
}

// RouteResult is the venue a conversion would run through.
type RouteResult struct {
	TokenIn  string `json:"tokenIn"`
	TokenOut string `json:"tokenOut"`
	Venue    string `json:"venue"`
	FeeTier  uint32 `json:"feeTier"`
	Depth    string `json:"depth"`
	Found    bool   `json:"found"`
}

func formatStage(stage *sale.Stage) *StageResult {
	if stage == nil {
		return nil
	}
	return &StageResult{
		ID:          stage.ID,
		Cap:         bigString(stage.Cap),
		MinPurchase: bigString(stage.MinPurchase),
		MaxPurchase: bigString(stage.MaxPurchase),
		TotalRaised: bigString(stage.TotalRaised),
		Active:      stage.Active,
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatAccount(raw [20]byte) string {
	return crypto.NewAddress(raw[:]).String()
}

func stageKey(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func decodeBech32(addr string) (crypto.Address, error) {
	return crypto.DecodeAddress(strings.TrimSpace(addr))
}

func decodeOptionalBech32(addr string) (crypto.Address, error) {
	if strings.TrimSpace(addr) == "" {
		return crypto.Address{}, nil
	}
	return decodeBech32(addr)
}

func decodeToken(token string) (common.Address, error) {
	trimmed := strings.TrimSpace(token)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid token address %q", token)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(amount string) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return value, nil
}

// parseBound accepts an optional non-negative stage bound. Empty means unset.
func parseBound(amount string) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return value, nil
}
