package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"launchpad/native/referral"
)

// Validate checks for values the node cannot start with. Address accessors
// are only meaningful on a validated config.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if err := requireAddress("StableToken", c.StableToken); err != nil {
		return err
	}
	if err := requireAddress("Treasury", c.Treasury); err != nil {
		return err
	}
	if strings.TrimSpace(c.CustodyAccount) != "" {
		if err := requireAddress("CustodyAccount", c.CustodyAccount); err != nil {
			return err
		}
	}
	if strings.TrimSpace(c.EVMEndpoint) == "" {
		return fmt.Errorf("config: EVMEndpoint required")
	}
	if c.ChainID == 0 {
		return fmt.Errorf("config: ChainID required")
	}
	factory := strings.TrimSpace(c.VenueFactory)
	router := strings.TrimSpace(c.VenueRouter)
	if (factory == "") != (router == "") {
		return fmt.Errorf("config: VenueFactory and VenueRouter must be set together")
	}
	if factory != "" {
		if err := requireAddress("VenueFactory", c.VenueFactory); err != nil {
			return err
		}
		if err := requireAddress("VenueRouter", c.VenueRouter); err != nil {
			return err
		}
	}
	if c.ReferralLevel1Bps > referral.MaxRateBps || c.ReferralLevel2Bps > referral.MaxRateBps {
		return fmt.Errorf("config: referral rate exceeds %d bps", referral.MaxRateBps)
	}
	if c.IntentTTL.Duration < 0 {
		return fmt.Errorf("config: IntentTTL must not be negative")
	}
	activations := 0
	for i := range c.Stages {
		if _, _, _, err := c.Stages[i].Bounds(); err != nil {
			return fmt.Errorf("config: stage %d: %w", i+1, err)
		}
		if c.Stages[i].Activate {
			activations++
		}
	}
	if activations > 1 {
		return fmt.Errorf("config: at most one stage seed may set Activate")
	}
	return nil
}

func requireAddress(field, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("config: %s required", field)
	}
	if !common.IsHexAddress(trimmed) {
		return fmt.Errorf("config: %s is not a hex address", field)
	}
	if common.HexToAddress(trimmed) == (common.Address{}) {
		return fmt.Errorf("config: %s must not be the zero address", field)
	}
	return nil
}

// StableTokenAddress returns the parsed stable token contract address.
func (c *Config) StableTokenAddress() common.Address {
	return common.HexToAddress(strings.TrimSpace(c.StableToken))
}

// TreasuryAddress returns the parsed treasury account.
func (c *Config) TreasuryAddress() common.Address {
	return common.HexToAddress(strings.TrimSpace(c.Treasury))
}

// CustodyAddress returns the parsed custody account, zero when unset.
func (c *Config) CustodyAddress() common.Address {
	return common.HexToAddress(strings.TrimSpace(c.CustodyAccount))
}

// FactoryAddress returns the parsed venue factory contract address.
func (c *Config) FactoryAddress() common.Address {
	return common.HexToAddress(strings.TrimSpace(c.VenueFactory))
}

// RouterAddress returns the parsed venue router contract address.
func (c *Config) RouterAddress() common.Address {
	return common.HexToAddress(strings.TrimSpace(c.VenueRouter))
}

// Bounds parses the seed's amounts. Cap must be positive; empty purchase
// bounds stay nil and materialise as zero when the stage is stored.
func (s StageSeed) Bounds() (*big.Int, *big.Int, *big.Int, error) {
	capValue, err := parseSeedAmount("Cap", s.Cap, true)
	if err != nil {
		return nil, nil, nil, err
	}
	minValue, err := parseSeedAmount("MinPurchase", s.MinPurchase, false)
	if err != nil {
		return nil, nil, nil, err
	}
	maxValue, err := parseSeedAmount("MaxPurchase", s.MaxPurchase, false)
	if err != nil {
		return nil, nil, nil, err
	}
	return capValue, minValue, maxValue, nil
}

func parseSeedAmount(field, raw string, required bool) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if required {
			return nil, fmt.Errorf("%s required", field)
		}
		return nil, nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s is not a decimal amount", field)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%s must not be negative", field)
	}
	if required && value.Sign() == 0 {
		return nil, fmt.Errorf("%s must be positive", field)
	}
	return value, nil
}
