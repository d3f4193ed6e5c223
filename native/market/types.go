package market

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInvalidAmount    = errors.New("market: amount must be positive")
	ErrNoLiquidityRoute = errors.New("market: no liquidity route")
)

// DefaultFeeTiers lists the fee tiers probed when none are configured, in
// hundredths of a basis point per the concentrated-liquidity convention.
var DefaultFeeTiers = []uint32{100, 500, 3_000, 10_000}

// Venue is a single liquidity pool for a token pair at one fee tier. Depth is
// the pool's in-range liquidity and is what routes are ranked by.
type Venue struct {
	Address common.Address
	FeeTier uint32
	Depth   *uint256.Int
}

// Copy returns a deep copy to avoid callers mutating shared pointers.
func (v *Venue) Copy() *Venue {
	if v == nil {
		return nil
	}
	clone := *v
	if v.Depth != nil {
		clone.Depth = new(uint256.Int).Set(v.Depth)
	}
	return &clone
}

// VenueSource resolves the venue for a token pair at a given fee tier. A
// missing pool reports ok=false rather than an error.
type VenueSource interface {
	Venue(ctx context.Context, tokenA, tokenB common.Address, feeTier uint32) (*Venue, bool, error)
}

// SwapParams describe an exact-input single-hop swap. MinimumOut and
// PriceLimit of zero disable the respective venue-side bound.
type SwapParams struct {
	TokenIn    common.Address
	TokenOut   common.Address
	FeeTier    uint32
	Recipient  common.Address
	AmountIn   *big.Int
	MinimumOut *big.Int
	PriceLimit *big.Int
}

// SwapExecutor performs the swap against the external venue and returns the
// realised output amount.
type SwapExecutor interface {
	SwapExactInput(ctx context.Context, params SwapParams) (*big.Int, error)
}

// Route is a selected venue bound to the pair it was quoted for.
type Route struct {
	TokenIn  common.Address
	TokenOut common.Address
	Venue    Venue
}
