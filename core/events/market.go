package events

import (
	"math/big"
	"strconv"
	"strings"

	"launchpad/core/types"
)

const (
	// TypeMarketRouteSelected is emitted when the route selector settles on a
	// venue for a token pair.
	TypeMarketRouteSelected = "market.route.selected"
	// TypeMarketConverted is emitted after a payment token has been swapped
	// into the stable unit.
	TypeMarketConverted = "market.converted"
)

// MarketRouteSelected records the venue chosen for a conversion.
type MarketRouteSelected struct {
	AssetIn  string
	AssetOut string
	Venue    string
	FeeTier  uint32
	Depth    *big.Int
}

// EventType implements the Event interface.
func (MarketRouteSelected) EventType() string { return TypeMarketRouteSelected }

// Event converts the route choice to the generic event payload.
func (e MarketRouteSelected) Event() *types.Event {
	depth := big.NewInt(0)
	if e.Depth != nil {
		depth = new(big.Int).Set(e.Depth)
	}
	return &types.Event{
		Type: TypeMarketRouteSelected,
		Attributes: map[string]string{
			"asset_in":  strings.TrimSpace(e.AssetIn),
			"asset_out": strings.TrimSpace(e.AssetOut),
			"venue":     strings.TrimSpace(e.Venue),
			"fee_tier":  strconv.FormatUint(uint64(e.FeeTier), 10),
			"depth":     depth.String(),
		},
	}
}

// MarketConverted records the realised amounts of a payment conversion.
type MarketConverted struct {
	AssetIn   string
	AmountIn  *big.Int
	AmountOut *big.Int
	Venue     string
}

// EventType implements the Event interface.
func (MarketConverted) EventType() string { return TypeMarketConverted }

// Event converts the swap outcome to the generic event payload.
func (e MarketConverted) Event() *types.Event {
	amountIn := big.NewInt(0)
	if e.AmountIn != nil {
		amountIn = new(big.Int).Set(e.AmountIn)
	}
	amountOut := big.NewInt(0)
	if e.AmountOut != nil {
		amountOut = new(big.Int).Set(e.AmountOut)
	}
	return &types.Event{
		Type: TypeMarketConverted,
		Attributes: map[string]string{
			"asset_in":   strings.TrimSpace(e.AssetIn),
			"amount_in":  amountIn.String(),
			"amount_out": amountOut.String(),
			"venue":      strings.TrimSpace(e.Venue),
		},
	}
}
