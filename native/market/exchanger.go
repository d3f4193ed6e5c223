package market

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"launchpad/core/events"
	"launchpad/observability"
)

// Exchanger converts arbitrary payment tokens into the stable unit by routing
// them through the deepest external venue. Callers holding the stable unit
// itself never go through the exchanger.
type Exchanger struct {
	selector *Selector
	executor SwapExecutor
	stable   common.Address
	emitter  events.Emitter
	metrics  *observability.MarketMetrics
}

// NewExchanger constructs an exchanger converting into the supplied stable
// token.
func NewExchanger(selector *Selector, executor SwapExecutor, stable common.Address) *Exchanger {
	return &Exchanger{
		selector: selector,
		executor: executor,
		stable:   stable,
		emitter:  events.NoopEmitter{},
		metrics:  observability.Market(),
	}
}

// SetEmitter wires an event emitter. Passing nil silences event emission.
func (e *Exchanger) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Stable returns the token every conversion settles into.
func (e *Exchanger) Stable() common.Address {
	if e == nil {
		return common.Address{}
	}
	return e.stable
}

// FeeTiers reports the fee tiers the selector probes, in probe order.
func (e *Exchanger) FeeTiers() []uint32 {
	if e == nil {
		return nil
	}
	return e.selector.FeeTiers()
}

// BestRoute previews the venue a conversion of tokenIn would run on, without
// executing anything. ok is false when no tier holds a usable venue.
func (e *Exchanger) BestRoute(ctx context.Context, tokenIn common.Address) (*Route, bool, error) {
	if e == nil || e.selector == nil {
		return nil, false, fmt.Errorf("market: exchanger not initialised")
	}
	return e.selector.BestRoute(ctx, tokenIn, e.stable)
}

// Convert swaps amountIn of tokenIn into the stable unit, crediting the
// output to recipient, and returns the realised stable amount. The swap runs
// on the exact venue the selector picked; it is not re-quoted. MinimumOut and
// PriceLimit are left at zero, so the venue may fill at any price.
func (e *Exchanger) Convert(ctx context.Context, tokenIn common.Address, amountIn *big.Int, recipient common.Address) (*big.Int, error) {
	if e == nil || e.selector == nil || e.executor == nil {
		return nil, fmt.Errorf("market: exchanger not initialised")
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	route, ok, err := e.selector.BestRoute(ctx, tokenIn, e.stable)
	if err != nil {
		e.metrics.RecordFailure("route_lookup")
		return nil, err
	}
	if !ok {
		e.metrics.RecordFailure("no_route")
		return nil, ErrNoLiquidityRoute
	}
	e.metrics.RecordRoute(route.Venue.FeeTier)
	e.emitter.Emit(events.MarketRouteSelected{
		AssetIn:  tokenIn.Hex(),
		AssetOut: e.stable.Hex(),
		Venue:    route.Venue.Address.Hex(),
		FeeTier:  route.Venue.FeeTier,
		Depth:    route.Venue.Depth.ToBig(),
	})

	amountOut, err := e.executor.SwapExactInput(ctx, SwapParams{
		TokenIn:    tokenIn,
		TokenOut:   e.stable,
		FeeTier:    route.Venue.FeeTier,
		Recipient:  recipient,
		AmountIn:   amountIn,
		MinimumOut: big.NewInt(0),
		PriceLimit: big.NewInt(0),
	})
	if err != nil {
		e.metrics.RecordFailure("swap_execution")
		return nil, fmt.Errorf("market: swap via %s: %w", route.Venue.Address.Hex(), err)
	}
	e.emitter.Emit(events.MarketConverted{
		AssetIn:   tokenIn.Hex(),
		AmountIn:  new(big.Int).Set(amountIn),
		AmountOut: amountOut,
		Venue:     route.Venue.Address.Hex(),
	})
	return amountOut, nil
}
