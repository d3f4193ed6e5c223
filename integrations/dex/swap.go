package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"launchpad/native/market"
)

// SwapExactInput swaps params.AmountIn of TokenIn for TokenOut on the router
// and returns the realised output amount. The output is read by simulating
// the call before the transaction is submitted; the venue enforces the same
// bounds on execution.
func (a *Adapter) SwapExactInput(ctx context.Context, params market.SwapParams) (*big.Int, error) {
	if a.cfg.Router == (common.Address{}) {
		return nil, fmt.Errorf("dex: venue router not configured")
	}
	if params.AmountIn == nil || params.AmountIn.Sign() <= 0 {
		return nil, fmt.Errorf("dex: swap amount must be positive")
	}
	deadline := a.now().Add(a.cfg.SwapDeadline).Unix()
	call := exactInputSingleParams{
		TokenIn:           params.TokenIn,
		TokenOut:          params.TokenOut,
		Fee:               big.NewInt(int64(params.FeeTier)),
		Recipient:         params.Recipient,
		Deadline:          big.NewInt(deadline),
		AmountIn:          new(big.Int).Set(params.AmountIn),
		AmountOutMinimum:  orZero(params.MinimumOut),
		SqrtPriceLimitX96: orZero(params.PriceLimit),
	}
	data, err := routerABI.Pack("exactInputSingle", call)
	if err != nil {
		return nil, fmt.Errorf("dex: pack exactInputSingle: %w", err)
	}
	amountOut, err := a.simulateSwap(ctx, data)
	if err != nil {
		return nil, err
	}
	if _, err := a.execute(ctx, a.cfg.Router, data); err != nil {
		return nil, fmt.Errorf("dex: execute swap: %w", err)
	}
	return amountOut, nil
}

func (a *Adapter) simulateSwap(ctx context.Context, data []byte) (*big.Int, error) {
	out, err := a.view(ctx, a.cfg.Router, data)
	if err != nil {
		return nil, fmt.Errorf("dex: simulate swap: %w", err)
	}
	decoded, err := routerABI.Unpack("exactInputSingle", out)
	if err != nil {
		return nil, fmt.Errorf("dex: decode swap output: %w", err)
	}
	amountOut, ok := decoded[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("dex: unexpected swap result type %T", decoded[0])
	}
	return amountOut, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
