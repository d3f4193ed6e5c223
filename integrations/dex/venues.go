package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"launchpad/native/market"
)

// Venue resolves the pool for the pair at the given fee tier and reads its
// in-range liquidity. A factory that knows no such pool reports ok=false.
func (a *Adapter) Venue(ctx context.Context, tokenA, tokenB common.Address, feeTier uint32) (*market.Venue, bool, error) {
	if a.cfg.Factory == (common.Address{}) {
		return nil, false, fmt.Errorf("dex: venue factory not configured")
	}
	data, err := factoryABI.Pack("getPool", tokenA, tokenB, big.NewInt(int64(feeTier)))
	if err != nil {
		return nil, false, fmt.Errorf("dex: pack getPool: %w", err)
	}
	out, err := a.view(ctx, a.cfg.Factory, data)
	if err != nil {
		return nil, false, fmt.Errorf("dex: query factory: %w", err)
	}
	decoded, err := factoryABI.Unpack("getPool", out)
	if err != nil {
		return nil, false, fmt.Errorf("dex: decode getPool: %w", err)
	}
	pool, ok := decoded[0].(common.Address)
	if !ok {
		return nil, false, fmt.Errorf("dex: unexpected getPool result type %T", decoded[0])
	}
	if pool == (common.Address{}) {
		return nil, false, nil
	}
	depth, err := a.poolLiquidity(ctx, pool)
	if err != nil {
		return nil, false, err
	}
	return &market.Venue{Address: pool, FeeTier: feeTier, Depth: depth}, true, nil
}

func (a *Adapter) poolLiquidity(ctx context.Context, pool common.Address) (*uint256.Int, error) {
	data, err := poolABI.Pack("liquidity")
	if err != nil {
		return nil, fmt.Errorf("dex: pack liquidity: %w", err)
	}
	out, err := a.view(ctx, pool, data)
	if err != nil {
		return nil, fmt.Errorf("dex: query pool %s: %w", pool.Hex(), err)
	}
	decoded, err := poolABI.Unpack("liquidity", out)
	if err != nil {
		return nil, fmt.Errorf("dex: decode liquidity: %w", err)
	}
	liquidity, ok := decoded[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("dex: unexpected liquidity result type %T", decoded[0])
	}
	depth, overflow := uint256.FromBig(liquidity)
	if overflow {
		return nil, fmt.Errorf("dex: pool %s liquidity overflows uint256", pool.Hex())
	}
	return depth, nil
}
