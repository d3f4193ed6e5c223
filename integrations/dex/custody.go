package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Pull draws amount of token from the payer into the destination account. The
// payer must have approved the operator for at least that amount beforehand.
func (a *Adapter) Pull(ctx context.Context, token common.Address, payer, destination common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("dex: pull amount must be positive")
	}
	data, err := erc20ABI.Pack("transferFrom", payer, destination, amount)
	if err != nil {
		return fmt.Errorf("dex: pack transferFrom: %w", err)
	}
	if _, err := a.execute(ctx, token, data); err != nil {
		return fmt.Errorf("dex: pull %s: %w", token.Hex(), err)
	}
	return nil
}

// Push sends amount of token from the source account to the recipient. When
// the source is the operator itself a plain transfer is used; any other
// source goes through transferFrom and needs a standing approval.
func (a *Adapter) Push(ctx context.Context, token common.Address, source, recipient common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("dex: push amount must be positive")
	}
	var (
		data []byte
		err  error
	)
	if source == a.operator.Address() {
		data, err = erc20ABI.Pack("transfer", recipient, amount)
	} else {
		data, err = erc20ABI.Pack("transferFrom", source, recipient, amount)
	}
	if err != nil {
		return fmt.Errorf("dex: pack transfer: %w", err)
	}
	if _, err := a.execute(ctx, token, data); err != nil {
		return fmt.Errorf("dex: push %s: %w", token.Hex(), err)
	}
	return nil
}
