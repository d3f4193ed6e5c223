package dex

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EVMBackend is the subset of the Ethereum RPC surface the adapter uses.
// *ethclient.Client satisfies it.
type EVMBackend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// Dial initialises an EVM RPC client for the provided endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("dex: evm endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// Operator signs adapter transactions with the custody key. Its address must
// own the custody balances and hold router approvals for the payment tokens.
type Operator struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

// NewOperator wraps a secp256k1 key for the given chain.
func NewOperator(key *ecdsa.PrivateKey, chainID *big.Int) (*Operator, error) {
	if key == nil {
		return nil, fmt.Errorf("dex: operator key required")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("dex: chain id required")
	}
	return &Operator{
		key:     key,
		address: gethcrypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).Set(chainID),
	}, nil
}

// OperatorFromBytes builds an operator from a raw 32-byte secp256k1 key.
func OperatorFromBytes(raw []byte, chainID *big.Int) (*Operator, error) {
	key, err := gethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("dex: parse operator key: %w", err)
	}
	return NewOperator(key, chainID)
}

// Address reports the account the operator signs from.
func (o *Operator) Address() common.Address {
	if o == nil {
		return common.Address{}
	}
	return o.address
}

func (o *Operator) sign(tx *gethtypes.Transaction) (*gethtypes.Transaction, error) {
	return gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(o.chainID), o.key)
}

// execute signs and submits a contract call, then blocks until the receipt
// lands. A reverted receipt is an error.
func (a *Adapter) execute(ctx context.Context, to common.Address, data []byte) (*gethtypes.Receipt, error) {
	nonce, err := a.backend.PendingNonceAt(ctx, a.operator.Address())
	if err != nil {
		return nil, fmt.Errorf("dex: fetch nonce: %w", err)
	}
	gasPrice, err := a.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("dex: suggest gas price: %w", err)
	}
	gas, err := a.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: a.operator.Address(),
		To:   &to,
		Data: data,
	})
	if err != nil {
		return nil, fmt.Errorf("dex: estimate gas: %w", err)
	}
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := a.operator.sign(tx)
	if err != nil {
		return nil, fmt.Errorf("dex: sign transaction: %w", err)
	}
	if err := a.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("dex: send transaction: %w", err)
	}
	receipt, err := a.waitMined(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("dex: transaction %s reverted", signed.Hash().Hex())
	}
	return receipt, nil
}

func (a *Adapter) waitMined(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	ticker := time.NewTicker(a.cfg.ReceiptPoll)
	defer ticker.Stop()
	for {
		receipt, err := a.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("dex: fetch receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// view performs an eth_call against a contract and returns the raw output.
func (a *Adapter) view(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return a.backend.CallContract(ctx, ethereum.CallMsg{
		From: a.operator.Address(),
		To:   &to,
		Data: data,
	}, nil)
}
