package dex

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	defaultSwapDeadline = 5 * time.Minute
	defaultReceiptPoll  = 500 * time.Millisecond
)

// Config locates the venue contracts the adapter talks to.
type Config struct {
	// Factory is the pool factory used to resolve token/fee-tier venues.
	Factory common.Address
	// Router executes swaps against resolved venues.
	Router common.Address
	// SwapDeadline bounds how long a submitted swap stays valid.
	SwapDeadline time.Duration
	// ReceiptPoll is the interval between receipt lookups while a
	// transaction is pending.
	ReceiptPoll time.Duration
}

func (c Config) withDefaults() Config {
	if c.SwapDeadline <= 0 {
		c.SwapDeadline = defaultSwapDeadline
	}
	if c.ReceiptPoll <= 0 {
		c.ReceiptPoll = defaultReceiptPoll
	}
	return c
}

// Adapter moves ERC-20 balances and executes swaps on an external EVM chain.
// It backs the custody, venue-discovery and swap-execution hooks of the node.
type Adapter struct {
	backend  EVMBackend
	operator *Operator
	cfg      Config
	now      func() time.Time
}

// NewAdapter wires an adapter over the given backend and signing operator.
// The venue contracts are optional; without them the adapter still settles
// custody transfers but cannot resolve venues or execute swaps.
func NewAdapter(backend EVMBackend, operator *Operator, cfg Config) (*Adapter, error) {
	if backend == nil {
		return nil, fmt.Errorf("dex: backend required")
	}
	if operator == nil {
		return nil, fmt.Errorf("dex: operator required")
	}
	return &Adapter{
		backend:  backend,
		operator: operator,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}, nil
}
