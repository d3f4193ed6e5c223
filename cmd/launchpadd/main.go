package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"strings"
	"time"

	"launchpad/cmd/internal/passphrase"
	"launchpad/config"
	"launchpad/core"
	"launchpad/core/events"
	"launchpad/core/state"
	"launchpad/crypto"
	"launchpad/integrations/dex"
	nativecommon "launchpad/native/common"
	"launchpad/native/market"
	"launchpad/native/referral"
	"launchpad/native/sale"
	"launchpad/observability/logging"
	"launchpad/rpc"
	"launchpad/storage"
)

const operatorPassEnv = "LAUNCHPAD_OPERATOR_PASS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LAUNCHPAD_ENV"))
	logger := logging.Setup("launchpadd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	manager := state.NewManager(db)

	passSource := passphrase.NewSource(operatorPassEnv)
	operatorKey, err := loadOperatorKey(cfg, passSource.Get)
	if err != nil {
		panic(fmt.Sprintf("Failed to load operator key: %v", err))
	}

	evmClient, err := dex.Dial(cfg.EVMEndpoint)
	if err != nil {
		panic(fmt.Sprintf("Failed to dial EVM endpoint: %v", err))
	}
	operator, err := dex.NewOperator(operatorKey.PrivateKey, new(big.Int).SetUint64(cfg.ChainID))
	if err != nil {
		panic(fmt.Sprintf("Failed to initialise operator: %v", err))
	}
	adapter, err := dex.NewAdapter(evmClient, operator, dex.Config{
		Factory:      cfg.FactoryAddress(),
		Router:       cfg.RouterAddress(),
		SwapDeadline: cfg.SwapDeadline.Duration,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialise custody adapter: %v", err))
	}

	ledger := sale.NewLedger(manager)
	accountant := referral.NewAccountant(manager)

	var exchanger *market.Exchanger
	if cfg.SwapEnabled() {
		selector := market.NewSelector(adapter, cfg.FeeTiers)
		exchanger = market.NewExchanger(selector, adapter, cfg.StableTokenAddress())
	} else {
		logger.Info("Venue contracts not configured; accepting stable-token payments only")
	}

	node, err := core.NewNode(core.Config{
		StableToken:    cfg.StableTokenAddress(),
		Treasury:       cfg.TreasuryAddress(),
		CustodyAccount: cfg.CustodyAddress(),
	}, ledger, accountant, exchanger, adapter, manager)
	if err != nil {
		panic(fmt.Sprintf("Failed to create node: %v", err))
	}
	node.SetPauses(manager)

	stream := events.NewStream(cfg.EventHistory)
	node.SetEmitter(stream)

	intents, err := core.OpenIntentStore(cfg.IntentPath(), cfg.IntentTTL.Duration)
	if err != nil {
		panic(fmt.Sprintf("Failed to open intent store: %v", err))
	}
	defer intents.Close()
	node.SetIntentStore(intents)

	if err := applyGenesis(cfg, ledger, accountant, logger); err != nil {
		panic(fmt.Sprintf("Failed to apply genesis configuration: %v", err))
	}
	if err := applyPauses(cfg, manager); err != nil {
		panic(fmt.Sprintf("Failed to apply pause configuration: %v", err))
	}

	rpcServer := rpc.NewServer(node, stream)
	rpcErrCh := make(chan error, 1)
	go func() {
		err := rpcServer.Start(cfg.RPCAddress)
		rpcErrCh <- err
		close(rpcErrCh)
	}()

	if err := waitForRPCStartup(cfg.RPCAddress, rpcErrCh, 5*time.Second); err != nil {
		logger.Error("RPC server failed to start", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("Launchpad node initialised and running",
		slog.String("rpc", cfg.RPCAddress),
		slog.String("network", cfg.NetworkName),
		slog.String("operator", operator.Address().Hex()),
		logging.MaskField("evm_endpoint", cfg.EVMEndpoint))

	if err, ok := <-rpcErrCh; ok && err != nil {
		logger.Error("RPC server terminated", slog.Any("error", err))
		os.Exit(1)
	}
}

// applyGenesis seeds the stage schedule and referral rates on a fresh data
// directory. Both seeds are no-ops once state exists, so restarts with the
// same configuration are safe.
func applyGenesis(cfg *config.Config, ledger *sale.Ledger, accountant *referral.Accountant, logger *slog.Logger) error {
	params := make([]sale.StageParams, 0, len(cfg.Stages))
	activateIdx := -1
	for i, seed := range cfg.Stages {
		capValue, minValue, maxValue, err := seed.Bounds()
		if err != nil {
			return fmt.Errorf("stage %d: %w", i+1, err)
		}
		params = append(params, sale.StageParams{Cap: capValue, MinPurchase: minValue, MaxPurchase: maxValue})
		if seed.Activate {
			activateIdx = i
		}
	}

	applied, err := ledger.ApplyGenesis(params)
	if err != nil {
		return err
	}
	if applied {
		if activateIdx >= 0 {
			if _, _, err := ledger.ActivateStage(uint64(activateIdx)); err != nil {
				return err
			}
			if _, err := ledger.SetSaleActive(true); err != nil {
				return err
			}
		}
		logger.Info("Seeded sale stages",
			slog.Int("stages", len(params)),
			slog.Bool("sale_active", activateIdx >= 0))
	}

	seeded, err := accountant.ApplyGenesis(referral.Config{
		Level1Bps: cfg.ReferralLevel1Bps,
		Level2Bps: cfg.ReferralLevel2Bps,
	})
	if err != nil {
		return err
	}
	if seeded {
		logger.Info("Seeded referral rates",
			slog.Uint64("level1_bps", uint64(cfg.ReferralLevel1Bps)),
			slog.Uint64("level2_bps", uint64(cfg.ReferralLevel2Bps)))
	}
	return nil
}

// applyPauses raises the pause switches the configuration asks for. Pauses
// are only ever set here; clearing one is an explicit admin operation.
func applyPauses(cfg *config.Config, manager *state.Manager) error {
	seeds := []struct {
		module string
		paused bool
	}{
		{nativecommon.ModuleSale, cfg.Pauses.Sale},
		{nativecommon.ModuleReferral, cfg.Pauses.Referral},
		{nativecommon.ModuleMarket, cfg.Pauses.Market},
	}
	for _, seed := range seeds {
		if !seed.paused {
			continue
		}
		if err := manager.SetPaused(seed.module, true); err != nil {
			return err
		}
	}
	return nil
}

func loadOperatorKey(cfg *config.Config, resolvePassphrase func() (string, error)) (*crypto.PrivateKey, error) {
	if cfg.OperatorKMSEnv != "" {
		raw := strings.TrimSpace(os.Getenv(cfg.OperatorKMSEnv))
		if raw == "" {
			return nil, fmt.Errorf("operator key environment variable %s is empty", cfg.OperatorKMSEnv)
		}
		decoded, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
		if err != nil {
			return nil, fmt.Errorf("decode operator key: %w", err)
		}
		return crypto.PrivateKeyFromBytes(decoded)
	}

	if cfg.OperatorKeystorePath == "" {
		return nil, fmt.Errorf("operator keystore path not configured")
	}
	if resolvePassphrase == nil {
		return nil, fmt.Errorf("operator keystore passphrase required; set %s or run interactively", operatorPassEnv)
	}
	pass, err := resolvePassphrase()
	if err != nil {
		return nil, fmt.Errorf("failed to obtain operator keystore passphrase: %w", err)
	}
	key, err := crypto.LoadOperatorKey(cfg.OperatorKeystorePath, pass)
	if err != nil {
		return nil, fmt.Errorf("unable to decrypt keystore %s: %w", cfg.OperatorKeystorePath, err)
	}
	return key, nil
}

func waitForRPCStartup(addr string, errCh <-chan error, timeout time.Duration) error {
	dialAddr := dialAddressFor(addr)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err, ok := <-errCh:
			if !ok {
				return fmt.Errorf("RPC server terminated before startup confirmation")
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("RPC server exited before startup confirmation")
		default:
		}

		conn, err := net.DialTimeout("tcp", dialAddr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case err, ok := <-errCh:
			if !ok {
				return fmt.Errorf("RPC server terminated before startup confirmation")
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("RPC server exited before startup confirmation")
		case <-ticker.C:
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for RPC server to start on %s", addr)
		}
	}
}

func dialAddressFor(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
