package main

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"launchpad/config"
	"launchpad/core/state"
	nativecommon "launchpad/native/common"
	"launchpad/native/referral"
	"launchpad/native/sale"
	"launchpad/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestApplyGenesisSeedsFreshState(t *testing.T) {
	manager := state.NewManager(storage.NewMemDB())
	ledger := sale.NewLedger(manager)
	accountant := referral.NewAccountant(manager)
	cfg := &config.Config{
		Stages: []config.StageSeed{
			{Cap: "1000000", MinPurchase: "100", MaxPurchase: "50000"},
			{Cap: "2000000", MaxPurchase: "80000", Activate: true},
		},
		ReferralLevel1Bps: 500,
		ReferralLevel2Bps: 100,
	}

	if err := applyGenesis(cfg, ledger, accountant, discardLogger()); err != nil {
		t.Fatalf("apply genesis failed: %v", err)
	}

	stages, err := ledger.Stages()
	if err != nil {
		t.Fatalf("list stages: %v", err)
	}
	if len(stages) != 2 {
		t.Fatalf("expected 2 seeded stages, got %d", len(stages))
	}
	active, ok, err := ledger.ActiveStage()
	if err != nil || !ok {
		t.Fatalf("active stage missing: ok=%v err=%v", ok, err)
	}
	if active.ID != 1 {
		t.Fatalf("active stage = %d, want 1", active.ID)
	}
	if saleActive, err := ledger.SaleActive(); err != nil || !saleActive {
		t.Fatalf("sale must be active after seeding: %v %v", saleActive, err)
	}
	rates, err := accountant.Config()
	if err != nil {
		t.Fatalf("read referral config: %v", err)
	}
	if rates.Level1Bps != 500 || rates.Level2Bps != 100 {
		t.Fatalf("referral rates = %d/%d", rates.Level1Bps, rates.Level2Bps)
	}
	if rates.ClaimsEnabled {
		t.Fatalf("claims must start disabled")
	}

	// A restart with different seeds must not rewrite existing state.
	cfg.Stages = []config.StageSeed{{Cap: "5"}}
	cfg.ReferralLevel1Bps = 1
	if err := applyGenesis(cfg, ledger, accountant, discardLogger()); err != nil {
		t.Fatalf("replayed genesis failed: %v", err)
	}
	stages, err = ledger.Stages()
	if err != nil || len(stages) != 2 {
		t.Fatalf("replay must be a no-op, got %d stages (%v)", len(stages), err)
	}
	rates, err = accountant.Config()
	if err != nil || rates.Level1Bps != 500 {
		t.Fatalf("replay must keep stored rates, got %d (%v)", rates.Level1Bps, err)
	}
}

func TestApplyPausesOnlyRaisesSwitches(t *testing.T) {
	manager := state.NewManager(storage.NewMemDB())
	if err := manager.SetPaused(nativecommon.ModuleReferral, true); err != nil {
		t.Fatalf("prime referral pause: %v", err)
	}

	cfg := &config.Config{Pauses: config.Pauses{Sale: true}}
	if err := applyPauses(cfg, manager); err != nil {
		t.Fatalf("apply pauses failed: %v", err)
	}

	if !manager.IsPaused(nativecommon.ModuleSale) {
		t.Fatalf("sale pause seed not applied")
	}
	// A false seed must not clear a pause raised at runtime.
	if !manager.IsPaused(nativecommon.ModuleReferral) {
		t.Fatalf("existing referral pause must survive boot")
	}
	if manager.IsPaused(nativecommon.ModuleMarket) {
		t.Fatalf("market must stay unpaused")
	}
}

func TestLoadOperatorKeyFromEnv(t *testing.T) {
	const keyHex = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	t.Setenv("TEST_LAUNCHPAD_OPERATOR_KEY", keyHex)

	cfg := &config.Config{OperatorKMSEnv: "TEST_LAUNCHPAD_OPERATOR_KEY"}
	key, err := loadOperatorKey(cfg, nil)
	if err != nil {
		t.Fatalf("load from env failed: %v", err)
	}
	if key == nil || key.PrivateKey == nil {
		t.Fatalf("expected a usable key")
	}

	t.Setenv("TEST_LAUNCHPAD_OPERATOR_KEY", "")
	if _, err := loadOperatorKey(cfg, nil); err == nil {
		t.Fatalf("empty key environment variable must be rejected")
	}
}

func TestWaitForRPCStartupSeesListener(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	errCh := make(chan error, 1)
	if err := waitForRPCStartup(listener.Addr().String(), errCh, time.Second); err != nil {
		t.Fatalf("startup wait failed against live listener: %v", err)
	}
}

func TestWaitForRPCStartupReportsServerError(t *testing.T) {
	errCh := make(chan error, 1)
	errCh <- fmt.Errorf("bind failed")
	close(errCh)

	err := waitForRPCStartup("127.0.0.1:1", errCh, time.Second)
	if err == nil || err.Error() != "bind failed" {
		t.Fatalf("expected the server error, got %v", err)
	}
}
