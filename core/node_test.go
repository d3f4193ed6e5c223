package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"launchpad/core/events"
	"launchpad/core/state"
	"launchpad/crypto"
	nativecommon "launchpad/native/common"
	"launchpad/native/market"
	"launchpad/native/referral"
	"launchpad/native/sale"
	"launchpad/storage"
)

var (
	testStable   = common.BytesToAddress([]byte{0x51})
	testPayToken = common.BytesToAddress([]byte{0x70})
	testTreasury = common.BytesToAddress([]byte{0x7e})
	testCustody  = common.BytesToAddress([]byte{0xc5})
)

func account(i byte) crypto.Address {
	var raw [20]byte
	raw[19] = i
	return crypto.NewAddress(raw[:])
}

type transferCall struct {
	token  common.Address
	from   common.Address
	to     common.Address
	amount *big.Int
}

type stubCustody struct {
	pulls   []transferCall
	pushes  []transferCall
	pullErr error
	pushErr error
}

func (c *stubCustody) Pull(_ context.Context, token common.Address, payer, destination common.Address, amount *big.Int) error {
	if c.pullErr != nil {
		return c.pullErr
	}
	c.pulls = append(c.pulls, transferCall{token: token, from: payer, to: destination, amount: new(big.Int).Set(amount)})
	return nil
}

func (c *stubCustody) Push(_ context.Context, token common.Address, source, recipient common.Address, amount *big.Int) error {
	if c.pushErr != nil {
		return c.pushErr
	}
	c.pushes = append(c.pushes, transferCall{token: token, from: source, to: recipient, amount: new(big.Int).Set(amount)})
	return nil
}

type stubVenueSource struct {
	depths map[uint32]*uint256.Int
}

func (s *stubVenueSource) Venue(_ context.Context, _, _ common.Address, feeTier uint32) (*market.Venue, bool, error) {
	depth, ok := s.depths[feeTier]
	if !ok {
		return nil, false, nil
	}
	return &market.Venue{Address: common.BytesToAddress([]byte{byte(feeTier)}), FeeTier: feeTier, Depth: depth}, true, nil
}

type stubSwapExecutor struct {
	out   *big.Int
	err   error
	calls []market.SwapParams
}

func (s *stubSwapExecutor) SwapExactInput(_ context.Context, params market.SwapParams) (*big.Int, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.calls = append(s.calls, params)
	if s.out != nil {
		return new(big.Int).Set(s.out), nil
	}
	return new(big.Int).Set(params.AmountIn), nil
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) reset() { r.events = nil }

func (r *recordingEmitter) types() []string {
	out := make([]string, len(r.events))
	for i, evt := range r.events {
		out[i] = evt.EventType()
	}
	return out
}

type nodeHarness struct {
	node     *Node
	manager  *state.Manager
	custody  *stubCustody
	executor *stubSwapExecutor
	emitter  *recordingEmitter
	admin    crypto.Address
}

func newTestNode(t *testing.T) *nodeHarness {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	ledger := sale.NewLedger(manager)
	accountant := referral.NewAccountant(manager)
	custody := &stubCustody{}
	executor := &stubSwapExecutor{}
	source := &stubVenueSource{depths: map[uint32]*uint256.Int{3000: uint256.NewInt(1_000)}}
	exchanger := market.NewExchanger(market.NewSelector(source, nil), executor, testStable)

	admin := account(0xad)
	for _, role := range []string{nativecommon.RoleSaleAdmin, nativecommon.RoleReferralAdmin, nativecommon.RolePauser} {
		if err := manager.GrantRole(role, admin.Bytes()); err != nil {
			t.Fatalf("grant %s: %v", role, err)
		}
	}

	cfg := Config{StableToken: testStable, Treasury: testTreasury, CustodyAccount: testCustody}
	node, err := NewNode(cfg, ledger, accountant, exchanger, custody, manager)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	node.SetPauses(manager)
	emitter := &recordingEmitter{}
	node.SetEmitter(emitter)
	return &nodeHarness{node: node, manager: manager, custody: custody, executor: executor, emitter: emitter, admin: admin}
}

// openSale installs a single active stage, with the per-user maximum at the
// cap, and flips the sale gate on.
func (h *nodeHarness) openSale(t *testing.T, cap int64) uint64 {
	t.Helper()
	id, err := h.node.AddStage(h.admin, sale.StageParams{Cap: big.NewInt(cap), MaxPurchase: big.NewInt(cap)})
	if err != nil {
		t.Fatalf("add stage: %v", err)
	}
	if err := h.node.ActivateStage(h.admin, id); err != nil {
		t.Fatalf("activate stage: %v", err)
	}
	if err := h.node.SetSaleActive(h.admin, true); err != nil {
		t.Fatalf("open sale: %v", err)
	}
	h.emitter.reset()
	return id
}

func (h *nodeHarness) setRates(t *testing.T, l1, l2 uint32) {
	t.Helper()
	if err := h.node.SetReferralRates(h.admin, l1, l2); err != nil {
		t.Fatalf("set rates: %v", err)
	}
	h.emitter.reset()
}

func TestNodePurchaseStableFlow(t *testing.T) {
	h := newTestNode(t)
	h.openSale(t, 1_000)
	h.setRates(t, 1_000, 300)

	buyer := account(0x01)
	refL1 := account(0x02)
	refL2 := account(0x03)
	receipt, err := h.node.Purchase(context.Background(), PurchaseParams{
		Buyer:      buyer,
		Token:      testStable,
		Amount:     big.NewInt(100),
		Referrer:   refL1,
		ReferrerL2: refL2,
	})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if receipt.StageID != 0 || receipt.StableAmount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	if !receipt.Linked {
		t.Fatalf("first contribution must link the referrer")
	}
	if len(receipt.Credits) != 2 {
		t.Fatalf("expected credits for both levels, got %d", len(receipt.Credits))
	}
	if receipt.Credits[0].Earned.Cmp(big.NewInt(10)) != 0 || receipt.Credits[1].Earned.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("unexpected credit amounts: %v / %v", receipt.Credits[0].Earned, receipt.Credits[1].Earned)
	}

	if len(h.custody.pulls) != 1 {
		t.Fatalf("expected one pull, got %d", len(h.custody.pulls))
	}
	pull := h.custody.pulls[0]
	if pull.token != testStable || pull.to != testTreasury || pull.amount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected pull: %+v", pull)
	}
	if len(h.custody.pushes) != 0 {
		t.Fatalf("stable purchase must not push funds")
	}

	summary, err := h.node.Contributions(buyer)
	if err != nil {
		t.Fatalf("contributions: %v", err)
	}
	if summary.Total.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected total 100, got %s", summary.Total)
	}
	if summary.ByStage[0].Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected stage total 100, got %v", summary.ByStage)
	}

	refState, err := h.node.ReferralState(refL1)
	if err != nil {
		t.Fatalf("referral state: %v", err)
	}
	if refState.Ledger.Pending().Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected pending 10, got %s", refState.Ledger.Pending())
	}

	want := []string{
		events.TypeReferralLinked,
		events.TypeSaleContribution,
		events.TypeReferralCredited,
		events.TypeReferralCredited,
	}
	got := h.emitter.types()
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestNodePurchaseConvertsTokens(t *testing.T) {
	h := newTestNode(t)
	h.openSale(t, 10_000)
	h.executor.out = big.NewInt(970)

	buyer := account(0x04)
	receipt, err := h.node.Purchase(context.Background(), PurchaseParams{
		Buyer:  buyer,
		Token:  testPayToken,
		Amount: big.NewInt(1_000),
	})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if receipt.AmountIn.Cmp(big.NewInt(1_000)) != 0 || receipt.StableAmount.Cmp(big.NewInt(970)) != 0 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	if len(h.custody.pulls) != 1 {
		t.Fatalf("expected one pull, got %d", len(h.custody.pulls))
	}
	pull := h.custody.pulls[0]
	if pull.token != testPayToken || pull.to != testCustody {
		t.Fatalf("token payments must land in the custody account: %+v", pull)
	}
	if len(h.executor.calls) != 1 {
		t.Fatalf("expected one swap, got %d", len(h.executor.calls))
	}
	swap := h.executor.calls[0]
	if swap.TokenIn != testPayToken || swap.TokenOut != testStable || swap.Recipient != testTreasury {
		t.Fatalf("unexpected swap params: %+v", swap)
	}

	summary, err := h.node.Contributions(buyer)
	if err != nil {
		t.Fatalf("contributions: %v", err)
	}
	if summary.Total.Cmp(big.NewInt(970)) != 0 {
		t.Fatalf("ledger must record the converted stable amount, got %s", summary.Total)
	}
}

func TestNodePurchaseValidation(t *testing.T) {
	h := newTestNode(t)
	h.openSale(t, 1_000)

	t.Run("zero buyer", func(t *testing.T) {
		_, err := h.node.Purchase(context.Background(), PurchaseParams{Token: testStable, Amount: big.NewInt(1)})
		if !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("expected ErrInvalidAddress, got %v", err)
		}
	})
	t.Run("non-positive amount", func(t *testing.T) {
		_, err := h.node.Purchase(context.Background(), PurchaseParams{Buyer: account(1), Token: testStable, Amount: big.NewInt(0)})
		if !errors.Is(err, sale.ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount, got %v", err)
		}
	})
	t.Run("native coin", func(t *testing.T) {
		_, err := h.node.Purchase(context.Background(), PurchaseParams{Buyer: account(1), Amount: big.NewInt(1)})
		if !errors.Is(err, ErrInvalidPaymentToken) {
			t.Fatalf("expected ErrInvalidPaymentToken, got %v", err)
		}
	})
	if len(h.custody.pulls)+len(h.custody.pushes) != 0 {
		t.Fatalf("rejected purchases must not move funds")
	}
}

func TestNodePurchaseRejectsWhenSaleClosed(t *testing.T) {
	h := newTestNode(t)
	// Stage exists but the gate never opened.
	if _, err := h.node.AddStage(h.admin, sale.StageParams{Cap: big.NewInt(100)}); err != nil {
		t.Fatalf("add stage: %v", err)
	}
	if err := h.node.ActivateStage(h.admin, 0); err != nil {
		t.Fatalf("activate: %v", err)
	}
	h.emitter.reset()

	_, err := h.node.Purchase(context.Background(), PurchaseParams{Buyer: account(1), Token: testStable, Amount: big.NewInt(10)})
	if !errors.Is(err, sale.ErrSaleNotActive) {
		t.Fatalf("expected ErrSaleNotActive, got %v", err)
	}
	if len(h.custody.pulls) != 0 || len(h.emitter.events) != 0 {
		t.Fatalf("closed sale must leave no trace")
	}
}

func TestNodeStablePurchaseChecksBeforePull(t *testing.T) {
	h := newTestNode(t)
	h.openSale(t, 1_000)

	if _, err := h.node.Purchase(context.Background(), PurchaseParams{Buyer: account(1), Token: testStable, Amount: big.NewInt(900)}); err != nil {
		t.Fatalf("seed purchase: %v", err)
	}
	_, err := h.node.Purchase(context.Background(), PurchaseParams{Buyer: account(2), Token: testStable, Amount: big.NewInt(200)})
	if !errors.Is(err, sale.ErrStageLimitExceeded) {
		t.Fatalf("expected ErrStageLimitExceeded, got %v", err)
	}
	// Only the seed pull happened; the rejected purchase never touched funds.
	if len(h.custody.pulls) != 1 || len(h.custody.pushes) != 0 {
		t.Fatalf("unexpected custody traffic: pulls=%d pushes=%d", len(h.custody.pulls), len(h.custody.pushes))
	}
}

func TestNodeTokenPurchaseRefundsWhenLedgerRejects(t *testing.T) {
	h := newTestNode(t)
	h.openSale(t, 1_000)

	if _, err := h.node.Purchase(context.Background(), PurchaseParams{Buyer: account(1), Token: testStable, Amount: big.NewInt(900)}); err != nil {
		t.Fatalf("seed purchase: %v", err)
	}
	h.emitter.reset()

	buyer := account(2)
	h.executor.out = big.NewInt(200)
	_, err := h.node.Purchase(context.Background(), PurchaseParams{Buyer: buyer, Token: testPayToken, Amount: big.NewInt(250)})
	if !errors.Is(err, sale.ErrStageLimitExceeded) {
		t.Fatalf("expected ErrStageLimitExceeded, got %v", err)
	}

	// The converted proceeds were returned from the treasury to the buyer.
	if len(h.custody.pushes) != 1 {
		t.Fatalf("expected one compensating push, got %d", len(h.custody.pushes))
	}
	push := h.custody.pushes[0]
	if push.token != testStable || push.from != testTreasury || push.to != common.BytesToAddress(buyer.Bytes()) {
		t.Fatalf("unexpected refund: %+v", push)
	}
	if push.amount.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("refund must return the swap proceeds, got %s", push.amount)
	}

	summary, err := h.node.Contributions(buyer)
	if err != nil {
		t.Fatalf("contributions: %v", err)
	}
	if summary.Total.Sign() != 0 {
		t.Fatalf("rejected purchase must not be recorded, got %s", summary.Total)
	}
	if len(h.emitter.events) != 0 {
		t.Fatalf("rejected purchase must not emit events")
	}
}

func TestNodeTokenPurchaseRefundsWhenConversionFails(t *testing.T) {
	h := newTestNode(t)
	h.openSale(t, 1_000)

	buyer := account(3)
	h.executor.err = fmt.Errorf("venue reverted")
	_, err := h.node.Purchase(context.Background(), PurchaseParams{Buyer: buyer, Token: testPayToken, Amount: big.NewInt(500)})
	if err == nil {
		t.Fatalf("expected conversion failure to surface")
	}

	// The untouched input tokens went back from custody to the buyer.
	if len(h.custody.pushes) != 1 {
		t.Fatalf("expected one compensating push, got %d", len(h.custody.pushes))
	}
	push := h.custody.pushes[0]
	if push.token != testPayToken || push.from != testCustody || push.to != common.BytesToAddress(buyer.Bytes()) {
		t.Fatalf("unexpected refund: %+v", push)
	}
	if push.amount.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("refund must return the pulled amount, got %s", push.amount)
	}
	summary, err := h.node.Contributions(buyer)
	if err != nil {
		t.Fatalf("contributions: %v", err)
	}
	if summary.Total.Sign() != 0 {
		t.Fatalf("failed conversion must not be recorded")
	}
}

type blockingCustody struct {
	entered chan struct{}
	release chan struct{}
}

func (c *blockingCustody) Pull(context.Context, common.Address, common.Address, common.Address, *big.Int) error {
	c.entered <- struct{}{}
	<-c.release
	return nil
}

func (c *blockingCustody) Push(context.Context, common.Address, common.Address, common.Address, *big.Int) error {
	return nil
}

func TestNodeRejectsReentrantActor(t *testing.T) {
	h := newTestNode(t)
	h.openSale(t, 1_000)

	blocking := &blockingCustody{entered: make(chan struct{}, 1), release: make(chan struct{})}
	h.node.custody = blocking

	buyer := account(0x09)
	done := make(chan error, 1)
	go func() {
		_, err := h.node.Purchase(context.Background(), PurchaseParams{Buyer: buyer, Token: testStable, Amount: big.NewInt(10)})
		done <- err
	}()
	<-blocking.entered

	// The first purchase holds the actor reservation, so both re-entrant
	// operations fail fast without waiting on the state lock.
	if _, err := h.node.Purchase(context.Background(), PurchaseParams{Buyer: buyer, Token: testStable, Amount: big.NewInt(10)}); !errors.Is(err, ErrOperationInProgress) {
		t.Fatalf("expected ErrOperationInProgress for purchase, got %v", err)
	}
	if _, err := h.node.Claim(context.Background(), buyer); !errors.Is(err, ErrOperationInProgress) {
		t.Fatalf("expected ErrOperationInProgress for claim, got %v", err)
	}

	close(blocking.release)
	if err := <-done; err != nil {
		t.Fatalf("blocked purchase must complete: %v", err)
	}

	// The reservation is released afterwards.
	if _, err := h.node.Purchase(context.Background(), PurchaseParams{Buyer: buyer, Token: testStable, Amount: big.NewInt(10)}); err != nil {
		t.Fatalf("follow-up purchase: %v", err)
	}
}

func TestNodeIntentReplayProtection(t *testing.T) {
	h := newTestNode(t)
	h.openSale(t, 150)

	store, err := OpenIntentStore(filepath.Join(t.TempDir(), "intents.db"), time.Hour)
	if err != nil {
		t.Fatalf("open intent store: %v", err)
	}
	defer store.Close()
	h.node.SetIntentStore(store)

	buyer := account(0x0a)
	params := PurchaseParams{IntentRef: "order-1", Buyer: buyer, Token: testStable, Amount: big.NewInt(100)}
	if _, err := h.node.Purchase(context.Background(), params); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if _, err := h.node.Purchase(context.Background(), params); !errors.Is(err, ErrIntentConsumed) {
		t.Fatalf("replay must be rejected, got %v", err)
	}
	if len(h.custody.pulls) != 1 {
		t.Fatalf("replay must not move funds, pulls=%d", len(h.custody.pulls))
	}

	// A failed attempt releases its reference for retry.
	fail := PurchaseParams{IntentRef: "order-2", Buyer: buyer, Token: testStable, Amount: big.NewInt(100)}
	if _, err := h.node.Purchase(context.Background(), fail); !errors.Is(err, sale.ErrStageLimitExceeded) {
		t.Fatalf("expected cap rejection, got %v", err)
	}
	retry := PurchaseParams{IntentRef: "order-2", Buyer: buyer, Token: testStable, Amount: big.NewInt(50)}
	if _, err := h.node.Purchase(context.Background(), retry); err != nil {
		t.Fatalf("retry under released reference: %v", err)
	}
}

func TestNodeClaimFlow(t *testing.T) {
	h := newTestNode(t)
	h.openSale(t, 1_000)
	h.setRates(t, 1_000, 0)

	buyer := account(0x0b)
	referrer := account(0x0c)
	if _, err := h.node.Purchase(context.Background(), PurchaseParams{Buyer: buyer, Token: testStable, Amount: big.NewInt(100), Referrer: referrer}); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	h.emitter.reset()

	if _, err := h.node.Claim(context.Background(), referrer); !errors.Is(err, referral.ErrClaimsDisabled) {
		t.Fatalf("expected ErrClaimsDisabled, got %v", err)
	}
	if err := h.node.SetReferralClaimsEnabled(h.admin, true); err != nil {
		t.Fatalf("enable claims: %v", err)
	}
	h.emitter.reset()

	amount, err := h.node.Claim(context.Background(), referrer)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if amount.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected claim of 10, got %s", amount)
	}
	if len(h.custody.pushes) != 1 {
		t.Fatalf("expected one payout push, got %d", len(h.custody.pushes))
	}
	push := h.custody.pushes[0]
	if push.token != testStable || push.from != testTreasury || push.to != common.BytesToAddress(referrer.Bytes()) {
		t.Fatalf("unexpected payout: %+v", push)
	}
	types := h.emitter.types()
	if len(types) != 1 || types[0] != events.TypeReferralClaimed {
		t.Fatalf("expected a single claim event, got %v", types)
	}

	if _, err := h.node.Claim(context.Background(), referrer); !errors.Is(err, referral.ErrNothingToClaim) {
		t.Fatalf("expected ErrNothingToClaim, got %v", err)
	}
}

func TestNodeClaimRestoresPendingOnPayoutFailure(t *testing.T) {
	h := newTestNode(t)
	h.openSale(t, 1_000)
	h.setRates(t, 1_000, 0)
	if err := h.node.SetReferralClaimsEnabled(h.admin, true); err != nil {
		t.Fatalf("enable claims: %v", err)
	}

	buyer := account(0x0d)
	referrer := account(0x0e)
	if _, err := h.node.Purchase(context.Background(), PurchaseParams{Buyer: buyer, Token: testStable, Amount: big.NewInt(100), Referrer: referrer}); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	h.custody.pushErr = fmt.Errorf("rpc timeout")
	if _, err := h.node.Claim(context.Background(), referrer); err == nil {
		t.Fatalf("expected payout failure to surface")
	}
	refState, err := h.node.ReferralState(referrer)
	if err != nil {
		t.Fatalf("referral state: %v", err)
	}
	if refState.Ledger.Pending().Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("failed payout must restore pending, got %s", refState.Ledger.Pending())
	}

	h.custody.pushErr = nil
	amount, err := h.node.Claim(context.Background(), referrer)
	if err != nil {
		t.Fatalf("claim after recovery: %v", err)
	}
	if amount.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected restored claim of 10, got %s", amount)
	}
}

func TestNodeAdminAuthorization(t *testing.T) {
	h := newTestNode(t)
	intruder := account(0x66)

	checks := []struct {
		name string
		call func() error
	}{
		{"add stage", func() error {
			_, err := h.node.AddStage(intruder, sale.StageParams{Cap: big.NewInt(1)})
			return err
		}},
		{"update stage", func() error { return h.node.UpdateStage(intruder, 0, sale.StageParams{Cap: big.NewInt(1)}) }},
		{"activate", func() error { return h.node.ActivateStage(intruder, 0) }},
		{"deactivate", func() error { return h.node.DeactivateStage(intruder) }},
		{"sale gate", func() error { return h.node.SetSaleActive(intruder, true) }},
		{"rates", func() error { return h.node.SetReferralRates(intruder, 1, 1) }},
		{"claims gate", func() error { return h.node.SetReferralClaimsEnabled(intruder, true) }},
		{"pause", func() error { return h.node.SetPaused(intruder, nativecommon.ModuleSale, true) }},
		{"grant role", func() error { return h.node.GrantRole(intruder, nativecommon.RoleSaleAdmin, intruder) }},
		{"revoke role", func() error { return h.node.RevokeRole(intruder, nativecommon.RoleSaleAdmin, h.admin) }},
	}
	for _, tc := range checks {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
		})
	}

	// A freshly granted admin passes the same checks.
	delegate := account(0x67)
	if err := h.node.GrantRole(h.admin, nativecommon.RoleSaleAdmin, delegate); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := h.node.AddStage(delegate, sale.StageParams{Cap: big.NewInt(5)}); err != nil {
		t.Fatalf("delegate add stage: %v", err)
	}
	if err := h.node.RevokeRole(h.admin, nativecommon.RoleSaleAdmin, delegate); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := h.node.AddStage(delegate, sale.StageParams{Cap: big.NewInt(5)}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("revoked delegate must lose access, got %v", err)
	}
}

func TestNodePauseGuards(t *testing.T) {
	h := newTestNode(t)
	h.openSale(t, 1_000)

	if err := h.node.SetPaused(h.admin, nativecommon.ModuleSale, true); err != nil {
		t.Fatalf("pause sale: %v", err)
	}
	_, err := h.node.Purchase(context.Background(), PurchaseParams{Buyer: account(1), Token: testStable, Amount: big.NewInt(10)})
	if !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}

	if err := h.node.SetPaused(h.admin, nativecommon.ModuleReferral, true); err != nil {
		t.Fatalf("pause referral: %v", err)
	}
	if _, err := h.node.Claim(context.Background(), account(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused for claim, got %v", err)
	}

	if err := h.node.SetPaused(h.admin, "consensus", true); err == nil {
		t.Fatalf("unknown module must be rejected")
	}

	if err := h.node.SetPaused(h.admin, nativecommon.ModuleSale, false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := h.node.Purchase(context.Background(), PurchaseParams{Buyer: account(1), Token: testStable, Amount: big.NewInt(10)}); err != nil {
		t.Fatalf("purchase after unpause: %v", err)
	}
}

func TestNodeStatusAndGenesis(t *testing.T) {
	h := newTestNode(t)

	if err := h.node.ApplyGenesis(
		[]sale.StageParams{{Cap: big.NewInt(500)}, {Cap: big.NewInt(1_500), MinPurchase: big.NewInt(10)}},
		referral.Config{Level1Bps: 500, Level2Bps: 200},
	); err != nil {
		t.Fatalf("genesis: %v", err)
	}

	status, err := h.node.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Active || status.StageCount != 2 || status.Stage != nil {
		t.Fatalf("unexpected status: %+v", status)
	}

	rates, err := h.node.ReferralRates()
	if err != nil {
		t.Fatalf("rates: %v", err)
	}
	if rates.Level1Bps != 500 || rates.Level2Bps != 200 || rates.ClaimsEnabled {
		t.Fatalf("unexpected rates: %+v", rates)
	}

	// Re-applying with different values is a no-op once state exists.
	if err := h.node.ApplyGenesis([]sale.StageParams{{Cap: big.NewInt(9)}}, referral.Config{Level1Bps: 1}); err != nil {
		t.Fatalf("re-apply genesis: %v", err)
	}
	status, err = h.node.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.StageCount != 2 {
		t.Fatalf("genesis must not mutate existing state, got %d stages", status.StageCount)
	}

	if err := h.node.ActivateStage(h.admin, 1); err != nil {
		t.Fatalf("activate: %v", err)
	}
	status, err = h.node.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Stage == nil || status.Stage.ID != 1 {
		t.Fatalf("expected active stage 1, got %+v", status.Stage)
	}
}
