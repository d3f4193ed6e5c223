package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"launchpad/core"
	"launchpad/core/events"
	"launchpad/core/state"
	"launchpad/crypto"
	nativecommon "launchpad/native/common"
	"launchpad/native/market"
	"launchpad/native/referral"
	"launchpad/native/sale"
	"launchpad/storage"
)

const testToken = "rpc-test-token"

var (
	rpcStable   = common.BytesToAddress([]byte{0x51})
	rpcPayToken = common.BytesToAddress([]byte{0x70})
	rpcTreasury = common.BytesToAddress([]byte{0x7e})
)

func account(i byte) crypto.Address {
	var raw [20]byte
	raw[19] = i
	return crypto.NewAddress(raw[:])
}

type stubCustody struct {
	pulls  int
	pushes int
}

func (c *stubCustody) Pull(_ context.Context, _ common.Address, _, _ common.Address, _ *big.Int) error {
	c.pulls++
	return nil
}

func (c *stubCustody) Push(_ context.Context, _ common.Address, _, _ common.Address, _ *big.Int) error {
	c.pushes++
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

type stubSwapExecutor struct{}

func (s *stubSwapExecutor) SwapExactInput(_ context.Context, params market.SwapParams) (*big.Int, error) {
	return new(big.Int).Set(params.AmountIn), nil
}

type serverHarness struct {
	server  *Server
	handler http.Handler
	node    *core.Node
	custody *stubCustody
	admin   crypto.Address
}

func newTestServer(t *testing.T) *serverHarness {
	t.Helper()
	t.Setenv(TokenEnvVar, testToken)

	manager := state.NewManager(storage.NewMemDB())
	ledger := sale.NewLedger(manager)
	accountant := referral.NewAccountant(manager)
	custody := &stubCustody{}
	source := &stubVenueSource{depths: map[uint32]*uint256.Int{500: uint256.NewInt(900)}}
	exchanger := market.NewExchanger(market.NewSelector(source, nil), &stubSwapExecutor{}, rpcStable)

	admin := account(0xad)
	for _, role := range []string{nativecommon.RoleSaleAdmin, nativecommon.RoleReferralAdmin, nativecommon.RolePauser} {
		if err := manager.GrantRole(role, admin.Bytes()); err != nil {
			t.Fatalf("grant %s: %v", role, err)
		}
	}

	cfg := core.Config{StableToken: rpcStable, Treasury: rpcTreasury}
	node, err := core.NewNode(cfg, ledger, accountant, exchanger, custody, manager)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	node.SetPauses(manager)
	stream := events.NewStream(64)
	node.SetEmitter(stream)

	server := NewServer(node, stream)
	return &serverHarness{server: server, handler: server.Handler(), node: node, custody: custody, admin: admin}
}

func (h *serverHarness) openSale(t *testing.T, cap int64) uint64 {
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
	return id
}

func (h *serverHarness) call(t *testing.T, token, method string, params ...interface{}) (int, RPCResponse) {
	t.Helper()
	raw := make([]json.RawMessage, 0, len(params))
	for _, param := range params {
		data, err := json.Marshal(param)
		if err != nil {
			t.Fatalf("marshal param: %v", err)
		}
		raw = append(raw, data)
	}
	body, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: raw, ID: 1})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	var resp RPCResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec.Code, resp
}

func decodeResult(t *testing.T, resp RPCResponse, out interface{}) {
	t.Helper()
	data, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("re-marshal result: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func TestServerRejectsMalformedRequests(t *testing.T) {
	h := newTestServer(t)

	post := func(body string) (int, RPCResponse) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		var resp RPCResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
		return rec.Code, resp
	}

	if status, resp := post(""); status != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != codeInvalidRequest {
		t.Fatalf("empty body: status=%d resp=%+v", status, resp)
	}
	if status, resp := post("{not json"); status != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != codeParseError {
		t.Fatalf("bad json: status=%d resp=%+v", status, resp)
	}
	if status, resp := post(`{"jsonrpc":"1.0","method":"sale_status","id":1}`); status != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != codeInvalidRequest {
		t.Fatalf("bad version: status=%d resp=%+v", status, resp)
	}
	if status, resp := post(`{"jsonrpc":"2.0","id":1}`); status != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != codeInvalidRequest {
		t.Fatalf("missing method: status=%d resp=%+v", status, resp)
	}
	if status, resp := post(`{"jsonrpc":"2.0","method":"sale_unknown","id":1}`); status != http.StatusNotFound || resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("unknown method: status=%d resp=%+v", status, resp)
	}
}

func TestServerRequiresAuthForMutations(t *testing.T) {
	h := newTestServer(t)

	for _, method := range []string{
		"sale_purchase",
		"sale_addStage",
		"sale_setActive",
		"referral_claim",
		"referral_setRates",
		"launchpad_setPaused",
		"launchpad_grantRole",
	} {
		status, resp := h.call(t, "", method)
		if status != http.StatusUnauthorized || resp.Error == nil || resp.Error.Code != codeUnauthorized {
			t.Fatalf("%s without token: status=%d resp=%+v", method, status, resp)
		}
		status, resp = h.call(t, "wrong-token", method)
		if status != http.StatusUnauthorized || resp.Error == nil || resp.Error.Code != codeUnauthorized {
			t.Fatalf("%s with wrong token: status=%d resp=%+v", method, status, resp)
		}
	}

	// Views stay open without credentials.
	if status, resp := h.call(t, "", "sale_status"); status != http.StatusOK || resp.Error != nil {
		t.Fatalf("sale_status: status=%d err=%+v", status, resp.Error)
	}
}

func TestSalePurchaseOverRPC(t *testing.T) {
	h := newTestServer(t)
	h.openSale(t, 1_000)
	if err := h.node.SetReferralRates(h.admin, 1_000, 0); err != nil {
		t.Fatalf("set rates: %v", err)
	}

	buyer := account(0x01)
	referrer := account(0x02)
	status, resp := h.call(t, testToken, "sale_purchase", purchaseParams{
		Buyer:    buyer.String(),
		Token:    rpcStable.Hex(),
		Amount:   "250",
		Referrer: referrer.String(),
	})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("purchase: status=%d err=%+v", status, resp.Error)
	}
	var receipt PurchaseResult
	decodeResult(t, resp, &receipt)
	if receipt.StageID != 1 || receipt.StableAmount != "250" || !receipt.Linked {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	if len(receipt.Credits) != 1 || receipt.Credits[0].Earned != "25" || receipt.Credits[0].Level != 1 {
		t.Fatalf("unexpected credits: %+v", receipt.Credits)
	}
	if receipt.Credits[0].Referrer != referrer.String() {
		t.Fatalf("credit referrer = %q, want %q", receipt.Credits[0].Referrer, referrer.String())
	}
	if h.custody.pulls != 1 {
		t.Fatalf("custody pulls = %d, want 1", h.custody.pulls)
	}

	status, resp = h.call(t, "", "sale_status")
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("status: status=%d err=%+v", status, resp.Error)
	}
	var saleStatus StatusResult
	decodeResult(t, resp, &saleStatus)
	if !saleStatus.Active || saleStatus.StageCount != 1 || saleStatus.Stage == nil || saleStatus.Stage.TotalRaised != "250" {
		t.Fatalf("unexpected sale status: %+v", saleStatus)
	}

	status, resp = h.call(t, "", "sale_contribution", addressParams{Address: buyer.String()})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("contribution: status=%d err=%+v", status, resp.Error)
	}
	var contribution ContributionResult
	decodeResult(t, resp, &contribution)
	if contribution.Total != "250" || contribution.ByStage["1"] != "250" {
		t.Fatalf("unexpected contribution: %+v", contribution)
	}

	status, resp = h.call(t, "", "referral_state", addressParams{Address: referrer.String()})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("referral state: status=%d err=%+v", status, resp.Error)
	}
	var referralState ReferralStateResult
	decodeResult(t, resp, &referralState)
	if referralState.Pending != "25" || referralState.Level1Earned != "25" {
		t.Fatalf("unexpected referral state: %+v", referralState)
	}
}

func TestSalePurchaseErrorMapping(t *testing.T) {
	h := newTestServer(t)
	buyer := account(0x01)

	t.Run("sale closed", func(t *testing.T) {
		status, resp := h.call(t, testToken, "sale_purchase", purchaseParams{
			Buyer:  buyer.String(),
			Token:  rpcStable.Hex(),
			Amount: "100",
		})
		if status != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != codeInvalidParams {
			t.Fatalf("status=%d resp=%+v", status, resp)
		}
		if !strings.Contains(resp.Error.Message, "sale") {
			t.Fatalf("unexpected message %q", resp.Error.Message)
		}
	})

	h.openSale(t, 1_000)

	t.Run("invalid buyer", func(t *testing.T) {
		status, resp := h.call(t, testToken, "sale_purchase", purchaseParams{
			Buyer:  "not-an-address",
			Token:  rpcStable.Hex(),
			Amount: "100",
		})
		if status != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != codeInvalidParams {
			t.Fatalf("status=%d resp=%+v", status, resp)
		}
	})

	t.Run("zero amount", func(t *testing.T) {
		status, resp := h.call(t, testToken, "sale_purchase", purchaseParams{
			Buyer:  buyer.String(),
			Token:  rpcStable.Hex(),
			Amount: "0",
		})
		if status != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != codeInvalidParams {
			t.Fatalf("status=%d resp=%+v", status, resp)
		}
	})

	t.Run("over cap", func(t *testing.T) {
		status, resp := h.call(t, testToken, "sale_purchase", purchaseParams{
			Buyer:  buyer.String(),
			Token:  rpcStable.Hex(),
			Amount: "1500",
		})
		if status != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != codeInvalidParams {
			t.Fatalf("status=%d resp=%+v", status, resp)
		}
		if !strings.Contains(resp.Error.Message, "cap") {
			t.Fatalf("unexpected message %q", resp.Error.Message)
		}
	})
}

func TestSalePurchaseReplayOverRPC(t *testing.T) {
	h := newTestServer(t)
	h.openSale(t, 1_000)

	store, err := core.OpenIntentStore(filepath.Join(t.TempDir(), "intents.db"), time.Hour)
	if err != nil {
		t.Fatalf("open intent store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	h.node.SetIntentStore(store)

	buyer := account(0x01)
	params := purchaseParams{
		IntentRef: "order-1",
		Buyer:     buyer.String(),
		Token:     rpcStable.Hex(),
		Amount:    "100",
	}
	if status, resp := h.call(t, testToken, "sale_purchase", params); status != http.StatusOK || resp.Error != nil {
		t.Fatalf("first purchase: status=%d err=%+v", status, resp.Error)
	}
	status, resp := h.call(t, testToken, "sale_purchase", params)
	if status != http.StatusConflict || resp.Error == nil || resp.Error.Code != codeDuplicateIntent {
		t.Fatalf("replay: status=%d resp=%+v", status, resp)
	}
	if h.custody.pulls != 1 {
		t.Fatalf("custody pulls = %d, want 1", h.custody.pulls)
	}
}

func TestSaleAdminOverRPC(t *testing.T) {
	h := newTestServer(t)
	adminStr := h.admin.String()

	status, resp := h.call(t, testToken, "sale_addStage", stageCreateParams{
		Caller:      adminStr,
		Cap:         "5000",
		MaxPurchase: "2000",
	})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("add stage: status=%d err=%+v", status, resp.Error)
	}
	var added map[string]uint64
	decodeResult(t, resp, &added)
	if added["id"] != 1 {
		t.Fatalf("stage id = %d, want 1", added["id"])
	}

	if status, resp := h.call(t, testToken, "sale_activateStage", stageIDParams{Caller: adminStr, ID: 1}); status != http.StatusOK || resp.Error != nil {
		t.Fatalf("activate: status=%d err=%+v", status, resp.Error)
	}
	if status, resp := h.call(t, testToken, "sale_setActive", saleGateParams{Caller: adminStr, Active: true}); status != http.StatusOK || resp.Error != nil {
		t.Fatalf("set active: status=%d err=%+v", status, resp.Error)
	}

	status, resp = h.call(t, "", "sale_stages")
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("stages: status=%d err=%+v", status, resp.Error)
	}
	var stages []StageResult
	decodeResult(t, resp, &stages)
	if len(stages) != 1 || stages[0].ID != 1 || !stages[0].Active || stages[0].Cap != "5000" || stages[0].MaxPurchase != "2000" {
		t.Fatalf("unexpected stages: %+v", stages)
	}

	// Role checks surface as forbidden, not server errors.
	intruder := account(0x66).String()
	status, resp = h.call(t, testToken, "sale_addStage", stageCreateParams{Caller: intruder, Cap: "100"})
	if status != http.StatusForbidden || resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("intruder add stage: status=%d resp=%+v", status, resp)
	}

	status, resp = h.call(t, testToken, "sale_updateStage", stageUpdateParams{Caller: adminStr, ID: 9, Cap: "100"})
	if status != http.StatusNotFound || resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("update missing stage: status=%d resp=%+v", status, resp)
	}
}

func TestReferralFlowOverRPC(t *testing.T) {
	h := newTestServer(t)
	h.openSale(t, 1_000)
	adminStr := h.admin.String()

	if status, resp := h.call(t, testToken, "referral_setRates", referralRatesParams{Caller: adminStr, Level1Bps: 500, Level2Bps: 0}); status != http.StatusOK || resp.Error != nil {
		t.Fatalf("set rates: status=%d err=%+v", status, resp.Error)
	}

	status, resp := h.call(t, "", "referral_rates")
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("rates: status=%d err=%+v", status, resp.Error)
	}
	var rates RatesResult
	decodeResult(t, resp, &rates)
	if rates.Level1Bps != 500 || rates.Level2Bps != 0 || rates.ClaimsEnabled {
		t.Fatalf("unexpected rates: %+v", rates)
	}

	buyer := account(0x01)
	referrer := account(0x02)
	if status, resp := h.call(t, testToken, "sale_purchase", purchaseParams{
		Buyer:    buyer.String(),
		Token:    rpcStable.Hex(),
		Amount:   "200",
		Referrer: referrer.String(),
	}); status != http.StatusOK || resp.Error != nil {
		t.Fatalf("purchase: status=%d err=%+v", status, resp.Error)
	}

	// Claims stay gated until the operator opens them.
	status, resp = h.call(t, testToken, "referral_claim", callerParams{Caller: referrer.String()})
	if status != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("gated claim: status=%d resp=%+v", status, resp)
	}

	if status, resp := h.call(t, testToken, "referral_setClaimsEnabled", referralGateParams{Caller: adminStr, Enabled: true}); status != http.StatusOK || resp.Error != nil {
		t.Fatalf("enable claims: status=%d err=%+v", status, resp.Error)
	}

	status, resp = h.call(t, testToken, "referral_claim", callerParams{Caller: referrer.String()})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("claim: status=%d err=%+v", status, resp.Error)
	}
	var claimed map[string]string
	decodeResult(t, resp, &claimed)
	if claimed["claimed"] != "10" {
		t.Fatalf("claimed = %q, want 10", claimed["claimed"])
	}

	status, resp = h.call(t, testToken, "referral_claim", callerParams{Caller: referrer.String()})
	if status != http.StatusBadRequest || resp.Error == nil {
		t.Fatalf("re-claim: status=%d resp=%+v", status, resp)
	}
}

func TestMarketViewsOverRPC(t *testing.T) {
	h := newTestServer(t)

	status, resp := h.call(t, "", "market_tiers")
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("tiers: status=%d err=%+v", status, resp.Error)
	}
	var tiers []uint32
	decodeResult(t, resp, &tiers)
	if len(tiers) != 4 || tiers[1] != 500 {
		t.Fatalf("unexpected tiers: %v", tiers)
	}

	status, resp = h.call(t, "", "market_route", routeQueryParams{Token: rpcPayToken.Hex()})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("route: status=%d err=%+v", status, resp.Error)
	}
	var route RouteResult
	decodeResult(t, resp, &route)
	if !route.Found || route.FeeTier != 500 || route.Depth != "900" {
		t.Fatalf("unexpected route: %+v", route)
	}

	// The stable token never routes through a venue.
	status, resp = h.call(t, "", "market_route", routeQueryParams{Token: rpcStable.Hex()})
	if status != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("stable route: status=%d resp=%+v", status, resp)
	}
}

func TestPauseOverRPC(t *testing.T) {
	h := newTestServer(t)
	h.openSale(t, 1_000)
	adminStr := h.admin.String()

	if status, resp := h.call(t, testToken, "launchpad_setPaused", pauseParams{Caller: adminStr, Module: nativecommon.ModuleSale, Paused: true}); status != http.StatusOK || resp.Error != nil {
		t.Fatalf("pause: status=%d err=%+v", status, resp.Error)
	}

	status, resp := h.call(t, testToken, "sale_purchase", purchaseParams{
		Buyer:  account(0x01).String(),
		Token:  rpcStable.Hex(),
		Amount: "100",
	})
	if status != http.StatusServiceUnavailable || resp.Error == nil || resp.Error.Code != codeServerError {
		t.Fatalf("paused purchase: status=%d resp=%+v", status, resp)
	}

	if status, resp := h.call(t, testToken, "launchpad_setPaused", pauseParams{Caller: adminStr, Module: nativecommon.ModuleSale, Paused: false}); status != http.StatusOK || resp.Error != nil {
		t.Fatalf("unpause: status=%d err=%+v", status, resp.Error)
	}
	if status, resp := h.call(t, testToken, "sale_purchase", purchaseParams{
		Buyer:  account(0x01).String(),
		Token:  rpcStable.Hex(),
		Amount: "100",
	}); status != http.StatusOK || resp.Error != nil {
		t.Fatalf("purchase after unpause: status=%d err=%+v", status, resp.Error)
	}
}

func TestAllowSourceWindows(t *testing.T) {
	h := newTestServer(t)
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < maxMutPerWindow; i++ {
		if !h.server.allowSource("10.0.0.1", now) {
			t.Fatalf("request %d unexpectedly limited", i)
		}
	}
	if h.server.allowSource("10.0.0.1", now) {
		t.Fatalf("request beyond window limit must be rejected")
	}
	if !h.server.allowSource("10.0.0.2", now) {
		t.Fatalf("distinct sources must not share limits")
	}
	if !h.server.allowSource("10.0.0.1", now.Add(rateLimitWindow)) {
		t.Fatalf("window rollover must reset the limit")
	}
}
