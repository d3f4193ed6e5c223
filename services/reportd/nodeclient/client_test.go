package nodeclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientDecodesStages(t *testing.T) {
	var capturedBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		capturedBody = append([]byte(nil), body...)
		resp := rpcResponse{
			JSONRPC: "2.0",
			ID:      1,
			Result:  json.RawMessage(`[{"id":0,"cap":"1000000","minPurchase":"10","maxPurchase":"0","totalRaised":"250","active":true}]`),
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL})
	stages, err := client.Stages(context.Background())
	if err != nil {
		t.Fatalf("stages: %v", err)
	}
	if len(stages) != 1 {
		t.Fatalf("expected one stage, got %d", len(stages))
	}
	if stages[0].Cap != "1000000" || !stages[0].Active {
		t.Fatalf("unexpected stage: %+v", stages[0])
	}

	var req rpcRequest
	if err := json.Unmarshal(capturedBody, &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req.JSONRPC != "2.0" || req.Method != "sale_stages" {
		t.Fatalf("unexpected request envelope: %+v", req)
	}
	if req.Params == nil || len(req.Params) != 0 {
		t.Fatalf("expected empty params array, got %+v", req.Params)
	}
}

func TestClientSendsReferralStateParams(t *testing.T) {
	var capturedBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		capturedBody = append([]byte(nil), body...)
		resp := rpcResponse{
			JSONRPC: "2.0",
			ID:      1,
			Result:  json.RawMessage(`{"address":"lp1qfixture","totalEarned":"100","claimed":"0","pending":"100","level1Earned":"100","level2Earned":"0","linked":true}`),
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL})
	state, err := client.ReferralState(context.Background(), "lp1qfixture")
	if err != nil {
		t.Fatalf("referral state: %v", err)
	}
	if state.Pending != "100" || !state.Linked {
		t.Fatalf("unexpected state: %+v", state)
	}

	var req struct {
		Method string                   `json:"method"`
		Params []map[string]interface{} `json:"params"`
	}
	if err := json.Unmarshal(capturedBody, &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req.Method != "referral_state" {
		t.Fatalf("unexpected method %q", req.Method)
	}
	if len(req.Params) != 1 || req.Params[0]["address"] != "lp1qfixture" {
		t.Fatalf("unexpected params: %+v", req.Params)
	}
}

func TestClientSurfacesRPCErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := rpcResponse{
			JSONRPC: "2.0",
			ID:      1,
			Error:   &rpcError{Code: -32602, Message: "invalid parameter object"},
		}
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL})
	if _, err := client.Status(context.Background()); err == nil {
		t.Fatalf("expected rpc error to surface")
	}
}
