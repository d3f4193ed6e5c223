package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client provides a thin JSON-RPC wrapper over the launchpad node's read
// surface. Only unauthenticated query methods are exposed.
type Client struct {
	url        string
	httpClient *http.Client
	nextID     atomic.Int64
}

// Config represents the client configuration.
type Config struct {
	URL     string
	Timeout time.Duration
}

// NewClient constructs a JSON-RPC client targeting the supplied URL.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		url: strings.TrimSpace(cfg.URL),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Stage mirrors the node's sale_stages row. Amounts are decimal strings in
// the stable token's smallest unit.
type Stage struct {
	ID          uint64 `json:"id"`
	Cap         string `json:"cap"`
	MinPurchase string `json:"minPurchase"`
	MaxPurchase string `json:"maxPurchase"`
	TotalRaised string `json:"totalRaised"`
	Active      bool   `json:"active"`
}

// SaleStatus mirrors the node's sale_status result.
type SaleStatus struct {
	Active     bool   `json:"active"`
	StageCount uint64 `json:"stageCount"`
	Stage      *Stage `json:"stage,omitempty"`
}

// ReferralState mirrors the node's referral_state result.
type ReferralState struct {
	Address      string `json:"address"`
	TotalEarned  string `json:"totalEarned"`
	Claimed      string `json:"claimed"`
	Pending      string `json:"pending"`
	Level1Earned string `json:"level1Earned"`
	Level2Earned string `json:"level2Earned"`
	Referrer     string `json:"referrer,omitempty"`
	Linked       bool   `json:"linked"`
}

// Rates mirrors the node's referral_rates result.
type Rates struct {
	Level1Bps     uint32 `json:"level1Bps"`
	Level2Bps     uint32 `json:"level2Bps"`
	ClaimsEnabled bool   `json:"claimsEnabled"`
}

// Stages retrieves every configured sale stage.
func (c *Client) Stages(ctx context.Context) ([]Stage, error) {
	var result []Stage
	if err := c.call(ctx, "sale_stages", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Status retrieves the sale gate and active stage snapshot.
func (c *Client) Status(ctx context.Context) (*SaleStatus, error) {
	var result SaleStatus
	if err := c.call(ctx, "sale_status", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReferralState retrieves the reward book entry for the supplied account.
func (c *Client) ReferralState(ctx context.Context, account string) (*ReferralState, error) {
	params := []interface{}{map[string]string{"address": account}}
	var result ReferralState
	if err := c.call(ctx, "referral_state", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReferralRates retrieves the reward percentages and the claim gate.
func (c *Client) ReferralRates(ctx context.Context) (*Rates, error) {
	var result Rates
	if err := c.call(ctx, "referral_rates", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if c == nil || c.httpClient == nil {
		return fmt.Errorf("nodeclient: client not configured")
	}
	if params == nil {
		params = []interface{}{}
	}
	id := c.nextID.Add(1)
	reqBody := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("nodeclient: decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("nodeclient: error %d %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("nodeclient: unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("nodeclient: empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}
