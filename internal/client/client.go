// Package client is a typed Go client for the settlement service HTTP API.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultTimeout bounds every API call.
const DefaultTimeout = 10 * time.Second

// APIError carries a non-2xx response back to the caller.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Client talks to one settlement service instance. All amounts are decimal
// strings in base units; all addresses are 0x-prefixed hex.
type Client struct {
	baseURL string
	http    *http.Client
}

// Options configures a Client.
type Options struct {
	Timeout time.Duration // zero means DefaultTimeout
	Latency LatencyConfig // optional artificial delay
}

// New creates a client for the service at baseURL.
func New(baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		http:    newHTTPClient(opts.Latency, timeout),
	}
}

// SplitResult is a completed settlement as reported by the service.
type SplitResult struct {
	TxID       string   `json:"tx_id"`
	Sender     string   `json:"sender"`
	Recipients []string `json:"recipients"`
	Amounts    []string `json:"amounts"`
	Total      string   `json:"total_amount"`
	Verified   bool     `json:"verified"`
}

// Split settles a multi-recipient payment.
func (c *Client) Split(from string, recipients, amounts []string) (*SplitResult, error) {
	var out SplitResult
	err := c.post("/split", map[string]interface{}{
		"from":       from,
		"recipients": recipients,
		"amounts":    amounts,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CanSplitResult reports the settlement preconditions for a prospective total.
type CanSplitResult struct {
	Verified             bool `json:"verified"`
	HasSufficientBalance bool `json:"has_sufficient_balance"`
	HasApproved          bool `json:"has_approved"`
	CanSplitPayment      bool `json:"can_split_payment"`
}

// CanSplit pre-checks whether account could settle total right now.
func (c *Client) CanSplit(account, total string) (*CanSplitResult, error) {
	var out CanSplitResult
	if err := c.get("/can-split/"+account+"?total="+total, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Faucet funds an account with tokens and/or native coins.
func (c *Client) Faucet(address, tokens, coins string) error {
	body := map[string]interface{}{"address": address}
	if tokens != "" {
		body["tokens"] = tokens
	}
	if coins != "" {
		body["coins"] = coins
	}
	return c.post("/faucet", body, nil)
}

// Approve grants the settlement engine (or an explicit spender) an allowance.
func (c *Client) Approve(owner, spender, amount string) error {
	body := map[string]interface{}{"owner": owner, "amount": amount}
	if spender != "" {
		body["spender"] = spender
	}
	return c.post("/token/approve", body, nil)
}

// TokenBalance returns an account's token balance as a decimal string.
func (c *Client) TokenBalance(address string) (string, error) {
	var out struct {
		Balance string `json:"balance"`
	}
	if err := c.get("/token/balance/"+address, &out); err != nil {
		return "", err
	}
	return out.Balance, nil
}

// Balance returns an account's native-coin balance as a decimal string.
func (c *Client) Balance(address string) (string, error) {
	var out struct {
		Balance string `json:"balance"`
	}
	if err := c.get("/balance/"+address, &out); err != nil {
		return "", err
	}
	return out.Balance, nil
}

// Verify grants account a verification window. Admin only.
func (c *Client) Verify(from, account string) (uint64, error) {
	var out struct {
		Expiry uint64 `json:"expiry"`
	}
	err := c.post("/verify", map[string]interface{}{
		"from":    from,
		"account": account,
	}, &out)
	return out.Expiry, err
}

// VerifyBatch grants every account a verification window. Admin only.
func (c *Client) VerifyBatch(from string, accounts []string) error {
	return c.post("/verify/batch", map[string]interface{}{
		"from":     from,
		"accounts": accounts,
	}, nil)
}

// SetVerificationRequired toggles gate enforcement. Admin only.
func (c *Client) SetVerificationRequired(from string, required bool) error {
	return c.post("/verification-required", map[string]interface{}{
		"from":     from,
		"required": required,
	}, nil)
}

// SplitConfig is a stored registry split.
type SplitConfig struct {
	ID         string   `json:"id"`
	Recipients []string `json:"recipients"`
	Shares     []uint64 `json:"shares"`
	Active     bool     `json:"active"`
}

// CreateSplit stores a percentage split config. Admin only.
func (c *Client) CreateSplit(from, id string, recipients []string, shares []uint64) error {
	return c.post("/splits", map[string]interface{}{
		"from":       from,
		"id":         id,
		"recipients": recipients,
		"shares":     shares,
	}, nil)
}

// GetSplit fetches a stored split config.
func (c *Client) GetSplit(id string) (*SplitConfig, error) {
	var out SplitConfig
	if err := c.get("/splits/"+id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecuteSplit fans a native-coin payment out over a stored split.
func (c *Client) ExecuteSplit(from, id, amount string) error {
	return c.post("/splits/"+id+"/execute", map[string]interface{}{
		"from":   from,
		"amount": amount,
	}, nil)
}

// DeactivateSplit terminally deactivates a split config. Admin only.
func (c *Client) DeactivateSplit(from, id string) error {
	return c.post("/splits/"+id+"/deactivate", map[string]interface{}{
		"from": from,
	}, nil)
}

// Health checks service liveness.
func (c *Client) Health() error {
	return c.get("/health", nil)
}

func (c *Client) post(path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	return decode(resp, out)
}

func (c *Client) get(path string, out interface{}) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	return decode(resp, out)
}

func decode(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
