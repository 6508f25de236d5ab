package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Tethra-Dex/tethra-be/internal/domain"
	"github.com/Tethra-Dex/tethra-be/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// HTTPClient implements Client using HTTP JSON-RPC 2.0 against a Tethra
// ledger node.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	metrics     *observability.Metrics
	requestID   atomic.Uint64
}

// Compile-time interface check.
var _ Client = (*HTTPClient)(nil)

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts for transport-level failures.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithMetrics enables per-method RPC latency observations.
func WithMetrics(m *observability.Metrics) ClientOption {
	return func(c *HTTPClient) {
		c.metrics = m
	}
}

// NewHTTPClient creates a new ledger RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs a JSON-RPC call with retries and exponential backoff.
// RPC-level errors (node rejected the request) are returned as-is and
// never retried; only transport failures are.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if c.metrics != nil {
		start := time.Now()
		defer func() {
			c.metrics.RPCCallLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
		}()
	}

	reqID := c.requestID.Add(1)
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if rpcResp.Error != nil {
			// RPC errors are not retried
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// SequenceCount returns the pending-inclusive sequence count for an address.
func (c *HTTPClient) SequenceCount(ctx context.Context, address string) (uint64, error) {
	params := []interface{}{
		address,
		map[string]interface{}{"commitment": "pending"},
	}

	var result uint64
	if err := c.call(ctx, "tethra_getSequenceCount", params, &result); err != nil {
		return 0, fmt.Errorf("get sequence count: %w", err)
	}
	return result, nil
}

// SendTransaction submits a signed transaction for propagation.
func (c *HTTPClient) SendTransaction(ctx context.Context, rawTx []byte) (string, error) {
	params := []interface{}{
		base64.StdEncoding.EncodeToString(rawTx),
		map[string]interface{}{"encoding": "base64"},
	}

	var hash string
	if err := c.call(ctx, "tethra_sendTransaction", params, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

// getPositionResult is the raw RPC response for tethra_getPosition.
type getPositionResult struct {
	ID            uint64 `json:"id"`
	Trader        string `json:"trader"`
	Symbol        string `json:"symbol"`
	IsLong        bool   `json:"isLong"`
	Collateral    string `json:"collateral"`
	Size          string `json:"size"`
	Leverage      uint32 `json:"leverage"`
	EntryPrice    string `json:"entryPrice"`
	OpenTimestamp int64  `json:"openTimestamp"`
	Status        string `json:"status"`
}

// GetPosition reads a position by id. Returns nil if it does not exist.
func (c *HTTPClient) GetPosition(ctx context.Context, id uint64) (*domain.Position, error) {
	params := []interface{}{id}

	var result *getPositionResult
	if err := c.call(ctx, "tethra_getPosition", params, &result); err != nil {
		return nil, err
	}
	if result == nil || result.ID == 0 {
		return nil, nil
	}

	collateral, err := decimal.NewFromString(result.Collateral)
	if err != nil {
		return nil, fmt.Errorf("parse collateral %q: %w", result.Collateral, err)
	}
	size, err := decimal.NewFromString(result.Size)
	if err != nil {
		return nil, fmt.Errorf("parse size %q: %w", result.Size, err)
	}
	entryPrice, err := decimal.NewFromString(result.EntryPrice)
	if err != nil {
		return nil, fmt.Errorf("parse entry price %q: %w", result.EntryPrice, err)
	}

	return &domain.Position{
		ID:            result.ID,
		Trader:        result.Trader,
		Symbol:        result.Symbol,
		IsLong:        result.IsLong,
		Collateral:    collateral,
		Size:          size,
		Leverage:      result.Leverage,
		EntryPrice:    entryPrice,
		OpenTimestamp: result.OpenTimestamp,
		Status:        domain.PositionStatus(result.Status),
	}, nil
}

// PositionCount returns the high-water mark of position ids.
func (c *HTTPClient) PositionCount(ctx context.Context) (uint64, error) {
	var result uint64
	if err := c.call(ctx, "tethra_getPositionCount", nil, &result); err != nil {
		return 0, fmt.Errorf("get position count: %w", err)
	}
	return result, nil
}

// AuthNonce returns the trader's current authorization counter.
func (c *HTTPClient) AuthNonce(ctx context.Context, trader string) (uint64, error) {
	params := []interface{}{trader}

	var result uint64
	if err := c.call(ctx, "tethra_getAuthNonce", params, &result); err != nil {
		return 0, fmt.Errorf("get auth nonce: %w", err)
	}
	return result, nil
}

// LiquidationVerdict asks the risk policy for a liquidation decision.
func (c *HTTPClient) LiquidationVerdict(ctx context.Context, positionID uint64, price decimal.Decimal) (bool, error) {
	params := []interface{}{
		positionID,
		price.String(),
	}

	var result bool
	if err := c.call(ctx, "tethra_shouldLiquidate", params, &result); err != nil {
		return false, fmt.Errorf("liquidation verdict: %w", err)
	}
	return result, nil
}
