package keeper

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Tethra-Dex/tethra-be/internal/auth"
	"github.com/Tethra-Dex/tethra-be/internal/domain"
	"github.com/Tethra-Dex/tethra-be/internal/ledger"
	"github.com/Tethra-Dex/tethra-be/internal/observability"
	"github.com/Tethra-Dex/tethra-be/internal/pricecache"
	"github.com/Tethra-Dex/tethra-be/internal/storage"
)

// Conditional-order loop defaults.
const (
	DefaultOrderInterval = 3 * time.Second
	DefaultSweepInterval = 30 * time.Second
)

// OrderController evaluates pending conditional orders and executes them
// when their trigger condition is met, after pre-flight authorization
// checks. A failed order requires re-intake; nothing is retried
// automatically.
type OrderController struct {
	client    ledger.Client
	cache     *pricecache.Cache
	submitter *Submitter
	store     storage.OrderStore
	attestor  *auth.Attestor
	metrics   *observability.Metrics
	logger    *log.Logger

	interval      time.Duration
	sweepInterval time.Duration
	quoteMaxAge   time.Duration
	nowFn         func() time.Time

	mu      sync.Mutex
	running bool
}

// OrderOptions configures an OrderController.
type OrderOptions struct {
	Client    ledger.Client
	Cache     *pricecache.Cache
	Submitter *Submitter
	Store     storage.OrderStore
	Attestor  *auth.Attestor
	Metrics   *observability.Metrics // optional
	Logger    *log.Logger

	Interval      time.Duration
	SweepInterval time.Duration
	QuoteMaxAge   time.Duration
	Now           func() time.Time // for tests
}

// NewOrderController creates a controller. Run starts both tickers.
func NewOrderController(opts OrderOptions) *OrderController {
	interval := opts.Interval
	if interval == 0 {
		interval = DefaultOrderInterval
	}
	sweepInterval := opts.SweepInterval
	if sweepInterval == 0 {
		sweepInterval = DefaultSweepInterval
	}
	quoteMaxAge := opts.QuoteMaxAge
	if quoteMaxAge == 0 {
		quoteMaxAge = DefaultQuoteMaxAge
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &OrderController{
		client:        opts.Client,
		cache:         opts.Cache,
		submitter:     opts.Submitter,
		store:         opts.Store,
		attestor:      opts.Attestor,
		metrics:       opts.Metrics,
		logger:        logger,
		interval:      interval,
		sweepInterval: sweepInterval,
		quoteMaxAge:   quoteMaxAge,
		nowFn:         nowFn,
	}
}

// Run executes the evaluation loop and the lower-frequency expiry sweep
// until ctx is cancelled. Cancellation is checked between iterations.
func (c *OrderController) Run(ctx context.Context) {
	c.setRunning(true)
	defer c.setRunning(false)

	c.logger.Printf("[orders] loop started, interval %v, sweep %v", c.interval, c.sweepInterval)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	sweepTicker := time.NewTicker(c.sweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Println("[orders] loop stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		case <-sweepTicker.C:
			c.Sweep(ctx)
		}
	}
}

// Check performs one evaluation cycle over all pending orders. Exported
// so tests can drive single iterations.
func (c *OrderController) Check(ctx context.Context) {
	orders, err := c.store.ListPending(ctx)
	if err != nil {
		c.logger.Printf("[orders] list pending: %v", err)
		return
	}

	if c.metrics != nil {
		c.metrics.OrderChecks.Inc()
		c.metrics.PendingOrders.Set(float64(len(orders)))
	}

	nowMs := c.nowFn().UnixMilli()
	for _, order := range orders {
		// Expired orders are left for the sweep; not-yet-due orders are
		// simply not evaluated.
		if !order.InWindow(nowMs) {
			continue
		}

		quote, ok := c.cache.GetFresh(order.Symbol)
		if !ok {
			continue
		}

		if !order.Triggered(quote.Price) {
			continue
		}

		c.execute(ctx, order, quote)
	}
}

// Sweep transitions every pending order past its window to Expired.
func (c *OrderController) Sweep(ctx context.Context) {
	swept, err := c.store.SweepExpired(ctx, c.nowFn().UnixMilli())
	if err != nil {
		c.logger.Printf("[orders] sweep expired: %v", err)
		return
	}
	if swept > 0 {
		c.logger.Printf("[orders] swept %d expired orders", swept)
		if c.metrics != nil {
			c.metrics.OrdersExpired.Add(float64(swept))
		}
	}
}

// execute runs the irrevocable part of order execution: once the order is
// marked Executing it ends in exactly one of Executed, Failed or
// NeedsResign. Errors here update order status, they are never re-raised.
func (c *OrderController) execute(ctx context.Context, order *domain.ConditionalOrder, quote domain.Quote) {
	// The authorization counter is shared across all of a trader's
	// conditional orders, so a sibling order can supersede this one's
	// signature. Read it before claiming the order: a transient RPC
	// failure here leaves the order pending for the next cycle instead
	// of burning it.
	chainNonce, err := c.client.AuthNonce(ctx, order.Trader)
	if err != nil {
		c.logger.Printf("[orders] read auth nonce for %s: %v", order.OrderID, err)
		return
	}

	if err := c.store.MarkExecuting(ctx, order.OrderID); err != nil {
		// Lost the claim (e.g. concurrent transition); leave it alone.
		c.logger.Printf("[orders] claim %s: %v", order.OrderID, err)
		return
	}

	att := c.attestor.Attest(order.Symbol, quote.Price, c.nowFn().UnixMilli())

	// Quarantine rather than submit a doomed transaction.
	if chainNonce != order.AuthNonce {
		reason := fmt.Sprintf("auth nonce mismatch: order has %d, chain has %d", order.AuthNonce, chainNonce)
		c.logger.Printf("[orders] %s needs resign: %s", order.OrderID, reason)
		if err := c.store.MarkNeedsResign(ctx, order.OrderID, reason); err != nil {
			c.logger.Printf("[orders] mark needs-resign %s: %v", order.OrderID, err)
		}
		if c.metrics != nil {
			c.metrics.OrdersNeedsResign.Inc()
		}
		return
	}

	// Local pre-flight: a bad signature would be rejected on-chain, so
	// spending a sequence value on it is pure waste.
	signer, err := auth.VerifyOrderSignature(order)
	if err != nil {
		c.fail(ctx, order, fmt.Sprintf("signature pre-flight: %v", err))
		return
	}

	txHash, err := c.submit(ctx, order, att, signer)
	if err != nil {
		c.fail(ctx, order, fmt.Sprintf("submit: %v", err))
		return
	}

	if err := c.store.MarkExecuted(ctx, order.OrderID, txHash, quote.Price); err != nil {
		c.logger.Printf("[orders] mark executed %s: %v", order.OrderID, err)
		return
	}
	if c.metrics != nil {
		c.metrics.OrdersExecuted.Inc()
	}
	c.logger.Printf("[orders] executed %s via %s at %s (tx %s)", order.OrderID, signer, quote.Price, txHash)
}

func (c *OrderController) fail(ctx context.Context, order *domain.ConditionalOrder, reason string) {
	c.logger.Printf("[orders] %s failed: %s", order.OrderID, reason)
	if err := c.store.MarkFailed(ctx, order.OrderID, reason); err != nil {
		c.logger.Printf("[orders] mark failed %s: %v", order.OrderID, err)
	}
	if c.metrics != nil {
		c.metrics.OrdersFailed.Inc()
	}
}

// executeOrderPayload is the wire body of an order-execution transaction.
// The session-key path omits the user signature: the keeper has already
// validated it, and the keeper's own transaction signature authenticates
// the call, so the contract skips the on-chain signature check.
type executeOrderPayload struct {
	Kind         string `json:"kind"`
	Sequence     uint64 `json:"sequence"`
	OrderID      string `json:"orderId"`
	Trader       string `json:"trader"`
	Symbol       string `json:"symbol"`
	IsLong       bool   `json:"isLong"`
	Collateral   string `json:"collateral"`
	Leverage     uint32 `json:"leverage"`
	AuthNonce    uint64 `json:"authNonce"`
	Signature    string `json:"signature,omitempty"`
	SessionKey   string `json:"sessionKey,omitempty"`
	AttestPrice  string `json:"attestPrice"`
	AttestTime   int64  `json:"attestTime"`
	AttestSig    string `json:"attestSig"`
	AttestKeeper string `json:"attestKeeper"`
}

func (c *OrderController) submit(ctx context.Context, order *domain.ConditionalOrder, att *auth.PriceAttestation, signer auth.Signer) (string, error) {
	kind := "execute_order_signed"
	if signer == auth.SignerSessionKey {
		kind = "execute_order_keeper"
	}

	op := Operation{
		Label:    kind,
		Critical: true,
		Build: func(seq uint64) ([]byte, error) {
			payload := executeOrderPayload{
				Kind:         kind,
				Sequence:     seq,
				OrderID:      order.OrderID,
				Trader:       order.Trader,
				Symbol:       order.Symbol,
				IsLong:       order.IsLong,
				Collateral:   order.Collateral.String(),
				Leverage:     order.Leverage,
				AuthNonce:    order.AuthNonce,
				AttestPrice:  att.Price.String(),
				AttestTime:   att.Timestamp,
				AttestSig:    base64.StdEncoding.EncodeToString(att.Signature),
				AttestKeeper: att.Keeper,
			}
			if signer == auth.SignerSessionKey {
				payload.SessionKey = order.SessionKey
			} else {
				payload.Signature = base64.StdEncoding.EncodeToString(order.Signature)
			}
			raw, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("marshal execute-order: %w", err)
			}
			return raw, nil
		},
	}

	return c.submitter.Submit(ctx, op)
}

func (c *OrderController) setRunning(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = v
}

// OrderLoopStatus is the loop's status surface for the API layer.
type OrderLoopStatus struct {
	Running      bool `json:"running"`
	PendingCount int  `json:"pendingCount"`
}

// Status reports whether the loop is running and the pending order count.
func (c *OrderController) Status(ctx context.Context) OrderLoopStatus {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()

	pending, err := c.store.CountPending(ctx)
	if err != nil {
		c.logger.Printf("[orders] count pending: %v", err)
	}
	return OrderLoopStatus{Running: running, PendingCount: pending}
}
