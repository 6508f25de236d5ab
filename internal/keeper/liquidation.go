package keeper

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Tethra-Dex/tethra-be/internal/domain"
	"github.com/Tethra-Dex/tethra-be/internal/ledger"
	"github.com/Tethra-Dex/tethra-be/internal/observability"
	"github.com/Tethra-Dex/tethra-be/internal/pricecache"
)

// Liquidation loop defaults.
const (
	DefaultScanInterval = 1 * time.Second
	DefaultQuoteMaxAge  = 60 * time.Second

	// DefaultForceFloorBps is the local loss floor: at or past −99% of
	// position size the keeper liquidates unconditionally, overriding
	// the remote risk policy. Safety net against policy unavailability
	// or disagreement.
	DefaultForceFloorBps = -9900
)

// LiquidationController continuously re-evaluates open positions against
// live prices and the remote risk policy. Failures are contained per
// position and per cycle; the loop itself never stops on error.
type LiquidationController struct {
	client    ledger.Client
	cache     *pricecache.Cache
	submitter *Submitter
	metrics   *observability.Metrics
	logger    *log.Logger

	interval      time.Duration
	quoteMaxAge   time.Duration
	forceFloorBps int64
	nowFn         func() time.Time

	mu          sync.Mutex
	running     bool
	lastScanAt  int64
	lastScanned int
}

// LiquidationOptions configures a LiquidationController.
type LiquidationOptions struct {
	Client    ledger.Client
	Cache     *pricecache.Cache
	Submitter *Submitter
	Metrics   *observability.Metrics // optional
	Logger    *log.Logger

	Interval      time.Duration
	QuoteMaxAge   time.Duration
	ForceFloorBps int64
	Now           func() time.Time // for tests
}

// NewLiquidationController creates a controller. Run starts the loop.
func NewLiquidationController(opts LiquidationOptions) *LiquidationController {
	interval := opts.Interval
	if interval == 0 {
		interval = DefaultScanInterval
	}
	quoteMaxAge := opts.QuoteMaxAge
	if quoteMaxAge == 0 {
		quoteMaxAge = DefaultQuoteMaxAge
	}
	forceFloorBps := opts.ForceFloorBps
	if forceFloorBps == 0 {
		forceFloorBps = DefaultForceFloorBps
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &LiquidationController{
		client:        opts.Client,
		cache:         opts.Cache,
		submitter:     opts.Submitter,
		metrics:       opts.Metrics,
		logger:        logger,
		interval:      interval,
		quoteMaxAge:   quoteMaxAge,
		forceFloorBps: forceFloorBps,
		nowFn:         nowFn,
	}
}

// Run executes the scan loop until ctx is cancelled. Cancellation is
// checked between iterations: an in-flight scan always completes.
func (c *LiquidationController) Run(ctx context.Context) {
	c.setRunning(true)
	defer c.setRunning(false)

	c.logger.Printf("[liquidation] loop started, interval %v", c.interval)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Println("[liquidation] loop stopped")
			return
		case <-ticker.C:
			c.Scan(ctx)
		}
	}
}

// Scan performs one full evaluation cycle over all ledger positions.
// Exported so tests can drive single iterations.
func (c *LiquidationController) Scan(ctx context.Context) {
	start := c.nowFn()

	highWater, err := c.client.PositionCount(ctx)
	if err != nil {
		// Remote unavailable: no action this cycle, next cycle re-reads.
		c.logger.Printf("[liquidation] position count: %v", err)
		return
	}

	scanned := 0
	for id := uint64(1); id <= highWater; id++ {
		c.evaluate(ctx, id)
		scanned++
	}

	c.mu.Lock()
	c.lastScanAt = c.nowFn().UnixMilli()
	c.lastScanned = scanned
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.LiquidationScans.Inc()
		c.metrics.ScanDuration.Observe(c.nowFn().Sub(start).Seconds())
	}
}

// evaluate checks one position. Every error path is contained here: the
// scan continues with the next position regardless of outcome.
func (c *LiquidationController) evaluate(ctx context.Context, id uint64) {
	pos, err := c.client.GetPosition(ctx, id)
	if err != nil {
		c.logger.Printf("[liquidation] read position %d: %v", id, err)
		c.skip("read_error")
		return
	}
	if pos == nil || pos.Status != domain.PositionOpen {
		return
	}

	quote, ok := c.cache.GetFresh(pos.Symbol)
	if !ok {
		// An unpriced position cannot be safely evaluated.
		c.skip("no_fresh_quote")
		return
	}

	if c.metrics != nil {
		c.metrics.PositionsEvaluated.Inc()
	}

	// Local sanity computation, never blocks on the network.
	pnlBps := pos.PnLBps(quote.Price)

	verdict, err := c.client.LiquidationVerdict(ctx, id, quote.Price)
	if err != nil {
		// Unknown verdict defaults to not-liquidate for this cycle.
		c.logger.Printf("[liquidation] risk verdict for position %d: %v", id, err)
		verdict = false
	}

	forced := pnlBps <= c.forceFloorBps
	if forced {
		c.logger.Printf("[liquidation] position %d hit force floor: pnl %d bps <= %d bps", id, pnlBps, c.forceFloorBps)
		if c.metrics != nil {
			c.metrics.ForceLiquidations.Inc()
		}
	}

	if !verdict && !forced {
		return
	}

	if err := c.submitForceClose(ctx, pos, quote.Price); err != nil {
		// Position stays open and is re-evaluated next cycle.
		c.logger.Printf("[liquidation] submit force-close for position %d: %v", id, err)
		return
	}

	if c.metrics != nil {
		c.metrics.LiquidationsSubmitted.Inc()
	}
	c.logger.Printf("[liquidation] submitted force-close for position %d (pnl %d bps, verdict %t, forced %t)", id, pnlBps, verdict, forced)
}

func (c *LiquidationController) skip(reason string) {
	if c.metrics != nil {
		c.metrics.PositionsSkipped.WithLabelValues(reason).Inc()
	}
}

// forceClosePayload is the wire body of a force-close transaction.
type forceClosePayload struct {
	Kind       string `json:"kind"`
	Sequence   uint64 `json:"sequence"`
	PositionID uint64 `json:"positionId"`
	Price      string `json:"price"`
	Timestamp  int64  `json:"timestamp"`
}

func (c *LiquidationController) submitForceClose(ctx context.Context, pos *domain.Position, price decimal.Decimal) error {
	op := Operation{
		Label:    "force_close",
		Critical: true,
		Build: func(seq uint64) ([]byte, error) {
			payload := forceClosePayload{
				Kind:       "force_close",
				Sequence:   seq,
				PositionID: pos.ID,
				Price:      price.String(),
				Timestamp:  c.nowFn().UnixMilli(),
			}
			raw, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("marshal force-close: %w", err)
			}
			return raw, nil
		},
	}
	_, err := c.submitter.Submit(ctx, op)
	return err
}

func (c *LiquidationController) setRunning(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = v
}

// LiquidationStatus is the loop's status surface for the API layer.
type LiquidationStatus struct {
	Running        bool     `json:"running"`
	TrackedSymbols []string `json:"trackedSymbols"`
	LastScanAt     int64    `json:"lastScanAt"`
	LastScanned    int      `json:"lastScanned"`
}

// Status reports whether the loop is running, the symbols with cached
// quotes, and the last scan's statistics.
func (c *LiquidationController) Status() LiquidationStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return LiquidationStatus{
		Running:        c.running,
		TrackedSymbols: c.cache.Symbols(),
		LastScanAt:     c.lastScanAt,
		LastScanned:    c.lastScanned,
	}
}
