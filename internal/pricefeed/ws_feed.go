// Package pricefeed contains upstream quote adapters. A feed pushes
// quotes into the price cache; the cache enforces freshness and ordering,
// the feed owns its own reconnection policy.
package pricefeed

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/Tethra-Dex/tethra-be/internal/domain"
	"github.com/Tethra-Dex/tethra-be/internal/observability"
	"github.com/Tethra-Dex/tethra-be/internal/pricecache"
)

// Reconnection policy: delay grows linearly with the attempt count and
// the feed gives up past the ceiling, leaving the cache to serve stale or
// absent data until the process restarts.
const (
	DefaultBaseRetryDelay = 5 * time.Second
	DefaultMaxRetries     = 10
)

// wsTick is one quote message from the upstream stream.
type wsTick struct {
	Symbol      string `json:"symbol"`
	Price       string `json:"price"`
	Confidence  string `json:"conf"`
	PublishTime int64  `json:"publishTime"` // ms
}

// WSFeed streams quotes over a WebSocket connection into the cache.
type WSFeed struct {
	endpoint string
	symbols  []string
	cache    *pricecache.Cache
	metrics  *observability.Metrics
	logger   *log.Logger

	baseRetryDelay time.Duration
	maxRetries     int
}

// WSFeedOptions configures a WSFeed.
type WSFeedOptions struct {
	Endpoint string
	Symbols  []string
	Cache    *pricecache.Cache
	Metrics  *observability.Metrics // optional
	Logger   *log.Logger

	BaseRetryDelay time.Duration
	MaxRetries     int
}

// NewWSFeed creates a WebSocket feed adapter.
func NewWSFeed(opts WSFeedOptions) *WSFeed {
	baseRetryDelay := opts.BaseRetryDelay
	if baseRetryDelay == 0 {
		baseRetryDelay = DefaultBaseRetryDelay
	}
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &WSFeed{
		endpoint:       opts.Endpoint,
		symbols:        opts.Symbols,
		cache:          opts.Cache,
		metrics:        opts.Metrics,
		logger:         logger,
		baseRetryDelay: baseRetryDelay,
		maxRetries:     maxRetries,
	}
}

// Run connects and streams until ctx is cancelled or the retry ceiling is
// exhausted. Each disconnect costs one attempt; a successful session
// resets the count.
func (f *WSFeed) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := f.stream(ctx)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}

		attempt++
		if attempt > f.maxRetries {
			f.logger.Printf("[ws-feed] giving up after %d attempts: %v", attempt-1, err)
			return fmt.Errorf("ws feed retries exhausted: %w", err)
		}

		delay := f.baseRetryDelay * time.Duration(attempt)
		f.logger.Printf("[ws-feed] disconnected (attempt %d/%d), reconnecting in %v: %v", attempt, f.maxRetries, delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// stream runs one connected session. Returns nil only on context
// cancellation.
func (f *WSFeed) stream(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	sub := map[string]interface{}{"op": "subscribe", "symbols": f.symbols}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	f.logger.Printf("[ws-feed] subscribed to %v", f.symbols)

	// Unblock ReadJSON on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var tick wsTick
		if err := conn.ReadJSON(&tick); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read tick: %w", err)
		}
		f.ingest(tick)
	}
}

func (f *WSFeed) ingest(tick wsTick) {
	price, err := decimal.NewFromString(tick.Price)
	if err != nil {
		f.logger.Printf("[ws-feed] bad price %q for %s: %v", tick.Price, tick.Symbol, err)
		return
	}
	conf := decimal.Zero
	if tick.Confidence != "" {
		if conf, err = decimal.NewFromString(tick.Confidence); err != nil {
			f.logger.Printf("[ws-feed] bad confidence %q for %s: %v", tick.Confidence, tick.Symbol, err)
			conf = decimal.Zero
		}
	}

	accepted := f.cache.Update(domain.Quote{
		Symbol:      tick.Symbol,
		Price:       price,
		Confidence:  conf,
		PublishTime: tick.PublishTime,
		Source:      domain.SourceWebsocket,
	})

	if f.metrics != nil {
		if accepted {
			f.metrics.QuotesAccepted.WithLabelValues(string(domain.SourceWebsocket)).Inc()
			f.metrics.TrackedSymbols.Set(float64(len(f.cache.Symbols())))
		} else {
			f.metrics.QuotesRejected.WithLabelValues(string(domain.SourceWebsocket)).Inc()
		}
	}
}
