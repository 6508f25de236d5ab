package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Tethra-Dex/tethra-be/internal/domain"
	"github.com/Tethra-Dex/tethra-be/internal/observability"
	"github.com/Tethra-Dex/tethra-be/internal/pricecache"
)

// DefaultPollInterval is how often the polling feed fetches quotes.
const DefaultPollInterval = 2 * time.Second

// pollQuote is one symbol's entry in the upstream snapshot response.
type pollQuote struct {
	Symbol      string `json:"symbol"`
	Price       string `json:"price"`
	Confidence  string `json:"conf"`
	PublishTime int64  `json:"publishTime"` // ms
}

// PollFeed fetches a quote snapshot over HTTP at a fixed interval. Fetch
// failures are treated as no-update; the cache keeps serving what it has.
type PollFeed struct {
	endpoint string
	cache    *pricecache.Cache
	client   *http.Client
	metrics  *observability.Metrics
	logger   *log.Logger
	interval time.Duration
}

// PollFeedOptions configures a PollFeed.
type PollFeedOptions struct {
	Endpoint   string
	Cache      *pricecache.Cache
	HTTPClient *http.Client           // optional
	Metrics    *observability.Metrics // optional
	Logger     *log.Logger
	Interval   time.Duration
}

// NewPollFeed creates a polling feed adapter.
func NewPollFeed(opts PollFeedOptions) *PollFeed {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	interval := opts.Interval
	if interval == 0 {
		interval = DefaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &PollFeed{
		endpoint: opts.Endpoint,
		cache:    opts.Cache,
		client:   client,
		metrics:  opts.Metrics,
		logger:   logger,
		interval: interval,
	}
}

// Run polls until ctx is cancelled.
func (f *PollFeed) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := f.Poll(ctx); err != nil {
				f.logger.Printf("[poll-feed] poll: %v", err)
			}
		}
	}
}

// Poll fetches the snapshot once and pushes every quote into the cache.
// Exported so tests can drive single iterations.
func (f *PollFeed) Poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch quotes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var quotes []pollQuote
	if err := json.NewDecoder(resp.Body).Decode(&quotes); err != nil {
		return fmt.Errorf("decode quotes: %w", err)
	}

	for _, q := range quotes {
		price, err := decimal.NewFromString(q.Price)
		if err != nil {
			f.logger.Printf("[poll-feed] bad price %q for %s: %v", q.Price, q.Symbol, err)
			continue
		}
		conf := decimal.Zero
		if q.Confidence != "" {
			if conf, err = decimal.NewFromString(q.Confidence); err != nil {
				conf = decimal.Zero
			}
		}

		accepted := f.cache.Update(domain.Quote{
			Symbol:      q.Symbol,
			Price:       price,
			Confidence:  conf,
			PublishTime: q.PublishTime,
			Source:      domain.SourcePolling,
		})

		if f.metrics != nil {
			if accepted {
				f.metrics.QuotesAccepted.WithLabelValues(string(domain.SourcePolling)).Inc()
			} else {
				f.metrics.QuotesRejected.WithLabelValues(string(domain.SourcePolling)).Inc()
			}
		}
	}

	if f.metrics != nil {
		f.metrics.TrackedSymbols.Set(float64(len(f.cache.Symbols())))
	}

	return nil
}
