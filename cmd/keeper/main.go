// Package main runs the Tethra keeper: the backend process that submits
// ledger transactions on behalf of users and the platform itself.
// Components:
// - Price feeds (continuous): WebSocket and/or polling quote ingestion
// - Liquidation loop (1s): open positions vs live prices and risk policy
// - Conditional-order loop (3s + 30s sweep): trigger evaluation and execution
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Tethra-Dex/tethra-be/internal/auth"
	"github.com/Tethra-Dex/tethra-be/internal/domain"
	"github.com/Tethra-Dex/tethra-be/internal/keeper"
	"github.com/Tethra-Dex/tethra-be/internal/ledger"
	"github.com/Tethra-Dex/tethra-be/internal/observability"
	"github.com/Tethra-Dex/tethra-be/internal/pricecache"
	"github.com/Tethra-Dex/tethra-be/internal/pricefeed"
	"github.com/Tethra-Dex/tethra-be/internal/storage"
	"github.com/Tethra-Dex/tethra-be/internal/storage/archive"
	chstore "github.com/Tethra-Dex/tethra-be/internal/storage/clickhouse"
	"github.com/Tethra-Dex/tethra-be/internal/storage/memory"
	"github.com/Tethra-Dex/tethra-be/internal/storage/migrations"
	pgstore "github.com/Tethra-Dex/tethra-be/internal/storage/postgres"
)

// Server holds all components of the keeper process.
type Server struct {
	cache     *pricecache.Cache
	liqCtrl   *keeper.LiquidationController
	orderCtrl *keeper.OrderController
	sequencer *keeper.NonceSequencer
	subStore  storage.SubmissionStore
	logger    *log.Logger

	mu        sync.Mutex
	startedAt time.Time
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("TETHRA_RPC_ENDPOINT"), "Tethra ledger RPC HTTP endpoint")
	feedWSEndpoint := flag.String("feed-ws-endpoint", os.Getenv("PRICE_FEED_WS_ENDPOINT"), "Price feed WebSocket endpoint")
	feedPollEndpoint := flag.String("feed-poll-endpoint", os.Getenv("PRICE_FEED_POLL_ENDPOINT"), "Price feed HTTP snapshot endpoint")
	symbols := flag.String("symbols", os.Getenv("KEEPER_SYMBOLS"), "Comma-separated symbols to track")
	keeperKey := flag.String("keeper-key", os.Getenv("KEEPER_PRIVATE_KEY"), "Keeper ed25519 private key (base64, 64 bytes)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (optional archive)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	httpAddr := flag.String("http-addr", ":9090", "HTTP address for health/metrics/status")
	scanInterval := flag.Duration("scan-interval", keeper.DefaultScanInterval, "Liquidation scan interval")
	orderInterval := flag.Duration("order-interval", keeper.DefaultOrderInterval, "Conditional-order check interval")
	sweepInterval := flag.Duration("sweep-interval", keeper.DefaultSweepInterval, "Expired-order sweep interval")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[keeper] ", log.LstdFlags|log.Lshortfile)

	// Validate required flags
	if *rpcEndpoint == "" {
		logger.Fatal("--rpc-endpoint is required")
	}
	if *feedWSEndpoint == "" && *feedPollEndpoint == "" {
		logger.Fatal("at least one of --feed-ws-endpoint or --feed-poll-endpoint is required")
	}
	if *keeperKey == "" {
		logger.Fatal("--keeper-key is required")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	priv, err := parseKeeperKey(*keeperKey)
	if err != nil {
		logger.Fatalf("Invalid keeper key: %v", err)
	}
	attestor := auth.NewAttestor(priv)
	logger.Printf("Keeper address: %s", attestor.Address())

	symbolList := splitSymbols(*symbols)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Create stores
	orderStore, subStore, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory, logger)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	metrics := observability.NewMetrics("tethra_keeper")

	// Ledger client and sequencer
	client := ledger.NewHTTPClient(*rpcEndpoint, ledger.WithMetrics(metrics))
	sequencer := keeper.NewNonceSequencer(client, attestor.Address(), logger)
	if err := sequencer.Initialize(ctx); err != nil {
		// The keeper cannot operate without its sequence baseline.
		logger.Fatalf("Sequencer initialization failed: %v", err)
	}

	submitter := keeper.NewSubmitter(keeper.SubmitterOptions{
		Sequencer:   sequencer,
		Client:      client,
		Submissions: subStore,
		Metrics:     metrics,
		Logger:      logger,
	})

	cache := pricecache.New(pricecache.Options{Logger: logger})

	liqCtrl := keeper.NewLiquidationController(keeper.LiquidationOptions{
		Client:    client,
		Cache:     cache,
		Submitter: submitter,
		Metrics:   metrics,
		Logger:    logger,
		Interval:  *scanInterval,
	})

	orderCtrl := keeper.NewOrderController(keeper.OrderOptions{
		Client:        client,
		Cache:         cache,
		Submitter:     submitter,
		Store:         orderStore,
		Attestor:      attestor,
		Metrics:       metrics,
		Logger:        logger,
		Interval:      *orderInterval,
		SweepInterval: *sweepInterval,
	})

	server := &Server{
		cache:     cache,
		liqCtrl:   liqCtrl,
		orderCtrl: orderCtrl,
		sequencer: sequencer,
		subStore:  subStore,
		logger:    logger,
		startedAt: time.Now(),
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	// Price feeds
	if *feedWSEndpoint != "" {
		feed := pricefeed.NewWSFeed(pricefeed.WSFeedOptions{
			Endpoint: *feedWSEndpoint,
			Symbols:  symbolList,
			Cache:    cache,
			Metrics:  metrics,
			Logger:   logger,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
				// Cache serves stale/absent data until restart.
				logger.Printf("WebSocket feed stopped: %v", err)
			}
		}()
	}
	if *feedPollEndpoint != "" {
		feed := pricefeed.NewPollFeed(pricefeed.PollFeedOptions{
			Endpoint: *feedPollEndpoint,
			Cache:    cache,
			Metrics:  metrics,
			Logger:   logger,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = feed.Run(ctx)
		}()
	}

	// Control loops
	wg.Add(1)
	go func() {
		defer wg.Done()
		liqCtrl.Run(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		orderCtrl.Run(ctx)
	}()

	// HTTP server for health/metrics/status
	go server.startHTTPServer(*httpAddr)

	sig := <-sigCh
	logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case sig := <-sigCh:
		logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
		os.Exit(1)
	case <-time.After(30 * time.Second):
		logger.Println("Graceful shutdown timed out after 30s, forcing exit")
		os.Exit(1)
	}

	logger.Println("Shutdown complete")
}

// parseKeeperKey decodes a base64 ed25519 private key.
func parseKeeperKey(encoded string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("expected %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}

func splitSymbols(symbols string) []string {
	var list []string
	for _, s := range strings.Split(symbols, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			list = append(list, s)
		}
	}
	return list
}

// createStores creates the order and submission stores.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool, logger *log.Logger) (storage.OrderStore, storage.SubmissionStore, func(), error) {
	if useMemory {
		return memory.NewOrderStore(), memory.NewSubmissionStore(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	cleanup := func() { pool.Close() }
	orderStore := pgstore.NewOrderStore(pool)
	var subStore storage.SubmissionStore = pgstore.NewSubmissionStore(pool)

	// Optional ClickHouse archive for offline reconciliation.
	if clickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, clickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
			conn.Close()
			pool.Close()
			return nil, nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}

		archiving := archive.NewSubmissionStore(archive.Options{
			Primary: subStore,
			Sink:    chstore.NewSubmissionHistoryStore(conn),
			Logger:  logger,
		})
		go archiving.Run(ctx)
		subStore = archiving

		logger.Println("ClickHouse submission archive enabled")
		cleanup = func() {
			conn.Close()
			pool.Close()
		}
	}

	return orderStore, subStore, cleanup, nil
}

// startHTTPServer starts the HTTP server for health/metrics/status.
func (s *Server) startHTTPServer(addr string) {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	// Status endpoint
	mux.HandleFunc("/status", s.handleStatus)

	// Price snapshot for the API layer
	mux.HandleFunc("/prices", s.handlePrices)

	s.logger.Printf("Starting HTTP server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("HTTP server error: %v", err)
	}
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status             string                   `json:"status"`
	Uptime             string                   `json:"uptime"`
	NextSequence       uint64                   `json:"nextSequence"`
	Liquidation        keeper.LiquidationStatus `json:"liquidation"`
	Orders             keeper.OrderLoopStatus   `json:"orders"`
	PendingSubmissions int                      `json:"pendingSubmissions"`
}

// handleStatus returns keeper status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	startedAt := s.startedAt
	s.mu.Unlock()

	pendingSubs, err := s.subStore.Count(r.Context(), domain.SubmissionPending)
	if err != nil {
		s.logger.Printf("count pending submissions: %v", err)
	}

	resp := StatusResponse{
		Status:             "running",
		Uptime:             time.Since(startedAt).String(),
		NextSequence:       s.sequencer.Current(),
		Liquidation:        s.liqCtrl.Status(),
		Orders:             s.orderCtrl.Status(r.Context()),
		PendingSubmissions: pendingSubs,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handlePrices returns the current price snapshot as JSON.
func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	type priceEntry struct {
		Price       string `json:"price"`
		PublishTime int64  `json:"publishTime"`
		Source      string `json:"source"`
	}

	snapshot := make(map[string]priceEntry)
	for sym, q := range s.cache.GetAll() {
		snapshot[sym] = priceEntry{
			Price:       q.Price.String(),
			PublishTime: q.PublishTime,
			Source:      string(q.Source),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshot)
}

// loadEnvFile loads .env into the environment without overriding
// variables that are already set.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
