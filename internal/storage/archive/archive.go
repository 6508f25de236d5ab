// Package archive tees submission records into an append-only history
// sink (ClickHouse) alongside the primary operational store. Archival is
// best-effort: a sink outage never blocks or fails a submission.
package archive

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Tethra-Dex/tethra-be/internal/domain"
	"github.com/Tethra-Dex/tethra-be/internal/storage"
)

// DefaultFlushInterval is how often buffered records are flushed to the sink.
const DefaultFlushInterval = 30 * time.Second

// defaultMaxBuffer caps the in-memory backlog while the sink is unreachable.
const defaultMaxBuffer = 10_000

// HistorySink receives archived records in bulk.
type HistorySink interface {
	InsertBulk(ctx context.Context, records []*domain.SubmissionRecord) error
}

// SubmissionStore wraps a primary storage.SubmissionStore and buffers a
// copy of every inserted record for periodic bulk archival.
type SubmissionStore struct {
	primary storage.SubmissionStore
	sink    HistorySink
	logger  *log.Logger
	flushIv time.Duration

	mu     sync.Mutex
	buffer []*domain.SubmissionRecord
}

// Options configures an archiving SubmissionStore.
type Options struct {
	Primary       storage.SubmissionStore
	Sink          HistorySink
	Logger        *log.Logger
	FlushInterval time.Duration
}

// NewSubmissionStore creates an archiving wrapper around a primary store.
func NewSubmissionStore(opts Options) *SubmissionStore {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	flushIv := opts.FlushInterval
	if flushIv == 0 {
		flushIv = DefaultFlushInterval
	}
	return &SubmissionStore{
		primary: opts.Primary,
		sink:    opts.Sink,
		logger:  logger,
		flushIv: flushIv,
	}
}

// Compile-time interface check.
var _ storage.SubmissionStore = (*SubmissionStore)(nil)

// Insert writes to the primary store and buffers a copy for the sink.
func (s *SubmissionStore) Insert(ctx context.Context, r *domain.SubmissionRecord) error {
	if err := s.primary.Insert(ctx, r); err != nil {
		return err
	}

	clone := *r
	s.mu.Lock()
	if len(s.buffer) < defaultMaxBuffer {
		s.buffer = append(s.buffer, &clone)
	}
	s.mu.Unlock()
	return nil
}

// ListPending delegates to the primary store.
func (s *SubmissionStore) ListPending(ctx context.Context) ([]*domain.SubmissionRecord, error) {
	return s.primary.ListPending(ctx)
}

// Count delegates to the primary store.
func (s *SubmissionStore) Count(ctx context.Context, status domain.SubmissionStatus) (int, error) {
	return s.primary.Count(ctx, status)
}

// Run flushes the buffer on a ticker until ctx is cancelled, then performs
// a final flush.
func (s *SubmissionStore) Run(ctx context.Context) {
	ticker := time.NewTicker(s.flushIv)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Flush(context.Background())
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

// Flush sends buffered records to the sink. On failure the batch is put
// back for the next attempt.
func (s *SubmissionStore) Flush(ctx context.Context) {
	s.mu.Lock()
	batch := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if err := s.sink.InsertBulk(ctx, batch); err != nil {
		s.logger.Printf("[archive] flush %d records: %v", len(batch), err)
		s.mu.Lock()
		if len(batch)+len(s.buffer) <= defaultMaxBuffer {
			s.buffer = append(batch, s.buffer...)
		}
		s.mu.Unlock()
	}
}
