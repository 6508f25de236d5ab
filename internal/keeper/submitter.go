package keeper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Tethra-Dex/tethra-be/internal/domain"
	"github.com/Tethra-Dex/tethra-be/internal/ledger"
	"github.com/Tethra-Dex/tethra-be/internal/observability"
	"github.com/Tethra-Dex/tethra-be/internal/storage"
)

// DefaultMaxAttempts bounds sequence-conflict retries per submission.
const DefaultMaxAttempts = 3

// ErrRetriesExhausted is returned when a submission keeps hitting sequence
// conflicts past the retry ceiling.
var ErrRetriesExhausted = errors.New("sequence conflict retries exhausted")

// Operation is one ledger transaction to submit. Build receives the
// assigned sequence value and returns the signed transaction bytes; it
// must not perform network I/O.
type Operation struct {
	// Label names the operation in logs, metrics and submission records.
	Label string
	// Critical marks an operation whose failure aborts the remainder of
	// a SubmitSequence. Tail operations such as fee-split transfers are
	// non-critical.
	Critical bool
	Build    func(sequence uint64) ([]byte, error)
}

// Submitter submits operations fire-and-forget: it returns as soon as the
// node accepts a transaction for propagation, without waiting for
// confirmation. Sequence conflicts are repaired by resyncing the
// sequencer and retrying; every other failure is surfaced immediately.
type Submitter struct {
	sequencer   *NonceSequencer
	client      ledger.Client
	submissions storage.SubmissionStore
	metrics     *observability.Metrics
	logger      *log.Logger
	maxAttempts int
	nowFn       func() time.Time
}

// SubmitterOptions configures a Submitter.
type SubmitterOptions struct {
	Sequencer   *NonceSequencer
	Client      ledger.Client
	Submissions storage.SubmissionStore // optional
	Metrics     *observability.Metrics  // optional
	Logger      *log.Logger
	MaxAttempts int
	Now         func() time.Time // for tests
}

// NewSubmitter creates a Submitter.
func NewSubmitter(opts SubmitterOptions) *Submitter {
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Submitter{
		sequencer:   opts.Sequencer,
		client:      opts.Client,
		submissions: opts.Submissions,
		metrics:     opts.Metrics,
		logger:      logger,
		maxAttempts: maxAttempts,
		nowFn:       nowFn,
	}
}

// Submit obtains one sequence value, builds and sends the transaction and
// returns the accepted hash. On a sequence conflict it resyncs and retries
// the whole submission up to the retry ceiling. A non-conflict rejection
// is terminal: the consumed sequence value is not reused (gaps do not
// break ordering, reuse would) and the intent is not resubmitted.
func (s *Submitter) Submit(ctx context.Context, op Operation) (string, error) {
	var lastErr error
	var lastSeq uint64

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		seq, err := s.sequencer.Next()
		if err != nil {
			return "", fmt.Errorf("%s: acquire sequence: %w", op.Label, err)
		}

		hash, err := s.sendOnce(ctx, op, seq)
		if err == nil {
			return hash, nil
		}

		if !ledger.IsSequenceConflict(err) {
			s.recordFailure(op, seq, err)
			return "", fmt.Errorf("%s: %w", op.Label, err)
		}

		lastErr = err
		lastSeq = seq
		s.logger.Printf("[submitter] %s: sequence conflict at %d (attempt %d/%d), resyncing", op.Label, seq, attempt, s.maxAttempts)
		if s.metrics != nil {
			s.metrics.SequenceConflicts.Inc()
		}
		if _, err := s.sequencer.Resync(ctx); err != nil {
			return "", fmt.Errorf("%s: resync after conflict: %w", op.Label, err)
		}
		if s.metrics != nil {
			s.metrics.SequenceResyncs.Inc()
		}
	}

	s.recordFailure(op, lastSeq, lastErr)
	return "", fmt.Errorf("%s: %w: %w", op.Label, ErrRetriesExhausted, lastErr)
}

// SubmitSequence reserves a contiguous batch of sequence values and
// submits each operation with its pre-assigned ordinal. Later operations
// do not wait for earlier ones to confirm; the reserved ordinals make the
// ledger order them correctly once all propagate. Failure of the lead
// operation aborts the rest; failure of a non-critical tail operation is
// logged and does not roll anything back. Returns the lead hash.
func (s *Submitter) SubmitSequence(ctx context.Context, ops []Operation) (string, error) {
	if len(ops) == 0 {
		return "", errors.New("submit sequence: no operations")
	}

	start, err := s.sequencer.ReserveBatch(len(ops))
	if err != nil {
		return "", fmt.Errorf("reserve %d sequence values: %w", len(ops), err)
	}

	var firstHash string
	for i, op := range ops {
		seq := start + uint64(i)
		hash, err := s.sendOnce(ctx, op, seq)
		if err != nil {
			s.recordFailure(op, seq, err)
			if i == 0 || op.Critical {
				return "", fmt.Errorf("%s (ordinal %d): %w", op.Label, i, err)
			}
			s.logger.Printf("[submitter] %s (ordinal %d, seq %d) failed, continuing: %v", op.Label, i, seq, err)
			continue
		}
		if i == 0 {
			firstHash = hash
		}
	}

	return firstHash, nil
}

func (s *Submitter) sendOnce(ctx context.Context, op Operation, seq uint64) (string, error) {
	raw, err := op.Build(seq)
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}

	hash, err := s.client.SendTransaction(ctx, raw)
	if err != nil {
		return "", err
	}

	if s.metrics != nil {
		s.metrics.SubmissionsTotal.WithLabelValues(op.Label, "accepted").Inc()
	}
	s.recordPending(op, seq, hash)
	return hash, nil
}

func (s *Submitter) recordPending(op Operation, seq uint64, hash string) {
	if s.submissions == nil {
		return
	}
	rec := &domain.SubmissionRecord{
		TxHash:      hash,
		Sequence:    seq,
		Label:       op.Label,
		Status:      domain.SubmissionPending,
		SubmittedAt: s.nowFn().UnixMilli(),
	}
	if err := s.submissions.Insert(context.Background(), rec); err != nil {
		s.logger.Printf("[submitter] record submission %s: %v", hash, err)
	}
}

func (s *Submitter) recordFailure(op Operation, seq uint64, cause error) {
	if s.metrics != nil {
		s.metrics.SubmissionsTotal.WithLabelValues(op.Label, "failed").Inc()
	}
	if s.submissions == nil || cause == nil {
		return
	}
	rec := &domain.SubmissionRecord{
		Sequence:    seq,
		Label:       op.Label,
		Status:      domain.SubmissionFailed,
		Detail:      cause.Error(),
		SubmittedAt: s.nowFn().UnixMilli(),
	}
	if err := s.submissions.Insert(context.Background(), rec); err != nil {
		s.logger.Printf("[submitter] record failed submission: %v", err)
	}
}
