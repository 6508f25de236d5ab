package keeper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/Tethra-Dex/tethra-be/internal/domain"
	"github.com/Tethra-Dex/tethra-be/internal/ledger/ledgertest"
	"github.com/Tethra-Dex/tethra-be/internal/storage/memory"
)

func newTestSubmitter(t *testing.T, client *ledgertest.Client) (*Submitter, *memory.SubmissionStore) {
	t.Helper()
	seq := NewNonceSequencer(client, "keeper1", nil)
	if err := seq.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	store := memory.NewSubmissionStore()
	sub := NewSubmitter(SubmitterOptions{
		Sequencer:   seq,
		Client:      client,
		Submissions: store,
	})
	return sub, store
}

func echoOp(label string) Operation {
	return Operation{
		Label: label,
		Build: func(seq uint64) ([]byte, error) {
			return []byte(fmt.Sprintf("%s:%d", label, seq)), nil
		},
	}
}

func TestSubmitter_Submit(t *testing.T) {
	client := ledgertest.New()
	client.Sequences["keeper1"] = 7

	sub, store := newTestSubmitter(t, client)

	hash, err := sub.Submit(context.Background(), echoOp("open"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if hash == "" {
		t.Fatal("expected non-empty hash")
	}

	txs := client.SentTxs()
	if len(txs) != 1 {
		t.Fatalf("expected 1 sent tx, got %d", len(txs))
	}
	if string(txs[0]) != "open:7" {
		t.Errorf("expected tx built with sequence 7, got %q", txs[0])
	}

	pending, err := store.ListPending(context.Background())
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending record, got %d", len(pending))
	}
	if pending[0].Sequence != 7 || pending[0].Label != "open" {
		t.Errorf("unexpected record %+v", pending[0])
	}
}

func TestSubmitter_ConflictResyncRetry(t *testing.T) {
	client := ledgertest.New()
	client.Sequences["keeper1"] = 3

	// First two sends hit a sequence conflict, third succeeds.
	client.SendFunc = func(attempt int, rawTx []byte) (string, error) {
		if attempt <= 2 {
			return "", errors.New("rpc error -32000: nonce too low")
		}
		return "txhash-ok", nil
	}

	sub, _ := newTestSubmitter(t, client)
	baselineReads := client.SequenceReads()

	hash, err := sub.Submit(context.Background(), echoOp("close"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if hash != "txhash-ok" {
		t.Errorf("expected txhash-ok, got %s", hash)
	}

	if got := client.SendCalls(); got != 3 {
		t.Errorf("expected 3 send attempts, got %d", got)
	}
	// One SequenceCount read per conflict resync.
	if got := client.SequenceReads() - baselineReads; got != 2 {
		t.Errorf("expected 2 resync reads, got %d", got)
	}
}

func TestSubmitter_ConflictRetriesExhausted(t *testing.T) {
	client := ledgertest.New()
	client.SendFunc = func(attempt int, rawTx []byte) (string, error) {
		return "", errors.New("sequence number too low")
	}

	sub, store := newTestSubmitter(t, client)

	_, err := sub.Submit(context.Background(), echoOp("close"))
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if got := client.SendCalls(); got != DefaultMaxAttempts {
		t.Errorf("expected %d attempts, got %d", DefaultMaxAttempts, got)
	}

	failed, err := store.Count(context.Background(), domain.SubmissionFailed)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if failed != 1 {
		t.Errorf("expected 1 failed record, got %d", failed)
	}
}

// recordingSubmissionStore captures every inserted record so tests can
// inspect failed submissions, which the store interface does not list.
type recordingSubmissionStore struct {
	mu   sync.Mutex
	recs []*domain.SubmissionRecord
}

func (s *recordingSubmissionStore) Insert(_ context.Context, r *domain.SubmissionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recCopy := *r
	s.recs = append(s.recs, &recCopy)
	return nil
}

func (s *recordingSubmissionStore) ListPending(_ context.Context) ([]*domain.SubmissionRecord, error) {
	return nil, nil
}

func (s *recordingSubmissionStore) Count(_ context.Context, _ domain.SubmissionStatus) (int, error) {
	return 0, nil
}

func TestSubmitter_ExhaustionRecordsLastSequence(t *testing.T) {
	client := ledgertest.New()
	client.Sequences["keeper1"] = 5
	client.SendFunc = func(attempt int, rawTx []byte) (string, error) {
		return "", errors.New("sequence number too low")
	}

	seq := NewNonceSequencer(client, "keeper1", nil)
	if err := seq.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	store := &recordingSubmissionStore{}
	sub := NewSubmitter(SubmitterOptions{
		Sequencer:   seq,
		Client:      client,
		Submissions: store,
	})

	_, err := sub.Submit(context.Background(), echoOp("close"))
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.recs) != 1 {
		t.Fatalf("expected 1 failed record, got %d", len(store.recs))
	}
	rec := store.recs[0]
	if rec.Status != domain.SubmissionFailed {
		t.Errorf("expected FAILED record, got %s", rec.Status)
	}
	// The record carries the last attempted sequence value, so
	// reconciliation can see where the conflicts happened.
	if rec.Sequence != 5 {
		t.Errorf("expected sequence 5 in failed record, got %d", rec.Sequence)
	}
}

func TestSubmitter_NonConflictNotRetried(t *testing.T) {
	client := ledgertest.New()
	client.SendFunc = func(attempt int, rawTx []byte) (string, error) {
		return "", errors.New("insufficient funds for gas")
	}

	sub, store := newTestSubmitter(t, client)
	baselineReads := client.SequenceReads()

	_, err := sub.Submit(context.Background(), echoOp("open"))
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrRetriesExhausted) {
		t.Fatal("non-conflict rejection must not be retried")
	}
	if got := client.SendCalls(); got != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", got)
	}
	if got := client.SequenceReads() - baselineReads; got != 0 {
		t.Errorf("expected no resync, got %d reads", got)
	}

	failed, _ := store.Count(context.Background(), domain.SubmissionFailed)
	if failed != 1 {
		t.Errorf("expected 1 failed record, got %d", failed)
	}
}

func TestSubmitter_BuildErrorNotSent(t *testing.T) {
	client := ledgertest.New()
	sub, _ := newTestSubmitter(t, client)

	op := Operation{
		Label: "broken",
		Build: func(seq uint64) ([]byte, error) {
			return nil, errors.New("missing field")
		},
	}
	if _, err := sub.Submit(context.Background(), op); err == nil {
		t.Fatal("expected error")
	}
	if got := client.SendCalls(); got != 0 {
		t.Errorf("expected 0 send calls, got %d", got)
	}
}

func TestSubmitter_SubmitSequence(t *testing.T) {
	client := ledgertest.New()
	client.Sequences["keeper1"] = 20

	sub, _ := newTestSubmitter(t, client)

	ops := []Operation{echoOp("lead"), echoOp("fee_split"), echoOp("rebate")}
	hash, err := sub.SubmitSequence(context.Background(), ops)
	if err != nil {
		t.Fatalf("SubmitSequence: %v", err)
	}
	if hash == "" {
		t.Fatal("expected lead hash")
	}

	txs := client.SentTxs()
	if len(txs) != 3 {
		t.Fatalf("expected 3 sent txs, got %d", len(txs))
	}
	for i, want := range []string{"lead:20", "fee_split:21", "rebate:22"} {
		if string(txs[i]) != want {
			t.Errorf("tx %d: expected %q, got %q", i, want, txs[i])
		}
	}
}

func TestSubmitter_SubmitSequence_LeadFailureAborts(t *testing.T) {
	client := ledgertest.New()
	client.SendFunc = func(attempt int, rawTx []byte) (string, error) {
		return "", errors.New("execution reverted")
	}

	sub, _ := newTestSubmitter(t, client)

	_, err := sub.SubmitSequence(context.Background(), []Operation{echoOp("lead"), echoOp("tail")})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := client.SendCalls(); got != 1 {
		t.Errorf("lead failure must abort the batch, got %d sends", got)
	}
}

func TestSubmitter_SubmitSequence_TailFailureContinues(t *testing.T) {
	client := ledgertest.New()
	client.SendFunc = func(attempt int, rawTx []byte) (string, error) {
		if strings.HasPrefix(string(rawTx), "fee_split:") {
			return "", errors.New("execution reverted")
		}
		return fmt.Sprintf("txhash-%d", attempt), nil
	}

	sub, _ := newTestSubmitter(t, client)

	ops := []Operation{echoOp("lead"), echoOp("fee_split"), echoOp("rebate")}
	hash, err := sub.SubmitSequence(context.Background(), ops)
	if err != nil {
		t.Fatalf("tail failure must not fail the batch: %v", err)
	}
	if hash != "txhash-1" {
		t.Errorf("expected lead hash txhash-1, got %s", hash)
	}
	if got := client.SendCalls(); got != 3 {
		t.Errorf("expected all 3 operations attempted, got %d", got)
	}
}

func TestSubmitter_SubmitSequence_CriticalTailAborts(t *testing.T) {
	client := ledgertest.New()
	client.SendFunc = func(attempt int, rawTx []byte) (string, error) {
		if attempt == 2 {
			return "", errors.New("execution reverted")
		}
		return fmt.Sprintf("txhash-%d", attempt), nil
	}

	sub, _ := newTestSubmitter(t, client)

	ops := []Operation{echoOp("lead"), {Label: "settle", Critical: true, Build: echoOp("settle").Build}, echoOp("tail")}
	if _, err := sub.SubmitSequence(context.Background(), ops); err == nil {
		t.Fatal("critical tail failure must fail the batch")
	}
	if got := client.SendCalls(); got != 2 {
		t.Errorf("expected abort after critical failure, got %d sends", got)
	}
}

func TestSubmitter_SubmitSequence_Empty(t *testing.T) {
	client := ledgertest.New()
	sub, _ := newTestSubmitter(t, client)

	if _, err := sub.SubmitSequence(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty batch")
	}
}
