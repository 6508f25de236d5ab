package keeper

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Tethra-Dex/tethra-be/internal/ledger/ledgertest"
)

func TestNonceSequencer_NotInitialized(t *testing.T) {
	seq := NewNonceSequencer(ledgertest.New(), "keeper1", nil)

	if _, err := seq.Next(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := seq.ReserveBatch(3); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestNonceSequencer_InitializeAndNext(t *testing.T) {
	client := ledgertest.New()
	client.Sequences["keeper1"] = 42

	seq := NewNonceSequencer(client, "keeper1", nil)
	if err := seq.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	for want := uint64(42); want < 47; want++ {
		got, err := seq.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	}

	if cur := seq.Current(); cur != 47 {
		t.Errorf("expected current 47, got %d", cur)
	}
}

func TestNonceSequencer_InitializeError(t *testing.T) {
	client := ledgertest.New()
	client.SequenceCountErr = errors.New("node down")

	seq := NewNonceSequencer(client, "keeper1", nil)
	if err := seq.Initialize(context.Background()); err == nil {
		t.Fatal("expected error from Initialize")
	}
	if _, err := seq.Next(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized after failed Initialize, got %v", err)
	}
}

func TestNonceSequencer_ConcurrentNoDuplicates(t *testing.T) {
	client := ledgertest.New()
	client.Sequences["keeper1"] = 100

	seq := NewNonceSequencer(client, "keeper1", nil)
	if err := seq.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	const callers = 50
	const perCaller = 20

	var mu sync.Mutex
	seen := make(map[uint64]int)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perCaller; j++ {
				v, err := seq.Next()
				if err != nil {
					t.Errorf("Next: %v", err)
					return
				}
				mu.Lock()
				seen[v]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != callers*perCaller {
		t.Fatalf("expected %d distinct values, got %d", callers*perCaller, len(seen))
	}
	// Gap-free: every value in [100, 100+total) was issued exactly once.
	for v := uint64(100); v < uint64(100+callers*perCaller); v++ {
		if seen[v] != 1 {
			t.Errorf("value %d issued %d times", v, seen[v])
		}
	}
}

func TestNonceSequencer_ReserveBatch(t *testing.T) {
	client := ledgertest.New()
	client.Sequences["keeper1"] = 10

	seq := NewNonceSequencer(client, "keeper1", nil)
	if err := seq.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	start, err := seq.ReserveBatch(4)
	if err != nil {
		t.Fatalf("ReserveBatch: %v", err)
	}
	if start != 10 {
		t.Errorf("expected batch start 10, got %d", start)
	}

	next, err := seq.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if next != 14 {
		t.Errorf("expected 14 after batch of 4, got %d", next)
	}

	if _, err := seq.ReserveBatch(0); err == nil {
		t.Error("expected error for zero batch")
	}
	if _, err := seq.ReserveBatch(-1); err == nil {
		t.Error("expected error for negative batch")
	}
}

func TestNonceSequencer_Resync(t *testing.T) {
	client := ledgertest.New()
	client.Sequences["keeper1"] = 5

	seq := NewNonceSequencer(client, "keeper1", nil)
	if err := seq.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Drift the local counter ahead, then move the ledger past it.
	if _, err := seq.ReserveBatch(10); err != nil {
		t.Fatalf("ReserveBatch: %v", err)
	}
	client.Sequences["keeper1"] = 8

	count, err := seq.Resync(context.Background())
	if err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if count != 8 {
		t.Errorf("expected resynced count 8, got %d", count)
	}

	got, err := seq.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got != 8 {
		t.Errorf("expected 8 after resync, got %d", got)
	}
}

func TestNonceSequencer_ResyncError(t *testing.T) {
	client := ledgertest.New()
	client.Sequences["keeper1"] = 5

	seq := NewNonceSequencer(client, "keeper1", nil)
	if err := seq.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	client.SequenceCountErr = errors.New("node down")
	if _, err := seq.Resync(context.Background()); err == nil {
		t.Fatal("expected error from Resync")
	}

	// Local counter untouched by the failed resync.
	got, err := seq.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got != 5 {
		t.Errorf("expected 5, got %d", got)
	}
}
