// Package keeper contains the transaction-sequencing machinery and the two
// autonomous control loops (liquidation and conditional orders).
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/Tethra-Dex/tethra-be/internal/ledger"
)

// ErrNotInitialized is returned when sequence values are requested before
// the sequencer has read its baseline from the ledger.
var ErrNotInitialized = errors.New("sequencer not initialized")

// NonceSequencer hands out gap-free, strictly increasing transaction
// sequence values for one signing identity.
//
// Mutual exclusion uses a capacity-1 channel: Go parks blocked channel
// operations in FIFO order, so waiters are served in arrival order. The
// critical section never performs I/O, so the uncontended path resolves
// synchronously and the queue cannot stall behind a slow ledger call.
type NonceSequencer struct {
	client  ledger.Client
	address string
	logger  *log.Logger

	gate        chan struct{} // capacity 1, FIFO critical section
	resyncGate  chan struct{} // serializes the resync ledger read
	next        uint64        // guarded by gate
	initialized atomic.Bool
}

// NewNonceSequencer creates a sequencer for one signer address. Initialize
// must be called before Next or ReserveBatch.
func NewNonceSequencer(client ledger.Client, address string, logger *log.Logger) *NonceSequencer {
	if logger == nil {
		logger = log.Default()
	}
	return &NonceSequencer{
		client:     client,
		address:    address,
		logger:     logger,
		gate:       make(chan struct{}, 1),
		resyncGate: make(chan struct{}, 1),
	}
}

// Initialize reads the signer's pending-inclusive sequence count from the
// ledger once. The keeper cannot operate safely without this baseline, so
// callers treat a failure here as fatal.
func (s *NonceSequencer) Initialize(ctx context.Context) error {
	count, err := s.client.SequenceCount(ctx, s.address)
	if err != nil {
		return fmt.Errorf("read sequence baseline for %s: %w", s.address, err)
	}

	s.gate <- struct{}{}
	s.next = count
	s.initialized.Store(true)
	<-s.gate

	s.logger.Printf("[sequencer] initialized at %d for %s", count, s.address)
	return nil
}

// Next returns the current counter value and increments it. Concurrent
// callers are serialized and served in arrival order; no two callers ever
// receive the same value.
func (s *NonceSequencer) Next() (uint64, error) {
	return s.reserve(1)
}

// ReserveBatch atomically reserves count consecutive values and returns
// the first. Used when one logical operation submits several transactions
// whose relative order matters.
func (s *NonceSequencer) ReserveBatch(count int) (uint64, error) {
	if count <= 0 {
		return 0, fmt.Errorf("reserve batch: count must be positive, got %d", count)
	}
	return s.reserve(uint64(count))
}

func (s *NonceSequencer) reserve(count uint64) (uint64, error) {
	if !s.initialized.Load() {
		return 0, ErrNotInitialized
	}

	s.gate <- struct{}{}
	value := s.next
	s.next += count
	<-s.gate

	return value, nil
}

// Resync re-reads the ledger's pending-inclusive count and overwrites the
// local counter. Called after any submission fails with a sequence
// conflict; safe to call redundantly from concurrent failure handlers.
// The ledger read happens outside the issuing critical section.
func (s *NonceSequencer) Resync(ctx context.Context) (uint64, error) {
	select {
	case s.resyncGate <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { <-s.resyncGate }()

	count, err := s.client.SequenceCount(ctx, s.address)
	if err != nil {
		return 0, fmt.Errorf("resync sequence for %s: %w", s.address, err)
	}

	s.gate <- struct{}{}
	prev := s.next
	s.next = count
	s.initialized.Store(true)
	<-s.gate

	s.logger.Printf("[sequencer] resynced %d -> %d for %s", prev, count, s.address)
	return count, nil
}

// Current returns the next value that would be issued, for the status
// surface. It does not consume a value.
func (s *NonceSequencer) Current() uint64 {
	s.gate <- struct{}{}
	v := s.next
	<-s.gate
	return v
}
