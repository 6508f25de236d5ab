// Package ledgertest provides an in-memory ledger.Client for unit tests.
package ledgertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Tethra-Dex/tethra-be/internal/domain"
)

// Client implements ledger.Client backed by maps and programmable hooks.
// All fields may be set before use; hooks take precedence over the maps.
type Client struct {
	mu sync.Mutex

	Sequences  map[string]uint64
	Positions  map[uint64]*domain.Position
	AuthNonces map[string]uint64
	Verdicts   map[uint64]bool

	// SendFunc, when set, handles SendTransaction. Receives the attempt
	// count (1-based) so tests can program per-attempt failures.
	SendFunc func(attempt int, rawTx []byte) (string, error)

	// VerdictErr, when set, is returned from every LiquidationVerdict call.
	VerdictErr error

	// AuthNonceErr, when set, is returned from every AuthNonce call.
	AuthNonceErr error

	// SequenceCountErr, when set, is returned from SequenceCount.
	SequenceCountErr error

	sendCalls int
	seqReads  int
	sentTxs   [][]byte
}

// New creates an empty stub client.
func New() *Client {
	return &Client{
		Sequences:  make(map[string]uint64),
		Positions:  make(map[uint64]*domain.Position),
		AuthNonces: make(map[string]uint64),
		Verdicts:   make(map[uint64]bool),
	}
}

func (c *Client) SequenceCount(_ context.Context, address string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SequenceCountErr != nil {
		return 0, c.SequenceCountErr
	}
	c.seqReads++
	return c.Sequences[address], nil
}

func (c *Client) SendTransaction(_ context.Context, rawTx []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendCalls++
	c.sentTxs = append(c.sentTxs, rawTx)
	if c.SendFunc != nil {
		return c.SendFunc(c.sendCalls, rawTx)
	}
	return fmt.Sprintf("txhash-%d", c.sendCalls), nil
}

func (c *Client) GetPosition(_ context.Context, id uint64) (*domain.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.Positions[id]
	if !ok {
		return nil, nil
	}
	posCopy := *p
	return &posCopy, nil
}

func (c *Client) PositionCount(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var highest uint64
	for id := range c.Positions {
		if id > highest {
			highest = id
		}
	}
	return highest, nil
}

func (c *Client) AuthNonce(_ context.Context, trader string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.AuthNonceErr != nil {
		return 0, c.AuthNonceErr
	}
	return c.AuthNonces[trader], nil
}

func (c *Client) LiquidationVerdict(_ context.Context, positionID uint64, _ decimal.Decimal) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.VerdictErr != nil {
		return false, c.VerdictErr
	}
	return c.Verdicts[positionID], nil
}

// SendCalls returns the number of SendTransaction invocations.
func (c *Client) SendCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendCalls
}

// SequenceReads returns the number of successful SequenceCount invocations.
func (c *Client) SequenceReads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seqReads
}

// SentTxs returns all raw transactions passed to SendTransaction.
func (c *Client) SentTxs() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sentTxs))
	copy(out, c.sentTxs)
	return out
}
