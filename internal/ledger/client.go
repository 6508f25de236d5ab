package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Tethra-Dex/tethra-be/internal/domain"
)

// Client is the keeper's view of the Tethra ledger node. The ledger is an
// opaque remote service: the keeper reads state from it and submits signed
// transactions, nothing more.
type Client interface {
	// SequenceCount returns the pending-inclusive transaction sequence
	// count for an address. The next transaction from the address must
	// carry exactly this sequence value.
	SequenceCount(ctx context.Context, address string) (uint64, error)

	// SendTransaction submits a signed transaction and returns its hash
	// once the node has accepted it for propagation. It does not wait
	// for confirmation.
	SendTransaction(ctx context.Context, rawTx []byte) (string, error)

	// GetPosition reads a position by id. Returns nil if it does not exist.
	GetPosition(ctx context.Context, id uint64) (*domain.Position, error)

	// PositionCount returns the high-water mark of position ids; valid
	// ids are 1..count.
	PositionCount(ctx context.Context) (uint64, error)

	// AuthNonce returns the trader's current authorization counter,
	// shared across all of the trader's conditional orders.
	AuthNonce(ctx context.Context, trader string) (uint64, error)

	// LiquidationVerdict asks the on-chain risk policy whether a position
	// qualifies for liquidation at the given price.
	LiquidationVerdict(ctx context.Context, positionID uint64, price decimal.Decimal) (bool, error)
}
