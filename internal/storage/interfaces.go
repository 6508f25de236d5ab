package storage

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Tethra-Dex/tethra-be/internal/domain"
)

// OrderStore provides access to conditional-order storage. Orders are
// created by the intake path; the keeper only reads pending orders and
// advances their status. Terminal statuses are never re-entered, and an
// order must pass through Executing before Executed/Failed/NeedsResign;
// implementations return ErrInvalidTransition otherwise.
type OrderStore interface {
	// Insert adds a new order in Pending status. Returns ErrDuplicateKey
	// if order_id exists.
	Insert(ctx context.Context, o *domain.ConditionalOrder) error

	// GetByID retrieves an order. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, orderID string) (*domain.ConditionalOrder, error)

	// ListPending retrieves all Pending orders, ordered by created_at ASC.
	ListPending(ctx context.Context) ([]*domain.ConditionalOrder, error)

	// CountPending returns the number of Pending orders.
	CountPending(ctx context.Context) (int, error)

	// MarkExecuting transitions Pending → Executing.
	MarkExecuting(ctx context.Context, orderID string) error

	// MarkExecuted transitions Executing → Executed, recording the
	// resulting transaction hash and effective execution price.
	MarkExecuted(ctx context.Context, orderID, txHash string, price decimal.Decimal) error

	// MarkFailed transitions Executing → Failed with the error detail.
	MarkFailed(ctx context.Context, orderID, reason string) error

	// MarkNeedsResign transitions Executing → NeedsResign with a
	// diagnostic reason. The order needs a fresh signature from the
	// intake path before it can return to Pending.
	MarkNeedsResign(ctx context.Context, orderID, reason string) error

	// SweepExpired transitions every Pending order with end_time < nowMs
	// to Expired and returns the number swept.
	SweepExpired(ctx context.Context, nowMs int64) (int, error)
}

// SubmissionStore records outbound transactions so a supervising layer
// can reconcile fire-and-forget submissions against the ledger.
type SubmissionStore interface {
	// Insert adds a submission record.
	Insert(ctx context.Context, r *domain.SubmissionRecord) error

	// ListPending retrieves all records still awaiting confirmation,
	// ordered by submitted_at ASC.
	ListPending(ctx context.Context) ([]*domain.SubmissionRecord, error)

	// Count returns the total number of records by status.
	Count(ctx context.Context, status domain.SubmissionStatus) (int, error)
}
