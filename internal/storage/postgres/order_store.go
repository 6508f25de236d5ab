package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Tethra-Dex/tethra-be/internal/domain"
	"github.com/Tethra-Dex/tethra-be/internal/storage"
)

// OrderStore implements storage.OrderStore using PostgreSQL. Status
// transitions are guarded in SQL: the UPDATE only matches the expected
// source status, so a row that already moved on reports
// ErrInvalidTransition instead of being overwritten.
type OrderStore struct {
	pool *Pool
}

// NewOrderStore creates a new OrderStore.
func NewOrderStore(pool *Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OrderStore = (*OrderStore)(nil)

const orderColumns = `
	order_id, trader, symbol, is_long, collateral, leverage, trigger_price,
	start_time, end_time, auth_nonce, signature, session_key,
	status, status_reason, executed_tx, executed_price, created_at, updated_at
`

// Insert adds a new order in Pending status. Returns ErrDuplicateKey if
// order_id exists.
func (s *OrderStore) Insert(ctx context.Context, o *domain.ConditionalOrder) error {
	if o == nil || o.OrderID == "" {
		return storage.ErrInvalidInput
	}

	status := o.Status
	if status == "" {
		status = domain.OrderPending
	}
	createdAt := o.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().UnixMilli()
	}

	query := `
		INSERT INTO conditional_orders (
			order_id, trader, symbol, is_long, collateral, leverage, trigger_price,
			start_time, end_time, auth_nonce, signature, session_key,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
	`

	_, err := s.pool.Exec(ctx, query,
		o.OrderID,
		o.Trader,
		o.Symbol,
		o.IsLong,
		o.Collateral.String(),
		int64(o.Leverage),
		o.TriggerPrice.String(),
		o.StartTime,
		o.EndTime,
		int64(o.AuthNonce),
		o.Signature,
		o.SessionKey,
		string(status),
		createdAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetByID retrieves an order. Returns ErrNotFound if not exists.
func (s *OrderStore) GetByID(ctx context.Context, orderID string) (*domain.ConditionalOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM conditional_orders WHERE order_id = $1`

	row := s.pool.QueryRow(ctx, query, orderID)
	o, err := scanOrder(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get order by id: %w", err)
	}
	return o, nil
}

// ListPending retrieves all Pending orders, ordered by created_at ASC.
func (s *OrderStore) ListPending(ctx context.Context) ([]*domain.ConditionalOrder, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM conditional_orders
		WHERE status = $1
		ORDER BY created_at ASC, order_id ASC
	`

	rows, err := s.pool.Query(ctx, query, string(domain.OrderPending))
	if err != nil {
		return nil, fmt.Errorf("list pending orders: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// CountPending returns the number of Pending orders.
func (s *OrderStore) CountPending(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM conditional_orders WHERE status = $1`,
		string(domain.OrderPending),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending orders: %w", err)
	}
	return count, nil
}

// MarkExecuting transitions Pending → Executing.
func (s *OrderStore) MarkExecuting(ctx context.Context, orderID string) error {
	return s.transition(ctx, orderID, domain.OrderPending, domain.OrderExecuting, "")
}

// MarkExecuted transitions Executing → Executed.
func (s *OrderStore) MarkExecuted(ctx context.Context, orderID, txHash string, price decimal.Decimal) error {
	query := `
		UPDATE conditional_orders
		SET status = $1, executed_tx = $2, executed_price = $3, updated_at = $4
		WHERE order_id = $5 AND status = $6
	`

	tag, err := s.pool.Exec(ctx, query,
		string(domain.OrderExecuted), txHash, price.String(), time.Now().UnixMilli(),
		orderID, string(domain.OrderExecuting),
	)
	if err != nil {
		return fmt.Errorf("mark executed: %w", err)
	}
	return s.checkTransition(ctx, tag.RowsAffected(), orderID)
}

// MarkFailed transitions Executing → Failed with the error detail.
func (s *OrderStore) MarkFailed(ctx context.Context, orderID, reason string) error {
	return s.transition(ctx, orderID, domain.OrderExecuting, domain.OrderFailed, reason)
}

// MarkNeedsResign transitions Executing → NeedsResign with a reason.
func (s *OrderStore) MarkNeedsResign(ctx context.Context, orderID, reason string) error {
	return s.transition(ctx, orderID, domain.OrderExecuting, domain.OrderNeedsResign, reason)
}

func (s *OrderStore) transition(ctx context.Context, orderID string, from, to domain.OrderStatus, reason string) error {
	query := `
		UPDATE conditional_orders
		SET status = $1, status_reason = $2, updated_at = $3
		WHERE order_id = $4 AND status = $5
	`

	tag, err := s.pool.Exec(ctx, query,
		string(to), reason, time.Now().UnixMilli(), orderID, string(from),
	)
	if err != nil {
		return fmt.Errorf("transition order to %s: %w", to, err)
	}
	return s.checkTransition(ctx, tag.RowsAffected(), orderID)
}

// checkTransition distinguishes "no such order" from "order was not in
// the expected status" after a guarded UPDATE matched zero rows.
func (s *OrderStore) checkTransition(ctx context.Context, rowsAffected int64, orderID string) error {
	if rowsAffected > 0 {
		return nil
	}
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM conditional_orders WHERE order_id = $1)`, orderID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check order exists: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrInvalidTransition
}

// SweepExpired transitions every Pending order with end_time < nowMs to
// Expired and returns the number swept.
func (s *OrderStore) SweepExpired(ctx context.Context, nowMs int64) (int, error) {
	query := `
		UPDATE conditional_orders
		SET status = $1, updated_at = $2
		WHERE status = $3 AND end_time < $2
	`

	tag, err := s.pool.Exec(ctx, query,
		string(domain.OrderExpired), nowMs, string(domain.OrderPending),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep expired orders: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// rowScanner abstracts pgx.Row and pgx.Rows for scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.ConditionalOrder, error) {
	var (
		o             domain.ConditionalOrder
		collateral    string
		leverage      int64
		triggerPrice  string
		authNonce     int64
		status        string
		executedPrice string
	)

	err := row.Scan(
		&o.OrderID, &o.Trader, &o.Symbol, &o.IsLong, &collateral, &leverage,
		&triggerPrice, &o.StartTime, &o.EndTime, &authNonce, &o.Signature,
		&o.SessionKey, &status, &o.StatusReason, &o.ExecutedTx, &executedPrice,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if o.Collateral, err = decimal.NewFromString(collateral); err != nil {
		return nil, fmt.Errorf("parse collateral %q: %w", collateral, err)
	}
	if o.TriggerPrice, err = decimal.NewFromString(triggerPrice); err != nil {
		return nil, fmt.Errorf("parse trigger price %q: %w", triggerPrice, err)
	}
	if executedPrice != "" {
		if o.ExecutedPrice, err = decimal.NewFromString(executedPrice); err != nil {
			return nil, fmt.Errorf("parse executed price %q: %w", executedPrice, err)
		}
	}
	o.Leverage = uint32(leverage)
	o.AuthNonce = uint64(authNonce)
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

func scanOrders(rows pgx.Rows) ([]*domain.ConditionalOrder, error) {
	var result []*domain.ConditionalOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return result, nil
}
