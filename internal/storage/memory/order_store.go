package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Tethra-Dex/tethra-be/internal/domain"
	"github.com/Tethra-Dex/tethra-be/internal/storage"
)

// OrderStore is an in-memory implementation of storage.OrderStore.
type OrderStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ConditionalOrder // keyed by order_id
}

// NewOrderStore creates a new in-memory order store.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		data: make(map[string]*domain.ConditionalOrder),
	}
}

// Compile-time interface check.
var _ storage.OrderStore = (*OrderStore)(nil)

// Insert adds a new order in Pending status. Returns ErrDuplicateKey if
// order_id exists.
func (s *OrderStore) Insert(_ context.Context, o *domain.ConditionalOrder) error {
	if o == nil || o.OrderID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[o.OrderID]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	orderCopy := *o
	if orderCopy.Status == "" {
		orderCopy.Status = domain.OrderPending
	}
	if orderCopy.CreatedAt == 0 {
		orderCopy.CreatedAt = time.Now().UnixMilli()
	}
	orderCopy.UpdatedAt = orderCopy.CreatedAt
	s.data[o.OrderID] = &orderCopy
	return nil
}

// GetByID retrieves an order. Returns ErrNotFound if not exists.
func (s *OrderStore) GetByID(_ context.Context, orderID string) (*domain.ConditionalOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, exists := s.data[orderID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	orderCopy := *o
	return &orderCopy, nil
}

// ListPending retrieves all Pending orders, ordered by created_at ASC.
func (s *OrderStore) ListPending(_ context.Context) ([]*domain.ConditionalOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ConditionalOrder
	for _, o := range s.data {
		if o.Status == domain.OrderPending {
			orderCopy := *o
			result = append(result, &orderCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].OrderID < result[j].OrderID
	})

	return result, nil
}

// CountPending returns the number of Pending orders.
func (s *OrderStore) CountPending(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, o := range s.data {
		if o.Status == domain.OrderPending {
			count++
		}
	}
	return count, nil
}

// MarkExecuting transitions Pending → Executing.
func (s *OrderStore) MarkExecuting(_ context.Context, orderID string) error {
	return s.transition(orderID, domain.OrderPending, domain.OrderExecuting, "")
}

// MarkExecuted transitions Executing → Executed.
func (s *OrderStore) MarkExecuted(_ context.Context, orderID, txHash string, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, exists := s.data[orderID]
	if !exists {
		return storage.ErrNotFound
	}
	if o.Status != domain.OrderExecuting {
		return storage.ErrInvalidTransition
	}
	o.Status = domain.OrderExecuted
	o.ExecutedTx = txHash
	o.ExecutedPrice = price
	o.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// MarkFailed transitions Executing → Failed with the error detail.
func (s *OrderStore) MarkFailed(_ context.Context, orderID, reason string) error {
	return s.transition(orderID, domain.OrderExecuting, domain.OrderFailed, reason)
}

// MarkNeedsResign transitions Executing → NeedsResign with a reason.
func (s *OrderStore) MarkNeedsResign(_ context.Context, orderID, reason string) error {
	return s.transition(orderID, domain.OrderExecuting, domain.OrderNeedsResign, reason)
}

func (s *OrderStore) transition(orderID string, from, to domain.OrderStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, exists := s.data[orderID]
	if !exists {
		return storage.ErrNotFound
	}
	if o.Status != from {
		return storage.ErrInvalidTransition
	}
	o.Status = to
	o.StatusReason = reason
	o.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// SweepExpired transitions every Pending order with end_time < nowMs to
// Expired and returns the number swept.
func (s *OrderStore) SweepExpired(_ context.Context, nowMs int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	swept := 0
	for _, o := range s.data {
		if o.Status == domain.OrderPending && o.EndTime < nowMs {
			o.Status = domain.OrderExpired
			o.UpdatedAt = nowMs
			swept++
		}
	}
	return swept, nil
}
