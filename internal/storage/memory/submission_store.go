package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Tethra-Dex/tethra-be/internal/domain"
	"github.com/Tethra-Dex/tethra-be/internal/storage"
)

// SubmissionStore is an in-memory implementation of
// storage.SubmissionStore. Append-only.
type SubmissionStore struct {
	mu   sync.RWMutex
	data []*domain.SubmissionRecord
}

// NewSubmissionStore creates a new in-memory submission store.
func NewSubmissionStore() *SubmissionStore {
	return &SubmissionStore{}
}

// Compile-time interface check.
var _ storage.SubmissionStore = (*SubmissionStore)(nil)

// Insert adds a submission record.
func (s *SubmissionStore) Insert(_ context.Context, r *domain.SubmissionRecord) error {
	if r == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recCopy := *r
	s.data = append(s.data, &recCopy)
	return nil
}

// ListPending retrieves all records awaiting confirmation, ordered by
// submitted_at ASC.
func (s *SubmissionStore) ListPending(_ context.Context) ([]*domain.SubmissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SubmissionRecord
	for _, r := range s.data {
		if r.Status == domain.SubmissionPending {
			recCopy := *r
			result = append(result, &recCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].SubmittedAt < result[j].SubmittedAt
	})

	return result, nil
}

// Count returns the number of records with the given status.
func (s *SubmissionStore) Count(_ context.Context, status domain.SubmissionStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, r := range s.data {
		if r.Status == status {
			count++
		}
	}
	return count, nil
}
