package postgres

import (
	"context"
	"fmt"

	"github.com/Tethra-Dex/tethra-be/internal/domain"
	"github.com/Tethra-Dex/tethra-be/internal/storage"
)

// SubmissionStore implements storage.SubmissionStore using PostgreSQL.
type SubmissionStore struct {
	pool *Pool
}

// NewSubmissionStore creates a new SubmissionStore.
func NewSubmissionStore(pool *Pool) *SubmissionStore {
	return &SubmissionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SubmissionStore = (*SubmissionStore)(nil)

// Insert adds a submission record.
func (s *SubmissionStore) Insert(ctx context.Context, r *domain.SubmissionRecord) error {
	if r == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO submissions (tx_hash, sequence, label, status, detail, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.pool.Exec(ctx, query,
		r.TxHash, int64(r.Sequence), r.Label, string(r.Status), r.Detail, r.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// ListPending retrieves all records awaiting confirmation, ordered by
// submitted_at ASC.
func (s *SubmissionStore) ListPending(ctx context.Context) ([]*domain.SubmissionRecord, error) {
	query := `
		SELECT tx_hash, sequence, label, status, detail, submitted_at
		FROM submissions
		WHERE status = $1
		ORDER BY submitted_at ASC
	`

	rows, err := s.pool.Query(ctx, query, string(domain.SubmissionPending))
	if err != nil {
		return nil, fmt.Errorf("list pending submissions: %w", err)
	}
	defer rows.Close()

	var result []*domain.SubmissionRecord
	for rows.Next() {
		var (
			r        domain.SubmissionRecord
			sequence int64
			status   string
		)
		if err := rows.Scan(&r.TxHash, &sequence, &r.Label, &status, &r.Detail, &r.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		r.Sequence = uint64(sequence)
		r.Status = domain.SubmissionStatus(status)
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return result, nil
}

// Count returns the number of records with the given status.
func (s *SubmissionStore) Count(ctx context.Context, status domain.SubmissionStatus) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM submissions WHERE status = $1`, string(status),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return count, nil
}
