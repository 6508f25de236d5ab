package clickhouse

import (
	"context"
	"fmt"

	"github.com/Tethra-Dex/tethra-be/internal/domain"
)

// SubmissionHistoryStore archives every outbound submission to ClickHouse
// for offline reconciliation and analytics. Append-only; the operational
// pending-set lives in the primary SubmissionStore.
type SubmissionHistoryStore struct {
	conn *Conn
}

// NewSubmissionHistoryStore creates a new SubmissionHistoryStore.
func NewSubmissionHistoryStore(conn *Conn) *SubmissionHistoryStore {
	return &SubmissionHistoryStore{conn: conn}
}

// InsertBulk archives a batch of submission records.
func (s *SubmissionHistoryStore) InsertBulk(ctx context.Context, records []*domain.SubmissionRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO submission_history (
			tx_hash, sequence, label, status, detail, submitted_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		err = batch.Append(
			r.TxHash, r.Sequence, r.Label, string(r.Status), r.Detail, uint64(r.SubmittedAt),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// CountByLabel returns archive row counts grouped by operation label.
func (s *SubmissionHistoryStore) CountByLabel(ctx context.Context) (map[string]uint64, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT label, COUNT(*) AS cnt
		FROM submission_history
		GROUP BY label
	`)
	if err != nil {
		return nil, fmt.Errorf("count by label: %w", err)
	}
	defer rows.Close()

	result := make(map[string]uint64)
	for rows.Next() {
		var (
			label string
			cnt   uint64
		)
		if err := rows.Scan(&label, &cnt); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		result[label] = cnt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return result, nil
}
