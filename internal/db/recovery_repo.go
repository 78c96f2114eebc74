package db

import (
	"context"

	"daybook/internal/types"
)

// RecoveredEntryRepository provides data access for the recovered_entries
// table. Rows are append-only; the unique constraint on message_id backs the
// recovery idempotence check.
type RecoveredEntryRepository struct {
	db DBTX
}

// NewRecoveredEntryRepository creates a repository backed by the given
// connection (pool or transaction).
func NewRecoveredEntryRepository(db DBTX) *RecoveredEntryRepository {
	return &RecoveredEntryRepository{db: db}
}

// Exists reports whether an entry with the given chat message ID has been
// persisted.
func (r *RecoveredEntryRepository) Exists(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM recovered_entries WHERE message_id = $1)`,
		messageID,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check recovered entry", err)
	}
	return exists, nil
}

// Insert persists a recovered entry.
func (r *RecoveredEntryRepository) Insert(ctx context.Context, entry *types.RecoveredEntry) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO recovered_entries
		 (id, message_id, user_id, content, input_time, business_date,
		  recovery_processed, recovered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID,
		entry.MessageID,
		entry.UserID,
		entry.Content,
		entry.InputTime,
		entry.BusinessDate,
		entry.RecoveryProcessed,
		entry.RecoveredAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert recovered entry", err)
	}
	return nil
}
