package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"daybook/internal/types"
)

// SuspendStateRepository provides data access for the suspend_states table.
// One row per suspend cycle; resumed_at is written exactly once on wake.
type SuspendStateRepository struct {
	db DBTX
}

// NewSuspendStateRepository creates a repository backed by the given
// connection (pool or transaction).
func NewSuspendStateRepository(db DBTX) *SuspendStateRepository {
	return &SuspendStateRepository{db: db}
}

// Insert records a new suspend cycle.
func (r *SuspendStateRepository) Insert(ctx context.Context, state *types.SuspendState) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO suspend_states (id, suspended_at, expected_resume_at)
		 VALUES ($1, $2, $3)`,
		state.ID,
		state.SuspendedAt,
		state.ExpectedResumeAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert suspend state", err)
	}
	return nil
}

// SetResumed stamps the actual resume time on an open cycle. The guard on
// resumed_at keeps the stamp write-once.
func (r *SuspendStateRepository) SetResumed(ctx context.Context, id string, resumedAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE suspend_states SET resumed_at = $1
		 WHERE id = $2 AND resumed_at IS NULL`,
		resumedAt, id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to stamp resume time", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalDB, "suspend state missing or already resumed", nil)
	}
	return nil
}

// GetLatest returns the most recent suspend cycle, or nil when none exist.
func (r *SuspendStateRepository) GetLatest(ctx context.Context) (*types.SuspendState, error) {
	var state types.SuspendState
	err := r.db.QueryRow(ctx,
		`SELECT id, suspended_at, expected_resume_at, resumed_at
		 FROM suspend_states
		 ORDER BY suspended_at DESC
		 LIMIT 1`,
	).Scan(&state.ID, &state.SuspendedAt, &state.ExpectedResumeAt, &state.ResumedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load suspend state", err)
	}
	return &state, nil
}
