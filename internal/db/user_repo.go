package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"daybook/internal/types"
)

// UserTimezoneRepository provides data access for the user_timezones table
// and its change feed. SaveUserTimezone stamps updated_at, which is the
// watermark column ListTimezoneChangesSince polls.
type UserTimezoneRepository struct {
	db DBTX
}

// NewUserTimezoneRepository creates a repository backed by the given
// connection (pool or transaction).
func NewUserTimezoneRepository(db DBTX) *UserTimezoneRepository {
	return &UserTimezoneRepository{db: db}
}

// GetAllUserTimezones returns every user with a recorded timezone.
func (r *UserTimezoneRepository) GetAllUserTimezones(ctx context.Context) ([]types.UserTimezone, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id, timezone FROM user_timezones ORDER BY user_id`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list user timezones", err)
	}
	defer rows.Close()

	var out []types.UserTimezone
	for rows.Next() {
		var row types.UserTimezone
		if err := rows.Scan(&row.UserID, &row.Timezone); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan user timezone", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read user timezones", err)
	}
	return out, nil
}

// GetUserTimezone returns the user's timezone, or "" when none is recorded.
func (r *UserTimezoneRepository) GetUserTimezone(ctx context.Context, userID string) (string, error) {
	var tz string
	err := r.db.QueryRow(ctx,
		`SELECT timezone FROM user_timezones WHERE user_id = $1`, userID).Scan(&tz)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to get user timezone", err)
	}
	return tz, nil
}

// SaveUserTimezone upserts the user's timezone, preserving the previous
// value in prev_timezone so the change feed can report the transition.
func (r *UserTimezoneRepository) SaveUserTimezone(ctx context.Context, userID, timezone string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO user_timezones (user_id, timezone, prev_timezone, updated_at)
		 VALUES ($1, $2, '', NOW())
		 ON CONFLICT (user_id) DO UPDATE
		 SET prev_timezone = user_timezones.timezone,
		     timezone = EXCLUDED.timezone,
		     updated_at = NOW()`,
		userID, timezone,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save user timezone", err)
	}
	return nil
}

// ListTimezoneChangesSince returns timezone mutations recorded strictly
// after the watermark, oldest first.
func (r *UserTimezoneRepository) ListTimezoneChangesSince(ctx context.Context, since time.Time) ([]types.TimezoneChange, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id, prev_timezone, timezone, updated_at
		 FROM user_timezones
		 WHERE updated_at > $1
		 ORDER BY updated_at`,
		since,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list timezone changes", err)
	}
	defer rows.Close()

	var out []types.TimezoneChange
	for rows.Next() {
		var change types.TimezoneChange
		if err := rows.Scan(&change.UserID, &change.OldTimezone, &change.NewTimezone, &change.ChangedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan timezone change", err)
		}
		out = append(out, change)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read timezone changes", err)
	}
	return out, nil
}
