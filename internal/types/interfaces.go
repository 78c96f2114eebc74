package types

import (
	"context"
	"time"
)

// UserTimezoneRepository provides access to user timezone records and the
// timezone changes feed in the persistent store.
type UserTimezoneRepository interface {
	// GetAllUserTimezones returns every known user with their current timezone.
	GetAllUserTimezones(ctx context.Context) ([]UserTimezone, error)

	// GetUserTimezone returns the user's current timezone, or "" when the
	// user has none recorded.
	GetUserTimezone(ctx context.Context, userID string) (string, error)

	// SaveUserTimezone upserts the user's timezone and stamps the change so
	// the changes feed picks it up.
	SaveUserTimezone(ctx context.Context, userID, timezone string) error

	// ListTimezoneChangesSince returns timezone mutations recorded strictly
	// after the watermark, oldest first.
	ListTimezoneChangesSince(ctx context.Context, since time.Time) ([]TimezoneChange, error)
}

// RecoveredEntryRepository persists recovered messages. Rows are never
// deleted by this service; the idempotence check relies on their permanence.
type RecoveredEntryRepository interface {
	// Exists reports whether a recovered entry with the given chat message ID
	// has already been persisted.
	Exists(ctx context.Context, messageID string) (bool, error)

	// Insert persists a recovered entry.
	Insert(ctx context.Context, entry *RecoveredEntry) error
}

// SuspendStateRepository persists suspend cycles.
type SuspendStateRepository interface {
	Insert(ctx context.Context, state *SuspendState) error

	// SetResumed stamps the actual resume time on an open suspend cycle.
	SetResumed(ctx context.Context, id string, resumedAt time.Time) error

	// GetLatest returns the most recent suspend cycle, or nil when none exist.
	GetLatest(ctx context.Context) (*SuspendState, error)
}

// MessagingSource fetches message history from the chat platform. The fetch
// primitive may over-fetch around the requested range; callers must re-check
// exact timestamps.
type MessagingSource interface {
	FetchMessagesInRange(ctx context.Context, channelOwnerID string, start, end time.Time) ([]ChatMessage, error)
}

// ReportSender delivers formatted output to a user through the chat platform.
// Errors are recorded by the caller and never abort a batch.
type ReportSender interface {
	// SendDailyReport sends the user's daily activity report.
	SendDailyReport(ctx context.Context, userID, timezone string) error

	// SendMessage sends arbitrary text to a user.
	SendMessage(ctx context.Context, userID, text string) error
}

// Classifier analyzes a recovered entry in the background, best effort.
// Failures are observed only via logs, never via the recovery result.
type Classifier interface {
	Classify(ctx context.Context, entry RecoveredEntry) error
}
