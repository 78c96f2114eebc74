// Package types defines the domain records, error taxonomy, and collaborator
// contracts shared across the daybook service. It has no dependencies on other
// internal packages so that every layer can import it freely.
package types

import "time"

// UserTimezone pairs a user with their current IANA timezone name. The
// persistent store owns the record; the scheduler only holds a cached copy
// built at initialization and patched by timezone-change events.
type UserTimezone struct {
	UserID   string
	Timezone string
}

// TimezoneChange is one entry in the timezone changes feed consumed by the
// change monitor. OldTimezone may be empty for a user seen for the first time.
type TimezoneChange struct {
	UserID      string
	OldTimezone string
	NewTimezone string
	ChangedAt   time.Time
}

// ChatMessage is a message fetched from the chat platform. Timestamps are
// platform times converted to UTC.
type ChatMessage struct {
	ID             string
	AuthorID       string
	IsAuthorSystem bool
	Content        string
	Timestamp      time.Time
}

// RecoveredEntry is a message recovered from the suspend window and persisted
// exactly once. MessageID is the idempotence key: a second recovery run over
// the same window finds the row and skips the message.
type RecoveredEntry struct {
	ID                string
	MessageID         string
	UserID            string
	Content           string
	InputTime         time.Time
	BusinessDate      time.Time
	RecoveryProcessed bool
	RecoveredAt       time.Time
}

// SuspendState records one suspend cycle. ResumedAt is nil until the wake
// request arrives and is then set exactly once.
type SuspendState struct {
	ID               string
	SuspendedAt      time.Time
	ExpectedResumeAt time.Time
	ResumedAt        *time.Time
}
