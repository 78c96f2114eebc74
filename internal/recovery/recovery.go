// Package recovery implements the suspend/wake side of the service: the
// suspend controller that tracks suspend cycles and the morning message
// recovery engine that replays chat messages received while the host was
// powered off.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"daybook/internal/reports"
	"daybook/internal/types"
)

// Suspend window boundaries, in local wall-clock hours. The host may be
// powered off between midnight and 07:00; recovery replays that range.
const (
	windowStartHour = 0
	windowEndHour   = 7
)

// defaultMessageDelay spaces out per-message processing to respect upstream
// rate limits.
const defaultMessageDelay = 500 * time.Millisecond

// defaultFetchTimeout bounds one per-user history fetch.
const defaultFetchTimeout = 15 * time.Second

// classifyQueueSize bounds the fire-and-forget classification backlog.
// Enqueueing into a full queue drops the task (logged); classification is
// best effort by contract.
const classifyQueueSize = 256

// Result summarizes one recovery run. Entries holds only successfully
// persisted messages.
type Result struct {
	Entries     []types.RecoveredEntry
	WindowStart time.Time
	WindowEnd   time.Time
	CompletedAt time.Time
}

// Recovery replays the suspend window: it enumerates users, fetches their
// message history for [midnight, 07:00) local, filters and dedups, persists
// the survivors, and reports a summary through the chat adapter.
type Recovery struct {
	users   types.UserTimezoneRepository
	source  types.MessagingSource
	entries types.RecoveredEntryRepository
	sender  types.ReportSender
	logger  *slog.Logger

	classifier    types.Classifier
	classifyQueue chan types.RecoveredEntry
	classifyStop  chan struct{}

	// summaryUserID receives the post-run summary message.
	summaryUserID string
	// serviceTimezone anchors the summary window and is the fallback for
	// users without a recorded timezone.
	serviceTimezone string

	messageDelay time.Duration
	fetchTimeout time.Duration
	now          func() time.Time

	running atomic.Bool
}

// RecoveryConfig holds the dependencies for NewRecovery.
type RecoveryConfig struct {
	Users           types.UserTimezoneRepository
	Source          types.MessagingSource
	Entries         types.RecoveredEntryRepository
	Sender          types.ReportSender
	Classifier      types.Classifier
	Logger          *slog.Logger
	SummaryUserID   string
	ServiceTimezone string
	MessageDelay    time.Duration
	FetchTimeout    time.Duration

	// Now overrides the clock for tests.
	Now func() time.Time
}

// NewRecovery creates the recovery engine. Call StartClassifier to launch
// the background analysis worker.
func NewRecovery(cfg RecoveryConfig) *Recovery {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := cfg.MessageDelay
	if delay < 0 {
		delay = 0
	} else if delay == 0 {
		delay = defaultMessageDelay
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}
	tz := cfg.ServiceTimezone
	if tz == "" {
		tz = "UTC"
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Recovery{
		users:           cfg.Users,
		source:          cfg.Source,
		entries:         cfg.Entries,
		sender:          cfg.Sender,
		classifier:      cfg.Classifier,
		classifyQueue:   make(chan types.RecoveredEntry, classifyQueueSize),
		classifyStop:    make(chan struct{}),
		logger:          logger,
		summaryUserID:   cfg.SummaryUserID,
		serviceTimezone: tz,
		messageDelay:    delay,
		fetchTimeout:    fetchTimeout,
		now:             now,
	}
}

// Run executes one recovery pass. Safe to re-run over the same window: the
// per-message idempotence check skips everything already persisted, so the
// second run recovers zero new entries.
//
// Per-user fetch failures and per-message persistence failures are logged
// and skipped; they never abort the run or surface in the returned error.
// The only errors returned are a re-entrant invocation and a failure to
// enumerate users at all.
func (r *Recovery) Run(ctx context.Context) (*Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, types.NewAppError(types.ErrCodeConflictRecoveryRunning,
			"a recovery run is already in progress", nil)
	}
	defer r.running.Store(false)

	users, err := r.users.GetAllUserTimezones(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerating users for recovery: %w", err)
	}

	serviceStart, serviceEnd, err := r.window(r.serviceTimezone)
	if err != nil {
		return nil, fmt.Errorf("computing recovery window: %w", err)
	}

	result := &Result{WindowStart: serviceStart, WindowEnd: serviceEnd}

	r.logger.Info("morning recovery started",
		"users", len(users),
		"window_start", serviceStart,
		"window_end", serviceEnd,
	)

	for _, user := range users {
		if err := r.recoverUser(ctx, user, result); err != nil {
			r.logger.Error("recovery failed for user, continuing with remaining users",
				"user_id", user.UserID,
				"error", err,
			)
		}
	}

	result.CompletedAt = r.now()
	r.sendSummary(ctx, result)

	r.logger.Info("morning recovery complete",
		"recovered", len(result.Entries),
		"completed_at", result.CompletedAt,
	)
	return result, nil
}

// window computes [midnight, 07:00) of the current local day in the given
// timezone, returned in UTC.
func (r *Recovery) window(timezone string) (time.Time, time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, time.Time{}, types.NewAppError(types.ErrCodeValidationInvalidTimezone,
			fmt.Sprintf("unknown timezone %q", timezone), err)
	}
	local := r.now().In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), windowStartHour, 0, 0, 0, loc)
	end := time.Date(local.Year(), local.Month(), local.Day(), windowEndHour, 0, 0, 0, loc)
	return start.UTC(), end.UTC(), nil
}

func (r *Recovery) recoverUser(ctx context.Context, user types.UserTimezone, result *Result) error {
	timezone := user.Timezone
	if timezone == "" {
		timezone = r.serviceTimezone
	}

	start, end, err := r.window(timezone)
	if err != nil {
		return err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	messages, err := r.source.FetchMessagesInRange(fetchCtx, user.UserID, start, end)
	cancel()
	if err != nil {
		return fmt.Errorf("fetching messages: %w", err)
	}

	for _, msg := range messages {
		recovered, err := r.recoverMessage(ctx, user.UserID, timezone, msg, start, end)
		if err != nil {
			r.logger.Error("skipping message after persistence failure",
				"user_id", user.UserID,
				"message_id", msg.ID,
				"error", err,
			)
			continue
		}
		if recovered == nil {
			continue
		}

		result.Entries = append(result.Entries, *recovered)
		r.enqueueClassification(*recovered)

		// Upstream rate limits: pause before the next message.
		if r.messageDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.messageDelay):
			}
		}
	}
	return nil
}

// recoverMessage runs one message through the Seen → (filtered | duplicate |
// persisted) pipeline. A nil entry with nil error means filtered or
// duplicate.
func (r *Recovery) recoverMessage(ctx context.Context, userID, timezone string, msg types.ChatMessage, start, end time.Time) (*types.RecoveredEntry, error) {
	if msg.IsAuthorSystem {
		return nil, nil
	}
	// The fetch primitive may over-fetch; re-check exact timestamps. The
	// window end is exclusive.
	if msg.Timestamp.Before(start) || !msg.Timestamp.Before(end) {
		return nil, nil
	}

	exists, err := r.entries.Exists(ctx, msg.ID)
	if err != nil {
		return nil, fmt.Errorf("idempotence check: %w", err)
	}
	if exists {
		return nil, nil
	}

	businessDate, err := reports.BusinessDate(msg.Timestamp, timezone)
	if err != nil {
		return nil, err
	}

	entry := &types.RecoveredEntry{
		ID:                uuid.NewString(),
		MessageID:         msg.ID,
		UserID:            userID,
		Content:           msg.Content,
		InputTime:         msg.Timestamp,
		BusinessDate:      businessDate,
		RecoveryProcessed: true,
		RecoveredAt:       r.now(),
	}
	if err := r.entries.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("persisting entry: %w", err)
	}
	return entry, nil
}

func (r *Recovery) sendSummary(ctx context.Context, result *Result) {
	if r.summaryUserID == "" {
		return
	}
	text := fmt.Sprintf("Morning recovery complete: %d message(s) recovered from %s to %s (finished %s).",
		len(result.Entries),
		result.WindowStart.Format(time.RFC3339),
		result.WindowEnd.Format(time.RFC3339),
		result.CompletedAt.Format(time.RFC3339),
	)
	if err := r.sender.SendMessage(ctx, r.summaryUserID, text); err != nil {
		r.logger.Error("sending recovery summary failed", "error", err)
	}
}

// StartClassifier launches the background worker that feeds recovered
// entries to the classifier. Failures are logged and never reach the
// recovery result.
func (r *Recovery) StartClassifier(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.classifyStop:
				return
			case entry := <-r.classifyQueue:
				if r.classifier == nil {
					continue
				}
				if err := r.classifier.Classify(ctx, entry); err != nil {
					r.logger.Warn("background classification failed",
						"entry_id", entry.ID,
						"message_id", entry.MessageID,
						"error", err,
					)
				}
			}
		}
	}()
}

// StopClassifier halts the background worker. Queued tasks are dropped.
func (r *Recovery) StopClassifier() {
	close(r.classifyStop)
}

func (r *Recovery) enqueueClassification(entry types.RecoveredEntry) {
	select {
	case r.classifyQueue <- entry:
	default:
		r.logger.Warn("classification queue full, dropping task", "entry_id", entry.ID)
	}
}
