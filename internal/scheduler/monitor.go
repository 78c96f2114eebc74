package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"daybook/internal/types"
)

// defaultPollInterval is used when the configuration does not specify one.
const defaultPollInterval = time.Minute

// TimezoneNotifier receives forwarded timezone mutations. Implemented by
// DynamicScheduler.
type TimezoneNotifier interface {
	OnTimezoneChanged(userID, oldTimezone, newTimezone string)
}

// ChangeMonitor detects timezone mutations and forwards them to the
// scheduler. Two composable modes: a polling loop over the store's changes
// feed, and ApplyCommand for synchronous command-driven updates.
type ChangeMonitor struct {
	store     types.UserTimezoneRepository
	scheduler TimezoneNotifier
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	interval  time.Duration
	watermark time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	running   bool
}

// NewChangeMonitor creates a monitor with the given poll interval; zero
// means the default.
func NewChangeMonitor(store types.UserTimezoneRepository, scheduler TimezoneNotifier, interval time.Duration, logger *slog.Logger) *ChangeMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &ChangeMonitor{
		store:     store,
		scheduler: scheduler,
		logger:    logger,
		now:       time.Now,
		interval:  interval,
	}
}

// Start launches the polling loop. The watermark starts at now: changes
// before startup are covered by the scheduler's cold-start initialization.
func (m *ChangeMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.watermark = m.now()
	m.startLocked(ctx)
}

func (m *ChangeMonitor) startLocked(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	go m.loop(loopCtx, m.interval, m.done)
	m.logger.Info("timezone change monitor started", "interval", m.interval)
}

// Stop halts the polling loop.
func (m *ChangeMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.cancel()
	done := m.done
	m.running = false
	m.mu.Unlock()

	<-done
	m.logger.Info("timezone change monitor stopped")
}

// SetInterval changes the poll interval at runtime, restarting the loop when
// it is running.
func (m *ChangeMonitor) SetInterval(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	m.mu.Lock()
	m.interval = interval
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.cancel()
	done := m.done
	m.mu.Unlock()

	<-done

	m.mu.Lock()
	defer m.mu.Unlock()
	m.startLocked(ctx)
}

// Running reports whether the polling loop is active.
func (m *ChangeMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *ChangeMonitor) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce(ctx)
		}
	}
}

// pollOnce queries the changes feed and forwards each change. The watermark
// advances only after a successful poll, so a failed cycle is retried in
// full on the next tick.
func (m *ChangeMonitor) pollOnce(ctx context.Context) {
	m.mu.Lock()
	since := m.watermark
	m.mu.Unlock()

	changes, err := m.store.ListTimezoneChangesSince(ctx, since)
	if err != nil {
		m.logger.Error("timezone change poll failed", "since", since, "error", err)
		return
	}

	watermark := since
	for _, change := range changes {
		// Every returned change advances the watermark, no-ops included;
		// otherwise a trailing no-op row would be re-fetched on every cycle.
		if change.ChangedAt.After(watermark) {
			watermark = change.ChangedAt
		}
		if change.OldTimezone == change.NewTimezone {
			continue
		}
		m.scheduler.OnTimezoneChanged(change.UserID, change.OldTimezone, change.NewTimezone)
	}

	m.mu.Lock()
	if watermark.After(m.watermark) {
		m.watermark = watermark
	}
	m.mu.Unlock()

	if len(changes) > 0 {
		m.logger.Info("timezone changes applied", "count", len(changes), "watermark", watermark)
	}
}

// ApplyCommand is the synchronous path for a timezone change initiated by a
// user command: it reads the previous timezone, persists the new one, and
// immediately notifies the scheduler. A no-op change (old == new) is skipped
// before touching the store.
func (m *ChangeMonitor) ApplyCommand(ctx context.Context, userID, newTimezone string) error {
	if userID == "" || newTimezone == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "user id and timezone are required", nil)
	}
	if _, err := SlotFor(newTimezone, m.now()); err != nil {
		return err
	}

	old, err := m.store.GetUserTimezone(ctx, userID)
	if err != nil {
		return fmt.Errorf("reading previous timezone for %s: %w", userID, err)
	}
	if old == newTimezone {
		m.logger.Info("timezone unchanged, skipping", "user_id", userID, "timezone", newTimezone)
		return nil
	}

	if err := m.store.SaveUserTimezone(ctx, userID, newTimezone); err != nil {
		return fmt.Errorf("persisting timezone for %s: %w", userID, err)
	}

	m.scheduler.OnTimezoneChanged(userID, old, newTimezone)
	return nil
}
