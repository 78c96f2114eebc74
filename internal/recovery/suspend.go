package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"daybook/internal/types"
)

// ControllerState is the observable suspend state. The Suspended state
// itself is an external fact (the process is powered off) that the
// controller never observes from the inside: it goes straight from
// PreparingSuspend back to Active on wake.
type ControllerState string

const (
	StateActive           ControllerState = "active"
	StatePreparingSuspend ControllerState = "preparing_suspend"
)

// TriggerPauser drains the scheduler during suspend preparation: no new
// triggers may be registered mid-drain.
type TriggerPauser interface {
	Pause()
	Resume()
}

// Controller exposes the suspend/wake control protocol and tracks suspend
// cycles in the persistent store.
type Controller struct {
	store    types.SuspendStateRepository
	recovery *Recovery
	pauser   TriggerPauser
	logger   *slog.Logger

	serviceTimezone string
	now             func() time.Time

	mu            sync.Mutex
	state         ControllerState
	openStateID   string
	lastSuspendAt *time.Time
	lastResumeAt  *time.Time
}

// ControllerConfig holds the dependencies for NewController.
type ControllerConfig struct {
	Store           types.SuspendStateRepository
	Recovery        *Recovery
	Pauser          TriggerPauser
	Logger          *slog.Logger
	ServiceTimezone string

	// Now overrides the clock for tests.
	Now func() time.Time
}

// NewController creates the controller in the Active state.
func NewController(cfg ControllerConfig) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tz := cfg.ServiceTimezone
	if tz == "" {
		tz = "UTC"
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		store:           cfg.Store,
		recovery:        cfg.Recovery,
		pauser:          cfg.Pauser,
		logger:          logger,
		serviceTimezone: tz,
		now:             now,
		state:           StateActive,
	}
}

// Restore loads the most recent suspend cycle so status reporting survives a
// restart. A cycle without a resume timestamp is re-opened: the process was
// powered off after PrepareSuspend and this boot is effectively the wake.
func (c *Controller) Restore(ctx context.Context) error {
	latest, err := c.store.GetLatest(ctx)
	if err != nil {
		return fmt.Errorf("loading latest suspend state: %w", err)
	}
	if latest == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSuspendAt = &latest.SuspendedAt
	c.lastResumeAt = latest.ResumedAt
	if latest.ResumedAt == nil {
		c.openStateID = latest.ID
		c.logger.Info("open suspend cycle found on startup", "id", latest.ID, "suspended_at", latest.SuspendedAt)
	}
	return nil
}

// PrepareSuspend drains in-flight scheduling work, records the suspend
// timestamp, and reports readiness. Calling it while already preparing is a
// conflict.
func (c *Controller) PrepareSuspend(ctx context.Context) (time.Time, error) {
	c.mu.Lock()
	if c.state == StatePreparingSuspend {
		c.mu.Unlock()
		return time.Time{}, types.NewAppError(types.ErrCodeConflictSuspendPending,
			"suspend preparation already in progress", nil)
	}
	c.state = StatePreparingSuspend
	c.mu.Unlock()

	// Stop accepting new trigger registrations before recording the cycle.
	c.pauser.Pause()

	suspendAt := c.now()
	state := &types.SuspendState{
		ID:               uuid.NewString(),
		SuspendedAt:      suspendAt,
		ExpectedResumeAt: c.expectedResume(suspendAt),
	}
	if err := c.store.Insert(ctx, state); err != nil {
		// Roll the drain back; the host should not power off without a
		// recorded cycle.
		c.pauser.Resume()
		c.mu.Lock()
		c.state = StateActive
		c.mu.Unlock()
		return time.Time{}, fmt.Errorf("recording suspend state: %w", err)
	}

	c.mu.Lock()
	c.openStateID = state.ID
	c.lastSuspendAt = &suspendAt
	c.mu.Unlock()

	c.logger.Info("ready for suspend",
		"suspend_time", suspendAt,
		"expected_resume", state.ExpectedResumeAt,
	)
	return suspendAt, nil
}

// Wake transitions back to Active, stamps the actual resume time on the open
// suspend cycle, and kicks off morning message recovery in the background.
func (c *Controller) Wake(ctx context.Context) (time.Time, error) {
	wakeAt := c.now()

	c.mu.Lock()
	c.state = StateActive
	openID := c.openStateID
	c.openStateID = ""
	c.lastResumeAt = &wakeAt
	c.mu.Unlock()

	c.pauser.Resume()

	if openID != "" {
		if err := c.store.SetResumed(ctx, openID, wakeAt); err != nil {
			// The wake itself must proceed; the cycle just stays open in
			// the store.
			c.logger.Error("stamping resume time failed", "id", openID, "error", err)
		}
	} else {
		c.logger.Warn("wake received with no open suspend cycle")
	}

	go func() {
		if _, err := c.recovery.Run(context.Background()); err != nil {
			c.logger.Error("wake-triggered recovery failed", "error", err)
		}
	}()

	c.logger.Info("waking up", "wake_time", wakeAt)
	return wakeAt, nil
}

// StatusReport is the unauthenticated suspend status view used for liveness
// probing.
type StatusReport struct {
	State           ControllerState `json:"state"`
	IsSuspended     bool            `json:"is_suspended"`
	LastSuspendTime *time.Time      `json:"last_suspend_time"`
	LastResumeTime  *time.Time      `json:"last_resume_time"`
	NextSuspendTime time.Time       `json:"next_suspend_time"`
}

// Status returns the current state. IsSuspended is true from suspend
// preparation until the wake request arrives.
func (c *Controller) Status() StatusReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	return StatusReport{
		State:           c.state,
		IsSuspended:     c.state == StatePreparingSuspend,
		LastSuspendTime: c.lastSuspendAt,
		LastResumeTime:  c.lastResumeAt,
		NextSuspendTime: c.nextSuspendWindow(),
	}
}

// expectedResume is the end of the suspend window following the suspend
// instant: the next 07:00 in the service timezone.
func (c *Controller) expectedResume(from time.Time) time.Time {
	loc, err := time.LoadLocation(c.serviceTimezone)
	if err != nil {
		loc = time.UTC
	}
	local := from.In(loc)
	resume := time.Date(local.Year(), local.Month(), local.Day(), windowEndHour, 0, 0, 0, loc)
	if !resume.After(local) {
		resume = resume.AddDate(0, 0, 1)
	}
	return resume.UTC()
}

// nextSuspendWindow is the next local midnight in the service timezone.
// Callers hold c.mu.
func (c *Controller) nextSuspendWindow() time.Time {
	loc, err := time.LoadLocation(c.serviceTimezone)
	if err != nil {
		loc = time.UTC
	}
	local := c.now().In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), windowStartHour, 0, 0, 0, loc).AddDate(0, 0, 1)
	return next.UTC()
}
