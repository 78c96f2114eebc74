package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"daybook/internal/types"
)

// staticScheduleName labels the legacy fixed-time broadcast in status
// reports.
const staticScheduleName = "daily-report-static"

// Facade wraps the legacy fixed-time broadcast and the dynamic scheduler. It
// starts both, prefers dynamic, and keeps the static path as the delivery
// route when dynamic initialization fails. The fallback is explicit: the
// failure is recorded and exposed to operators, never silent.
type Facade struct {
	dynamic *DynamicScheduler
	monitor *ChangeMonitor
	users   types.UserTimezoneRepository
	sender  types.ReportSender
	metrics *Metrics
	logger  *slog.Logger

	staticCron *cron.Cron
	staticSpec string

	mu             sync.Mutex
	dynamicHealthy bool
	lastError      string
}

// FacadeConfig holds the dependencies for NewFacade.
type FacadeConfig struct {
	Dynamic *DynamicScheduler
	Monitor *ChangeMonitor
	Users   types.UserTimezoneRepository
	Sender  types.ReportSender
	Metrics *Metrics
	Logger  *slog.Logger

	// StaticReportTime is the fixed UTC "HH:MM" for the legacy broadcast.
	StaticReportTime string
}

// NewFacade builds the facade. The static cron entry is registered but not
// started until Start.
func NewFacade(cfg FacadeConfig) (*Facade, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var hour, minute int
	if _, err := fmt.Sscanf(cfg.StaticReportTime, "%d:%d", &hour, &minute); err != nil {
		return nil, fmt.Errorf("invalid static report time %q: %w", cfg.StaticReportTime, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("static report time %q out of range", cfg.StaticReportTime)
	}

	f := &Facade{
		dynamic:    cfg.Dynamic,
		monitor:    cfg.Monitor,
		users:      cfg.Users,
		sender:     cfg.Sender,
		metrics:    cfg.Metrics,
		logger:     logger,
		staticCron: cron.New(cron.WithLocation(time.UTC)),
		staticSpec: fmt.Sprintf("%02d:%02d UTC", hour, minute),
	}

	if _, err := f.staticCron.AddFunc(fmt.Sprintf("%d %d * * *", minute, hour), f.staticBroadcast); err != nil {
		return nil, fmt.Errorf("registering static schedule: %w", err)
	}
	return f, nil
}

// Start launches the static schedule unconditionally, then attempts to bring
// the dynamic path up. A dynamic initialization failure is recorded and the
// static schedule remains the delivery path.
func (f *Facade) Start(ctx context.Context) {
	f.staticCron.Start()
	f.logger.Info("static schedule started", "at", f.staticSpec)

	if err := f.dynamic.Initialize(ctx); err != nil {
		f.recordError(fmt.Errorf("dynamic scheduler initialization: %w", err))
		f.logger.Error("dynamic scheduler failed to start, static schedule remains active", "error", err)
		return
	}

	f.dynamic.Start()
	f.monitor.Start(ctx)
	f.setHealthy(true)
	f.logger.Info("dynamic scheduler active")
}

// Stop cancels the static schedule, every dynamic trigger, and the polling
// loop.
func (f *Facade) Stop() {
	<-f.staticCron.Stop().Done()
	f.monitor.Stop()
	f.dynamic.Stop()
	f.logger.Info("scheduler facade stopped")
}

// RecoverDynamic re-attempts dynamic initialization after a prior failure
// without restarting the process.
func (f *Facade) RecoverDynamic(ctx context.Context) error {
	f.mu.Lock()
	healthy := f.dynamicHealthy
	f.mu.Unlock()
	if healthy {
		return nil
	}

	if err := f.dynamic.Initialize(ctx); err != nil {
		f.recordError(fmt.Errorf("dynamic scheduler recovery: %w", err))
		return err
	}

	f.dynamic.Start()
	f.monitor.Start(ctx)
	f.setHealthy(true)
	f.logger.Info("dynamic scheduler recovered")
	return nil
}

// TriggerFor delivers the user's report immediately. Operational testing
// hook.
func (f *Facade) TriggerFor(ctx context.Context, userID string) error {
	tz, err := f.users.GetUserTimezone(ctx, userID)
	if err != nil {
		return fmt.Errorf("looking up timezone for %s: %w", userID, err)
	}
	if tz == "" {
		return types.NewAppError(types.ErrCodeNotFoundUser,
			fmt.Sprintf("no timezone recorded for user %s", userID), nil)
	}
	return f.sender.SendDailyReport(ctx, userID, tz)
}

// staticBroadcast is the legacy fixed-time path: one report to every known
// user. While the dynamic path is healthy the entry still ticks but the job
// bookkeeping skips delivery, so no user is reported twice.
func (f *Facade) staticBroadcast() {
	f.mu.Lock()
	healthy := f.dynamicHealthy
	f.mu.Unlock()
	if healthy {
		f.logger.Info("static broadcast skipped, dynamic path active")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	rows, err := f.users.GetAllUserTimezones(ctx)
	if err != nil {
		f.logger.Error("static broadcast: loading users failed", "error", err)
		return
	}

	for _, row := range rows {
		start := time.Now()
		err := f.sender.SendDailyReport(ctx, row.UserID, row.Timezone)
		if f.metrics != nil {
			f.metrics.RecordSend(row.Timezone, time.Since(start), err)
		}
		if err != nil {
			f.logger.Error("static broadcast delivery failed", "user_id", row.UserID, "error", err)
		}
	}
	f.logger.Info("static broadcast complete", "users", len(rows))
}

func (f *Facade) recordError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dynamicHealthy = false
	f.lastError = err.Error()
}

func (f *Facade) setHealthy(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dynamicHealthy = v
}

// LastError returns the most recent aggregate failure, or "".
func (f *Facade) LastError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastError
}

// FacadeStatus is the comprehensive status report for operators.
type FacadeStatus struct {
	StaticSchedules []string        `json:"static_schedules"`
	DynamicHealthy  bool            `json:"dynamic_healthy"`
	Dynamic         Status          `json:"dynamic"`
	MonitorRunning  bool            `json:"monitor_running"`
	LastError       string          `json:"last_error,omitempty"`
	Metrics         MetricsSnapshot `json:"metrics"`
}

// Status reports static schedule entries, dynamic trigger state, the monitor
// flag, and metrics. Once the dynamic path is healthy the static daily-report
// entry is excluded from the active-schedule list; the underlying timer keeps
// ticking and is suppressed by job bookkeeping instead.
func (f *Facade) Status() FacadeStatus {
	f.mu.Lock()
	healthy := f.dynamicHealthy
	lastErr := f.lastError
	f.mu.Unlock()

	statics := []string{}
	if !healthy {
		statics = append(statics, staticScheduleName+" @ "+f.staticSpec)
	}

	var snap MetricsSnapshot
	if f.metrics != nil {
		snap = f.metrics.Snapshot()
	}

	return FacadeStatus{
		StaticSchedules: statics,
		DynamicHealthy:  healthy,
		Dynamic:         f.dynamic.Status(),
		MonitorRunning:  f.monitor.Running(),
		LastError:       lastErr,
		Metrics:         snap,
	}
}
