package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"daybook/internal/types"
)

func newTestFacade(t *testing.T, repo *mockUserRepo, sender *mockSender) *Facade {
	t.Helper()
	metrics := NewMetrics()
	dyn := NewDynamicScheduler(DynamicSchedulerConfig{
		Users:   repo,
		Sender:  sender,
		Metrics: metrics,
		Logger:  testLogger(),
		Now:     func() time.Time { return ref },
	})
	mon := NewChangeMonitor(repo, dyn, time.Minute, testLogger())
	f, err := NewFacade(FacadeConfig{
		Dynamic:          dyn,
		Monitor:          mon,
		Users:            repo,
		Sender:           sender,
		Metrics:          metrics,
		Logger:           testLogger(),
		StaticReportTime: "09:00",
	})
	if err != nil {
		t.Fatalf("building facade: %v", err)
	}
	return f
}

func TestFacade_DynamicHealthyHidesStaticEntry(t *testing.T) {
	repo := &mockUserRepo{rows: []types.UserTimezone{{UserID: "u1", Timezone: "Asia/Tokyo"}}}
	f := newTestFacade(t, repo, &mockSender{})

	f.Start(context.Background())
	defer f.Stop()

	st := f.Status()
	if !st.DynamicHealthy {
		t.Fatal("dynamic path should be healthy")
	}
	if len(st.StaticSchedules) != 0 {
		t.Errorf("healthy dynamic path must hide the static entry, got %v", st.StaticSchedules)
	}
	if !st.MonitorRunning {
		t.Error("monitor should be running")
	}
	if st.Dynamic.ActiveTriggers != 1 {
		t.Errorf("expected 1 dynamic trigger, got %d", st.Dynamic.ActiveTriggers)
	}
}

func TestFacade_InitFailureFallsBackToStatic(t *testing.T) {
	repo := &mockUserRepo{rowsErr: errors.New("store is down")}
	f := newTestFacade(t, repo, &mockSender{})

	f.Start(context.Background())
	defer f.Stop()

	st := f.Status()
	if st.DynamicHealthy {
		t.Fatal("dynamic path must be unhealthy after init failure")
	}
	if len(st.StaticSchedules) != 1 || !strings.Contains(st.StaticSchedules[0], staticScheduleName) {
		t.Errorf("static daily-report schedule must stay listed, got %v", st.StaticSchedules)
	}
	if !strings.Contains(f.LastError(), "store is down") {
		t.Errorf("last error must carry the failure text, got %q", f.LastError())
	}
}

func TestFacade_RecoverDynamicAfterFailure(t *testing.T) {
	repo := &mockUserRepo{rowsErr: errors.New("store is down")}
	f := newTestFacade(t, repo, &mockSender{})

	f.Start(context.Background())
	defer f.Stop()

	// Store comes back; recovery re-initializes without a process restart.
	repo.rowsErr = nil
	repo.rows = []types.UserTimezone{{UserID: "u1", Timezone: "Asia/Tokyo"}}

	if err := f.RecoverDynamic(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st := f.Status()
	if !st.DynamicHealthy {
		t.Error("dynamic path should be healthy after recovery")
	}
	if st.Dynamic.ActiveTriggers != 1 {
		t.Errorf("expected 1 trigger after recovery, got %d", st.Dynamic.ActiveTriggers)
	}
}

func TestFacade_TriggerFor(t *testing.T) {
	repo := &mockUserRepo{zones: map[string]string{"u1": "Asia/Tokyo"}}
	sender := &mockSender{}
	f := newTestFacade(t, repo, sender)

	if err := f.TriggerFor(context.Background(), "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := sender.reports()
	if len(got) != 1 || got[0] != (sentReport{UserID: "u1", Timezone: "Asia/Tokyo"}) {
		t.Errorf("unexpected deliveries %v", got)
	}

	err := f.TriggerFor(context.Background(), "nobody")
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeNotFoundUser {
		t.Errorf("expected not_found_user, got %v", err)
	}
}

func TestFacade_StaticBroadcastDeliversWhenDynamicDown(t *testing.T) {
	repo := &mockUserRepo{
		rowsErr: errors.New("boot failure"),
	}
	sender := &mockSender{}
	f := newTestFacade(t, repo, sender)
	f.Start(context.Background())
	defer f.Stop()

	// The store recovers in time for the broadcast itself.
	repo.rowsErr = nil
	repo.rows = []types.UserTimezone{
		{UserID: "u1", Timezone: "Asia/Tokyo"},
		{UserID: "u2", Timezone: "Europe/Berlin"},
	}

	f.staticBroadcast()

	if got := len(sender.reports()); got != 2 {
		t.Errorf("expected 2 deliveries via static path, got %d", got)
	}
}

func TestFacade_StaticBroadcastSkippedWhenHealthy(t *testing.T) {
	repo := &mockUserRepo{rows: []types.UserTimezone{{UserID: "u1", Timezone: "Asia/Tokyo"}}}
	sender := &mockSender{}
	f := newTestFacade(t, repo, sender)
	f.Start(context.Background())
	defer f.Stop()

	f.staticBroadcast()

	if got := len(sender.reports()); got != 0 {
		t.Errorf("static broadcast must be suppressed while dynamic is healthy, got %d deliveries", got)
	}
}
