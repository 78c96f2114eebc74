package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daybook/internal/scheduler"
	"daybook/internal/types"
)

type mockScheduleService struct {
	statusFn  func() scheduler.FacadeStatus
	triggerFn func(ctx context.Context, userID string) error
	recoverFn func(ctx context.Context) error
}

func (m *mockScheduleService) Status() scheduler.FacadeStatus {
	if m.statusFn != nil {
		return m.statusFn()
	}
	return scheduler.FacadeStatus{DynamicHealthy: true}
}

func (m *mockScheduleService) TriggerFor(ctx context.Context, userID string) error {
	if m.triggerFn != nil {
		return m.triggerFn(ctx, userID)
	}
	return nil
}

func (m *mockScheduleService) RecoverDynamic(ctx context.Context) error {
	if m.recoverFn != nil {
		return m.recoverFn(ctx)
	}
	return nil
}

type mockPlanner struct {
	fires map[string]time.Time
}

func (m *mockPlanner) NextFires(after time.Time) map[string]time.Time {
	return m.fires
}

type mockCommander struct {
	applyFn func(ctx context.Context, userID, newTimezone string) error
	applied [][2]string
}

func (m *mockCommander) ApplyCommand(ctx context.Context, userID, newTimezone string) error {
	m.applied = append(m.applied, [2]string{userID, newTimezone})
	if m.applyFn != nil {
		return m.applyFn(ctx, userID, newTimezone)
	}
	return nil
}

func newScheduleRouter(service ScheduleService, planner FirePlanner, commands TimezoneCommander) http.Handler {
	h := NewScheduleHandler(service, planner, commands, nil)
	r := chi.NewRouter()
	h.RegisterRoutes(r, passthroughOperator)
	return r
}

func TestScheduleCheck_ReportsNextFires(t *testing.T) {
	fire := time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)
	router := newScheduleRouter(&mockScheduleService{},
		&mockPlanner{fires: map[string]time.Time{"09:30": fire}}, &mockCommander{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/schedule/check", nil))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Data checkResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Contains(t, resp.Data.NextFires, "09:30")
	assert.True(t, fire.Equal(resp.Data.NextFires["09:30"]))
}

func TestScheduleStatus_ReportsFacade(t *testing.T) {
	router := newScheduleRouter(&mockScheduleService{
		statusFn: func() scheduler.FacadeStatus {
			return scheduler.FacadeStatus{
				DynamicHealthy: false,
				StaticSchedules: []string{
					"daily-report-static",
				},
				LastError: "initialization failed",
			}
		},
	}, &mockPlanner{}, &mockCommander{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/schedule/status", nil))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Data scheduler.FacadeStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.Data.DynamicHealthy)
	assert.Equal(t, []string{"daily-report-static"}, resp.Data.StaticSchedules)
	assert.Equal(t, "initialization failed", resp.Data.LastError)
}

func TestTrigger_Success(t *testing.T) {
	var triggered string
	router := newScheduleRouter(&mockScheduleService{
		triggerFn: func(ctx context.Context, userID string) error {
			triggered = userID
			return nil
		},
	}, &mockPlanner{}, &mockCommander{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/schedule/trigger/U123", nil))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "U123", triggered)
}

func TestTrigger_UnknownUserNotFound(t *testing.T) {
	router := newScheduleRouter(&mockScheduleService{
		triggerFn: func(ctx context.Context, userID string) error {
			return types.NewAppError(types.ErrCodeNotFoundUser, "no timezone recorded for user", nil)
		},
	}, &mockPlanner{}, &mockCommander{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/schedule/trigger/UNOBODY", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), string(types.ErrCodeNotFoundUser))
}

func TestSetTimezone_AppliesCommand(t *testing.T) {
	commander := &mockCommander{}
	router := newScheduleRouter(&mockScheduleService{}, &mockPlanner{}, commander)

	body := strings.NewReader(`{"user_id":"U123","timezone":"Asia/Tokyo"}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/schedule/timezone", body))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Len(t, commander.applied, 1)
	assert.Equal(t, [2]string{"U123", "Asia/Tokyo"}, commander.applied[0])
}

func TestSetTimezone_MissingFields(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing user_id", `{"timezone":"Asia/Tokyo"}`},
		{"missing timezone", `{"user_id":"U123"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			commander := &mockCommander{}
			router := newScheduleRouter(&mockScheduleService{}, &mockPlanner{}, commander)

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(
				http.MethodPost, "/schedule/timezone", strings.NewReader(tc.body)))

			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			assert.Contains(t, rr.Body.String(), string(types.ErrCodeValidationMissingField))
			assert.Empty(t, commander.applied)
		})
	}
}

func TestSetTimezone_RejectsUnknownZone(t *testing.T) {
	router := newScheduleRouter(&mockScheduleService{}, &mockPlanner{}, &mockCommander{
		applyFn: func(ctx context.Context, userID, newTimezone string) error {
			return types.NewAppError(types.ErrCodeValidationInvalidTimezone, "unknown timezone", nil)
		},
	})

	body := strings.NewReader(`{"user_id":"U123","timezone":"Mars/Olympus"}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/schedule/timezone", body))

	assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), string(types.ErrCodeValidationInvalidTimezone))
}

func TestScheduleRecover_ReturnsFreshStatus(t *testing.T) {
	recovered := false
	router := newScheduleRouter(&mockScheduleService{
		recoverFn: func(ctx context.Context) error {
			recovered = true
			return nil
		},
		statusFn: func() scheduler.FacadeStatus {
			return scheduler.FacadeStatus{DynamicHealthy: true}
		},
	}, &mockPlanner{}, &mockCommander{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/schedule/recover", nil))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, recovered)

	var resp struct {
		Data scheduler.FacadeStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Data.DynamicHealthy)
}
