package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"daybook/internal/core"
	"daybook/internal/scheduler"
	"daybook/internal/types"
)

// ScheduleService exposes the scheduling facade to the API layer.
type ScheduleService interface {
	Status() scheduler.FacadeStatus
	TriggerFor(ctx context.Context, userID string) error
	RecoverDynamic(ctx context.Context) error
}

// FirePlanner reports upcoming trigger firing instants.
type FirePlanner interface {
	NextFires(after time.Time) map[string]time.Time
}

// TimezoneCommander applies a user-initiated timezone change synchronously.
type TimezoneCommander interface {
	ApplyCommand(ctx context.Context, userID, newTimezone string) error
}

// ScheduleHandler serves schedule introspection and operator actions.
type ScheduleHandler struct {
	service  ScheduleService
	planner  FirePlanner
	commands TimezoneCommander
	logger   *slog.Logger
	now      func() time.Time
}

// NewScheduleHandler creates the schedule handler.
func NewScheduleHandler(service ScheduleService, planner FirePlanner, commands TimezoneCommander, logger *slog.Logger) *ScheduleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScheduleHandler{
		service:  service,
		planner:  planner,
		commands: commands,
		logger:   logger,
		now:      time.Now,
	}
}

// RegisterRoutes mounts the schedule routes. Introspection is public; the
// manual trigger, timezone command, and recovery retry require the operator
// middleware.
func (h *ScheduleHandler) RegisterRoutes(r chi.Router, operator func(http.Handler) http.Handler) {
	r.Route("/schedule", func(r chi.Router) {
		r.Get("/check", h.Check)
		r.Get("/status", h.Status)

		r.Group(func(r chi.Router) {
			r.Use(operator)
			r.Post("/trigger/{userID}", h.Trigger)
			r.Post("/timezone", h.SetTimezone)
			r.Post("/recover", h.Recover)
		})
	})
}

// checkResponse is the body for GET /v1/schedule/check.
type checkResponse struct {
	CheckedAt time.Time            `json:"checked_at"`
	NextFires map[string]time.Time `json:"next_fires"`
}

// Check handles GET /v1/schedule/check. It reports the next firing instant
// for every live slot, which is the quickest way to verify the dynamic
// schedule after a timezone change.
func (h *ScheduleHandler) Check(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: checkResponse{
		CheckedAt: now,
		NextFires: h.planner.NextFires(now),
	}})
}

// Status handles GET /v1/schedule/status.
func (h *ScheduleHandler) Status(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.service.Status()})
}

// triggerResponse is the body for POST /v1/schedule/trigger/{userID}.
type triggerResponse struct {
	UserID    string `json:"user_id"`
	Triggered bool   `json:"triggered"`
}

// Trigger handles POST /v1/schedule/trigger/{userID}. It sends the user's
// report immediately, outside the slot schedule. Unknown users return 404.
func (h *ScheduleHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField, "userID path parameter is required", nil))
		return
	}

	if err := h.service.TriggerFor(r.Context(), userID); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: triggerResponse{
		UserID:    userID,
		Triggered: true,
	}})
}

// setTimezoneRequest is the body for POST /v1/schedule/timezone.
type setTimezoneRequest struct {
	UserID   string `json:"user_id"`
	Timezone string `json:"timezone"`
}

// setTimezoneResponse confirms the applied change.
type setTimezoneResponse struct {
	UserID   string `json:"user_id"`
	Timezone string `json:"timezone"`
}

// SetTimezone handles POST /v1/schedule/timezone. This is the synchronous
// command path: the change is validated, persisted, and applied to the
// trigger set before the response is written, so the next /schedule/check
// already reflects it.
func (h *ScheduleHandler) SetTimezone(w http.ResponseWriter, r *http.Request) {
	var req setTimezoneRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.UserID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField, "user_id is required", nil))
		return
	}
	if req.Timezone == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField, "timezone is required", nil))
		return
	}

	if err := h.commands.ApplyCommand(r.Context(), req.UserID, req.Timezone); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: setTimezoneResponse{
		UserID:   req.UserID,
		Timezone: req.Timezone,
	}})
}

// Recover handles POST /v1/schedule/recover. It retries dynamic
// initialization after a startup failure left the service on the static
// fallback schedule.
func (h *ScheduleHandler) Recover(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RecoverDynamic(r.Context()); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.service.Status()})
}
