// Package handlers contains the HTTP handler implementations for the daybook
// control and schedule APIs. Handlers depend on locally declared service
// interfaces so tests can inject lightweight fakes.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"daybook/internal/core"
	"daybook/internal/recovery"
)

// SuspendController manages the suspend/wake lifecycle.
type SuspendController interface {
	PrepareSuspend(ctx context.Context) (time.Time, error)
	Wake(ctx context.Context) (time.Time, error)
	Status() recovery.StatusReport
}

// RecoveryRunner replays the suspend window on demand.
type RecoveryRunner interface {
	Run(ctx context.Context) (*recovery.Result, error)
}

// ControlHandler serves the suspend/wake/recovery control plane.
type ControlHandler struct {
	controller SuspendController
	runner     RecoveryRunner
	logger     *slog.Logger
}

// NewControlHandler creates the control-plane handler.
func NewControlHandler(controller SuspendController, runner RecoveryRunner, logger *slog.Logger) *ControlHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlHandler{
		controller: controller,
		runner:     runner,
		logger:     logger,
	}
}

// RegisterRoutes mounts the control routes. The status endpoint is public;
// the mutating endpoints require the operator middleware.
func (h *ControlHandler) RegisterRoutes(r chi.Router, operator func(http.Handler) http.Handler) {
	r.Route("/control", func(r chi.Router) {
		r.Get("/suspend-status", h.SuspendStatus)

		r.Group(func(r chi.Router) {
			r.Use(operator)
			r.Post("/prepare-suspend", h.PrepareSuspend)
			r.Post("/wake", h.Wake)
			r.Post("/morning-recovery", h.MorningRecovery)
		})
	})
}

// Status strings reported by the control endpoints.
const (
	statusReadyForSuspend  = "ready_for_suspend"
	statusWakingUp         = "waking_up"
	statusRecoveryComplete = "recovery_complete"
)

// prepareSuspendResponse is the body for POST /v1/control/prepare-suspend.
type prepareSuspendResponse struct {
	Status      string    `json:"status"`
	SuspendTime time.Time `json:"suspend_time"`
}

// PrepareSuspend handles POST /v1/control/prepare-suspend. It drains the
// dynamic triggers and records the suspend cycle; a second call while a
// cycle is open returns 409.
func (h *ControlHandler) PrepareSuspend(w http.ResponseWriter, r *http.Request) {
	suspendedAt, err := h.controller.PrepareSuspend(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: prepareSuspendResponse{
		Status:      statusReadyForSuspend,
		SuspendTime: suspendedAt,
	}})
}

// wakeResponse is the body for POST /v1/control/wake. Recovery runs in the
// background; waking_up signals that the replay has been kicked off, not
// that it has finished.
type wakeResponse struct {
	Status   string    `json:"status"`
	WakeTime time.Time `json:"wake_time"`
}

// Wake handles POST /v1/control/wake. It resumes the triggers, stamps the
// open suspend cycle, and starts recovery asynchronously.
func (h *ControlHandler) Wake(w http.ResponseWriter, r *http.Request) {
	resumedAt, err := h.controller.Wake(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: wakeResponse{
		Status:   statusWakingUp,
		WakeTime: resumedAt,
	}})
}

// recoveryResponse is the body for POST /v1/control/morning-recovery.
type recoveryResponse struct {
	Status            string    `json:"status"`
	ProcessedMessages int       `json:"processed_messages"`
	RecoveryTime      time.Time `json:"recovery_time"`
}

// MorningRecovery handles POST /v1/control/morning-recovery. Unlike the
// wake path this runs the replay synchronously, so the caller sees the
// processed count. A concurrent run returns 409.
func (h *ControlHandler) MorningRecovery(w http.ResponseWriter, r *http.Request) {
	result, err := h.runner.Run(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: recoveryResponse{
		Status:            statusRecoveryComplete,
		ProcessedMessages: len(result.Entries),
		RecoveryTime:      result.CompletedAt,
	}})
}

// SuspendStatus handles GET /v1/control/suspend-status.
func (h *ControlHandler) SuspendStatus(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.controller.Status()})
}
