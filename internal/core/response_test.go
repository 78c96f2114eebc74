package core

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"daybook/internal/types"
)

func TestError_MapsAppErrorToStatus(t *testing.T) {
	tests := []struct {
		code   types.ErrorCode
		status int
	}{
		{types.ErrCodeValidationInvalidTimezone, http.StatusBadRequest},
		{types.ErrCodeAuthTokenMissing, http.StatusUnauthorized},
		{types.ErrCodePermissionTokenRejected, http.StatusForbidden},
		{types.ErrCodeNotFoundUser, http.StatusNotFound},
		{types.ErrCodeConflictSuspendPending, http.StatusConflict},
		{types.ErrCodeUpstreamChat, http.StatusBadGateway},
		{types.ErrCodeInternalDB, http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(string(tc.code), func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			Error(rr, req, types.NewAppError(tc.code, "message", nil))

			if rr.Code != tc.status {
				t.Errorf("expected %d, got %d", tc.status, rr.Code)
			}
			if !strings.Contains(rr.Body.String(), string(tc.code)) {
				t.Errorf("body should carry the code: %s", rr.Body.String())
			}
		})
	}
}

func TestError_GenericErrorHidesDetails(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	Error(rr, req, errors.New("pq: connection refused to db-internal.example.com"))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "db-internal") {
		t.Errorf("internal detail leaked to client: %s", rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), string(types.ErrCodeInternalUnexpected)) {
		t.Errorf("expected internal_unexpected_error code: %s", rr.Body.String())
	}
}

func TestError_IncludesRequestID(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(types.WithRequestID(req.Context(), "req-77"))

	Error(rr, req, types.NewAppError(types.ErrCodeNotFoundUser, "no such user", nil))

	if !strings.Contains(rr.Body.String(), "req-77") {
		t.Errorf("expected request ID in body: %s", rr.Body.String())
	}
}

func TestDecodeJSON_RejectsMalformedBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"syntax error", `{"user_id":`},
		{"unknown field", `{"user_id":"U1","surprise":true}`},
		{"trailing value", `{"user_id":"U1"}{"user_id":"U2"}`},
	}

	type payload struct {
		UserID string `json:"user_id"`
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()

			var dst payload
			err := DecodeJSON(rr, req, &dst)
			if err == nil {
				t.Fatal("expected decode error")
			}

			var appErr *types.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("expected AppError, got %T", err)
			}
			if appErr.Code != types.ErrCodeValidationInvalidBody {
				t.Errorf("expected validation_invalid_body, got %s", appErr.Code)
			}
		})
	}
}

func TestDecodeJSON_AcceptsWellFormedBody(t *testing.T) {
	type payload struct {
		UserID string `json:"user_id"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"user_id":"U1"}`))
	rr := httptest.NewRecorder()

	var dst payload
	if err := DecodeJSON(rr, req, &dst); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if dst.UserID != "U1" {
		t.Errorf("expected U1, got %q", dst.UserID)
	}
}
