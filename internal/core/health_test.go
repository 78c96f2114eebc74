package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHandleHealth_NoProbes(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	s := newTestServer(t)
	s.HealthProbes = []HealthProbe{
		ProbeFunc{ProbeName: "database", Fn: func(ctx context.Context) error { return nil }},
		ProbeFunc{ProbeName: "chat", Fn: func(ctx context.Context) error { return nil }},
	}

	rr := httptest.NewRecorder()
	s.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Status     string `json:"status"`
		Uptime     string `json:"uptime"`
		Components map[string]struct {
			Status string `json:"status"`
		} `json:"components"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected healthy, got %q", resp.Status)
	}
	if resp.Components["database"].Status != "healthy" {
		t.Errorf("expected healthy database component")
	}
	if _, err := time.ParseDuration(resp.Uptime); err != nil {
		t.Errorf("uptime %q is not a duration: %v", resp.Uptime, err)
	}
}

func TestHandleHealth_FailingProbeReturns503(t *testing.T) {
	s := newTestServer(t)
	s.HealthProbes = []HealthProbe{
		ProbeFunc{ProbeName: "database", Fn: func(ctx context.Context) error {
			return errors.New("connection refused")
		}},
	}

	rr := httptest.NewRecorder()
	s.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rr.Code, rr.Body.String())
	}
}
