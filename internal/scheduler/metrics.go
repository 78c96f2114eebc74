package scheduler

import (
	"sync"
	"time"
)

// Metrics collects advisory delivery counters. Values reset on process
// restart and are never authoritative.
type Metrics struct {
	mu           sync.Mutex
	reportsSent  int64
	sendErrors   int64
	avgDuration  time.Duration
	distribution map[string]int64 // timezone → successful sends
}

// NewMetrics returns zeroed metrics.
func NewMetrics() *Metrics {
	return &Metrics{distribution: make(map[string]int64)}
}

// RecordSend records one delivery attempt. The rolling average only tracks
// successful sends.
func (m *Metrics) RecordSend(timezone string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.sendErrors++
		return
	}

	m.reportsSent++
	m.distribution[timezone]++
	// Incremental rolling average: avg += (d - avg) / n.
	m.avgDuration += (duration - m.avgDuration) / time.Duration(m.reportsSent)
}

// MetricsSnapshot is a point-in-time copy for status reporting.
type MetricsSnapshot struct {
	ReportsSent     int64            `json:"reports_sent"`
	SendErrors      int64            `json:"send_errors"`
	AvgSendDuration time.Duration    `json:"avg_send_duration"`
	ByTimezone      map[string]int64 `json:"by_timezone"`
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	dist := make(map[string]int64, len(m.distribution))
	for tz, n := range m.distribution {
		dist[tz] = n
	}
	return MetricsSnapshot{
		ReportsSent:     m.reportsSent,
		SendErrors:      m.sendErrors,
		AvgSendDuration: m.avgDuration,
		ByTimezone:      dist,
	}
}
