package domain

import "time"

// HealthStatus is the coarse state of an upstream provider.
type HealthStatus string

const (
	HealthUnknown  HealthStatus = "unknown"
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// APIHealth tracks the recent reliability of a single upstream.
type APIHealth struct {
	Status              HealthStatus
	LastCheck           time.Time
	ConsecutiveFailures int
}

// RecordSuccess transitions to ok and resets the failure count.
func (h *APIHealth) RecordSuccess(now time.Time) {
	h.Status = HealthOK
	h.LastCheck = now
	h.ConsecutiveFailures = 0
}

// RecordFailure increments failures; three in a row marks the upstream down.
func (h *APIHealth) RecordFailure(now time.Time) {
	h.ConsecutiveFailures++
	h.LastCheck = now
	if h.ConsecutiveFailures < 3 {
		h.Status = HealthDegraded
	} else {
		h.Status = HealthDown
	}
}
