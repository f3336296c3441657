// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Issuance metrics
	IncCodeIssued()
	IncIssueRejected(reason string) // reason: "invalid_email", "already_subscribed", "bot_suspected", "rate_limited"
	IncDeliveryFailed()
	ObserveDeliveryDuration(duration time.Duration)

	// Confirmation metrics
	IncConfirmed()
	IncConfirmRejected(reason string) // reason: "invalid_input", "no_pending", "expired", "invalid_code", "rate_limited"

	// Store maintenance metrics
	AddExpiredPurged(count int64)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
