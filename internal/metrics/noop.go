package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncCodeIssued is a no-op.
func (n *NoopRecorder) IncCodeIssued() {}

// IncIssueRejected is a no-op.
func (n *NoopRecorder) IncIssueRejected(reason string) {}

// IncDeliveryFailed is a no-op.
func (n *NoopRecorder) IncDeliveryFailed() {}

// ObserveDeliveryDuration is a no-op.
func (n *NoopRecorder) ObserveDeliveryDuration(duration time.Duration) {}

// IncConfirmed is a no-op.
func (n *NoopRecorder) IncConfirmed() {}

// IncConfirmRejected is a no-op.
func (n *NoopRecorder) IncConfirmRejected(reason string) {}

// AddExpiredPurged is a no-op.
func (n *NoopRecorder) AddExpiredPurged(count int64) {}
