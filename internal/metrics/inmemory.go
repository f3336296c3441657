package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	CodesIssued             uint64
	IssueRejected           map[string]uint64
	DeliveriesFailed        uint64
	DeliveryDurationCount   uint64
	DeliveryDurationTotalNs int64
	Confirmed               uint64
	ConfirmRejected         map[string]uint64
	ExpiredPurged           int64
}

// InMemoryRecorder stores metrics in memory.
type InMemoryRecorder struct {
	codesIssued             uint64
	deliveriesFailed        uint64
	deliveryDurationCount   uint64
	deliveryDurationTotalNs int64
	confirmed               uint64
	expiredPurged           int64

	mu              sync.Mutex
	issueRejected   map[string]uint64
	confirmRejected map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		issueRejected:   make(map[string]uint64),
		confirmRejected: make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	issueRejected := make(map[string]uint64, len(m.issueRejected))
	for k, v := range m.issueRejected {
		issueRejected[k] = v
	}
	confirmRejected := make(map[string]uint64, len(m.confirmRejected))
	for k, v := range m.confirmRejected {
		confirmRejected[k] = v
	}
	m.mu.Unlock()

	return Snapshot{
		CodesIssued:             atomic.LoadUint64(&m.codesIssued),
		IssueRejected:           issueRejected,
		DeliveriesFailed:        atomic.LoadUint64(&m.deliveriesFailed),
		DeliveryDurationCount:   atomic.LoadUint64(&m.deliveryDurationCount),
		DeliveryDurationTotalNs: atomic.LoadInt64(&m.deliveryDurationTotalNs),
		Confirmed:               atomic.LoadUint64(&m.confirmed),
		ConfirmRejected:         confirmRejected,
		ExpiredPurged:           atomic.LoadInt64(&m.expiredPurged),
	}
}

// IncCodeIssued increments the issued-code counter.
func (m *InMemoryRecorder) IncCodeIssued() {
	atomic.AddUint64(&m.codesIssued, 1)
}

// IncIssueRejected increments the rejection counter for a reason.
func (m *InMemoryRecorder) IncIssueRejected(reason string) {
	m.mu.Lock()
	m.issueRejected[reason]++
	m.mu.Unlock()
}

// IncDeliveryFailed increments the failed-delivery counter.
func (m *InMemoryRecorder) IncDeliveryFailed() {
	atomic.AddUint64(&m.deliveriesFailed, 1)
}

// ObserveDeliveryDuration records one delivery attempt's duration.
func (m *InMemoryRecorder) ObserveDeliveryDuration(duration time.Duration) {
	atomic.AddUint64(&m.deliveryDurationCount, 1)
	atomic.AddInt64(&m.deliveryDurationTotalNs, duration.Nanoseconds())
}

// IncConfirmed increments the confirmed-enrollment counter.
func (m *InMemoryRecorder) IncConfirmed() {
	atomic.AddUint64(&m.confirmed, 1)
}

// IncConfirmRejected increments the rejection counter for a reason.
func (m *InMemoryRecorder) IncConfirmRejected(reason string) {
	m.mu.Lock()
	m.confirmRejected[reason]++
	m.mu.Unlock()
}

// AddExpiredPurged adds to the purged-row counter.
func (m *InMemoryRecorder) AddExpiredPurged(count int64) {
	atomic.AddInt64(&m.expiredPurged, count)
}
