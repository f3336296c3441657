package handler

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/optin/optin/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "optin_codes_issued_total %d\n", snap.CodesIssued)
	writeLabeledMetric(w, "optin_issue_rejected_total", snap.IssueRejected)

	writeMetric(w, "optin_deliveries_failed_total %d\n", snap.DeliveriesFailed)
	writeMetric(w, "optin_delivery_duration_seconds_count %d\n", snap.DeliveryDurationCount)
	writeMetric(w, "optin_delivery_duration_seconds_sum %.6f\n", float64(snap.DeliveryDurationTotalNs)/1e9)

	writeMetric(w, "optin_confirmed_total %d\n", snap.Confirmed)
	writeLabeledMetric(w, "optin_confirm_rejected_total", snap.ConfirmRejected)

	writeMetric(w, "optin_expired_purged_total %d\n", snap.ExpiredPurged)
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}

// writeLabeledMetric emits one line per reason, sorted for stable output.
func writeLabeledMetric(w http.ResponseWriter, name string, values map[string]uint64) {
	reasons := make([]string, 0, len(values))
	for reason := range values {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)

	for _, reason := range reasons {
		writeMetric(w, "%s{reason=%q} %d\n", name, reason, values[reason])
	}
}
