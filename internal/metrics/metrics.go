// Package metrics defines the Prometheus instruments for the sync path.
//
// All Record methods are safe on a nil *SyncMetrics, so components can run
// without metrics wired in.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "folio"
	syncSubsystem    = "sync"
)

// Write results.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Reasons a remote update was discarded.
const (
	DiscardPending  = "pending_push"
	DiscardInactive = "inactive"
)

// SyncMetrics holds the counters and gauges for one process.
type SyncMetrics struct {
	// RemoteWritesTotal counts remote pushes. Labels: result.
	RemoteWritesTotal *prometheus.CounterVec

	// EchoesSuppressedTotal counts notifications recognized as our own writes.
	EchoesSuppressedTotal prometheus.Counter

	// RemoteUpdatesAppliedTotal counts genuine remote replacements applied.
	RemoteUpdatesAppliedTotal prometheus.Counter

	// RemoteUpdatesDiscardedTotal counts remote updates dropped. Labels: reason.
	RemoteUpdatesDiscardedTotal *prometheus.CounterVec

	// LocalSaveFailuresTotal counts failed local saves.
	LocalSaveFailuresTotal prometheus.Counter

	// DemotionsTotal counts transitions to local-only mode. Labels: cause.
	DemotionsTotal *prometheus.CounterVec

	// Mode is 1 for the current mode label and 0 for the others.
	// Labels: mode.
	Mode *prometheus.GaugeVec
}

// New creates the instruments and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *SyncMetrics {
	m := &SyncMetrics{
		RemoteWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: syncSubsystem,
			Name:      "remote_writes_total",
			Help:      "Remote document writes by result",
		}, []string{"result"}),
		EchoesSuppressedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: syncSubsystem,
			Name:      "echoes_suppressed_total",
			Help:      "Subscription notifications recognized as this session's own writes",
		}),
		RemoteUpdatesAppliedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: syncSubsystem,
			Name:      "remote_updates_applied_total",
			Help:      "External remote updates applied to the workspace",
		}),
		RemoteUpdatesDiscardedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: syncSubsystem,
			Name:      "remote_updates_discarded_total",
			Help:      "External remote updates dropped by reason",
		}, []string{"reason"}),
		LocalSaveFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: syncSubsystem,
			Name:      "local_save_failures_total",
			Help:      "Failed writes to the local store",
		}),
		DemotionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: syncSubsystem,
			Name:      "demotions_total",
			Help:      "Transitions to local-only mode by cause",
		}, []string{"cause"}),
		Mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: syncSubsystem,
			Name:      "mode",
			Help:      "Current sync mode (1 for the active mode)",
		}, []string{"mode"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.RemoteWritesTotal,
			m.EchoesSuppressedTotal,
			m.RemoteUpdatesAppliedTotal,
			m.RemoteUpdatesDiscardedTotal,
			m.LocalSaveFailuresTotal,
			m.DemotionsTotal,
			m.Mode,
		)
	}
	return m
}

// RecordWrite counts a remote push.
func (m *SyncMetrics) RecordWrite(ok bool) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if !ok {
		result = ResultError
	}
	m.RemoteWritesTotal.WithLabelValues(result).Inc()
}

// RecordEcho counts a suppressed echo.
func (m *SyncMetrics) RecordEcho() {
	if m == nil {
		return
	}
	m.EchoesSuppressedTotal.Inc()
}

// RecordApplied counts an applied remote update.
func (m *SyncMetrics) RecordApplied() {
	if m == nil {
		return
	}
	m.RemoteUpdatesAppliedTotal.Inc()
}

// RecordDiscarded counts a dropped remote update.
func (m *SyncMetrics) RecordDiscarded(reason string) {
	if m == nil {
		return
	}
	m.RemoteUpdatesDiscardedTotal.WithLabelValues(reason).Inc()
}

// RecordLocalSaveFailure counts a failed local save.
func (m *SyncMetrics) RecordLocalSaveFailure() {
	if m == nil {
		return
	}
	m.LocalSaveFailuresTotal.Inc()
}

// RecordDemotion counts a fall back to local-only mode.
func (m *SyncMetrics) RecordDemotion(cause string) {
	if m == nil {
		return
	}
	m.DemotionsTotal.WithLabelValues(cause).Inc()
}

// SetMode marks mode as current among modes.
func (m *SyncMetrics) SetMode(mode string, modes ...string) {
	if m == nil {
		return
	}
	for _, other := range modes {
		m.Mode.WithLabelValues(other).Set(0)
	}
	m.Mode.WithLabelValues(mode).Set(1)
}
