package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FSMState tracks the current FSM state as a 1/0 gauge per state
	// label, so a single query ("shadow_fsm_state{state=\"READY\"} == 1") names
	// the active state without needing label-matching arithmetic.
	FSMState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shadow_fsm_state",
			Help: "Current FSM state (1 = active, 0 = inactive) by state name",
		},
		[]string{"state"},
	)

	ActiveSlot = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shadow_active_slot",
			Help: "Currently exported slot (1 = active, 0 = inactive) by slot name",
		},
		[]string{"slot"},
	)

	RunIDTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shadow_run_id",
			Help: "Current rebuild run_id counter",
		},
	)

	RebuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shadow_rebuilds_total",
			Help: "Total number of rebuild cycles by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	RebuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shadow_rebuild_duration_seconds",
			Help:    "Duration of a full rebuild cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"trigger"},
	)

	USBExportToggleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shadow_usb_export_toggle_duration_seconds",
			Help:    "Duration of a USB gadget stop or start operation in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"direction"},
	)

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shadow_errors_total",
			Help: "Total number of rebuild-cycle errors by error code",
		},
		[]string{"code"},
	)

	LockConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shadow_lock_conflicts_total",
			Help: "Total number of rebuild-cycle lock acquisition conflicts by trigger",
		},
		[]string{"trigger"},
	)

	WatchEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shadow_watch_events_total",
			Help: "Total number of debounced filesystem-change events observed",
		},
	)

	SelfTestCritical = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shadow_selftest_critical",
			Help: "Critical findings from the most recent self-test run",
		},
	)

	SelfTestWarnings = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shadow_selftest_warnings",
			Help: "Warning findings from the most recent self-test run",
		},
	)
)

func init() {
	prometheus.MustRegister(FSMState)
	prometheus.MustRegister(ActiveSlot)
	prometheus.MustRegister(RunIDTotal)
	prometheus.MustRegister(RebuildsTotal)
	prometheus.MustRegister(RebuildDuration)
	prometheus.MustRegister(USBExportToggleDuration)
	prometheus.MustRegister(ErrorsTotal)
	prometheus.MustRegister(LockConflictsTotal)
	prometheus.MustRegister(WatchEventsTotal)
	prometheus.MustRegister(SelfTestCritical)
	prometheus.MustRegister(SelfTestWarnings)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// SetFSMState zeroes every known FSM state gauge, then sets only current
// to 1, so stale states don't linger at 1 after a transition.
func SetFSMState(known []string, current string) {
	for _, name := range known {
		value := 0.0
		if name == current {
			value = 1.0
		}
		FSMState.WithLabelValues(name).Set(value)
	}
}

// SetActiveSlot zeroes both slot gauges, then sets only current to 1.
func SetActiveSlot(current string) {
	for _, name := range []string{"A", "B"} {
		value := 0.0
		if name == current {
			value = 1.0
		}
		ActiveSlot.WithLabelValues(name).Set(value)
	}
}
