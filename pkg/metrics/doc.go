/*
Package metrics provides Prometheus metrics collection and exposition for
the SHADOW rebuild daemon.

The metrics package defines and registers every shadow_* metric using the
Prometheus client library, giving observability into the FSM's current
state, rebuild cadence and latency, USB export toggling, error rates, and
self-test results. Metrics are exposed via an HTTP endpoint for scraping
by a Prometheus server.

# Metrics Catalog

shadow_fsm_state{state}:
  - Type: Gauge
  - Description: 1 for the currently active FSM state, 0 for the rest
  - Example: shadow_fsm_state{state="READY"} 1

shadow_active_slot{slot}:
  - Type: Gauge
  - Description: 1 for the currently exported slot (A or B), 0 for the other
  - Example: shadow_active_slot{slot="B"} 1

shadow_run_id:
  - Type: Gauge
  - Description: Current rebuild run_id counter

shadow_rebuilds_total{trigger, result}:
  - Type: Counter
  - Description: Total rebuild cycles by trigger (watch/manual) and result
    (ok/error/lock_conflict)

shadow_rebuild_duration_seconds{trigger}:
  - Type: Histogram
  - Description: Duration of a full rebuild cycle in seconds

shadow_usb_export_toggle_duration_seconds{direction}:
  - Type: Histogram
  - Description: Duration of a USB gadget stop or start operation

shadow_errors_total{code}:
  - Type: Counter
  - Description: Rebuild-cycle errors by closed error code

shadow_lock_conflicts_total{trigger}:
  - Type: Counter
  - Description: Lock acquisition conflicts by trigger

shadow_watch_events_total:
  - Type: Counter
  - Description: Debounced filesystem-change events observed

shadow_selftest_critical / shadow_selftest_warnings:
  - Type: Gauge
  - Description: Critical/warning counts from the most recent self-test run

# Usage

	timer := metrics.NewTimer()
	err := engine.FullRebuild(ctx, slotPath)
	timer.ObserveDurationVec(metrics.RebuildDuration, trigger)

	metrics.SetFSMState(knownStates, string(state.FSMState))
	metrics.SetActiveSlot(string(state.ActiveSlot))

	http.Handle("/metrics", metrics.Handler())

# See Also

  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
