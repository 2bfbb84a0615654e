// Package shadow is the orchestrator: it owns the FSM, the debounced
// watch loop, manual-trigger handling, error classification, LED sink
// updates, and history recording. It is the Go realization of spec.md
// §4.8 (Shadow Manager), grounded method-for-method on
// original_source/shadow/shadow_manager.py.
package shadow

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cncworks/shadow/pkg/history"
	"github.com/cncworks/shadow/pkg/ledio"
	"github.com/cncworks/shadow/pkg/lockmgr"
	"github.com/cncworks/shadow/pkg/log"
	"github.com/cncworks/shadow/pkg/metrics"
	"github.com/cncworks/shadow/pkg/rebuild"
	"github.com/cncworks/shadow/pkg/slot"
	"github.com/cncworks/shadow/pkg/statestore"
	"github.com/cncworks/shadow/pkg/usbgadget"
	"github.com/cncworks/shadow/pkg/watcher"
	"github.com/rs/zerolog"
)

// ErrAlreadyRunning is returned by TriggerManual when another manual
// rebuild is already in flight; per spec.md §4.8 this does not queue a
// second run. A manual request made while a watcher-triggered cycle holds
// the lock is not refused here; it is recorded as a lock conflict.
var ErrAlreadyRunning = errors.New("shadow: rebuild already running")

// DefaultModeNames is spec.md §4.8's fixed LED-mode table:
// IDLE/READY map to "READY", CHANGE_DETECTED maps to "SYNC",
// every BUILD_*/EXPORT_* state maps to "BUSY", and ERROR maps to "ERROR".
var DefaultModeNames = map[statestore.FSMState]string{
	statestore.Idle:           "READY",
	statestore.Ready:          "READY",
	statestore.ChangeDetected: "SYNC",
	statestore.BuildSlotA:     "BUSY",
	statestore.BuildSlotB:     "BUSY",
	statestore.ExportStop:     "BUSY",
	statestore.ExportStart:    "BUSY",
	statestore.Error:          "ERROR",
}

// Config wires together every collaborator the Manager needs. Every
// collaborator except LED is required; a nil LED disables mode writes.
type Config struct {
	StateStore *statestore.Store
	Rebuild    *rebuild.Engine
	USB        *usbgadget.Manager
	Slot       *slot.Manager
	Lock       *lockmgr.Manager
	Watcher    *watcher.Service
	History    *history.Log
	LED        ledio.Sink

	DebounceSeconds int

	// ModeNames overrides the FSM-state-to-LED-mode-name mapping. A nil
	// map defaults to DefaultModeNames.
	ModeNames map[statestore.FSMState]string
}

// Manager runs the watch loop and executes rebuild cycles.
type Manager struct {
	cfg        Config
	logger     zerolog.Logger
	manualBusy atomic.Bool
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// New constructs a Manager. debounceSeconds below zero is clamped to
// zero, matching shadow_manager.py's max(0, debounce_seconds).
func New(cfg Config) *Manager {
	if cfg.DebounceSeconds < 0 {
		cfg.DebounceSeconds = 0
	}
	if cfg.ModeNames == nil {
		cfg.ModeNames = DefaultModeNames
	}
	return &Manager{cfg: cfg, logger: log.WithComponent("shadow")}
}

// Start performs bootstrap (tmp cleanup, master dir, state normalization),
// starts the watcher, and launches the watch-loop goroutine. If the
// watcher fails to start, the Manager records ERR_MISSING_DEPENDENCY and
// returns without starting the loop — matching shadow_manager.py's
// start() early-return behavior.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.cfg.Slot.CleanupTmpFiles(); err != nil {
		return fmt.Errorf("shadow: cleanup tmp files: %w", err)
	}

	activeSlot, err := m.cfg.Slot.ReadActiveSlot()
	if err != nil {
		return fmt.Errorf("shadow: read active slot: %w", err)
	}

	state, err := m.cfg.StateStore.LoadOrInitialize(activeSlot)
	if err != nil {
		return fmt.Errorf("shadow: load state: %w", err)
	}

	if _, err := m.normalizeState(state, activeSlot); err != nil {
		return fmt.Errorf("shadow: normalize state: %w", err)
	}

	if err := m.cfg.Watcher.Start(); err != nil {
		m.setError(ErrMissingDependency, err.Error())
		m.logger.Error().Err(err).Msg("shadow watcher failed to start")
		return fmt.Errorf("shadow: start watcher: %w", err)
	}

	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.watchLoop()

	m.logger.Info().
		Str("active_slot", string(activeSlot)).
		Str("watch_dir", m.cfg.Watcher.WatchedDir()).
		Msg("shadow bootstrap ready")
	return nil
}

// Stop signals the watch loop to exit and waits for it to finish.
func (m *Manager) Stop() {
	if m.stopCh == nil {
		return
	}
	close(m.stopCh)
	<-m.doneCh
	m.cfg.Watcher.Stop()
}

func (m *Manager) watchLoop() {
	defer close(m.doneCh)
	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		event, err := m.cfg.Watcher.PollEvent(time.Second)
		if err != nil {
			m.logger.Error().Err(err).Msg("shadow watcher poll error")
			continue
		}
		if event == "" {
			continue
		}
		metrics.WatchEventsTotal.Inc()
		m.logger.Info().Str("event", string(event)).Msg("shadow change detected")
		m.waitForDebounce()
		m.runRebuildCycle(context.Background(), "watch")
	}
}

// waitForDebounce absorbs a trailing-edge burst of events: each new
// event seen within DebounceSeconds of the last resets the deadline,
// matching _wait_for_debounce's unbounded-extension behavior.
func (m *Manager) waitForDebounce() {
	if m.cfg.DebounceSeconds <= 0 {
		return
	}
	debounce := time.Duration(m.cfg.DebounceSeconds) * time.Second
	deadline := time.Now().Add(debounce)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		event, err := m.cfg.Watcher.PollEvent(remaining)
		if err != nil || event == "" {
			return
		}
		m.logger.Info().Str("event", string(event)).Msg("shadow debounce absorbs event")
		deadline = time.Now().Add(debounce)
	}
}

// TriggerManual starts a rebuild cycle outside the watcher, refusing a
// second concurrent request rather than queuing it.
func (m *Manager) TriggerManual(ctx context.Context) error {
	if !m.manualBusy.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.manualBusy.Store(false)

	m.runRebuildCycle(ctx, "manual")
	return nil
}

// runRebuildCycle acquires the lock non-blocking and runs the full
// transition sequence under it. A lock conflict on a watcher-triggered
// cycle is an ERROR state; on a manual-triggered cycle it is merely
// recorded in history (spec.md §4.6/§4.8).
func (m *Manager) runRebuildCycle(ctx context.Context, trigger string) {
	acquired, err := m.cfg.Lock.Acquire(false)
	if err != nil {
		m.logger.Error().Err(err).Msg("shadow lock acquire error")
		return
	}
	if !acquired {
		metrics.LockConflictsTotal.WithLabelValues(trigger).Inc()
		m.recordLockConflict(trigger)
		if trigger != "manual" {
			m.setError(ErrLockConflict, "failed to acquire the shadow lock")
		}
		return
	}
	defer m.cfg.Lock.Release()

	timer := metrics.NewTimer()
	err = m.runRebuildCycleLocked(ctx, trigger)
	timer.ObserveDurationVec(metrics.RebuildDuration, trigger)

	result := "ok"
	if err != nil {
		code := classifyError(err)
		metrics.ErrorsTotal.WithLabelValues(code).Inc()
		m.setError(code, err.Error())
		m.logger.Error().Err(err).Str("code", code).Msg("shadow rebuild cycle failed")
		result = "error"
	}
	metrics.RebuildsTotal.WithLabelValues(trigger, result).Inc()
}

func (m *Manager) runRebuildCycleLocked(ctx context.Context, trigger string) error {
	entry := history.NewEntry()
	entry.Trigger = trigger
	entry.StartedAt = time.Now()

	state, err := m.cfg.StateStore.LoadOrInitialize(slot.A)
	if err != nil {
		return err
	}

	activeSlot, err := m.cfg.Slot.ReadActiveSlot()
	if err != nil {
		return err
	}
	rebuildSlot, err := m.cfg.Slot.RebuildSlotFor(activeSlot)
	if err != nil {
		return err
	}
	rebuildPath, err := m.cfg.Slot.SlotPath(rebuildSlot)
	if err != nil {
		return err
	}

	entry.ActiveSlotBefore = activeSlot
	entry.RebuildSlot = rebuildSlot

	state.FSMState = statestore.ChangeDetected
	state.ActiveSlot = activeSlot
	state.RebuildSlot = rebuildSlot
	state.LastError = nil
	if err := m.saveState(state); err != nil {
		return err
	}

	buildState := statestore.BuildSlotA
	if rebuildSlot == slot.B {
		buildState = statestore.BuildSlotB
	}
	state.FSMState = buildState
	state.RunID++
	state.RebuildCounter = state.RunID
	if err := m.saveState(state); err != nil {
		return err
	}
	entry.RunID = state.RunID
	m.logger.Info().
		Int64("run_id", state.RunID).
		Str("active_slot", string(activeSlot)).
		Str("rebuild_slot", string(rebuildSlot)).
		Msg("shadow rebuild start")

	if err := m.cfg.Rebuild.FullRebuild(ctx, rebuildPath); err != nil {
		return m.finishEntry(entry, err)
	}

	state.FSMState = statestore.ExportStop
	if err := m.saveState(state); err != nil {
		return m.finishEntry(entry, err)
	}
	stopTimer := metrics.NewTimer()
	stopped := m.cfg.USB.StopExport(ctx)
	stopTimer.ObserveDurationVec(metrics.USBExportToggleDuration, "stop")
	if !stopped {
		return m.finishEntry(entry, usbFailure(errUSBStopFailed, m.cfg.USB.LastError()))
	}

	state.FSMState = statestore.ExportStart
	if err := m.saveState(state); err != nil {
		return m.finishEntry(entry, err)
	}
	startTimer := metrics.NewTimer()
	started := m.cfg.USB.StartExport(ctx, rebuildPath)
	startTimer.ObserveDurationVec(metrics.USBExportToggleDuration, "start")
	if !started {
		return m.finishEntry(entry, usbFailure(errUSBStartFailed, m.cfg.USB.LastError()))
	}

	if err := m.cfg.Slot.WriteActiveSlot(rebuildSlot); err != nil {
		return m.finishEntry(entry, err)
	}
	state.ActiveSlot = rebuildSlot
	state.RebuildSlot = ""
	state.FSMState = statestore.Ready
	if err := m.saveState(state); err != nil {
		return m.finishEntry(entry, err)
	}

	entry.ActiveSlotAfter = rebuildSlot
	entry.Result = "ok"
	m.finishEntry(entry, nil)
	m.logger.Info().
		Int64("run_id", state.RunID).
		Str("active_slot", string(rebuildSlot)).
		Msg("shadow rebuild finished")
	return nil
}

// finishEntry stamps entry's timing/result and appends it to history; it
// returns err unchanged so callers can `return m.finishEntry(entry, err)`.
func (m *Manager) finishEntry(entry history.Entry, err error) error {
	entry.FinishedAt = time.Now()
	entry.DurationMS = entry.FinishedAt.Sub(entry.StartedAt).Milliseconds()
	if err != nil {
		entry.Result = "error"
		entry.ErrorCode = classifyError(err)
		entry.ErrorMessage = err.Error()
	} else if entry.Result == "" {
		entry.Result = "ok"
	}
	if appendErr := m.cfg.History.Append(entry); appendErr != nil {
		m.logger.Error().Err(appendErr).Msg("shadow history append failed")
	}
	return err
}

func (m *Manager) recordLockConflict(trigger string) {
	entry := history.NewEntry()
	entry.Trigger = trigger
	entry.Result = "lock_conflict"
	entry.StartedAt = time.Now()
	entry.FinishedAt = entry.StartedAt
	if err := m.cfg.History.Append(entry); err != nil {
		m.logger.Error().Err(err).Msg("shadow history append failed")
	}
}

// normalizeState matches shadow_manager.py's _normalize_state: if the
// persisted active slot already agrees with the marker file and the FSM
// is at rest (IDLE/READY), the state is left untouched; otherwise it is
// reset to IDLE with no rebuild in flight.
func (m *Manager) normalizeState(state statestore.State, activeSlot slot.Slot) (statestore.State, error) {
	atRest := state.FSMState == statestore.Idle || state.FSMState == statestore.Ready
	if state.ActiveSlot == activeSlot && atRest {
		return state, nil
	}
	state.ActiveSlot = activeSlot
	state.RebuildSlot = ""
	state.FSMState = statestore.Idle
	if err := m.saveState(state); err != nil {
		return state, err
	}
	return state, nil
}

// setError records an ERROR state with the given classified code,
// matching _set_error.
func (m *Manager) setError(code, message string) {
	state, err := m.cfg.StateStore.LoadOrInitialize(slot.A)
	if err != nil {
		m.logger.Error().Err(err).Msg("shadow set_error load state failed")
		return
	}
	state.FSMState = statestore.Error
	state.RebuildSlot = ""
	state.LastError = &statestore.ErrorInfo{Code: code, Message: message}
	if err := m.saveState(state); err != nil {
		m.logger.Error().Err(err).Msg("shadow set_error save state failed")
	}
}

// saveState persists state and, if an LED sink is configured, writes the
// current mode name so the LED daemon stays in sync with every
// transition.
func (m *Manager) saveState(state statestore.State) error {
	if err := m.cfg.StateStore.Save(state); err != nil {
		return err
	}
	if m.cfg.LED != nil {
		mode := m.modeNameFor(state.FSMState)
		if err := m.cfg.LED.WriteMode(mode); err != nil {
			m.logger.Error().Err(err).Msg("shadow led sink write failed")
		}
	}
	return nil
}

func (m *Manager) modeNameFor(state statestore.FSMState) string {
	if m.cfg.ModeNames != nil {
		if name, ok := m.cfg.ModeNames[state]; ok {
			return name
		}
	}
	return string(state)
}
