package metrics

import (
	"context"
	"time"

	"github.com/cncworks/shadow/pkg/selftest"
	"github.com/cncworks/shadow/pkg/statestore"
	"github.com/cncworks/shadow/pkg/sysexec"
)

var knownFSMStates = []string{
	string(statestore.Idle),
	string(statestore.ChangeDetected),
	string(statestore.BuildSlotA),
	string(statestore.BuildSlotB),
	string(statestore.ExportStop),
	string(statestore.ExportStart),
	string(statestore.Ready),
	string(statestore.Error),
}

// Collector periodically samples on-disk FSM state and, less frequently,
// re-runs the self-test, publishing both as gauges.
type Collector struct {
	store         *statestore.Store
	runner        sysexec.Runner
	selfTestEvery int
	interval      time.Duration
	selfTestOpts  selftest.Options
	stopCh        chan struct{}
}

// NewCollector creates a new metrics collector. selfTestEvery is the
// number of FSM-state ticks between self-test runs (0 disables it).
func NewCollector(store *statestore.Store, runner sysexec.Runner, selfTestOpts selftest.Options, selfTestEvery int) *Collector {
	return &Collector{
		store:         store,
		runner:        runner,
		selfTestEvery: selfTestEvery,
		interval:      15 * time.Second,
		selfTestOpts:  selfTestOpts,
		stopCh:        make(chan struct{}),
	}
}

// Start begins periodic collection in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		tick := 0
		c.collectState()

		for {
			select {
			case <-ticker.C:
				tick++
				c.collectState()
				if c.selfTestEvery > 0 && tick%c.selfTestEvery == 0 {
					c.collectSelfTest()
				}
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collectState() {
	state, err := c.store.Load()
	if err != nil {
		return
	}
	SetFSMState(knownFSMStates, string(state.FSMState))
	SetActiveSlot(string(state.ActiveSlot))
	RunIDTotal.Set(float64(state.RunID))
}

func (c *Collector) collectSelfTest() {
	result := selftest.RunSelfTest(context.Background(), c.runner, c.selfTestOpts)
	SelfTestCritical.Set(float64(result.Critical))
	SelfTestWarnings.Set(float64(result.Warnings))
}
