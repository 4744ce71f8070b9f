package planner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"reasonmesh/internal/clock"
	"reasonmesh/internal/logging"
	"reasonmesh/internal/telemetry"
)

// ErrMonitorRunning is returned by Start on a monitor that is already started.
var ErrMonitorRunning = errors.New("monitor already running")

// Job is one monitor pass.
type Job func(ctx context.Context) error

// Monitor runs a job on a fixed interval. Passes never overlap: a tick that
// arrives while the previous pass is still running is skipped and counted.
type Monitor struct {
	name     string
	interval time.Duration
	clock    clock.Clock
	job      Job

	running atomic.Bool
	runs    atomic.Int64
	skipped atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	onPass func(error)
}

// NewMonitor creates a stopped monitor.
func NewMonitor(name string, interval time.Duration, c clock.Clock, job Job) *Monitor {
	if c == nil {
		c = clock.Real()
	}
	return &Monitor{name: name, interval: interval, clock: c, job: job}
}

// NewMonitor returns a monitor that runs MonitorAndOptimize every interval.
func (p *Planner) NewMonitor(interval time.Duration) *Monitor {
	return NewMonitor("planner", interval, p.clock, p.MonitorAndOptimize)
}

// OnPass registers a callback invoked after every completed pass.
func (m *Monitor) OnPass(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPass = fn
}

// Start launches the tick loop. It returns immediately.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return ErrMonitorRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	ticker := m.clock.NewTicker(m.interval)
	m.wg.Add(1)
	go m.loop(ctx, ticker)
	logging.Scheduler("%s monitor started (every %v)", m.name, m.interval)
	return nil
}

// Stop cancels the loop and waits for any in-flight pass to return.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	logging.Scheduler("%s monitor stopped after %d passes (%d ticks skipped)", m.name, m.runs.Load(), m.skipped.Load())
}

// Runs is the number of completed passes.
func (m *Monitor) Runs() int64 { return m.runs.Load() }

// Skipped is the number of ticks dropped because a pass was running.
func (m *Monitor) Skipped() int64 { return m.skipped.Load() }

func (m *Monitor) loop(ctx context.Context, ticker clock.Ticker) {
	defer m.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if !m.running.CompareAndSwap(false, true) {
				m.skipped.Add(1)
				telemetry.RecordMonitorSkip(ctx)
				logging.SchedulerWarn("%s monitor tick skipped: previous pass still running", m.name)
				continue
			}
			m.wg.Add(1)
			go m.pass(ctx)
		}
	}
}

func (m *Monitor) pass(ctx context.Context) {
	defer m.wg.Done()

	err := m.job(ctx)
	if err != nil && ctx.Err() == nil {
		logging.SchedulerWarn("%s monitor pass failed: %v", m.name, err)
	}
	m.runs.Add(1)
	m.running.Store(false)

	m.mu.Lock()
	fn := m.onPass
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
