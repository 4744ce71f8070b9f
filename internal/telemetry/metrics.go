package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"reasonmesh/internal/logging"
)

// Metrics holds the mesh instruments.
type Metrics struct {
	consensusRounds  metric.Int64Counter
	commands         metric.Int64Counter
	commandDuration  metric.Float64Histogram
	plans            metric.Int64Counter
	monitorSkipped   metric.Int64Counter
	memoryEntries    metric.Int64ObservableGauge
	memoryMu         sync.Mutex
	memoryCountFuncs []func() int64
}

var current atomic.Pointer[Metrics]

// New creates instruments on mp.
func New(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.consensusRounds, err = meter.Int64Counter("mesh_consensus_rounds_total",
		metric.WithDescription("Consensus rounds completed, by result"))
	if err != nil {
		return nil, err
	}
	m.commands, err = meter.Int64Counter("mesh_commands_total",
		metric.WithDescription("Commands processed, by terminal status"))
	if err != nil {
		return nil, err
	}
	m.commandDuration, err = meter.Float64Histogram("mesh_command_duration_seconds",
		metric.WithDescription("Command processing duration in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	m.plans, err = meter.Int64Counter("mesh_plans_total",
		metric.WithDescription("Planning attempts, by kind and outcome status"))
	if err != nil {
		return nil, err
	}
	m.monitorSkipped, err = meter.Int64Counter("mesh_monitor_ticks_skipped_total",
		metric.WithDescription("Monitor ticks skipped because the previous tick was still running"))
	if err != nil {
		return nil, err
	}
	m.memoryEntries, err = meter.Int64ObservableGauge("mesh_memory_entries",
		metric.WithDescription("Entries cached in the memory index"))
	if err != nil {
		return nil, err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		m.memoryMu.Lock()
		funcs := append([]func() int64(nil), m.memoryCountFuncs...)
		m.memoryMu.Unlock()
		var total int64
		for _, f := range funcs {
			total += f()
		}
		o.ObserveInt64(m.memoryEntries, total)
		return nil
	}, m.memoryEntries)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Install makes m the target of the package-level Record functions.
// Passing nil disables recording.
func Install(m *Metrics) {
	current.Store(m)
	if m != nil {
		logging.Telemetry("metrics instruments installed")
	}
}

// ObserveMemoryEntries registers a source for the memory entries gauge.
func ObserveMemoryEntries(count func() int64) {
	m := current.Load()
	if m == nil || count == nil {
		return
	}
	m.memoryMu.Lock()
	m.memoryCountFuncs = append(m.memoryCountFuncs, count)
	m.memoryMu.Unlock()
}

// RecordConsensusRound counts one resolved round.
func RecordConsensusRound(ctx context.Context, result string) {
	m := current.Load()
	if m == nil {
		return
	}
	m.consensusRounds.Add(ctx, 1, metric.WithAttributes(AttrResult.String(result)))
}

// RecordCommand counts a processed command and its duration.
func RecordCommand(ctx context.Context, status string, duration time.Duration) {
	m := current.Load()
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(AttrStatus.String(status))
	m.commands.Add(ctx, 1, attrs)
	m.commandDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordPlan counts a plan or replan by its resulting goal status.
func RecordPlan(ctx context.Context, kind, status string) {
	m := current.Load()
	if m == nil {
		return
	}
	m.plans.Add(ctx, 1, metric.WithAttributes(AttrKind.String(kind), AttrStatus.String(status)))
}

// RecordMonitorSkip counts a skipped monitor tick.
func RecordMonitorSkip(ctx context.Context) {
	m := current.Load()
	if m == nil {
		return
	}
	m.monitorSkipped.Add(ctx, 1)
}
