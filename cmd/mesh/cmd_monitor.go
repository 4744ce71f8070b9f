package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"reasonmesh/internal/config"
	"reasonmesh/internal/logging"
	"reasonmesh/internal/memory"
	"reasonmesh/internal/planner"
	"reasonmesh/internal/telemetry"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the replanning and memory cleanup schedulers until interrupted",
	Long: `Runs two schedulers until SIGINT or SIGTERM:
  - the planner monitor, which replans executing goals whose recent
    execution attempts keep failing
  - memory cleanup, which evicts decayed and expired memories

The config file is watched; logging settings and scheduler intervals are
applied on change without a restart.`,
	RunE: runMonitor,
}

var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Serve Prometheus metrics until interrupted",
	RunE:  runServeMetrics,
}

func init() {
	monitorCmd.Flags().Bool("metrics", false, "Also serve Prometheus metrics (default: telemetry.enabled)")
	serveMetricsCmd.Flags().String("listen", "", "Listen address (default: telemetry.listen_addr)")
}

// schedulers owns the two monitors so they can be rebuilt on config reload.
type schedulers struct {
	a *app

	mu       sync.Mutex
	ctx      context.Context
	planning *planner.Monitor
	cleanup  *planner.Monitor
	planIvl  time.Duration
	cleanIvl time.Duration
}

func (s *schedulers) start(ctx context.Context, c *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	return s.startLocked(c.GetMonitorInterval(), c.GetCleanupInterval())
}

func (s *schedulers) startLocked(planIvl, cleanIvl time.Duration) error {
	s.planIvl, s.cleanIvl = planIvl, cleanIvl

	s.planning = s.a.planner.NewMonitor(planIvl)
	s.planning.OnPass(func(err error) {
		if err != nil {
			logging.SchedulerWarn("planner pass failed: %v", err)
		}
	})

	ix := s.a.memory
	s.cleanup = planner.NewMonitor("memory-cleanup", cleanIvl, nil, func(ctx context.Context) error {
		_, err := ix.Cleanup(ctx)
		return err
	})
	s.cleanup.OnPass(func(err error) {
		if err != nil {
			logging.SchedulerWarn("memory cleanup pass failed: %v", err)
		}
	})

	if err := s.planning.Start(s.ctx); err != nil {
		return err
	}
	return s.cleanup.Start(s.ctx)
}

// reload restarts the monitors when an interval changed.
func (s *schedulers) reload(c *config.Config) {
	planIvl, cleanIvl := c.GetMonitorInterval(), c.GetCleanupInterval()
	s.mu.Lock()
	defer s.mu.Unlock()
	if planIvl == s.planIvl && cleanIvl == s.cleanIvl {
		return
	}
	s.stopLocked()
	if err := s.startLocked(planIvl, cleanIvl); err != nil {
		logging.SchedulerWarn("failed to restart schedulers: %v", err)
		return
	}
	logging.Scheduler("schedulers restarted: planner every %v, cleanup every %v", planIvl, cleanIvl)
}

func (s *schedulers) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *schedulers) stopLocked() {
	if s.planning != nil {
		s.planning.Stop()
	}
	if s.cleanup != nil {
		s.cleanup.Stop()
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	signals, unsubscribe := a.bus.Subscribe(16)
	defer unsubscribe()

	s := &schedulers{a: a}
	if err := s.start(ctx, cfg); err != nil {
		return err
	}
	defer s.stop()

	g, gctx := errgroup.WithContext(ctx)

	withMetrics, _ := cmd.Flags().GetBool("metrics")
	if withMetrics || cfg.Telemetry.Enabled {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Telemetry.ServiceName, cfg.Telemetry.ListenAddr, a.memory)
		})
	}

	g.Go(func() error {
		return config.Watch(gctx, viper.GetString("config"), func(next *config.Config) {
			logCfg := next.Logging.ToLogging()
			if viper.GetBool("verbose") {
				logCfg.DebugMode = true
			}
			if err := logging.Initialize(logCfg); err != nil {
				logging.BootWarn("failed to apply logging config: %v", err)
			}
			s.reload(next)
		})
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case sig := <-signals:
				logging.Planner("%s: %s (%s) needs %v", sig.Kind, sig.Title, sig.GoalPlanID, sig.RequiredAgents)
			}
		}
	})

	fmt.Println(okStyle.Render("monitoring") + mutedStyle.Render(" (ctrl+c to stop)"))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runServeMetrics(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	addr, _ := cmd.Flags().GetString("listen")
	if addr == "" {
		addr = cfg.Telemetry.ListenAddr
	}
	return serveMetrics(ctx, cfg.Telemetry.ServiceName, addr, a.memory)
}

// serveMetrics installs the instruments and serves /metrics until ctx ends.
func serveMetrics(ctx context.Context, service, addr string, ix *memory.Index) error {
	handler, provider, err := telemetry.InitMeterProvider(ctx, service)
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	if err := telemetry.Init(); err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}
	telemetry.ObserveMemoryEntries(func() int64 { return int64(ix.Len()) })

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Telemetry("serving metrics on %s/metrics", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
