// Package logging provides config-driven categorized logging for the mesh.
// Each category gets its own named zap logger. Logging is a silent no-op
// until Initialize is called with DebugMode or a non-empty Level.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup, wiring
	CategoryPlanner    Category = "planner"    // Goal planning and replanning
	CategoryDecomposer Category = "decomposer" // Goal decomposition
	CategoryConsensus  Category = "consensus"  // Plan evaluation and voting
	CategoryMemory     Category = "memory"     // Cross-agent memory index
	CategoryRouter     Category = "router"     // Command routing, workflows
	CategoryStore      Category = "store"      // Persistence backends
	CategoryScheduler  Category = "scheduler"  // Periodic monitor
	CategoryBudget     Category = "budget"     // Budget gate and cost tracking
	CategoryTelemetry  Category = "telemetry"  // Metrics
)

// Config controls the logging backend. It mirrors config.LoggingConfig to
// avoid an import cycle.
type Config struct {
	DebugMode  bool
	Level      string
	JSONFormat bool
	Categories map[string]bool
	File       string
}

// Logger is a category-scoped logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex

	base     *zap.Logger
	config   Config
	configMu sync.RWMutex
)

// Initialize builds the zap backend from cfg. Calling it again replaces the
// backend and drops cached category loggers.
func Initialize(cfg Config) error {
	if !cfg.DebugMode && cfg.Level == "" {
		setBase(nil, cfg)
		return nil
	}

	level := parseLevel(cfg.Level)
	if cfg.DebugMode && cfg.Level == "" {
		level = zapcore.DebugLevel
	}

	var zc zap.Config
	if cfg.JSONFormat {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableStacktrace = true
	if cfg.File != "" {
		zc.OutputPaths = []string{cfg.File}
		zc.ErrorOutputPaths = []string{cfg.File}
	} else {
		zc.OutputPaths = []string{"stderr"}
	}

	logger, err := zc.Build()
	if err != nil {
		return fmt.Errorf("failed to build zap logger: %w", err)
	}
	setBase(logger, cfg)

	boot := Get(CategoryBoot)
	boot.Info("logging initialized (level=%s json=%v)", level, cfg.JSONFormat)
	if len(cfg.Categories) > 0 {
		enabled := 0
		for _, on := range cfg.Categories {
			if on {
				enabled++
			}
		}
		boot.Debug("enabled categories: %d/%d", enabled, len(cfg.Categories))
	}
	return nil
}

// InitializeWith installs an existing zap logger as the backend, enabling
// every category. The CLI uses it to share the root logger.
func InitializeWith(logger *zap.Logger) {
	setBase(logger, Config{DebugMode: true})
}

func setBase(logger *zap.Logger, cfg Config) {
	configMu.Lock()
	old := base
	base = logger
	config = cfg
	configMu.Unlock()

	loggersMu.Lock()
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()

	if old != nil {
		_ = old.Sync()
	}
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// IsEnabled reports whether any backend is installed.
func IsEnabled() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return base != nil
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if base == nil {
		return false
	}
	if config.Categories == nil {
		return true
	}
	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if logging or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	configMu.RLock()
	b := base
	configMu.RUnlock()
	if b == nil {
		return &Logger{category: category}
	}

	l := &Logger{category: category, sugar: b.Named(string(category)).Sugar()}
	loggers[category] = l
	return l
}

// Sync flushes buffered entries. Call at shutdown.
func Sync() {
	configMu.RLock()
	b := base
	configMu.RUnlock()
	if b != nil {
		_ = b.Sync()
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// StructuredLog writes a message with key-value fields at the given level.
func (l *Logger) StructuredLog(level string, msg string, fields map[string]interface{}) {
	if l.sugar == nil {
		return
	}
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	switch strings.ToLower(level) {
	case "debug":
		l.sugar.Debugw(msg, kv...)
	case "warn", "warning":
		l.sugar.Warnw(msg, kv...)
	case "error":
		l.sugar.Errorw(msg, kv...)
	default:
		l.sugar.Infow(msg, kv...)
	}
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// =============================================================================

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }
func BootWarn(format string, args ...interface{})  { Get(CategoryBoot).Warn(format, args...) }
func BootError(format string, args ...interface{}) { Get(CategoryBoot).Error(format, args...) }

// Planner logs to the planner category
func Planner(format string, args ...interface{}) { Get(CategoryPlanner).Info(format, args...) }

// PlannerDebug logs debug to the planner category
func PlannerDebug(format string, args ...interface{}) { Get(CategoryPlanner).Debug(format, args...) }

// PlannerWarn logs warning to the planner category
func PlannerWarn(format string, args ...interface{}) { Get(CategoryPlanner).Warn(format, args...) }

// PlannerError logs error to the planner category
func PlannerError(format string, args ...interface{}) { Get(CategoryPlanner).Error(format, args...) }

func Decomposer(format string, args ...interface{}) { Get(CategoryDecomposer).Info(format, args...) }
func DecomposerDebug(format string, args ...interface{}) {
	Get(CategoryDecomposer).Debug(format, args...)
}

// Consensus logs to the consensus category
func Consensus(format string, args ...interface{}) { Get(CategoryConsensus).Info(format, args...) }

// ConsensusDebug logs debug to the consensus category
func ConsensusDebug(format string, args ...interface{}) {
	Get(CategoryConsensus).Debug(format, args...)
}

// ConsensusWarn logs warning to the consensus category
func ConsensusWarn(format string, args ...interface{}) { Get(CategoryConsensus).Warn(format, args...) }

// ConsensusError logs error to the consensus category
func ConsensusError(format string, args ...interface{}) {
	Get(CategoryConsensus).Error(format, args...)
}

func Memory(format string, args ...interface{})      { Get(CategoryMemory).Info(format, args...) }
func MemoryDebug(format string, args ...interface{}) { Get(CategoryMemory).Debug(format, args...) }
func MemoryWarn(format string, args ...interface{})  { Get(CategoryMemory).Warn(format, args...) }
func MemoryError(format string, args ...interface{}) { Get(CategoryMemory).Error(format, args...) }

// Router logs to the router category
func Router(format string, args ...interface{}) { Get(CategoryRouter).Info(format, args...) }

// RouterDebug logs debug to the router category
func RouterDebug(format string, args ...interface{}) { Get(CategoryRouter).Debug(format, args...) }

// RouterWarn logs warning to the router category
func RouterWarn(format string, args ...interface{}) { Get(CategoryRouter).Warn(format, args...) }

// RouterError logs error to the router category
func RouterError(format string, args ...interface{}) { Get(CategoryRouter).Error(format, args...) }

func Store(format string, args ...interface{})      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }
func StoreWarn(format string, args ...interface{})  { Get(CategoryStore).Warn(format, args...) }
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

func Scheduler(format string, args ...interface{}) { Get(CategoryScheduler).Info(format, args...) }
func SchedulerDebug(format string, args ...interface{}) {
	Get(CategoryScheduler).Debug(format, args...)
}
func SchedulerWarn(format string, args ...interface{}) { Get(CategoryScheduler).Warn(format, args...) }

func Budget(format string, args ...interface{})      { Get(CategoryBudget).Info(format, args...) }
func BudgetDebug(format string, args ...interface{}) { Get(CategoryBudget).Debug(format, args...) }
func BudgetWarn(format string, args ...interface{})  { Get(CategoryBudget).Warn(format, args...) }

func Telemetry(format string, args ...interface{})     { Get(CategoryTelemetry).Info(format, args...) }
func TelemetryWarn(format string, args ...interface{}) { Get(CategoryTelemetry).Warn(format, args...) }

// =============================================================================
// REQUEST ID TRACING
// =============================================================================

// RequestLogger provides request-scoped logging with a correlation ID
type RequestLogger struct {
	logger    *Logger
	requestID string
	fields    map[string]interface{}
}

// WithRequestID creates a request-scoped logger
func WithRequestID(category Category, requestID string) *RequestLogger {
	return &RequestLogger{
		logger:    Get(category),
		requestID: requestID,
		fields:    make(map[string]interface{}),
	}
}

// WithField adds a field to the request logger
func (r *RequestLogger) WithField(key string, value interface{}) *RequestLogger {
	r.fields[key] = value
	return r
}

func (r *RequestLogger) sugar() *zap.SugaredLogger {
	if r.logger.sugar == nil {
		return nil
	}
	kv := make([]interface{}, 0, 2+len(r.fields)*2)
	kv = append(kv, "req", r.requestID)
	for k, v := range r.fields {
		kv = append(kv, k, v)
	}
	return r.logger.sugar.With(kv...)
}

func (r *RequestLogger) Debug(format string, args ...interface{}) {
	if s := r.sugar(); s != nil {
		s.Debugf(format, args...)
	}
}

func (r *RequestLogger) Info(format string, args ...interface{}) {
	if s := r.sugar(); s != nil {
		s.Infof(format, args...)
	}
}

func (r *RequestLogger) Warn(format string, args ...interface{}) {
	if s := r.sugar(); s != nil {
		s.Warnf(format, args...)
	}
}

func (r *RequestLogger) Error(format string, args ...interface{}) {
	if s := r.sugar(); s != nil {
		s.Errorf(format, args...)
	}
}

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
