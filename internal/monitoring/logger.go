// Package monitoring owns the tracker's diagnostic logging streams.
//
// Three streams are kept apart so the hot path can emit per-event telemetry
// without flooding operational output:
//
//   - ops: actionable warnings, errors and lifecycle events
//   - diag: day-to-day diagnostics and tuning context
//   - trace: high-frequency per-event and per-epoch telemetry
//
// Each stream is a zap.SugaredLogger. A nil writer disables its stream.
package monitoring

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogWriters holds the io.Writers for each logging stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

var (
	mu          sync.RWMutex
	opsLogger   *zap.SugaredLogger
	diagLogger  *zap.SugaredLogger
	traceLogger *zap.SugaredLogger
)

// Logf is the package-level general logger. It defaults to the ops stream but
// may be replaced by SetLogger. Tests can redirect or mute it.
var Logf func(format string, v ...interface{}) = Opsf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

func init() {
	SetLogWriters(LogWriters{Ops: os.Stderr})
}

// Init configures the ops and diag streams on stderr using zap's production
// encoder, or the development encoder (with trace enabled) when debug is set.
func Init(debug bool) error {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return fmt.Errorf("can't initialize zap logger: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	opsLogger = base.Named("ops").Sugar()
	diagLogger = base.Named("diag").Sugar()
	traceLogger = nil
	if debug {
		traceLogger = base.Named("trace").Sugar()
	}
	return nil
}

// SetLogWriters configures all three logging streams at once.
// Pass nil for any writer to disable that stream.
func SetLogWriters(w LogWriters) {
	mu.Lock()
	defer mu.Unlock()
	opsLogger = newLogger("ops", w.Ops)
	diagLogger = newLogger("diag", w.Diag)
	traceLogger = newLogger("trace", w.Trace)
}

// newLogger creates a console-encoded logger for a given writer, or returns
// nil if w is nil.
func newLogger(name string, w io.Writer) *zap.SugaredLogger {
	if w == nil {
		return nil
	}
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), zapcore.DebugLevel)
	return zap.New(core).Named(name).Sugar()
}

// Opsf logs to the ops stream.
func Opsf(format string, args ...interface{}) {
	mu.RLock()
	l := opsLogger
	mu.RUnlock()
	if l != nil {
		l.Infof(format, args...)
	}
}

// Diagf logs to the diag stream.
func Diagf(format string, args ...interface{}) {
	mu.RLock()
	l := diagLogger
	mu.RUnlock()
	if l != nil {
		l.Infof(format, args...)
	}
}

// Tracef logs to the trace stream.
func Tracef(format string, args ...interface{}) {
	mu.RLock()
	l := traceLogger
	mu.RUnlock()
	if l != nil {
		l.Debugf(format, args...)
	}
}

// TraceEnabled reports whether the trace stream is active. The estimator's
// per-event and per-epoch trace lines check it before formatting.
func TraceEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return traceLogger != nil
}

// Sync flushes any buffered entries on every stream.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	for _, l := range []*zap.SugaredLogger{opsLogger, diagLogger, traceLogger} {
		if l != nil {
			_ = l.Sync()
		}
	}
}
