package pipeline

import "github.com/eternallovelin/dvs-tracking/internal/monitoring"

// opsf logs to the ops stream (actionable warnings, errors, data loss).
func opsf(format string, args ...interface{}) {
	monitoring.Opsf("[pipeline] "+format, args...)
}

// diagf logs to the diag stream (lifecycle and tuning context).
func diagf(format string, args ...interface{}) {
	monitoring.Diagf("[pipeline] "+format, args...)
}

// tracef logs to the trace stream (per-epoch telemetry).
func tracef(format string, args ...interface{}) {
	monitoring.Tracef("[pipeline] "+format, args...)
}

// traceEnabled guards trace calls whose arguments are costly to format.
func traceEnabled() bool {
	return monitoring.TraceEnabled()
}
