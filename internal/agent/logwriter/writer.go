// Package logwriter routes subagent log lines into the agent's slog logger.
package logwriter

import (
	"log/slog"
	"sync/atomic"

	"github.com/felixgeelhaar/beacon/internal/subagent/sdk"
)

// MaxDebugLevel is the highest debug verbosity the agent understands.
const MaxDebugLevel = 9

// Writer implements the log-writer capability.
type Writer struct {
	logger     *slog.Logger
	debugLevel atomic.Int32
}

// New creates a writer that logs through logger with the given debug
// verbosity.
func New(logger *slog.Logger, debugLevel int) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{logger: logger.With("subagent", true)}
	w.SetDebugLevel(debugLevel)
	return w
}

// SetDebugLevel changes the debug verbosity, clamped to 0..MaxDebugLevel.
func (w *Writer) SetDebugLevel(level int) {
	w.debugLevel.Store(int32(min(max(level, 0), MaxDebugLevel)))
}

// DebugLevel returns the current debug verbosity.
func (w *Writer) DebugLevel() int {
	return int(w.debugLevel.Load())
}

// Write logs text at the slog level matching level. Debug lines are kept
// only when subLevel does not exceed the configured verbosity.
func (w *Writer) Write(level sdk.LogLevel, subLevel int, text string) {
	switch level {
	case sdk.LogError:
		w.logger.Error(text)
	case sdk.LogWarning:
		w.logger.Warn(text)
	case sdk.LogInfo:
		w.logger.Info(text)
	case sdk.LogDebug:
		if subLevel > w.DebugLevel() {
			return
		}
		w.logger.Debug(text, "debug_level", subLevel)
	default:
		w.logger.Info(text, "raw_level", int(level))
	}
}
