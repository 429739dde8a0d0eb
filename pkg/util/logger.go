package util

import (
	"github.com/pterm/pterm"
)

// NewLogger returns the structured logger used for diagnostics. Debug output is
// only emitted when debug is true.
func NewLogger(debug bool) *pterm.Logger {
	level := pterm.LogLevelWarn
	if debug {
		level = pterm.LogLevelDebug
	}
	return pterm.DefaultLogger.WithLevel(level)
}

// LeveledLogger adapts a pterm logger to the key/value logger interface
// expected by go-retryablehttp.
type LeveledLogger struct {
	Logger *pterm.Logger
}

func (l LeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.Logger.Error(msg, l.Logger.Args(keysAndValues...))
}

func (l LeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.Logger.Info(msg, l.Logger.Args(keysAndValues...))
}

func (l LeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.Logger.Debug(msg, l.Logger.Args(keysAndValues...))
}

func (l LeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.Logger.Warn(msg, l.Logger.Args(keysAndValues...))
}
