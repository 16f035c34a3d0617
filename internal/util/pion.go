package util

import (
	"fmt"

	"github.com/pion/logging"
)

// PionLoggerFactory routes pion's internal scoped loggers into the pterm
// logger. Trace output is folded into debug; pion is chatty, so scopes only
// reach the terminal when debug logging is enabled, except warnings and errors.
type PionLoggerFactory struct{}

var _ logging.LoggerFactory = PionLoggerFactory{}

// NewLogger implements logging.LoggerFactory.
func (PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{scope: scope}
}

type pionLogger struct {
	scope string
}

func (l pionLogger) prefix(msg string) string {
	return fmt.Sprintf("[pion/%s] %s", l.scope, msg)
}

func (l pionLogger) Trace(msg string) { l.Debug(msg) }
func (l pionLogger) Tracef(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}

func (l pionLogger) Debug(msg string) {
	if DebugEnabled() {
		LogDebug("%s", l.prefix(msg))
	}
}

func (l pionLogger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}

func (l pionLogger) Info(msg string) {
	if DebugEnabled() {
		LogInfo("%s", l.prefix(msg))
	}
}

func (l pionLogger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

func (l pionLogger) Warn(msg string) { LogWarning("%s", l.prefix(msg)) }
func (l pionLogger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

func (l pionLogger) Error(msg string) { LogError("%s", l.prefix(msg)) }
func (l pionLogger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}
