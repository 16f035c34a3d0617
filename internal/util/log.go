// Package util holds the process-wide logger and negotiation counters.
package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Every peer log line names its connection first ("[conn 1a2b3c4d] ..."),
// so the helpers take printf arguments rather than structured fields.

// LogDebug is for per-step negotiation detail; hidden unless EnableDebug.
func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

// LogSuccess marks milestones such as an established connection. It shares
// the info level so milestones survive a quieter log level.
func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...), pterm.DefaultLogger.Args("ok", true))
}

// LogWarning is for dropped or ignored calls and recoverable engine trouble.
func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug shows LogDebug output and pion's debug logs.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

func DebugEnabled() bool {
	switch pterm.DefaultLogger.Level {
	case pterm.LogLevelTrace, pterm.LogLevelDebug:
		return true
	}
	return false
}
