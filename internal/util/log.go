package util

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by the pterm logger.
// Output goes to stderr unless redirected with SetLogOutput.

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

// LogSuccess marks a milestone (relay connected, call established).
func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info("✓ " + fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// DebugEnabled reports whether debug messages are shown.
func DebugEnabled() bool {
	return pterm.DefaultLogger.Level <= pterm.LogLevelDebug
}

// SetLogOutput redirects the logger and returns the previous writer.
func SetLogOutput(w io.Writer) io.Writer {
	prev := pterm.DefaultLogger.Writer
	pterm.DefaultLogger.Writer = w
	return prev
}
