package util

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/pterm/pterm"
)

// Compile-time interface checks.
var (
	_ logging.LoggerFactory = (*PionLoggerFactory)(nil)
	_ logging.LeveledLogger = (*pionLogger)(nil)
)

// PionLoggerFactory routes the internal logs of pion's subsystems (ice, dtls,
// pc, ...) through the pterm logger. Messages below Level are discarded;
// pion is chatty, so the default only lets warnings through.
type PionLoggerFactory struct {
	Level pterm.LogLevel
}

// NewPionLoggerFactory returns a factory that forwards warnings and errors,
// or everything down to debug when verbose is set.
func NewPionLoggerFactory(verbose bool) *PionLoggerFactory {
	if verbose {
		return &PionLoggerFactory{Level: pterm.LogLevelDebug}
	}
	return &PionLoggerFactory{Level: pterm.LogLevelWarn}
}

// NewLogger implements logging.LoggerFactory.
func (f *PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{scope: scope, level: f.Level}
}

type pionLogger struct {
	scope string
	level pterm.LogLevel
}

func (l *pionLogger) log(level pterm.LogLevel, msg string) {
	if level < l.level {
		return
	}
	line := fmt.Sprintf("[pion/%s] %s", l.scope, msg)
	switch level {
	case pterm.LogLevelTrace, pterm.LogLevelDebug:
		pterm.DefaultLogger.Debug(line)
	case pterm.LogLevelInfo:
		pterm.DefaultLogger.Info(line)
	case pterm.LogLevelWarn:
		pterm.DefaultLogger.Warn(line)
	default:
		pterm.DefaultLogger.Error(line)
	}
}

func (l *pionLogger) Trace(msg string) { l.log(pterm.LogLevelTrace, msg) }
func (l *pionLogger) Tracef(format string, args ...interface{}) {
	l.log(pterm.LogLevelTrace, fmt.Sprintf(format, args...))
}

func (l *pionLogger) Debug(msg string) { l.log(pterm.LogLevelDebug, msg) }
func (l *pionLogger) Debugf(format string, args ...interface{}) {
	l.log(pterm.LogLevelDebug, fmt.Sprintf(format, args...))
}

func (l *pionLogger) Info(msg string) { l.log(pterm.LogLevelInfo, msg) }
func (l *pionLogger) Infof(format string, args ...interface{}) {
	l.log(pterm.LogLevelInfo, fmt.Sprintf(format, args...))
}

func (l *pionLogger) Warn(msg string) { l.log(pterm.LogLevelWarn, msg) }
func (l *pionLogger) Warnf(format string, args ...interface{}) {
	l.log(pterm.LogLevelWarn, fmt.Sprintf(format, args...))
}

func (l *pionLogger) Error(msg string) { l.log(pterm.LogLevelError, msg) }
func (l *pionLogger) Errorf(format string, args ...interface{}) {
	l.log(pterm.LogLevelError, fmt.Sprintf(format, args...))
}
