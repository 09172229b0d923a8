// Package xlog is a thin wrapper around the standard logger that also
// turns every line into a Log event on the bridge, and reports errors and
// recovered panics to Sentry when a DSN is configured.
//
// The teacher logs with plain log.Printf/fmt.Printf lines prefixed with a
// symbol (✓/⚠️); this keeps that texture while adding the bridge/Sentry
// fan-out the expanded spec's ambient stack calls for.
package xlog

import (
	"fmt"
	"log"
	"os"

	"github.com/getsentry/sentry-go"

	"github.com/JustAMamont/evm-terminal/internal/bridge"
)

// Logger fans log lines out to stdout and, if set, the bridge.
type Logger struct {
	std    *log.Logger
	bridge *bridge.Bridge
}

func New(br *bridge.Bridge) *Logger {
	return &Logger{std: log.New(os.Stdout, "", log.LstdFlags), bridge: br}
}

// InitSentry wires panic/error reporting when dsn is non-empty.
func InitSentry(dsn string) error {
	if dsn == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{Dsn: dsn})
}

func (l *Logger) emit(level, msg string) {
	l.std.Printf("[%s] %s", level, msg)
	if l.bridge != nil {
		l.bridge.Emit(bridge.Event{Type: bridge.EvtLog, Data: bridge.LogData{Level: level, Message: msg}})
	}
}

func (l *Logger) Info(format string, args ...interface{})  { l.emit("INFO", fmt.Sprintf(format, args...)) }
func (l *Logger) Warn(format string, args ...interface{})  { l.emit("WARNING", fmt.Sprintf(format, args...)) }
func (l *Logger) Debug(format string, args ...interface{}) { l.emit("DEBUG", fmt.Sprintf(format, args...)) }

func (l *Logger) Error(err error, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.emit("ERROR", fmt.Sprintf("%s: %v", msg, err))
	sentry.CaptureException(fmt.Errorf("%s: %w", msg, err))
}

// RecoverTask recovers a panic inside a spawned task, reports it to
// Sentry, and logs it — no error path may crash the engine (spec §7).
func (l *Logger) RecoverTask(taskName string) {
	if r := recover(); r != nil {
		l.emit("ERROR", fmt.Sprintf("task %s panicked: %v", taskName, r))
		sentry.CurrentHub().Recover(r)
	}
}
