package sshchain

import (
	log "github.com/sirupsen/logrus"
)

// Logger is the sink for chain lifecycle messages. The chain calls it for
// connection progress, disconnection warnings, and reconnection errors; it
// never buffers or formats beyond plain messages.
type Logger interface {
	Info(msg string)
	Success(msg string)
	Warning(msg string)
	Error(msg string)
	Task(msg string)
}

// logrusLogger adapts a logrus logger to the Logger interface. Task messages
// map to debug level since they narrate individual connection steps.
type logrusLogger struct {
	log *log.Logger
}

// NewLogrusLogger returns a Logger backed by the given logrus logger.
func NewLogrusLogger(l *log.Logger) Logger {
	return &logrusLogger{log: l}
}

func (l *logrusLogger) Info(msg string)    { l.log.Info(msg) }
func (l *logrusLogger) Success(msg string) { l.log.Info(msg) }
func (l *logrusLogger) Warning(msg string) { l.log.Warn(msg) }
func (l *logrusLogger) Error(msg string)   { l.log.Error(msg) }
func (l *logrusLogger) Task(msg string)    { l.log.Debug(msg) }

// nopLogger discards everything.
type nopLogger struct{}

// NopLogger returns a Logger that discards all messages.
func NopLogger() Logger { return nopLogger{} }

func (nopLogger) Info(string)    {}
func (nopLogger) Success(string) {}
func (nopLogger) Warning(string) {}
func (nopLogger) Error(string)   {}
func (nopLogger) Task(string)    {}
