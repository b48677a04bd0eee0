// Package logger provides the small leveled-logging interface shared by
// the device client and every transport implementation. It is deliberately
// minimal: configuring where logs end up is outside this module's scope
// (spec §1 "the top-level CLI / examples / logging setup"), but the core
// still needs somewhere to put its own diagnostic traces.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Logger is the common logging interface accepted by the client and every
// transport implementation.
type Logger interface {
	Errorf(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Debugf(format string, v ...interface{})
}

var _ Logger = (*LevelLogger)(nil)

// Level is logging severity.
type Level uint8

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func (lvl Level) String() string {
	switch lvl {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return ""
	}
}

// PrintFunc writes a log line, working like fmt.Print.
type PrintFunc func(v ...interface{})

// New creates a leveled logger with the given name prefix.
func New(name string, lvl Level, print PrintFunc) *LevelLogger {
	return &LevelLogger{name: name, lvl: lvl, print: print}
}

// NewFromString parses a level name ("error"/"warn"/"info"/"debug",
// case-insensitive, short forms accepted) and falls back to LevelWarn.
func NewFromString(s string) *LevelLogger {
	lvl := LevelWarn
	switch strings.ToLower(s) {
	case "e", "err", "error":
		lvl = LevelError
	case "w", "warn", "warning":
		lvl = LevelWarn
	case "i", "info":
		lvl = LevelInfo
	case "d", "debug":
		lvl = LevelDebug
	}
	return New("iotcore", lvl, log.Print)
}

// NewFromEnv is NewFromString sourced from the named environment variable.
func NewFromEnv(key string) *LevelLogger {
	return NewFromString(os.Getenv(key))
}

// LevelLogger is a Logger implementation that drops messages above its
// configured severity.
type LevelLogger struct {
	name  string
	lvl   Level
	print PrintFunc
}

func (l *LevelLogger) Errorf(format string, v ...interface{}) { l.logf(LevelError, format, v...) }
func (l *LevelLogger) Warnf(format string, v ...interface{})  { l.logf(LevelWarn, format, v...) }
func (l *LevelLogger) Infof(format string, v ...interface{})  { l.logf(LevelInfo, format, v...) }
func (l *LevelLogger) Debugf(format string, v ...interface{}) { l.logf(LevelDebug, format, v...) }

func (l *LevelLogger) logf(lvl Level, format string, v ...interface{}) {
	if l.print != nil && lvl <= l.lvl {
		l.print(l.name, ": ", lvl.String(), " ", fmt.Sprintf(format, v...))
	}
}

// Nop is a Logger that discards everything.
type Nop struct{}

func (Nop) Errorf(string, ...interface{}) {}
func (Nop) Warnf(string, ...interface{})  {}
func (Nop) Infof(string, ...interface{})  {}
func (Nop) Debugf(string, ...interface{}) {}
