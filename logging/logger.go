// Package logging wraps the standard logger with bracketed component
// prefixes and optional Rollbar error reporting.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/rollbar/rollbar-go"
)

type Logger struct {
	std       *log.Logger
	component string
	rollbar   bool
}

// Options configures New. An empty RollbarToken disables reporting.
type Options struct {
	Output       io.Writer
	RollbarToken string
	Environment  string
	CodeVersion  string
}

func New(opts Options) *Logger {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	l := &Logger{std: log.New(opts.Output, "", log.LstdFlags)}
	if opts.RollbarToken != "" {
		rollbar.SetToken(opts.RollbarToken)
		rollbar.SetEnvironment(opts.Environment)
		if opts.CodeVersion != "" {
			rollbar.SetCodeVersion(opts.CodeVersion)
		}
		if host, err := os.Hostname(); err == nil {
			rollbar.SetServerHost(host)
		}
		l.rollbar = true
	}
	return l
}

// Discard returns a logger that writes nowhere (tests).
func Discard() *Logger {
	return New(Options{Output: io.Discard})
}

// With returns a logger whose lines start with [component].
func (l *Logger) With(component string) *Logger {
	c := *l
	c.component = component
	return &c
}

func (l *Logger) prefix(level, format string) string {
	if l.component == "" {
		return level + " " + format
	}
	return fmt.Sprintf("[%s] %s %s", l.component, level, format)
}

func (l *Logger) Infof(format string, args ...any) {
	l.std.Printf(l.prefix("INFO", format), args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.std.Printf(l.prefix("WARN", format), args...)
	if l.rollbar {
		rollbar.Warning(fmt.Sprintf(format, args...))
	}
}

// Errorf logs and, when configured, reports err to Rollbar.
func (l *Logger) Errorf(err error, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.std.Printf(l.prefix("ERROR", "%s: %v"), msg, err)
	if l.rollbar {
		rollbar.Error(err, map[string]interface{}{"message": msg, "component": l.component})
	}
}

// Close flushes pending Rollbar reports.
func (l *Logger) Close() {
	if l.rollbar {
		rollbar.Close()
	}
}
