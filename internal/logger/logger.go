// Package logger provides the structured logging capability injected into
// every long-lived component of the orchestrator (scheduler, warm pool,
// step executor). There is no global logger; every constructor takes one.
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	cblog "github.com/charmbracelet/log"
)

// Options configures a Logger at construction time.
type Options struct {
	Level         string
	HumanReadable bool
	Writer        io.Writer
	Component     string
}

// Logger wraps github.com/charmbracelet/log behind the small capability
// surface the orchestrator's components depend on: debug/info/warn/error
// plus group/groupEnd for indenting nested operations in human-readable
// mode (e.g. a job's ordered steps).
type Logger struct {
	base   *cblog.Logger
	fields []interface{}
}

// New creates a configured Logger. Level defaults to "info"; HumanReadable
// selects the text formatter, otherwise JSON is used.
func New(opts Options) (*Logger, error) {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stdout
	}

	level := cblog.InfoLevel
	if opts.Level != "" {
		parsed, err := cblog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}

	formatter := cblog.JSONFormatter
	if opts.HumanReadable {
		formatter = cblog.TextFormatter
	}

	base := cblog.NewWithOptions(writer, cblog.Options{
		Level:           level,
		ReportTimestamp: true,
		Formatter:       formatter,
	})

	var fields []interface{}
	if opts.Component != "" {
		fields = []interface{}{"component", opts.Component}
	}

	return &Logger{base: base, fields: fields}, nil
}

// WithFields returns a derived logger that always writes the supplied
// fields alongside whatever is passed to the log call itself.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	if l == nil || len(fields) == 0 {
		return l
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	next := make([]interface{}, len(l.fields), len(l.fields)+len(fields)*2)
	copy(next, l.fields)
	for _, key := range keys {
		next = append(next, key, fields[key])
	}

	return &Logger{base: l.base, fields: next}
}

// Debug writes a debug-level log entry.
func (l *Logger) Debug(msg string, kv ...interface{}) {
	if l == nil || l.base == nil {
		return
	}
	l.base.Debug(msg, append(append([]interface{}{}, l.fields...), kv...)...)
}

// Info writes an informational log entry.
func (l *Logger) Info(msg string, kv ...interface{}) {
	if l == nil || l.base == nil {
		return
	}
	l.base.Info(msg, append(append([]interface{}{}, l.fields...), kv...)...)
}

// Warn writes a warning-level log entry.
func (l *Logger) Warn(msg string, kv ...interface{}) {
	if l == nil || l.base == nil {
		return
	}
	l.base.Warn(msg, append(append([]interface{}{}, l.fields...), kv...)...)
}

// Error writes an error-level log entry.
func (l *Logger) Error(err error, msg string, kv ...interface{}) {
	if l == nil || l.base == nil {
		return
	}
	payload := append(append([]interface{}{}, l.fields...), kv...)
	if err != nil {
		payload = append(payload, "error", err)
	}
	l.base.Error(msg, payload...)
}

// Group starts a visually nested scope in human-readable output (used by
// the step executor to group a job's ordered steps); harmless under JSON.
func (l *Logger) Group(name string) {
	l.Info(fmt.Sprintf("::group:: %s", name))
}

// GroupEnd closes a scope opened by Group.
func (l *Logger) GroupEnd() {
	l.Info("::endgroup::")
}

// NewNop returns a Logger that discards everything, for tests that don't
// care about log output.
func NewNop() *Logger {
	l, _ := New(Options{Writer: io.Discard})
	return l
}
