// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging builds the structured loggers used by the parcel CLI.
//
// Every logger is a log/slog logger underneath. The search engine accepts a
// plain *slog.Logger, so callers hand it Logger.Slog() and all engine output
// flows through the same destinations:
//
//	┌────────────────────────────────────────────────────┐
//	│                      Logger                        │
//	│  ┌──────────┐   ┌──────────────┐   ┌────────────┐  │
//	│  │  stderr  │   │   log file   │   │  Exporter  │  │
//	│  │ (text or │   │  (always     │   │ (optional) │  │
//	│  │  JSON)   │   │   JSON)      │   │            │  │
//	│  └──────────┘   └──────────────┘   └────────────┘  │
//	└────────────────────────────────────────────────────┘
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "~/.parcel/logs",
//	    Service: "parcel",
//	})
//	defer logger.Close()
//
//	learner := search.NewLearner(problem, reasoner, op, cfg,
//	    search.WithLogger(logger.Slog()))
//
// File logs are named "{service}_{YYYY-MM-DD}.log".
//
// # Thread Safety
//
// Logger is safe for concurrent use.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity. Debug < Info < Warn < Error. The zero
// value is LevelInfo, as with slog.
type Level int

const (
	// LevelDebug is per-task engine detail: refinements, requeues.
	LevelDebug Level = iota - 1

	// LevelInfo is run lifecycle and periodic progress.
	LevelInfo

	// LevelWarn is recoverable trouble: oracle failures, unclean shutdown.
	LevelWarn

	// LevelError is a failed operation.
	LevelError
)

// String returns the upper-case level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the level as its name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText accepts any name ParseLevel accepts.
func (l *Level) UnmarshalText(text []byte) error {
	level, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = level
	return nil
}

// ParseLevel maps a case-insensitive level name to a Level.
//
// "warning" is accepted as an alias for "warn". An empty string is Info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("logging: unknown level %q", s)
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func fromSlogLevel(l slog.Level) Level {
	switch {
	case l < slog.LevelInfo:
		return LevelDebug
	case l < slog.LevelWarn:
		return LevelInfo
	case l < slog.LevelError:
		return LevelWarn
	default:
		return LevelError
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config controls where a Logger writes.
type Config struct {
	// Level is the minimum level written anywhere. Default: LevelInfo.
	Level Level

	// LogDir enables JSON file logging in this directory. "~" is expanded.
	// The directory is created with 0750 permissions.
	LogDir string

	// Service is attached to every record as the "service" attribute and
	// names the log file.
	Service string

	// JSON switches the console output from text to JSON.
	JSON bool

	// Quiet disables console output.
	Quiet bool

	// Output is the console destination. Nil means os.Stderr, which keeps
	// stdout free for command results.
	Output io.Writer

	// Exporter receives a copy of every record at or above Level.
	Exporter LogExporter
}

// =============================================================================
// Exporter Interface
// =============================================================================

// LogExporter ships log entries to an external sink.
//
// Export is called synchronously from the logging goroutine and must not
// block for long. Flush and Close are called once by Logger.Close.
type LogExporter interface {
	Export(ctx context.Context, entry LogEntry) error
	Flush(ctx context.Context) error
	Close() error
}

// LogEntry is one exported record.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Service   string    `json:"service,omitempty"`

	// Attrs holds the record's attributes, including those added with
	// Logger.With. Group names are joined with "." and error values are
	// stored as their message.
	Attrs map[string]any `json:"attrs,omitempty"`
}

// =============================================================================
// Logger
// =============================================================================

// Logger is a slog logger plus the file and exporter it owns.
//
// Loggers derived with With share the parent's file and exporter; only the
// root logger should be closed.
type Logger struct {
	slog     *slog.Logger
	config   Config
	file     *os.File
	exporter LogExporter
	mu       sync.Mutex
}

// New creates a Logger from config.
//
// File logging failures are not fatal: if the directory or file cannot be
// created the logger falls back to its other destinations.
//
// Outputs:
//   - *Logger: Ready to use. Call Close to flush the exporter and file.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}
	logger := &Logger{config: config, exporter: config.Exporter}

	var handlers []slog.Handler
	if !config.Quiet {
		out := config.Output
		if out == nil {
			out = os.Stderr
		}
		if config.JSON {
			handlers = append(handlers, slog.NewJSONHandler(out, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(out, opts))
		}
	}

	if config.LogDir != "" {
		if file, err := openLogFile(config); err == nil {
			logger.file = file
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		}
	}

	if config.Exporter != nil {
		handlers = append(handlers, &exportHandler{
			exporter: config.Exporter,
			level:    config.Level.toSlogLevel(),
			service:  config.Service,
		})
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(io.Discard, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}

	logger.slog = slog.New(handler)
	return logger
}

func openLogFile(config Config) (*os.File, error) {
	dir := expandPath(config.LogDir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	service := config.Service
	if service == "" {
		service = "parcel"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
}

// Default returns an Info-level text logger on stderr for service "parcel".
func Default() *Logger {
	return New(Config{Level: LevelInfo, Service: "parcel"})
}

// Debug logs at Debug level.
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs at Info level.
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs at Warn level.
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs at Error level.
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a child logger carrying extra attributes.
//
// Example:
//
//	runLogger := logger.With("run_id", report.RunID)
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:     l.slog.With(args...),
		config:   l.config,
		file:     l.file,
		exporter: l.exporter,
	}
}

// Slog returns the underlying slog.Logger, for packages that take one.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close flushes and closes the exporter, then syncs and closes the log file.
//
// Outputs:
//   - error: All cleanup failures joined, or nil.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	if l.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.exporter.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush exporter: %w", err))
		}
		if err := l.exporter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close exporter: %w", err))
		}
		l.exporter = nil
	}
	if l.file != nil {
		if err := l.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync log file: %w", err))
		}
		if err := l.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
		l.file = nil
	}
	return errors.Join(errs...)
}

// =============================================================================
// Handlers (Internal)
// =============================================================================

// multiHandler fans records out to several handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle writes to every enabled handler and joins their errors.
func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// exportHandler converts records into LogEntry values for a LogExporter.
// Export errors are dropped so a failing sink never breaks logging.
type exportHandler struct {
	exporter LogExporter
	level    slog.Level
	service  string
	attrs    []slog.Attr
	group    string
}

func (h *exportHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *exportHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := LogEntry{
		Timestamp: r.Time,
		Level:     fromSlogLevel(r.Level),
		Message:   r.Message,
		Service:   h.service,
		Attrs:     make(map[string]any, len(h.attrs)+r.NumAttrs()),
	}
	for _, a := range h.attrs {
		flatten(entry.Attrs, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		flatten(entry.Attrs, h.group, a)
		return true
	})
	if ctx == nil {
		ctx = context.Background()
	}
	_ = h.exporter.Export(ctx, entry)
	return nil
}

func (h *exportHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *exportHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	if h.group != "" {
		name = h.group + "." + name
	}
	next.group = name
	return &next
}

func flatten(dst map[string]any, prefix string, a slog.Attr) {
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			flatten(dst, key, ga)
		}
		return
	}
	if key == "" {
		return
	}
	if err, ok := v.Any().(error); ok {
		dst[key] = err.Error()
		return
	}
	dst[key] = v.Any()
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// =============================================================================
// Built-in Exporters
// =============================================================================

// multiExporter fans entries out to several exporters.
type multiExporter []LogExporter

// NewMultiExporter combines exporters into one. Nil exporters are skipped;
// the result is nil when none remain.
func NewMultiExporter(exporters ...LogExporter) LogExporter {
	var m multiExporter
	for _, e := range exporters {
		if e != nil {
			m = append(m, e)
		}
	}
	switch len(m) {
	case 0:
		return nil
	case 1:
		return m[0]
	}
	return m
}

func (m multiExporter) Export(ctx context.Context, entry LogEntry) error {
	var errs []error
	for _, e := range m {
		if err := e.Export(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiExporter) Flush(ctx context.Context) error {
	var errs []error
	for _, e := range m {
		if err := e.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiExporter) Close() error {
	var errs []error
	for _, e := range m {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BufferedExporter keeps the most recent entries in memory. The monitor
// serves them to clients watching a run.
//
//	recent := logging.NewBufferedExporter(500)
//	logger := logging.New(logging.Config{Exporter: recent})
type BufferedExporter struct {
	mu       sync.Mutex
	capacity int
	entries  []LogEntry
}

// NewBufferedExporter creates an empty BufferedExporter holding at most
// capacity entries; older entries are dropped first. capacity <= 0 keeps
// everything.
func NewBufferedExporter(capacity int) *BufferedExporter {
	initial := 64
	if capacity > 0 && capacity < initial {
		initial = capacity
	}
	return &BufferedExporter{capacity: capacity, entries: make([]LogEntry, 0, initial)}
}

func (e *BufferedExporter) Export(ctx context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.capacity > 0 && len(e.entries) >= e.capacity {
		n := copy(e.entries, e.entries[len(e.entries)-e.capacity+1:])
		e.entries = e.entries[:n]
	}
	e.entries = append(e.entries, entry)
	return nil
}

func (e *BufferedExporter) Flush(ctx context.Context) error { return nil }
func (e *BufferedExporter) Close() error                    { return nil }

// Entries returns a copy of the held entries, oldest first.
func (e *BufferedExporter) Entries() []LogEntry {
	return e.Last(0)
}

// Last returns a copy of the n most recent entries, oldest first. n <= 0
// returns all of them.
func (e *BufferedExporter) Last(n int) []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := 0
	if n > 0 && n < len(e.entries) {
		start = len(e.entries) - n
	}
	out := make([]LogEntry, len(e.entries)-start)
	copy(out, e.entries[start:])
	return out
}

// Messages returns the held messages in order.
func (e *BufferedExporter) Messages() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.entries))
	for i, entry := range e.entries {
		out[i] = entry.Message
	}
	return out
}

// WriterExporter writes one line per entry to an io.Writer.
type WriterExporter struct {
	w    io.Writer
	file *os.File
	mu   sync.Mutex
}

// NewWriterExporter creates a WriterExporter. It does not own w.
func NewWriterExporter(w io.Writer) *WriterExporter {
	return &WriterExporter{w: w}
}

// NewFileExporter appends entries to the file at path, creating it and its
// directory if needed. The exporter owns the file and closes it on Close.
func NewFileExporter(path string) (*WriterExporter, error) {
	path = expandPath(path)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("logging: create export dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("logging: open export file: %w", err)
	}
	return &WriterExporter{w: f, file: f}, nil
}

func (e *WriterExporter) Export(ctx context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.w == nil {
		return nil
	}
	_, err := fmt.Fprintf(e.w, "[%s] %s %s: %s %v\n",
		entry.Timestamp.Format(time.RFC3339),
		entry.Service,
		entry.Level,
		entry.Message,
		entry.Attrs,
	)
	return err
}

// Flush syncs the file when the exporter owns one.
func (e *WriterExporter) Flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.file == nil {
		return nil
	}
	return e.file.Sync()
}

// Close closes the owned file, after which entries are dropped. A borrowed
// writer is left open.
func (e *WriterExporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.file == nil {
		return nil
	}
	err := e.file.Close()
	e.file, e.w = nil, nil
	return err
}

var (
	_ LogExporter = (*BufferedExporter)(nil)
	_ LogExporter = (*WriterExporter)(nil)
	_ LogExporter = multiExporter(nil)
)
