package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level is the minimum severity written to the log.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[string]Level{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

// ParseLevel converts a settings value into a Level, defaulting to info.
func ParseLevel(value string) Level {
	value = strings.TrimSpace(strings.ToLower(value))
	if lvl, ok := levelNames[value]; ok {
		return lvl
	}
	return LevelInfo
}

// Logger is a thread-safe levelled logger.
type Logger struct {
	minLevel Level
	writer   io.Writer
	closer   io.Closer
	mu       sync.Mutex
}

// New opens (or creates) the log file at path in append mode.
func New(path string, level Level) (*Logger, error) {
	if path == "" {
		return nil, fmt.Errorf("log path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory for %s: %w", path, err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return &Logger{minLevel: level, writer: file, closer: file}, nil
}

// NewWriter returns a logger writing to w. The caller owns w.
func NewWriter(w io.Writer, level Level) *Logger {
	if w == nil {
		w = io.Discard
	}
	return &Logger{minLevel: level, writer: w}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWriter(io.Discard, LevelError)
}

// Close releases the underlying file.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Debugf writes a debug message.
func (l *Logger) Debugf(format string, args ...any) {
	l.write(LevelDebug, format, args...)
}

// Infof writes an informational message.
func (l *Logger) Infof(format string, args ...any) {
	l.write(LevelInfo, format, args...)
}

// Warnf writes a warning.
func (l *Logger) Warnf(format string, args ...any) {
	l.write(LevelWarn, format, args...)
}

// Errorf writes an error message.
func (l *Logger) Errorf(format string, args ...any) {
	l.write(LevelError, format, args...)
}

func (l *Logger) write(level Level, format string, args ...any) {
	if l == nil || level < l.minLevel {
		return
	}
	entry := fmt.Sprintf(format, args...)
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.writer, "%s [%s] %s\n", time.Now().UTC().Format(time.RFC3339), level.String(), entry)
}

// Level returns the minimum level of the logger.
func (l *Logger) Level() Level {
	if l == nil {
		return LevelInfo
	}
	return l.minLevel
}

// String returns the level name used in log lines.
func (lvl Level) String() string {
	switch lvl {
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

// DefaultPath returns the client log file inside the config directory.
func DefaultPath(configDir string) string {
	return filepath.Join(configDir, "logs", "client.log")
}

type loggerKey struct{}

// WithContext stores the logger in ctx.
func WithContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext extracts the logger from ctx, if present.
func FromContext(ctx context.Context) (*Logger, bool) {
	logger, ok := ctx.Value(loggerKey{}).(*Logger)
	return logger, ok
}
