// Package logger provides the structured logger shared by the master, slave
// and resolve processes. It wraps log/slog with category-gated debug
// logging so a noisy subsystem (bus framing, capture timing, farm polling)
// can be switched on without raising the global level.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Level is the logging verbosity level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category gates a specific debug subsystem independent of Level.
type Category string

const (
	DebugBus     Category = "bus"
	DebugCapture Category = "capture"
	DebugFarm    Category = "farm"
	DebugCache   Category = "cache"
	DebugExport  Category = "export"
	DebugAll     Category = "all"
)

// OutputFormat selects the slog handler.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Config holds logger configuration.
type Config struct {
	Level      Level
	Format     OutputFormat
	OutputFile string

	mu         sync.RWMutex
	categories map[Category]bool
}

// NewConfig returns sensible defaults: info level, text format, stdout.
func NewConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		Format:     FormatText,
		categories: make(map[Category]bool),
	}
}

// ParseLevel converts a string to a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug", "DEBUG":
		return LevelDebug, nil
	case "info", "INFO", "":
		return LevelInfo, nil
	case "warn", "WARN", "warning":
		return LevelWarn, nil
	case "error", "ERROR":
		return LevelError, nil
	default:
		return "", fmt.Errorf("invalid log level %q", s)
	}
}

// ParseFormat converts a string to an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch s {
	case "json", "JSON":
		return FormatJSON, nil
	case "text", "TEXT", "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("invalid log format %q", s)
	}
}

func (l Level) toSlog() slog.Level {
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

// EnableCategory turns on a debug category. DebugAll enables every category.
func (c *Config) EnableCategory(cat Category) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cat == DebugAll {
		for _, other := range []Category{DebugBus, DebugCapture, DebugFarm, DebugCache, DebugExport} {
			c.categories[other] = true
		}
		return
	}
	c.categories[cat] = true
}

func (c *Config) isEnabled(cat Category) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.categories[cat]
}

// Logger wraps *slog.Logger with category-gated debug helpers.
type Logger struct {
	*slog.Logger
	config *Config
	file   *os.File
}

// New builds a Logger from cfg.
func New(cfg *Config) (*Logger, error) {
	var w io.Writer = os.Stdout
	var f *os.File
	if cfg.OutputFile != "" {
		var err error
		f, err = os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", cfg.OutputFile, err)
		}
		w = f
	}

	opts := &slog.HandlerOptions{Level: cfg.Level.toSlog()}
	var handler slog.Handler
	if cfg.Format == FormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler), config: cfg, file: f}, nil
}

// Close closes the log file, if any was opened.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// With returns a derived Logger carrying extra attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), config: l.config, file: l.file}
}

func (l *Logger) debugf(cat Category, msg string, args ...any) {
	if l.config.isEnabled(cat) {
		l.Debug(msg, append([]any{"category", string(cat)}, args...)...)
	}
}

// DebugBus logs bus-framing detail when the bus category is enabled.
func (l *Logger) DebugBus(msg string, args ...any) { l.debugf(DebugBus, msg, args...) }

// DebugCapture logs per-frame capture timing when enabled.
func (l *Logger) DebugCapture(msg string, args ...any) { l.debugf(DebugCapture, msg, args...) }

// DebugFarm logs farm submission/poll detail when enabled.
func (l *Logger) DebugFarm(msg string, args ...any) { l.debugf(DebugFarm, msg, args...) }

// DebugCache logs resolve-cache hit/miss/evict detail when enabled.
func (l *Logger) DebugCache(msg string, args ...any) { l.debugf(DebugCache, msg, args...) }

// DebugExport logs export-engine ordering detail when enabled.
func (l *Logger) DebugExport(msg string, args ...any) { l.debugf(DebugExport, msg, args...) }

var (
	defaultLogger *Logger
	once          sync.Once
)

// Default returns a lazily constructed process-wide logger for packages
// that cannot take a logger dependency explicitly (e.g. init-time helpers).
func Default() *Logger {
	once.Do(func() {
		l, err := New(NewConfig())
		if err != nil {
			l = &Logger{Logger: slog.Default(), config: NewConfig()}
		}
		defaultLogger = l
	})
	return defaultLogger
}
