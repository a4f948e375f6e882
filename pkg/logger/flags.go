package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds logging-related command-line flags shared by cmd/master,
// cmd/slave and cmd/resolve.
type Flags struct {
	LogLevel     string
	LogFormat    string
	LogFile      string
	DebugBus     bool
	DebugCapture bool
	DebugFarm    bool
	DebugCache   bool
	DebugExport  bool
	DebugAll     bool
}

// RegisterFlags registers logging flags with the given FlagSet.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&f.LogFormat, "log-format", "text", "Log output format: text, json")
	fs.StringVar(&f.LogFile, "log-file", "", "Log output file path (default: stdout)")

	fs.BoolVar(&f.DebugBus, "debug-bus", false, "Enable message bus framing debug logging")
	fs.BoolVar(&f.DebugCapture, "debug-capture", false, "Enable per-frame capture timing debug logging")
	fs.BoolVar(&f.DebugFarm, "debug-farm", false, "Enable farm submission/poll debug logging")
	fs.BoolVar(&f.DebugCache, "debug-cache", false, "Enable resolve cache hit/miss/evict debug logging")
	fs.BoolVar(&f.DebugExport, "debug-export", false, "Enable export engine ordering debug logging")
	fs.BoolVar(&f.DebugAll, "debug-all", false, "Enable all debug categories")

	return f
}

// ToConfig converts Flags into a logger Config.
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format
	cfg.OutputFile = f.LogFile

	switch {
	case f.DebugAll:
		cfg.EnableCategory(DebugAll)
		cfg.Level = LevelDebug
	default:
		for _, c := range []struct {
			enabled bool
			cat     Category
		}{
			{f.DebugBus, DebugBus},
			{f.DebugCapture, DebugCapture},
			{f.DebugFarm, DebugFarm},
			{f.DebugCache, DebugCache},
			{f.DebugExport, DebugExport},
		} {
			if c.enabled {
				cfg.EnableCategory(c.cat)
				cfg.Level = LevelDebug
			}
		}
	}

	return cfg, nil
}

// String renders the enabled flags for a single startup log line.
func (f *Flags) String() string {
	parts := []string{
		fmt.Sprintf("level=%s", f.LogLevel),
		fmt.Sprintf("format=%s", f.LogFormat),
	}
	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var cats []string
	if f.DebugAll {
		cats = append(cats, "all")
	} else {
		if f.DebugBus {
			cats = append(cats, "bus")
		}
		if f.DebugCapture {
			cats = append(cats, "capture")
		}
		if f.DebugFarm {
			cats = append(cats, "farm")
		}
		if f.DebugCache {
			cats = append(cats, "cache")
		}
		if f.DebugExport {
			cats = append(cats, "export")
		}
	}
	if len(cats) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(cats, ",")))
	}

	return strings.Join(parts, " ")
}
