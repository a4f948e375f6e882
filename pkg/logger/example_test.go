package logger_test

import (
	"os"

	"github.com/moonshinevfx/4drec-go/pkg/logger"
)

// Example showing basic logger usage.
func ExampleLogger_basic() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatText

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	log.Info("master started", "version", "1.0.0")
	log.Warn("camera silent past deadline", "serial", "SN01")
	log.Error("farm submission failed", "error", "connection timeout")
}

// Example showing category-gated debug usage.
func ExampleLogger_categories() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelDebug
	cfg.EnableCategory(logger.DebugBus)
	cfg.EnableCategory(logger.DebugCapture)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	log.DebugBus("frame decoded", "kind", "CAMERA_STATUS")
	log.DebugCapture("frame appended", "camera", "SN01", "frame", 103)
}

// Example showing JSON format output.
func ExampleLogger_json() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatJSON
	cfg.OutputFile = "master.json"

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()
	defer os.Remove("master.json")

	log.Info("shot recorded", "shot_id", "abc123", "frames", 10)
}
