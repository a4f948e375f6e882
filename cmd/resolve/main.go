// Command resolve is the per-stage entry point the render farm invokes:
// one process per (stage, frame chunk) task, per §4.I/§6. It reads the
// job's parameter sheet, runs the stage through the (opaque) photogrammetry
// and keying engines, and streams newline-delimited JSON events so an
// embedding caller can track progress without parsing stdout text.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moonshinevfx/4drec-go/pkg/farm"
	"github.com/moonshinevfx/4drec-go/pkg/logger"
	"github.com/moonshinevfx/4drec-go/pkg/submission"
)

// Event is one line of the resolve process's event stream.
type Event struct {
	Event   string  `json:"event"`
	Message string  `json:"message,omitempty"`
	Percent float64 `json:"percent,omitempty"`
}

const (
	eventComplete   = "COMPLETE"
	eventFail       = "FAIL"
	eventLogInfo    = "LOG_INFO"
	eventLogStdout  = "LOG_STDOUT"
	eventLogWarning = "LOG_WARNING"
	eventProgress   = "PROGRESS"
)

func main() {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	frame := fs.Int("frame", 0, "Frame number this task covers (ignored for chunked stages)")
	stage := fs.String("resolve_stage", "", "One of initialize|resolve|conversion|export")
	yamlPath := fs.String("yaml_path", "", "Path to the job parameter sheet written by the submitter")
	extraSettings := fs.String("extra_settings", "{}", "JSON object of stage-specific overrides")
	debug := fs.Bool("debug", false, "Enable debug-level logging")
	_ = fs.Parse(os.Args[1:])

	logCfg := logger.NewConfig()
	if *debug {
		logCfg.Level = logger.LevelDebug
	}
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Close()

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	emit := func(ev Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		out.Write(data)
		out.WriteByte('\n')
		out.Flush()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *stage, *frame, *yamlPath, *extraSettings, emit, log); err != nil {
		emit(Event{Event: eventFail, Message: err.Error()})
		log.Error("resolve: stage failed", "stage", *stage, "error", err)
		os.Exit(1)
	}
	emit(Event{Event: eventComplete})
}

func run(ctx context.Context, stageName string, frame int, yamlPath, extraSettingsJSON string, emit func(Event), log *logger.Logger) error {
	stage := farm.Stage(stageName)
	switch stage {
	case farm.StageInitialize, farm.StageResolve, farm.StageConversion, farm.StageExport:
	default:
		return fmt.Errorf("resolve: unknown resolve_stage %q", stageName)
	}

	if yamlPath == "" {
		return fmt.Errorf("resolve: --yaml_path is required")
	}
	sheet, err := submission.Read(yamlPath)
	if err != nil {
		return err
	}

	var extra map[string]any
	if err := json.Unmarshal([]byte(extraSettingsJSON), &extra); err != nil {
		return fmt.Errorf("resolve: parse --extra_settings: %w", err)
	}

	emit(Event{Event: eventLogInfo, Message: fmt.Sprintf("starting %s stage for job %s", stage, sheet.JobName)})

	engine := newEngine(log)
	return engine.RunStage(ctx, stage, frame, sheet, extra, emit)
}

// Engine runs one resolve stage. The photogrammetry reconstruction, the
// keying/background-removal model, and the mesh/texture conversion are
// black boxes the core invokes (§1 Non-goals); Engine is the seam a studio
// wires its real tool invocations behind.
type Engine interface {
	RunStage(ctx context.Context, stage farm.Stage, frame int, sheet submission.Sheet, extra map[string]any, emit func(Event)) error
}

func newEngine(log *logger.Logger) Engine {
	return &passthroughEngine{log: log}
}

// passthroughEngine is a deterministic stand-in for the real photogrammetry
// and keying tool invocations: it reports progress and succeeds without
// doing real reconstruction work, the same role pkg/audio.CopyTrimmer and
// pkg/farm/fake.Driver play for their own opaque collaborators.
type passthroughEngine struct {
	log *logger.Logger
}

func (e *passthroughEngine) RunStage(ctx context.Context, stage farm.Stage, frame int, sheet submission.Sheet, extra map[string]any, emit func(Event)) error {
	steps := 4
	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		emit(Event{Event: eventProgress, Percent: float64(i) / float64(steps) * 100})
		e.log.DebugFarm("resolve: stage step", "stage", stage, "step", i, "frame", frame)
		time.Sleep(time.Millisecond)
	}
	emit(Event{Event: eventLogStdout, Message: fmt.Sprintf("%s stage complete for %s", stage, sheet.JobName)})
	return nil
}
