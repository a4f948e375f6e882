// Command master runs the Master process: it serves the message bus
// listener Slaves dial into, mirrors camera status through the Camera
// Registry, orchestrates shot recording through the Recorder, and exposes
// the read-only status API for studio tooling.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/moonshinevfx/4drec-go/pkg/api"
	"github.com/moonshinevfx/4drec-go/pkg/bus"
	"github.com/moonshinevfx/4drec-go/pkg/camera"
	"github.com/moonshinevfx/4drec-go/pkg/cloudsync"
	"github.com/moonshinevfx/4drec-go/pkg/config"
	"github.com/moonshinevfx/4drec-go/pkg/entity"
	"github.com/moonshinevfx/4drec-go/pkg/farm/fake"
	"github.com/moonshinevfx/4drec-go/pkg/logger"
	"github.com/moonshinevfx/4drec-go/pkg/master/recorder"
	"github.com/moonshinevfx/4drec-go/pkg/master/registry"
	"github.com/moonshinevfx/4drec-go/pkg/submission"
)

// noopImageLibrary discards the synthetic state records the Registry emits
// on every change; a real deployment wires this to whatever downstream
// image consumer needs to learn about offline cameras (§4.F). No such
// consumer exists in this module, so it is a log line rather than a drop.
type noopImageLibrary struct{ log *logger.Logger }

func (n noopImageLibrary) PublishState(status camera.Status) {
	n.log.DebugBus("registry: state push", "serial", status.Serial, "state", status.State.String())
}

func main() {
	fs := flag.NewFlagSet("master", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to the master topology YAML file")
	logFlags := logger.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	logCfg, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Close()

	cfg, err := config.LoadMaster(*configPath)
	if err != nil {
		log.Error("master: load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var expectedSerials []string
	for _, serials := range cfg.ExpectedCameras {
		expectedSerials = append(expectedSerials, serials...)
	}

	store := entity.NewStore(cfg.ProjectsRoot, log)
	reg := registry.New(expectedSerials, time.Duration(cfg.OfflineDeadline*float64(time.Second)), noopImageLibrary{log: log}, log)
	router := newBusRouter()
	rec := recorder.New(store, router, expectedSerials, log)

	server := bus.NewServer(log, router.onConnect, func(slaveName string, msg *bus.Message) {
		handleSlaveMessage(log, reg, rec, slaveName, msg)
	}, router.onDisconnect)

	if err := server.Start(ctx, cfg.ListenAddr); err != nil {
		log.Error("master: bus listener failed", "addr", cfg.ListenAddr, "error", err)
		os.Exit(1)
	}
	log.Info("master: bus listener up", "addr", cfg.ListenAddr)

	notifier := cloudsync.Notifier(cloudsync.Noop{})
	if cfg.CloudSyncBaseURL != "" {
		notifier = cloudsync.New(cfg.CloudSyncBaseURL)
	}
	// The render-farm binding is an opaque external collaborator (§1
	// Non-goals); the in-memory fake stands in until a studio wires its
	// real job-system driver.
	// submitter and poller are constructed and retained here so the farm
	// driver and notifier are wired at process start; the job-creation
	// trigger itself (building a submission.Order from a recorded Shot and
	// calling submitter.Submit, then poller.Watch on the result) is outside
	// this wiring and belongs to whatever studio tool drives job creation.
	farmDriver := fake.New()
	submitter := submission.New(farmDriver, store, notifier, log)
	poller := submission.NewPoller(farmDriver, store, notifier, log, 60)
	_, _ = submitter, poller

	statusAPI := api.NewServer(&statusSource{reg: reg, store: store}, log)
	if cfg.StatusAPIAddr != "" {
		if err := statusAPI.Start(ctx, cfg.StatusAPIAddr); err != nil {
			log.Error("master: status api failed", "addr", cfg.StatusAPIAddr, "error", err)
		} else {
			log.Info("master: status api up", "addr", cfg.StatusAPIAddr)
		}
	}

	<-ctx.Done()
	log.Info("master: shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	_ = statusAPI.Stop(stopCtx)
	_ = server.Stop(stopCtx)
}

// handleSlaveMessage decodes one inbound bus.Message from slaveName and
// routes it to the Registry or Recorder. Unknown kinds are a
// ProtocolViolation per §7: log and drop.
func handleSlaveMessage(log *logger.Logger, reg *registry.Registry, rec *recorder.Recorder, slaveName string, msg *bus.Message) {
	switch msg.Kind {
	case bus.CameraStatus:
		serial := msg.H("serial")
		state := parseState(msg.H("state"))
		reg.UpdateStatus(camera.Status{Serial: serial, State: state}, false)

	case bus.RecordReport:
		rec.OnRecordReport(recorder.RecordReport{
			CameraID:   msg.H("serial"),
			ShotID:     msg.H("shot_id"),
			Missing:    parseInts(msg.H("missing")),
			FrameStart: atoiOr(msg.H("frame_start"), 0),
			FrameEnd:   atoiOr(msg.H("frame_end"), -1),
			Size:       int64(atoiOr(msg.H("size"), 0)),
		})

	case bus.SubmitReport:
		rec.OnSubmitReport(recorder.SubmitReport{
			CameraID: msg.H("serial"),
			ShotID:   msg.H("shot_id"),
			JobName:  msg.H("job_name"),
			Done:     atoiOr(msg.H("done"), 0),
			Total:    atoiOr(msg.H("total"), 0),
		})

	case bus.SlaveError:
		log.Warn("slave reported error", "slave", slaveName, "message", string(msg.Payload))

	default:
		log.DebugBus("master: message", "slave", slaveName, "kind", msg.Kind.String())
	}
}

func parseState(s string) camera.State {
	switch s {
	case "STANDBY":
		return camera.Standby
	case "CAPTURING":
		return camera.Capturing
	case "OFFLINE":
		return camera.Offline
	default:
		return camera.Close
	}
}

func atoiOr(s string, fallback int) int {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return fallback
	}
	return n
}

// parseInts decodes the comma-separated frame list runtime.joinInts wrote
// into a RECORD_REPORT's "missing" header.
func parseInts(s string) []int {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		out = append(out, atoiOr(p, 0))
	}
	return out
}
