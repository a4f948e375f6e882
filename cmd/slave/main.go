// Command slave runs one capture host's process: it dials the Master's
// message bus, enforces the expected camera topology, and routes inbound
// control messages to the per-camera runtimes via the Supervisor.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/moonshinevfx/4drec-go/pkg/bus"
	"github.com/moonshinevfx/4drec-go/pkg/config"
	"github.com/moonshinevfx/4drec-go/pkg/logger"
	"github.com/moonshinevfx/4drec-go/pkg/slave/runtime"
	"github.com/moonshinevfx/4drec-go/pkg/slave/supervisor"
)

// dispatcher adapts a bus.Endpoint, once connected, to supervisor.Dispatcher.
type dispatcher struct {
	ep bus.Endpoint
}

func (d *dispatcher) Send(msg *bus.Message) error {
	if d.ep == nil {
		return fmt.Errorf("slave: bus not connected")
	}
	return d.ep.Send(msg)
}

func main() {
	fs := flag.NewFlagSet("slave", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to the slave topology YAML file")
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

	cfg, err := config.LoadSlave(*configPath)
	if err != nil {
		log.Error("slave: load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dispatch := &dispatcher{}

	var sup *supervisor.Supervisor
	ep, err := bus.DialSlave(ctx, cfg.MasterAddr, cfg.Hostname, log, func(msg *bus.Message) {
		if sup != nil {
			sup.Dispatch(ctx, msg)
		}
	}, func() {
		log.Warn("slave: disconnected from master, exiting for supervisor restart", "hostname", cfg.Hostname)
		os.Exit(supervisor.RestartExitCode)
	})
	if err != nil {
		log.Error("slave: dial master failed", "addr", cfg.MasterAddr, "error", err)
		os.Exit(1)
	}
	dispatch.ep = ep

	sup = supervisor.New(cfg.Hostname, cfg.ExpectedSerials, newSDKDriver, factoryReset(cfg.ExpectedSerials), dispatch, cfg.ShotRoot, cfg.LiveViewFPS, log)

	log.Info("slave: starting supervisor", "hostname", cfg.Hostname, "expected_cameras", len(cfg.ExpectedSerials))
	code := sup.Run(ctx)
	_ = ep.Close()
	os.Exit(code)
}

// newSDKDriver constructs the opaque vendor SDK binding for one camera
// serial. The SDK itself is out of scope (§1 Non-goals); wiring a real
// driver here is a deployment-time concern.
func newSDKDriver(serial string) runtime.Driver {
	return &unavailableDriver{serial: serial}
}

// factoryReset re-enumerates attached cameras against the SDK. Without a
// real SDK binding this simply reports the configured expected set, which
// makes enforceTopology converge immediately in absence of real hardware.
func factoryReset(expectedSerials []string) supervisor.FactoryReset {
	return func(ctx context.Context) ([]string, error) {
		return expectedSerials, nil
	}
}

// unavailableDriver is a runtime.Driver stub for hosts with no SDK wired
// yet: Open always fails so the camera state machine lands in OFFLINE
// rather than silently reporting a working camera.
type unavailableDriver struct {
	serial string
	frames chan runtime.RawFrame
	errs   chan error
}

func (d *unavailableDriver) Open(ctx context.Context) error {
	return fmt.Errorf("slave: no camera SDK driver wired for %s", d.serial)
}
func (d *unavailableDriver) Close() error                    { return nil }
func (d *unavailableDriver) Frames() <-chan runtime.RawFrame { return d.frames }
func (d *unavailableDriver) Errors() <-chan error            { return d.errs }
