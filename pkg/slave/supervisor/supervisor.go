// Package supervisor implements the Slave Supervisor (§4.E): it starts the
// per-camera runtimes for this host, enforces the expected camera count
// from the topology map, routes inbound bus messages to the right camera,
// and exits with a distinguished code on MASTER_DOWN or a self-targeted
// SLAVE_RESTART so an external wrapper can respawn the process.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/moonshinevfx/4drec-go/pkg/bus"
	"github.com/moonshinevfx/4drec-go/pkg/logger"
	"github.com/moonshinevfx/4drec-go/pkg/slave/runtime"
)

// RestartExitCode is the distinguished process exit code requested on
// MASTER_DOWN or a self-targeted SLAVE_RESTART (spec.md §6/§9).
const RestartExitCode = 4813

const resetRetryInterval = 10 * time.Second

// FactoryReset re-enumerates attached cameras against the SDK (opaque
// external collaborator, same as runtime.Driver). It returns the serials
// currently visible to the host.
type FactoryReset func(ctx context.Context) ([]string, error)

// Dispatcher sends one message to the Master.
type Dispatcher interface {
	Send(msg *bus.Message) error
}

// cameraEntry pairs a running runtime.Camera with its live-view encoder
// and shot submitter.
type cameraEntry struct {
	cam     *runtime.Camera
	encoder *runtime.LiveViewEncoder
	submit  *runtime.Submitter
}

// Supervisor owns every runtime.Camera for this host.
type Supervisor struct {
	hostname        string
	expectedSerials []string
	newDriver       func(serial string) runtime.Driver
	reset           FactoryReset
	dispatch        Dispatcher
	shotRoot        string
	liveViewFPS     float64
	log             *logger.Logger

	mu       sync.RWMutex
	cameras  map[string]*cameraEntry

	wg     sync.WaitGroup
	cancel context.CancelFunc

	exitCh chan int
}

// New builds a Supervisor for the cameras expected on hostname. newDriver
// constructs the (opaque) SDK driver for one serial; reset re-enumerates
// attached hardware when the expected count is not yet met.
func New(hostname string, expectedSerials []string, newDriver func(serial string) runtime.Driver, reset FactoryReset, dispatch Dispatcher, shotRoot string, liveViewFPS float64, log *logger.Logger) *Supervisor {
	return &Supervisor{
		hostname:        hostname,
		expectedSerials: expectedSerials,
		newDriver:       newDriver,
		reset:           reset,
		dispatch:        dispatch,
		shotRoot:        shotRoot,
		liveViewFPS:     liveViewFPS,
		log:             log,
		cameras:         make(map[string]*cameraEntry),
		exitCh:          make(chan int, 1),
	}
}

// Run enforces the expected camera count (retrying FactoryReset every 10s
// on a mismatch), then starts live-view encoders for every camera and
// blocks until Stop is called or a MASTER_DOWN/self-SLAVE_RESTART message
// arrives. The return value is the process exit code the caller should use.
func (s *Supervisor) Run(ctx context.Context) int {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.enforceTopology(runCtx); err != nil {
		s.log.Error("supervisor: topology enforcement aborted", "hostname", s.hostname, "error", err)
		return 1
	}

	s.mu.RLock()
	for _, entry := range s.cameras {
		s.wg.Add(1)
		go func(e *cameraEntry) {
			defer s.wg.Done()
			e.encoder.Run(runCtx)
		}(entry)
	}
	s.mu.RUnlock()

	select {
	case <-runCtx.Done():
		s.wg.Wait()
		return 0
	case code := <-s.exitCh:
		cancel()
		s.wg.Wait()
		return code
	}
}

// enforceTopology blocks until the set of cameras visible to the host
// matches s.expectedSerials, calling FactoryReset every 10s in between
// (§4.E).
func (s *Supervisor) enforceTopology(ctx context.Context) error {
	for {
		serials, err := s.reset(ctx)
		if err != nil {
			s.log.Warn("supervisor: factory reset failed", "hostname", s.hostname, "error", err)
		} else if sameSet(serials, s.expectedSerials) {
			s.buildCameras(serials)
			return nil
		} else {
			s.log.Warn("supervisor: camera count mismatch, retrying",
				"hostname", s.hostname, "expected", len(s.expectedSerials), "found", len(serials))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(resetRetryInterval):
		}
	}
}

func (s *Supervisor) buildCameras(serials []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, serial := range serials {
		serial := serial
		cam := runtime.New(serial, s.newDriver(serial), s.shotRoot, s.log,
			func(state runtime.State) { s.publishStatus(serial, state) },
			func(err error) { s.log.Warn("supervisor: camera fault", "serial", serial, "error", err) },
			func(msg *bus.Message) { _ = s.dispatch.Send(msg) },
		)
		entry := &cameraEntry{cam: cam}
		entry.encoder = runtime.NewLiveViewEncoder(cam, s.liveViewFPS, s.log, func(msg *bus.Message) {
			_ = s.dispatch.Send(msg)
		})
		entry.submit = runtime.NewSubmitter(cam, s.log, func(msg *bus.Message) {
			_ = s.dispatch.Send(msg)
		})
		s.cameras[serial] = entry
	}
}

func (s *Supervisor) publishStatus(serial string, state runtime.State) {
	_ = s.dispatch.Send(&bus.Message{
		Kind:      bus.CameraStatus,
		SlaveName: s.hostname,
		Header:    map[string]string{"serial": serial, "state": state.String()},
	})
}

// Dispatch routes one inbound Master message to the camera it targets, or
// handles it at the supervisor level (MASTER_DOWN, SLAVE_RESTART).
func (s *Supervisor) Dispatch(ctx context.Context, msg *bus.Message) {
	switch msg.Kind {
	case bus.MasterDown:
		s.requestExit(RestartExitCode)
		return
	case bus.SlaveRestart:
		if msg.H("target") == "" || msg.H("target") == s.hostname {
			s.requestExit(RestartExitCode)
		}
		return
	}

	serial := msg.H("serial")
	if msg.Kind == bus.ToggleRecording && serial == "" {
		// A TOGGLE_RECORDING without a serial is the Recorder's broadcast.
		s.mu.RLock()
		defer s.mu.RUnlock()
		for sn, e := range s.cameras {
			if err := e.cam.ToggleRecording(ctx, msg.H("is_start") == "true", msg.H("shot_id")); err != nil {
				s.log.Warn("supervisor: toggle recording failed", "serial", sn, "error", err)
			}
		}
		return
	}
	entry := s.camera(serial)
	if entry == nil {
		s.log.Warn("supervisor: message for unknown camera, dropping", "serial", serial, "kind", msg.Kind)
		return
	}

	switch msg.Kind {
	case bus.ToggleLiveView:
		if err := entry.cam.ToggleLiveView(ctx, msg.H("on") == "true"); err != nil {
			s.log.Warn("supervisor: toggle live view failed", "serial", serial, "error", err)
		}
	case bus.ToggleRecording:
		if err := entry.cam.ToggleRecording(ctx, msg.H("is_start") == "true", msg.H("shot_id")); err != nil {
			s.log.Warn("supervisor: toggle recording failed", "serial", serial, "error", err)
		}
	case bus.GetShotImage:
		jpeg, err := entry.cam.GetShotImage(msg.H("shot_id"), atoiOr(msg.H("frame"), 0))
		if err != nil {
			s.log.Warn("supervisor: get shot image failed", "serial", serial, "error", err)
			return
		}
		_ = s.dispatch.Send(&bus.Message{Kind: bus.ShotImage, SlaveName: s.hostname, Header: msg.Header, Payload: jpeg})
	case bus.SubmitShot:
		go func() {
			spec := runtime.SubmitSpec{
				ShotID:       msg.H("shot_id"),
				JobName:      msg.H("job_name"),
				FrameStart:   atoiOr(msg.H("frame_start"), 0),
				FrameEnd:     atoiOr(msg.H("frame_end"), -1),
				IsCalibration: msg.H("is_calibration") == "true",
				DestDir:      msg.H("dest_dir"),
				ExpectedSize: int64(atoiOr(msg.H("expected_size"), 0)),
			}
			if err := entry.submit.Submit(ctx, spec); err != nil {
				s.log.Warn("supervisor: submit failed", "serial", serial, "shot_id", spec.ShotID, "error", err)
			}
		}()
	}
}

func (s *Supervisor) camera(serial string) *cameraEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cameras[serial]
}

func (s *Supervisor) requestExit(code int) {
	select {
	case s.exitCh <- code:
	default:
	}
}

// Stop cancels the run loop without requesting a process restart.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func sameSet(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	seen := make(map[string]bool, len(got))
	for _, s := range got {
		seen[s] = true
	}
	for _, w := range want {
		if !seen[w] {
			return false
		}
	}
	return true
}

func atoiOr(s string, fallback int) int {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return fallback
	}
	return n
}
