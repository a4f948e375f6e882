package runtime

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/moonshinevfx/4drec-go/pkg/bus"
	"github.com/moonshinevfx/4drec-go/pkg/camera"
	"github.com/moonshinevfx/4drec-go/pkg/errs"
	"github.com/moonshinevfx/4drec-go/pkg/logger"
)

// State is the camera's position in the per-camera state machine (§4.D):
// CLOSE -> STANDBY on TOGGLE_LIVE_VIEW(on) or TOGGLE_RECORDING(start);
// STANDBY -> CAPTURING on hardware trigger edge; CAPTURING -> STANDBY on
// end-of-shot; any state -> OFFLINE when the driver fails to open or
// close, or reports a CameraHardware error that requires a restart. Other
// driver errors leave the state unchanged, and cancelling the context the
// camera was started with stops its loops without a state change. It is
// the same enum the Master Camera Registry mirrors over CAMERA_STATUS.
type State = camera.State

const (
	Close     = camera.Close
	Standby   = camera.Standby
	Capturing = camera.Capturing
	Offline   = camera.Offline
)

// Driver is the opaque camera SDK collaborator: trigger arming, frame
// delivery, and live-view toggling live behind the vendor SDK and are out
// of scope per spec.md §1 Non-goals. A real implementation wraps the SDK's
// callback-based capture API; RawFrame delivery happens via Frames().
type Driver interface {
	// Open arms the camera for STANDBY; an SDK error here is CameraHardware.
	Open(ctx context.Context) error
	// Close disarms the camera.
	Close() error
	// Frames is the channel the driver delivers captured frames on while
	// CAPTURING. It is closed by the driver on end-of-shot.
	Frames() <-chan RawFrame
	// Errors delivers asynchronous SDK faults; RequireRestart on the
	// wrapped errs.Error distinguishes CRITICAL from ERROR (§7).
	Errors() <-chan error
}

const ringBufferCapacity = 8

// ringItem is either a captured frame or a drain barrier: a barrier's
// done channel is closed once the shot-writer goroutine has processed
// every item queued ahead of it, giving ToggleRecording(false) a point at
// which it is safe to flush and close the shot file (§5 ordering
// guarantee: FIFO end-to-end).
type ringItem struct {
	frame RawFrame
	done  chan struct{}
}

// Camera is the runtime for one physical camera: state machine, capture
// ring buffer, live-view mailbox, and the shot writer/loader/submitter
// that persist and serve its frames.
type Camera struct {
	serial string
	driver Driver
	log    *logger.Logger

	mu    sync.Mutex
	state State

	ring    chan ringItem
	mailbox *liveViewMailbox

	writer *ShotWriter
	reader *ShotReader

	onState  func(State)
	onFault  func(err error)
	emit     func(msg *bus.Message)
	shotRoot string
	shotID   string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Camera runtime in CLOSE state. onState is invoked on every
// state transition (used to populate CAMERA_STATUS); onFault is invoked
// on every error the driver reports on Errors() and on every failed shot
// file append, whether or not the camera goes OFFLINE; emit (may be nil) sends a
// RECORD_REPORT to the Master when a shot stops recording (§4.A/§4.G).
func New(serial string, driver Driver, shotRoot string, log *logger.Logger, onState func(State), onFault func(error), emit func(msg *bus.Message)) *Camera {
	return &Camera{
		serial:   serial,
		driver:   driver,
		shotRoot: shotRoot,
		log:      log,
		state:    Close,
		ring:     make(chan ringItem, ringBufferCapacity),
		mailbox:  newLiveViewMailbox(),
		reader:   NewShotReader(),
		onState:  onState,
		onFault:  onFault,
		emit:     emit,
	}
}

// State returns the camera's current state.
func (c *Camera) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Camera) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.onState != nil {
		c.onState(s)
	}
}

// ToggleLiveView opens the driver and moves CLOSE -> STANDBY, starting the
// frame-intake loop that feeds both the ring buffer and the live-view
// mailbox. Calling it again while already open is a no-op.
func (c *Camera) ToggleLiveView(ctx context.Context, on bool) error {
	if !on {
		return c.stop()
	}
	return c.start(ctx)
}

// ToggleRecording starts (CLOSE -> STANDBY, if not already open) or ends
// the shot currently being written. On start it opens a fresh ShotWriter
// for shotID; on stop it flushes and closes it, then emits a RECORD_REPORT
// carrying the frame range actually written, the gaps within that range,
// and the total bytes written (§4.A/§4.G).
func (c *Camera) ToggleRecording(ctx context.Context, start bool, shotID string) error {
	if start {
		writer, err := OpenShotWriter(c.shotRoot, shotID, c.serial)
		if err != nil {
			return errs.New(errs.TransientIO, err)
		}
		c.mu.Lock()
		c.writer = writer
		c.shotID = shotID
		c.mu.Unlock()

		if c.State() == Close {
			return c.start(ctx)
		}
		return nil
	}

	c.mu.Lock()
	writer := c.writer
	shotID = c.shotID
	c.mu.Unlock()
	if writer == nil {
		return nil
	}

	c.drainRing(ctx)

	c.mu.Lock()
	c.writer = nil
	c.mu.Unlock()

	frameStart, frameEnd, missing, size := writer.Stats()
	if err := writer.Close(); err != nil {
		return errs.New(errs.TransientIO, err)
	}

	if c.emit != nil {
		c.emit(&bus.Message{
			Kind:      bus.RecordReport,
			SlaveName: c.serial,
			Header: map[string]string{
				"serial":      c.serial,
				"shot_id":     shotID,
				"frame_start": strconv.Itoa(frameStart),
				"frame_end":   strconv.Itoa(frameEnd),
				"missing":     joinInts(missing),
				"size":        strconv.FormatInt(size, 10),
			},
		})
	}
	return nil
}

func joinInts(vals []int) string {
	if len(vals) == 0 {
		return ""
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// drainRing blocks until every frame queued ahead of this call has been
// appended by shotWriterLoop, or ctx is done. If the intake loop is not
// running (camera already CLOSE/OFFLINE) the ring is empty and this
// returns immediately.
func (c *Camera) drainRing(ctx context.Context) {
	if c.State() == Close || c.State() == Offline {
		return
	}
	barrier := ringItem{done: make(chan struct{})}
	select {
	case c.ring <- barrier:
	case <-ctx.Done():
		return
	}
	select {
	case <-barrier.done:
	case <-ctx.Done():
	}
}

// GetShotImage serves a GET_SHOT_IMAGE request for an already-written shot,
// reusing the cached reader handle across calls for the same shot (§4.D).
func (c *Camera) GetShotImage(shotID string, frameNumber int) ([]byte, error) {
	jpeg, err := c.reader.Frame(c.shotRoot, shotID, c.serial, frameNumber)
	if err != nil {
		return nil, errs.New(errs.ResourceMissing, err)
	}
	return jpeg, nil
}

// LiveViewFrame blocks until the live-view mailbox has a frame, or the
// camera stops.
func (c *Camera) LiveViewFrame() (RawFrame, bool) {
	return c.mailbox.Consume()
}

func (c *Camera) start(ctx context.Context) error {
	if c.State() != Close && c.State() != Offline {
		return nil
	}
	if err := c.driver.Open(ctx); err != nil {
		c.setState(Offline)
		return errs.NewHardware(err, true)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.setState(Standby)

	c.wg.Add(2)
	go c.intakeLoop(runCtx)
	go c.shotWriterLoop(runCtx)
	return nil
}

func (c *Camera) stop() error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.mailbox.Close()
	if err := c.driver.Close(); err != nil {
		c.setState(Offline)
		return fmt.Errorf("runtime: driver close: %w", err)
	}
	c.setState(Close)
	return nil
}

// intakeLoop is the camera's single reader of the driver's channels: it
// owns the STANDBY<->CAPTURING transitions and fans every captured frame
// out to the ring buffer, the live-view mailbox, and (while recording) the
// shot writer.
func (c *Camera) intakeLoop(ctx context.Context) {
	defer c.wg.Done()

	frames := c.driver.Frames()
	errCh := c.driver.Errors()
	capturing := false

	for {
		select {
		case <-ctx.Done():
			return

		case f, ok := <-frames:
			if !ok {
				if capturing {
					capturing = false
					c.setState(Standby)
				}
				return
			}
			if !capturing {
				capturing = true
				c.setState(Capturing)
			}
			c.fanOut(f)

		case err, ok := <-errCh:
			if !ok {
				continue
			}
			c.handleFault(err)
			if errs.Is(err, errs.CameraHardware) {
				var hwErr *errs.Error
				if e, match := err.(*errs.Error); match {
					hwErr = e
				}
				if hwErr == nil || hwErr.RequireRestart {
					c.setState(Offline)
					return
				}
			}
		}
	}
}

// fanOut is the ring buffer's sole producer (§5 shared-resource policy):
// it pushes into the ring for the shot-writer goroutine to drain, and
// separately publishes into the live-view mailbox.
func (c *Camera) fanOut(f RawFrame) {
	item := ringItem{frame: f}
	select {
	case c.ring <- item:
	default:
		// ring buffer full: the shot-writer goroutine is falling behind.
		// Drop the oldest to keep capture real-time; a dropped barrier is
		// released immediately rather than left to hang.
		select {
		case dropped := <-c.ring:
			if dropped.done != nil {
				close(dropped.done)
			}
		default:
		}
		c.ring <- item
	}

	c.mailbox.Publish(f)
}

// shotWriterLoop is the ring buffer's sole consumer: it appends whatever
// arrives to the currently-open shot file, if any. With no shot open,
// frames are drained and discarded (live-view-only mode).
func (c *Camera) shotWriterLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-c.ring:
			if item.done != nil {
				close(item.done)
				continue
			}
			c.mu.Lock()
			writer := c.writer
			c.mu.Unlock()
			if writer == nil {
				continue
			}
			if err := writer.Append(item.frame); err != nil {
				c.handleFault(errs.New(errs.TransientIO, err))
			}
		}
	}
}

func (c *Camera) handleFault(err error) {
	if c.onFault != nil {
		c.onFault(err)
	}
	c.log.Warn("camera fault", "serial", c.serial, "error", err)
}
