package runtime_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonshinevfx/4drec-go/pkg/bus"
	"github.com/moonshinevfx/4drec-go/pkg/logger"
	"github.com/moonshinevfx/4drec-go/pkg/slave/runtime"
)

type fakeDriver struct {
	frames  chan runtime.RawFrame
	errs    chan error
	mu      sync.Mutex
	opened  int
	closed  int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{frames: make(chan runtime.RawFrame, 8), errs: make(chan error, 1)}
}

func (d *fakeDriver) Open(ctx context.Context) error {
	d.mu.Lock()
	d.opened++
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	d.closed++
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) Frames() <-chan runtime.RawFrame { return d.frames }
func (d *fakeDriver) Errors() <-chan error            { return d.errs }

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)
	return log
}

// TestToggleRecordingWritesFramesToShotContainer exercises the capture ->
// ring buffer -> shot writer path end to end, then reads a frame back
// through GetShotImage.
func TestToggleRecordingWritesFramesToShotContainer(t *testing.T) {
	root := t.TempDir()
	driver := newFakeDriver()

	var states []runtime.State
	var mu sync.Mutex
	cam := runtime.New("SN01", driver, root, newTestLogger(t), func(s runtime.State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, cam.ToggleRecording(ctx, true, "shot1"))

	driver.frames <- runtime.RawFrame{FrameNumber: 0, JPEG: []byte("frame-zero")}
	driver.frames <- runtime.RawFrame{FrameNumber: 1, JPEG: []byte("frame-one")}

	require.Eventually(t, func() bool {
		return cam.State() == runtime.Capturing
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, cam.ToggleRecording(ctx, false, "shot1"))

	var jpeg []byte
	require.Eventually(t, func() bool {
		var err error
		jpeg, err = cam.GetShotImage("shot1", 1)
		return err == nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("frame-one"), jpeg)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, runtime.Capturing)
}

// TestGetShotImageMissingFrameIsResourceMissing asserts that requesting an
// absent frame surfaces as errs.ResourceMissing rather than aborting.
func TestGetShotImageMissingFrameIsResourceMissing(t *testing.T) {
	root := t.TempDir()
	driver := newFakeDriver()
	cam := runtime.New("SN01", driver, root, newTestLogger(t), nil, nil, nil)

	ctx := context.Background()
	require.NoError(t, cam.ToggleRecording(ctx, true, "shot1"))
	driver.frames <- runtime.RawFrame{FrameNumber: 0, JPEG: []byte("x")}
	require.Eventually(t, func() bool { return cam.State() == runtime.Capturing }, time.Second, 5*time.Millisecond)
	require.NoError(t, cam.ToggleRecording(ctx, false, "shot1"))

	_, err := cam.GetShotImage("shot1", 99)
	require.Error(t, err)
}

// TestToggleRecordingEmitsRecordReport confirms the stop path reports the
// frame range actually written, the gaps within it, and the total bytes —
// the data spec.md §4.G's Recorder aggregates across every camera.
func TestToggleRecordingEmitsRecordReport(t *testing.T) {
	root := t.TempDir()
	driver := newFakeDriver()

	var mu sync.Mutex
	var reports []*bus.Message
	cam := runtime.New("SN02", driver, root, newTestLogger(t), nil, nil, func(msg *bus.Message) {
		mu.Lock()
		reports = append(reports, msg)
		mu.Unlock()
	})

	ctx := context.Background()
	require.NoError(t, cam.ToggleRecording(ctx, true, "shot1"))
	driver.frames <- runtime.RawFrame{FrameNumber: 0, JPEG: []byte("aaaa")}
	driver.frames <- runtime.RawFrame{FrameNumber: 2, JPEG: []byte("bbbb")}
	require.Eventually(t, func() bool { return cam.State() == runtime.Capturing }, time.Second, 5*time.Millisecond)
	require.NoError(t, cam.ToggleRecording(ctx, false, "shot1"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reports, 1)
	rep := reports[0]
	assert.Equal(t, bus.RecordReport, rep.Kind)
	assert.Equal(t, "SN02", rep.H("serial"))
	assert.Equal(t, "shot1", rep.H("shot_id"))
	assert.Equal(t, "0", rep.H("frame_start"))
	assert.Equal(t, "2", rep.H("frame_end"))
	assert.Equal(t, "1", rep.H("missing"))
	assert.Equal(t, "24", rep.H("size"))
}
