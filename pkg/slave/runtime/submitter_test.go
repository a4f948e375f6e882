package runtime_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonshinevfx/4drec-go/pkg/bus"
	"github.com/moonshinevfx/4drec-go/pkg/slave/runtime"
)

type recordingEmitter struct {
	mu   sync.Mutex
	msgs []*bus.Message
}

func (e *recordingEmitter) emit(msg *bus.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msgs = append(e.msgs, msg)
}

func (e *recordingEmitter) snapshot() []*bus.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*bus.Message(nil), e.msgs...)
}

// TestSubmitBypassesWithinBandAndReportsEveryFrame is grounded on spec.md
// §4.D's bypass_exist_size rule: a destination frame already within ±40%
// of the expected size is left untouched, but a SUBMIT_REPORT still fires
// for it.
func TestSubmitBypassesWithinBandAndReportsEveryFrame(t *testing.T) {
	root := t.TempDir()
	driver := newFakeDriver()
	cam := runtime.New("SN01", driver, root, newTestLogger(t), nil, nil, nil)

	ctx := context.Background()
	require.NoError(t, cam.ToggleRecording(ctx, true, "shot1"))
	for f := 0; f < 3; f++ {
		driver.frames <- runtime.RawFrame{FrameNumber: f, JPEG: make([]byte, 100)}
	}
	require.Eventually(t, func() bool { return cam.State() == runtime.Capturing }, time.Second, 5*time.Millisecond)
	require.NoError(t, cam.ToggleRecording(ctx, false, "shot1"))
	require.Eventually(t, func() bool {
		_, err := cam.GetShotImage("shot1", 2)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	destDir := filepath.Join(root, "dest")
	require.NoError(t, os.MkdirAll(destDir, 0o755))
	// frame 1 already exists within the band (100 bytes expected, 110 present)
	require.NoError(t, os.WriteFile(filepath.Join(destDir, "0001.jpg"), make([]byte, 110), 0o644))

	emitter := &recordingEmitter{}
	sub := runtime.NewSubmitter(cam, newTestLogger(t), emitter.emit)
	require.NoError(t, sub.Submit(ctx, runtime.SubmitSpec{
		ShotID:       "shot1",
		JobName:      "job1",
		FrameStart:   0,
		FrameEnd:     2,
		DestDir:      destDir,
		ExpectedSize: 100,
	}))

	msgs := emitter.snapshot()
	require.Len(t, msgs, 3, "one SUBMIT_REPORT per frame attempted, including the bypassed one")
	for i, msg := range msgs {
		assert.Equal(t, bus.SubmitReport, msg.Kind)
		assert.Equal(t, "3", msg.Header["total"])
		assert.Equal(t, "shot1", msg.Header["shot_id"])
		_ = i
	}

	// frame 0 and frame 2 were (re)written from the shot container; frame 1
	// was bypassed and left at its original size.
	info1, err := os.Stat(filepath.Join(destDir, "0001.jpg"))
	require.NoError(t, err)
	assert.Equal(t, int64(110), info1.Size())

	info0, err := os.Stat(filepath.Join(destDir, "0000.jpg"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), info0.Size())
}
