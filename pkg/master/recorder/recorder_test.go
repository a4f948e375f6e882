package recorder_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonshinevfx/4drec-go/pkg/bus"
	"github.com/moonshinevfx/4drec-go/pkg/entity"
	"github.com/moonshinevfx/4drec-go/pkg/logger"
	"github.com/moonshinevfx/4drec-go/pkg/master/recorder"
)

type fakeDispatcher struct {
	mu        sync.Mutex
	broadcast []*bus.Message
}

func (d *fakeDispatcher) Broadcast(msg *bus.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.broadcast = append(d.broadcast, msg)
}

func (d *fakeDispatcher) snapshot() []*bus.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*bus.Message(nil), d.broadcast...)
}

// TestRecordReportAggregation is scenario 2 of §8: two cameras report
// overlapping ranges and one reports a missing frame; the Shot entity must
// end up with the intersected frame range and the union of missing frames.
func TestRecordReportAggregation(t *testing.T) {
	root := t.TempDir()
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)
	store := entity.NewStore(root, log)

	projectID, err := entity.CreateProject(store, root, "proj")
	require.NoError(t, err)
	shotID, err := entity.CreateShot(store, projectID, root+"/proj", "take1", false)
	require.NoError(t, err)

	dispatch := &fakeDispatcher{}
	rec := recorder.New(store, dispatch, []string{"A", "B"}, log)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	startDone := make(chan error, 1)
	go func() { startDone <- rec.StartRecording(ctx, shotID) }()
	require.Eventually(t, func() bool { return len(dispatch.snapshot()) >= 1 }, time.Second, 5*time.Millisecond)
	rec.OnRecordReport(recorder.RecordReport{CameraID: "A", ShotID: shotID})
	rec.OnRecordReport(recorder.RecordReport{CameraID: "B", ShotID: shotID})
	require.NoError(t, <-startDone)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()

	stopDone := make(chan error, 1)
	go func() { stopDone <- rec.StopRecording(stopCtx, shotID) }()
	require.Eventually(t, func() bool { return len(dispatch.snapshot()) >= 2 }, time.Second, 5*time.Millisecond)

	rec.OnRecordReport(recorder.RecordReport{
		CameraID: "A", ShotID: shotID, FrameStart: 100, FrameEnd: 109, Missing: []int{103},
	})
	rec.OnRecordReport(recorder.RecordReport{
		CameraID: "B", ShotID: shotID, FrameStart: 100, FrameEnd: 109,
	})

	require.NoError(t, <-stopDone)

	attrs, ok := store.Get(shotID)
	require.True(t, ok)
	assert.Equal(t, 100, attrs["frame_start"])
	assert.Equal(t, 109, attrs["frame_end"])
	assert.Equal(t, entity.ShotRecorded, attrs["state"])

	missing, ok := attrs["missing_frames"].(map[string][]int)
	require.True(t, ok)
	assert.Equal(t, []int{103}, missing["A"])
	assert.Empty(t, missing["B"])

	dispatch.mu.Lock()
	defer dispatch.mu.Unlock()
	require.Len(t, dispatch.broadcast, 2, "start and stop each broadcast one TOGGLE_RECORDING")
	assert.Equal(t, "true", dispatch.broadcast[0].Header["is_start"])
	assert.Equal(t, "false", dispatch.broadcast[1].Header["is_start"])
}
