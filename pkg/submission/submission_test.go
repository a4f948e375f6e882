package submission_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonshinevfx/4drec-go/pkg/cloudsync"
	"github.com/moonshinevfx/4drec-go/pkg/entity"
	"github.com/moonshinevfx/4drec-go/pkg/farm"
	"github.com/moonshinevfx/4drec-go/pkg/farm/fake"
	"github.com/moonshinevfx/4drec-go/pkg/logger"
	"github.com/moonshinevfx/4drec-go/pkg/submission"
)

func TestSubmitChainWithConversion(t *testing.T) {
	root := t.TempDir()
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)
	store := entity.NewStore(root, log)
	driver := fake.New()
	sub := submission.New(driver, store, cloudsync.Noop{}, log)

	projectID, err := entity.CreateProject(store, root, "proj")
	require.NoError(t, err)
	shotID, err := entity.CreateShot(store, projectID, root+"/proj", "take1", false)
	require.NoError(t, err)
	jobID, err := entity.CreateJob(store, shotID, root+"/proj/shots/"+shotID, "job1", 0, 12, nil)
	require.NoError(t, err)

	order := submission.Order{
		JobFolder:   root + "/proj/shots/" + shotID + "/jobs/" + jobID,
		StartFrame:  0,
		EndFrame:    12,
		ResolveOnly: false,
		Sheet:       submission.Sheet{Version: "1", StartFrame: 0, EndFrame: 12, OffsetFrame: 5},
	}

	batchIDs, err := sub.Submit(context.Background(), jobID, order)
	require.NoError(t, err)
	require.Len(t, batchIDs, 4, "initialize, resolve, conversion, export")
}

func TestTaskPollToResolved(t *testing.T) {
	root := t.TempDir()
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)
	store := entity.NewStore(root, log)
	driver := fake.New()

	projectID, err := entity.CreateProject(store, root, "proj")
	require.NoError(t, err)
	shotID, err := entity.CreateShot(store, projectID, root+"/proj", "take1", false)
	require.NoError(t, err)
	jobID, err := entity.CreateJob(store, shotID, root+"/proj/shots/"+shotID, "job1", 0, 2, nil)
	require.NoError(t, err)

	batchID, err := driver.Submit(context.Background(), farm.StageSpec{Stage: farm.StageResolve, Frames: "0-2"})
	require.NoError(t, err)

	var progressEvents int
	store.RegisterCallback(jobID, func(ev entity.Event) {
		if ev.Kind == entity.Progress {
			progressEvents++
		}
	})

	poller := submission.NewPoller(driver, store, cloudsync.Noop{}, log, 6000)
	poller.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		poller.Watch(ctx, jobID, batchID, 0, 2)
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("poller did not resolve the job in time")
	}

	attrs, _ := store.Get(jobID)
	require.NotNil(t, attrs)
	assert.Equal(t, entity.JobResolved, attrs["state"])
	assert.GreaterOrEqual(t, progressEvents, 1)
}
