package registry_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonshinevfx/4drec-go/pkg/camera"
	"github.com/moonshinevfx/4drec-go/pkg/logger"
	"github.com/moonshinevfx/4drec-go/pkg/master/registry"
)

type fakeImageLibrary struct {
	mu        sync.Mutex
	published []camera.Status
}

func (l *fakeImageLibrary) PublishState(s camera.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.published = append(l.published, s)
}

func (l *fakeImageLibrary) snapshot() []camera.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]camera.Status(nil), l.published...)
}

// TestOfflineDetection is scenario 1 of §8: a camera that stops reporting
// for longer than the deadline must be observed OFFLINE shortly after.
func TestOfflineDetection(t *testing.T) {
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)

	images := &fakeImageLibrary{}
	reg := registry.New([]string{"X"}, 50*time.Millisecond, images, log)

	var mu sync.Mutex
	var seen []camera.State
	reg.RegisterListener(func(s camera.Status) {
		mu.Lock()
		seen = append(seen, s.State)
		mu.Unlock()
	})

	reg.UpdateStatus(camera.Status{Serial: "X", State: camera.Standby}, false)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 1 && seen[len(seen)-1] == camera.Offline
	}, time.Second, 5*time.Millisecond)

	status, ok := reg.Status("X")
	require.True(t, ok)
	assert.Equal(t, camera.Offline, status.State)
	assert.NotEmpty(t, images.snapshot(), "image library must learn about the offline transition")
}

func TestUpdateStatusSkipsNoopUpdates(t *testing.T) {
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)

	images := &fakeImageLibrary{}
	reg := registry.New([]string{"X"}, time.Hour, images, log)

	var notifications int
	reg.RegisterListener(func(camera.Status) { notifications++ })

	reg.UpdateStatus(camera.Status{Serial: "X", State: camera.Standby}, false)
	reg.UpdateStatus(camera.Status{Serial: "X", State: camera.Standby}, false)

	assert.Equal(t, 1, notifications, "repeated identical non-CAPTURING status must not re-notify")
}

func TestUpdateStatusAlwaysNotifiesWhileCapturing(t *testing.T) {
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)

	reg := registry.New([]string{"X"}, time.Hour, &fakeImageLibrary{}, log)

	var notifications int
	reg.RegisterListener(func(camera.Status) { notifications++ })

	reg.UpdateStatus(camera.Status{Serial: "X", State: camera.Capturing, CurrentFrame: 1}, false)
	reg.UpdateStatus(camera.Status{Serial: "X", State: camera.Capturing, CurrentFrame: 2}, false)

	assert.Equal(t, 2, notifications, "CAPTURING updates always notify even with the same state")
}
