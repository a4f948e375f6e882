package entity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonshinevfx/4drec-go/pkg/entity"
	"github.com/moonshinevfx/4drec-go/pkg/logger"
)

func newStore(t *testing.T) *entity.Store {
	dir := t.TempDir()
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)
	return entity.NewStore(dir, log)
}

func TestUpdateIsIdempotent(t *testing.T) {
	s := newStore(t)
	projectID, err := entity.CreateProject(s, t.TempDir(), "demo")
	require.NoError(t, err)

	patch := map[string]any{"display_name": "renamed"}
	require.NoError(t, s.Update(projectID, patch))
	first, _ := s.Get(projectID)

	require.NoError(t, s.Update(projectID, patch))
	second, _ := s.Get(projectID)

	assert.Equal(t, first["display_name"], second["display_name"])
}

func TestRemoveCascadesToChildrenFirst(t *testing.T) {
	s := newStore(t)
	root := t.TempDir()
	projectID, err := entity.CreateProject(s, root, "demo")
	require.NoError(t, err)

	shotID, err := entity.CreateShot(s, projectID, root+"/demo", "take1", false)
	require.NoError(t, err)

	var order []string
	s.RegisterCallback("", func(ev entity.Event) {
		if ev.Kind == entity.Remove {
			order = append(order, ev.EntityID)
		}
	})

	require.NoError(t, s.Remove(projectID))

	require.Len(t, order, 2)
	assert.Equal(t, shotID, order[0], "child must emit REMOVE before parent")
	assert.Equal(t, projectID, order[1])

	_, ok := s.Get(projectID)
	assert.False(t, ok)
}

func TestCallbackPanicAutoUnregisters(t *testing.T) {
	s := newStore(t)
	root := t.TempDir()

	calls := 0
	bad := func(entity.Event) {
		calls++
		panic("boom")
	}
	s.RegisterCallback("", bad)

	id1, err := entity.CreateProject(s, root, "a")
	require.NoError(t, err)
	_, err = entity.CreateProject(s, root, "b")
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "panicking listener must be removed after its first invocation")
	_ = id1
}
