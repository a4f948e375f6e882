// Package fake provides a deterministic in-memory farm.Driver for tests
// and local/demo runs, standing in for the opaque render-farm job-system
// binding.
package fake

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/moonshinevfx/4drec-go/pkg/farm"
)

type batch struct {
	spec   farm.StageSpec
	frames []int
	states map[int]farm.TaskState
	deleted bool
}

// Driver is a farm.Driver backed by in-memory state. Each TaskStates call
// advances every non-terminal task one step toward COMPLETED, so tests can
// observe a realistic multi-poll convergence without sleeping.
type Driver struct {
	mu      sync.Mutex
	batches map[farm.BatchID]*batch
	counter atomic.Int64
}

// New builds an empty fake driver.
func New() *Driver {
	return &Driver{batches: make(map[farm.BatchID]*batch)}
}

func (d *Driver) Submit(ctx context.Context, spec farm.StageSpec) (farm.BatchID, error) {
	frames, err := parseFrames(spec.Frames)
	if err != nil {
		return "", err
	}

	id := farm.BatchID(fmt.Sprintf("batch-%d", d.counter.Add(1)))
	states := make(map[int]farm.TaskState, len(frames))
	for _, f := range frames {
		states[f] = farm.TaskQueued
	}

	d.mu.Lock()
	d.batches[id] = &batch{spec: spec, frames: frames, states: states}
	d.mu.Unlock()
	return id, nil
}

func (d *Driver) TaskStates(ctx context.Context, id farm.BatchID) (map[int]farm.TaskState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.batches[id]
	if !ok || b.deleted {
		return nil, farm.ErrBatchDeleted
	}

	for _, f := range b.frames {
		switch b.states[f] {
		case farm.TaskQueued:
			b.states[f] = farm.TaskRendering
		case farm.TaskRendering:
			b.states[f] = farm.TaskCompleted
		}
	}

	out := make(map[int]farm.TaskState, len(b.states))
	for k, v := range b.states {
		out[k] = v
	}
	return out, nil
}

func (d *Driver) Cancel(ctx context.Context, id farm.BatchID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.batches[id]; ok {
		b.deleted = true
	}
	return nil
}

// Delete marks a batch as gone, simulating the farm having purged it — used
// by tests exercising the poller's "deleted" stop condition.
func (d *Driver) Delete(id farm.BatchID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.batches[id]; ok {
		b.deleted = true
	}
}

func parseFrames(spec string) ([]int, error) {
	if spec == "0" || spec == "" {
		return []int{0}, nil
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return []int{0}, nil
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("fake: invalid frame range %q: %w", spec, err)
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("fake: invalid frame range %q: %w", spec, err)
	}
	frames := make([]int, 0, end-start+1)
	for f := start; f <= end; f++ {
		frames = append(frames, f)
	}
	return frames, nil
}
