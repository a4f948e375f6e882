// Package farm defines the render-farm job-system binding as an opaque
// driver interface. Submission & Task Poller (pkg/submission) is the only
// caller; the driver itself — whatever job scheduler a studio actually
// runs — is out of scope, per spec.md's explicit non-goal on scheduling
// internals.
package farm

import "context"

// BatchID is an opaque external batch identifier returned by Submit.
type BatchID string

// TaskState is the deadline-style per-frame state encoding chosen to
// resolve the Design Notes' Open Question over two incompatible revisions
// observed in the source (opencue-style vs deadline-style); documented in
// DESIGN.md.
type TaskState int

const (
	TaskQueued    TaskState = 2
	TaskSuspended TaskState = 3
	TaskRendering TaskState = 4
	TaskCompleted TaskState = 5
	TaskFailed    TaskState = 6
	TaskPending   TaskState = 8
)

func (s TaskState) String() string {
	switch s {
	case TaskQueued:
		return "QUEUED"
	case TaskSuspended:
		return "SUSPENDED"
	case TaskRendering:
		return "RENDERING"
	case TaskCompleted:
		return "COMPLETED"
	case TaskFailed:
		return "FAILED"
	case TaskPending:
		return "PENDING"
	default:
		return "UNKNOWN"
	}
}

// Stage identifies one of the four submission stages.
type Stage string

const (
	StageInitialize Stage = "initialize"
	StageResolve    Stage = "resolve"
	StageConversion Stage = "conversion"
	StageExport     Stage = "export"
)

// StageSpec is everything the driver needs to submit one stage's batch.
type StageSpec struct {
	Stage            Stage
	Frames           string // "0" for single-frame stages, "A-B" for chunked
	FrameDependent   bool
	DependsOn        BatchID
	YAMLPath         string
	JobName          string
}

// ErrBatchDeleted is returned by TaskStates when the farm reports the batch
// no longer exists — the poller stops on this signal.
var ErrBatchDeleted = &DriverError{Msg: "batch deleted"}

// DriverError is a typed sentinel for farm-reported conditions the poller
// must branch on explicitly (as opposed to a transient I/O error).
type DriverError struct{ Msg string }

func (e *DriverError) Error() string { return e.Msg }

// Driver is the opaque render-farm binding.
type Driver interface {
	Submit(ctx context.Context, spec StageSpec) (BatchID, error)
	TaskStates(ctx context.Context, batch BatchID) (map[int]TaskState, error)
	Cancel(ctx context.Context, batch BatchID) error
}
