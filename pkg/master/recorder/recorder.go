// Package recorder implements the Shot Recorder & Report Aggregator: it
// orchestrates start/stop of a shot across every slave and aggregates the
// per-camera reports into the Shot entity.
package recorder

import (
	"context"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"

	"github.com/moonshinevfx/4drec-go/pkg/bus"
	"github.com/moonshinevfx/4drec-go/pkg/entity"
	"github.com/moonshinevfx/4drec-go/pkg/logger"
)

// RecordReport is the decoded payload of a RECORD_REPORT message.
type RecordReport struct {
	CameraID   string
	ShotID     string
	Missing    []int
	FrameStart int
	FrameEnd   int
	Size       int64
}

// SubmitReport is the decoded payload of a SUBMIT_REPORT message.
type SubmitReport struct {
	CameraID string
	ShotID   string
	JobName  string
	Done     int
	Total    int
}

// Dispatcher broadcasts a message to every connected slave.
type Dispatcher interface {
	Broadcast(msg *bus.Message)
}

// ProgressListener is notified of SUBMIT_REPORT aggregation ticks.
type ProgressListener func(jobName string, done, total int)

type pendingWait struct {
	expected map[string]bool
	reports  map[string]RecordReport
	done     chan struct{}
	mu       sync.Mutex
}

func newPendingWait(expected []string) *pendingWait {
	p := &pendingWait{expected: make(map[string]bool, len(expected)), reports: make(map[string]RecordReport), done: make(chan struct{})}
	for _, s := range expected {
		p.expected[s] = false
	}
	return p
}

func (p *pendingWait) record(r RecordReport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.expected[r.CameraID]; !ok {
		return
	}
	if p.expected[r.CameraID] {
		return // first report only, per §4.G
	}
	p.expected[r.CameraID] = true
	p.reports[r.CameraID] = r

	for _, got := range p.expected {
		if !got {
			return
		}
	}
	close(p.done)
}

// Recorder orchestrates shot recording lifecycle and report aggregation.
type Recorder struct {
	store           *entity.Store
	dispatch        Dispatcher
	log             *logger.Logger
	expectedSerials []string

	mu      sync.Mutex
	waiting map[string]*pendingWait // shot id -> in-flight start/stop wait

	progressMu sync.Mutex
	progress   map[string]int // job name -> aggregate done count
	listeners  []ProgressListener
}

// New builds a Recorder for the given expected camera serials.
func New(store *entity.Store, dispatch Dispatcher, expectedSerials []string, log *logger.Logger) *Recorder {
	return &Recorder{
		store:           store,
		dispatch:        dispatch,
		expectedSerials: expectedSerials,
		log:             log,
		waiting:         make(map[string]*pendingWait),
		progress:        make(map[string]int),
	}
}

// RegisterProgressListener subscribes to SUBMIT_REPORT aggregation ticks.
func (r *Recorder) RegisterProgressListener(fn ProgressListener) {
	r.progressMu.Lock()
	defer r.progressMu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// StartRecording broadcasts TOGGLE_RECORDING(start) and waits for the
// first RECORD_REPORT from every expected camera before returning.
func (r *Recorder) StartRecording(ctx context.Context, shotID string) error {
	return r.toggleAndAwait(ctx, shotID, true)
}

// StopRecording broadcasts TOGGLE_RECORDING(stop), waits for the first
// RECORD_REPORT from every expected camera, then aggregates the reports
// into the Shot entity: unions missing-frame sets, sums sizes, and
// resolves the final frame range as the intersection of per-camera
// ranges (§4.G, §8 testable property 2).
func (r *Recorder) StopRecording(ctx context.Context, shotID string) error {
	if err := r.toggleAndAwait(ctx, shotID, false); err != nil {
		return err
	}

	r.mu.Lock()
	wait := r.waiting[shotID]
	delete(r.waiting, shotID)
	r.mu.Unlock()
	if wait == nil {
		return fmt.Errorf("recorder: no pending wait for shot %s", shotID)
	}

	wait.mu.Lock()
	reports := make([]RecordReport, 0, len(wait.reports))
	for _, rep := range wait.reports {
		reports = append(reports, rep)
	}
	wait.mu.Unlock()

	return r.aggregate(shotID, reports)
}

func (r *Recorder) toggleAndAwait(ctx context.Context, shotID string, isStart bool) error {
	wait := newPendingWait(r.expectedSerials)
	r.mu.Lock()
	r.waiting[shotID] = wait
	r.mu.Unlock()

	r.dispatch.Broadcast(&bus.Message{
		Kind:   bus.ToggleRecording,
		Header: map[string]string{"is_start": fmt.Sprintf("%t", isStart), "shot_id": shotID},
	})

	select {
	case <-wait.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnRecordReport feeds a decoded RECORD_REPORT into any in-flight wait for
// its shot.
func (r *Recorder) OnRecordReport(rep RecordReport) {
	r.mu.Lock()
	wait := r.waiting[rep.ShotID]
	r.mu.Unlock()
	if wait == nil {
		r.log.Debug("recorder: record report with no pending wait, dropping", "shot_id", rep.ShotID, "camera_id", rep.CameraID)
		return
	}
	wait.record(rep)
}

// OnSubmitReport increments the per-job counter and notifies progress
// listeners (§4.G).
func (r *Recorder) OnSubmitReport(rep SubmitReport) {
	r.progressMu.Lock()
	r.progress[rep.JobName]++
	listeners := append([]ProgressListener(nil), r.listeners...)
	r.progressMu.Unlock()

	for _, fn := range listeners {
		fn(rep.JobName, rep.Done, rep.Total)
	}
}

func (r *Recorder) aggregate(shotID string, reports []RecordReport) error {
	if len(reports) == 0 {
		return fmt.Errorf("recorder: no reports to aggregate for shot %s", shotID)
	}

	missingByCamera := make(map[string][]int, len(reports))
	var totalSize int64
	var ranges [][]int
	for _, rep := range reports {
		missingByCamera[rep.CameraID] = lo.Union(missingByCamera[rep.CameraID], rep.Missing)
		totalSize += rep.Size
		ranges = append(ranges, frameRange(rep.FrameStart, rep.FrameEnd))
	}

	intersection := ranges[0]
	for _, rng := range ranges[1:] {
		intersection = lo.Intersect(intersection, rng)
	}
	start, end := boundsOf(intersection)

	r.log.Info("recorder: shot aggregated", "shot_id", shotID, "frame_start", start, "frame_end", end,
		"total_size", humanize.Bytes(uint64(totalSize)))

	return r.store.Update(shotID, map[string]any{
		"state":          entity.ShotRecorded,
		"frame_start":    start,
		"frame_end":      end,
		"missing_frames": missingByCamera,
		"total_size":     totalSize,
	})
}

func frameRange(start, end int) []int {
	if end < start {
		return nil
	}
	out := make([]int, 0, end-start+1)
	for f := start; f <= end; f++ {
		out = append(out, f)
	}
	return out
}

func boundsOf(frames []int) (int, int) {
	if len(frames) == 0 {
		return 0, -1
	}
	min, max := frames[0], frames[0]
	for _, f := range frames {
		if f < min {
			min = f
		}
		if f > max {
			max = f
		}
	}
	return min, max
}
