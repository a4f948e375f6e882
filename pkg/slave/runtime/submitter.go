package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/moonshinevfx/4drec-go/pkg/bus"
	"github.com/moonshinevfx/4drec-go/pkg/errs"
	"github.com/moonshinevfx/4drec-go/pkg/logger"
)

// bypassBand is the ±40% tolerance around the expected per-frame JPEG size
// within which an existing destination file is accepted as-is rather than
// re-written (spec.md §4.D, `bypass_exist_size`).
const bypassBand = 0.4

// SubmitSpec describes one shot-submission job: a contiguous frame range
// for this camera, the destination directory its JPEGs are staged into,
// and the expected per-frame byte size used for the bypass band.
type SubmitSpec struct {
	ShotID       string
	JobName      string
	FrameStart   int
	FrameEnd     int
	IsCalibration bool
	DestDir      string
	ExpectedSize int64
}

// Submitter stages one camera's captured shot frames into a destination
// directory for the farm, skipping frames that already look correct
// (bypass_exist_size) and emitting one SUBMIT_REPORT per frame attempted.
type Submitter struct {
	cam  *Camera
	log  *logger.Logger
	emit func(msg *bus.Message)
}

// NewSubmitter builds a Submitter for cam, emitting SUBMIT_REPORT messages
// via emit.
func NewSubmitter(cam *Camera, log *logger.Logger, emit func(msg *bus.Message)) *Submitter {
	return &Submitter{cam: cam, log: log, emit: emit}
}

// Submit iterates [spec.FrameStart, spec.FrameEnd], bypassing frames whose
// destination file already exists within the ±40% size band, writing the
// rest from the shot container, and reporting progress after every frame
// attempted — including bypassed ones — so §4.G aggregation stays exact.
func (s *Submitter) Submit(ctx context.Context, spec SubmitSpec) error {
	if err := os.MkdirAll(spec.DestDir, 0o755); err != nil {
		return errs.New(errs.TransientIO, err)
	}

	total := spec.FrameEnd - spec.FrameStart + 1
	if total < 0 {
		total = 0
	}
	done := 0

	for f := spec.FrameStart; f <= spec.FrameEnd; f++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		dest := filepath.Join(spec.DestDir, fmt.Sprintf("%04d.jpg", f))
		bypassed, err := s.bypass(dest, spec.ExpectedSize)
		if err != nil {
			s.log.Warn("submitter: stat existing frame failed", "shot_id", spec.ShotID, "frame", f, "error", err)
		}

		if !bypassed {
			jpeg, err := s.cam.GetShotImage(spec.ShotID, f)
			if err != nil {
				// ResourceMissing per §7: warn, skip, and continue.
				s.log.Warn("submitter: frame missing from shot container", "shot_id", spec.ShotID, "frame", f, "error", err)
			} else if err := os.WriteFile(dest, jpeg, 0o644); err != nil {
				s.log.Warn("submitter: write destination frame failed", "shot_id", spec.ShotID, "frame", f, "error", err)
			}
		}

		done++
		s.emit(&bus.Message{
			Kind:      bus.SubmitReport,
			SlaveName: s.cam.serial,
			Header: map[string]string{
				"serial":   s.cam.serial,
				"shot_id":  spec.ShotID,
				"job_name": spec.JobName,
				"done":     fmt.Sprintf("%d", done),
				"total":    fmt.Sprintf("%d", total),
			},
		})
	}
	return nil
}

// bypass reports whether dest already exists with a size within ±40% of
// expected, meaning it can be left alone.
func (s *Submitter) bypass(dest string, expected int64) (bool, error) {
	if expected <= 0 {
		return false, nil
	}
	info, err := os.Stat(dest)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	lo := float64(expected) * (1 - bypassBand)
	hi := float64(expected) * (1 + bypassBand)
	size := float64(info.Size())
	return size >= lo && size <= hi, nil
}
