package main

import (
	"context"
	"time"

	"github.com/moonshinevfx/4drec-go/pkg/api"
	"github.com/moonshinevfx/4drec-go/pkg/camera"
	"github.com/moonshinevfx/4drec-go/pkg/entity"
	"github.com/moonshinevfx/4drec-go/pkg/master/registry"
)

// statusSource adapts the Camera Registry and the entity Store to
// api.StatusSource, so the status API package stays decoupled from both
// concrete types.
type statusSource struct {
	reg   *registry.Registry
	store *entity.Store
}

func (s *statusSource) ListCameraStatuses(ctx context.Context) ([]api.CameraStatus, error) {
	statuses := s.reg.All()
	out := make([]api.CameraStatus, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, api.CameraStatus{
			Serial:    st.Serial,
			State:     st.State.String(),
			LastSeen:  time.Now(),
			LiveView:  false,
			Recording: st.State == camera.Capturing,
		})
	}
	return out, nil
}

func (s *statusSource) ListShots(ctx context.Context, projectID string) ([]api.ShotSummary, error) {
	ids := s.store.Children(projectID)
	out := make([]api.ShotSummary, 0, len(ids))
	for _, id := range ids {
		rec, ok := s.store.Get(id)
		if !ok {
			continue
		}
		out = append(out, api.ShotSummary{
			ID:         id,
			ProjectID:  projectID,
			FrameCount: frameCountOf(rec),
			MissingIDs: missingIDsOf(rec),
		})
	}
	return out, nil
}

func (s *statusSource) ListJobs(ctx context.Context, shotID string) ([]api.JobSummary, error) {
	ids := s.store.Children(shotID)
	out := make([]api.JobSummary, 0, len(ids))
	for _, id := range ids {
		rec, ok := s.store.Get(id)
		if !ok {
			continue
		}
		out = append(out, api.JobSummary{
			ID:       id,
			ShotID:   shotID,
			Stage:    stringField(rec, "stage"),
			Progress: progressOf(rec),
		})
	}
	return out, nil
}

func frameCountOf(rec map[string]any) int {
	start, _ := rec["frame_start"].(int)
	end, _ := rec["frame_end"].(int)
	if end < start {
		return 0
	}
	return end - start + 1
}

func missingIDsOf(rec map[string]any) []int {
	byCamera, _ := rec["missing_frames"].(map[string][]int)
	seen := make(map[int]bool)
	var out []int
	for _, frames := range byCamera {
		for _, f := range frames {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

func stringField(rec map[string]any, key string) string {
	v, _ := rec[key].(string)
	return v
}

func progressOf(rec map[string]any) float64 {
	done, _ := rec["done"].(int)
	total, _ := rec["total"].(int)
	if total == 0 {
		return 0
	}
	return float64(done) / float64(total)
}
