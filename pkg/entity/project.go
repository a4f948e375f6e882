package entity

import "path/filepath"

// ShotState is the monotonically non-decreasing lifecycle of a Shot.
type ShotState int

const (
	ShotCreated ShotState = iota
	ShotRecorded
	ShotSubmitted
)

// JobState is the lifecycle of a Job; RESOLVED only once every frame's
// task-state is COMPLETED.
type JobState int

const (
	JobCreated JobState = iota
	JobResolved
)

// Project owns an ordered list of Shots and has a display name plus an
// on-disk root folder.
type Project struct {
	ID          string
	DisplayName string
	RootFolder  string
}

// CreateProject registers a new Project under projectsRoot/displayName.
func CreateProject(s *Store, projectsRoot, displayName string) (string, error) {
	return s.Create(KindProject, "", func(string) string {
		return filepath.Join(projectsRoot, displayName)
	}, map[string]any{
		"display_name": displayName,
		"shot_ids":     []string{},
	}, nil)
}

// CreateShot registers a new Shot under the given project.
func CreateShot(s *Store, projectID, projectFolder, displayName string, isCalibration bool) (string, error) {
	return s.Create(KindShot, projectID, func(id string) string {
		return filepath.Join(projectFolder, "shots", id)
	}, map[string]any{
		"display_name":   displayName,
		"state":          ShotCreated,
		"is_calibration": isCalibration,
		"frame_start":    nil,
		"frame_end":      nil,
		"total_size":     int64(0),
		"missing_frames": map[string][]int{}, // camera_id -> missing frame numbers
	}, nil)
}

// CreateJob registers a new Job under the given shot.
func CreateJob(s *Store, shotID, shotFolder, name string, frameStart, frameEnd int, params map[string]any) (string, error) {
	return s.Create(KindJob, shotID, func(id string) string {
		return filepath.Join(shotFolder, "jobs", id)
	}, map[string]any{
		"name":         name,
		"state":        JobCreated,
		"frame_start":  frameStart,
		"frame_end":    frameEnd,
		"params":       params,
		"batch_ids":    []string{}, // ordered: initialize, resolve, conversion, export
		"task_states":  map[string]int{},
	}, nil)
}
