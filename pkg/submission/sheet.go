// Package submission builds the per-job YAML parameter sheet, composes the
// linear farm job graph (initialize → resolve → conversion → export), and
// polls per-frame task status until the job resolves.
package submission

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Sheet is the submission YAML schema handed to the farm driver via
// ExtraInfoKeyValue[yaml_path].
type Sheet struct {
	Version     string `yaml:"version"`
	StartFrame  int    `yaml:"start_frame"`
	EndFrame    int    `yaml:"end_frame"`
	OffsetFrame int    `yaml:"offset_frame"`

	ShotPath string `yaml:"shot_path"`
	JobPath  string `yaml:"job_path"`
	CaliPath string `yaml:"cali_path"`

	ProjectName string `yaml:"project_name"`
	ProjectID   string `yaml:"project_id"`
	ShotName    string `yaml:"shot_name"`
	ShotID      string `yaml:"shot_id"`
	JobName     string `yaml:"job_name"`
	JobID       string `yaml:"job_id"`

	NoCloudSync bool `yaml:"no_cloud_sync"`

	TextureSize             int     `yaml:"texture_size"`
	RegionSize              int     `yaml:"region_size"`
	SmoothModel             float64 `yaml:"smooth_model"`
	MatchPhotosInterval     int     `yaml:"match_photos_interval"`
	MeshCleanFacesThreshold float64 `yaml:"mesh_clean_faces_threshold"`
	SkipMasks               bool    `yaml:"skip_masks"`
}

// WritePath returns the conventional path for a job's parameter sheet,
// written inside the job folder as job.yml.
func WritePath(jobFolder string) string {
	return filepath.Join(jobFolder, "job.yml")
}

// Write marshals sheet and writes it to WritePath(jobFolder).
func Write(jobFolder string, sheet Sheet) error {
	data, err := yaml.Marshal(sheet)
	if err != nil {
		return fmt.Errorf("submission: marshal sheet: %w", err)
	}
	if err := os.MkdirAll(jobFolder, 0o755); err != nil {
		return fmt.Errorf("submission: create job folder: %w", err)
	}
	if err := os.WriteFile(WritePath(jobFolder), data, 0o644); err != nil {
		return fmt.Errorf("submission: write sheet: %w", err)
	}
	return nil
}

// Read loads a sheet previously written by Write, given the yaml_path the
// farm driver was handed (cmd/resolve's --yaml_path).
func Read(yamlPath string) (Sheet, error) {
	var sheet Sheet
	data, err := os.ReadFile(yamlPath)
	if err != nil {
		return sheet, fmt.Errorf("submission: read sheet: %w", err)
	}
	if err := yaml.Unmarshal(data, &sheet); err != nil {
		return sheet, fmt.Errorf("submission: parse sheet: %w", err)
	}
	return sheet, nil
}
