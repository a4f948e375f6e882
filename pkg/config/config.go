// Package config loads process configuration for cmd/master, cmd/slave and
// cmd/resolve. A YAML file supplies the topology/paths that differ per
// studio deployment; environment variables (loaded from an optional .env via
// godotenv) override the log level and log format.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// loadDotenv loads an optional .env file into the process environment
// before env.Parse runs. A missing .env is not an error: most deployments
// set these vars directly rather than via a file.
func loadDotenv() {
	_ = godotenv.Load()
}

// Master is the cmd/master process configuration.
type Master struct {
	ListenAddr       string            `yaml:"listen_addr"`
	ProjectsRoot     string            `yaml:"projects_root"`
	ExpectedCameras  map[string][]string `yaml:"expected_cameras"` // hostname -> camera serials
	OfflineDeadline  float64           `yaml:"offline_deadline_seconds"`
	PollInterval     float64           `yaml:"poll_interval_seconds"`
	StatusAPIAddr    string            `yaml:"status_api_addr"`
	CloudSyncBaseURL string            `yaml:"cloud_sync_base_url"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Slave is the cmd/slave process configuration.
type Slave struct {
	Hostname        string   `yaml:"hostname"`
	MasterAddr      string   `yaml:"master_addr"`
	ExpectedSerials []string `yaml:"expected_serials"`
	ShotRoot        string   `yaml:"shot_root"`
	RingBufferSize  int      `yaml:"ring_buffer_size"`
	LiveViewFPS     float64  `yaml:"live_view_fps"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Resolve is the cmd/resolve process configuration (mostly CLI-driven; the
// YAML here is the per-job submission sheet read from --yaml_path).
type Resolve struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// LoadMaster reads a YAML topology file and layers env overrides on top.
func LoadMaster(path string) (*Master, error) {
	loadDotenv()
	cfg := &Master{
		OfflineDeadline: 1.0,
		PollInterval:    60.0,
	}
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse master env config: %w", err)
	}
	return cfg, nil
}

// LoadSlave reads a YAML topology file and layers env overrides on top.
func LoadSlave(path string) (*Slave, error) {
	loadDotenv()
	cfg := &Slave{
		RingBufferSize: 8,
		LiveViewFPS:    15,
	}
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse slave env config: %w", err)
	}
	return cfg, nil
}

// LoadResolve builds the ambient resolve-process config purely from env
// (the resolve CLI's actual inputs are its flags, per §6).
func LoadResolve() (*Resolve, error) {
	loadDotenv()
	cfg := &Resolve{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse resolve env config: %w", err)
	}
	return cfg, nil
}

func loadYAML(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}
