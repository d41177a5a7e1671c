// Package config loads the YAML configuration and watches it for changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Detection backends.
const (
	BackendONNX    = "onnx"
	BackendService = "service"
)

// Config is the complete application configuration.
type Config struct {
	Detection DetectionConfig `yaml:"detection"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Camera    CameraConfig    `yaml:"camera"`
	Paths     PathsConfig     `yaml:"paths"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DetectionConfig selects the model and its thresholds.
type DetectionConfig struct {
	Model         string  `yaml:"model"`
	Backend       string  `yaml:"backend"` // onnx, service
	UseCUDA       bool    `yaml:"use_cuda"`
	Confidence    float64 `yaml:"confidence"`
	IOU           float64 `yaml:"iou"`
	MaxDetections int     `yaml:"max_detections"`
}

// PlaybackConfig holds the playback defaults applied to every new session.
type PlaybackConfig struct {
	FrameSkip   int     `yaml:"frame_skip"`
	Speed       float64 `yaml:"speed"`
	Loop        bool    `yaml:"loop"`
	EventBuffer int     `yaml:"event_buffer"`
}

// CameraConfig contains camera settings.
type CameraConfig struct {
	Device    int  `yaml:"device"`
	FPS       int  `yaml:"fps"`
	AutoStart bool `yaml:"auto_start"`
}

// PathsConfig locates models, outputs and the artifact database.
type PathsConfig struct {
	ModelsDir string `yaml:"models_dir"`
	OutputDir string `yaml:"output_dir"`
	Database  string `yaml:"database"`
}

// ServerConfig contains the HTTP UI settings.
type ServerConfig struct {
	Listen    string `yaml:"listen"`
	StaticDir string `yaml:"static_dir"`
	Tray      bool   `yaml:"tray"`
}

// LoggingConfig optionally tees log output to a rotated file.
type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Detection: DetectionConfig{
			Model:         "yolov8n.onnx",
			Backend:       BackendONNX,
			Confidence:    0.5,
			IOU:           0.45,
			MaxDetections: 100,
		},
		Playback: PlaybackConfig{
			Speed:       1.0,
			EventBuffer: 8,
		},
		Camera: CameraConfig{
			FPS:       30,
			AutoStart: true,
		},
		Paths: PathsConfig{
			ModelsDir: "~/.krypton/models",
			OutputDir: "~/.krypton/output",
			Database:  "~/.krypton/krypton.db",
		},
		Server: ServerConfig{
			Listen:    "127.0.0.1:8080",
			StaticDir: "web",
			Tray:      true,
		},
		Logging: LoggingConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads a YAML file on top of the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.Paths.ModelsDir = ExpandHome(cfg.Paths.ModelsDir)
	cfg.Paths.OutputDir = ExpandHome(cfg.Paths.OutputDir)
	cfg.Paths.Database = ExpandHome(cfg.Paths.Database)
	cfg.Logging.File = ExpandHome(cfg.Logging.File)

	return cfg, nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
