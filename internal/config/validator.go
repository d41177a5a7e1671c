package config

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Validate checks the configuration and fills zero values that have a
// default.
func Validate(cfg *Config) error {
	d := &cfg.Detection
	if d.Model == "" {
		return fmt.Errorf("%w: detection.model is required", ErrInvalid)
	}
	switch d.Backend {
	case "":
		d.Backend = BackendONNX
	case BackendONNX, BackendService:
	default:
		return fmt.Errorf("%w: detection.backend must be onnx or service, got %q", ErrInvalid, d.Backend)
	}
	if !unit(d.Confidence) {
		return fmt.Errorf("%w: detection.confidence must be in [0, 1], got %v", ErrInvalid, d.Confidence)
	}
	if !unit(d.IOU) {
		return fmt.Errorf("%w: detection.iou must be in [0, 1], got %v", ErrInvalid, d.IOU)
	}
	if d.MaxDetections < 0 {
		return fmt.Errorf("%w: detection.max_detections must be >= 0", ErrInvalid)
	}
	if d.MaxDetections == 0 {
		d.MaxDetections = 100
	}

	p := &cfg.Playback
	if p.FrameSkip < 0 {
		return fmt.Errorf("%w: playback.frame_skip must be >= 0", ErrInvalid)
	}
	if p.Speed == 0 {
		p.Speed = 1.0
	}
	if p.Speed < 0 || math.IsNaN(p.Speed) || math.IsInf(p.Speed, 0) {
		return fmt.Errorf("%w: playback.speed must be > 0, got %v", ErrInvalid, p.Speed)
	}
	if p.EventBuffer < 0 {
		return fmt.Errorf("%w: playback.event_buffer must be >= 0", ErrInvalid)
	}
	if p.EventBuffer == 0 {
		p.EventBuffer = 8
	}

	if cfg.Camera.Device < 0 {
		return fmt.Errorf("%w: camera.device must be >= 0", ErrInvalid)
	}
	if cfg.Camera.FPS <= 0 {
		cfg.Camera.FPS = 30
	}

	if cfg.Paths.OutputDir == "" {
		return fmt.Errorf("%w: paths.output_dir is required", ErrInvalid)
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = "127.0.0.1:8080"
	}

	return nil
}

func unit(v float64) bool {
	return v >= 0 && v <= 1
}
