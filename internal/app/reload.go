package app

import (
	"log"

	"go.uber.org/multierr"

	"github.com/ayusman/krypton/internal/config"
)

// ApplyConfig re-applies the hot-reloadable settings: detection thresholds,
// frame skip, speed, loop and the model. Settings that fail validation are
// skipped and reported together.
func (a *App) ApplyConfig(cfg *config.Config) error {
	var err error

	err = multierr.Append(err, a.SetThresholds(cfg.Detection.Confidence, cfg.Detection.IOU))
	err = multierr.Append(err, a.SetFrameSkip(cfg.Playback.FrameSkip))
	err = multierr.Append(err, a.SetSpeed(cfg.Playback.Speed))
	err = multierr.Append(err, a.SetLoop(cfg.Playback.Loop))

	if cfg.Detection.Model != "" && cfg.Detection.Model != a.detector.ModelID() {
		if lerr := a.LoadModel(cfg.Detection.Model); lerr != nil {
			err = multierr.Append(err, lerr)
		} else {
			log.Printf("app: switched model to %s", cfg.Detection.Model)
		}
	}

	return err
}
