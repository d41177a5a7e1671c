package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ayusman/krypton/internal/app"
	"github.com/ayusman/krypton/internal/capture"
	"github.com/ayusman/krypton/internal/config"
	"github.com/ayusman/krypton/internal/detector"
	"github.com/ayusman/krypton/internal/export"
	"github.com/ayusman/krypton/internal/metrics"
	"github.com/ayusman/krypton/internal/playback"
	"github.com/ayusman/krypton/internal/server"
	"github.com/ayusman/krypton/internal/stats"
	"github.com/ayusman/krypton/internal/store"
	"github.com/ayusman/krypton/internal/tray"
)

// loadConfig reads the configuration named by the global flag and sets up logging.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Logging)
	return cfg, nil
}

// setupLogging tees the standard logger into a rotated file when one is configured.
func setupLogging(lc config.LoggingConfig) {
	if lc.File == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(lc.File), 0755); err != nil {
		log.Printf("log directory: %v", err)
		return
	}
	log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   lc.File,
		MaxSize:    lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAge:     lc.MaxAgeDays,
	}))
}

// newDetector builds the adapter for the configured backend.
func newDetector(cfg *config.Config) (*detector.Adapter, error) {
	var model detector.Model
	switch cfg.Detection.Backend {
	case config.BackendService:
		svc, err := detector.NewServiceModel()
		if err != nil {
			return nil, err
		}
		model = svc
	default:
		model = detector.NewONNXModel(cfg.Paths.ModelsDir, cfg.Detection.UseCUDA)
	}

	return detector.NewAdapter(model, detector.Config{
		Confidence:    cfg.Detection.Confidence,
		IOU:           cfg.Detection.IOU,
		MaxDetections: cfg.Detection.MaxDetections,
	}), nil
}

func playbackOptions(cfg *config.Config) playback.Options {
	return playback.Options{
		Confidence: cfg.Detection.Confidence,
		IOU:        cfg.Detection.IOU,
		FrameSkip:  cfg.Playback.FrameSkip,
		Speed:      cfg.Playback.Speed,
		Loop:       cfg.Playback.Loop,
	}
}

func runCommand(c *cli.Context) error {
	fmt.Println("Krypton - Real-time Object Detection")

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if addr := c.String(flagListen); addr != "" {
		cfg.Server.Listen = addr
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.Paths.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	det, err := newDetector(cfg)
	if err != nil {
		return err
	}
	if err := det.Load(cfg.Detection.Model); err != nil {
		log.Printf("Model %s not loaded: %v", cfg.Detection.Model, err)
	}

	m := metrics.New()
	a := app.New(det, app.Config{
		Playback:     playbackOptions(cfg),
		EventBuffer:  cfg.Playback.EventBuffer,
		OutputDir:    cfg.Paths.OutputDir,
		CameraDevice: cfg.Camera.Device,
		CameraFPS:    cfg.Camera.FPS,
		Store:        st,
		Metrics:      m,
	})
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("Shutdown: %v", err)
		}
	}()

	if path := c.String(flagConfig); path != "" {
		go func() {
			err := config.Watch(ctx, path, func(next *config.Config) {
				if err := a.ApplyConfig(next); err != nil {
					log.Printf("Config reload: %v", err)
				}
			})
			if err != nil {
				log.Printf("Config watch: %v", err)
			}
		}()
	}

	if cfg.Camera.AutoStart && det.Loaded() {
		if err := a.SwitchToCamera(); err != nil {
			log.Printf("Camera not started: %v", err)
		}
	}

	webDir := findWebDir(cfg.Server.StaticDir)
	if webDir != "" {
		fmt.Printf("Serving static files from: %s\n", webDir)
	}

	srv := server.New(server.Config{
		StaticDir: webDir,
		Store:     st,
		App:       a,
		Metrics:   m,
	})

	fmt.Printf("Starting server on %s\n", cfg.Server.Listen)
	if !cfg.Server.Tray || c.Bool(flagNoTray) {
		return srv.Run(ctx, cfg.Server.Listen)
	}

	// The tray owns the main goroutine; the server stops with it.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- srv.Run(ctx, cfg.Server.Listen) }()

	t := newTray(a, "http://"+cfg.Server.Listen)
	go trackStatus(ctx, a, t)
	go func() {
		<-ctx.Done()
		t.Quit()
	}()
	t.Run()

	cancel()
	return <-errc
}

// newTray wires the tray menu to the application commands.
func newTray(a *app.App, uiURL string) *tray.Tray {
	t := tray.New()
	report := func(what string, err error) {
		if err != nil {
			log.Printf("%s: %v", what, err)
		}
	}

	t.On(tray.ActionCamera, func() { report("Camera", a.SwitchToCamera()) })
	t.On(tray.ActionTogglePause, func() { report("Play/Pause", a.TogglePause()) })
	t.On(tray.ActionStop, func() { report("Stop", a.Stop()) })
	t.On(tray.ActionSnapshot, func() {
		path, err := a.Snapshot()
		report("Snapshot", err)
		if err == nil {
			log.Printf("Snapshot saved to %s", path)
		}
	})
	t.On(tray.ActionExport, func() {
		path, err := a.ExportResults(export.FormatJSON, "")
		report("Export", err)
		if err == nil {
			log.Printf("Results exported to %s", path)
		}
	})
	t.On(tray.ActionOpenUI, func() { report("Open UI", openBrowser(uiURL)) })
	return t
}

// trackStatus mirrors the latest update into the tray status line.
func trackStatus(ctx context.Context, a *app.App, t *tray.Tray) {
	updates, unsubscribe := a.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			status := fmt.Sprintf("%s, %d objects", u.State.Status, len(u.Detections))
			t.SetStatus(status, u.State.Status == playback.StatusPaused)
		}
	}
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

// findWebDir searches for the web directory in common locations.
// It checks the configured directory, "../web", "../../web", and ~/.krypton/web.
// Returns the first existing directory or empty string if none found.
func findWebDir(configured string) string {
	candidates := []string{configured, "../web", "../../web"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".krypton", "web"))
	}

	for _, p := range candidates {
		if p == "" {
			continue
		}
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}

func detectCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if id := c.String(flagModel); id != "" {
		cfg.Detection.Model = id
	}

	format, err := export.ParseFormat(c.String(flagFormat))
	if err != nil {
		return err
	}

	det, err := newDetector(cfg)
	if err != nil {
		return err
	}
	defer det.Close()

	if err := det.Load(cfg.Detection.Model); err != nil {
		return err
	}

	path, err := detectImage(det, c.String(flagImage), cfg, format, c.String(flagOutput))
	if err != nil {
		return err
	}
	fmt.Printf("Results exported to %s\n", path)
	return nil
}

// detectImage runs one inference on the image at imagePath, prints the class
// distribution and writes an export.
func detectImage(det *detector.Adapter, imagePath string, cfg *config.Config, format export.Format, stub string) (path string, err error) {
	src := capture.NewImageFile(imagePath)
	if err := src.Open(); err != nil {
		return "", err
	}
	defer func() { err = multierr.Append(err, src.Close()) }()

	frame, err := src.Read()
	if err != nil {
		return "", err
	}
	defer frame.Mat.Close()

	detections, err := det.Infer(frame.Mat, cfg.Detection.Confidence, cfg.Detection.IOU)
	if err != nil {
		return "", err
	}

	fmt.Print(stats.Render(det.Statistics(detections), 30))
	if len(detections) == 0 {
		return "", app.ErrNoResults
	}
	if stub == "" {
		stub = export.DefaultStub(cfg.Paths.OutputDir, time.Now())
	}
	return det.Export(detections, format, stub)
}

func devicesCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	det, err := newDetector(cfg)
	if err != nil {
		return err
	}
	defer det.Close()

	info := det.DeviceInfo()
	fmt.Printf("Backend: %s\n", cfg.Detection.Backend)
	fmt.Printf("Device:  %s\n", strings.ToUpper(info.Device))
	if info.Name != "" {
		fmt.Printf("Name:    %s\n", info.Name)
	}
	if info.MemoryFree != nil {
		fmt.Printf("Free:    %d MB\n", *info.MemoryFree/(1<<20))
	}

	fmt.Println("Models:")
	for _, m := range detector.AvailableModels {
		fmt.Printf("  %-14s %s\n", m.ID, m.Label)
	}
	return nil
}
