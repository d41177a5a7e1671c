package api

import (
	"net/http"
	"strings"

	"github.com/ayusman/krypton/internal/app"
	"github.com/ayusman/krypton/internal/detector"
	"github.com/ayusman/krypton/internal/export"
	"github.com/ayusman/krypton/internal/stats"
)

// Controller is the command surface the handlers drive. *app.App implements it.
type Controller interface {
	Status() app.Status
	LoadImage(path string) error
	LoadVideo(path string) error
	SwitchToCamera() error
	Play() error
	Pause() error
	TogglePause() error
	Stop() error
	Restart() error
	Seek(fraction float64) error
	SetSpeed(speed float64) error
	SetFrameSkip(skip int) error
	SetLoop(loop bool) error
	SetThresholds(confidence, iou float64) error
	LoadModel(id string) error
	ExportResults(format export.Format, stub string) (string, error)
	Snapshot() (string, error)
	Statistics() stats.Summary
}

// ControlHandler serves the command endpoints under /api.
type ControlHandler struct {
	app Controller
}

// NewControlHandler creates a new ControlHandler driving c.
func NewControlHandler(c Controller) *ControlHandler {
	return &ControlHandler{app: c}
}

type pathRequest struct {
	Path string `json:"path"`
}

type seekRequest struct {
	Fraction *float64 `json:"fraction"`
}

type valueRequest struct {
	Value *float64 `json:"value"`
}

type loopRequest struct {
	Enabled bool `json:"enabled"`
}

type detectionRequest struct {
	Confidence *float64 `json:"confidence"`
	IOU        *float64 `json:"iou"`
}

type modelRequest struct {
	Model string `json:"model"`
}

type exportRequest struct {
	Format string `json:"format"`
	Path   string `json:"path"`
}

type pathResponse struct {
	Path string `json:"path"`
}

type modelsResponse struct {
	Current   string                 `json:"current"`
	Loaded    bool                   `json:"loaded"`
	Device    detector.DeviceInfo    `json:"device"`
	Available []detector.ModelOption `json:"available"`
}

// ServeHTTP routes the command endpoints.
func (h *ControlHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/")

	switch {
	case path == "status":
		h.get(w, r, h.status)
	case path == "statistics":
		h.get(w, r, h.statistics)
	case path == "model" && r.Method == http.MethodGet:
		h.models(w)
	case path == "model":
		h.post(w, r, h.loadModel)
	case strings.HasPrefix(path, "source/"):
		h.post(w, r, func(w http.ResponseWriter, r *http.Request) {
			h.source(w, r, strings.TrimPrefix(path, "source/"))
		})
	case strings.HasPrefix(path, "playback/"):
		h.post(w, r, func(w http.ResponseWriter, r *http.Request) {
			h.playback(w, r, strings.TrimPrefix(path, "playback/"))
		})
	case path == "detection":
		h.post(w, r, h.detection)
	case path == "export":
		h.post(w, r, h.export)
	case path == "snapshot":
		h.post(w, r, h.snapshot)
	default:
		http.NotFound(w, r)
	}
}

func (h *ControlHandler) get(w http.ResponseWriter, r *http.Request, fn http.HandlerFunc) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	fn(w, r)
}

func (h *ControlHandler) post(w http.ResponseWriter, r *http.Request, fn http.HandlerFunc) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	fn(w, r)
}

// respond writes the application status after a successful command.
func (h *ControlHandler) respond(w http.ResponseWriter, err error) {
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.app.Status())
}

// status handles GET /api/status.
func (h *ControlHandler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Status())
}

// statistics handles GET /api/statistics[?format=text].
func (h *ControlHandler) statistics(w http.ResponseWriter, r *http.Request) {
	summary := h.app.Statistics()
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(stats.Render(summary, 30)))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// models handles GET /api/model.
func (h *ControlHandler) models(w http.ResponseWriter) {
	st := h.app.Status()
	writeJSON(w, http.StatusOK, modelsResponse{
		Current:   st.Model,
		Loaded:    st.ModelLoaded,
		Device:    st.Device,
		Available: detector.AvailableModels,
	})
}

// loadModel handles POST /api/model {model}.
func (h *ControlHandler) loadModel(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	h.respond(w, h.app.LoadModel(req.Model))
}

// source handles POST /api/source/{camera|image|video}.
func (h *ControlHandler) source(w http.ResponseWriter, r *http.Request, kind string) {
	if kind == "camera" {
		h.respond(w, h.app.SwitchToCamera())
		return
	}

	var load func(string) error
	switch kind {
	case "image":
		load = h.app.LoadImage
	case "video":
		load = h.app.LoadVideo
	default:
		http.NotFound(w, r)
		return
	}

	var req pathRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	h.respond(w, load(req.Path))
}

// playback handles POST /api/playback/{action}.
func (h *ControlHandler) playback(w http.ResponseWriter, r *http.Request, action string) {
	switch action {
	case "play":
		h.respond(w, h.app.Play())
	case "pause":
		h.respond(w, h.app.Pause())
	case "toggle":
		h.respond(w, h.app.TogglePause())
	case "stop":
		h.respond(w, h.app.Stop())
	case "restart":
		h.respond(w, h.app.Restart())

	case "seek":
		var req seekRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Fraction == nil {
			writeError(w, http.StatusBadRequest, "fraction is required")
			return
		}
		h.respond(w, h.app.Seek(*req.Fraction))

	case "speed":
		var req valueRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Value == nil {
			writeError(w, http.StatusBadRequest, "value is required")
			return
		}
		h.respond(w, h.app.SetSpeed(*req.Value))

	case "skip":
		var req valueRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Value == nil || *req.Value != float64(int(*req.Value)) {
			writeError(w, http.StatusBadRequest, "value must be an integer")
			return
		}
		h.respond(w, h.app.SetFrameSkip(int(*req.Value)))

	case "loop":
		var req loopRequest
		if !decode(w, r, &req) {
			return
		}
		h.respond(w, h.app.SetLoop(req.Enabled))

	default:
		http.NotFound(w, r)
	}
}

// detection handles POST /api/detection {confidence?, iou?}.
func (h *ControlHandler) detection(w http.ResponseWriter, r *http.Request) {
	var req detectionRequest
	if !decode(w, r, &req) {
		return
	}

	current := h.app.Status().Settings
	confidence, iou := current.Confidence, current.IOU
	if req.Confidence != nil {
		confidence = *req.Confidence
	}
	if req.IOU != nil {
		iou = *req.IOU
	}
	h.respond(w, h.app.SetThresholds(confidence, iou))
}

// export handles POST /api/export {format, path?}.
func (h *ControlHandler) export(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !decode(w, r, &req) {
		return
	}

	format := export.FormatJSON
	if req.Format != "" {
		var err error
		if format, err = export.ParseFormat(req.Format); err != nil {
			WriteError(w, err)
			return
		}
	}

	path, err := h.app.ExportResults(format, req.Path)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pathResponse{Path: path})
}

// snapshot handles POST /api/snapshot.
func (h *ControlHandler) snapshot(w http.ResponseWriter, r *http.Request) {
	path, err := h.app.Snapshot()
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pathResponse{Path: path})
}
