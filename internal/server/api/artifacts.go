package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/krypton/internal/store"
)

// ArtifactHandler serves the catalog of exports and snapshots.
type ArtifactHandler struct {
	store *store.Store
}

// NewArtifactHandler creates a new ArtifactHandler with the given store.
func NewArtifactHandler(s *store.Store) *ArtifactHandler {
	return &ArtifactHandler{store: s}
}

type listArtifactsResponse struct {
	Artifacts []*store.Artifact `json:"artifacts"`
}

// ServeHTTP routes /api/artifacts and /api/artifacts/{id}.
func (h *ArtifactHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/artifacts")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, path)
	case http.MethodDelete:
		h.delete(w, path)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// list handles GET /api/artifacts[?kind=export|snapshot].
func (h *ArtifactHandler) list(w http.ResponseWriter, r *http.Request) {
	kind := store.Kind(r.URL.Query().Get("kind"))
	if kind != "" && kind != store.KindExport && kind != store.KindSnapshot {
		writeError(w, http.StatusBadRequest, "kind must be export or snapshot")
		return
	}

	artifacts, err := h.store.Artifacts().List(kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list artifacts")
		return
	}
	if artifacts == nil {
		artifacts = []*store.Artifact{}
	}
	writeJSON(w, http.StatusOK, listArtifactsResponse{Artifacts: artifacts})
}

// get handles GET /api/artifacts/{id}.
func (h *ArtifactHandler) get(w http.ResponseWriter, id string) {
	a, err := h.store.Artifacts().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Artifact not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get artifact")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// delete handles DELETE /api/artifacts/{id}. The file on disk is kept.
func (h *ArtifactHandler) delete(w http.ResponseWriter, id string) {
	if err := h.store.Artifacts().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Artifact not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete artifact")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
