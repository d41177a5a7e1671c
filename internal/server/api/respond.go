// Package api provides the HTTP command and catalog handlers of the Krypton UI.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayusman/krypton/internal/app"
	"github.com/ayusman/krypton/internal/capture"
	"github.com/ayusman/krypton/internal/detector"
	"github.com/ayusman/krypton/internal/export"
	"github.com/ayusman/krypton/internal/playback"
	"github.com/ayusman/krypton/internal/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// WriteError writes err with the status code its kind maps to.
func WriteError(w http.ResponseWriter, err error) {
	writeError(w, StatusFor(err), err.Error())
}

// StatusFor maps an error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, playback.ErrInvalidArgument),
		errors.Is(err, export.ErrUnknownFormat),
		errors.Is(err, capture.ErrUnsupportedFormat):
		return http.StatusBadRequest

	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, app.ErrNoFrame),
		errors.Is(err, app.ErrNoResults):
		return http.StatusNotFound

	case errors.Is(err, playback.ErrInvalidTransition),
		errors.Is(err, playback.ErrAlreadyRunning),
		errors.Is(err, capture.ErrSeekUnsupported),
		errors.Is(err, app.ErrNoSession):
		return http.StatusConflict

	case errors.Is(err, detector.ErrModelNotLoaded),
		errors.Is(err, detector.ErrModelLoad),
		errors.Is(err, capture.ErrSourceUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// decode reads a JSON request body into v, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
