// File: internal/server/handlers.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xkilldash9x/recplay/api/schemas"
	"github.com/xkilldash9x/recplay/internal/dispatch"
	"github.com/xkilldash9x/recplay/internal/recordings"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 10 << 20

const (
	msgInvalidPayload = "Invalid payload. Expected array or { startUrl, actions: [...] }"
	msgFileMissing    = "file field missing"
	msgRunnerMissing  = "Runner JAR not found"
)

// RecordingStore persists and looks up recordings.
type RecordingStore interface {
	Save(rec *schemas.StoredRecording) (string, error)
	List() ([]string, error)
	Resolve(name string) (string, error)
}

// PlaybackRunner dispatches recordings to the playback engine.
type PlaybackRunner interface {
	ResolveMode(mode string) (string, error)
	FindArtifact() (string, dispatch.Diagnostics, error)
	Run(ctx context.Context, artifact, recordingPath, mode string) (*schemas.RunResult, error)
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	OK          bool                  `json:"ok"`
	Error       string                `json:"error"`
	Diagnostics *dispatch.Diagnostics `json:"diagnostics,omitempty"`
}

// Handlers serves the recording endpoints.
type Handlers struct {
	log    *zap.Logger
	store  RecordingStore
	runner PlaybackRunner
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(logger *zap.Logger, store RecordingStore, runner PlaybackRunner) *Handlers {
	return &Handlers{
		log:    logger.Named("handlers"),
		store:  store,
		runner: runner,
	}
}

// RegisterRoutes mounts the service endpoints on r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/ping", h.HandlePing)
	r.Post("/save", h.HandleSave)
	r.Get("/recordings", h.HandleList)
	r.Post("/run", h.HandleRun)
}

// HandlePing is the liveness probe.
func (h *Handlers) HandlePing(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// HandleSave normalizes a recording body and writes it to the store.
func (h *Handlers) HandleSave(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read body: %v", err))
		return
	}

	rec, err := schemas.ParseSavePayload(body)
	if err != nil {
		h.log.Warn("Rejected save payload.", zap.Error(err), zap.String("request_id", middleware.GetReqID(r.Context())))
		h.respondWithError(w, http.StatusBadRequest, msgInvalidPayload)
		return
	}

	name, err := h.store.Save(rec)
	if err != nil {
		h.log.Error("Failed to save recording.", zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, schemas.SaveResult{OK: true, Name: name})
}

// HandleList returns the stored recording names.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.List()
	if err != nil {
		h.log.Error("Failed to list recordings.", zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, names)
}

// HandleRun plays a stored recording and replies when the engine exits.
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req schemas.RunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.File == "" {
		h.respondWithError(w, http.StatusBadRequest, msgFileMissing)
		return
	}

	mode, err := h.runner.ResolveMode(req.Mode)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	artifact, diag, err := h.runner.FindArtifact()
	if err != nil {
		h.log.Error("Runner artifact unavailable.", zap.Error(err), zap.String("dir", diag.Dir))
		h.respondJSON(w, http.StatusInternalServerError, errorResponse{
			Error:       msgRunnerMissing,
			Diagnostics: &diag,
		})
		return
	}

	path, err := h.store.Resolve(req.File)
	if err != nil {
		if errors.Is(err, recordings.ErrRecordingNotFound) || errors.Is(err, recordings.ErrInvalidName) {
			h.respondWithError(w, http.StatusBadRequest, "Recording not found: "+req.File)
			return
		}
		h.respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.log.Info("Dispatching recording.", zap.String("file", req.File), zap.String("mode", mode), zap.String("artifact", artifact))
	result, err := h.runner.Run(r.Context(), artifact, path, mode)
	if err != nil {
		h.log.Error("Runner failed to start.", zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

// respondWithError sends a standardized JSON error response.
func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.respondJSON(w, statusCode, errorResponse{Error: message})
}

func (h *Handlers) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
