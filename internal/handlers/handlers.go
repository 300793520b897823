// Package handlers exposes the detector administration HTTP API.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kestrelwatch/kestrel/internal/repository"
	"github.com/kestrelwatch/kestrel/internal/service"
)

type Handler struct {
	service *service.Service
	logger  *slog.Logger
}

func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
		logger:  slog.Default().With(slog.String("component", "admin-api")),
	}
}

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// CreateDetector handles POST /api/v1/detectors
func (h *Handler) CreateDetector(w http.ResponseWriter, r *http.Request) {
	var req service.CreateDetectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	d, err := h.service.CreateDetector(r.Context(), &req)
	if err != nil {
		h.logger.Error("failed to create detector", slog.String("error", err.Error()))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.writeJSON(w, http.StatusCreated, d)
}

// GetDetector handles GET /api/v1/detectors/:id
func (h *Handler) GetDetector(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Path[len("/api/v1/detectors/"):]
	if id == "" {
		http.Error(w, "Detector ID required", http.StatusBadRequest)
		return
	}

	d, err := h.service.GetDetector(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrDetectorNotFound) {
			http.Error(w, "Detector not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to get detector", slog.String("detector_id", id), slog.String("error", err.Error()))
		http.Error(w, "Failed to get detector", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, d)
}

// ListDetectors handles GET /api/v1/detectors
func (h *Handler) ListDetectors(w http.ResponseWriter, r *http.Request) {
	detectors, err := h.service.ListDetectors(r.Context())
	if err != nil {
		h.logger.Error("failed to list detectors", slog.String("error", err.Error()))
		http.Error(w, "Failed to list detectors", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"detectors": detectors})
}

// SaveConditionGroup handles PUT /api/v1/condition-groups/:id
func (h *Handler) SaveConditionGroup(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Path[len("/api/v1/condition-groups/"):]
	if id == "" {
		http.Error(w, "Condition group ID required", http.StatusBadRequest)
		return
	}

	var req service.SaveConditionGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	group, err := h.service.SaveConditionGroup(r.Context(), id, &req)
	if err != nil {
		h.logger.Error("failed to save condition group", slog.String("group_id", id), slog.String("error", err.Error()))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.writeJSON(w, http.StatusOK, group)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
