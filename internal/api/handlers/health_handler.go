package handlers

import (
	"net/http"

	"norelock.dev/resonate/pluginhost/internal/services/system"
	"norelock.dev/resonate/pluginhost/internal/utils"
)

// HealthHandler serves the health endpoint.
type HealthHandler struct {
	health *system.HealthService
	logger *utils.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(health *system.HealthService, logger *utils.Logger) *HealthHandler {
	return &HealthHandler{
		health: health,
		logger: logger.Named("health_handler"),
	}
}

// Health handles health check requests.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.health.Check(r.Context())

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	utils.RespondWithJSON(w, code, status)
}
