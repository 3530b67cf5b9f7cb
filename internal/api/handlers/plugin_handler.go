// Package handlers contains HTTP handlers for the API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"norelock.dev/resonate/pluginhost/internal/models"
	"norelock.dev/resonate/pluginhost/internal/plugin"
	"norelock.dev/resonate/pluginhost/internal/utils"
)

// PluginHandler handles HTTP requests for plugin lifecycle management.
type PluginHandler struct {
	registry *plugin.Registry
	logger   *utils.Logger
}

// NewPluginHandler creates a new plugin handler.
func NewPluginHandler(registry *plugin.Registry, logger *utils.Logger) *PluginHandler {
	return &PluginHandler{
		registry: registry,
		logger:   logger.Named("plugin_handler"),
	}
}

// loadRequest is the body for plugin install requests.
type loadRequest struct {
	// Source is a plugin source URL or inline plugin source text.
	Source string `json:"source" validate:"required,plugin_source"`

	models.LoadOptions
}

// List handles requests to list all registered plugins.
func (h *PluginHandler) List(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, http.StatusOK, h.registry.GetAll())
}

// Get handles requests for one plugin's registration record.
func (h *PluginHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := h.registry.Get(id)
	if err != nil {
		respondPluginError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, state)
}

// Load handles requests to install a plugin from a URL or inline source.
func (h *PluginHandler) Load(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := utils.Validate(req); err != nil {
		utils.RespondWithValidationError(w, err)
		return
	}

	state, err := h.registry.Load(r.Context(), req.Source, req.LoadOptions)
	if err != nil {
		h.logger.Error("Failed to load plugin", err)
		respondPluginError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, state)
}

// Unload handles requests to remove a plugin.
func (h *PluginHandler) Unload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.registry.Unload(r.Context(), id); err != nil {
		respondPluginError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"id": id, "status": "unloaded"})
}

// Update handles requests to reload a plugin from its update source.
func (h *PluginHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := h.registry.Update(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to update plugin", err, "pluginId", id)
		respondPluginError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, state)
}

// Enable handles requests to enable a plugin.
func (h *PluginHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// Disable handles requests to disable a plugin.
func (h *PluginHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *PluginHandler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := chi.URLParam(r, "id")

	var err error
	if enabled {
		err = h.registry.Enable(r.Context(), id)
	} else {
		err = h.registry.Disable(r.Context(), id)
	}
	if err != nil {
		respondPluginError(w, err)
		return
	}

	state, err := h.registry.Get(id)
	if err != nil {
		respondPluginError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, state)
}

// setVariableRequest is the body for variable writes.
type setVariableRequest struct {
	Key   string `json:"key" validate:"required,variable_key"`
	Value string `json:"value"`
}

// SetVariable handles requests to write one user variable.
func (h *PluginHandler) SetVariable(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req setVariableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := utils.Validate(req); err != nil {
		utils.RespondWithValidationError(w, err)
		return
	}

	if err := h.registry.SetVariable(r.Context(), id, req.Key, req.Value); err != nil {
		respondPluginError(w, err)
		return
	}

	state, err := h.registry.Get(id)
	if err != nil {
		respondPluginError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, state)
}

// TestConnection handles requests to probe a plugin's backend connectivity.
func (h *PluginHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ok, err := h.registry.TestConnection(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrPluginNotFound) || errors.Is(err, models.ErrPluginDisabled) {
			respondPluginError(w, err)
			return
		}
		h.logger.Warn("Connection test errored", "pluginId", id, "error", err.Error())
		ok = false
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"id": id, "connected": ok})
}

// ConfigSchema handles requests for a plugin's configuration schema.
func (h *PluginHandler) ConfigSchema(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	provider, _, err := h.registry.ProviderByID(id)
	if err != nil {
		respondPluginError(w, err)
		return
	}

	schema, err := provider.ConfigSchema(r.Context())
	if err != nil {
		respondPluginError(w, err)
		return
	}
	if schema == nil {
		schema = &models.ConfigSchema{Fields: []models.ConfigField{}}
	}
	utils.RespondWithJSON(w, http.StatusOK, schema)
}

// respondPluginError maps domain errors onto HTTP status codes.
func respondPluginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrPluginNotFound):
		utils.RespondWithError(w, http.StatusNotFound, "Plugin not found")
	case errors.Is(err, models.ErrPluginExists):
		utils.RespondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrPluginDisabled):
		utils.RespondWithError(w, http.StatusConflict, "Plugin is disabled")
	case errors.Is(err, models.ErrNoUpdateSource):
		utils.RespondWithError(w, http.StatusBadRequest, "Plugin has no update source")
	case errors.Is(err, models.ErrValidation):
		utils.RespondWithError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, models.ErrLoad):
		utils.RespondWithError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, models.ErrUnsupportedOperation):
		utils.RespondWithError(w, http.StatusNotImplemented, "Operation not supported by plugin")
	case errors.Is(err, models.ErrExecution), errors.Is(err, models.ErrInvalidResult):
		utils.RespondWithError(w, http.StatusBadGateway, err.Error())
	case utils.IsNotFound(err):
		utils.RespondWithError(w, http.StatusNotFound, err.Error())
	default:
		utils.RespondWithError(w, http.StatusInternalServerError, err.Error())
	}
}
