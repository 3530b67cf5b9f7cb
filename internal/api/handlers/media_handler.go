package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"norelock.dev/resonate/pluginhost/internal/models"
	"norelock.dev/resonate/pluginhost/internal/plugin"
	"norelock.dev/resonate/pluginhost/internal/utils"
)

// MediaHandler handles HTTP requests that target a single provider: source
// resolution, lyrics, and detail lookups.
type MediaHandler struct {
	registry *plugin.Registry
	logger   *utils.Logger
}

// NewMediaHandler creates a new media handler.
func NewMediaHandler(registry *plugin.Registry, logger *utils.Logger) *MediaHandler {
	return &MediaHandler{
		registry: registry,
		logger:   logger.Named("media_handler"),
	}
}

// itemRequest carries the media item a resolution or lyric call targets.
type itemRequest struct {
	Item models.MediaItem `json:"item" validate:"required"`
}

func (h *MediaHandler) provider(w http.ResponseWriter, r *http.Request) (plugin.Provider, string, bool) {
	id := chi.URLParam(r, "id")
	provider, _, err := h.registry.ProviderByID(id)
	if err != nil {
		respondPluginError(w, err)
		return nil, id, false
	}
	return provider, id, true
}

// Resolve handles requests to resolve a playable source for an item.
func (h *MediaHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	provider, id, ok := h.provider(w, r)
	if !ok {
		return
	}

	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	source, err := provider.ResolveMediaSource(r.Context(), &req.Item)
	if err != nil {
		h.logger.Warn("Failed to resolve media source", "pluginId", id, "itemId", req.Item.ID, "error", err.Error())
		respondPluginError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, source)
}

// Lyric handles requests for an item's lyric. A provider without lyrics
// responds with an explicit null body, not an error.
func (h *MediaHandler) Lyric(w http.ResponseWriter, r *http.Request) {
	provider, id, ok := h.provider(w, r)
	if !ok {
		return
	}

	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	lyric, err := provider.GetLyric(r.Context(), &req.Item)
	if err != nil {
		h.logger.Warn("Failed to get lyric", "pluginId", id, "itemId", req.Item.ID, "error", err.Error())
		respondPluginError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, lyric)
}

// Album handles requests for album detail.
func (h *MediaHandler) Album(w http.ResponseWriter, r *http.Request) {
	provider, _, ok := h.provider(w, r)
	if !ok {
		return
	}

	albumID := chi.URLParam(r, "albumId")
	detail, err := provider.GetAlbumDetail(r.Context(), albumID)
	if err != nil {
		respondPluginError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, detail)
}

// Artist handles requests for artist detail.
func (h *MediaHandler) Artist(w http.ResponseWriter, r *http.Request) {
	provider, _, ok := h.provider(w, r)
	if !ok {
		return
	}

	artistID := chi.URLParam(r, "artistId")
	detail, err := provider.GetArtistDetail(r.Context(), artistID)
	if err != nil {
		respondPluginError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, detail)
}

// Recommendations handles requests for provider-curated items.
func (h *MediaHandler) Recommendations(w http.ResponseWriter, r *http.Request) {
	provider, id, ok := h.provider(w, r)
	if !ok {
		return
	}

	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		if parsed, err := parsePositiveInt(p); err == nil {
			page = parsed
		}
	}

	result, err := provider.GetRecommendations(r.Context(), page)
	if err != nil {
		respondPluginError(w, err)
		return
	}

	for i := range result.Data {
		result.Data[i].Platform = id
	}
	utils.RespondWithJSON(w, http.StatusOK, result)
}
