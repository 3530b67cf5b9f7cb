package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"norelock.dev/resonate/pluginhost/internal/models"
	"norelock.dev/resonate/pluginhost/internal/services/search"
	"norelock.dev/resonate/pluginhost/internal/utils"
)

// SearchHandler handles HTTP requests for multi-provider search.
type SearchHandler struct {
	aggregator *search.Aggregator
	logger     *utils.Logger
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(aggregator *search.Aggregator, logger *utils.Logger) *SearchHandler {
	return &SearchHandler{
		aggregator: aggregator,
		logger:     logger.Named("search_handler"),
	}
}

// searchRequest is the body for starting a search.
type searchRequest struct {
	Keyword string `json:"keyword" validate:"required"`
	Type    string `json:"type"`

	// Wait makes the request block until every provider settles instead of
	// returning the in-progress snapshot immediately.
	Wait bool `json:"wait"`
}

// searchResponse couples the session id with a state snapshot.
type searchResponse struct {
	SessionID string                  `json:"sessionId"`
	Keyword   string                  `json:"keyword"`
	Type      models.MediaType        `json:"type"`
	Providers []search.ProviderResult `json:"providers"`
}

// Start handles requests to begin a fan-out search.
func (h *SearchHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := utils.Validate(req); err != nil {
		utils.RespondWithValidationError(w, err)
		return
	}
	if req.Type == "" {
		req.Type = string(models.MediaTypeMusic)
	}

	session, err := h.aggregator.SearchAll(r.Context(), req.Keyword, models.MediaType(req.Type))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Wait {
		// Per-provider timeouts bound this; the request context only cuts it
		// short if the client goes away first.
		if err := session.Wait(r.Context()); err != nil {
			h.logger.Debug("search wait cut short", "sessionId", session.ID, "error", err.Error())
		}
	}

	utils.RespondWithJSON(w, http.StatusOK, searchResponse{
		SessionID: session.ID,
		Keyword:   session.Keyword,
		Type:      session.MediaType,
		Providers: session.Snapshot(),
	})
}

// Poll handles requests for a session's current state. Results published by
// providers that settled since the last poll become visible here.
func (h *SearchHandler) Poll(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	session, ok := h.aggregator.Get(sessionID)
	if !ok {
		utils.RespondWithError(w, http.StatusNotFound, "Search session not found")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, searchResponse{
		SessionID: session.ID,
		Keyword:   session.Keyword,
		Type:      session.MediaType,
		Providers: session.Snapshot(),
	})
}

// loadMoreRequest is the body for pagination requests.
type loadMoreRequest struct {
	PluginID string `json:"pluginId" validate:"required"`

	// Wait blocks until the requested page settles.
	Wait bool `json:"wait"`
}

// LoadMore handles requests for one provider's next page.
func (h *SearchHandler) LoadMore(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var req loadMoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := utils.Validate(req); err != nil {
		utils.RespondWithValidationError(w, err)
		return
	}

	session, err := h.aggregator.LoadMore(sessionID, req.PluginID)
	if err != nil {
		respondPluginError(w, err)
		return
	}

	if req.Wait {
		if err := session.Wait(r.Context()); err != nil {
			h.logger.Debug("loadMore wait cut short", "sessionId", sessionID, "error", err.Error())
		}
	}

	utils.RespondWithJSON(w, http.StatusOK, searchResponse{
		SessionID: session.ID,
		Keyword:   session.Keyword,
		Type:      session.MediaType,
		Providers: session.Snapshot(),
	})
}

// Discard handles requests to drop a session.
func (h *SearchHandler) Discard(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	h.aggregator.Discard(sessionID)
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"sessionId": sessionID, "status": "discarded"})
}
