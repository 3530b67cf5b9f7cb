package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"norelock.dev/resonate/pluginhost/internal/models"
	"norelock.dev/resonate/pluginhost/internal/services/playback"
	"norelock.dev/resonate/pluginhost/internal/services/system"
	"norelock.dev/resonate/pluginhost/internal/utils"
)

// WSOptions configures the playback WebSocket endpoint.
type WSOptions struct {
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
}

// PlaybackHandler ingests playback reports over HTTP and WebSocket and fans
// them out through the broadcaster.
type PlaybackHandler struct {
	broadcaster *playback.Broadcaster
	metrics     *system.Metrics
	upgrader    websocket.Upgrader
	opts        WSOptions
	logger      *utils.Logger
}

// NewPlaybackHandler creates a new playback handler.
func NewPlaybackHandler(broadcaster *playback.Broadcaster, metrics *system.Metrics, opts WSOptions, logger *utils.Logger) *PlaybackHandler {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 4096
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}

	return &PlaybackHandler{
		broadcaster: broadcaster,
		metrics:     metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin enforcement happens in the CORS layer; player clients
			// are typically not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		opts:   opts,
		logger: logger.Named("playback_handler"),
	}
}

// Report handles a single playback report over plain HTTP.
func (h *PlaybackHandler) Report(w http.ResponseWriter, r *http.Request) {
	var report models.PlaybackReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := utils.Validate(report); err != nil {
		utils.RespondWithValidationError(w, err)
		return
	}

	outcome, err := h.broadcaster.Report(r.Context(), &report)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, outcome)
}

// Socket upgrades the connection and ingests a stream of playback reports,
// answering each with the broadcast outcome.
func (h *PlaybackHandler) Socket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "ip", utils.GetRequestIP(r), "error", err.Error())
		return
	}
	defer conn.Close()

	h.metrics.WSConnected()
	defer h.metrics.WSDisconnected()

	conn.SetReadLimit(h.opts.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	h.logger.Info("playback client connected", "ip", utils.GetRequestIP(r))

	for {
		var report models.PlaybackReport
		if err := conn.ReadJSON(&report); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("playback client closed unexpectedly", "error", err.Error())
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))

		if !report.Event.Valid() {
			h.writeJSON(conn, map[string]string{"error": "unknown playback event"})
			continue
		}

		outcome, err := h.broadcaster.Report(r.Context(), &report)
		if err != nil {
			h.writeJSON(conn, map[string]string{"error": err.Error()})
			continue
		}
		h.writeJSON(conn, outcome)
	}
}

func (h *PlaybackHandler) writeJSON(conn *websocket.Conn, v any) {
	_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
	if err := conn.WriteJSON(v); err != nil {
		h.logger.Debug("failed to write playback response", "error", err.Error())
	}
}
