package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gorilla "github.com/gorilla/websocket"

	"divecli/internal/websocket"
)

// WebSocketConfig configures the upgrade
type WebSocketConfig struct {
	AllowedOrigins  []string
	ReadBufferSize  int
	WriteBufferSize int
}

// WebSocketHandler upgrades /ws requests and attaches them to the hub
type WebSocketHandler struct {
	hub      *websocket.Hub
	upgrader gorilla.Upgrader
	allowed  map[string]bool
	logger   *slog.Logger
}

// NewWebSocketHandler creates a websocket handler. An empty origin list
// allows only same-host and origin-less requests.
func NewWebSocketHandler(hub *websocket.Hub, cfg WebSocketConfig, logger *slog.Logger) *WebSocketHandler {
	h := &WebSocketHandler{
		hub:     hub,
		allowed: make(map[string]bool, len(cfg.AllowedOrigins)),
		logger:  logger.With(slog.String("handler", "websocket")),
	}
	for _, o := range cfg.AllowedOrigins {
		h.allowed[o] = true
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 1024
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = 1024
	}
	h.upgrader = gorilla.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			h.logger.ErrorContext(r.Context(), "WebSocket upgrade error",
				slog.Int("status", status),
				slog.String("reason", reason.Error()),
				slog.String("origin", r.Header.Get("Origin")))
			http.Error(w, http.StatusText(status), status)
		},
	}
	return h
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowed["*"] || h.allowed[origin] {
		return true
	}
	// Same-host upgrades are always allowed
	if origin == "http://"+r.Host || origin == "https://"+r.Host {
		return true
	}
	h.logger.WarnContext(r.Context(), "WebSocket origin check - origin not allowed",
		slog.String("origin", origin))
	return false
}

// ServeHTTP handles GET /ws
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = fmt.Sprintf("ws-%d", time.Now().UnixNano())
	}
	h.logger.InfoContext(r.Context(), "WebSocket upgrade request",
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("origin", r.Header.Get("Origin")),
		slog.String("trace_id", reqID))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already wrote the response
		return
	}
	client := websocket.ServeWS(h.hub, websocket.WrapConn(conn), reqID, h.logger)
	h.logger.InfoContext(r.Context(), "WebSocket client connected",
		slog.String("client_id", client.ID()),
		slog.Int("clients", h.hub.ClientCount()))
}
