package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"divecli/internal/infrastructure"
	"divecli/pkg/contracts/events"
)

const broadcastBuffer = 64

// SnapshotFunc returns the messages a newly connected client receives
// after the connect message
type SnapshotFunc func() []events.WebSocketMessage

// HubOption configures a Hub
type HubOption func(*Hub)

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) HubOption {
	return func(h *Hub) { h.recorder = r }
}

// WithSnapshot sets the state replayed to new clients
func WithSnapshot(fn SnapshotFunc) HubOption {
	return func(h *Hub) { h.snapshot = fn }
}

type outbound struct {
	msgType events.MessageType
	data    []byte
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client

	mu     sync.RWMutex
	logger *slog.Logger

	recorder Recorder
	snapshot SnapshotFunc

	totalConnections atomic.Int64
	messagesSent     atomic.Int64
	droppedClients   atomic.Int64

	running  atomic.Bool
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start runs the hub loop in its own goroutine
func (h *Hub) Start() {
	if h.running.CompareAndSwap(false, true) {
		go h.run()
	}
}

// Stop stops the hub and disconnects every client
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.quit)
		if h.running.Load() {
			<-h.done
		}
		h.running.Store(false)

		h.mu.Lock()
		defer h.mu.Unlock()
		for client := range h.clients {
			close(client.send)
			delete(h.clients, client)
		}
		h.logger.Info("hub stopped", slog.Int64("messages_sent", h.messagesSent.Load()))
	})
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) clientContext(c *Client) context.Context {
	ctx := context.Background()
	if c.traceID != "" {
		ctx = infrastructure.WithTraceID(ctx, c.traceID)
	}
	return ctx
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.totalConnections.Add(1)

	ctx := h.clientContext(c)
	h.logger.InfoContext(ctx, "client registered",
		slog.String("client_id", c.id),
		slog.String("remote_addr", c.remoteAddr),
		slog.Int("total_clients", count),
	)
	if h.recorder != nil {
		h.recorder.RecordWebSocketClient(ctx, 1)
	}

	initial := []events.WebSocketMessage{newMessage(events.MessageTypeConnect, map[string]string{
		"status":    "connected",
		"client_id": c.id,
	}, c.traceID)}
	if h.snapshot != nil {
		initial = append(initial, h.snapshot()...)
	}
	for _, msg := range initial {
		data, err := json.Marshal(msg)
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to marshal initial message", slog.String("error", err.Error()))
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.WarnContext(ctx, "client buffer full, initial message dropped",
				slog.String("client_id", c.id),
				slog.String("type", string(msg.Type)),
			)
		}
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	ctx := h.clientContext(c)
	h.logger.InfoContext(ctx, "client unregistered",
		slog.String("client_id", c.id),
		slog.Int("total_clients", count),
		slog.Duration("connection_duration", time.Since(c.connectedAt)),
	)
	if h.recorder != nil {
		h.recorder.RecordWebSocketClient(ctx, -1)
	}
}

func (h *Hub) fanOut(msg outbound) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg.data:
			h.messagesSent.Add(1)
		default:
			// slow consumer
			h.removeClient(c)
			h.droppedClients.Add(1)
			h.logger.Warn("client send buffer full, disconnecting", slog.String("client_id", c.id))
		}
	}
	if h.recorder != nil {
		h.recorder.RecordWebSocketMessage(context.Background(), string(msg.msgType))
	}
	h.logger.Debug("broadcast",
		slog.String("type", string(msg.msgType)),
		slog.Int("clients", len(clients)),
		slog.Int("size", len(msg.data)),
	)
}

func newMessage(msgType events.MessageType, data interface{}, traceID string) events.WebSocketMessage {
	return events.WebSocketMessage{
		BaseMessage: events.BaseMessage{
			ID:        uuid.New().String(),
			Type:      msgType,
			Timestamp: time.Now().UTC(),
			TraceID:   traceID,
		},
		Data: data,
	}
}

// Broadcast sends a message of msgType to every client. Messages sent
// while the hub is not running are dropped.
func (h *Hub) Broadcast(ctx context.Context, msgType events.MessageType, data interface{}) {
	if !h.running.Load() {
		return
	}
	payload, err := json.Marshal(newMessage(msgType, data, infrastructure.GetTraceID(ctx)))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to marshal message",
			slog.String("type", string(msgType)),
			slog.String("error", err.Error()),
		)
		return
	}
	select {
	case h.broadcast <- outbound{msgType: msgType, data: payload}:
	case <-h.quit:
	case <-ctx.Done():
	}
}

// Register adds a client to the hub
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.quit:
		close(c.send)
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HubStats is a snapshot of hub counters
type HubStats struct {
	ActiveClients    int   `json:"active_clients"`
	TotalConnections int64 `json:"total_connections"`
	MessagesSent     int64 `json:"messages_sent"`
	DroppedClients   int64 `json:"dropped_clients"`
}

// Stats returns the current hub counters
func (h *Hub) Stats() HubStats {
	return HubStats{
		ActiveClients:    h.ClientCount(),
		TotalConnections: h.totalConnections.Load(),
		MessagesSent:     h.messagesSent.Load(),
		DroppedClients:   h.droppedClients.Load(),
	}
}
