package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/interaction-analytics/internal/domain/interaction"
	"github.com/davidleathers/interaction-analytics/internal/metrics"
)

// StreamConfig holds WebSocket stream settings
type StreamConfig struct {
	BufferSize     int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

// DefaultStreamConfig returns default configuration
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		BufferSize:     256,
		PingInterval:   30 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 4096,
	}
}

// StreamMessage is what clients receive
type StreamMessage struct {
	ID        string             `json:"id"`
	Type      string             `json:"type"`
	Event     *interaction.Event `json:"event,omitempty"`
	ClientID  string             `json:"client_id,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

const (
	messageConnected = "connected"
	messageEvent     = "event"
)

// StreamHub pushes appended events to connected WebSocket clients. It is an
// ingest publisher.
type StreamHub struct {
	clients  map[uuid.UUID]*streamClient
	mu       sync.RWMutex
	upgrader websocket.Upgrader
	config   StreamConfig
	logger   *zap.Logger
	metrics  *metrics.Registry
	tracer   trace.Tracer
}

type streamClient struct {
	id     uuid.UUID
	action string
	conn   *websocket.Conn
	send   chan []byte
	hub    *StreamHub
}

// NewStreamHub creates a hub. registry may be nil.
func NewStreamHub(config StreamConfig, logger *zap.Logger, registry *metrics.Registry) *StreamHub {
	defaults := DefaultStreamConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaults.MaxMessageSize
	}

	return &StreamHub{
		clients: make(map[uuid.UUID]*streamClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		config:  config,
		logger:  logger,
		metrics: registry,
		tracer:  otel.Tracer("api.rest.stream"),
	}
}

// Name identifies the hub as a publisher
func (h *StreamHub) Name() string {
	return "stream"
}

// ClientCount returns the number of connected clients
func (h *StreamHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues the event for every client whose action filter matches.
// Clients whose buffer is full are disconnected.
func (h *StreamHub) Publish(ctx context.Context, event *interaction.Event) error {
	data, err := json.Marshal(&StreamMessage{
		ID:        uuid.New().String(),
		Type:      messageEvent,
		Event:     event,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	var slow []*streamClient
	h.mu.RLock()
	for _, c := range h.clients {
		if c.action != "" && c.action != event.Action {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow stream client", zap.String("client_id", c.id.String()))
		h.remove(c)
	}
	return nil
}

// ServeHTTP upgrades the request and streams events until the client leaves.
// The optional action query parameter restricts the stream to one action.
func (h *StreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, span := h.tracer.Start(r.Context(), "stream.connect")
	defer span.End()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		span.RecordError(err)
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &streamClient{
		id:     uuid.New(),
		action: r.URL.Query().Get("action"),
		conn:   conn,
		send:   make(chan []byte, h.config.BufferSize),
		hub:    h,
	}
	span.SetAttributes(
		attribute.String("client_id", client.id.String()),
		attribute.String("action", client.action),
	)

	welcome, _ := json.Marshal(&StreamMessage{
		ID:        uuid.New().String(),
		Type:      messageConnected,
		ClientID:  client.id.String(),
		Timestamp: time.Now().UTC(),
	})
	client.send <- welcome

	h.add(client)
	go client.writePump()
	go client.readPump()
}

// Close disconnects every client
func (h *StreamHub) Close() {
	h.mu.RLock()
	clients := make([]*streamClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.remove(c)
	}
}

func (h *StreamHub) add(c *streamClient) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.UpdateStreamClients(1)
	}
	h.logger.Debug("stream client connected",
		zap.String("client_id", c.id.String()),
		zap.String("action", c.action))
}

// remove is safe to call more than once; send is closed exactly once
func (h *StreamHub) remove(c *streamClient) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	if ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	if h.metrics != nil {
		h.metrics.UpdateStreamClients(-1)
	}
	h.logger.Debug("stream client disconnected", zap.String("client_id", c.id.String()))
}

// readPump discards client messages and detects disconnects
func (c *streamClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	pongWait := 2 * c.hub.config.PingInterval
	c.conn.SetReadLimit(c.hub.config.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read error",
					zap.String("client_id", c.id.String()),
					zap.Error(err))
			}
			return
		}
	}
}

// writePump is the only writer on the connection
func (c *streamClient) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
