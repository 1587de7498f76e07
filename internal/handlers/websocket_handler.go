// -----------------------------------------------------------------------
// WebSocket Handler - realtime scan progress channel at
// /hubs/scanprogress
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/models"
	"github.com/ternarybob/webpscan/internal/services/broadcast"
)

const (
	writeTimeout  = 10 * time.Second
	maxFrameBytes = 4096
	pongWait      = 60 * time.Second
	pingInterval  = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The API is public; scan data carries no credentials
		return true
	},
}

// WebSocketHandler upgrades connections and routes subscription frames
type WebSocketHandler struct {
	hub      *broadcast.Hub
	progress *broadcast.ProgressService
	logger   arbor.ILogger
}

// NewWebSocketHandler creates the realtime channel handler
func NewWebSocketHandler(hub *broadcast.Hub, progress *broadcast.ProgressService, logger arbor.ILogger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      hub,
		progress: progress,
		logger:   logger,
	}
}

// clientFrame is one client -> server message
type clientFrame struct {
	Type   string `json:"type"`
	ScanID string `json:"scanId,omitempty"`
}

// serverFrame is one server -> client message
type serverFrame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// wsClient adapts one connection to the hub's Subscriber contract.
// Writes are serialized; the hub may broadcast from many goroutines.
type wsClient struct {
	id     string
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func (c *wsClient) ID() string { return c.id }

func (c *wsClient) Send(event models.EventType, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(serverFrame{Type: string(event), Payload: payload})
}

func (c *wsClient) sendRaw(frameType string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(serverFrame{Type: frameType, Payload: payload})
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.conn.Close()
}

// HandleWebSocket handles GET /hubs/scanprogress
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &wsClient{id: uuid.New().String(), conn: conn}
	h.logger.Debug().Str("client_id", client.id).Msg("WebSocket client connected")

	go h.pingLoop(client)
	h.readLoop(client)

	h.hub.UnsubscribeAll(client.id)
	client.close()
	h.logger.Debug().Str("client_id", client.id).Msg("WebSocket client disconnected")
}

func (h *WebSocketHandler) pingLoop(client *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		client.mu.Lock()
		if client.closed {
			client.mu.Unlock()
			return
		}
		client.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := client.conn.WriteMessage(websocket.PingMessage, nil)
		client.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (h *WebSocketHandler) readLoop(client *wsClient) {
	client.conn.SetReadLimit(maxFrameBytes)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.logger.Debug().Str("client_id", client.id).Err(err).Msg("Unparseable WebSocket frame")
			continue
		}
		h.dispatch(client, frame)
	}
}

func (h *WebSocketHandler) dispatch(client *wsClient, frame clientFrame) {
	switch frame.Type {
	case "subscribeToScan":
		if frame.ScanID != "" {
			h.hub.Subscribe(models.ScanGroup(frame.ScanID), client)
		}
	case "unsubscribeFromScan":
		if frame.ScanID != "" {
			h.hub.Unsubscribe(models.ScanGroup(frame.ScanID), client.id)
		}
	case "subscribeToStats":
		h.hub.Subscribe(models.StatsGroup, client)
	case "unsubscribeFromStats":
		h.hub.Unsubscribe(models.StatsGroup, client.id)
	case "getCurrentProgress":
		h.sendCurrentProgress(client, frame.ScanID)
	default:
		h.logger.Debug().
			Str("client_id", client.id).
			Str("type", frame.Type).
			Msg("Unknown WebSocket frame type")
	}
}

// sendCurrentProgress answers a reconnect snapshot request. Unknown
// scans answer with a null payload.
func (h *WebSocketHandler) sendCurrentProgress(client *wsClient, scanID string) {
	snapshot, err := h.progress.GetCurrentProgress(context.Background(), scanID)
	if err != nil {
		h.logger.Warn().Str("scan_id", scanID).Err(err).Msg("Failed to build progress snapshot")
		snapshot = nil
	}
	if err := client.sendRaw("currentProgress", snapshot); err != nil {
		h.logger.Debug().Str("client_id", client.id).Err(err).Msg("Failed to send progress snapshot")
	}
}
