package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pressgate/pressgate/internal/apikey"
	"github.com/pressgate/pressgate/internal/observability"
)

// upgrader upgrades HTTP connections to WebSocket.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin restrictions are handled by the outer deployment
	},
}

// KeySource resolves and serves API keys for the realtime channel.
type KeySource interface {
	FindValid(ctx context.Context, key string) (*apikey.Record, error)
	Current(ctx context.Context) (*apikey.Record, error)
}

// HandlerConfig holds settings for the WebSocket handler.
type HandlerConfig struct {
	// Header is the handshake header carrying the API key.
	Header string

	// RequireEncrypted reports whether plaintext client frames are rejected.
	// Evaluated per frame so the toggle can change at runtime.
	RequireEncrypted func() bool

	// Logger defaults to a nop logger.
	Logger observability.Logger
}

// Handler owns the WebSocket endpoint: handshake authentication,
// registration, and the per-connection read loop.
type Handler struct {
	registry   *Registry
	dispatcher *Dispatcher
	keys       KeySource
	header     string
	requireEnc func() bool
	logger     observability.Logger
}

// NewHandler creates the WebSocket handler.
func NewHandler(registry *Registry, dispatcher *Dispatcher, keys KeySource, cfg HandlerConfig) *Handler {
	header := cfg.Header
	if header == "" {
		header = "x-api-key"
	}
	requireEnc := cfg.RequireEncrypted
	if requireEnc == nil {
		requireEnc = func() bool { return false }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Handler{
		registry:   registry,
		dispatcher: dispatcher,
		keys:       keys,
		header:     header,
		requireEnc: requireEnc,
		logger:     logger,
	}
}

// Serve is the gin handler for the WebSocket endpoint. Authentication uses
// the same validity check as HTTP requests; a failed handshake gets one
// error frame and the socket is closed without ever being registered.
func (h *Handler) Serve(c *gin.Context) {
	key := c.GetHeader(h.header)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error response.
		h.logger.Debug("websocket upgrade failed", observability.Error(err))
		return
	}

	if key == "" {
		h.rejectHandshake(conn)
		return
	}
	if _, err := h.keys.FindValid(c.Request.Context(), key); err != nil {
		h.rejectHandshake(conn)
		return
	}

	client := NewClient(uuid.NewString(), conn)
	h.registry.Add(client)

	_ = h.dispatcher.SendTo(client, Message{
		Type: TypeConnected,
		Data: map[string]any{
			"client_id":    client.ID,
			"connected_at": time.Now().UTC().Format(time.RFC3339),
		},
	})

	h.readLoop(client, conn)
}

// rejectHandshake sends a single error frame and closes the socket.
func (h *Handler) rejectHandshake(conn *websocket.Conn) {
	frame := []byte(`{"type":"error","data":{"message":"Invalid API key"}}`)
	_ = conn.WriteMessage(websocket.TextMessage, frame)
	_ = conn.Close()
}

// readLoop processes inbound frames until the socket closes.
func (h *Handler) readLoop(client *Client, conn *websocket.Conn) {
	defer func() {
		h.registry.Remove(client.ID)
		_ = client.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleFrame(client, raw)
	}
}

// handleFrame dispatches one inbound frame.
func (h *Handler) handleFrame(client *Client, raw []byte) {
	msg, env, err := decodeFrame(raw)
	if err != nil {
		h.sendError(client, "malformed message")
		return
	}

	if env != nil {
		plaintext, err := h.dispatcher.Decrypt(env)
		if err != nil {
			h.sendError(client, "decryption failed")
			return
		}
		msg, _, err = decodeFrame(plaintext)
		if err != nil || msg == nil {
			h.sendError(client, "malformed message")
			return
		}
	} else if h.requireEnc() {
		h.sendError(client, "encrypted messages required")
		return
	}

	h.registry.metrics.RecordClientFrame(msg.Type)

	switch msg.Type {
	case TypePing:
		_ = h.dispatcher.SendTo(client, Message{Type: TypePong})
	case TypeRequestAPIKey:
		h.serveCurrentKey(client)
	case TypeSubscribe:
		// Subscription filtering is not implemented; all clients receive
		// every system broadcast.
	default:
		h.sendError(client, "unknown message type")
	}
}

// serveCurrentKey replies with the currently active key.
func (h *Handler) serveCurrentKey(client *Client) {
	rec, err := h.keys.Current(context.Background())
	if err != nil {
		h.sendError(client, "no active key")
		return
	}
	_ = h.dispatcher.SendTo(client, KeyRotatedMessage(rec.ID, rec.Key, rec.ExpiresAt))
}

// sendError pushes one error frame to the client.
func (h *Handler) sendError(client *Client, message string) {
	_ = h.dispatcher.SendTo(client, Message{
		Type: TypeError,
		Data: map[string]any{"message": message},
	})
}
