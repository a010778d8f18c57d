package realtime

import (
	"encoding/json"
	"time"
)

// Server-to-client message types.
const (
	TypeConnected     = "system/connected"
	TypeKeyRotated    = "system/api_key_rotated"
	TypeStatusUpdate  = "system/status_update"
	TypeSecurityAlert = "system/security_alert"
	TypePong          = "pong"
	TypeError         = "error"
)

// Client-to-server message types.
const (
	TypePing          = "ping"
	TypeRequestAPIKey = "request_api_key"
	TypeSubscribe     = "subscribe"
)

// Message is a JSON frame exchanged over the channel.
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// KeyRotatedMessage builds the frame announcing a freshly minted key.
// Scheduled and administrative rotations share this shape.
func KeyRotatedMessage(id, key string, expiresAt time.Time) Message {
	return Message{
		Type: TypeKeyRotated,
		Data: map[string]any{
			"id":         id,
			"api_key":    key,
			"expires_at": expiresAt.Format(time.RFC3339),
		},
	}
}

// Envelope is the wire format for encrypted frames. Data holds the random
// IV and the ciphertext, hex-encoded and colon-separated.
type Envelope struct {
	Encrypted bool   `json:"encrypted"`
	Data      string `json:"data"`
}

// decodeFrame parses an inbound frame, which is either a plaintext Message
// or an Envelope. It reports whether the frame was enveloped.
func decodeFrame(raw []byte) (*Message, *Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Encrypted {
		return nil, &env, nil
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, nil, err
	}
	return &msg, nil, nil
}
