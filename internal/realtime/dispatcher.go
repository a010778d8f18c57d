package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/pressgate/pressgate/internal/observability"
)

// Broadcaster fans one message out to all connected clients.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg Message) int
}

// Dispatcher delivers system messages to every registered connection.
// Delivery is best-effort and unordered; a failed send removes the
// connection from the registry and is never surfaced beyond the count.
type Dispatcher struct {
	registry *Registry
	cipher   Cipher
	logger   observability.Logger
	metrics  *Metrics
}

// DispatcherOption is a functional option for the Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithCipher enables the symmetric encryption envelope for outbound frames.
func WithCipher(cipher Cipher) DispatcherOption {
	return func(d *Dispatcher) {
		d.cipher = cipher
	}
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger observability.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithDispatcherMetrics sets the metrics.
func WithDispatcherMetrics(metrics *Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		logger:   observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.metrics == nil {
		d.metrics = registry.metrics
	}

	return d
}

// Broadcast sends msg to all registered connections and returns the number
// of successful deliveries. A connection whose send fails is closed and
// removed from the registry; one broken client never blocks the others.
func (d *Dispatcher) Broadcast(ctx context.Context, msg Message) int {
	frame, err := d.encodeFrame(msg)
	if err != nil {
		d.logger.Error("failed to encode broadcast frame",
			observability.String("type", msg.Type),
			observability.Error(err),
		)
		return 0
	}

	clients := d.registry.Snapshot()
	var delivered int64
	var wg sync.WaitGroup

	for _, client := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if err := c.Send(frame); err != nil {
				// A failed send is proof of a dead connection.
				d.registry.Remove(c.ID)
				_ = c.Close()
				d.logger.Debug("broadcast delivery failed, client removed",
					observability.String("client_id", c.ID),
					observability.Error(err),
				)
				return
			}
			atomic.AddInt64(&delivered, 1)
		}(client)
	}
	wg.Wait()

	count := int(delivered)
	d.metrics.RecordBroadcast(count, len(clients)-count)
	d.logger.Debug("broadcast complete",
		observability.String("type", msg.Type),
		observability.Int("delivered", count),
		observability.Int("targets", len(clients)),
	)
	return count
}

// SendTo delivers msg to a single client, applying the same envelope as
// broadcasts. Used for direct replies in the read loop.
func (d *Dispatcher) SendTo(client *Client, msg Message) error {
	frame, err := d.encodeFrame(msg)
	if err != nil {
		return err
	}
	return client.Send(frame)
}

// Encrypting reports whether outbound frames are wrapped in the envelope.
func (d *Dispatcher) Encrypting() bool {
	return d.cipher != nil
}

// Decrypt opens an inbound envelope. Returns ErrDecryptFailed or
// ErrMalformedEnvelope on bad input, or an error when no cipher is
// configured.
func (d *Dispatcher) Decrypt(env *Envelope) ([]byte, error) {
	if d.cipher == nil {
		return nil, ErrDecryptFailed
	}
	return d.cipher.Decrypt(env.Data)
}

// encodeFrame marshals msg, wrapping it in the encryption envelope when a
// cipher is configured.
func (d *Dispatcher) encodeFrame(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	if d.cipher == nil {
		return payload, nil
	}

	data, err := d.cipher.Encrypt(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Encrypted: true, Data: data})
}

// Ensure Dispatcher implements Broadcaster.
var _ Broadcaster = (*Dispatcher)(nil)
