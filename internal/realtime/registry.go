package realtime

import (
	"sync"

	"github.com/pressgate/pressgate/internal/observability"
)

// Registry tracks live client connections for this process. It is
// constructed once at startup and injected into every component that
// broadcasts; broadcasts only reach clients connected to this instance.
type Registry struct {
	clients map[string]*Client
	mu      sync.RWMutex
	logger  observability.Logger
	metrics *Metrics
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger observability.Logger, metrics *Metrics) *Registry {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if metrics == nil {
		metrics = NewMetrics("pressgate")
	}
	return &Registry{
		clients: make(map[string]*Client),
		logger:  logger,
		metrics: metrics,
	}
}

// Add registers a client. O(1).
func (r *Registry) Add(client *Client) {
	r.mu.Lock()
	r.clients[client.ID] = client
	count := len(r.clients)
	r.mu.Unlock()

	r.metrics.SetConnections(count)
	r.logger.Debug("client connected",
		observability.String("client_id", client.ID),
		observability.Int("connections", count),
	)
}

// Remove deregisters a client. No-op if absent.
func (r *Registry) Remove(clientID string) {
	r.mu.Lock()
	_, present := r.clients[clientID]
	delete(r.clients, clientID)
	count := len(r.clients)
	r.mu.Unlock()

	if present {
		r.metrics.SetConnections(count)
		r.logger.Debug("client disconnected",
			observability.String("client_id", clientID),
			observability.Int("connections", count),
		)
	}
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Snapshot returns the current clients. The slice is a copy; the registry
// may change while the caller iterates.
func (r *Registry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	return clients
}
