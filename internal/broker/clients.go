package broker

import (
	"net"
	"sync"

	"github.com/google/uuid"
)

// client is a single connected broker peer: its socket plus a
// correlation id threaded through log lines and the slog fields logged
// around it, adapted from the teacher's hub.Client (there a buffered
// fan-out channel; here a direct connection, since the broker's
// contract requires synchronous, ordered fan-out rather than
// per-client queueing).
type client struct {
	id   uuid.UUID
	conn net.Conn
	addr string
}

// registry is the broker's client set: the Go analogue of ipc_server's
// fd_set master plus its guarding mutex, minus the raw-fd bookkeeping
// net.Listener/net.Conn already do for us.
type registry struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*client
}

func newRegistry() *registry {
	return &registry{clients: make(map[uuid.UUID]*client)}
}

func (r *registry) add(c *client) {
	r.mu.Lock()
	r.clients[c.id] = c
	r.mu.Unlock()
}

func (r *registry) remove(id uuid.UUID) {
	r.mu.Lock()
	delete(r.clients, id)
	r.mu.Unlock()
}

// snapshot returns a point-in-time copy of the connected clients, taken
// under the lock and released before the caller touches any socket:
// snapshot under lock, send outside the lock.
func (r *registry) snapshot() []*client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
