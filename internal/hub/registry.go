package hub

import (
	"log/slog"
	"sync"

	"github.com/nfrund/chaats/internal/domain"
)

// DefaultShards is the number of lock buckets used when none is configured.
const DefaultShards = 32

// Client is a live, authenticated connection that can receive fan-out.
type Client interface {
	// Send queues payload for delivery. It must not block.
	Send(payload []byte) error
	// Close tears the client down. It must be idempotent, and it is expected
	// to call Unregister for itself.
	Close()
}

// Peer is a client that knows which user it belongs to.
type Peer interface {
	Client
	Identity() domain.UserIdentity
}

// Registry maps a user to the set of that user's live clients. A user may
// hold several clients at once (tabs, devices).
//
// Users are spread over independent shards so traffic for unrelated users
// never contends on the same lock.
type Registry struct {
	shards []*shard
	logger *slog.Logger
}

type shard struct {
	mu      sync.RWMutex
	clients map[domain.UserID]map[Client]struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithShards sets the number of lock buckets. Values below one are ignored.
func WithShards(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.shards = make([]*shard, n)
		}
	}
}

// WithLogger sets the logger used to report delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		shards: make([]*shard, DefaultShards),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	for i := range r.shards {
		r.shards[i] = &shard{clients: make(map[domain.UserID]map[Client]struct{})}
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

func (r *Registry) shardFor(id domain.UserID) *shard {
	n := uint64(len(r.shards))
	return r.shards[uint64(id)%n]
}

// Register adds c to the live set of id. Registering twice is a no-op.
func (r *Registry) Register(id domain.UserID, c Client) {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.clients[id]
	if !ok {
		set = make(map[Client]struct{})
		s.clients[id] = set
	}
	set[c] = struct{}{}
}

// Unregister removes c from the live set of id and drops the user entry once
// the set is empty. Unknown clients are ignored, which makes double-close
// races harmless.
func (r *Registry) Unregister(id domain.UserID, c Client) {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.clients[id]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(s.clients, id)
	}
}

// SessionsFor returns a point-in-time copy of the live set of id. The caller
// may iterate it while other goroutines register or unregister.
func (r *Registry) SessionsFor(id domain.UserID) []Client {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.clients[id]
	out := make([]Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// BroadcastTo delivers payload to every live client of id. Each delivery is
// independent: a client whose Send fails is closed and the others still
// receive the payload. Failures are never returned to the caller.
func (r *Registry) BroadcastTo(id domain.UserID, payload []byte) (delivered, failed int) {
	for _, c := range r.SessionsFor(id) {
		if err := c.Send(payload); err != nil {
			failed++
			r.logger.Warn("Delivery failed, closing client", "user_id", id, "error", err)
			c.Close()
			continue
		}
		delivered++
	}
	return delivered, failed
}

// Online reports whether id has at least one live client.
func (r *Registry) Online(id domain.UserID) bool {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients[id]) > 0
}

// Users returns the IDs of every user with a live client, in no particular order.
func (r *Registry) Users() []domain.UserID {
	var out []domain.UserID
	for _, s := range r.shards {
		s.mu.RLock()
		for id := range s.clients {
			out = append(out, id)
		}
		s.mu.RUnlock()
	}
	return out
}

// Len returns the total number of registered clients.
func (r *Registry) Len() int {
	total := 0
	for _, s := range r.shards {
		s.mu.RLock()
		for _, set := range s.clients {
			total += len(set)
		}
		s.mu.RUnlock()
	}
	return total
}
