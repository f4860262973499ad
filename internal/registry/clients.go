package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fordward/relay/internal/ws"
)

// ClientRecord is the state for one connected operator.
type ClientRecord struct {
	ID            string
	Name          string
	Conn          *ws.Conn
	Subscriptions map[string]struct{}
	ConnectedAt   time.Time
}

// Clients maps client id to its session record.
type Clients struct {
	mu  sync.RWMutex
	m   map[string]*ClientRecord
	log zerolog.Logger
}

// NewClients creates an empty client registry.
func NewClients(log zerolog.Logger) *Clients {
	return &Clients{
		m:   make(map[string]*ClientRecord),
		log: log.With().Str("component", "client-registry").Logger(),
	}
}

// Add registers a freshly accepted operator session.
func (c *Clients) Add(id string, conn *ws.Conn, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.m[id] = &ClientRecord{
		ID:            id,
		Name:          fmt.Sprintf("Client-%s", id),
		Conn:          conn,
		Subscriptions: make(map[string]struct{}),
		ConnectedAt:   now,
	}
}

// Remove deletes the record. Leases held by the client must be released
// before this is called.
func (c *Clients) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, id)
}

// SetName overwrites the display name when the operator supplies one.
func (c *Clients) SetName(id, name string) {
	if name == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, exists := c.m[id]; exists {
		rec.Name = name
	}
}

// Name returns the current display name for id.
func (c *Clients) Name(id string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if rec, exists := c.m[id]; exists {
		return rec.Name
	}
	return ""
}

// Subscribe adds robotID to the client's subscription set.
func (c *Clients) Subscribe(id, robotID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, exists := c.m[id]; exists {
		rec.Subscriptions[robotID] = struct{}{}
	}
}

// Unsubscribe removes robotID from the client's subscription set.
func (c *Clients) Unsubscribe(id, robotID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, exists := c.m[id]; exists {
		delete(rec.Subscriptions, robotID)
	}
}

// Conns returns a snapshot of every client socket. Iteration for
// broadcast happens on the copy, after the lock is released.
func (c *Clients) Conns() []*ws.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*ws.Conn, 0, len(c.m))
	for _, rec := range c.m {
		out = append(out, rec.Conn)
	}
	return out
}

// SubscriberConns returns a snapshot of the sockets subscribed to robotID.
func (c *Clients) SubscriberConns(robotID string) []*ws.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*ws.Conn
	for _, rec := range c.m {
		if _, subscribed := rec.Subscriptions[robotID]; subscribed {
			out = append(out, rec.Conn)
		}
	}
	return out
}

// Count returns the number of live operator sessions.
func (c *Clients) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
