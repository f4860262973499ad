// Package relay terminates the two WebSocket endpoints and coordinates
// robot sessions, operator sessions, the control lease, and fan-out.
package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fordward/relay/internal/config"
	"github.com/fordward/relay/internal/registry"
	"github.com/fordward/relay/internal/ws"
	"github.com/fordward/relay/pkg/types"
)

// EventSink receives audit records for commands and lifecycle events.
// Implementations must not block the caller.
type EventSink interface {
	Record(robotID, clientID, kind string, detail map[string]any)
}

// Relay owns both endpoints and the broadcast plane.
type Relay struct {
	cfg      *config.Config
	robots   *registry.Robots
	clients  *registry.Clients
	sink     EventSink
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// New wires a relay over the shared registries. sink may be nil.
func New(cfg *config.Config, robots *registry.Robots, clients *registry.Clients, sink EventSink, log zerolog.Logger) *Relay {
	return &Relay{
		cfg:     cfg,
		robots:  robots,
		clients: clients,
		sink:    sink,
		log:     log.With().Str("component", "relay").Logger(),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
}

func (r *Relay) connOptions() ws.Options {
	return ws.Options{
		PingInterval: r.cfg.PingInterval,
		ReadTimeout:  r.cfg.ReadTimeout,
		WriteTimeout: r.cfg.WriteTimeout,
		QueueSize:    r.cfg.SendQueueSize,
	}
}

// broadcastToAll delivers msg to every open operator socket. The message
// is marshaled once; iteration runs over a snapshot of the client set so
// a send-triggered close cannot invalidate it.
func (r *Relay) broadcastToAll(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Error().Err(err).Msg("broadcast marshal failed")
		return
	}
	for _, conn := range r.clients.Conns() {
		if err := conn.SendRaw(data); err != nil {
			r.log.Debug().Err(err).Msg("broadcast send failed")
		}
	}
}

// broadcastToSubscribers delivers msg to every open operator subscribed
// to robotID.
func (r *Relay) broadcastToSubscribers(robotID string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Error().Err(err).Msg("broadcast marshal failed")
		return
	}
	for _, conn := range r.clients.SubscriberConns(robotID) {
		if err := conn.SendRaw(data); err != nil {
			r.log.Debug().Err(err).Str("robot", robotID).Msg("subscriber send failed")
		}
	}
}

// Shutdown announces termination to every operator before the listener
// closes.
func (r *Relay) Shutdown() {
	r.broadcastToAll(map[string]any{
		"type": types.TypeEvent,
		"payload": map[string]any{
			"kind":      types.EventServerShutdown,
			"timestamp": nowMillis(),
		},
	})
}

func (r *Relay) record(robotID, clientID, kind string, detail map[string]any) {
	if r.sink != nil {
		r.sink.Record(robotID, clientID, kind, detail)
	}
}
