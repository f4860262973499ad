// Package registry holds the process-wide maps of robot and operator
// sessions. A coarse RWMutex per map serializes every mutation; callers
// receive snapshots and perform network sends after the lock is released.
package registry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fordward/relay/internal/control"
	"github.com/fordward/relay/internal/ws"
	"github.com/fordward/relay/pkg/types"
)

// RobotRecord is the authoritative state for one registered robot. Fields
// are only touched by Robots methods while holding the registry lock. The
// telemetry map is replaced wholesale on each frame and never mutated in
// place, so snapshots may share it.
type RobotRecord struct {
	ID           string
	Conn         *ws.Conn
	Version      string
	Capabilities []string
	LastSeen     time.Time
	Telemetry    map[string]any
	Lease        control.Lease
}

// RobotSnapshot is a point-in-time copy safe to serialize without locks.
type RobotSnapshot struct {
	ID           string
	Online       bool
	LastSeen     time.Time
	Version      string
	Capabilities []string
	Telemetry    map[string]any
	Control      types.ControlView
}

// Robots maps robot id to its session record.
type Robots struct {
	mu  sync.RWMutex
	m   map[string]*RobotRecord
	log zerolog.Logger
}

// NewRobots creates an empty robot registry.
func NewRobots(log zerolog.Logger) *Robots {
	return &Robots{
		m:   make(map[string]*RobotRecord),
		log: log.With().Str("component", "robot-registry").Logger(),
	}
}

// Upsert registers a robot, atomically superseding any record already
// held under the same id. The prior socket is closed before the new record
// is stored, so a reconnecting robot never observes both sessions alive.
func (r *Robots) Upsert(id, version string, capabilities []string, conn *ws.Conn, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, exists := r.m[id]; exists && prev.Conn != nil && prev.Conn != conn {
		if err := prev.Conn.Close(); err != nil {
			r.log.Debug().Err(err).Str("robot", id).Msg("closing superseded robot socket")
		}
	}

	r.m[id] = &RobotRecord{
		ID:           id,
		Conn:         conn,
		Version:      version,
		Capabilities: capabilities,
		LastSeen:     now,
	}
}

// Remove deletes the record for id only if it still holds conn.
// A reaper or close handler racing a reconnect therefore cannot evict the
// fresh session.
func (r *Robots) Remove(id string, conn *ws.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.m[id]
	if !exists || rec.Conn != conn {
		return false
	}
	delete(r.m, id)
	return true
}

// Exists reports whether id is currently registered.
func (r *Robots) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.m[id]
	return ok
}

// Touch updates liveness and, when telemetry is non-nil, replaces the
// last-known snapshot. The returned snapshot carries the lease view read
// in the same critical section, so state broadcasts are atomically
// consistent with the telemetry they report.
func (r *Robots) Touch(id string, telemetry map[string]any, now time.Time) (RobotSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.m[id]
	if !exists {
		return RobotSnapshot{}, false
	}
	if now.After(rec.LastSeen) {
		rec.LastSeen = now
	}
	if telemetry != nil {
		rec.Telemetry = telemetry
	}
	return snapshotLocked(rec), true
}

// Snapshot returns a copy of the record for id.
func (r *Robots) Snapshot(id string) (RobotSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.m[id]
	if !exists {
		return RobotSnapshot{}, false
	}
	return snapshotLocked(rec), true
}

// List returns a snapshot of every registered robot.
func (r *Robots) List() []RobotSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RobotSnapshot, 0, len(r.m))
	for _, rec := range r.m {
		out = append(out, snapshotLocked(rec))
	}
	return out
}

// Count returns the number of registered robots.
func (r *Robots) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}

// ApplyControl runs one operator control action against the robot's lease.
// The bool result is false when the robot is unknown.
func (r *Robots) ApplyControl(id, action, clientID, clientName string, now time.Time) (control.Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.m[id]
	if !exists {
		return control.Result{}, false
	}
	return control.Apply(&rec.Lease, action, clientID, clientName, now), true
}

// CommandView is everything the command pipeline needs from the registry,
// captured in one critical section.
type CommandView struct {
	Exists     bool
	Authorized bool // owner check for motion kinds; true for non-motion
	POIs       []any
	Conn       *ws.Conn
}

// BeginCommand authorizes a command against the lease and, for an
// authorized motion command, refreshes the idle-eviction clock.
func (r *Robots) BeginCommand(id, clientID string, motion bool, now time.Time) CommandView {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.m[id]
	if !exists {
		return CommandView{}
	}
	view := CommandView{Exists: true, Authorized: true, Conn: rec.Conn, POIs: poisFrom(rec.Telemetry)}
	if motion {
		if rec.Lease.OwnerClientID != clientID {
			view.Authorized = false
		} else {
			rec.Lease.Touch(now)
		}
	}
	return view
}

// ReleaseOwnedBy unowns every lease held by clientID. Called when an
// operator session ends, before its record is removed.
func (r *Robots) ReleaseOwnedBy(clientID string) []control.Release {
	r.mu.Lock()
	defer r.mu.Unlock()

	var released []control.Release
	for id, rec := range r.m {
		if prev, ok := control.ReleaseIfOwnedBy(&rec.Lease, clientID); ok {
			released = append(released, control.Release{RobotID: id, PreviousOwner: prev})
		}
	}
	return released
}

// EvictIdleLeases unowns every lease whose owner has been idle past
// timeout.
func (r *Robots) EvictIdleLeases(now time.Time, timeout time.Duration) []control.Release {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []control.Release
	for id, rec := range r.m {
		if prev, ok := control.EvictIfIdle(&rec.Lease, now, timeout); ok {
			evicted = append(evicted, control.Release{RobotID: id, PreviousOwner: prev})
		}
	}
	return evicted
}

// StaleRobot identifies a session that stopped sending frames.
type StaleRobot struct {
	ID   string
	Conn *ws.Conn
}

// Stale returns the robots whose last frame is older than timeout. The
// caller removes each record with Remove and then terminates its socket,
// so a robot that reconnects between the scan and the removal survives.
func (r *Robots) Stale(now time.Time, timeout time.Duration) []StaleRobot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []StaleRobot
	for id, rec := range r.m {
		if now.Sub(rec.LastSeen) > timeout {
			stale = append(stale, StaleRobot{ID: id, Conn: rec.Conn})
		}
	}
	return stale
}

func snapshotLocked(rec *RobotRecord) RobotSnapshot {
	return RobotSnapshot{
		ID:           rec.ID,
		Online:       true,
		LastSeen:     rec.LastSeen,
		Version:      rec.Version,
		Capabilities: rec.Capabilities,
		Telemetry:    rec.Telemetry,
		Control:      rec.Lease.View(),
	}
}

// poisFrom pulls the POI catalogue out of the opaque telemetry snapshot.
func poisFrom(telemetry map[string]any) []any {
	if telemetry == nil {
		return nil
	}
	pois, _ := telemetry["pois"].([]any)
	return pois
}
