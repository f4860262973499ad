package relay

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fordward/relay/internal/ws"
	"github.com/fordward/relay/pkg/types"
)

// HandleRobot serves the /robot endpoint.
func (r *Relay) HandleRobot(w http.ResponseWriter, req *http.Request) {
	raw, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn().Err(err).Msg("robot upgrade failed")
		return
	}

	log := r.log.With().Str("endpoint", "/robot").Str("remote", raw.RemoteAddr().String()).Logger()
	conn := ws.New(raw, r.connOptions(), log)

	// robotID is set once the robot introduces itself; frames before the
	// hello that omit an id fall back to the default.
	var robotID string

	defer func() {
		if robotID != "" && r.robots.Remove(robotID, conn) {
			r.broadcastToAll(eventFrame(robotID, types.EventRobotOffline, map[string]any{
				"robotId": robotID,
				"reason":  types.ReasonDisconnected,
			}))
			r.record(robotID, "", types.EventRobotOffline, map[string]any{"reason": types.ReasonDisconnected})
			log.Info().Str("robot", robotID).Msg("robot disconnected")
		}
		_ = conn.Close()
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("robot read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		frame, ok := parseFrame(data)
		if !ok {
			log.Warn().Msg("malformed robot frame dropped")
			continue
		}

		switch frameType(frame) {
		case types.TypeHello, types.TypeRegister:
			robotID = r.handleRegister(conn, frame, robotID)
		case types.TypeTelemetry:
			r.handleTelemetry(frame, robotID)
		case types.TypeCommandResult:
			r.handleCommandResult(frame, robotID)
		default:
			log.Debug().Str("frameType", frameType(frame)).Msg("ignoring unknown robot frame")
		}
	}
}

// handleRegister upserts the registry entry and announces the robot. The
// returned id becomes the session's registered identity.
func (r *Relay) handleRegister(conn *ws.Conn, frame map[string]any, prevID string) string {
	id := robotIDFrom(frame, types.DefaultRobotID)

	// A socket re-registering under a new id retires its old record
	// first. Leaving it behind would let the staleness reaper close the
	// shared socket out from under the live session.
	if prevID != "" && prevID != id && r.robots.Remove(prevID, conn) {
		r.broadcastToAll(eventFrame(prevID, types.EventRobotOffline, map[string]any{
			"robotId": prevID,
			"reason":  types.ReasonDisconnected,
		}))
		r.record(prevID, "", types.EventRobotOffline, map[string]any{"reason": types.ReasonDisconnected})
		r.log.Info().Str("robot", prevID).Str("newId", id).Msg("robot re-registered under new id")
	}

	version := types.DefaultRobotVersion
	if v, ok := stringField(frame, "version"); ok {
		version = v
	}
	capabilities := capabilitiesFrom(frame)

	r.robots.Upsert(id, version, capabilities, conn, time.Now())

	if err := conn.Send(map[string]any{
		"type":               types.TypeWelcome,
		"robotId":            id,
		"serverTime":         nowMillis(),
		"telemetryRateHz":    r.cfg.TelemetryRateHz,
		"maxLinearVelocity":  r.cfg.MaxLinearVelocity,
		"maxAngularVelocity": r.cfg.MaxAngularVelocity,
	}); err != nil {
		r.log.Debug().Err(err).Str("robot", id).Msg("welcome send failed")
	}

	r.broadcastToAll(eventFrame(id, types.EventRobotOnline, map[string]any{
		"robotId": id,
		"version": version,
	}))
	r.record(id, "", types.EventRobotOnline, map[string]any{"version": version})
	r.log.Info().Str("robot", id).Str("version", version).Msg("robot registered")

	return id
}

// handleTelemetry refreshes liveness, replaces the telemetry snapshot,
// and fans the combined state out to subscribers.
func (r *Relay) handleTelemetry(frame map[string]any, registeredID string) {
	id := robotIDFrom(frame, fallbackID(registeredID))

	snap, ok := r.robots.Touch(id, telemetryFrom(frame), time.Now())
	if !ok {
		r.log.Debug().Str("robot", id).Msg("telemetry for unregistered robot dropped")
		return
	}
	r.broadcastToSubscribers(id, stateFrame(snap))
}

// handleCommandResult relays an execution report to subscribers.
func (r *Relay) handleCommandResult(frame map[string]any, registeredID string) {
	id := robotIDFrom(frame, fallbackID(registeredID))

	if _, ok := r.robots.Touch(id, nil, time.Now()); !ok {
		return
	}

	fields := map[string]any{}
	for _, key := range []string{"command", "success", "message", "timestamp"} {
		if v, present := frame[key]; present {
			fields[key] = v
		}
	}
	r.broadcastToSubscribers(id, eventFrame(id, types.EventCommandResult, fields))
}

func fallbackID(registeredID string) string {
	if registeredID != "" {
		return registeredID
	}
	return types.DefaultRobotID
}

// telemetryFrom prefers the payload object; a payload-less frame has its
// flat top-level fields gathered into one.
func telemetryFrom(frame map[string]any) map[string]any {
	if payload := framePayload(frame); payload != nil {
		return payload
	}

	telemetry := map[string]any{}
	if mode, ok := stringField(frame, "mode"); ok {
		telemetry["mode"] = mode
	} else if state, ok := stringField(frame, "state"); ok {
		telemetry["mode"] = state
	}
	for _, key := range []string{"pose", "battery", "nav", "maps", "pois"} {
		if v, present := frame[key]; present {
			telemetry[key] = v
		}
	}
	return telemetry
}

func capabilitiesFrom(frame map[string]any) []string {
	raw, ok := frame["capabilities"].([]any)
	if !ok || len(raw) == 0 {
		return types.DefaultCapabilities
	}
	capabilities := make([]string, 0, len(raw))
	for _, entry := range raw {
		if s, ok := entry.(string); ok {
			capabilities = append(capabilities, s)
		}
	}
	if len(capabilities) == 0 {
		return types.DefaultCapabilities
	}
	return capabilities
}
