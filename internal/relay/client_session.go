package relay

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/fordward/relay/internal/command"
	"github.com/fordward/relay/internal/control"
	"github.com/fordward/relay/internal/ws"
	"github.com/fordward/relay/pkg/types"
)

// HandleUI serves the /ui endpoint.
func (r *Relay) HandleUI(w http.ResponseWriter, req *http.Request) {
	raw, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn().Err(err).Msg("ui upgrade failed")
		return
	}

	clientID := newClientID()
	log := r.log.With().Str("endpoint", "/ui").Str("client", clientID).Logger()
	conn := ws.New(raw, r.connOptions(), log)

	r.clients.Add(clientID, conn, time.Now())
	log.Info().Msg("operator connected")

	if err := conn.Send(map[string]any{
		"type":      types.TypeWelcome,
		"clientId":  clientID,
		"robots":    robotSummaries(r.robots.List()),
		"timestamp": nowMillis(),
	}); err != nil {
		log.Debug().Err(err).Msg("welcome send failed")
	}

	defer func() {
		// Invariant: leases held by this client are released before the
		// client record disappears.
		for _, rel := range r.robots.ReleaseOwnedBy(clientID) {
			r.broadcastToSubscribers(rel.RobotID, eventFrame(rel.RobotID, types.EventControlReleased, map[string]any{
				"reason":        types.ReasonOwnerDisconnected,
				"previousOwner": rel.PreviousOwner,
			}))
			r.record(rel.RobotID, clientID, types.EventControlReleased, map[string]any{"reason": types.ReasonOwnerDisconnected})
		}
		r.clients.Remove(clientID)
		_ = conn.Close()
		log.Info().Msg("operator disconnected")
	}()

	limiter := rate.NewLimiter(rate.Limit(r.cfg.ClientFramesPerSecond), r.cfg.ClientFrameBurst)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("operator read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if !limiter.Allow() {
			log.Warn().Msg("operator frame rate exceeded, dropping frame")
			continue
		}

		frame, ok := parseFrame(data)
		if !ok {
			log.Warn().Msg("malformed operator frame dropped")
			continue
		}

		switch frameType(frame) {
		case types.TypeSubscribe:
			r.handleSubscribe(conn, clientID, frame)
		case types.TypeUnsubscribe:
			r.clients.Unsubscribe(clientID, robotIDFrom(frame, types.DefaultRobotID))
		case types.TypeControl:
			r.handleControl(conn, clientID, frame)
		case types.TypeCommand:
			r.handleCommand(conn, clientID, frame)
		case types.TypePing:
			_ = conn.Send(map[string]any{"type": types.TypePong, "timestamp": nowMillis()})
		default:
			log.Debug().Str("frameType", frameType(frame)).Msg("ignoring unknown operator frame")
		}
	}
}

// handleSubscribe registers interest and immediately answers with a state
// snapshot, online or not.
func (r *Relay) handleSubscribe(conn *ws.Conn, clientID string, frame map[string]any) {
	robotID := robotIDFrom(frame, types.DefaultRobotID)
	if name, ok := stringField(frame, "clientName"); ok {
		r.clients.SetName(clientID, name)
	}
	r.clients.Subscribe(clientID, robotID)

	if snap, ok := r.robots.Snapshot(robotID); ok {
		_ = conn.Send(stateFrame(snap))
	} else {
		_ = conn.Send(offlineStateFrame(robotID))
	}
}

// handleControl runs the lease state machine and emits the transition's
// broadcast or error after the registry lock has been released.
func (r *Relay) handleControl(conn *ws.Conn, clientID string, frame map[string]any) {
	robotID := robotIDFrom(frame, types.DefaultRobotID)
	payload := framePayload(frame)
	action, _ := payload["action"].(string)
	if name, ok := payload["clientName"].(string); ok && name != "" {
		r.clients.SetName(clientID, name)
	}
	ownerName := r.clients.Name(clientID)

	res, exists := r.robots.ApplyControl(robotID, action, clientID, ownerName, time.Now())
	if !exists {
		r.sendError(conn, robotID, &types.CommandError{
			Code:    types.CodeRobotOffline,
			Message: "robot is not connected",
		})
		return
	}

	switch res.Outcome {
	case control.OutcomeAcquired:
		r.broadcastToSubscribers(robotID, eventFrame(robotID, types.EventControlAcquired, map[string]any{
			"ownerClientId": clientID,
			"ownerName":     ownerName,
		}))
		r.record(robotID, clientID, types.EventControlAcquired, nil)

	case control.OutcomeConfirmed:
		_ = conn.Send(eventFrame(robotID, types.EventControlConfirmed, map[string]any{
			"ownerClientId": clientID,
			"ownerName":     ownerName,
		}))

	case control.OutcomeDenied:
		r.sendError(conn, robotID, &types.CommandError{
			Code:    types.CodeControlDenied,
			Message: "control is held by " + res.Holder,
			Holder:  res.Holder,
		})

	case control.OutcomeReleased:
		// No ack to the requester, broadcast only.
		r.broadcastToSubscribers(robotID, eventFrame(robotID, types.EventControlReleased, map[string]any{
			"previousOwner": ownerName,
		}))
		r.record(robotID, clientID, types.EventControlReleased, nil)

	case control.OutcomeForced:
		r.broadcastToSubscribers(robotID, eventFrame(robotID, types.EventControlForced, map[string]any{
			"ownerClientId": clientID,
			"ownerName":     ownerName,
			"previousOwner": res.PreviousOwner,
		}))
		r.record(robotID, clientID, types.EventControlForced, map[string]any{"previousOwner": res.PreviousOwner})

	case control.OutcomeNoop:
		// Release by a non-owner: silent.

	default:
		r.log.Debug().Str("action", action).Msg("ignoring unknown control action")
	}
}

// handleCommand runs the pipeline: existence, lease authorization for
// motion kinds, then per-kind validation and translation. A robot whose
// socket is no longer open swallows the command; it is about to be
// reaped.
func (r *Relay) handleCommand(conn *ws.Conn, clientID string, frame map[string]any) {
	robotID := robotIDFrom(frame, types.DefaultRobotID)
	payload := framePayload(frame)
	kind, _ := payload["kind"].(string)

	motion := command.IsMotion(kind)
	view := r.robots.BeginCommand(robotID, clientID, motion, time.Now())
	if !view.Exists {
		r.sendError(conn, robotID, &types.CommandError{
			Code:    types.CodeRobotOffline,
			Message: "robot is not connected",
		})
		return
	}
	if motion && !view.Authorized {
		r.sendError(conn, robotID, &types.CommandError{
			Code:    types.CodeNoControl,
			Message: "you do not hold control of this robot",
		})
		return
	}

	robotFrame, cmdErr := command.Translate(kind, payload, view.POIs, command.Limits{
		MaxLinear:  r.cfg.MaxLinearVelocity,
		MaxAngular: r.cfg.MaxAngularVelocity,
	})
	if cmdErr != nil {
		r.sendError(conn, robotID, cmdErr)
		r.record(robotID, clientID, "command_rejected", map[string]any{"kind": kind, "code": cmdErr.Code})
		return
	}

	if !view.Conn.Open() {
		r.log.Debug().Str("robot", robotID).Str("kind", kind).Msg("robot socket not open, command dropped")
		return
	}
	if err := view.Conn.Send(robotFrame); err != nil {
		r.log.Debug().Err(err).Str("robot", robotID).Msg("command forward failed")
		return
	}
	r.record(robotID, clientID, "command_forwarded", map[string]any{"kind": kind, "command": robotFrame.Command})
}

func (r *Relay) sendError(conn *ws.Conn, robotID string, cmdErr *types.CommandError) {
	if err := conn.Send(cmdErr.Frame(robotID)); err != nil {
		r.log.Debug().Err(err).Str("code", cmdErr.Code).Msg("error frame send failed")
	}
}

// newClientID returns a short random hex identifier unique across live
// sessions.
func newClientID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
