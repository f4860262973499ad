package relay

import (
	"encoding/json"
	"time"

	"github.com/fordward/relay/internal/registry"
	"github.com/fordward/relay/pkg/types"
)

// Incoming frames are discriminated solely by their "type" string, so they
// are decoded into plain maps and picked apart with the helpers below.
// Unrecognized types fall through to log-and-ignore in the sessions.

func parseFrame(data []byte) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false
	}
	return m, true
}

func frameType(m map[string]any) string {
	t, _ := m["type"].(string)
	return t
}

func framePayload(m map[string]any) map[string]any {
	payload, _ := m["payload"].(map[string]any)
	return payload
}

// robotIDFrom accepts both the camelCase and snake_case field names; the
// server itself only ever emits robotId.
func robotIDFrom(m map[string]any, fallback string) string {
	if id, ok := m["robotId"].(string); ok && id != "" {
		return id
	}
	if id, ok := m["robot_id"].(string); ok && id != "" {
		return id
	}
	return fallback
}

func stringField(m map[string]any, key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok && s != ""
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// eventFrame builds an event envelope. robotID may be empty for
// server-wide events.
func eventFrame(robotID, kind string, fields map[string]any) map[string]any {
	payload := map[string]any{
		"kind":      kind,
		"timestamp": nowMillis(),
	}
	for k, v := range fields {
		payload[k] = v
	}
	frame := map[string]any{
		"type":    types.TypeEvent,
		"payload": payload,
	}
	if robotID != "" {
		frame["robotId"] = robotID
	}
	return frame
}

// stateFrame renders a registry snapshot as the state message sent to
// subscribers: the telemetry fields inlined at the top level plus the
// lease projection taken in the same critical section.
func stateFrame(snap registry.RobotSnapshot) map[string]any {
	frame := map[string]any{
		"type":      types.TypeState,
		"robotId":   snap.ID,
		"online":    snap.Online,
		"control":   snap.Control,
		"timestamp": nowMillis(),
	}
	for k, v := range snap.Telemetry {
		switch k {
		case "type", "robotId", "online", "control", "timestamp":
			// telemetry cannot shadow envelope fields
		default:
			frame[k] = v
		}
	}
	return frame
}

// offlineStateFrame is the snapshot sent on subscribe when the robot is
// not registered.
func offlineStateFrame(robotID string) map[string]any {
	return map[string]any{
		"type":      types.TypeState,
		"robotId":   robotID,
		"online":    false,
		"mode":      "unknown",
		"control":   types.ControlView{},
		"timestamp": nowMillis(),
	}
}

// robotSummaries lists the registered robots for the operator welcome
// frame.
func robotSummaries(snaps []registry.RobotSnapshot) []map[string]any {
	out := make([]map[string]any, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, map[string]any{
			"robotId":  snap.ID,
			"online":   snap.Online,
			"lastSeen": snap.LastSeen,
			"mode":     modeFrom(snap.Telemetry),
			"control":  snap.Control,
		})
	}
	return out
}

func modeFrom(telemetry map[string]any) string {
	if mode, ok := telemetry["mode"].(string); ok && mode != "" {
		return mode
	}
	return "unknown"
}
