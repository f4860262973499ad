// Package command validates, clamps, and translates operator commands
// into robot-bound frames.
package command

import (
	"fmt"
	"math"
	"strconv"

	"github.com/fordward/relay/pkg/types"
)

// Limits are the velocity bounds applied to teleop commands.
type Limits struct {
	MaxLinear  float64
	MaxAngular float64
}

// motionKinds require the caller to hold the robot's control lease.
var motionKinds = map[string]bool{
	"teleop":   true,
	"goto_poi": true,
	"dock":     true,
	"navigate": true,
}

// IsMotion reports whether kind moves the robot.
func IsMotion(kind string) bool {
	return motionKinds[kind]
}

// Translate turns an operator command payload into the robot-bound frame,
// or a CommandError to report back to the operator. Existence and lease
// authorization have already been checked by the caller.
func Translate(kind string, payload map[string]any, pois []any, limits Limits) (*types.RobotCommand, *types.CommandError) {
	switch kind {
	case "teleop":
		linear := clampVelocity(payload["linear_x"], limits.MaxLinear)
		angular := clampVelocity(payload["angular_z"], limits.MaxAngular)
		return &types.RobotCommand{
			Type:     types.TypeCommand,
			Command:  "teleop",
			LinearX:  &linear,
			AngularZ: &angular,
		}, nil

	case "stop":
		return &types.RobotCommand{Type: types.TypeCommand, Command: "stop"}, nil

	case "set_mode":
		mode, _ := payload["mode"].(string)
		if !types.ValidModes[mode] {
			return nil, &types.CommandError{
				Code:    types.CodeInvalidMode,
				Message: fmt.Sprintf("invalid mode %q", mode),
			}
		}
		return &types.RobotCommand{Type: types.TypeCommand, Command: "set_mode", Mode: mode}, nil

	case "load_map":
		name, ok := mapName(payload)
		if !ok {
			return nil, missingParam("mapName")
		}
		return &types.RobotCommand{Type: types.TypeCommand, Command: "load_map", MapName: name}, nil

	case "save_map":
		name, ok := mapName(payload)
		if !ok {
			return nil, missingParam("mapName")
		}
		// The robot agent finishes a mapping run by stopping SLAM with
		// the target map name.
		return &types.RobotCommand{Type: types.TypeCommand, Command: "stop_slam", MapName: name}, nil

	case "goto_poi":
		poiID, ok := stringField(payload, "poiId", "poi_id")
		if !ok {
			return nil, missingParam("poiId")
		}
		// Only validated against the catalogue when the robot has
		// reported one.
		if len(pois) > 0 && !poiKnown(pois, poiID) {
			return nil, &types.CommandError{
				Code:          types.CodeUnknownPOI,
				Message:       fmt.Sprintf("unknown POI %q", poiID),
				AvailablePOIs: pois,
			}
		}
		return &types.RobotCommand{Type: types.TypeCommand, Command: "go_to_poi", PoiID: poiID}, nil

	case "cancel_nav":
		return &types.RobotCommand{Type: types.TypeCommand, Command: "cancel_nav"}, nil

	case "start_slam":
		return &types.RobotCommand{Type: types.TypeCommand, Command: "start_slam"}, nil

	case "restart":
		return &types.RobotCommand{Type: types.TypeCommand, Command: "restart"}, nil
	}

	return nil, &types.CommandError{
		Code:    types.CodeUnknownCommand,
		Message: fmt.Sprintf("unknown command kind %q", kind),
	}
}

func missingParam(name string) *types.CommandError {
	return &types.CommandError{
		Code:    types.CodeMissingParam,
		Message: fmt.Sprintf("%s is required", name),
	}
}

func mapName(payload map[string]any) (string, bool) {
	return stringField(payload, "mapName", "map_name")
}

// stringField reads the first non-empty string under any of the given
// keys. Both camelCase and snake_case forms are accepted on input.
func stringField(payload map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if s, ok := payload[key].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// poiKnown matches the requested id against each catalogue entry's id or
// name.
func poiKnown(pois []any, poiID string) bool {
	for _, entry := range pois {
		poi, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := poi["id"].(string); ok && id == poiID {
			return true
		}
		if name, ok := poi["name"].(string); ok && name == poiID {
			return true
		}
	}
	return false
}

// clampVelocity coerces v to a number and clamps it to ±limit. Missing,
// non-numeric, and non-finite inputs all become 0.
func clampVelocity(v any, limit float64) float64 {
	f := toNumber(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		f = 0
	}
	if f > limit {
		return limit
	}
	if f < -limit {
		return -limit
	}
	return f
}

func toNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f
		}
	}
	return 0
}
