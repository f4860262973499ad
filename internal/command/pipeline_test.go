package command

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fordward/relay/pkg/types"
)

var testLimits = Limits{MaxLinear: 0.5, MaxAngular: 1.5}

func TestIsMotion(t *testing.T) {
	for _, kind := range []string{"teleop", "goto_poi", "dock", "navigate"} {
		assert.True(t, IsMotion(kind), kind)
	}
	for _, kind := range []string{"stop", "set_mode", "load_map", "save_map", "cancel_nav", "start_slam", "restart", ""} {
		assert.False(t, IsMotion(kind), kind)
	}
}

func TestTranslateTeleopClamping(t *testing.T) {
	cases := []struct {
		name            string
		linear, angular any
		wantLinear      float64
		wantAngular     float64
	}{
		{"within limits", 0.3, -1.0, 0.3, -1.0},
		{"above limits", 2.0, -5.0, 0.5, -1.5},
		{"just above boundary", 0.5000001, 1.5000001, 0.5, 1.5},
		{"at boundary inclusive", 0.5, -1.5, 0.5, -1.5},
		{"positive infinity", math.Inf(1), 0.0, 0, 0},
		{"negative infinity", math.Inf(-1), 0.0, 0, 0},
		{"NaN", math.NaN(), 0.0, 0, 0},
		{"missing fields", nil, nil, 0, 0},
		{"numeric strings", "0.2", "-9", 0.2, -1.5},
		{"non-numeric strings", "fast", "spin", 0, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := map[string]any{"kind": "teleop"}
			if tc.linear != nil {
				payload["linear_x"] = tc.linear
			}
			if tc.angular != nil {
				payload["angular_z"] = tc.angular
			}

			frame, cmdErr := Translate("teleop", payload, nil, testLimits)
			require.Nil(t, cmdErr)
			require.NotNil(t, frame)
			assert.Equal(t, "command", frame.Type)
			assert.Equal(t, "teleop", frame.Command)
			require.NotNil(t, frame.LinearX)
			require.NotNil(t, frame.AngularZ)
			assert.Equal(t, tc.wantLinear, *frame.LinearX)
			assert.Equal(t, tc.wantAngular, *frame.AngularZ)
		})
	}
}

func TestTranslateTeleopEmitsZeroVelocities(t *testing.T) {
	frame, cmdErr := Translate("teleop", map[string]any{}, nil, testLimits)
	require.Nil(t, cmdErr)

	data, err := json.Marshal(frame)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"command","command":"teleop","linear_x":0,"angular_z":0}`, string(data))
}

func TestTranslateStop(t *testing.T) {
	frame, cmdErr := Translate("stop", map[string]any{}, nil, testLimits)
	require.Nil(t, cmdErr)
	assert.Equal(t, &types.RobotCommand{Type: "command", Command: "stop"}, frame)
}

func TestTranslateSetMode(t *testing.T) {
	for _, mode := range []string{"idle", "slam", "nav", "localization"} {
		frame, cmdErr := Translate("set_mode", map[string]any{"mode": mode}, nil, testLimits)
		require.Nil(t, cmdErr, mode)
		assert.Equal(t, mode, frame.Mode)
	}

	// Mode matching is case sensitive.
	_, cmdErr := Translate("set_mode", map[string]any{"mode": "Nav"}, nil, testLimits)
	require.NotNil(t, cmdErr)
	assert.Equal(t, types.CodeInvalidMode, cmdErr.Code)

	_, cmdErr = Translate("set_mode", map[string]any{}, nil, testLimits)
	require.NotNil(t, cmdErr)
	assert.Equal(t, types.CodeInvalidMode, cmdErr.Code)
}

func TestTranslateLoadMap(t *testing.T) {
	frame, cmdErr := Translate("load_map", map[string]any{"mapName": "floor1"}, nil, testLimits)
	require.Nil(t, cmdErr)
	assert.Equal(t, "load_map", frame.Command)
	assert.Equal(t, "floor1", frame.MapName)

	// snake_case alias accepted on input.
	frame, cmdErr = Translate("load_map", map[string]any{"map_name": "floor2"}, nil, testLimits)
	require.Nil(t, cmdErr)
	assert.Equal(t, "floor2", frame.MapName)

	_, cmdErr = Translate("load_map", map[string]any{}, nil, testLimits)
	require.NotNil(t, cmdErr)
	assert.Equal(t, types.CodeMissingParam, cmdErr.Code)
}

func TestTranslateSaveMapBecomesStopSlam(t *testing.T) {
	frame, cmdErr := Translate("save_map", map[string]any{"mapName": "floor1"}, nil, testLimits)
	require.Nil(t, cmdErr)
	assert.Equal(t, "stop_slam", frame.Command)
	assert.Equal(t, "floor1", frame.MapName)

	_, cmdErr = Translate("save_map", map[string]any{}, nil, testLimits)
	require.NotNil(t, cmdErr)
	assert.Equal(t, types.CodeMissingParam, cmdErr.Code)
}

func TestTranslateGotoPOI(t *testing.T) {
	pois := []any{
		map[string]any{"id": "dock-1", "name": "Dock"},
		map[string]any{"id": "kitchen", "name": "Kitchen"},
	}

	frame, cmdErr := Translate("goto_poi", map[string]any{"poiId": "kitchen"}, pois, testLimits)
	require.Nil(t, cmdErr)
	assert.Equal(t, "go_to_poi", frame.Command)
	assert.Equal(t, "kitchen", frame.PoiID)

	// Matching by display name also counts.
	frame, cmdErr = Translate("goto_poi", map[string]any{"poi_id": "Dock"}, pois, testLimits)
	require.Nil(t, cmdErr)
	assert.Equal(t, "Dock", frame.PoiID)

	_, cmdErr = Translate("goto_poi", map[string]any{"poiId": "nowhere"}, pois, testLimits)
	require.NotNil(t, cmdErr)
	assert.Equal(t, types.CodeUnknownPOI, cmdErr.Code)
	assert.Equal(t, pois, cmdErr.AvailablePOIs)

	_, cmdErr = Translate("goto_poi", map[string]any{}, pois, testLimits)
	require.NotNil(t, cmdErr)
	assert.Equal(t, types.CodeMissingParam, cmdErr.Code)
}

func TestTranslateGotoPOIWithoutCatalogueForwards(t *testing.T) {
	frame, cmdErr := Translate("goto_poi", map[string]any{"poiId": "anywhere"}, nil, testLimits)
	require.Nil(t, cmdErr)
	assert.Equal(t, "anywhere", frame.PoiID)

	frame, cmdErr = Translate("goto_poi", map[string]any{"poiId": "anywhere"}, []any{}, testLimits)
	require.Nil(t, cmdErr)
	assert.Equal(t, "anywhere", frame.PoiID)
}

func TestTranslateBareCommands(t *testing.T) {
	for kind, want := range map[string]string{
		"cancel_nav": "cancel_nav",
		"start_slam": "start_slam",
		"restart":    "restart",
	} {
		frame, cmdErr := Translate(kind, map[string]any{}, nil, testLimits)
		require.Nil(t, cmdErr, kind)
		assert.Equal(t, want, frame.Command)
	}
}

func TestTranslateUnknownKind(t *testing.T) {
	// dock and navigate are motion kinds with no translation yet: they
	// pass authorization but are rejected here.
	for _, kind := range []string{"fly", "dock", "navigate", ""} {
		_, cmdErr := Translate(kind, map[string]any{}, nil, testLimits)
		require.NotNil(t, cmdErr, kind)
		assert.Equal(t, types.CodeUnknownCommand, cmdErr.Code)
	}
}
