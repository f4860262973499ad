package types

import (
	"time"
)

// Frame type strings consumed on the /robot endpoint.
const (
	TypeHello         = "hello"
	TypeRegister      = "register" // accepted as a synonym for hello
	TypeTelemetry     = "telemetry"
	TypeCommandResult = "command_result"
)

// Frame type strings consumed on the /ui endpoint.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeControl     = "control"
	TypeCommand     = "command"
	TypePing        = "ping"
)

// Frame type strings emitted by the server.
const (
	TypeWelcome = "welcome"
	TypeState   = "state"
	TypeEvent   = "event"
	TypeError   = "error"
	TypePong    = "pong"
)

// Event kinds carried in event frame payloads.
const (
	EventRobotOnline      = "robot_online"
	EventRobotOffline     = "robot_offline"
	EventControlAcquired  = "control_acquired"
	EventControlConfirmed = "control_confirmed"
	EventControlReleased  = "control_released"
	EventControlForced    = "control_forced"
	EventCommandResult    = "command_result"
	EventServerShutdown   = "server_shutdown"
)

// Lease release reasons carried on control_released events.
const (
	ReasonOwnerDisconnected = "owner_disconnected"
	ReasonIdleTimeout       = "idle_timeout"
)

// Robot offline reasons.
const (
	ReasonDisconnected = "disconnected"
	ReasonTimeout      = "timeout"
)

// DefaultRobotID is assumed when a robot frame omits its identifier. Kept
// for wire compatibility with the existing robot agent.
const DefaultRobotID = "fordward"

// DefaultRobotVersion is reported for robots that register without one.
const DefaultRobotVersion = "0.0.0"

// DefaultCapabilities is assumed for robots that register without any.
var DefaultCapabilities = []string{"pose", "battery", "mode"}

// ValidModes are the robot operating modes accepted by set_mode.
var ValidModes = map[string]bool{
	"idle":         true,
	"slam":         true,
	"nav":          true,
	"localization": true,
}

// ControlView is the lease projection embedded in state frames and HTTP
// robot projections. All owner fields are null when the lease is unowned.
type ControlView struct {
	OwnerClientID *string    `json:"ownerClientId"`
	OwnerName     *string    `json:"ownerName"`
	Since         *time.Time `json:"since,omitempty"`
}

// RobotCommand is the robot-bound frame produced by the command pipeline.
// LinearX and AngularZ are pointers so a clamped zero is still emitted for
// teleop while the other command shapes omit them entirely.
type RobotCommand struct {
	Type     string   `json:"type"`
	Command  string   `json:"command"`
	LinearX  *float64 `json:"linear_x,omitempty"`
	AngularZ *float64 `json:"angular_z,omitempty"`
	Mode     string   `json:"mode,omitempty"`
	MapName  string   `json:"map_name,omitempty"`
	PoiID    string   `json:"poi_id,omitempty"`
}
