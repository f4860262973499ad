package types

// Operator-visible error codes, sent verbatim in error frames.
const (
	CodeRobotOffline   = "ROBOT_OFFLINE"
	CodeNoControl      = "NO_CONTROL"
	CodeControlDenied  = "CONTROL_DENIED"
	CodeInvalidMode    = "INVALID_MODE"
	CodeMissingParam   = "MISSING_PARAM"
	CodeUnknownPOI     = "UNKNOWN_POI"
	CodeUnknownCommand = "UNKNOWN_COMMAND"
)

// CommandError is a validation or authorization failure reported to the
// originating operator only. It is not a Go error: nothing propagates, no
// state changes, the session continues.
type CommandError struct {
	Code           string
	Message        string
	Holder         string
	AvailablePOIs  []any
}

// Frame renders the error as a /ui error frame.
func (e *CommandError) Frame(robotID string) map[string]any {
	frame := map[string]any{
		"type":    TypeError,
		"code":    e.Code,
		"message": e.Message,
	}
	if robotID != "" {
		frame["robotId"] = robotID
	}
	if e.Holder != "" {
		frame["holder"] = e.Holder
	}
	if e.AvailablePOIs != nil {
		frame["availablePois"] = e.AvailablePOIs
	}
	return frame
}
