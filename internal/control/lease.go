// Package control implements the per-robot exclusive control lease. The
// transition functions are pure; the registry invokes them while holding
// its lock so every transition is serialized with the state it reads.
package control

import (
	"time"

	"github.com/fordward/relay/pkg/types"
)

// Actions carried in operator control frames.
const (
	ActionRequest = "request"
	ActionRelease = "release"
	ActionForce   = "force"
)

// Lease is the exclusive-owner state for one robot. The zero value is
// unowned.
type Lease struct {
	OwnerClientID string
	OwnerName     string
	AcquiredAt    time.Time
	LastCommandAt time.Time
}

// Owned reports whether some operator currently holds the lease.
func (l *Lease) Owned() bool {
	return l.OwnerClientID != ""
}

// Touch refreshes the idle-eviction clock.
func (l *Lease) Touch(now time.Time) {
	l.LastCommandAt = now
}

// View projects the lease for state frames and HTTP responses.
func (l *Lease) View() types.ControlView {
	if !l.Owned() {
		return types.ControlView{}
	}
	owner := l.OwnerClientID
	name := l.OwnerName
	since := l.AcquiredAt
	return types.ControlView{
		OwnerClientID: &owner,
		OwnerName:     &name,
		Since:         &since,
	}
}

// Outcome classifies what a transition did.
type Outcome int

const (
	OutcomeInvalid Outcome = iota
	OutcomeAcquired
	OutcomeConfirmed
	OutcomeDenied
	OutcomeReleased
	OutcomeNoop
	OutcomeForced
)

// Result reports a transition to the caller so the matching broadcast or
// error frame can be emitted after the registry lock is released.
type Result struct {
	Outcome       Outcome
	Holder        string // current owner name, set on OutcomeDenied
	PreviousOwner string // set on OutcomeForced
}

// Apply drives the operator-facing state machine.
func Apply(l *Lease, action, clientID, clientName string, now time.Time) Result {
	switch action {
	case ActionRequest:
		if !l.Owned() {
			l.OwnerClientID = clientID
			l.OwnerName = clientName
			l.AcquiredAt = now
			l.LastCommandAt = now
			return Result{Outcome: OutcomeAcquired}
		}
		if l.OwnerClientID == clientID {
			l.LastCommandAt = now
			return Result{Outcome: OutcomeConfirmed}
		}
		return Result{Outcome: OutcomeDenied, Holder: l.OwnerName}

	case ActionRelease:
		if l.Owned() && l.OwnerClientID == clientID {
			*l = Lease{}
			return Result{Outcome: OutcomeReleased}
		}
		// Release by a non-owner is a silent no-op.
		return Result{Outcome: OutcomeNoop}

	case ActionForce:
		prev := l.OwnerName
		l.OwnerClientID = clientID
		l.OwnerName = clientName
		l.AcquiredAt = now
		l.LastCommandAt = now
		return Result{Outcome: OutcomeForced, PreviousOwner: prev}
	}

	return Result{Outcome: OutcomeInvalid}
}

// Release is an eviction performed outside the operator state machine:
// owner disconnect or idle timeout.
type Release struct {
	RobotID       string
	PreviousOwner string
}

// ReleaseIfOwnedBy unowns the lease when clientID holds it.
func ReleaseIfOwnedBy(l *Lease, clientID string) (string, bool) {
	if !l.Owned() || l.OwnerClientID != clientID {
		return "", false
	}
	prev := l.OwnerName
	*l = Lease{}
	return prev, true
}

// EvictIfIdle unowns the lease when its owner has sent no motion command
// for longer than timeout.
func EvictIfIdle(l *Lease, now time.Time, timeout time.Duration) (string, bool) {
	if !l.Owned() || now.Sub(l.LastCommandAt) <= timeout {
		return "", false
	}
	prev := l.OwnerName
	*l = Lease{}
	return prev, true
}
