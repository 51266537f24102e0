package session

import (
	"github.com/torosent/tankpilot/internal/stage"
	"github.com/torosent/tankpilot/internal/tankapi"
)

// Action is the request a breakpoint change translates into.
type Action int

const (
	// ActionNone sends nothing.
	ActionNone Action = iota
	// ActionStart submits the test configuration and creates a new session.
	ActionStart
	// ActionContinue moves the pause target of the tracked session.
	ActionContinue
)

func (a Action) String() string {
	switch a {
	case ActionStart:
		return "start"
	case ActionContinue:
		return "continue"
	default:
		return "none"
	}
}

// Decide picks the request for applying brp given the tracked session.
//
// Without a resumable session a set breakpoint starts a new session and an
// unset one does nothing. A session is not resumable when none is tracked,
// it has no id yet, it is parked on the terminal stage, or the tank already
// reported it as succeeded or failed. Any other session, including one whose
// stage is not known yet, is continued; an unset breakpoint then means run
// to completion.
func Decide(reg *stage.Registry, tracked *Session, brp stage.Breakpoint) Action {
	if !resumable(reg, tracked) {
		if !brp.IsSet() {
			return ActionNone
		}
		return ActionStart
	}
	return ActionContinue
}

func resumable(reg *stage.Registry, s *Session) bool {
	switch {
	case s == nil || s.ID == "":
		return false
	case reg.IsTerminal(s.CurrentStage):
		return false
	case s.RemoteStatus == tankapi.StatusSuccess || s.RemoteStatus == tankapi.StatusFailed:
		return false
	}
	return true
}
