// Package session tracks one tank session at a time: it polls the tank for
// status, decides whether a breakpoint change starts a new session or moves
// the pause target of the current one, and exposes the derived progress
// used to gate operator actions.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/torosent/tankpilot/internal/stage"
)

var (
	// ErrNoActiveSession is returned by actions that need a tracked session.
	ErrNoActiveSession = errors.New("no active session")
	// ErrSuperseded is returned when a reply arrived after a newer request
	// had already changed the tracked session. The reply was discarded.
	ErrSuperseded = errors.New("reply superseded by a newer request")
)

// Session is the local cache of one remote session.
type Session struct {
	ID           string
	TestID       string
	CurrentStage string // empty until the first poll reports it
	Breakpoint   stage.Breakpoint
	RemoteStatus string // starting, running, success or failed
	Missing      bool   // last poll did not list this session
}

// EventKind classifies controller events.
type EventKind int

const (
	EventPollFailed EventKind = iota + 1
	EventPollRecovered
	EventSessionMissing
	EventUnknownStage
	EventStarted
	EventContinued
	EventStopped
	EventStaleResponse
)

var eventKindNames = map[EventKind]string{
	EventPollFailed:     "poll_failed",
	EventPollRecovered:  "poll_recovered",
	EventSessionMissing: "session_missing",
	EventUnknownStage:   "unknown_stage",
	EventStarted:        "started",
	EventContinued:      "continued",
	EventStopped:        "stopped",
	EventStaleResponse:  "stale_response",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is a notable change observed by the controller.
type Event struct {
	Kind    EventKind
	Session string
	Stage   string
	Err     error
	Time    time.Time
}

func (e Event) String() string {
	msg := e.Kind.String()
	if e.Session != "" {
		msg += " session=" + e.Session
	}
	if e.Stage != "" {
		msg += " stage=" + e.Stage
	}
	if e.Err != nil {
		msg += " error=" + e.Err.Error()
	}
	return msg
}
