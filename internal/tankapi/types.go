package tankapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrTransport marks requests that could not be sent or got no response.
	ErrTransport = errors.New("tank api transport failure")
	// ErrMalformedResponse marks responses missing the fields the client needs.
	ErrMalformedResponse = errors.New("malformed tank api response")
)

// APIError represents a non-2xx reply from the tank API.
type APIError struct {
	StatusCode int
	Reason     string
	Body       string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Session lifecycle values reported in SessionStatus.Status.
const (
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusSuccess  = "success"
	StatusFailed   = "failed"
)

// Failure is one stage failure reported by the tank.
type Failure struct {
	Stage  string `json:"stage" yaml:"stage"`
	Reason string `json:"reason" yaml:"reason"`
}

// SessionStatus is the remote view of one session.
type SessionStatus struct {
	Test           string          `json:"test,omitempty" yaml:"test,omitempty"`
	Status         string          `json:"status,omitempty" yaml:"status,omitempty"`
	CurrentStage   string          `json:"current_stage,omitempty" yaml:"current_stage,omitempty"`
	Break          string          `json:"break,omitempty" yaml:"break,omitempty"`
	StageCompleted bool            `json:"stage_completed,omitempty" yaml:"stage_completed,omitempty"`
	Reason         string          `json:"reason,omitempty" yaml:"reason,omitempty"`
	Failures       []Failure       `json:"failures,omitempty" yaml:"failures,omitempty"`
	Raw            json.RawMessage `json:"-" yaml:"-"`
}

// Finished reports whether the remote process has exited.
func (s SessionStatus) Finished() bool {
	return s.Status == StatusSuccess || s.Status == StatusFailed
}

// Snapshot maps session ids to their reported status. It is always replaced
// as a whole, never merged.
type Snapshot map[string]SessionStatus

// Get returns the status for id.
func (s Snapshot) Get(id string) (SessionStatus, bool) {
	st, ok := s[id]
	return st, ok
}

// IDs returns the session ids in sorted order.
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a copy that shares no map storage with s.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for id, st := range s {
		st.Failures = append([]Failure(nil), st.Failures...)
		out[id] = st
	}
	return out
}

// RunReply is returned when a session is started.
type RunReply struct {
	Test    string `json:"test"`
	Session string `json:"session"`
}

// Reply is the free-form answer to continue and stop requests.
type Reply struct {
	Reason string          `json:"reason,omitempty"`
	Raw    json.RawMessage `json:"-"`
}

// StartRequest describes a new session.
type StartRequest struct {
	Config     []byte
	Breakpoint string // empty lets the service run to completion
	TestID     string // empty lets the service pick one
}

func (r StartRequest) String() string {
	var parts []string
	if r.TestID != "" {
		parts = append(parts, "test="+r.TestID)
	}
	if r.Breakpoint != "" {
		parts = append(parts, "break="+r.Breakpoint)
	}
	parts = append(parts, fmt.Sprintf("config=%dB", len(r.Config)))
	return strings.Join(parts, " ")
}
