package session

import (
	"context"
	"time"

	"github.com/torosent/tankpilot/internal/tankapi"
)

// DestinationReached reports whether a session has arrived at target: the
// tank is past its startup, reports target as the current stage, and has
// either completed that stage or target is the terminal stage.
//
// A session the tank reports as succeeded has reached the terminal target
// whatever it names its last stage.
func DestinationReached(st tankapi.SessionStatus, target, terminal string) bool {
	if st.Status == tankapi.StatusStarting {
		return false
	}
	if target == terminal && st.Status == tankapi.StatusSuccess {
		return true
	}
	if st.CurrentStage != target {
		return false
	}
	return st.StageCompleted || st.CurrentStage == terminal
}

// StatusFetcher returns the remote status of a single session.
type StatusFetcher interface {
	SessionStatus(ctx context.Context, sessionID string) (tankapi.SessionStatus, error)
}

// WaitForStage polls sessionID every interval until it reaches target, the
// session ends without reaching it, or ctx is done. Fetch errors are passed
// to onError (if set) and polling continues.
func WaitForStage(ctx context.Context, fetch StatusFetcher, sessionID, target, terminal string, interval time.Duration, onError func(error)) (tankapi.SessionStatus, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := fetch.SessionStatus(ctx, sessionID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return st, ctx.Err()
			}
			if onError != nil {
				onError(err)
			}
		case DestinationReached(st, target, terminal):
			return st, nil
		case st.Finished():
			return st, &EndedError{SessionID: sessionID, Target: target, Status: st}
		}

		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

// EndedError reports a session that finished before reaching the awaited
// stage.
type EndedError struct {
	SessionID string
	Target    string
	Status    tankapi.SessionStatus
}

func (e *EndedError) Error() string {
	msg := "session " + e.SessionID + " ended with status " + e.Status.Status +
		" at stage " + e.Status.CurrentStage + " before reaching " + e.Target
	if len(e.Status.Failures) > 0 {
		f := e.Status.Failures[0]
		msg += " (" + f.Stage + ": " + f.Reason + ")"
	}
	return msg
}
