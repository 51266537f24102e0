package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/torosent/tankpilot/internal/tankapi"
)

func TestDestinationReached(t *testing.T) {
	tests := []struct {
		name   string
		st     tankapi.SessionStatus
		target string
		want   bool
	}{
		{"starting", tankapi.SessionStatus{Status: tankapi.StatusStarting, CurrentStage: "prepare", StageCompleted: true}, "prepare", false},
		{"other stage", tankapi.SessionStatus{Status: tankapi.StatusRunning, CurrentStage: "configure", StageCompleted: true}, "prepare", false},
		{"stage in progress", tankapi.SessionStatus{Status: tankapi.StatusRunning, CurrentStage: "prepare"}, "prepare", false},
		{"stage completed", tankapi.SessionStatus{Status: tankapi.StatusRunning, CurrentStage: "prepare", StageCompleted: true}, "prepare", true},
		{"terminal stage", tankapi.SessionStatus{Status: tankapi.StatusSuccess, CurrentStage: "finish"}, "finish", true},
		{"succeeded under another terminal name", tankapi.SessionStatus{Status: tankapi.StatusSuccess, CurrentStage: "finished", StageCompleted: true}, "finish", true},
		{"failed under another terminal name", tankapi.SessionStatus{Status: tankapi.StatusFailed, CurrentStage: "finished", StageCompleted: true}, "finish", false},
		{"succeeded is not an intermediate stage", tankapi.SessionStatus{Status: tankapi.StatusSuccess, CurrentStage: "finished"}, "prepare", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DestinationReached(tt.st, tt.target, "finish"); got != tt.want {
				t.Fatalf("DestinationReached() = %v, want %v", got, tt.want)
			}
		})
	}
}

type scriptedFetcher struct {
	mu      sync.Mutex
	replies []tankapi.SessionStatus
	errs    []error
	calls   int
}

func (f *scriptedFetcher) SessionStatus(ctx context.Context, id string) (tankapi.SessionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return f.replies[i], err
}

func TestWaitForStage(t *testing.T) {
	fetch := &scriptedFetcher{
		replies: []tankapi.SessionStatus{
			{},
			{Status: tankapi.StatusStarting, CurrentStage: "lock"},
			{Status: tankapi.StatusRunning, CurrentStage: "prepare"},
			{Status: tankapi.StatusRunning, CurrentStage: "prepare", StageCompleted: true},
		},
		errs: []error{tankapi.ErrTransport},
	}
	var reported []error
	st, err := WaitForStage(context.Background(), fetch, "S1", "prepare", "finish", time.Millisecond, func(err error) {
		reported = append(reported, err)
	})
	if err != nil {
		t.Fatalf("WaitForStage() error = %v", err)
	}
	if !st.StageCompleted || st.CurrentStage != "prepare" {
		t.Fatalf("unexpected status %+v", st)
	}
	if len(reported) != 1 || !errors.Is(reported[0], tankapi.ErrTransport) {
		t.Fatalf("reported errors = %v", reported)
	}
}

func TestWaitForStageSessionEnded(t *testing.T) {
	fetch := &scriptedFetcher{
		replies: []tankapi.SessionStatus{{
			Status:       tankapi.StatusFailed,
			CurrentStage: "finish",
			Failures:     []tankapi.Failure{{Stage: "configure", Reason: "bad config"}},
		}},
	}
	_, err := WaitForStage(context.Background(), fetch, "S1", "prepare", "finish", time.Millisecond, nil)
	var ended *EndedError
	if !errors.As(err, &ended) {
		t.Fatalf("error = %v, want EndedError", err)
	}
	if !strings.Contains(err.Error(), "bad config") {
		t.Fatalf("error should carry the failure reason: %v", err)
	}
}

func TestWaitForStageHonoursContext(t *testing.T) {
	fetch := &scriptedFetcher{replies: []tankapi.SessionStatus{{Status: tankapi.StatusRunning, CurrentStage: "lock"}}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := WaitForStage(ctx, fetch, "S1", "prepare", "finish", 5*time.Millisecond, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
}

func TestWaitForTerminalStageAcceptsSucceededSession(t *testing.T) {
	fetch := &scriptedFetcher{
		replies: []tankapi.SessionStatus{
			{Status: tankapi.StatusRunning, CurrentStage: "poll"},
			{Status: tankapi.StatusSuccess, CurrentStage: "finished", StageCompleted: true},
		},
	}
	st, err := WaitForStage(context.Background(), fetch, "S1", "finish", "finish", time.Millisecond, nil)
	if err != nil {
		t.Fatalf("WaitForStage() error = %v", err)
	}
	if st.Status != tankapi.StatusSuccess {
		t.Fatalf("unexpected status %+v", st)
	}
}
