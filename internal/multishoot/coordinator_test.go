package multishoot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/torosent/tankpilot/internal/session"
	"github.com/torosent/tankpilot/internal/tankapi"
)

// journal records events across all fake tanks in order.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(ev string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

type fakeTank struct {
	name     string
	log      *journal
	startErr error

	// slowPolls is the number of status polls answered with "configure"
	// before the tank reports prepare as completed.
	slowPolls int
	failAt    string
	phout     string

	mu       sync.Mutex
	polls    int
	released bool
	stops    []string
	starts   []tankapi.StartRequest
}

func (f *fakeTank) BaseURL() string { return "http://" + f.name }

func (f *fakeTank) Start(ctx context.Context, req tankapi.StartRequest) (tankapi.RunReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, req)
	if f.startErr != nil {
		return tankapi.RunReply{}, f.startErr
	}
	f.log.add("start:" + f.name)
	return tankapi.RunReply{Session: "S-" + f.name, Test: "T-" + f.name}, nil
}

func (f *fakeTank) Continue(ctx context.Context, sessionID, breakpoint string) (tankapi.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if breakpoint != "" {
		return tankapi.Reply{}, fmt.Errorf("unexpected breakpoint %q", breakpoint)
	}
	f.released = true
	f.log.add("release:" + f.name)
	return tankapi.Reply{Reason: "will run"}, nil
}

func (f *fakeTank) Stop(ctx context.Context, sessionID string) (tankapi.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, sessionID)
	return tankapi.Reply{}, nil
}

func (f *fakeTank) SessionStatus(ctx context.Context, sessionID string) (tankapi.SessionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.failAt != "" {
		return tankapi.SessionStatus{Status: tankapi.StatusFailed, CurrentStage: f.failAt,
			Failures: []tankapi.Failure{{Stage: f.failAt, Reason: "bad config"}}}, nil
	}
	if f.released {
		return tankapi.SessionStatus{Status: tankapi.StatusSuccess, CurrentStage: "finish"}, nil
	}
	if f.polls <= f.slowPolls {
		return tankapi.SessionStatus{Status: tankapi.StatusRunning, CurrentStage: "configure", StageCompleted: true}, nil
	}
	f.log.add("ready:" + f.name)
	return tankapi.SessionStatus{Status: tankapi.StatusRunning, CurrentStage: "prepare", StageCompleted: true}, nil
}

func (f *fakeTank) Artifacts(ctx context.Context, testID string) ([]string, error) {
	return []string{"tank.log", "phout_" + f.name + ".log"}, nil
}

func (f *fakeTank) Artifact(ctx context.Context, testID, filename string, w io.Writer) (int64, error) {
	n, err := io.WriteString(w, f.phout)
	return int64(n), err
}

func newTank(name string, log *journal, phoutBody string) *fakeTank {
	return &fakeTank{name: name, log: log, phout: phoutBody}
}

func testOptions(t *testing.T, tanks ...Tank) Options {
	dir := t.TempDir()
	return Options{
		Tanks:           tanks,
		Config:          []byte("[phantom]\naddress=target:80\n"),
		TestID:          "shoot-1",
		PrepareInterval: 5 * time.Millisecond,
		FinishInterval:  5 * time.Millisecond,
		ArtifactDir:     dir,
	}
}

func TestNewValidation(t *testing.T) {
	log := &journal{}
	tank := newTank("a", log, "")
	tests := []struct {
		name string
		opts Options
	}{
		{"no tanks", Options{Config: []byte("x")}},
		{"no config", Options{Tanks: []Tank{tank}}},
		{"unknown hold stage", Options{Tanks: []Tank{tank}, Config: []byte("x"), HoldAt: "warmup"}},
		{"ready after hold", Options{Tanks: []Tank{tank}, Config: []byte("x"), HoldAt: "prepare", ReadyAt: "poll"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRunReleasesOnlyWhenAllTanksPrepared(t *testing.T) {
	log := &journal{}
	a := newTank("a", log, "10\tx\t0\n30\tx\t0\n")
	b := newTank("b", log, "20\tx\t0\n")
	b.slowPolls = 3

	opts := testOptions(t, a, b)
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	events := log.snapshot()
	firstRelease, lastReady := -1, -1
	for i, ev := range events {
		if strings.HasPrefix(ev, "release:") && firstRelease < 0 {
			firstRelease = i
		}
		if strings.HasPrefix(ev, "ready:") {
			lastReady = i
		}
	}
	if firstRelease < 0 || lastReady < 0 || firstRelease < lastReady {
		t.Fatalf("release happened before every tank was ready: %v", events)
	}

	for _, tank := range []*fakeTank{a, b} {
		if len(tank.starts) != 1 || tank.starts[0].Breakpoint != DefaultHoldAt || tank.starts[0].TestID != "shoot-1" {
			t.Errorf("%s: unexpected start requests %+v", tank.name, tank.starts)
		}
	}

	if len(res.Tanks) != 2 || res.Tanks[0].Session != "S-a" || res.Tanks[1].Test != "T-b" {
		t.Fatalf("unexpected tank results %+v", res.Tanks)
	}
	if res.Tanks[0].Status != tankapi.StatusSuccess {
		t.Errorf("expected final status success, got %q", res.Tanks[0].Status)
	}
	if filepath.Base(res.Tanks[0].Phout) != "phout_a.log" {
		t.Errorf("unexpected phout path %q", res.Tanks[0].Phout)
	}
	if res.Lines != 3 {
		t.Fatalf("expected 3 merged lines, got %d", res.Lines)
	}
	data, err := os.ReadFile(res.MergedFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "10\tx\t0\n20\tx\t0\n30\tx\t0\n" {
		t.Fatalf("unexpected merged phout %q", data)
	}
}

func TestRunStopsStartedSessionsWhenPrepareFails(t *testing.T) {
	log := &journal{}
	a := newTank("a", log, "")
	a.slowPolls = 1000
	b := newTank("b", log, "")
	b.startErr = errors.New("tank is busy")

	c, err := New(testOptions(t, a, b))
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "tank is busy") {
		t.Fatalf("expected start error, got %v", err)
	}
	if len(a.stops) != 1 || a.stops[0] != "S-a" {
		t.Fatalf("expected started session to be stopped, got %v", a.stops)
	}
	if len(b.stops) != 0 {
		t.Fatalf("tank that never started should not be stopped: %v", b.stops)
	}
	if a.released {
		t.Fatal("no tank should be released after a failed prepare")
	}
}

func TestRunReportsSessionEndedBeforeReady(t *testing.T) {
	log := &journal{}
	a := newTank("a", log, "")
	a.failAt = "configure"

	c, err := New(testOptions(t, a))
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Run(context.Background())
	var ended *session.EndedError
	if !errors.As(err, &ended) {
		t.Fatalf("expected EndedError, got %v", err)
	}
	if ended.Target != DefaultReadyAt {
		t.Fatalf("unexpected target %q", ended.Target)
	}
}

type emptyTank struct{ *fakeTank }

func (emptyTank) Artifacts(ctx context.Context, testID string) ([]string, error) {
	return []string{"tank.log"}, nil
}

func TestRunFailsWithoutPhout(t *testing.T) {
	log := &journal{}
	c, err := New(testOptions(t, emptyTank{newTank("a", log, "")}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Run(context.Background()); !errors.Is(err, ErrNoPhout) {
		t.Fatalf("expected ErrNoPhout, got %v", err)
	}
}
