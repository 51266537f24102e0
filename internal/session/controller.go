package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/torosent/tankpilot/internal/stage"
	"github.com/torosent/tankpilot/internal/tankapi"
)

// Remote is the subset of the tank API the controller drives.
type Remote interface {
	Status(ctx context.Context) (tankapi.Snapshot, error)
	Start(ctx context.Context, req tankapi.StartRequest) (tankapi.RunReply, error)
	Continue(ctx context.Context, sessionID, breakpoint string) (tankapi.Reply, error)
	Stop(ctx context.Context, sessionID string) (tankapi.Reply, error)
}

// Options configure a Controller.
type Options struct {
	Registry *stage.Registry
	Remote   Remote
	TestID   string      // sent with every start request when set
	Config   []byte      // initial test configuration
	Observer func(Event) // called outside the controller lock
}

// Controller owns the single tracked session and the latest status
// snapshot. It is safe for concurrent use; no lock is held during I/O.
//
// Every request takes a token from one increasing counter when it is
// issued. Replies that changed the tracked session are applied only if no
// newer change has been applied, and a poll only updates the tracked
// session's stage if it was issued after the session's last change.
type Controller struct {
	reg      *stage.Registry
	remote   Remote
	observer func(Event)

	mu          sync.Mutex
	seq         uint64
	snapshot    tankapi.Snapshot
	snapshotTok uint64
	tracked     *Session
	slotTok     uint64
	breakpoint  stage.Breakpoint
	config      []byte
	testID      string
	lastPollErr error
	bpCancel    context.CancelFunc
	bpTok       uint64
}

// NewController validates opts and returns a controller tracking nothing.
func NewController(opts Options) (*Controller, error) {
	if opts.Registry == nil {
		return nil, errors.New("stage registry is required")
	}
	if opts.Remote == nil {
		return nil, errors.New("tank api client is required")
	}
	return &Controller{
		reg:      opts.Registry,
		remote:   opts.Remote,
		observer: opts.Observer,
		config:   cloneBytes(opts.Config),
		testID:   opts.TestID,
	}, nil
}

// Registry returns the stage registry the controller gates against.
func (c *Controller) Registry() *stage.Registry {
	return c.reg
}

// Poll fetches the status of every session and replaces the cached
// snapshot. On failure the cached snapshot and tracked session are left
// untouched; the error is returned and reported as EventPollFailed.
//
// A tracked session missing from the snapshot keeps its last known stage
// and is flagged Missing.
func (c *Controller) Poll(ctx context.Context) error {
	tok := c.nextToken()
	snap, err := c.remote.Status(ctx)

	c.mu.Lock()
	var events []Event
	if err != nil && ctx.Err() != nil {
		// Shutdown, not a tank failure.
		c.mu.Unlock()
		return err
	}
	if err != nil {
		c.lastPollErr = err
		events = append(events, c.event(EventPollFailed, "", "", err))
		c.mu.Unlock()
		c.emit(events)
		return err
	}
	if tok <= c.snapshotTok {
		events = append(events, c.event(EventStaleResponse, "", "", fmt.Errorf("status poll: %w", ErrSuperseded)))
		c.mu.Unlock()
		c.emit(events)
		return nil
	}

	if c.lastPollErr != nil {
		events = append(events, c.event(EventPollRecovered, "", "", nil))
	}
	c.lastPollErr = nil
	c.snapshot = snap
	c.snapshotTok = tok

	if s := c.tracked; s != nil && tok > c.slotTok {
		if st, ok := snap.Get(s.ID); ok {
			s.Missing = false
			s.CurrentStage = st.CurrentStage
			s.RemoteStatus = st.Status
			if st.CurrentStage != "" && !c.reg.Contains(st.CurrentStage) {
				events = append(events, c.event(EventUnknownStage, s.ID, st.CurrentStage,
					fmt.Errorf("%w: tank reported %q", stage.ErrUnknownStage, st.CurrentStage)))
			}
		} else if !s.Missing {
			s.Missing = true
			events = append(events, c.event(EventSessionMissing, s.ID, s.CurrentStage, nil))
		}
	}
	c.mu.Unlock()
	c.emit(events)
	return nil
}

// RunTest starts a new session with cfg and no breakpoint, and tracks it.
// cfg is kept for later breakpoint-triggered starts.
func (c *Controller) RunTest(ctx context.Context, cfg []byte) (tankapi.RunReply, error) {
	c.mu.Lock()
	c.cancelBreakpointLocked()
	c.config = cloneBytes(cfg)
	c.breakpoint = stage.Unset()
	testID := c.testID
	tok := c.nextTokenLocked()
	c.bpTok = tok
	c.mu.Unlock()

	reply, err := c.remote.Start(ctx, tankapi.StartRequest{Config: cfg, TestID: testID})
	if err != nil {
		return tankapi.RunReply{}, err
	}
	if err := c.applyStart(tok, reply, stage.Unset()); err != nil {
		return reply, err
	}
	return reply, nil
}

// StopTest asks the tank to stop the tracked session. Tracking and polling
// continue so the next poll shows where the session stopped.
func (c *Controller) StopTest(ctx context.Context) (tankapi.Reply, error) {
	c.mu.Lock()
	if c.tracked == nil || c.tracked.ID == "" {
		c.mu.Unlock()
		return tankapi.Reply{}, fmt.Errorf("stop: %w", ErrNoActiveSession)
	}
	id := c.tracked.ID
	c.mu.Unlock()

	reply, err := c.remote.Stop(ctx, id)
	if err != nil {
		return tankapi.Reply{}, err
	}
	c.emit([]Event{c.event(EventStopped, id, "", nil)})
	return reply, nil
}

// SetBreakpoint records brp as the operator's pause target and applies it:
// it starts a new session, continues the tracked one, or does nothing, as
// decided by Decide. A newer call cancels the request of an older one that
// is still in flight.
func (c *Controller) SetBreakpoint(ctx context.Context, brp stage.Breakpoint) (Action, error) {
	name, isSet := brp.Stage()
	if isSet {
		if err := c.reg.Validate(name); err != nil {
			return ActionNone, err
		}
	}

	c.mu.Lock()
	prev := c.breakpoint
	c.breakpoint = brp
	c.cancelBreakpointLocked()
	action := Decide(c.reg, c.tracked, brp)
	if action == ActionNone {
		c.mu.Unlock()
		return ActionNone, nil
	}
	reqCtx, cancel := context.WithCancel(ctx)
	tok := c.nextTokenLocked()
	c.bpCancel = cancel
	c.bpTok = tok
	cfg := cloneBytes(c.config)
	testID := c.testID
	var sessionID string
	if action == ActionContinue {
		sessionID = c.tracked.ID
	}
	c.mu.Unlock()

	var reqErr error
	defer func() {
		c.mu.Lock()
		if c.bpTok == tok {
			c.bpCancel = nil
			// The tank never accepted brp; gate against the previous target.
			if reqErr != nil {
				c.breakpoint = prev
			}
		}
		c.mu.Unlock()
		cancel()
	}()

	switch action {
	case ActionStart:
		var reply tankapi.RunReply
		if reply, reqErr = c.remote.Start(reqCtx, tankapi.StartRequest{Config: cfg, Breakpoint: name, TestID: testID}); reqErr != nil {
			return action, reqErr
		}
		return action, c.applyStart(tok, reply, brp)
	default:
		if _, reqErr = c.remote.Continue(reqCtx, sessionID, name); reqErr != nil {
			return action, reqErr
		}
		return action, c.applyContinue(tok, sessionID, brp)
	}
}

// Track starts tracking an existing remote session, filling its stage from
// the cached snapshot when the session is listed there.
func (c *Controller) Track(sessionID string) {
	c.mu.Lock()
	c.cancelBreakpointLocked()
	s := &Session{ID: sessionID}
	if st, ok := c.snapshot.Get(sessionID); ok {
		s.CurrentStage = st.CurrentStage
		s.RemoteStatus = st.Status
		s.TestID = st.Test
		if st.Break != "" && c.reg.Contains(st.Break) && !c.reg.IsTerminal(st.Break) {
			s.Breakpoint = stage.At(st.Break)
		}
	}
	c.tracked = s
	c.breakpoint = s.Breakpoint
	c.slotTok = c.nextTokenLocked()
	c.mu.Unlock()
}

// Reset stops tracking the current session.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.cancelBreakpointLocked()
	c.tracked = nil
	c.breakpoint = stage.Unset()
	c.slotTok = c.nextTokenLocked()
	c.mu.Unlock()
}

// SetConfig replaces the configuration submitted by breakpoint starts.
func (c *Controller) SetConfig(cfg []byte) {
	c.mu.Lock()
	c.config = cloneBytes(cfg)
	c.mu.Unlock()
}

// Status returns a copy of the latest snapshot.
func (c *Controller) Status() tankapi.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.Clone()
}

// Session returns a copy of the tracked session.
func (c *Controller) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tracked == nil {
		return Session{}, false
	}
	return *c.tracked, true
}

// SessionStatus returns the tracked session's current stage, or false when
// nothing is tracked or no stage was reported yet.
func (c *Controller) SessionStatus() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tracked == nil || c.tracked.CurrentStage == "" {
		return "", false
	}
	return c.tracked.CurrentStage, true
}

// Progress returns the position of the tracked session's stage. It reports
// false when nothing is tracked or the stage is unknown to the registry.
func (c *Controller) Progress() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tracked == nil {
		return int(stage.NotFound), false
	}
	return c.reg.Lookup(c.tracked.CurrentStage)
}

// Breakpoint returns the operator's current pause target.
func (c *Controller) Breakpoint() stage.Breakpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.breakpoint
}

// Disabled reports whether an action on target is blocked right now.
func (c *Controller) Disabled(target string) bool {
	c.mu.Lock()
	current := ""
	if c.tracked != nil {
		current = c.tracked.CurrentStage
	}
	brp := c.breakpoint
	c.mu.Unlock()
	return c.reg.Disabled(target, current, brp)
}

// LastPollError returns the error of the most recent poll, or nil if it
// succeeded.
func (c *Controller) LastPollError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPollErr
}

func (c *Controller) applyStart(tok uint64, reply tankapi.RunReply, brp stage.Breakpoint) error {
	c.mu.Lock()
	if tok <= c.slotTok {
		ev := c.event(EventStaleResponse, reply.Session, "", fmt.Errorf("start: %w", ErrSuperseded))
		c.mu.Unlock()
		c.emit([]Event{ev})
		return ev.Err
	}
	c.tracked = &Session{
		ID:         reply.Session,
		TestID:     reply.Test,
		Breakpoint: brp,
	}
	c.slotTok = tok
	ev := c.event(EventStarted, reply.Session, "", nil)
	c.mu.Unlock()
	c.emit([]Event{ev})
	return nil
}

func (c *Controller) applyContinue(tok uint64, sessionID string, brp stage.Breakpoint) error {
	c.mu.Lock()
	if tok <= c.slotTok || c.tracked == nil || c.tracked.ID != sessionID {
		ev := c.event(EventStaleResponse, sessionID, "", fmt.Errorf("continue: %w", ErrSuperseded))
		c.mu.Unlock()
		c.emit([]Event{ev})
		return ev.Err
	}
	c.tracked.Breakpoint = brp
	c.slotTok = tok
	ev := c.event(EventContinued, sessionID, brp.String(), nil)
	c.mu.Unlock()
	c.emit([]Event{ev})
	return nil
}

func (c *Controller) cancelBreakpointLocked() {
	if c.bpCancel != nil {
		c.bpCancel()
		c.bpCancel = nil
	}
}

func (c *Controller) nextToken() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextTokenLocked()
}

func (c *Controller) nextTokenLocked() uint64 {
	c.seq++
	return c.seq
}

func (c *Controller) event(kind EventKind, session, stageName string, err error) Event {
	return Event{Kind: kind, Session: session, Stage: stageName, Err: err, Time: time.Now()}
}

func (c *Controller) emit(events []Event) {
	if c.observer == nil {
		return
	}
	for _, ev := range events {
		c.observer(ev)
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
