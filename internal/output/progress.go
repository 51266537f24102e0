package output

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/torosent/tankpilot/internal/metrics"
	"github.com/torosent/tankpilot/internal/session"
	"github.com/torosent/tankpilot/internal/stage"
)

// SessionSource is the read side of the session controller.
type SessionSource interface {
	Registry() *stage.Registry
	Session() (session.Session, bool)
	Breakpoint() stage.Breakpoint
	LastPollError() error
}

// ProgressReporter rewrites a single status line in place on every tick.
type ProgressReporter struct {
	source    SessionSource
	collector *metrics.Collector
	interval  time.Duration
	writer    io.Writer

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewProgressReporter creates a stopped reporter. collector may be nil.
func NewProgressReporter(source SessionSource, collector *metrics.Collector, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &ProgressReporter{
		source:    source,
		collector: collector,
		interval:  interval,
		writer:    writer,
	}
}

// Start redraws the line until ctx is done or Stop is called. Starting a
// running reporter does nothing.
func (p *ProgressReporter) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

// Stop halts the reporter, draws the line one last time and ends it with a
// newline.
func (p *ProgressReporter) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	fmt.Fprint(p.writer, "\r"+p.Line()+"\n")
}

func (p *ProgressReporter) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(p.writer, "\r"+p.Line())
		}
	}
}

// Line renders one progress line.
func (p *ProgressReporter) Line() string {
	line := FormatSession(p.source)
	if p.collector != nil {
		stats := p.collector.Stats(p.collector.Elapsed())
		line += fmt.Sprintf(" | API calls: %d (%d failed)", stats.Total, stats.Failures)
	}
	if err := p.source.LastPollError(); err != nil {
		line += " | poll failing"
	}
	return line
}

// FormatSession renders the tracked session as "Session: S | Stage: s (n/N) | Break: b".
func FormatSession(src SessionSource) string {
	reg := src.Registry()
	sess, ok := src.Session()
	if !ok {
		return "Session: none | Break: " + src.Breakpoint().String()
	}

	stageLabel := "unknown"
	if sess.CurrentStage != "" {
		stageLabel = sess.CurrentStage
		if pos, known := reg.Lookup(sess.CurrentStage); known {
			stageLabel += fmt.Sprintf(" (%d/%d)", pos+1, reg.Len())
		} else {
			stageLabel += " (?)"
		}
	}
	if sess.Missing {
		stageLabel += " [missing]"
	}
	return fmt.Sprintf("Session: %s | Stage: %s | Break: %s", sess.ID, stageLabel, src.Breakpoint())
}
