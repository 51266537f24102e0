package session

import (
	"context"
	"sync"
	"time"
)

// Pollable is anything that refreshes itself on a tick.
type Pollable interface {
	Poll(ctx context.Context) error
}

// Poller calls Poll on a fixed interval until stopped. Poll errors never stop
// the loop; the controller reports them as events.
type Poller struct {
	target   Pollable
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a stopped poller. Non-positive intervals default to one
// second.
func NewPoller(target Pollable, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{target: target, interval: interval}
}

// Start polls once immediately and then on every tick. Calling Start on a
// running poller does nothing.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

// Stop halts polling and waits for an in-flight poll to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	_ = p.target.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = p.target.Poll(ctx)
		}
	}
}
