package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/torosent/tankpilot/internal/session"
)

// stderrLogger writes prefixed log lines. It is shared by the tank API
// client, the session controller and the shoot coordinator.
type stderrLogger struct {
	mu          sync.Mutex
	w           io.Writer
	failures    bool
	pollFailing bool
}

func newLogger(w io.Writer, logFailures bool) *stderrLogger {
	if w == nil {
		w = io.Discard
	}
	return &stderrLogger{w: w, failures: logFailures}
}

func (l *stderrLogger) printf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "[tankpilot] "+format+"\n", args...)
}

// LogFailure logs a failed API call when --log-errors is set.
func (l *stderrLogger) LogFailure(err error) {
	if err == nil || !l.failures {
		return
	}
	l.printf("request failed: %v", err)
}

func (l *stderrLogger) Infof(format string, args ...interface{}) {
	l.printf(format, args...)
}

func (l *stderrLogger) Warnf(format string, args ...interface{}) {
	l.printf("warning: "+format, args...)
}

// Event logs controller events. Repeated poll failures are only logged
// with --log-errors; the first failure and the recovery always are.
func (l *stderrLogger) Event(ev session.Event) {
	l.mu.Lock()
	repeated := ev.Kind == session.EventPollFailed && l.pollFailing
	switch ev.Kind {
	case session.EventPollFailed:
		l.pollFailing = true
	case session.EventPollRecovered:
		l.pollFailing = false
	}
	l.mu.Unlock()
	if repeated && !l.failures {
		return
	}

	switch ev.Kind {
	case session.EventPollFailed, session.EventSessionMissing, session.EventUnknownStage, session.EventStaleResponse:
		l.Warnf("%s", ev)
	default:
		l.Infof("%s", ev)
	}
}
