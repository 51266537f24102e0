package output

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/torosent/tankpilot/internal/metrics"
	"github.com/torosent/tankpilot/internal/session"
	"github.com/torosent/tankpilot/internal/stage"
	"github.com/torosent/tankpilot/internal/tankapi"
)

type fakeSource struct {
	sess    *session.Session
	brp     stage.Breakpoint
	pollErr error
}

func (f fakeSource) Registry() *stage.Registry { return stage.Default() }

func (f fakeSource) Session() (session.Session, bool) {
	if f.sess == nil {
		return session.Session{}, false
	}
	return *f.sess, true
}

func (f fakeSource) Breakpoint() stage.Breakpoint { return f.brp }
func (f fakeSource) LastPollError() error         { return f.pollErr }

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFormatSession(t *testing.T) {
	tests := []struct {
		name string
		src  fakeSource
		want string
	}{
		{
			name: "nothing tracked",
			src:  fakeSource{},
			want: "Session: none | Break: unset",
		},
		{
			name: "known stage",
			src:  fakeSource{sess: &session.Session{ID: "S1", CurrentStage: "prepare"}, brp: stage.At("poll")},
			want: "Session: S1 | Stage: prepare (4/10) | Break: poll",
		},
		{
			name: "stage not reported",
			src:  fakeSource{sess: &session.Session{ID: "S1"}},
			want: "Session: S1 | Stage: unknown | Break: unset",
		},
		{
			name: "unknown stage and missing",
			src:  fakeSource{sess: &session.Session{ID: "S1", CurrentStage: "warmup", Missing: true}},
			want: "Session: S1 | Stage: warmup (?) [missing] | Break: unset",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatSession(tt.src); got != tt.want {
				t.Fatalf("FormatSession() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProgressReporterLine(t *testing.T) {
	collector := metrics.NewCollector()
	collector.RecordCall(tankapi.OpStatus, time.Millisecond, nil)
	collector.RecordCall(tankapi.OpStatus, time.Millisecond, errors.New("down"))

	src := fakeSource{sess: &session.Session{ID: "S1", CurrentStage: "poll"}, pollErr: errors.New("down")}
	line := NewProgressReporter(src, collector, time.Second, nil).Line()
	for _, want := range []string{"Session: S1", "poll (6/10)", "API calls: 2 (1 failed)", "poll failing"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestProgressReporterWrites(t *testing.T) {
	var buf syncBuffer
	reporter := NewProgressReporter(fakeSource{}, nil, 20*time.Millisecond, &buf)
	reporter.Start(context.Background())
	reporter.Start(context.Background())
	time.Sleep(80 * time.Millisecond)
	reporter.Stop()
	reporter.Stop()

	out := buf.String()
	if !strings.Contains(out, "\rSession: none") {
		t.Errorf("expected progress line, got %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Errorf("expected final newline after Stop, got %q", out)
	}
}
