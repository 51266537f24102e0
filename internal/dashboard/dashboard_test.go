package dashboard

import (
	"strings"
	"testing"
	"time"

	"github.com/torosent/tankpilot/internal/metrics"
	"github.com/torosent/tankpilot/internal/stage"
	"github.com/torosent/tankpilot/internal/tankapi"
)

func TestStageProgress(t *testing.T) {
	reg := stage.Default()
	tests := []struct {
		name        string
		current     string
		wantPercent int
		wantLabel   string
	}{
		{"none", "", 0, "no stage reported"},
		{"first", "lock", 10, "lock 1/10"},
		{"middle", "prepare", 40, "prepare 4/10"},
		{"terminal", "finish", 100, "finish 10/10"},
		{"unknown", "warmup", 0, "warmup (unknown stage)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			percent, label := stageProgress(reg, tt.current)
			if percent != tt.wantPercent || label != tt.wantLabel {
				t.Errorf("stageProgress(%q) = %d, %q; want %d, %q", tt.current, percent, label, tt.wantPercent, tt.wantLabel)
			}
		})
	}
}

func TestStageRows(t *testing.T) {
	reg := stage.Default()
	brp := stage.At("poll")
	disabled := func(name string) bool { return reg.Disabled(name, "prepare", brp) }

	rows := stageRows(reg, "prepare", brp, disabled)
	if len(rows) != reg.Len() {
		t.Fatalf("expected %d rows, got %d", reg.Len(), len(rows))
	}
	if !strings.HasPrefix(rows[3], "> ") || !strings.Contains(rows[3], "mod:bold") {
		t.Errorf("current stage not marked: %q", rows[3])
	}
	if !strings.HasPrefix(rows[5], "||") {
		t.Errorf("breakpoint not marked: %q", rows[5])
	}
	if !strings.Contains(rows[1], "fg:blue") {
		t.Errorf("passed stage should be dimmed: %q", rows[1])
	}
	if !strings.Contains(rows[4], "fg:blue") {
		t.Errorf("stage before breakpoint should be dimmed: %q", rows[4])
	}
	if !strings.Contains(rows[6], "fg:white") {
		t.Errorf("end stage should be selectable: %q", rows[6])
	}
}

func TestSessionRows(t *testing.T) {
	snap := tankapi.Snapshot{
		"b": {Status: "running", CurrentStage: "poll", Test: "T1"},
		"a": {Status: "starting"},
		"c": {CurrentStage: "warmup"},
	}
	rows := sessionRows(snap, stage.Default())
	if len(rows) != 4 {
		t.Fatalf("expected header + 3 rows, got %d", len(rows))
	}
	if rows[1][0] != "a" || rows[1][3] != "-" || rows[1][4] != "-" {
		t.Errorf("unexpected first row %v", rows[1])
	}
	if rows[2][4] != "6/10" || rows[2][1] != "T1" {
		t.Errorf("unexpected second row %v", rows[2])
	}
	if rows[3][4] != "?" {
		t.Errorf("unknown stage should show '?': %v", rows[3])
	}
}

func TestFormatStatusListRows(t *testing.T) {
	if rows := formatStatusListRows(nil); len(rows) != 1 || !strings.Contains(rows[0], "No failures") {
		t.Fatalf("unexpected empty rows %v", rows)
	}
	rows := formatStatusListRows([]metrics.StatusBucket{
		{Operation: "status", Label: "HTTP 503", Count: 3},
		{Operation: "start", Label: "HTTP 409", Count: 1},
	})
	if len(rows) != 2 || !strings.Contains(rows[0], "STATUS HTTP 503") {
		t.Fatalf("unexpected rows %v", rows)
	}
}

func TestP90Series(t *testing.T) {
	history := make([]metrics.DataPoint, 0, 5)
	for i := 1; i <= 5; i++ {
		history = append(history, metrics.DataPoint{P90LatencyMs: float64(i)})
	}
	got := p90Series(history, 3)
	if len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Fatalf("p90Series() = %v", got)
	}
}

func TestFormatParams(t *testing.T) {
	got := formatParams(Info{PollInterval: time.Second, Timeout: 30 * time.Second, Retries: 2, ConfigFile: "tank.yaml"})
	want := "Poll: 1s | Timeout: 30s | Retries: 2 | Config: tank.yaml"
	if got != want {
		t.Fatalf("formatParams() = %q, want %q", got, want)
	}
	if formatParams(Info{}) != "" {
		t.Fatalf("empty info should format as empty string")
	}
}
