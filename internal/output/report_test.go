package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/tankpilot/internal/config"
	"github.com/torosent/tankpilot/internal/metrics"
	"github.com/torosent/tankpilot/internal/stage"
	"github.com/torosent/tankpilot/internal/tankapi"
)

func sampleSnapshot() tankapi.Snapshot {
	return tankapi.Snapshot{
		"S2": {Test: "T2", Status: tankapi.StatusFailed, CurrentStage: "finish",
			Failures: []tankapi.Failure{{Stage: "configure", Reason: "no phantom section"}}},
		"S1": {Test: "T1", Status: tankapi.StatusRunning, CurrentStage: "prepare", Break: "start", StageCompleted: true},
		"S3": {Status: tankapi.StatusRunning, CurrentStage: "warmup"},
	}
}

func TestPrintReportBasic(t *testing.T) {
	collector := metrics.NewCollector()
	collector.RecordCall(tankapi.OpStatus, 10*time.Millisecond, nil)
	collector.RecordCall(tankapi.OpStart, 20*time.Millisecond, &tankapi.APIError{StatusCode: 409})

	var buf bytes.Buffer
	PrintReport(&buf, collector.Stats(time.Second))

	output := buf.String()
	for _, want := range []string{"Total Calls:       2", "Failed:            1", "Operations:", "- start:", "START HTTP 409: 1"} {
		if !strings.Contains(output, want) {
			t.Errorf("report missing %q:\n%s", want, output)
		}
	}
}

func TestPrintStatsFormats(t *testing.T) {
	stats := metrics.Stats{LatencyStats: metrics.LatencyStats{Total: 3, Successes: 3}, DurationMs: 1000}

	var js bytes.Buffer
	if err := PrintStats(&js, config.OutputJSON, stats); err != nil {
		t.Fatalf("PrintStats(json) error = %v", err)
	}
	if !strings.Contains(js.String(), `"total": 3`) {
		t.Errorf("unexpected JSON %s", js.String())
	}

	var ym bytes.Buffer
	if err := PrintStats(&ym, config.OutputYAML, stats); err != nil {
		t.Fatalf("PrintStats(yaml) error = %v", err)
	}
	if !strings.Contains(ym.String(), "total: 3") {
		t.Errorf("unexpected YAML %s", ym.String())
	}
}

func TestWriteSnapshotText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSnapshot(&buf, config.OutputText, sampleSnapshot(), stage.Default()); err != nil {
		t.Fatalf("WriteSnapshot() error = %v", err)
	}
	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if !strings.HasPrefix(lines[0], "SESSION") {
		t.Fatalf("missing header:\n%s", out)
	}
	if !strings.HasPrefix(lines[1], "S1") || !strings.HasPrefix(lines[2], "S2") || !strings.HasPrefix(lines[3], "S3") {
		t.Errorf("rows not sorted by session:\n%s", out)
	}
	if !strings.Contains(lines[1], "4/10") || !strings.Contains(lines[3], "?") {
		t.Errorf("progress column wrong:\n%s", out)
	}
	if !strings.Contains(out, "S2 failed at configure: no phantom section") {
		t.Errorf("failures not listed:\n%s", out)
	}
}

func TestWriteSnapshotEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSnapshot(&buf, config.OutputText, tankapi.Snapshot{}, stage.Default()); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "No sessions." {
		t.Errorf("got %q", buf.String())
	}
}

func TestWriteSnapshotJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSnapshot(&buf, config.OutputJSON, sampleSnapshot(), stage.Default()); err != nil {
		t.Fatalf("WriteSnapshot() error = %v", err)
	}
	var rows []map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &rows); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if len(rows) != 3 || rows[0]["session"] != "S1" || rows[0]["current_stage"] != "prepare" || rows[0]["progress"] != "4/10" {
		t.Errorf("unexpected rows %v", rows)
	}
}

func TestWriteSnapshotYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSnapshot(&buf, config.OutputYAML, sampleSnapshot(), stage.Default()); err != nil {
		t.Fatalf("WriteSnapshot() error = %v", err)
	}
	var rows []map[string]interface{}
	if err := yaml.Unmarshal(buf.Bytes(), &rows); err != nil {
		t.Fatalf("invalid YAML: %v\n%s", err, buf.String())
	}
	if len(rows) != 3 || rows[1]["session"] != "S2" || rows[1]["status"] != "failed" {
		t.Errorf("unexpected rows %v", rows)
	}
	failures, ok := rows[1]["failures"].([]interface{})
	if !ok || len(failures) != 1 {
		t.Errorf("failures not encoded: %v", rows[1])
	}
}

func TestWriteArtifacts(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteArtifacts(&buf, config.OutputText, "T1", []string{"phout_1.log", "tank.log"}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "phout_1.log\ntank.log\n" {
		t.Errorf("got %q", buf.String())
	}
	buf.Reset()
	if err := WriteArtifacts(&buf, config.OutputJSON, "T1", []string{"a"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"test": "T1"`) {
		t.Errorf("got %s", buf.String())
	}
}
