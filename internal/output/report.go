package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/torosent/tankpilot/internal/config"
	"github.com/torosent/tankpilot/internal/metrics"
	"github.com/torosent/tankpilot/internal/stage"
	"github.com/torosent/tankpilot/internal/tankapi"
)

// PrintReport outputs a human-readable summary of tank API calls.
func PrintReport(w io.Writer, stats metrics.Stats) {
	fmt.Fprintln(w, "\n--- Tank API Calls ---")
	fmt.Fprintf(w, "Total Calls:       %d\n", stats.Total)
	fmt.Fprintf(w, "Successful:        %d\n", stats.Successes)
	fmt.Fprintf(w, "Failed:            %d\n", stats.Failures)
	fmt.Fprintf(w, "Duration:          %s\n", stats.Duration)
	fmt.Fprintf(w, "Calls/sec:         %.2f\n", stats.CallsPerSec)
	fmt.Fprintln(w, "\nLatency:")
	fmt.Fprintf(w, "  Min:             %s\n", stats.MinLatency)
	fmt.Fprintf(w, "  Max:             %s\n", stats.MaxLatency)
	fmt.Fprintf(w, "  Mean:            %s\n", stats.MeanLatency)
	fmt.Fprintf(w, "  P50:             %s\n", stats.P50Latency)
	fmt.Fprintf(w, "  P90:             %s\n", stats.P90Latency)
	fmt.Fprintf(w, "  P99:             %s\n", stats.P99Latency)

	if len(stats.Operations) > 0 {
		fmt.Fprintln(w, "\nOperations:")
		for _, op := range stats.Operations {
			fmt.Fprintf(w, "  - %s: total=%d, successes=%d, failures=%d, p90=%s\n",
				op.Operation, op.Total, op.Successes, op.Failures, op.P90Latency)
		}
	}

	if len(stats.StatusBuckets) > 0 {
		fmt.Fprintln(w, "\nFailures:")
		for _, row := range stats.StatusBuckets {
			fmt.Fprintf(w, "  %s %s: %d\n", strings.ToUpper(row.Operation), row.Label, row.Count)
		}
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, stats metrics.Stats) error {
	return writeJSON(w, stats)
}

// PrintStats writes stats in the requested format.
func PrintStats(w io.Writer, format config.OutputFormat, stats metrics.Stats) error {
	switch format {
	case config.OutputJSON:
		return PrintJSONReport(w, stats)
	case config.OutputYAML:
		return writeYAML(w, stats)
	default:
		PrintReport(w, stats)
		return nil
	}
}

type snapshotRow struct {
	Session               string `json:"session" yaml:"session"`
	Progress              string `json:"progress,omitempty" yaml:"progress,omitempty"`
	tankapi.SessionStatus `yaml:",inline"`
}

// WriteSnapshot writes every session of snap, sorted by id. Text output is
// a table; progress is the 1-based stage position within reg.
func WriteSnapshot(w io.Writer, format config.OutputFormat, snap tankapi.Snapshot, reg *stage.Registry) error {
	rows := make([]snapshotRow, 0, len(snap))
	for _, id := range snap.IDs() {
		st := snap[id]
		rows = append(rows, snapshotRow{Session: id, Progress: progressLabel(reg, st.CurrentStage), SessionStatus: st})
	}

	switch format {
	case config.OutputJSON:
		return writeJSON(w, rows)
	case config.OutputYAML:
		return writeYAML(w, rows)
	}

	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No sessions.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tTEST\tSTATUS\tSTAGE\tPROGRESS\tBREAK\tCOMPLETED")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			r.Session, dash(r.Test), dash(r.Status), dash(r.CurrentStage), dash(r.Progress), dash(r.Break), r.StageCompleted)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, r := range rows {
		for _, f := range r.Failures {
			fmt.Fprintf(w, "%s failed at %s: %s\n", r.Session, f.Stage, f.Reason)
		}
	}
	return nil
}

// WriteArtifacts lists artifact names, one per line in text mode.
func WriteArtifacts(w io.Writer, format config.OutputFormat, testID string, names []string) error {
	switch format {
	case config.OutputJSON:
		return writeJSON(w, map[string]interface{}{"test": testID, "artifacts": names})
	case config.OutputYAML:
		return writeYAML(w, map[string]interface{}{"test": testID, "artifacts": names})
	}
	for _, name := range names {
		if _, err := fmt.Fprintln(w, name); err != nil {
			return err
		}
	}
	return nil
}

// WriteValue writes a reply or summary value. Text mode uses the %v form.
func WriteValue(w io.Writer, format config.OutputFormat, v interface{}) error {
	switch format {
	case config.OutputJSON:
		return writeJSON(w, v)
	case config.OutputYAML:
		return writeYAML(w, v)
	}
	_, err := fmt.Fprintln(w, v)
	return err
}

func progressLabel(reg *stage.Registry, current string) string {
	if reg == nil || current == "" {
		return ""
	}
	pos, ok := reg.Lookup(current)
	if !ok {
		return "?"
	}
	return fmt.Sprintf("%d/%d", pos+1, reg.Len())
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
