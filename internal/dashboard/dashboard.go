package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/tankpilot/internal/metrics"
	"github.com/torosent/tankpilot/internal/session"
	"github.com/torosent/tankpilot/internal/stage"
	"github.com/torosent/tankpilot/internal/tankapi"
)

// Info holds controller settings shown in the summary panel.
type Info struct {
	API          string
	PollInterval time.Duration
	Timeout      time.Duration
	Retries      int
	ConfigFile   string
}

// Source is the session controller as seen by the dashboard.
type Source interface {
	Registry() *stage.Registry
	Session() (session.Session, bool)
	Breakpoint() stage.Breakpoint
	Disabled(target string) bool
	Status() tankapi.Snapshot
	LastPollError() error
}

// Dashboard renders a live terminal UI for a tracked tank session.
type Dashboard struct {
	source       Source
	collector    *metrics.Collector
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex

	// Widgets
	grid           *ui.Grid
	summaryPara    *widgets.Paragraph
	stageGauge     *widgets.Gauge
	stageList      *widgets.List
	sessionTable   *widgets.Table
	latencySparkle *widgets.SparklineGroup
	metricsPara    *widgets.Paragraph
	errorList      *widgets.List
	startTime      time.Time
	info           Info
}

// New creates a new Dashboard. collector may be nil.
func New(source Source, collector *metrics.Collector, info Info, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dashboard{
		source:       source,
		collector:    collector,
		ctx:          ctx,
		cancel:       cancel,
		shutdownFunc: shutdownFunc,
		startTime:    time.Now(),
		info:         info,
	}

	d.initWidgets()
	d.setupGrid()

	return d, nil
}

func (d *Dashboard) initWidgets() {
	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Tank"
	d.summaryPara.Text = "Initializing..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	d.stageGauge = widgets.NewGauge()
	d.stageGauge.Title = "Stage Progress"
	d.stageGauge.BarColor = ui.ColorBlue
	d.stageGauge.BorderStyle.Fg = ui.ColorCyan
	d.stageGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	d.stageList = widgets.NewList()
	d.stageList.Title = "Stages"
	d.stageList.BorderStyle.Fg = ui.ColorCyan

	d.sessionTable = widgets.NewTable()
	d.sessionTable.Title = "Sessions"
	d.sessionTable.Rows = [][]string{sessionHeader}
	d.sessionTable.TextStyle = ui.NewStyle(ui.ColorWhite)
	d.sessionTable.RowSeparator = false
	d.sessionTable.BorderStyle.Fg = ui.ColorCyan

	sparkline := widgets.NewSparkline()
	sparkline.Title = "P90 (ms)"
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}
	d.latencySparkle = widgets.NewSparklineGroup(sparkline)
	d.latencySparkle.Title = "API Latency"
	d.latencySparkle.BorderStyle.Fg = ui.ColorCyan

	d.metricsPara = widgets.NewParagraph()
	d.metricsPara.Title = "API Calls"
	d.metricsPara.Text = "Waiting for data..."
	d.metricsPara.BorderStyle.Fg = ui.ColorCyan

	d.errorList = widgets.NewList()
	d.errorList.Title = "Failures"
	d.errorList.Rows = []string{"No failures"}
	d.errorList.TextStyle = ui.NewStyle(ui.ColorYellow)
	d.errorList.BorderStyle.Fg = ui.ColorCyan
}

func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)

	d.grid.Set(
		ui.NewRow(0.16,
			ui.NewCol(0.6, d.summaryPara),
			ui.NewCol(0.4, d.stageGauge),
		),
		ui.NewRow(0.42,
			ui.NewCol(0.3, d.stageList),
			ui.NewCol(0.7, d.sessionTable),
		),
		ui.NewRow(0.42,
			ui.NewCol(0.4, d.latencySparkle),
			ui.NewCol(0.3, d.metricsPara),
			ui.NewCol(0.3, d.errorList),
		),
	)
}

// Start begins the dashboard update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop stops the dashboard and restores the terminal.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	ui.Close()
	// Give terminal time to restore
	time.Sleep(100 * time.Millisecond)
}

func (d *Dashboard) run() {
	defer d.wg.Done()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()

	d.update()
	d.render()

	for {
		select {
		case <-d.ctx.Done():
			for len(uiEvents) > 0 {
				<-uiEvents
			}
			return
		case e := <-uiEvents:
			select {
			case <-d.ctx.Done():
				return
			default:
			}

			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
				// Stop() cancels the context.
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.update()
			d.render()
		}
	}
}

// update refreshes all widget data from the controller and collector.
func (d *Dashboard) update() {
	d.mu.Lock()
	defer d.mu.Unlock()

	reg := d.source.Registry()
	sess, tracked := d.source.Session()
	brp := d.source.Breakpoint()

	elapsed := time.Since(d.startTime)
	summary := []string{
		fmt.Sprintf("API: %s", d.info.API),
		formatParams(d.info),
		fmt.Sprintf("Elapsed: %s | Break: %s", elapsed.Round(time.Second), brp),
	}
	if tracked {
		summary = append(summary, fmt.Sprintf("Session: %s | Test: %s | Status: %s", sess.ID, dash(sess.TestID), dash(sess.RemoteStatus)))
	} else {
		summary = append(summary, "Session: none")
	}
	if err := d.source.LastPollError(); err != nil {
		summary = append(summary, fmt.Sprintf("[Poll failing: %v](fg:red)", err))
	}
	d.summaryPara.Text = strings.Join(summary, "\n")

	percent, label := stageProgress(reg, sess.CurrentStage)
	d.stageGauge.Percent = percent
	d.stageGauge.Label = label

	d.stageList.Rows = stageRows(reg, sess.CurrentStage, brp, d.source.Disabled)
	d.sessionTable.Rows = sessionRows(d.source.Status(), reg)

	if d.collector == nil {
		return
	}
	d.collector.Snapshot()
	stats := d.collector.Stats(elapsed)
	if data := p90Series(d.collector.History(), 100); len(data) > 0 {
		d.latencySparkle.Sparklines[0].Data = data
	}
	d.metricsPara.Text = fmt.Sprintf(
		"Total:      %d\nSuccessful: %d\nFailed:     %d\nMean:       %.2fms\nP50/P90/P99: %.1f / %.1f / %.1f ms",
		stats.Total,
		stats.Successes,
		stats.Failures,
		stats.MeanLatencyMs,
		stats.P50LatencyMs,
		stats.P90LatencyMs,
		stats.P99LatencyMs,
	)
	d.errorList.Rows = formatStatusListRows(stats.StatusBuckets)
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()

	ui.Render(d.grid)
}

var sessionHeader = []string{"Session", "Test", "Status", "Stage", "Progress", "Break"}

// stageProgress maps the current stage onto a gauge percentage and label.
func stageProgress(reg *stage.Registry, current string) (int, string) {
	if current == "" {
		return 0, "no stage reported"
	}
	pos, ok := reg.Lookup(current)
	if !ok {
		return 0, current + " (unknown stage)"
	}
	percent := (pos + 1) * 100 / reg.Len()
	return percent, fmt.Sprintf("%s %d/%d", current, pos+1, reg.Len())
}

// stageRows renders one list row per stage: the current stage is marked
// with ">", the breakpoint with "||", and stages that cannot be chosen as
// a breakpoint right now are dimmed.
func stageRows(reg *stage.Registry, current string, brp stage.Breakpoint, disabled func(string) bool) []string {
	brpName, brpSet := brp.Stage()
	rows := make([]string, 0, reg.Len())
	for _, name := range reg.Names() {
		marker := "  "
		switch {
		case name == current:
			marker = "> "
		case brpSet && name == brpName:
			marker = "||"
		}
		style := "fg:white"
		if disabled != nil && disabled(name) {
			style = "fg:blue"
		}
		if name == current {
			style = "fg:green,mod:bold"
		}
		rows = append(rows, fmt.Sprintf("%s [%s](%s)", marker, name, style))
	}
	return rows
}

func sessionRows(snap tankapi.Snapshot, reg *stage.Registry) [][]string {
	rows := [][]string{sessionHeader}
	for _, id := range snap.IDs() {
		st := snap[id]
		progress := "-"
		if st.CurrentStage != "" {
			if pos, ok := reg.Lookup(st.CurrentStage); ok {
				progress = fmt.Sprintf("%d/%d", pos+1, reg.Len())
			} else {
				progress = "?"
			}
		}
		rows = append(rows, []string{id, dash(st.Test), dash(st.Status), dash(st.CurrentStage), progress, dash(st.Break)})
	}
	return rows
}

func p90Series(history []metrics.DataPoint, limit int) []float64 {
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	data := make([]float64, 0, len(history))
	for _, dp := range history {
		data = append(data, dp.P90LatencyMs)
	}
	return data
}

func formatStatusListRows(rows []metrics.StatusBucket) []string {
	if len(rows) == 0 {
		return []string{"[No failures](fg:green)"}
	}
	maxRows := len(rows)
	if maxRows > 10 {
		maxRows = 10
	}
	formatted := make([]string, 0, maxRows)
	for i := 0; i < maxRows; i++ {
		row := rows[i]
		formatted = append(formatted, fmt.Sprintf("[%s %s](fg:red) %d", strings.ToUpper(row.Operation), row.Label, row.Count))
	}
	return formatted
}

func formatParams(info Info) string {
	var parts []string
	if info.PollInterval > 0 {
		parts = append(parts, fmt.Sprintf("Poll: %s", info.PollInterval))
	}
	if info.Timeout > 0 {
		parts = append(parts, fmt.Sprintf("Timeout: %s", info.Timeout))
	}
	if info.Retries > 0 {
		parts = append(parts, fmt.Sprintf("Retries: %d", info.Retries))
	}
	if info.ConfigFile != "" {
		parts = append(parts, fmt.Sprintf("Config: %s", info.ConfigFile))
	}
	return strings.Join(parts, " | ")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
