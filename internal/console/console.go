// Package console is the interactive operator view: a stage list the
// operator moves through to place breakpoints, plus keys to run and stop
// tests. Stages that cannot be targeted right now are dimmed and refused.
package console

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/torosent/tankpilot/internal/output"
	"github.com/torosent/tankpilot/internal/session"
	"github.com/torosent/tankpilot/internal/stage"
	"github.com/torosent/tankpilot/internal/tankapi"
)

// Controller is the session controller as driven by the console.
type Controller interface {
	Registry() *stage.Registry
	Session() (session.Session, bool)
	Breakpoint() stage.Breakpoint
	Disabled(target string) bool
	LastPollError() error
	RunTest(ctx context.Context, cfg []byte) (tankapi.RunReply, error)
	StopTest(ctx context.Context) (tankapi.Reply, error)
	SetBreakpoint(ctx context.Context, brp stage.Breakpoint) (session.Action, error)
}

// ConfigSource returns the load configuration submitted by the run key.
type ConfigSource func() []byte

var (
	purple = lipgloss.Color("99")
	green  = lipgloss.Color("42")
	red    = lipgloss.Color("196")
	dim    = lipgloss.Color("243")
	faint  = lipgloss.Color("238")

	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(purple)
	currentStyle  = lipgloss.NewStyle().Bold(true).Foreground(green)
	disabledStyle = lipgloss.NewStyle().Foreground(faint)
	enabledStyle  = lipgloss.NewStyle()
	cursorStyle   = lipgloss.NewStyle().Foreground(purple)
	mutedStyle    = lipgloss.NewStyle().Foreground(dim)
	errorStyle    = lipgloss.NewStyle().Foreground(red)
)

type keyMap struct {
	Up    key.Binding
	Down  key.Binding
	Break key.Binding
	Unset key.Binding
	Run   key.Binding
	Stop  key.Binding
	Quit  key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Break, k.Unset, k.Run, k.Stop, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var keys = keyMap{
	Up:    key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:  key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Break: key.NewBinding(key.WithKeys("b", "enter"), key.WithHelp("b", "break before stage")),
	Unset: key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "run to completion")),
	Run:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "run test")),
	Stop:  key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stop")),
	Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type tickMsg time.Time

type actionDoneMsg struct {
	text string
	err  error
}

// Options configure a Model.
type Options struct {
	Refresh time.Duration // screen refresh interval
	Timeout time.Duration // per-action timeout
}

// Model is the bubbletea model of the console.
type Model struct {
	ctx     context.Context
	ctrl    Controller
	config  ConfigSource
	opts    Options
	cursor  int
	busy    string
	message string
	err     error

	spinner  spinner.Model
	progress progress.Model
	help     help.Model
}

// New returns a console model. The cursor starts at the first stage.
func New(ctx context.Context, ctrl Controller, config ConfigSource, opts Options) *Model {
	if opts.Refresh <= 0 {
		opts.Refresh = 500 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Model{
		ctx:    ctx,
		ctrl:   ctrl,
		config: config,
		opts:   opts,
		spinner: spinner.New(
			spinner.WithSpinner(spinner.MiniDot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(purple)),
		),
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		help:     help.New(),
	}
}

// Run shows the console until the operator quits or ctx is done.
func Run(ctx context.Context, ctrl Controller, config ConfigSource, opts Options) error {
	p := tea.NewProgram(New(ctx, ctrl, config, opts),
		tea.WithContext(ctx),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("console: %w", err)
	}
	return nil
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.tick())
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.opts.Refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		w := msg.Width - 4
		if w > 60 {
			w = 60
		}
		if w > 10 {
			m.progress.Width = w
		}
		m.help.Width = msg.Width
	case tickMsg:
		return m, m.tick()
	case actionDoneMsg:
		m.busy = ""
		m.err = msg.err
		m.message = msg.text
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	names := m.ctrl.Registry().Names()
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, keys.Down):
		if m.cursor < len(names)-1 {
			m.cursor++
		}
	case key.Matches(msg, keys.Break):
		target := names[m.cursor]
		if m.ctrl.Disabled(target) {
			m.err = nil
			m.message = fmt.Sprintf("stage %s cannot be chosen now", target)
			return m, nil
		}
		// A newer breakpoint replaces one still in flight.
		return m, m.start("setting breakpoint "+target, m.setBreakpoint(stage.At(target)))
	case key.Matches(msg, keys.Unset):
		return m, m.start("clearing breakpoint", m.setBreakpoint(stage.Unset()))
	case key.Matches(msg, keys.Run):
		if m.busy != "" {
			return m, nil
		}
		return m, m.start("starting test", m.runTest())
	case key.Matches(msg, keys.Stop):
		if m.busy != "" {
			return m, nil
		}
		return m, m.start("stopping test", m.stopTest())
	}
	return m, nil
}

func (m *Model) start(what string, cmd tea.Cmd) tea.Cmd {
	m.busy = what
	m.err = nil
	m.message = ""
	return cmd
}

func (m *Model) setBreakpoint(brp stage.Breakpoint) tea.Cmd {
	ctrl := m.ctrl
	return m.action(func(ctx context.Context) (string, error) {
		act, err := ctrl.SetBreakpoint(ctx, brp)
		if err != nil {
			return "", err
		}
		sess, _ := ctrl.Session()
		switch act {
		case session.ActionStart:
			return fmt.Sprintf("started session %s, pausing before %s", sess.ID, brp), nil
		case session.ActionContinue:
			if !brp.IsSet() {
				return fmt.Sprintf("session %s runs to completion", sess.ID), nil
			}
			return fmt.Sprintf("session %s will pause before %s", sess.ID, brp), nil
		default:
			return "breakpoint cleared", nil
		}
	})
}

func (m *Model) runTest() tea.Cmd {
	ctrl, config := m.ctrl, m.config
	return m.action(func(ctx context.Context) (string, error) {
		var cfg []byte
		if config != nil {
			cfg = config()
		}
		if len(cfg) == 0 {
			return "", errors.New("no load configuration (use --load-config)")
		}
		reply, err := ctrl.RunTest(ctx, cfg)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("started session %s (test %s)", reply.Session, reply.Test), nil
	})
}

func (m *Model) stopTest() tea.Cmd {
	ctrl := m.ctrl
	return m.action(func(ctx context.Context) (string, error) {
		if _, err := ctrl.StopTest(ctx); err != nil {
			return "", err
		}
		sess, _ := ctrl.Session()
		return fmt.Sprintf("stop requested for session %s", sess.ID), nil
	})
}

func (m *Model) action(fn func(ctx context.Context) (string, error)) tea.Cmd {
	parent, timeout := m.ctx, m.opts.Timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()
		text, err := fn(ctx)
		return actionDoneMsg{text: text, err: err}
	}
}

func (m *Model) View() string {
	var b strings.Builder
	reg := m.ctrl.Registry()
	sess, _ := m.ctrl.Session()

	b.WriteString(titleStyle.Render("tankpilot console"))
	b.WriteString("\n\n")
	b.WriteString(output.FormatSession(m.ctrl))
	b.WriteString("\n")

	percent := 0.0
	if pos, ok := reg.Lookup(sess.CurrentStage); ok {
		percent = float64(pos+1) / float64(reg.Len())
	}
	b.WriteString(m.progress.ViewAs(percent))
	b.WriteString("\n\n")

	brpName, brpSet := m.ctrl.Breakpoint().Stage()
	for i, name := range reg.Names() {
		pointer := "  "
		if i == m.cursor {
			pointer = cursorStyle.Render("▸ ")
		}
		marker := "   "
		switch {
		case name == sess.CurrentStage:
			marker = " ● "
		case brpSet && name == brpName:
			marker = " ‖ "
		}
		style := enabledStyle
		switch {
		case name == sess.CurrentStage:
			style = currentStyle
		case m.ctrl.Disabled(name):
			style = disabledStyle
		}
		b.WriteString(pointer + marker + style.Render(name) + "\n")
	}
	b.WriteString("\n")

	switch {
	case m.busy != "":
		b.WriteString(m.spinner.View() + " " + m.busy + "\n")
	case m.err != nil:
		b.WriteString(errorStyle.Render("error: "+m.err.Error()) + "\n")
	case m.message != "":
		b.WriteString(m.message + "\n")
	default:
		b.WriteString("\n")
	}
	b.WriteString(mutedStyle.Render(m.help.View(keys)) + "\n")
	return b.String()
}
