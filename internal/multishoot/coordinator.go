// Package multishoot runs one load test on several tanks at once. Every tank
// is started with a breakpoint so the load phase begins only after all of
// them finished preparing; the tanks are then released together, awaited,
// and their phout logs are downloaded and merged into a single result.
package multishoot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/torosent/tankpilot/internal/artifact"
	"github.com/torosent/tankpilot/internal/phout"
	"github.com/torosent/tankpilot/internal/session"
	"github.com/torosent/tankpilot/internal/stage"
	"github.com/torosent/tankpilot/internal/tankapi"
)

const (
	DefaultHoldAt         = "start"
	DefaultReadyAt        = "prepare"
	DefaultPhoutPattern   = "phout_*.log"
	DefaultMergedFileName = "result_phout.txt"
	defaultPrepareEvery   = 5 * time.Second
	defaultFinishEvery    = 30 * time.Second
	stopTimeout           = 10 * time.Second
)

// ErrNoPhout is returned when a tank produced no artifact matching the
// phout pattern.
var ErrNoPhout = errors.New("no phout artifact found")

// Tank is the tank API surface a shoot drives.
type Tank interface {
	BaseURL() string
	Start(ctx context.Context, req tankapi.StartRequest) (tankapi.RunReply, error)
	Continue(ctx context.Context, sessionID, breakpoint string) (tankapi.Reply, error)
	Stop(ctx context.Context, sessionID string) (tankapi.Reply, error)
	SessionStatus(ctx context.Context, sessionID string) (tankapi.SessionStatus, error)
	artifact.Fetcher
}

// Logger receives progress messages.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// Options configure a Coordinator.
type Options struct {
	Tanks    []Tank
	Registry *stage.Registry
	Config   []byte
	TestID   string

	// HoldAt is the breakpoint each tank is started with, ReadyAt the
	// stage every tank must complete before the shoot is released.
	HoldAt  string
	ReadyAt string

	PrepareInterval time.Duration
	FinishInterval  time.Duration

	ArtifactDir  string
	PhoutPattern string
	MergedFile   string

	Logger Logger
}

// TankResult is the outcome for one tank.
type TankResult struct {
	API     string `json:"api" yaml:"api"`
	Session string `json:"session" yaml:"session"`
	Test    string `json:"test" yaml:"test"`
	Status  string `json:"status" yaml:"status"`
	Phout   string `json:"phout,omitempty" yaml:"phout,omitempty"`
}

// Result summarizes a completed shoot.
type Result struct {
	Tanks      []TankResult `json:"tanks" yaml:"tanks"`
	MergedFile string       `json:"merged_file" yaml:"merged_file"`
	Lines      int          `json:"lines" yaml:"lines"`
}

// Coordinator runs a synchronized shoot.
type Coordinator struct {
	opts Options
}

// New validates opts and fills in defaults.
func New(opts Options) (*Coordinator, error) {
	if len(opts.Tanks) == 0 {
		return nil, errors.New("at least one tank is required")
	}
	if opts.Registry == nil {
		opts.Registry = stage.Default()
	}
	if len(opts.Config) == 0 {
		return nil, errors.New("load configuration is required")
	}
	if opts.HoldAt == "" {
		opts.HoldAt = DefaultHoldAt
	}
	if opts.ReadyAt == "" {
		opts.ReadyAt = DefaultReadyAt
	}
	for _, name := range []string{opts.HoldAt, opts.ReadyAt} {
		if err := opts.Registry.Validate(name); err != nil {
			return nil, err
		}
	}
	if !opts.Registry.Before(opts.ReadyAt, opts.HoldAt) {
		return nil, fmt.Errorf("ready stage %q must come before hold stage %q", opts.ReadyAt, opts.HoldAt)
	}
	if opts.PrepareInterval <= 0 {
		opts.PrepareInterval = defaultPrepareEvery
	}
	if opts.FinishInterval <= 0 {
		opts.FinishInterval = defaultFinishEvery
	}
	if opts.ArtifactDir == "" {
		opts.ArtifactDir = "."
	}
	if opts.PhoutPattern == "" {
		opts.PhoutPattern = DefaultPhoutPattern
	}
	if opts.MergedFile == "" {
		opts.MergedFile = filepath.Join(opts.ArtifactDir, DefaultMergedFileName)
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	return &Coordinator{opts: opts}, nil
}

// Run executes the shoot. If any tank fails before release, every session
// that was started is stopped.
func (c *Coordinator) Run(ctx context.Context) (Result, error) {
	results := make([]TankResult, len(c.opts.Tanks))
	for i, tank := range c.opts.Tanks {
		results[i].API = tank.BaseURL()
	}

	if err := c.prepare(ctx, results); err != nil {
		c.stopAll(results)
		return Result{Tanks: results}, err
	}
	if err := c.release(ctx, results); err != nil {
		c.stopAll(results)
		return Result{Tanks: results}, err
	}
	if err := c.finish(ctx, results); err != nil {
		return Result{Tanks: results}, err
	}
	if err := c.collect(ctx, results); err != nil {
		return Result{Tanks: results}, err
	}

	inputs := make([]string, len(results))
	for i, r := range results {
		inputs[i] = r.Phout
	}
	c.opts.Logger.Infof("merging %d phout files into %s", len(inputs), c.opts.MergedFile)
	lines, err := phout.MergeFiles(c.opts.MergedFile, inputs...)
	if err != nil {
		return Result{Tanks: results}, fmt.Errorf("merge phout: %w", err)
	}
	return Result{Tanks: results, MergedFile: c.opts.MergedFile, Lines: lines}, nil
}

func (c *Coordinator) prepare(ctx context.Context, results []TankResult) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, tank := range c.opts.Tanks {
		g.Go(func() error {
			reply, err := tank.Start(gctx, tankapi.StartRequest{
				Config:     c.opts.Config,
				Breakpoint: c.opts.HoldAt,
				TestID:     c.opts.TestID,
			})
			if err != nil {
				return fmt.Errorf("start on %s: %w", tank.BaseURL(), err)
			}
			results[i].Session = reply.Session
			results[i].Test = reply.Test
			c.opts.Logger.Infof("%s: session %s started, waiting for %s", tank.BaseURL(), reply.Session, c.opts.ReadyAt)

			st, err := session.WaitForStage(gctx, tank, reply.Session, c.opts.ReadyAt, c.opts.Registry.Terminal(), c.opts.PrepareInterval, c.warn(tank))
			results[i].Status = st.Status
			if err != nil {
				return fmt.Errorf("prepare on %s: %w", tank.BaseURL(), err)
			}
			c.opts.Logger.Infof("%s: %s completed", tank.BaseURL(), c.opts.ReadyAt)
			return nil
		})
	}
	return g.Wait()
}

func (c *Coordinator) release(ctx context.Context, results []TankResult) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, tank := range c.opts.Tanks {
		g.Go(func() error {
			if _, err := tank.Continue(gctx, results[i].Session, ""); err != nil {
				return fmt.Errorf("release on %s: %w", tank.BaseURL(), err)
			}
			c.opts.Logger.Infof("%s: session %s released", tank.BaseURL(), results[i].Session)
			return nil
		})
	}
	return g.Wait()
}

func (c *Coordinator) finish(ctx context.Context, results []TankResult) error {
	terminal := c.opts.Registry.Terminal()
	g, gctx := errgroup.WithContext(ctx)
	for i, tank := range c.opts.Tanks {
		g.Go(func() error {
			st, err := session.WaitForStage(gctx, tank, results[i].Session, terminal, terminal, c.opts.FinishInterval, c.warn(tank))
			results[i].Status = st.Status
			if err != nil {
				return fmt.Errorf("finish on %s: %w", tank.BaseURL(), err)
			}
			c.opts.Logger.Infof("%s: session %s finished with status %s", tank.BaseURL(), results[i].Session, st.Status)
			return nil
		})
	}
	return g.Wait()
}

func (c *Coordinator) collect(ctx context.Context, results []TankResult) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, tank := range c.opts.Tanks {
		g.Go(func() error {
			dir := filepath.Join(c.opts.ArtifactDir, fmt.Sprintf("tank%d", i+1))
			store, err := artifact.NewStore(dir, c.opts.PhoutPattern, tank)
			if err != nil {
				return err
			}
			names, err := store.List(gctx, results[i].Test)
			if err != nil {
				return fmt.Errorf("%s: %w", tank.BaseURL(), err)
			}
			if len(names) == 0 {
				return fmt.Errorf("%s: test %s: %w", tank.BaseURL(), results[i].Test, ErrNoPhout)
			}
			files, err := store.Download(gctx, results[i].Test, names[0])
			if err != nil {
				return fmt.Errorf("%s: %w", tank.BaseURL(), err)
			}
			results[i].Phout = files[0].Path
			c.opts.Logger.Infof("%s: downloaded %s (%d bytes)", tank.BaseURL(), files[0].Name, files[0].Bytes)
			return nil
		})
	}
	return g.Wait()
}

// stopAll stops every started session. It uses a fresh context because
// the shoot context may already be cancelled.
func (c *Coordinator) stopAll(results []TankResult) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	for i, tank := range c.opts.Tanks {
		if results[i].Session == "" {
			continue
		}
		if _, err := tank.Stop(ctx, results[i].Session); err != nil {
			c.opts.Logger.Warnf("%s: stop session %s: %v", tank.BaseURL(), results[i].Session, err)
			continue
		}
		c.opts.Logger.Infof("%s: session %s stopped", tank.BaseURL(), results[i].Session)
	}
}

func (c *Coordinator) warn(tank Tank) func(error) {
	return func(err error) {
		c.opts.Logger.Warnf("%s: status poll failed: %v", tank.BaseURL(), err)
	}
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{}) {}
