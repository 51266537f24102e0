package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/torosent/tankpilot/internal/config"
	"github.com/torosent/tankpilot/internal/metrics"
	"github.com/torosent/tankpilot/internal/output"
	"github.com/torosent/tankpilot/internal/session"
	"github.com/torosent/tankpilot/internal/stage"
	"github.com/torosent/tankpilot/internal/tankapi"
	"github.com/torosent/tankpilot/internal/tracing"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
	autoTestID       = "auto"
)

// app holds what every subcommand builds from the loaded configuration.
type app struct {
	cfg       *config.Config
	reg       *stage.Registry
	logger    *stderrLogger
	collector *metrics.Collector
	tracing   *tracing.Provider
	stdout    io.Writer
	stderr    io.Writer
}

func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := config.NewLoader().Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	cfg.TestID = resolveTestID(cfg.TestID)

	provider, err := tracing.Init(cmd.Context(), cfg.Tracing,
		attribute.String("tankpilot.api", cfg.API),
		attribute.String("tankpilot.test_id", cfg.TestID),
	)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:       cfg,
		reg:       reg,
		logger:    newLogger(cmd.ErrOrStderr(), cfg.LogErrors),
		collector: metrics.NewCollector(),
		tracing:   provider,
		stdout:    cmd.OutOrStdout(),
		stderr:    cmd.ErrOrStderr(),
	}, nil
}

// close flushes pending spans.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.tracing.Shutdown(ctx); err != nil {
		a.logger.Warnf("tracing shutdown: %v", err)
	}
}

// quiet stops log output while a full-screen view owns the terminal.
func (a *app) quiet() {
	a.logger.mu.Lock()
	a.logger.w = io.Discard
	a.logger.mu.Unlock()
}

func (a *app) client(baseURL string) (*tankapi.Client, error) {
	return tankapi.New(tankapi.Options{
		BaseURL:       baseURL,
		Timeout:       a.cfg.Timeout,
		Retry:         tankapi.DefaultRetryPolicy(a.cfg.Retries),
		RatePerSecond: a.cfg.APIRate,
		Tracer:        a.tracing.Tracer(),
		Propagate:     a.tracing.ShouldPropagate(),
		Recorder:      a.collector,
		Logger:        a.logger,
	})
}

func (a *app) controller(remote session.Remote, loadCfg []byte) (*session.Controller, error) {
	return session.NewController(session.Options{
		Registry: a.reg,
		Remote:   remote,
		TestID:   a.cfg.TestID,
		Config:   loadCfg,
		Observer: a.logger.Event,
	})
}

// breakpoint returns the configured breakpoint, validated against the
// registry.
func (a *app) breakpoint() (stage.Breakpoint, error) {
	brp := stage.At(a.cfg.Breakpoint)
	if name, ok := brp.Stage(); ok {
		if err := a.reg.Validate(name); err != nil {
			return stage.Unset(), err
		}
	}
	return brp, nil
}

func (a *app) requireSession() (string, error) {
	id := strings.TrimSpace(a.cfg.Session)
	if id == "" {
		return "", fmt.Errorf("--session is required")
	}
	return id, nil
}

// report prints text in text mode and v otherwise.
func (a *app) report(text string, v interface{}) error {
	if a.cfg.Output == config.OutputText {
		_, err := fmt.Fprintln(a.stdout, text)
		return err
	}
	return output.WriteValue(a.stdout, a.cfg.Output, v)
}

// printStats writes the API call report to stderr, keeping stdout for the
// command result.
func (a *app) printStats() {
	stats := a.collector.Stats(a.collector.Elapsed())
	if err := output.PrintStats(a.stderr, a.cfg.Output, stats); err != nil {
		a.logger.Warnf("api stats: %v", err)
	}
}

func resolveTestID(id string) string {
	id = strings.TrimSpace(id)
	if strings.EqualFold(id, autoTestID) {
		return strings.ToLower(ulid.Make().String())
	}
	return id
}
