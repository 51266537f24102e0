package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/torosent/tankpilot/internal/artifact"
	"github.com/torosent/tankpilot/internal/config"
	"github.com/torosent/tankpilot/internal/console"
	"github.com/torosent/tankpilot/internal/dashboard"
	"github.com/torosent/tankpilot/internal/multishoot"
	"github.com/torosent/tankpilot/internal/output"
	"github.com/torosent/tankpilot/internal/phout"
	"github.com/torosent/tankpilot/internal/session"
	"github.com/torosent/tankpilot/internal/stage"
	"github.com/torosent/tankpilot/internal/tankapi"
)

type sessionValue struct {
	Action     string `json:"action,omitempty" yaml:"action,omitempty"`
	Session    string `json:"session,omitempty" yaml:"session,omitempty"`
	Test       string `json:"test,omitempty" yaml:"test,omitempty"`
	Breakpoint string `json:"breakpoint" yaml:"breakpoint"`
	Reason     string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

func newRunCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a new test, pausing before --breakpoint when set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			loadCfg, err := a.cfg.ReadLoadConfig()
			if err != nil {
				return err
			}
			brp, err := a.breakpoint()
			if err != nil {
				return err
			}
			client, err := a.client(a.cfg.API)
			if err != nil {
				return err
			}
			ctrl, err := a.controller(client, loadCfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if brp.IsSet() {
				_, err = ctrl.SetBreakpoint(ctx, brp)
			} else {
				_, err = ctrl.RunTest(ctx, loadCfg)
			}
			if err != nil {
				return err
			}

			sess, _ := ctrl.Session()
			if err := a.report(
				fmt.Sprintf("Started session %s (test %s), break: %s", sess.ID, sess.TestID, brp),
				sessionValue{Action: session.ActionStart.String(), Session: sess.ID, Test: sess.TestID, Breakpoint: brp.String()},
			); err != nil {
				return err
			}
			if !follow {
				return nil
			}
			until, ok := pauseStage(a.reg, brp)
			if !ok {
				return nil
			}
			return a.follow(ctx, ctrl, until)
		},
	}
	cmd.Flags().BoolVar(&follow, "follow", false, "Follow the session until it pauses or finishes")
	return cmd
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Move the breakpoint of --session (unset runs it to completion)",
		Long: `resume continues a paused session. With --breakpoint the session pauses
again before that stage; without it the session runs to completion. If the
session already finished, a set breakpoint starts a new test from
--load-config that pauses there.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			id, err := a.requireSession()
			if err != nil {
				return err
			}
			brp, err := a.breakpoint()
			if err != nil {
				return err
			}
			var loadCfg []byte
			if a.cfg.LoadConfig != "" {
				if loadCfg, err = a.cfg.ReadLoadConfig(); err != nil {
					return err
				}
			}
			client, err := a.client(a.cfg.API)
			if err != nil {
				return err
			}
			ctrl, err := a.controller(client, loadCfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := ctrl.Poll(ctx); err != nil {
				return fmt.Errorf("read status: %w", err)
			}
			ctrl.Track(id)
			if err := checkGate(ctrl, brp); err != nil {
				return err
			}

			act, err := ctrl.SetBreakpoint(ctx, brp)
			if err != nil {
				return err
			}
			sess, _ := ctrl.Session()
			value := sessionValue{Action: act.String(), Session: sess.ID, Test: sess.TestID, Breakpoint: brp.String()}

			var text string
			switch act {
			case session.ActionStart:
				text = fmt.Sprintf("Session %s had finished; started session %s pausing before %s", id, sess.ID, brp)
			case session.ActionContinue:
				if brp.IsSet() {
					text = fmt.Sprintf("Session %s continues and pauses before %s", sess.ID, brp)
				} else {
					text = fmt.Sprintf("Session %s runs to completion", sess.ID)
				}
			default:
				text = fmt.Sprintf("Nothing to do: session %s has finished", id)
			}
			return a.report(text, value)
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop --session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			id, err := a.requireSession()
			if err != nil {
				return err
			}
			client, err := a.client(a.cfg.API)
			if err != nil {
				return err
			}
			ctrl, err := a.controller(client, nil)
			if err != nil {
				return err
			}
			ctrl.Track(id)
			reply, err := ctrl.StopTest(cmd.Context())
			if err != nil {
				return err
			}
			return a.report(
				fmt.Sprintf("Stop requested for session %s", id),
				sessionValue{Action: "stop", Session: id, Breakpoint: stage.Unset().String(), Reason: reply.Reason},
			)
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the status of all sessions, or of --session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			client, err := a.client(a.cfg.API)
			if err != nil {
				return err
			}
			var snap tankapi.Snapshot
			if id := strings.TrimSpace(a.cfg.Session); id != "" {
				st, err := client.SessionStatus(cmd.Context(), id)
				if err != nil {
					return err
				}
				snap = tankapi.Snapshot{id: st}
			} else if snap, err = client.Status(cmd.Context()); err != nil {
				return err
			}
			return output.WriteSnapshot(a.stdout, a.cfg.Output, snap, a.reg)
		},
	}
}

func newWatchCmd() *cobra.Command {
	var until string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the tank and show progress until --session reaches --until",
		Long: `watch polls the tank API and shows the progress of --session on a status
line, or on a live terminal dashboard with --dashboard. It returns when the
session completes the --until stage (the terminal stage by default), when
the session ends, or on interrupt. Without --session it runs until
interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if until == "" {
				until = a.reg.Terminal()
			} else if err := a.reg.Validate(until); err != nil {
				return err
			}
			client, err := a.client(a.cfg.API)
			if err != nil {
				return err
			}
			ctrl, err := a.controller(client, nil)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if id := strings.TrimSpace(a.cfg.Session); id != "" {
				_ = ctrl.Poll(ctx)
				ctrl.Track(id)
			}

			followErr := a.follow(ctx, ctrl, until)
			if err := output.WriteSnapshot(a.stdout, a.cfg.Output, ctrl.Status(), a.reg); err != nil {
				return err
			}
			a.printStats()
			return followErr
		},
	}
	cmd.Flags().StringVar(&until, "until", "", "Stage to wait for (defaults to the terminal stage)")
	return cmd
}

func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Interactive console: place breakpoints, run and stop tests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			var current atomic.Value
			current.Store([]byte(nil))
			if a.cfg.LoadConfig != "" {
				data, err := a.cfg.ReadLoadConfig()
				if err != nil {
					return err
				}
				current.Store(data)
			}

			client, err := a.client(a.cfg.API)
			if err != nil {
				return err
			}
			ctrl, err := a.controller(client, current.Load().([]byte))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if id := strings.TrimSpace(a.cfg.Session); id != "" {
				_ = ctrl.Poll(ctx)
				ctrl.Track(id)
			}

			a.quiet()
			if a.cfg.WatchConfig && a.cfg.LoadConfig != "" {
				go func() {
					_ = config.WatchFile(ctx, a.cfg.LoadConfig, 0, func(data []byte) {
						current.Store(data)
						ctrl.SetConfig(data)
					}, nil)
				}()
			}

			poller := session.NewPoller(ctrl, a.cfg.PollInterval)
			poller.Start(ctx)
			defer poller.Stop()

			return console.Run(ctx, ctrl, func() []byte { return current.Load().([]byte) }, console.Options{
				Timeout: a.cfg.Timeout,
			})
		},
	}
}

func newArtifactsCmd() *cobra.Command {
	var testID string
	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "List or download test artifacts",
	}
	cmd.PersistentFlags().StringVar(&testID, "test", "", "Test id (defaults to --test-id)")

	resolve := func(a *app) (string, error) {
		id := strings.TrimSpace(testID)
		if id == "" {
			id = a.cfg.TestID
		}
		if id == "" {
			return "", errors.New("--test is required")
		}
		return id, nil
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List artifacts of a test that match --artifact-pattern",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			id, err := resolve(a)
			if err != nil {
				return err
			}
			client, err := a.client(a.cfg.API)
			if err != nil {
				return err
			}
			names, err := client.Artifacts(cmd.Context(), id)
			if err != nil {
				return err
			}
			return output.WriteArtifacts(a.stdout, a.cfg.Output, id, artifact.Filter(names, a.cfg.ArtifactPattern))
		},
	}

	get := &cobra.Command{
		Use:   "get [name...]",
		Short: "Download artifacts into --artifact-dir (all matching --artifact-pattern when no names are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			id, err := resolve(a)
			if err != nil {
				return err
			}
			client, err := a.client(a.cfg.API)
			if err != nil {
				return err
			}
			store, err := artifact.NewStore(a.cfg.ArtifactDir, a.cfg.ArtifactPattern, client)
			if err != nil {
				return err
			}
			var files []artifact.File
			if len(args) > 0 {
				files, err = store.Download(cmd.Context(), id, args...)
			} else {
				files, err = store.DownloadMatching(cmd.Context(), id)
			}
			if err != nil {
				return err
			}
			if a.cfg.Output != config.OutputText {
				return output.WriteValue(a.stdout, a.cfg.Output, files)
			}
			for _, f := range files {
				fmt.Fprintf(a.stdout, "%s\t%d bytes\n", f.Path, f.Bytes)
			}
			return nil
		},
	}

	cmd.AddCommand(list, get)
	return cmd
}

func newShootCmd() *cobra.Command {
	var holdAt, readyAt, merged string
	cmd := &cobra.Command{
		Use:   "shoot",
		Short: "Run one test on every --tank in lockstep and merge their phout logs",
		Long: `shoot starts --load-config on every --tank with a breakpoint before
--hold, waits until every tank completed --ready, releases all of them
together, waits for the terminal stage, then downloads each tank's phout log
and merges them by request start time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			loadCfg, err := a.cfg.ReadLoadConfig()
			if err != nil {
				return err
			}
			urls := a.cfg.Tanks
			if len(urls) == 0 {
				urls = []string{a.cfg.API}
			}
			tanks := make([]multishoot.Tank, 0, len(urls))
			for _, u := range urls {
				client, err := a.client(u)
				if err != nil {
					return err
				}
				tanks = append(tanks, client)
			}

			coord, err := multishoot.New(multishoot.Options{
				Tanks:           tanks,
				Registry:        a.reg,
				Config:          loadCfg,
				TestID:          a.cfg.TestID,
				HoldAt:          holdAt,
				ReadyAt:         readyAt,
				PrepareInterval: a.cfg.PollInterval,
				FinishInterval:  a.cfg.PollInterval,
				ArtifactDir:     a.cfg.ArtifactDir,
				PhoutPattern:    a.cfg.ArtifactPattern,
				MergedFile:      merged,
				Logger:          a.logger,
			})
			if err != nil {
				return err
			}
			res, err := coord.Run(cmd.Context())
			if err != nil {
				return err
			}
			if a.cfg.Output != config.OutputText {
				return output.WriteValue(a.stdout, a.cfg.Output, res)
			}
			for _, t := range res.Tanks {
				fmt.Fprintf(a.stdout, "%s\tsession %s\ttest %s\t%s\n", t.API, t.Session, t.Test, t.Status)
			}
			fmt.Fprintf(a.stdout, "Merged %d lines into %s\n", res.Lines, res.MergedFile)
			a.printStats()
			return nil
		},
	}
	cmd.Flags().StringVar(&holdAt, "hold", multishoot.DefaultHoldAt, "Stage every tank pauses before until all are prepared")
	cmd.Flags().StringVar(&readyAt, "ready", multishoot.DefaultReadyAt, "Stage every tank must complete before release")
	cmd.Flags().StringVar(&merged, "merged", "", "Merged phout path (defaults to result_phout.txt in --artifact-dir)")
	return cmd
}

func newMergePhoutCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "merge-phout file...",
		Short: "Merge phout logs by request start time",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := phout.MergeFiles(out, args...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Merged %d lines from %d files into %s\n", n, len(args), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out-file", multishoot.DefaultMergedFileName, "Merged output path")
	return cmd
}

// follow polls ctrl until the tracked session completes until, ends, or
// ctx is done. Progress goes to the dashboard or a status line.
func (a *app) follow(ctx context.Context, ctrl *session.Controller, until string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	poller := session.NewPoller(ctrl, a.cfg.PollInterval)
	poller.Start(ctx)
	defer poller.Stop()

	if a.cfg.Dashboard {
		a.quiet()
		dash, err := dashboard.New(ctrl, a.collector, dashboard.Info{
			API:          a.cfg.API,
			PollInterval: a.cfg.PollInterval,
			Timeout:      a.cfg.Timeout,
			Retries:      a.cfg.Retries,
			ConfigFile:   a.cfg.ConfigFile,
		}, cancel)
		if err != nil {
			return err
		}
		dash.Start()
		defer dash.Stop()
	} else if a.cfg.Output == config.OutputText {
		progress := output.NewProgressReporter(ctrl, a.collector, progressInterval, a.stdout)
		progress.Start(ctx)
		defer progress.Stop()
	}

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			done, err := arrived(ctrl, until)
			if done {
				return err
			}
		}
	}
}

// arrived reports whether the tracked session completed until or ended.
// A session that ended elsewhere is reported as an error.
func arrived(ctrl *session.Controller, until string) (bool, error) {
	sess, ok := ctrl.Session()
	if !ok {
		return false, nil
	}
	st, ok := ctrl.Status().Get(sess.ID)
	if !ok {
		return false, nil
	}
	reg := ctrl.Registry()
	if session.DestinationReached(st, until, reg.Terminal()) {
		if st.Status == tankapi.StatusFailed {
			return true, &session.EndedError{SessionID: sess.ID, Target: until, Status: st}
		}
		return true, nil
	}
	if st.Finished() {
		return true, &session.EndedError{SessionID: sess.ID, Target: until, Status: st}
	}
	return false, nil
}

// pauseStage is the stage a session completes before pausing at brp. An
// unset breakpoint runs to the terminal stage. A breakpoint on the first
// stage pauses before anything runs, so there is nothing to wait for.
func pauseStage(reg *stage.Registry, brp stage.Breakpoint) (string, bool) {
	name, ok := brp.Stage()
	if !ok {
		return reg.Terminal(), true
	}
	pos, ok := reg.Lookup(name)
	if !ok || pos == 0 {
		return "", false
	}
	return reg.At(pos - 1)
}

// checkGate refuses a breakpoint the running session has already passed.
// Finished sessions are not gated: a set breakpoint starts a new test.
func checkGate(ctrl *session.Controller, brp stage.Breakpoint) error {
	name, ok := brp.Stage()
	if !ok {
		return nil
	}
	sess, tracked := ctrl.Session()
	if !tracked || ctrl.Registry().IsTerminal(sess.CurrentStage) {
		return nil
	}
	if sess.RemoteStatus == tankapi.StatusSuccess || sess.RemoteStatus == tankapi.StatusFailed {
		return nil
	}
	if ctrl.Disabled(name) {
		choices := ctrl.Registry().Enabled(sess.CurrentStage, ctrl.Breakpoint())
		return fmt.Errorf("stage %s cannot be chosen for session %s at stage %s (selectable: %s)",
			name, sess.ID, sess.CurrentStage, strings.Join(choices, ", "))
	}
	return nil
}
