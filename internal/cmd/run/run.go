// Package run wires the orchestration core into one cobra subcommand:
// build the workspace graph, mark the affected set, lower the request to
// an action graph, and drive the pipeline executor to completion.
//
// Grounded on internal/cmd/run's original RunCmd/runOperation split (flag
// parsing feeding a graph-then-execute pipeline) and internal/core's
// Scheduler.Execute call site, generalized from turbo's package-task
// scheduler to this repo's six-ActionNode pipeline.
package run

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/riftrun/rift/internal/actiongraph"
	"github.com/riftrun/rift/internal/affected"
	"github.com/riftrun/rift/internal/cache"
	"github.com/riftrun/rift/internal/cliconfig"
	"github.com/riftrun/rift/internal/events"
	"github.com/riftrun/rift/internal/pipeline"
	"github.com/riftrun/rift/internal/process"
	"github.com/riftrun/rift/internal/projectconfig"
	"github.com/riftrun/rift/internal/scm"
	"github.com/riftrun/rift/internal/signals"
	"github.com/riftrun/rift/internal/target"
	"github.com/riftrun/rift/internal/taskhash"
	"github.com/riftrun/rift/internal/turbopath"
	"github.com/riftrun/rift/internal/workspace"
)

// opts holds the run subcommand's own flags, distinct from the process
// config cliconfig loads.
type opts struct {
	projectGlobs []string
	since        string
}

// NewCommand builds the "run" cobra command, wiring watcher into the
// pipeline's context so Ctrl-C cancels in-flight non-persistent work.
func NewCommand(watcher *signals.Watcher) *cobra.Command {
	o := &opts{}
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "run <task> [project:task ...]",
		Short: "Run tasks across projects in the workspace",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cliconfig.Load(v)
			if err != nil {
				return err
			}

			logger := newLogger(cfg.LogLevel)
			ctx, cancel := context.WithCancel(context.Background())
			watcher.AddOnClose(cancel)
			defer cancel()

			return execute(ctx, cfg, o, args, logger)
		},
	}

	flags := cmd.Flags()
	if err := cliconfig.AddFlags(flags, v); err != nil {
		panic(err)
	}
	flags.StringArrayVar(&o.projectGlobs, "scope", nil, "project source globs to additionally discover, beyond the explicit map")
	flags.StringVar(&o.since, "since", "", "limit the affected set to files touched since this revision")

	return cmd
}

func newLogger(level string) hclog.Logger {
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel && level != "" {
		lvl = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:  "turbo",
		Level: lvl,
		Color: hclog.AutoColor,
	})
}

func execute(ctx context.Context, cfg *cliconfig.Config, o *opts, args []string, logger hclog.Logger) error {
	targets, err := parseTargets(args)
	if err != nil {
		return err
	}

	wg, err := workspace.Build(ctx, workspace.Config{
		WorkspaceRoot: cfg.WorkspaceRoot,
		Explicit:      map[string]string{"root": "."},
		Globs:         o.projectGlobs,
		Loader:        projectconfig.Loader{WorkspaceRoot: cfg.WorkspaceRoot},
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("building workspace graph: %w", err)
	}

	aff := computeAffected(wg, cfg.WorkspaceRoot, o.since, logger)

	ag, err := actiongraph.Build(wg, targets, aff, actiongraph.Options{IncludeDependents: true})
	if err != nil {
		return fmt.Errorf("building action graph: %w", err)
	}

	c, err := cache.New(cache.Options{
		Dir:    turbopath.AbsoluteSystemPath(cfg.CacheDir),
		Mode:   cache.ModeReadWrite,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer c.Shutdown()

	bus := events.New()
	done := reportProgress(bus, logger)

	pc := &pipeline.Context{
		Graph:         wg,
		Affected:      aff,
		States:        pipeline.NewTargetStates(),
		HashTracker:   taskhash.NewTracker(),
		Cache:         c,
		Runner:        process.NewRunner(logger),
		Bus:           bus,
		WorkspaceRoot: turbopath.AbsoluteSystemPath(cfg.WorkspaceRoot),
		CacheDir:      cfg.CacheDir,
		Logger:        logger,
	}

	p := pipeline.New(ag, pc, pipeline.Options{Concurrency: cfg.Concurrency, Bail: cfg.Bail})
	report, err := p.Execute(ctx)
	bus.Close()
	<-done
	if err != nil {
		return fmt.Errorf("executing pipeline: %w", err)
	}

	printSummary(report)
	if report.Aborted || report.Counts[pipeline.StatusFailed.String()] > 0 {
		return fmt.Errorf("run failed: %d task(s) failed", report.Counts[pipeline.StatusFailed.String()])
	}
	return nil
}

// computeAffected builds the affected set from the SCM's view of touched
// files. When the workspace has no VCS (scm.New returns nil) or no file is
// touched (§4.4's ShouldCheck == false), it returns nil, so every task runs.
func computeAffected(wg *workspace.Graph, root, since string, logger hclog.Logger) *affected.Affected {
	var touched []string
	if repo := scm.New(root); repo != nil {
		touched = repo.ChangedFiles(since, true, root)
	}
	if len(touched) == 0 {
		return nil
	}
	tracker := affected.New(wg, touched, logger).WithScopes(affected.ScopeDirect, affected.DownstreamDirect)
	tracker.TrackProjects()
	if err := tracker.TrackTasks(); err != nil {
		logger.Warn("tracking affected tasks failed; not filtering by affected", "error", err)
		return nil
	}
	built := tracker.Build()
	return &built
}

func parseTargets(args []string) ([]target.Target, error) {
	targets := make([]target.Target, 0, len(args))
	for _, a := range args {
		if strings.ContainsRune(a, ':') {
			t, err := target.Parse(a)
			if err != nil {
				return nil, fmt.Errorf("parsing target %q: %w", a, err)
			}
			targets = append(targets, t)
			continue
		}
		targets = append(targets, target.Target{Scope: target.Scope{Kind: target.ScopeAll}, TaskID: a})
	}
	return targets, nil
}

// reportProgress prints one line per finished action, colorized by
// outcome, and returns a channel closed once the bus itself closes.
func reportProgress(bus *events.Bus, logger hclog.Logger) <-chan struct{} {
	sub := bus.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range sub {
			switch e.Kind {
			case events.KindActionFinished:
				printAction(e)
			case events.KindPipelineFinished:
				logger.Debug("pipeline finished", "counts", e.Counts)
			}
		}
	}()
	return done
}

func printAction(e events.Event) {
	line := fmt.Sprintf("%s %s", e.ActionKind, e.ActionKey)
	switch e.Status {
	case "Passed":
		fmt.Println(color.GreenString("✓ "+line) + " done")
	case "Cached":
		fmt.Println(color.CyanString("✓ "+line) + " cache hit")
	case "Skipped":
		fmt.Println(color.YellowString("- " + line + " skipped"))
	case "Failed":
		fmt.Println(color.RedString("✗ "+line) + fmt.Sprintf(" %v", e.Err))
	}
}

func printSummary(report *pipeline.Report) {
	fmt.Fprintln(os.Stdout)
	for status, n := range report.Counts {
		fmt.Printf("  %s: %d\n", status, n)
	}
	fmt.Printf("  estimated: %+v\n", report.Estimate)
}
