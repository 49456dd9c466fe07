// Package cmd holds the root cobra command for turbo.
package cmd

import (
	"os"
	"runtime/pprof"
	"runtime/trace"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/riftrun/rift/internal/cmd/run"
	"github.com/riftrun/rift/internal/process"
	"github.com/riftrun/rift/internal/signals"
)

type execOpts struct {
	heapFile       string
	cpuProfileFile string
	traceFile      string
}

func (eo *execOpts) addFlags(flags *pflag.FlagSet) {
	// Note that these are relative to the actual CWD, and do not respect the --cwd flag.
	// This is because a user likely wants to inspect them after execution, and may not immediately
	// know the repo root, depending on how turbo was invoked.
	flags.StringVar(&eo.heapFile, "heap", "", "Specify a file to save a pprof heap profile")
	flags.StringVar(&eo.cpuProfileFile, "cpuprofile", "", "Specify a file to save a cpu profile")
	flags.StringVar(&eo.traceFile, "trace", "", "Specify a file to save a pprof trace")
}

// RunWithArgs runs turbo with the specified arguments. The arguments should
// not include the binary being invoked (e.g. "turbo").
func RunWithArgs(args []string, turboVersion string) int {
	signalWatcher := signals.NewWatcher()
	root := getCmd(turboVersion, signalWatcher)
	resolvedArgs := resolveArgs(root, args)
	root.SetArgs(resolvedArgs)

	doneCh := make(chan struct{})
	var execErr error
	go func() {
		execErr = root.Execute()
		close(doneCh)
	}()

	// Wait for either our command to finish, in which case we need to clean up,
	// or to receive a signal, in which case the signal watcher's close hooks do the cleanup
	select {
	case <-doneCh:
		signalWatcher.Close()
		exitErr := &process.ChildExit{}
		if errors.As(execErr, &exitErr) {
			return exitErr.ExitCode
		} else if execErr != nil {
			return 1
		}
		return 0
	case <-signalWatcher.Done():
		return 1
	}
}

const _defaultCmd string = "run"

// resolveArgs adds a default command to the supplied arguments if none exists.
func resolveArgs(root *cobra.Command, args []string) []string {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" || arg == "--version" || arg == "completion" {
			return args
		}
	}
	cmd, _, err := root.Traverse(args)
	if err != nil {
		// The command is going to error, but defer to cobra to handle it.
		return args
	} else if cmd.Name() == root.Name() {
		// We resolved to the root, and this is not help or version, so
		// prepend our default command.
		return append([]string{_defaultCmd}, args...)
	}
	return args
}

// getCmd returns the root cobra command. Non-goals (§1) drop the vercel
// remote-cache/auth/daemon/prune surface the teacher's root wired up here;
// run is the only subcommand this orchestrator core actually needs.
func getCmd(turboVersion string, signalWatcher *signals.Watcher) *cobra.Command {
	eo := &execOpts{}

	cmd := &cobra.Command{
		Use:              "turbo",
		Short:            "The build system that makes ship happen",
		TraverseChildren: true,
		Version:          turboVersion,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if eo.traceFile != "" {
				cleanup, err := createTraceFile(eo.traceFile)
				if err != nil {
					return err
				}
				signalWatcher.AddOnClose(func() { _ = cleanup.Close() })
				cmd.Root().PersistentPostRunE = chainPostRun(cmd.Root().PersistentPostRunE, cleanup)
			}
			if eo.heapFile != "" {
				cleanup, err := createHeapFile(eo.heapFile)
				if err != nil {
					return err
				}
				signalWatcher.AddOnClose(func() { _ = cleanup.Close() })
				cmd.Root().PersistentPostRunE = chainPostRun(cmd.Root().PersistentPostRunE, cleanup)
			}
			if eo.cpuProfileFile != "" {
				cleanup, err := createCpuprofileFile(eo.cpuProfileFile)
				if err != nil {
					return err
				}
				signalWatcher.AddOnClose(func() { _ = cleanup.Close() })
				cmd.Root().PersistentPostRunE = chainPostRun(cmd.Root().PersistentPostRunE, cleanup)
			}
			return nil
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")
	eo.addFlags(cmd.PersistentFlags())
	cmd.AddCommand(run.NewCommand(signalWatcher))
	return cmd
}

func chainPostRun(prev func(*cobra.Command, []string) error, cleanup profileCleanup) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if prev != nil {
			if err := prev(cmd, args); err != nil {
				return err
			}
		}
		return cleanup.Close()
	}
}

type profileCleanup func() error

// Close implements io.Close for profileCleanup.
func (pc profileCleanup) Close() error {
	return pc()
}

// To view a CPU trace, use "go tool trace [file]". Note that the trace
// viewer doesn't work under Windows Subsystem for Linux for some reason.
func createTraceFile(traceFile string) (profileCleanup, error) {
	f, err := os.Create(traceFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create trace file: %v", traceFile)
	}
	if err := trace.Start(f); err != nil {
		return nil, errors.Wrap(err, "failed to start tracing")
	}
	return func() error {
		trace.Stop()
		return f.Close()
	}, nil
}

// To view a heap trace, use "go tool pprof [file]" and type "top". You can
// also drop it into https://speedscope.app and use the "left heavy" or
// "sandwich" view modes.
func createHeapFile(heapFile string) (profileCleanup, error) {
	f, err := os.Create(heapFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create heap file: %v", heapFile)
	}
	return func() error {
		if err := pprof.WriteHeapProfile(f); err != nil {
			_ = f.Close()
			return errors.Wrapf(err, "failed to write heap file: %v", heapFile)
		}
		return f.Close()
	}, nil
}

// To view a CPU profile, drop the file into https://speedscope.app.
func createCpuprofileFile(cpuprofileFile string) (profileCleanup, error) {
	f, err := os.Create(cpuprofileFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create cpuprofile file: %v", cpuprofileFile)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		return nil, errors.Wrap(err, "failed to start CPU profiling")
	}
	return func() error {
		pprof.StopCPUProfile()
		return f.Close()
	}, nil
}
