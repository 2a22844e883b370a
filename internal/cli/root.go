// Package cli provides the Cobra command tree for jitload.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	jitload "github.com/contriboss/jitload-go"
)

// GlobalOpts holds the persistent flags shared by every subcommand.
type GlobalOpts struct {
	Manifest string
	LogLevel string
	JSONLogs bool
	Verbose  bool
	Clean    bool
}

// app is the state shared by the subcommands of one invocation.
type app struct {
	opts    GlobalOpts
	stdout  io.Writer
	stderr  io.Writer
	factory *jitload.ToolchainFactory
}

// NewRootCmd creates the root cobra command for jitload.
func NewRootCmd() *cobra.Command {
	return newRootCmd(jitload.DefaultToolchains())
}

func newRootCmd(factory *jitload.ToolchainFactory) *cobra.Command {
	a := &app{factory: factory}

	rootCmd := &cobra.Command{
		Use:   "jitload",
		Short: "Just-in-time builder for native extension modules",
		Long: `jitload - just-in-time builder for native extension modules

jitload configures, builds and generates stubs for the modules listed in a
project manifest (jitload.yaml, jitload.yml or jitload.hcl). Steps whose
inputs did not change since the last successful run are skipped.`,
		Version:       jitload.Version,
		SilenceErrors: true, // main prints errors with their code
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.stdout = cmd.OutOrStdout()
			a.stderr = cmd.ErrOrStderr()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.opts.Manifest, "manifest", "f", "", "manifest file (default: jitload.yaml, jitload.yml or jitload.hcl in the current directory)")
	flags.StringVar(&a.opts.LogLevel, "log-level", "warn", "log level: debug, info, warn or error")
	flags.BoolVar(&a.opts.JSONLogs, "json-logs", false, "write logs as JSON")
	flags.BoolVarP(&a.opts.Verbose, "verbose", "v", false, "stream tool output while building")
	flags.BoolVar(&a.opts.Clean, "clean", false, "discard cached build state first")

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(
		newBuildCmd(a),
		newStatusCmd(a),
		newCleanCmd(a),
		newDoctorCmd(a),
		newVersionCmd(),
	)

	return rootCmd
}

// Execute runs the root command with the given output writers.
func Execute(stdout, stderr io.Writer) error {
	rootCmd := NewRootCmd()
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	return rootCmd.Execute()
}

func (a *app) logger() *slog.Logger {
	return jitload.NewLogger(a.stderr, jitload.ParseLevel(a.opts.LogLevel), a.opts.JSONLogs)
}

func (a *app) context(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return jitload.ContextWithLogger(ctx, a.logger())
}

// runner creates a Runner; console banners are only printed when builds
// run one at a time.
func (a *app) runner(withConsole bool) *jitload.Runner {
	opts := []jitload.RunnerOption{jitload.WithLogger(a.logger())}
	if withConsole {
		opts = append(opts, jitload.WithConsole(jitload.NewConsole(a.stderr)))
	}
	return jitload.NewRunner(opts...)
}

func (a *app) manifest() (*jitload.Manifest, error) {
	path := a.opts.Manifest
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, jitload.Wrap(jitload.EInternal, "getting working directory", err)
		}
		if path, err = jitload.FindManifest(cwd); err != nil {
			return nil, err
		}
	}
	return jitload.LoadManifest(path)
}

// configs resolves the named modules, or every module when names is empty,
// to validated configs in manifest order.
func (a *app) configs(names []string) ([]*jitload.Config, error) {
	m, err := a.manifest()
	if err != nil {
		return nil, err
	}

	entries := make([]*jitload.ModuleEntry, 0, len(m.Modules))
	if len(names) == 0 {
		for i := range m.Modules {
			entries = append(entries, &m.Modules[i])
		}
	}
	for _, name := range names {
		entry, ok := m.Module(name)
		if !ok {
			return nil, &jitload.Error{Code: jitload.EModuleNotFound, Module: name, Msg: "module " + name + " is not declared in " + m.Path}
		}
		entries = append(entries, entry)
	}

	configs := make([]*jitload.Config, 0, len(entries))
	for _, entry := range entries {
		opts, err := m.Options(entry, a.factory)
		if err != nil {
			return nil, err
		}
		opts.Verbose = opts.Verbose || a.opts.Verbose
		opts.CleanBuild = opts.CleanBuild || a.opts.Clean
		cfg, err := jitload.NewConfig(entry.Name, opts)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}
