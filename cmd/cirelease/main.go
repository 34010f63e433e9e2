package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cirelease/internal/config"
	"cirelease/internal/execx"
	"cirelease/internal/pty"
	"cirelease/internal/release"
	"cirelease/internal/section"
	"cirelease/internal/telemetry"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app carries the state built once per invocation by PersistentPreRunE.
type app struct {
	v         *viper.Viper
	cfg       config.Config
	logger    *zap.Logger
	telemetry *telemetry.Provider
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:   "cirelease",
		Short: "Build, test and release a Cargo package from CI",
		Long: `cirelease runs the release pipeline of a Cargo package:

  BUILD    cargo test --workspace --no-run
  TEST     cargo test --workspace --no-run
  PUBLISH  cargo publish, git tag v<version>, git push --tags

Publishing, tagging and pushing only happen for real when the CI variable is
set, the tag v<version> does not exist yet and HEAD is on the release branch.
Otherwise publish runs with --dry-run and tagging is skipped.

Run without a subcommand to execute the "ci" pipeline.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.Context(), cmd.ErrOrStderr())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.sequencer(cmd).Run(cmd.Context())
		},
	}
	if err := config.RegisterFlags(a.v, root.PersistentFlags()); err != nil {
		panic(err)
	}

	ciCmd := &cobra.Command{
		Use:   "ci",
		Short: "Run BUILD, TEST and PUBLISH",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.sequencer(cmd).Run(cmd.Context())
		},
	}

	publishAllCmd := &cobra.Command{
		Use:   "publish-all [dir...]",
		Short: "Publish several workspace crates in order",
		Long: `Publishes each crate directory in order. Before each upload the crate is
published with --dry-run until the registry accepts it, so a crate can depend
on a sibling published a moment earlier.

Without arguments the [workspace] members of Cargo.toml are used.
Nothing is published unless the run qualifies as a release.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.sequencer(cmd).PublishAll(cmd.Context(), args)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the manifest version and its release tag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			version, tag, err := a.sequencer(cmd).Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", version, tag)
			return nil
		},
	}

	root.AddCommand(ciCmd, publishAllCmd, versionCmd)
	return root, a
}

func (a *app) init(ctx context.Context, stderr io.Writer) error {
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.logger = newLogger(stderr, cfg.Verbose)

	a.telemetry, err = telemetry.New(ctx, os.Getenv)
	if err != nil {
		a.logger.Warn("tracing disabled", zap.Error(err))
		a.telemetry = nil
	}
	a.logger.Debug("config", zap.Any("config", cfg), zap.Bool("tracing", a.telemetry.Enabled()))
	return nil
}

// close flushes traces and logs. It runs after the command, whether or not
// it failed.
func (a *app) close() {
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.telemetry.Shutdown(ctx); err != nil && a.logger != nil {
			a.logger.Warn("flushing traces", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func (a *app) sequencer(cmd *cobra.Command) *release.Sequencer {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	opts := []execx.Option{
		execx.WithStdout(stdout),
		execx.WithStderr(stderr),
		execx.WithEnv(a.cfg.Env()...),
		execx.WithLogger(a.logger),
	}
	if a.cfg.TTY {
		opts = append(opts, execx.WithTTY(&pty.CreackPTY{}))
	}

	return &release.Sequencer{
		Dir:           a.cfg.Dir,
		Runner:        execx.New(opts...),
		Reporter:      section.NewReporter(stdout, stderr, section.WithTracer(a.telemetry.Tracer())),
		Logger:        a.logger,
		LookupEnv:     os.LookupEnv,
		CIEnv:         a.cfg.CIEnv,
		ReleaseBranch: a.cfg.ReleaseBranch,
		ForceDryRun:   a.cfg.DryRun,
		Token:         a.cfg.Token(os.LookupEnv),
		Retry:         a.cfg.Retry(),
	}
}

// newLogger builds a console logger on w. Phase markers are written
// directly, not through the logger.
func newLogger(w io.Writer, verbose bool) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)
	return zap.New(core)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root, a := newRootCmd()
	err := root.ExecuteContext(ctx)
	a.close()
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cirelease: %v\n", err)
		os.Exit(1)
	}
}
