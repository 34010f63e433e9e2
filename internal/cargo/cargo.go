// Package cargo drives the Rust build tool: compiling the test suite and
// publishing crates to the registry.
package cargo

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"cirelease/internal/dryrun"
	"cirelease/internal/execx"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// DefaultToken is sent when no registry token is configured. cargo accepts
// it for --dry-run publishes.
const DefaultToken = "no token"

// Retry bounds the simulated publish loop in PublishAll.
type Retry struct {
	Attempts int
	Interval time.Duration
}

// DefaultRetry waits long enough for the registry index to pick up a crate
// published a moment earlier by the same run.
var DefaultRetry = Retry{Attempts: 20, Interval: 10 * time.Second}

// Cargo runs cargo in Dir.
type Cargo struct {
	Dir    string
	Runner execx.Runner
	DryRun dryrun.Flag
	Token  string
	Retry  Retry
	Logger *zap.Logger
}

func (c *Cargo) cargo(args ...string) execx.Cmd {
	cmd := execx.Command("cargo", args...)
	cmd.Dir = c.Dir
	if c.Token != "" && c.Token != DefaultToken {
		cmd.Secrets = []string{c.Token}
	}
	return cmd
}

func (c *Cargo) token() string {
	if c.Token == "" {
		return DefaultToken
	}
	return c.Token
}

func (c *Cargo) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// CompileTests builds every test target in the workspace without running
// them.
func (c *Cargo) CompileTests(ctx context.Context) error {
	return c.Runner.Run(ctx, c.cargo("test", "--workspace", "--no-run"))
}

// Publish publishes the crate in Dir. In dry-run mode cargo is asked to
// simulate the upload.
func (c *Cargo) Publish(ctx context.Context) error {
	args := append([]string{"publish", "--token", c.token()}, c.DryRun.Args()...)
	if err := c.Runner.Run(ctx, c.cargo(args...)); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// PublishAll publishes the crates under dirs in order. Nothing runs in
// dry-run mode.
//
// Before each real upload the crate is published with --dry-run until cargo
// accepts it, waiting Retry.Interval between attempts. A crate usually fails
// that check while the registry has not yet indexed a sibling published just
// before it. The real upload runs even when every simulated attempt failed;
// its error is the one reported.
func (c *Cargo) PublishAll(ctx context.Context, dirs []string) error {
	if c.DryRun.Enabled() {
		c.logger().Info("skipping multi-crate publish", zap.Strings("dirs", dirs), zap.Stringer("mode", c.DryRun))
		return nil
	}
	for _, dir := range dirs {
		if err := c.awaitPublishable(ctx, dir); err != nil {
			return err
		}
		if err := c.Runner.Run(ctx, c.publishDir(dir, false)); err != nil {
			return fmt.Errorf("publish %s: %w", dir, err)
		}
	}
	return nil
}

func (c *Cargo) publishDir(dir string, simulate bool) execx.Cmd {
	args := []string{"publish", "--manifest-path", filepath.Join(dir, "Cargo.toml"), "--token", c.token()}
	if simulate {
		args = append(args, dryrun.SimulateArg)
	}
	return c.cargo(args...)
}

// awaitPublishable retries a simulated publish of dir. Exhausting the
// attempts is not an error; only context cancellation is.
func (c *Cargo) awaitPublishable(ctx context.Context, dir string) error {
	retry := c.Retry
	if retry.Attempts <= 0 {
		retry = DefaultRetry
	}
	log := c.logger().With(zap.String("dir", dir))

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, c.Runner.Run(ctx, c.publishDir(dir, true))
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(retry.Interval)),
		backoff.WithMaxTries(uint(retry.Attempts)),
		backoff.WithMaxElapsedTime(time.Duration(retry.Attempts)*retry.Interval+time.Minute),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Info("simulated publish failed, retrying",
				zap.Int("attempt", attempt), zap.Duration("wait", next), zap.Error(err))
		}),
	)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("publish %s: %w", dir, ctxErr)
	}
	if err != nil {
		log.Warn("simulated publish never succeeded, publishing anyway", zap.Int("attempts", attempt), zap.Error(err))
	}
	return nil
}
