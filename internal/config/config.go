// Package config resolves cirelease settings from flags, CIRELEASE_*
// environment variables and an optional .cirelease.yaml file, in that order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cirelease/internal/cargo"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Keys shared by flags, env vars and the config file.
const (
	KeyDir           = "dir"
	KeyReleaseBranch = "release-branch"
	KeyCIEnv         = "ci-env"
	KeyTokenEnv      = "token-env"
	KeyRetryAttempts = "retry-attempts"
	KeyRetryInterval = "retry-interval"
	KeyDryRun        = "dry-run"
	KeyToolchain     = "toolchain"
	KeyTTY           = "tty"
	KeyVerbose       = "verbose"
)

// EnvPrefix namespaces the environment overrides, e.g. CIRELEASE_RELEASE_BRANCH.
const EnvPrefix = "CIRELEASE"

// FileName is the optional config file looked up in the working directory.
const FileName = ".cirelease"

// Config is the resolved configuration for one run.
type Config struct {
	Dir           string
	ReleaseBranch string
	// CIEnv names the variable whose presence marks a CI run.
	CIEnv string
	// TokenEnv names the variable holding the registry token.
	TokenEnv      string
	RetryAttempts int
	RetryInterval time.Duration
	// DryRun forces simulation regardless of the environment.
	DryRun bool
	// Toolchain, when set, is exported as RUSTUP_TOOLCHAIN to every command.
	Toolchain string
	TTY       bool
	Verbose   bool
}

// New returns a viper instance with defaults and env binding applied.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyDir, ".")
	v.SetDefault(KeyReleaseBranch, "master")
	v.SetDefault(KeyCIEnv, "CI")
	v.SetDefault(KeyTokenEnv, "CRATES_IO_TOKEN")
	v.SetDefault(KeyRetryAttempts, cargo.DefaultRetry.Attempts)
	v.SetDefault(KeyRetryInterval, cargo.DefaultRetry.Interval)
	v.SetDefault(KeyDryRun, false)
	v.SetDefault(KeyToolchain, "")
	v.SetDefault(KeyTTY, false)
	v.SetDefault(KeyVerbose, false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// RegisterFlags declares the persistent flags and binds them to v.
func RegisterFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.StringP(KeyDir, "C", ".", "directory containing Cargo.toml")
	fs.String(KeyReleaseBranch, "master", "branch that is allowed to publish")
	fs.String(KeyCIEnv, "CI", "environment variable whose presence marks a CI run")
	fs.String(KeyTokenEnv, "CRATES_IO_TOKEN", "environment variable holding the registry token")
	fs.Int(KeyRetryAttempts, cargo.DefaultRetry.Attempts, "simulated publish attempts per crate in publish-all")
	fs.Duration(KeyRetryInterval, cargo.DefaultRetry.Interval, "wait between simulated publish attempts")
	fs.Bool(KeyDryRun, false, "simulate publish, tag and push even on a release build")
	fs.String(KeyToolchain, "", "rustup toolchain to run cargo with (sets RUSTUP_TOOLCHAIN)")
	fs.Bool(KeyTTY, false, "run build commands under a pseudo-terminal to keep coloured output")
	fs.BoolP(KeyVerbose, "v", false, "enable debug logging")
	return v.BindPFlags(fs)
}

// Load reads the optional config file from the configured dir and returns
// the merged configuration.
func Load(v *viper.Viper) (Config, error) {
	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(v.GetString(KeyDir))
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		Dir:           v.GetString(KeyDir),
		ReleaseBranch: v.GetString(KeyReleaseBranch),
		CIEnv:         v.GetString(KeyCIEnv),
		TokenEnv:      v.GetString(KeyTokenEnv),
		RetryAttempts: v.GetInt(KeyRetryAttempts),
		RetryInterval: v.GetDuration(KeyRetryInterval),
		DryRun:        v.GetBool(KeyDryRun),
		Toolchain:     v.GetString(KeyToolchain),
		TTY:           v.GetBool(KeyTTY),
		Verbose:       v.GetBool(KeyVerbose),
	}
	return cfg, cfg.Validate()
}

// Validate checks the values that would otherwise fail late.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Dir) == "" {
		errs = append(errs, errors.New("dir must not be empty"))
	}
	if strings.TrimSpace(c.ReleaseBranch) == "" {
		errs = append(errs, errors.New("release-branch must not be empty"))
	}
	if c.CIEnv == "" {
		errs = append(errs, errors.New("ci-env must not be empty"))
	}
	if c.RetryAttempts <= 0 {
		errs = append(errs, fmt.Errorf("retry-attempts must be positive, got %d", c.RetryAttempts))
	}
	if c.RetryInterval < 0 {
		errs = append(errs, fmt.Errorf("retry-interval must not be negative, got %s", c.RetryInterval))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Retry returns the publish-all retry policy.
func (c Config) Retry() cargo.Retry {
	return cargo.Retry{Attempts: c.RetryAttempts, Interval: c.RetryInterval}
}

// Token returns the registry token from the environment, or
// cargo.DefaultToken when the variable is unset.
func (c Config) Token(lookup func(string) (string, bool)) string {
	if c.TokenEnv == "" {
		return cargo.DefaultToken
	}
	if v, ok := lookup(c.TokenEnv); ok {
		return v
	}
	return cargo.DefaultToken
}

// Env returns the extra environment for spawned commands.
func (c Config) Env() []string {
	if c.Toolchain == "" {
		return nil
	}
	return []string{"RUSTUP_TOOLCHAIN=" + c.Toolchain}
}
