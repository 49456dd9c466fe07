// Package cliconfig loads the hosting CLI's own process configuration --
// workspace root, cache directory, default concurrency, log level. The
// orchestration core never parses configuration itself (SPEC_FULL.md §1
// Non-goals); this package is the layered viper/pflag/mapstructure reader
// the rest of the codebase uses for its own settings, grounded on
// internal/config.ParseAndValidate's flag/env/default precedence chain.
package cliconfig

import (
	"github.com/adrg/xdg"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/yookoala/realpath"
)

// Config is the resolved process configuration for one invocation.
type Config struct {
	WorkspaceRoot string `mapstructure:"workspace_root"`
	CacheDir      string `mapstructure:"cache_dir"`
	Concurrency   int    `mapstructure:"concurrency"`
	LogLevel      string `mapstructure:"log_level"`
	Bail          bool   `mapstructure:"bail"`
}

// AddFlags registers the flags Load consults, bound into v so pflag values
// take precedence over TURBO_-prefixed env vars and defaults.
func AddFlags(flags *pflag.FlagSet, v *viper.Viper) error {
	flags.String("cwd", ".", "workspace root directory")
	flags.String("cache-dir", "", "local cache directory (default: XDG cache home)")
	flags.Int("concurrency", 0, "bounded worker pool size (default: logical CPU count)")
	flags.String("log-level", "", "hclog level: trace, debug, info, warn, error")
	flags.Bool("bail", true, "stop dispatching new work after the first abort-worthy failure")

	for _, name := range []string{"cwd", "cache-dir", "concurrency", "log-level", "bail"} {
		if err := v.BindPFlag(bindKey(name), flags.Lookup(name)); err != nil {
			return errors.Wrapf(err, "cliconfig: binding --%s", name)
		}
	}
	return nil
}

func bindKey(flag string) string {
	switch flag {
	case "cwd":
		return "workspace_root"
	case "cache-dir":
		return "cache_dir"
	case "log-level":
		return "log_level"
	default:
		return flag
	}
}

// Load builds a Viper layering (flags > env > defaults) and decodes it
// into a Config, canonicalising the workspace root through realpath so a
// symlinked or relative cwd never perturbs a task hash (§4.6).
func Load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("TURBO")
	v.AutomaticEnv()

	v.SetDefault("workspace_root", ".")
	v.SetDefault("concurrency", 0)
	v.SetDefault("log_level", "")
	v.SetDefault("bail", true)

	cacheDefault, err := defaultCacheDir()
	if err != nil {
		return nil, err
	}
	v.SetDefault("cache_dir", cacheDefault)

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(mapstructure.StringToTimeDurationHookFunc())
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, errors.Wrap(err, "cliconfig: decoding configuration")
	}

	root, err := realpath.Realpath(cfg.WorkspaceRoot)
	if err != nil {
		return nil, errors.Wrapf(err, "cliconfig: resolving workspace root %q", cfg.WorkspaceRoot)
	}
	cfg.WorkspaceRoot = root

	return &cfg, nil
}

func defaultCacheDir() (string, error) {
	if xdg.CacheHome != "" {
		return xdg.CacheHome + "/turbo", nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", errors.Wrap(err, "cliconfig: resolving home directory for cache default")
	}
	return home + "/.cache/turbo", nil
}
