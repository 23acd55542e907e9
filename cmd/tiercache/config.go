package main

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"

	"github.com/agentuity/go-tiercache/cache"
	"github.com/agentuity/go-tiercache/logger"
)

// fileConfig is the optional YAML configuration file. Flags and environment
// variables take precedence over it.
type fileConfig struct {
	Namespace  string `yaml:"namespace,omitempty"`
	Store      string `yaml:"store,omitempty"`
	BaseDir    string `yaml:"base_dir,omitempty"`
	IndexDir   string `yaml:"index_dir,omitempty"`
	LogLevel   string `yaml:"log_level,omitempty"`
	SaveDelay  string `yaml:"save_delay,omitempty"`
	MaxSaveLag string `yaml:"max_save_lag,omitempty"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	return cfg, nil
}

// flagOrEnv returns the flag value if set, then the environment variable,
// then def.
func flagOrEnv(cmd *cobra.Command, flagName string, envName string, def string) string {
	if f := cmd.Flags().Lookup(flagName); f != nil && f.Changed {
		return f.Value.String()
	}
	if val, ok := os.LookupEnv(envName); ok && val != "" {
		return val
	}
	return def
}

// settings is the resolved configuration of one invocation.
type settings struct {
	store string
	opts  []cache.Option
	log   logger.Logger
}

func resolveSettings(cmd *cobra.Command) (*settings, error) {
	path := flagOrEnv(cmd, "config", "TIERCACHE_CONFIG", "")
	fc, err := loadFileConfig(path)
	if err != nil {
		return nil, err
	}

	levelName := flagOrEnv(cmd, "log-level", logger.EnvLevel, fc.LogLevel)
	level := logger.LevelWarn
	if levelName != "" {
		var ok bool
		if level, ok = logger.ParseLevel(levelName); !ok {
			return nil, errors.Newf("unknown log level %q", levelName)
		}
	}
	log := logger.NewConsoleLogger(level)

	s := &settings{
		store: flagOrEnv(cmd, "store", "TIERCACHE_STORE", orDefault(fc.Store, "default")),
		log:   log,
	}
	s.opts = append(s.opts,
		cache.WithLogger(log),
		cache.WithNamespace(flagOrEnv(cmd, "namespace", "TIERCACHE_NAMESPACE", orDefault(fc.Namespace, cache.DefaultNamespace))),
	)
	if dir := flagOrEnv(cmd, "base-dir", "TIERCACHE_BASE_DIR", fc.BaseDir); dir != "" {
		s.opts = append(s.opts, cache.WithBaseDir(dir))
	}
	if dir := flagOrEnv(cmd, "index-dir", "TIERCACHE_INDEX_DIR", fc.IndexDir); dir != "" {
		s.opts = append(s.opts, cache.WithIndexDir(dir))
	}
	if fc.SaveDelay != "" {
		d, err := str2duration.ParseDuration(fc.SaveDelay)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing save_delay")
		}
		s.opts = append(s.opts, cache.WithSaveDelay(d))
	}
	if fc.MaxSaveLag != "" {
		d, err := str2duration.ParseDuration(fc.MaxSaveLag)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing max_save_lag")
		}
		s.opts = append(s.opts, cache.WithMaxSaveLag(d))
	}
	return s, nil
}

func orDefault(val string, def string) string {
	if val == "" {
		return def
	}
	return val
}

// parseOffset parses a duration such as "1d2h" or "30m" relative to now.
func parseOffset(now time.Time, s string) (time.Time, error) {
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parsing duration %q", s)
	}
	return now.Add(d), nil
}
