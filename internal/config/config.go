// Package config loads the settings of a proc-debug run.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the working directory.
const FileName = ".proc-debug.yaml"

// Config holds every setting of a run.
type Config struct {
	Cargo           string        `mapstructure:"cargo" yaml:"cargo"`
	FlagsEnv        string        `mapstructure:"flags_env" yaml:"flags_env"`
	BackupSuffix    string        `mapstructure:"backup_suffix" yaml:"backup_suffix"`
	Support         Support       `mapstructure:"support" yaml:"support"`
	MetadataTimeout time.Duration `mapstructure:"metadata_timeout" yaml:"metadata_timeout"`
	Color           bool          `mapstructure:"color" yaml:"color"`
	Log             Log           `mapstructure:"log" yaml:"log"`
}

// Support locates the instrumentation support library.
type Support struct {
	Name string `mapstructure:"name" yaml:"name"`
	// Version defaults to the version of the running binary when empty.
	Version string `mapstructure:"version" yaml:"version"`
	// Path overrides the location under the build output directory.
	Path      string `mapstructure:"path" yaml:"path,omitempty"`
	Attribute string `mapstructure:"attribute" yaml:"attribute"`
}

// Log configures the diagnostic logger.
type Log struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Cargo:        "cargo",
		FlagsEnv:     "PROC_DEBUG_FLAGS",
		BackupSuffix: "proc-debug-bak",
		Support: Support{
			Name:      "proc-debug",
			Attribute: "::proc_debug::proc_debug",
		},
		MetadataTimeout: 2 * time.Minute,
		Color:           true,
		Log:             Log{Level: "info"},
	}
}

// Load builds the configuration for a run started in dir. Values come from,
// lowest first: the defaults, the configuration file, and PROC_DEBUG_*
// variables. The host tool's CARGO variable sets cargo unless
// PROC_DEBUG_CARGO is also set. .env.local and .env in dir are loaded into
// the environment first without overriding variables already set.
//
// path names the configuration file explicitly; it must exist. Otherwise
// dir/.proc-debug.yaml and then ~/.config/proc-debug/config.yaml are used
// when present.
func Load(dir, path string) (*Config, error) {
	loadEnvFiles(dir)

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("cargo", cfg.Cargo)
	v.SetDefault("flags_env", cfg.FlagsEnv)
	v.SetDefault("backup_suffix", cfg.BackupSuffix)
	v.SetDefault("support.name", cfg.Support.Name)
	v.SetDefault("support.version", cfg.Support.Version)
	v.SetDefault("support.path", cfg.Support.Path)
	v.SetDefault("support.attribute", cfg.Support.Attribute)
	v.SetDefault("metadata_timeout", cfg.MetadataTimeout)
	v.SetDefault("color", cfg.Color)
	v.SetDefault("log.level", cfg.Log.Level)

	v.SetEnvPrefix("PROC_DEBUG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("cargo", "PROC_DEBUG_CARGO", "CARGO"); err != nil {
		return nil, err
	}

	if path == "" {
		path = findFile(dir)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.BackupSuffix == "" {
		return nil, errors.New("backup_suffix must not be empty")
	}
	return cfg, nil
}

// Used reports the configuration file Load would read for dir, or "".
func Used(dir string) string {
	return findFile(dir)
}

func findFile(dir string) string {
	candidates := []string{filepath.Join(dir, FileName)}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "proc-debug", "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func loadEnvFiles(dir string) {
	for _, name := range []string{".env.local", ".env"} {
		file := filepath.Join(dir, name)
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}
}

// Encode renders cfg as a YAML configuration file.
func Encode(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return data, nil
}

// Write saves cfg as YAML at path. An existing file is only replaced when
// force is set.
func Write(path string, cfg *Config, force bool) error {
	data, err := Encode(cfg)
	if err != nil {
		return err
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
