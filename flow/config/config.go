// Package config loads materializer settings from a config file, environment
// variables and command-line flags through viper.
//
// Keys live under "flow". A config.yaml such as
//
//	flow:
//	  materializer:
//	    max-input-buffer-size: 32
//	  log:
//	    level: debug
//
// can be overridden by environment variables named after the key, e.g.
// FLOW_MATERIALIZER_MAX_INPUT_BUFFER_SIZE=64.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// Keys of the settings, usable with viper.Set or flag bindings.
const (
	InitialInputBufferSizeKey = "flow.materializer.initial-input-buffer-size"
	MaxInputBufferSizeKey     = "flow.materializer.max-input-buffer-size"
	SubscriptionTimeoutKey    = "flow.materializer.subscription-timeout"
	DispatcherKey             = "flow.materializer.dispatcher"
	NameKey                   = "flow.materializer.name"
	LogFormatKey              = "flow.log.format"
	LogLevelKey               = "flow.log.level"
)

// Log configures the materializer's logger.
type Log struct {
	// Format is "json" or "text".
	Format string `mapstructure:"format"`
	// Level is one of none, debug, info, warn or error.
	Level string `mapstructure:"level"`
}

// Materializer is core.Settings plus the materializer's name.
type Materializer struct {
	core.Settings `mapstructure:",squash"`
	Name          string `mapstructure:"name"`
}

// Config is the "flow" section of the configuration.
type Config struct {
	Materializer Materializer `mapstructure:"materializer"`
	Log          Log          `mapstructure:"log"`
}

// DefaultConfig returns the configuration used for keys that are not set.
func DefaultConfig() *Config {
	return &Config{
		Materializer: Materializer{Settings: core.DefaultSettings(), Name: "flow"},
		Log:          Log{Format: "text", Level: "none"},
	}
}

// Verify checks the configuration for consistency.
func (c *Config) Verify() error {
	if err := c.Materializer.Validate(); err != nil {
		return fmt.Errorf("invalid materializer config: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("config '%s' must be 'json' or 'text', got %q", LogFormatKey, c.Log.Format)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// New returns a viper instance looking for config.yaml in paths and reading
// environment overrides. The defaults of DefaultConfig are registered so that
// every key can be overridden from the environment.
func New(paths ...string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// SetDefaults registers the values of DefaultConfig on v.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault(InitialInputBufferSizeKey, d.Materializer.InitialInputBufferSize)
	v.SetDefault(MaxInputBufferSizeKey, d.Materializer.MaxInputBufferSize)
	v.SetDefault(SubscriptionTimeoutKey, d.Materializer.SubscriptionTimeout)
	v.SetDefault(DispatcherKey, d.Materializer.Dispatcher)
	v.SetDefault(NameKey, d.Materializer.Name)
	v.SetDefault(LogFormatKey, d.Log.Format)
	v.SetDefault(LogLevelKey, d.Log.Level)
}

// Read reads the config file of v, if any, and returns the verified
// configuration. A missing config file is not an error.
func Read(v *viper.Viper) (*Config, error) {
	v.SetTypeByDefaultValue(true)
	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to load flow config: %w", err)
		}
	}

	var root struct {
		Flow *Config `mapstructure:"flow"`
	}
	root.Flow = DefaultConfig()
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow config: %w", err)
	}
	if err := root.Flow.Verify(); err != nil {
		return nil, err
	}
	return root.Flow, nil
}

// NewLogger builds the logger described by c.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	if level == nil {
		return zap.NewNop(), nil
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(*level)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	if c.Log.Format == "text" {
		cfg.Encoding = "console"
		cfg.DisableCaller = true
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return cfg.Build()
}

// Options returns the materializer options carrying c, logging to log.
func (c *Config) Options(log *zap.Logger) []core.MaterializerOption {
	return []core.MaterializerOption{
		core.WithSettings(c.Materializer.Settings),
		core.WithName(c.Materializer.Name),
		core.WithLogger(log),
	}
}

// parseLevel returns nil for "none".
func parseLevel(s string) (*zapcore.Level, error) {
	if s == "none" {
		return nil, nil
	}
	var level zapcore.Level
	switch s {
	case "debug":
		level = zap.DebugLevel
	case "info":
		level = zap.InfoLevel
	case "warn":
		level = zap.WarnLevel
	case "error":
		level = zap.ErrorLevel
	default:
		return nil, fmt.Errorf("unknown log level: %s", s)
	}
	return &level, nil
}
