// Package config loads the daemon configuration from a TOML file, environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/apify/crawlee-sub000/internal/errors"
	"github.com/apify/crawlee-sub000/internal/pool"
	"github.com/apify/crawlee-sub000/internal/snapshot"
	"github.com/apify/crawlee-sub000/internal/status"
	"github.com/apify/crawlee-sub000/internal/telemetry"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel = "info"

	envPrefix = "AUTOSCALERD"
	envConfig = "AUTOSCALERD_CONFIG"
)

type Config struct {
	LogLevel string `mapstructure:"log_level"`
	Debug    bool   `mapstructure:"debug"`
	Verbose  bool   `mapstructure:"verbose"`

	MinConcurrency          int     `mapstructure:"min_concurrency"`
	MaxConcurrency          int     `mapstructure:"max_concurrency"`
	DesiredConcurrencyRatio float64 `mapstructure:"desired_concurrency_ratio"`
	ScaleUpStepRatio        float64 `mapstructure:"scale_up_step_ratio"`
	ScaleDownStepRatio      float64 `mapstructure:"scale_down_step_ratio"`
	MaybeRunIntervalSecs    float64 `mapstructure:"maybe_run_interval_secs"`
	AutoscaleIntervalSecs   float64 `mapstructure:"autoscale_interval_secs"`
	LoggingIntervalSecs     float64 `mapstructure:"logging_interval_secs"`

	Snapshotter SnapshotterConfig `mapstructure:"snapshotter"`
	Status      StatusConfig      `mapstructure:"status"`

	Telemetry   bool   `mapstructure:"telemetry"`
	TelemetryDB string `mapstructure:"database"`

	// Demo workload driven by cmd/autoscalerd.
	TaskCount          int `mapstructure:"task_count"`
	TaskDurationMillis int `mapstructure:"task_duration_millis"`
}

type SnapshotterConfig struct {
	EventLoopIntervalSecs float64 `mapstructure:"event_loop_interval_secs"`
	MemoryIntervalSecs    float64 `mapstructure:"memory_interval_secs"`
	CPUIntervalSecs       float64 `mapstructure:"cpu_interval_secs"`
	ClientIntervalSecs    float64 `mapstructure:"client_interval_secs"`
	MaxBlockedMillis      int64   `mapstructure:"max_blocked_millis"`
	MaxUsedMemoryRatio    float64 `mapstructure:"max_used_memory_ratio"`
	MaxUsedCPURatio       float64 `mapstructure:"max_used_cpu_ratio"`
	MaxClientErrors       uint64  `mapstructure:"max_client_errors"`
	HistorySecs           float64 `mapstructure:"history_secs"`
}

type StatusConfig struct {
	CurrentHistorySecs          float64 `mapstructure:"current_history_secs"`
	MaxMemoryOverloadedRatio    float64 `mapstructure:"max_memory_overloaded_ratio"`
	MaxEventLoopOverloadedRatio float64 `mapstructure:"max_event_loop_overloaded_ratio"`
	MaxCPUOverloadedRatio       float64 `mapstructure:"max_cpu_overloaded_ratio"`
	MaxClientOverloadedRatio    float64 `mapstructure:"max_client_overloaded_ratio"`
}

func Load() (*Config, error) {
	errFactory := errors.New()

	v := viper.New()
	setDefaults(v)

	flags := pflag.NewFlagSet("autoscalerd", pflag.ContinueOnError)
	flags.ParseErrorsWhitelist.UnknownFlags = true
	flags.String("config", "", "Path to configuration file")
	flags.String("log-level", "", "Log level (debug, info, warning, error)")
	flags.Bool("debug", false, "Enable debugging mode")
	flags.Bool("verbose", false, "Enable verbose logging")
	flags.Int("min-concurrency", 0, "Minimum task concurrency")
	flags.Int("max-concurrency", 0, "Maximum task concurrency")
	flags.Bool("telemetry", false, "Enable telemetry collection")
	flags.String("database", "", "Path to the telemetry database")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	configPath := os.Getenv(envConfig)
	if path, err := flags.GetString("config"); err == nil && path != "" {
		configPath = path
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("autoscalerd")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err).
				WithMessage("Failed to read config file")
		}
	}

	// Flags that were actually set override file values. Flag names are
	// dashed; the config keys use underscores.
	flags.Visit(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		v.Set(strings.ReplaceAll(f.Name, "-", "_"), f.Value.String())
	})

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("min_concurrency", 1)
	v.SetDefault("max_concurrency", 1000)
	v.SetDefault("desired_concurrency_ratio", 0.95)
	v.SetDefault("scale_up_step_ratio", 0.05)
	v.SetDefault("scale_down_step_ratio", 0.05)
	v.SetDefault("maybe_run_interval_secs", 0.5)
	v.SetDefault("autoscale_interval_secs", 10.0)
	v.SetDefault("logging_interval_secs", 60.0)

	v.SetDefault("snapshotter.event_loop_interval_secs", 0.5)
	v.SetDefault("snapshotter.memory_interval_secs", 1.0)
	v.SetDefault("snapshotter.cpu_interval_secs", 1.0)
	v.SetDefault("snapshotter.client_interval_secs", 1.0)
	v.SetDefault("snapshotter.max_blocked_millis", 50)
	v.SetDefault("snapshotter.max_used_memory_ratio", 0.7)
	v.SetDefault("snapshotter.max_used_cpu_ratio", 0.95)
	v.SetDefault("snapshotter.max_client_errors", 1)
	v.SetDefault("snapshotter.history_secs", 60.0)

	v.SetDefault("status.current_history_secs", 5.0)
	v.SetDefault("status.max_memory_overloaded_ratio", 0.2)
	v.SetDefault("status.max_event_loop_overloaded_ratio", 0.2)
	v.SetDefault("status.max_cpu_overloaded_ratio", 0.1)
	v.SetDefault("status.max_client_overloaded_ratio", 0.3)

	v.SetDefault("telemetry", false)
	v.SetDefault("database", "/var/lib/autoscalerd/telemetry.db")

	v.SetDefault("task_count", 20)
	v.SetDefault("task_duration_millis", 500)
}

func (c *Config) validate() error {
	errFactory := errors.New()

	switch c.LogLevel {
	case "debug", "info", "warning", "error":
	default:
		return errFactory.New(errors.ErrInvalidLogLevel)
	}

	if c.MinConcurrency < 1 || c.MinConcurrency > c.MaxConcurrency {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "concurrency bounds out of range")
	}

	return nil
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// SnapshotConfig converts the seconds-based file values into the snapshotter's
// duration-based config.
func (c *Config) SnapshotConfig() snapshot.Config {
	return snapshot.Config{
		EventLoopInterval:  secs(c.Snapshotter.EventLoopIntervalSecs),
		MemoryInterval:     secs(c.Snapshotter.MemoryIntervalSecs),
		CPUInterval:        secs(c.Snapshotter.CPUIntervalSecs),
		ClientInterval:     secs(c.Snapshotter.ClientIntervalSecs),
		History:            secs(c.Snapshotter.HistorySecs),
		MaxBlockedMillis:   c.Snapshotter.MaxBlockedMillis,
		MaxUsedMemoryRatio: c.Snapshotter.MaxUsedMemoryRatio,
		MaxUsedCPURatio:    c.Snapshotter.MaxUsedCPURatio,
		MaxClientErrors:    c.Snapshotter.MaxClientErrors,
	}
}

func (c *Config) StatusConfig() status.Config {
	return status.Config{
		CurrentHistory:              secs(c.Status.CurrentHistorySecs),
		MaxMemoryOverloadedRatio:    c.Status.MaxMemoryOverloadedRatio,
		MaxEventLoopOverloadedRatio: c.Status.MaxEventLoopOverloadedRatio,
		MaxCPUOverloadedRatio:       c.Status.MaxCPUOverloadedRatio,
		MaxClientOverloadedRatio:    c.Status.MaxClientOverloadedRatio,
	}
}

// PoolOptions builds pool options from the configuration. Source, recorder
// and any caller-supplied snapshotter are wired by the caller.
func (c *Config) PoolOptions() pool.Options {
	loggingInterval := secs(c.LoggingIntervalSecs)
	if c.LoggingIntervalSecs <= 0 {
		loggingInterval = -1
	}

	snapshotCfg := c.SnapshotConfig()
	statusCfg := c.StatusConfig()

	return pool.Options{
		MinConcurrency:          c.MinConcurrency,
		MaxConcurrency:          c.MaxConcurrency,
		DesiredConcurrencyRatio: c.DesiredConcurrencyRatio,
		ScaleUpStepRatio:        c.ScaleUpStepRatio,
		ScaleDownStepRatio:      c.ScaleDownStepRatio,
		MaybeRunInterval:        secs(c.MaybeRunIntervalSecs),
		AutoscaleInterval:       secs(c.AutoscaleIntervalSecs),
		LoggingInterval:         loggingInterval,
		SnapshotterConfig:       &snapshotCfg,
		StatusConfig:            &statusCfg,
	}
}

// TelemetryConfig returns the telemetry configuration section.
func (c *Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		DBPath:  c.TelemetryDB,
		Enabled: c.Telemetry,
	}
}
