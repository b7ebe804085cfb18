// Package config provides configuration management for vidpace using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/jmylchreest/vidpace/pkg/duration"
)

// Default configuration values.
const (
	defaultServerPort       = 8080
	defaultServerTimeout    = 30 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultMaxOpenConns     = 25
	defaultMaxIdleConns     = 10
	defaultConnMaxIdleTime  = 30 * time.Minute
	defaultProbeTimeout     = 30 * time.Second
	defaultHighThreshold    = 500 * time.Millisecond
	defaultLowThreshold     = 200 * time.Millisecond
	defaultHysteresisBand   = 50 * time.Millisecond
	defaultBitrateStep      = 1000
	defaultAdjustInterval   = 5 * time.Second
	defaultHistoryLimit     = 256
	defaultSnapshotSchedule = "@every 30s"
	defaultPruneSchedule    = "@daily"
	defaultQueueDepth       = 4
	defaultFrameWidth       = 640
	defaultFrameHeight      = 480
	defaultInitialBitrate   = 5000
	defaultMinBitrate       = 1000
	defaultMaxBitrate       = 10000
	defaultRestartPolicy    = "substitute"
	defaultSinkType         = "discard"
)

// Restart policies for a frame source that reached the end of its asset.
const (
	RestartPolicySkip       = "skip"
	RestartPolicySubstitute = "substitute"
)

// Sink types understood by the local transport.
const (
	SinkDiscard = "discard"
	SinkFFmpeg  = "ffmpeg"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	FFmpeg     FFmpegConfig     `mapstructure:"ffmpeg"`
	Adaptation AdaptationConfig `mapstructure:"adaptation"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Transport  TransportConfig  `mapstructure:"transport"`
	Defaults   StreamDefaults   `mapstructure:"defaults"`
	Streams    []StreamConfig   `mapstructure:"streams"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn" masq:"secret"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
	// Retention removes finished runs older than this; 0 keeps everything.
	Retention       time.Duration `mapstructure:"retention"`
	PruneSchedule   string        `mapstructure:"prune_schedule"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
	// RequestLogging logs every HTTP request at info level.
	RequestLogging bool `mapstructure:"request_logging"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath   string        `mapstructure:"binary_path"` // empty = auto-detect
	ProbePath    string        `mapstructure:"probe_path"`  // empty = auto-detect
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// AdaptationConfig holds the latency band used by adaptive streams.
// Streams may override the thresholds individually.
type AdaptationConfig struct {
	HighThreshold  time.Duration `mapstructure:"high_threshold"`
	LowThreshold   time.Duration `mapstructure:"low_threshold"`
	HysteresisBand time.Duration `mapstructure:"hysteresis_band"`
	DecreaseStep   int           `mapstructure:"decrease_step"`
	IncreaseStep   int           `mapstructure:"increase_step"`
	Interval       time.Duration `mapstructure:"interval"`
}

// MetricsConfig holds measurement and export configuration.
type MetricsConfig struct {
	// MaxSamples bounds the raw samples retained per series (0 = unbounded).
	// Running means stay cumulative regardless.
	MaxSamples int `mapstructure:"max_samples"`
	// HistoryLimit bounds the bitrate change history kept per stream.
	HistoryLimit     int    `mapstructure:"history_limit"`
	Prometheus       bool   `mapstructure:"prometheus"`
	SnapshotSchedule string `mapstructure:"snapshot_schedule"` // cron spec or @every, empty disables
}

// TransportConfig holds local transport configuration.
type TransportConfig struct {
	QueueDepth int `mapstructure:"queue_depth"`
	// EncoderReadyDelay holds the encoder parameter unavailable for this long
	// after a session starts, like a pipeline that is still being configured.
	EncoderReadyDelay time.Duration `mapstructure:"encoder_ready_delay"`
}

// StreamDefaults are applied to any stream field left unset.
type StreamDefaults struct {
	Width          int     `mapstructure:"width"`
	Height         int     `mapstructure:"height"`
	FrameRate      float64 `mapstructure:"frame_rate"`
	InitialBitrate int     `mapstructure:"initial_bitrate"`
	MinBitrate     int     `mapstructure:"min_bitrate"`
	MaxBitrate     int     `mapstructure:"max_bitrate"`
	RestartPolicy  string  `mapstructure:"restart_policy"`
	Sink           string  `mapstructure:"sink"`
}

// StreamConfig describes one stream. Zero values inherit from Defaults and
// Adaptation. A FrameRate of 0 after defaults means "use the asset's rate".
type StreamConfig struct {
	Name               string        `mapstructure:"name"`
	AssetPath          string        `mapstructure:"asset_path"`
	Width              int           `mapstructure:"width"`
	Height             int           `mapstructure:"height"`
	FrameRate          float64       `mapstructure:"frame_rate"`
	InitialBitrate     int           `mapstructure:"initial_bitrate"`
	MinBitrate         int           `mapstructure:"min_bitrate"`
	MaxBitrate         int           `mapstructure:"max_bitrate"`
	AdjustmentInterval time.Duration `mapstructure:"adjustment_interval"`
	Adaptive           bool          `mapstructure:"adaptive"`
	RestartPolicy      string        `mapstructure:"restart_policy"`
	Sink               string        `mapstructure:"sink"`
	Output             string        `mapstructure:"output"`
	HighThreshold      time.Duration `mapstructure:"high_threshold"`
	LowThreshold       time.Duration `mapstructure:"low_threshold"`
	HysteresisBand     time.Duration `mapstructure:"hysteresis_band"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with VIDPACE_ and use underscores for nesting.
// Example: VIDPACE_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/vidpace")
		v.AddConfigPath("$HOME/.vidpace")
	}

	v.SetEnvPrefix("VIDPACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	return FromViper(v)
}

// FromViper unmarshals, completes and validates a configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	hooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.DecodeHookFuncType(durationHook),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hooks)); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.ApplyStreamDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// durationHook decodes strings into time.Duration with day and week units,
// so settings like retention can be written as "30d".
func durationHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeFor[time.Duration]() {
		return data, nil
	}
	str, _ := data.(string)
	if str == "" {
		return time.Duration(0), nil
	}
	return duration.Parse(str)
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	// Database defaults
	v.SetDefault("database.enabled", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "vidpace.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.retention", 0)
	v.SetDefault("database.prune_schedule", defaultPruneSchedule)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.request_logging", true)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.probe_timeout", defaultProbeTimeout)

	// Adaptation defaults
	v.SetDefault("adaptation.high_threshold", defaultHighThreshold)
	v.SetDefault("adaptation.low_threshold", defaultLowThreshold)
	v.SetDefault("adaptation.hysteresis_band", defaultHysteresisBand)
	v.SetDefault("adaptation.decrease_step", defaultBitrateStep)
	v.SetDefault("adaptation.increase_step", defaultBitrateStep)
	v.SetDefault("adaptation.interval", defaultAdjustInterval)

	// Metrics defaults
	v.SetDefault("metrics.max_samples", 0)
	v.SetDefault("metrics.history_limit", defaultHistoryLimit)
	v.SetDefault("metrics.prometheus", true)
	v.SetDefault("metrics.snapshot_schedule", defaultSnapshotSchedule)

	// Transport defaults
	v.SetDefault("transport.queue_depth", defaultQueueDepth)
	v.SetDefault("transport.encoder_ready_delay", 0)

	// Stream defaults
	v.SetDefault("defaults.width", defaultFrameWidth)
	v.SetDefault("defaults.height", defaultFrameHeight)
	v.SetDefault("defaults.frame_rate", 0)
	v.SetDefault("defaults.initial_bitrate", defaultInitialBitrate)
	v.SetDefault("defaults.min_bitrate", defaultMinBitrate)
	v.SetDefault("defaults.max_bitrate", defaultMaxBitrate)
	v.SetDefault("defaults.restart_policy", defaultRestartPolicy)
	v.SetDefault("defaults.sink", defaultSinkType)
}

// ApplyStreamDefaults fills unset stream fields from Defaults and Adaptation.
// Viper defaults do not reach into list elements, so this runs after Unmarshal.
func (c *Config) ApplyStreamDefaults() {
	for i := range c.Streams {
		s := &c.Streams[i]
		if s.Name == "" {
			s.Name = fmt.Sprintf("video%d", i+1)
		}
		if s.Width == 0 {
			s.Width = c.Defaults.Width
		}
		if s.Height == 0 {
			s.Height = c.Defaults.Height
		}
		if s.FrameRate == 0 {
			s.FrameRate = c.Defaults.FrameRate
		}
		if s.InitialBitrate == 0 {
			s.InitialBitrate = c.Defaults.InitialBitrate
		}
		if s.MinBitrate == 0 {
			s.MinBitrate = c.Defaults.MinBitrate
		}
		if s.MaxBitrate == 0 {
			s.MaxBitrate = c.Defaults.MaxBitrate
		}
		if s.AdjustmentInterval == 0 {
			s.AdjustmentInterval = c.Adaptation.Interval
		}
		if s.RestartPolicy == "" {
			s.RestartPolicy = c.Defaults.RestartPolicy
		}
		if s.Sink == "" {
			s.Sink = c.Defaults.Sink
		}
		if s.HighThreshold == 0 {
			s.HighThreshold = c.Adaptation.HighThreshold
		}
		if s.LowThreshold == 0 {
			s.LowThreshold = c.Adaptation.LowThreshold
		}
		if s.HysteresisBand == 0 {
			s.HysteresisBand = c.Adaptation.HysteresisBand
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Database validation
	if c.Database.Enabled {
		validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
		if !validDrivers[c.Database.Driver] {
			return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
		}
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required")
		}
		if c.Database.Retention < 0 {
			return fmt.Errorf("database.retention must not be negative")
		}
	}

	// Logging validation
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if err := c.Adaptation.Validate(); err != nil {
		return err
	}

	if c.Metrics.MaxSamples < 0 {
		return fmt.Errorf("metrics.max_samples must not be negative")
	}
	if c.Transport.QueueDepth < 1 {
		return fmt.Errorf("transport.queue_depth must be at least 1")
	}

	seen := make(map[string]bool, len(c.Streams))
	for i := range c.Streams {
		s := &c.Streams[i]
		if seen[s.Name] {
			return fmt.Errorf("streams[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
		if err := s.Validate(); err != nil {
			return fmt.Errorf("streams[%d] (%s): %w", i, s.Name, err)
		}
	}

	return nil
}

// Validate checks the adaptation band.
func (a *AdaptationConfig) Validate() error {
	if a.LowThreshold <= 0 || a.HighThreshold <= 0 {
		return fmt.Errorf("adaptation thresholds must be positive")
	}
	if a.LowThreshold >= a.HighThreshold {
		return fmt.Errorf("adaptation.low_threshold must be below adaptation.high_threshold")
	}
	if a.HysteresisBand < 0 {
		return fmt.Errorf("adaptation.hysteresis_band must not be negative")
	}
	if a.DecreaseStep < 1 || a.IncreaseStep < 1 {
		return fmt.Errorf("adaptation steps must be at least 1")
	}
	if a.Interval <= 0 {
		return fmt.Errorf("adaptation.interval must be positive")
	}
	return nil
}

// Validate checks a single stream after defaults have been applied.
func (s *StreamConfig) Validate() error {
	if s.AssetPath == "" {
		return fmt.Errorf("asset_path is required")
	}
	if s.Width < 1 || s.Height < 1 {
		return fmt.Errorf("width and height must be positive")
	}
	if s.FrameRate < 0 {
		return fmt.Errorf("frame_rate must not be negative")
	}
	if s.MinBitrate < 1 {
		return fmt.Errorf("min_bitrate must be at least 1")
	}
	if s.MinBitrate > s.MaxBitrate {
		return fmt.Errorf("min_bitrate (%d) exceeds max_bitrate (%d)", s.MinBitrate, s.MaxBitrate)
	}
	if s.InitialBitrate < s.MinBitrate || s.InitialBitrate > s.MaxBitrate {
		return fmt.Errorf("initial_bitrate (%d) must be within [%d, %d]", s.InitialBitrate, s.MinBitrate, s.MaxBitrate)
	}
	if s.AdjustmentInterval <= 0 {
		return fmt.Errorf("adjustment_interval must be positive")
	}
	if s.LowThreshold >= s.HighThreshold {
		return fmt.Errorf("low_threshold must be below high_threshold")
	}
	if s.HysteresisBand < 0 {
		return fmt.Errorf("hysteresis_band must not be negative")
	}
	switch s.RestartPolicy {
	case RestartPolicySkip, RestartPolicySubstitute:
	default:
		return fmt.Errorf("restart_policy must be one of: %s, %s", RestartPolicySkip, RestartPolicySubstitute)
	}
	switch s.Sink {
	case SinkDiscard:
	case SinkFFmpeg:
		if s.Output == "" {
			return fmt.Errorf("output is required for the %s sink", SinkFFmpeg)
		}
	default:
		return fmt.Errorf("sink must be one of: %s, %s", SinkDiscard, SinkFFmpeg)
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
