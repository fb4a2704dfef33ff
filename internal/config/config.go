// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Job store backends accepted in JOB_STORE.
const (
	JobStoreMemory = "memory"
	JobStoreSQLite = "sqlite"
)

// Static errors for configuration validation.
var (
	// ErrInvalidContainer is returned when VIDEO_CONTAINER is not webm or mp4.
	ErrInvalidContainer = errors.New("config: VIDEO_CONTAINER must be webm or mp4")
	// ErrInvalidJobStore is returned when JOB_STORE is not memory or sqlite.
	ErrInvalidJobStore = errors.New("config: JOB_STORE must be memory or sqlite")
	// ErrInvalidConcurrency is returned when MAX_CONCURRENT_RENDERS is below 1.
	ErrInvalidConcurrency = errors.New("config: MAX_CONCURRENT_RENDERS must be at least 1")
	// ErrInvalidTimeout is returned when PIPELINE_TIMEOUT is not positive.
	ErrInvalidTimeout = errors.New("config: PIPELINE_TIMEOUT must be positive")
	// ErrInvalidBitrate is returned when VIDEO_BITRATE_KBPS is not positive.
	ErrInvalidBitrate = errors.New("config: VIDEO_BITRATE_KBPS must be positive")
	// ErrS3RegionRequired is returned when S3_BUCKET is set without S3_REGION.
	ErrS3RegionRequired = errors.New("config: S3_REGION is required when S3_BUCKET is set")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/photo-recap" json:"temp_dir"`

	// Rendering settings
	FFmpegPath           string        `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	DefaultMusicURL      string        `env:"DEFAULT_MUSIC_URL" json:"default_music_url,omitempty"`
	PipelineTimeout      time.Duration `env:"PIPELINE_TIMEOUT, default=5m" json:"pipeline_timeout"`
	VideoBitrateKbps     int           `env:"VIDEO_BITRATE_KBPS, default=5000" json:"video_bitrate_kbps"`
	VideoContainer       string        `env:"VIDEO_CONTAINER, default=webm" json:"video_container"`
	PaceFrames           bool          `env:"PACE_FRAMES, default=false" json:"pace_frames"`
	MaxConcurrentRenders int           `env:"MAX_CONCURRENT_RENDERS, default=2" json:"max_concurrent_renders"`

	// Job settings
	JobStore     string        `env:"JOB_STORE, default=memory" json:"job_store"`
	SQLitePath   string        `env:"SQLITE_PATH, default=/tmp/photo-recap/jobs.db" json:"sqlite_path"`
	JobRetention time.Duration `env:"JOB_RETENTION, default=24h" json:"job_retention"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	return LoadWith(context.Background(), envconfig.OsLookuper())
}

// LoadWith reads configuration from the given lookuper.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for unsupported values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.VideoContainer) {
	case "webm", "mp4":
	default:
		return ErrInvalidContainer
	}
	switch strings.ToLower(c.JobStore) {
	case JobStoreMemory, JobStoreSQLite:
	default:
		return ErrInvalidJobStore
	}
	if c.MaxConcurrentRenders < 1 {
		return ErrInvalidConcurrency
	}
	if c.PipelineTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.VideoBitrateKbps <= 0 {
		return ErrInvalidBitrate
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return ErrS3RegionRequired
	}
	return nil
}

// NewLogger creates a structured logger on stdout based on the configuration.
func (c *Config) NewLogger() *slog.Logger {
	return c.NewLoggerTo(os.Stdout)
}

// NewLoggerTo creates a structured logger writing to w.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLoggerTo(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, FFmpegPath: %s, VideoContainer: %s, VideoBitrateKbps: %d, PipelineTimeout: %s, MaxConcurrentRenders: %d, JobStore: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.FFmpegPath,
		c.VideoContainer,
		c.VideoBitrateKbps,
		c.PipelineTimeout,
		c.MaxConcurrentRenders,
		c.JobStore,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
