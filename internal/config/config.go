// Package config manages the confsfu daemon configuration using koanf/v2.
//
// Supports YAML files, environment variables, and the defaults baked into
// DefaultConfig.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"golang.org/x/time/rate"
)

// Config holds the complete confsfu configuration.
type Config struct {
	HTTP        HTTPConfig        `koanf:"http"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Log         LogConfig         `koanf:"log"`
	Quality     QualityConfig     `koanf:"quality"`
	Ack         AckConfig         `koanf:"ack"`
	Fingerprint FingerprintConfig `koanf:"fingerprint"`
	Signaling   SignalingConfig   `koanf:"signaling"`
}

// HTTPConfig holds the signaling WebSocket server configuration.
type HTTPConfig struct {
	// Addr is the HTTP listen address (e.g., ":8443").
	Addr string `koanf:"addr"`
	// SignalingPath is the URL path the WebSocket endpoint is served on.
	SignalingPath string `koanf:"signaling_path"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// QualityConfig holds the tier hysteresis thresholds and evaluation cadence
// (spec §4.5). The thresholds are passed to the quality controller.
// EvalInterval is loaded and validated only: the scheduler runs on its own
// fixed scheduler.QualityEvalInterval.
type QualityConfig struct {
	LowThresh      float64       `koanf:"low_thresh"`
	MedThresh      float64       `koanf:"med_thresh"`
	Hysteresis     float64       `koanf:"hysteresis"`
	EvalInterval   time.Duration `koanf:"eval_interval"`
}

// AckConfig holds the ACK/NACK summary window cadence (spec §4.4). It is
// loaded and validated only: the scheduler runs on its own fixed
// scheduler.AckSummaryInterval.
type AckConfig struct {
	SummaryInterval time.Duration `koanf:"summary_interval"`
}

// FingerprintConfig holds the fingerprint TTL and sweep cadence (spec §4.3).
// These values are loaded and validated only: the verifier and scheduler use
// the fixed fingerprint.TTL, fingerprint.RTPTimestampTolerance and
// scheduler.FingerprintSweepInterval.
type FingerprintConfig struct {
	TTL           time.Duration `koanf:"ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
	RTPTolerance  time.Duration `koanf:"rtp_tolerance"`
}

// SignalingConfig holds the WebSocket origin and join-rate policy.
type SignalingConfig struct {
	AllowedOrigin string  `koanf:"allowed_origin"`
	Production    bool    `koanf:"production"`
	JoinRatePerSec float64 `koanf:"join_rate_per_sec"`
	JoinRateBurst int     `koanf:"join_rate_burst"`
}

// JoinRateLimit converts the configured rate into a golang.org/x/time/rate
// Limit.
func (s SignalingConfig) JoinRateLimit() rate.Limit {
	return rate.Limit(s.JoinRatePerSec)
}

// DefaultConfig returns a Config populated with the literal defaults named
// throughout spec §4: 2%/5% hysteresis thresholds, a 2s ack window, a 15s
// fingerprint TTL with a 5s sweep, and a 5s quality re-evaluation cadence.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:          ":8443",
			SignalingPath: "/signal",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Quality: QualityConfig{
			LowThresh:    0.02,
			MedThresh:    0.05,
			Hysteresis:   0.02,
			EvalInterval: 5 * time.Second,
		},
		Ack: AckConfig{
			SummaryInterval: 2 * time.Second,
		},
		Fingerprint: FingerprintConfig{
			TTL:           15 * time.Second,
			SweepInterval: 5 * time.Second,
			RTPTolerance:  50 * time.Millisecond,
		},
		Signaling: SignalingConfig{
			AllowedOrigin:  "",
			Production:     false,
			JoinRatePerSec: 10,
			JoinRateBurst:  20,
		},
	}
}

// envPrefix is the environment variable prefix for confsfu configuration.
// Variables are named CONFSFU_<section>_<key>, e.g. CONFSFU_HTTP_ADDR.
const envPrefix = "CONFSFU_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (CONFSFU_ prefix), and merges on top of DefaultConfig.
// Missing fields inherit defaults. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms CONFSFU_HTTP_ADDR -> http.addr. Only the first
// underscore separates section from key, so CONFSFU_QUALITY_LOW_THRESH maps
// to quality.low_thresh.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

func loadDefaults(k *koanf.Koanf, d *Config) error {
	defaultMap := map[string]any{
		"http.addr":                     d.HTTP.Addr,
		"http.signaling_path":           d.HTTP.SignalingPath,
		"metrics.addr":                  d.Metrics.Addr,
		"metrics.path":                  d.Metrics.Path,
		"log.level":                     d.Log.Level,
		"log.format":                    d.Log.Format,
		"quality.low_thresh":            d.Quality.LowThresh,
		"quality.med_thresh":            d.Quality.MedThresh,
		"quality.hysteresis":            d.Quality.Hysteresis,
		"quality.eval_interval":         d.Quality.EvalInterval.String(),
		"ack.summary_interval":          d.Ack.SummaryInterval.String(),
		"fingerprint.ttl":               d.Fingerprint.TTL.String(),
		"fingerprint.sweep_interval":    d.Fingerprint.SweepInterval.String(),
		"fingerprint.rtp_tolerance":     d.Fingerprint.RTPTolerance.String(),
		"signaling.allowed_origin":      d.Signaling.AllowedOrigin,
		"signaling.production":         d.Signaling.Production,
		"signaling.join_rate_per_sec":   d.Signaling.JoinRatePerSec,
		"signaling.join_rate_burst":     d.Signaling.JoinRateBurst,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

// Validation errors.
var (
	ErrEmptyHTTPAddr      = errors.New("http.addr must not be empty")
	ErrInvalidLowThresh   = errors.New("quality.low_thresh must be > 0")
	ErrInvalidMedThresh   = errors.New("quality.med_thresh must be > quality.low_thresh")
	ErrInvalidEvalInterval = errors.New("quality.eval_interval must be > 0")
	ErrInvalidAckInterval = errors.New("ack.summary_interval must be > 0")
	ErrInvalidTTL         = errors.New("fingerprint.ttl must be > fingerprint.sweep_interval")
)

// Validate checks the configuration for logical errors.
func Validate(cfg *Config) error {
	if cfg.HTTP.Addr == "" {
		return ErrEmptyHTTPAddr
	}
	if cfg.Quality.LowThresh <= 0 {
		return ErrInvalidLowThresh
	}
	if cfg.Quality.MedThresh <= cfg.Quality.LowThresh {
		return ErrInvalidMedThresh
	}
	if cfg.Quality.EvalInterval <= 0 {
		return ErrInvalidEvalInterval
	}
	if cfg.Ack.SummaryInterval <= 0 {
		return ErrInvalidAckInterval
	}
	if cfg.Fingerprint.TTL <= cfg.Fingerprint.SweepInterval {
		return ErrInvalidTTL
	}
	return nil
}

// ParseLogLevel maps the configured string level to a slog.Level, defaulting
// to Info for an unrecognized value.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
