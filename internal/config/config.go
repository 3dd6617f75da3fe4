package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the collection service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	LogLevel         string

	TelegramToken  string
	SendToChannel  bool
	ChannelID      string
	WebchatEnabled bool

	DatasetDir       string
	LangDir          string
	CounterPath      string
	CounterBase      int64
	SessionStoreDir  string
	LedgerBackend    string
	DatabaseURL      string
	LedgerSQLitePath string
	FFProbePath      string

	ArchiveS3Bucket    string
	ArchiveS3Prefix    string
	ArchiveS3Region    string
	ArchiveS3Endpoint  string
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	SendRetryAttempts int
	SendRetryBase     time.Duration
	SendRetryCap      time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "voxcollect"),
		LogLevel:           envOrDefault("APP_LOG_LEVEL", "info"),
		TelegramToken:      stringsTrimSpace("TOKEN_ID"),
		ChannelID:          stringsTrimSpace("CHANNEL_ID"),
		WebchatEnabled:     true,
		DatasetDir:         envOrDefault("DATASET_DIR", "dataset"),
		LangDir:            envOrDefault("LANG_DIR", "languages"),
		CounterPath:        envOrDefault("VOICE_COUNTER_PATH", "voice_counter.json"),
		CounterBase:        100010,
		SessionStoreDir:    stringsTrimSpace("SESSION_STORE_DIR"),
		LedgerBackend:      strings.ToLower(envOrDefault("LEDGER_BACKEND", "csv")),
		DatabaseURL:        stringsTrimSpace("DATABASE_URL"),
		LedgerSQLitePath:   stringsTrimSpace("LEDGER_SQLITE_PATH"),
		FFProbePath:        envOrDefault("FFPROBE_PATH", "ffprobe"),
		ArchiveS3Bucket:    stringsTrimSpace("ARCHIVE_S3_BUCKET"),
		ArchiveS3Prefix:    stringsTrimSpace("ARCHIVE_S3_PREFIX"),
		ArchiveS3Region:    stringsTrimSpace("ARCHIVE_S3_REGION"),
		ArchiveS3Endpoint:  stringsTrimSpace("ARCHIVE_S3_ENDPOINT"),
		AWSAccessKeyID:     stringsTrimSpace("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: stringsTrimSpace("AWS_SECRET_ACCESS_KEY"),
		ShutdownTimeout:    15 * time.Second,
		SendRetryAttempts:  5,
		SendRetryBase:      500 * time.Millisecond,
		SendRetryCap:       30 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.SendToChannel, err = boolFromEnv("SEND_TO_CHANNEL", cfg.SendToChannel)
	if err != nil {
		return Config{}, err
	}
	cfg.WebchatEnabled, err = boolFromEnv("WEBCHAT_ENABLED", cfg.WebchatEnabled)
	if err != nil {
		return Config{}, err
	}
	base, err := intFromEnv("VOICE_COUNTER_BASE", int(cfg.CounterBase))
	if err != nil {
		return Config{}, err
	}
	cfg.CounterBase = int64(base)

	cfg.SendRetryAttempts, err = intFromEnv("SEND_RETRY_ATTEMPTS", cfg.SendRetryAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.SendRetryBase, err = durationFromEnv("SEND_RETRY_BASE", cfg.SendRetryBase)
	if err != nil {
		return Config{}, err
	}
	cfg.SendRetryCap, err = durationFromEnv("SEND_RETRY_CAP", cfg.SendRetryCap)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.LedgerBackend {
	case "csv", "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("LEDGER_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("LEDGER_BACKEND must be one of csv, postgres, sqlite; got %q", c.LedgerBackend)
	}
	if c.SendToChannel && c.ChannelID == "" {
		return fmt.Errorf("SEND_TO_CHANNEL requires CHANNEL_ID")
	}
	if c.SendRetryAttempts <= 0 {
		return fmt.Errorf("SEND_RETRY_ATTEMPTS must be positive")
	}
	if c.SendRetryBase <= 0 || c.SendRetryCap < c.SendRetryBase {
		return fmt.Errorf("SEND_RETRY_BASE must be positive and not exceed SEND_RETRY_CAP")
	}
	if c.CounterBase < 0 {
		return fmt.Errorf("VOICE_COUNTER_BASE must be >= 0")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns the configured log level; invalid values were rejected
// by Validate.
func (c Config) SlogLevel() slog.Level {
	level, _ := ParseLevel(c.LogLevel)
	return level
}

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(v string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
		return slog.LevelInfo, fmt.Errorf("APP_LOG_LEVEL parse error: %w", err)
	}
	return level, nil
}

// fileConfig is the YAML overlay. Durations are Go duration strings.
type fileConfig struct {
	BindAddr         string `yaml:"bind_addr"`
	ShutdownTimeout  string `yaml:"shutdown_timeout"`
	MetricsNamespace string `yaml:"metrics_namespace"`
	AllowAnyOrigin   *bool  `yaml:"allow_any_origin"`
	LogLevel         string `yaml:"log_level"`

	Telegram struct {
		Token         string `yaml:"token"`
		SendToChannel *bool  `yaml:"send_to_channel"`
		ChannelID     string `yaml:"channel_id"`
	} `yaml:"telegram"`

	Webchat struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"webchat"`

	Storage struct {
		DatasetDir      string `yaml:"dataset_dir"`
		LangDir         string `yaml:"lang_dir"`
		CounterPath     string `yaml:"counter_path"`
		CounterBase     int64  `yaml:"counter_base"`
		SessionStoreDir string `yaml:"session_store_dir"`
		LedgerBackend   string `yaml:"ledger_backend"`
		DatabaseURL     string `yaml:"database_url"`
		SQLitePath      string `yaml:"sqlite_path"`
		FFProbePath     string `yaml:"ffprobe_path"`
	} `yaml:"storage"`

	Archive struct {
		Bucket          string `yaml:"bucket"`
		Prefix          string `yaml:"prefix"`
		Region          string `yaml:"region"`
		Endpoint        string `yaml:"endpoint"`
		AccessKeyID     string `yaml:"access_key_id"`
		SecretAccessKey string `yaml:"secret_access_key"`
	} `yaml:"archive_s3"`

	Retry struct {
		Attempts int    `yaml:"attempts"`
		Base     string `yaml:"base"`
		Cap      string `yaml:"cap"`
	} `yaml:"send_retry"`
}

// LoadFile overlays the YAML document at path onto cfg. Only values present
// and non-zero in the file override cfg; the result is validated again.
func LoadFile(cfg Config, path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return Config{}, fmt.Errorf("%s parse error: %w", path, err)
	}

	setString(&cfg.BindAddr, fc.BindAddr)
	setString(&cfg.MetricsNamespace, fc.MetricsNamespace)
	setString(&cfg.LogLevel, fc.LogLevel)
	setBool(&cfg.AllowAnyOrigin, fc.AllowAnyOrigin)
	setString(&cfg.TelegramToken, fc.Telegram.Token)
	setBool(&cfg.SendToChannel, fc.Telegram.SendToChannel)
	setString(&cfg.ChannelID, fc.Telegram.ChannelID)
	setBool(&cfg.WebchatEnabled, fc.Webchat.Enabled)
	setString(&cfg.DatasetDir, fc.Storage.DatasetDir)
	setString(&cfg.LangDir, fc.Storage.LangDir)
	setString(&cfg.CounterPath, fc.Storage.CounterPath)
	if fc.Storage.CounterBase != 0 {
		cfg.CounterBase = fc.Storage.CounterBase
	}
	setString(&cfg.SessionStoreDir, fc.Storage.SessionStoreDir)
	setString(&cfg.LedgerBackend, strings.ToLower(fc.Storage.LedgerBackend))
	setString(&cfg.DatabaseURL, fc.Storage.DatabaseURL)
	setString(&cfg.LedgerSQLitePath, fc.Storage.SQLitePath)
	setString(&cfg.FFProbePath, fc.Storage.FFProbePath)
	setString(&cfg.ArchiveS3Bucket, fc.Archive.Bucket)
	setString(&cfg.ArchiveS3Prefix, fc.Archive.Prefix)
	setString(&cfg.ArchiveS3Region, fc.Archive.Region)
	setString(&cfg.ArchiveS3Endpoint, fc.Archive.Endpoint)
	setString(&cfg.AWSAccessKeyID, fc.Archive.AccessKeyID)
	setString(&cfg.AWSSecretAccessKey, fc.Archive.SecretAccessKey)
	if fc.Retry.Attempts != 0 {
		cfg.SendRetryAttempts = fc.Retry.Attempts
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"shutdown_timeout", fc.ShutdownTimeout, &cfg.ShutdownTimeout},
		{"send_retry.base", fc.Retry.Base, &cfg.SendRetryBase},
		{"send_retry.cap", fc.Retry.Cap, &cfg.SendRetryCap},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("%s parse error: %w", d.key, err)
		}
		*d.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
