// Package config loads and watches the application's configuration from
// environment variables, an optional config file, and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// AppConfig holds every tunable the backend needs at runtime.
type AppConfig struct {
	// --- Core settings ---
	DatabaseURL string `mapstructure:"database_url"`
	BindTo      string `mapstructure:"bind_to"`
	JWTSecret   string `mapstructure:"jwt_secret"`

	// --- Streaming transport ---
	StreamBindAddr       string        `mapstructure:"stream_bind_addr"`
	BusBufferSize        int           `mapstructure:"bus_buffer_size"`
	RightRecheckInterval time.Duration `mapstructure:"right_recheck_interval"`

	// --- Database ---
	MigrationsPath string `mapstructure:"migrations_path"`

	// --- Snapshot archiver (optional) ---
	S3Endpoint       string        `mapstructure:"s3_endpoint"`
	S3Region         string        `mapstructure:"s3_region"`
	S3AccessKey      string        `mapstructure:"s3_access_key"`
	S3SecretKey      string        `mapstructure:"s3_secret_key"`
	S3Bucket         string        `mapstructure:"s3_bucket_name"`
	ArchiveInterval  time.Duration `mapstructure:"archive_interval"`

	// --- Moderation notifier (optional) ---
	TelegramBotToken string `mapstructure:"telegram_bot_token"`
	TelegramChatID   string `mapstructure:"telegram_chat_id"`

	// --- Lifecycle ---
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Load reads configuration from (in increasing priority) defaults, an
// optional config.yaml, and environment variables, then arranges for
// config.yaml changes to be re-read live. Flags are declared and bound, but
// no command-line arguments are parsed (see nilSafeArgs), so flags never
// override the other sources. Grounded on the
// viper+pflag+fsnotify wiring used for this purpose elsewhere in the pack;
// it replaces a hand-rolled os.Getenv layer with the ecosystem's usual way
// of doing this.
func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetDefault("bind_to", ":8090")
	v.SetDefault("stream_bind_addr", "127.0.0.1:8001")
	v.SetDefault("migrations_path", "migrations")
	v.SetDefault("bus_buffer_size", 256)
	v.SetDefault("right_recheck_interval", time.Minute)
	v.SetDefault("archive_interval", 6*time.Hour)
	v.SetDefault("shutdown_timeout", 10*time.Second)

	flags := pflag.NewFlagSet("canvashub", pflag.ContinueOnError)
	flags.String("bind-to", "", "control-plane HTTP listener address")
	flags.String("stream-bind-addr", "", "streaming WebSocket listener address")
	flags.String("migrations-path", "", "path to SQL migration files")
	if err := flags.Parse(nilSafeArgs()); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}
	_ = v.BindPFlag("bind_to", flags.Lookup("bind-to"))
	_ = v.BindPFlag("stream_bind_addr", flags.Lookup("stream-bind-addr"))
	_ = v.BindPFlag("migrations_path", flags.Lookup("migrations-path"))

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"database_url", "bind_to", "jwt_secret", "stream_bind_addr",
		"bus_buffer_size", "right_recheck_interval", "migrations_path",
		"s3_endpoint", "s3_region", "s3_access_key", "s3_secret_key",
		"s3_bucket_name", "archive_interval", "telegram_bot_token",
		"telegram_chat_id", "shutdown_timeout",
	} {
		_ = v.BindEnv(key)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/canvashub/")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("fatal error reading config file: %w", err)
		}
	}

	store := &configStore{}
	if err := store.reload(v); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		_ = store.reload(v)
	})
	v.WatchConfig()

	cfg := store.snapshot()
	if err := validateCritical(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configStore guards a live-reloadable AppConfig. main() only ever reads a
// snapshot at startup; the store exists so future long-lived consumers of
// config (none yet) can observe reloads safely.
type configStore struct {
	mu  sync.RWMutex
	cfg AppConfig
}

func (s *configStore) reload(v *viper.Viper) error {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("configuration could not be decoded: %w", err)
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

func (s *configStore) snapshot() *AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.cfg
	return &cfg
}

func validateCritical(cfg *AppConfig) error {
	missing := make([]string, 0, 2)
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing critical environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// nilSafeArgs returns an empty argument slice; flags are optional overrides
// here and parsing os.Args directly would make every test binary's own
// flags collide with ours, so callers that want CLI overrides pass them via
// config.yaml or env instead. Kept as a seam for a future cmd that wants to
// forward os.Args[1:].
func nilSafeArgs() []string {
	return nil
}
