package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/tveebot/tracker/pkg/db"
)

// Config holds all application configuration
type Config struct {
	// Database paths
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`
	// QueuePath is the bbolt file backing the handoff queue. When empty the
	// queue lives in memory.
	QueuePath string `mapstructure:"queue-path"`
	LockPath  string `mapstructure:"lock-path"`

	// Tracking
	TrackPeriod time.Duration `mapstructure:"track-period"`
	ShowRSSURL  string        `mapstructure:"showrss-url"`
	HTTPTimeout time.Duration `mapstructure:"http-timeout"`

	// Handoff queue. A push waits for room while holding the SQLite write
	// lock, so QueueTimeout must stay below db.BusyTimeout or other writers
	// fail with SQLITE_BUSY.
	QueueCapacity int           `mapstructure:"queue-capacity"`
	QueueTimeout  time.Duration `mapstructure:"queue-timeout"`

	// Downloads
	DownloadDir     string `mapstructure:"download-dir"`
	DownloadWorkers int    `mapstructure:"download-workers"`
	S3Region        string `mapstructure:"s3-region"`
	S3Endpoint      string `mapstructure:"s3-endpoint"`

	// Security limits
	MaxFileSize  int64 `mapstructure:"max-file-size"`
	MaxTotalSize int64 `mapstructure:"max-total-size"`

	// FSM configuration
	FSMMaxRetries int `mapstructure:"fsm-max-retries"`

	// Admin API; empty disables it.
	ListenAddr string `mapstructure:"listen-addr"`

	// Logging
	LogFormat string `mapstructure:"log-format"`
	LogLevel  string `mapstructure:"log-level"`
}

func setDefaults() {
	viper.SetDefault("sqlite-path", ".tveebot/tracker.db")
	viper.SetDefault("fsm-db-path", ".tveebot/fsm")
	viper.SetDefault("queue-path", ".tveebot/queue.db")
	viper.SetDefault("lock-path", ".tveebot/tracker.lock")
	viper.SetDefault("track-period", 15*time.Minute)
	viper.SetDefault("showrss-url", "https://showrss.info/show")
	viper.SetDefault("http-timeout", 30*time.Second)
	viper.SetDefault("queue-capacity", 256)
	viper.SetDefault("queue-timeout", time.Second)
	viper.SetDefault("download-dir", "downloads")
	viper.SetDefault("download-workers", 2)
	viper.SetDefault("s3-region", "us-east-1")
	viper.SetDefault("s3-endpoint", "")
	viper.SetDefault("max-file-size", 8*1024*1024*1024)
	viper.SetDefault("max-total-size", 200*1024*1024*1024)
	viper.SetDefault("fsm-max-retries", 5)
	viper.SetDefault("listen-addr", "127.0.0.1:8420")
	viper.SetDefault("log-format", "auto")
	viper.SetDefault("log-level", "info")
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	setDefaults()

	// Environment variables (will be TVEEBOT_SQLITE_PATH, etc.)
	viper.SetEnvPrefix("TVEEBOT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	if file := viper.GetString("config"); file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.tveebot")

		// Read config file (ignore if not found)
		_ = viper.ReadInConfig()
	}

	return current()
}

func current() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if c.LockPath == "" {
		return fmt.Errorf("lock-path cannot be empty")
	}
	if c.DownloadDir == "" {
		return fmt.Errorf("download-dir cannot be empty")
	}
	if c.TrackPeriod <= 0 {
		return fmt.Errorf("track-period must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http-timeout must be positive")
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue-capacity must be positive")
	}
	if c.QueueTimeout < 0 {
		return fmt.Errorf("queue-timeout must be non-negative")
	}
	if c.QueueTimeout >= db.BusyTimeout {
		return fmt.Errorf("queue-timeout must be shorter than the database busy timeout (%s)", db.BusyTimeout)
	}
	if c.DownloadWorkers <= 0 {
		return fmt.Errorf("download-workers must be positive")
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max-file-size must be positive")
	}
	if c.MaxTotalSize <= 0 {
		return fmt.Errorf("max-total-size must be positive")
	}
	if c.FSMMaxRetries < 0 {
		return fmt.Errorf("fsm-max-retries must be non-negative")
	}
	switch c.LogFormat {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("log-format must be one of auto, text, json")
	}
	return nil
}

// Watch calls fn with the reloaded configuration every time the config file
// changes. It reports false when no config file is in use.
func Watch(logger *slog.Logger, fn func(*Config)) bool {
	file := viper.ConfigFileUsed()
	if file == "" {
		return false
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("config_changed", "file", e.Name, "op", e.Op.String())

		cfg, err := current()
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			logger.Error("config_reload_failed", "file", e.Name, "error", err)
			return
		}
		fn(cfg)
	})
	viper.WatchConfig()

	logger.Info("config_watching", "file", file)
	return true
}
