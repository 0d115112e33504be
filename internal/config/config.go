// Package config loads configuration from flags, environment variables and
// an optional config file.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "GALLERY"

// Config holds all gallery server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int

	// Gallery root and record store
	RootDir          string
	StoreBusyTimeout time.Duration

	// Scanning
	IncludeVideos bool
	Exclude       []string

	// Background sync
	SyncInterval  time.Duration
	Watch         bool
	WatchDebounce time.Duration

	// Directory tree cache
	TreeCacheTTL time.Duration

	// Thumbnails
	ThumbnailSize    int
	ThumbnailQuality int
	ThumbnailWorkers int

	// Refresh endpoint throttling
	RefreshRate  float64
	RefreshBurst int
}

// New returns a viper instance carrying defaults and environment bindings.
// Callers may bind command-line flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("listen_addr", ":3002")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", 50)
	v.SetDefault("log_max_backups", 3)
	v.SetDefault("root_dir", "/ComfyUI/output")
	v.SetDefault("store_busy_timeout", 30*time.Second)
	v.SetDefault("include_videos", false)
	v.SetDefault("exclude", []string{})
	v.SetDefault("sync_interval", 60*time.Second)
	v.SetDefault("watch", true)
	v.SetDefault("watch_debounce", 2*time.Second)
	v.SetDefault("tree_cache_ttl", 300*time.Second)
	v.SetDefault("thumbnail_size", 400)
	v.SetDefault("thumbnail_quality", 80)
	v.SetDefault("thumbnail_workers", 2)
	v.SetDefault("refresh_rate", 1.0)
	v.SetDefault("refresh_burst", 3)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// The output directory variable used by ComfyUI deployments.
	_ = v.BindEnv("root_dir", EnvPrefix+"_ROOT_DIR", "COMFYUI_OUTPUT_DIR")

	return v
}

// Load reads the optional config file into v and decodes the result.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		ListenAddr:       v.GetString("listen_addr"),
		MetricsAddr:      v.GetString("metrics_addr"),
		LogLevel:         v.GetString("log_level"),
		LogFormat:        v.GetString("log_format"),
		LogFile:          v.GetString("log_file"),
		LogMaxSizeMB:     v.GetInt("log_max_size_mb"),
		LogMaxBackups:    v.GetInt("log_max_backups"),
		RootDir:          v.GetString("root_dir"),
		StoreBusyTimeout: v.GetDuration("store_busy_timeout"),
		IncludeVideos:    v.GetBool("include_videos"),
		Exclude:          v.GetStringSlice("exclude"),
		SyncInterval:     v.GetDuration("sync_interval"),
		Watch:            v.GetBool("watch"),
		WatchDebounce:    v.GetDuration("watch_debounce"),
		TreeCacheTTL:     v.GetDuration("tree_cache_ttl"),
		ThumbnailSize:    v.GetInt("thumbnail_size"),
		ThumbnailQuality: v.GetInt("thumbnail_quality"),
		ThumbnailWorkers: v.GetInt("thumbnail_workers"),
		RefreshRate:      v.GetFloat64("refresh_rate"),
		RefreshBurst:     v.GetInt("refresh_burst"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve root_dir: %w", err)
	}
	cfg.RootDir = abs

	return cfg, nil
}

func (c *Config) validate() error {
	if c.RootDir == "" {
		return fmt.Errorf("root_dir is required")
	}
	if c.TreeCacheTTL <= 0 {
		return fmt.Errorf("tree_cache_ttl must be positive, got %s", c.TreeCacheTTL)
	}
	if c.StoreBusyTimeout < 0 {
		return fmt.Errorf("store_busy_timeout must not be negative")
	}
	if c.ThumbnailSize <= 0 {
		return fmt.Errorf("thumbnail_size must be positive, got %d", c.ThumbnailSize)
	}
	if c.ThumbnailQuality < 1 || c.ThumbnailQuality > 100 {
		return fmt.Errorf("thumbnail_quality must be within 1-100, got %d", c.ThumbnailQuality)
	}
	if c.RefreshRate <= 0 {
		return fmt.Errorf("refresh_rate must be positive")
	}
	return nil
}
