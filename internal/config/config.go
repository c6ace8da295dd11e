package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Feeds   FeedsConfig   `mapstructure:"feeds"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type StoreConfig struct {
	// Mode selects the object-store backend: "nats" for the platform
	// store, "embedded" for a local standalone database.
	Mode    string `mapstructure:"mode"`
	URL     string `mapstructure:"url"`
	DataDir string `mapstructure:"data_dir"`
}

type AdminConfig struct {
	// Namespace prefixes every published state id, e.g. "admin.0".
	Namespace string `mapstructure:"namespace"`
	// Host is the controller name used for host.<name>.* requests.
	Host string `mapstructure:"host"`
	// DefaultUser is the identity bulk rights corrections converge to.
	DefaultUser string `mapstructure:"default_user"`
	// AutoUpdateHours is the repository refresh interval; 0 disables it.
	AutoUpdateHours int `mapstructure:"auto_update_hours"`

	Auth                 bool     `mapstructure:"auth"`
	AccessLimit          bool     `mapstructure:"access_limit"`
	AccessApplyRights    bool     `mapstructure:"access_apply_rights"`
	AccessAllowedConfigs []string `mapstructure:"access_allowed_configs"`
	AccessAllowedTabs    []string `mapstructure:"access_allowed_tabs"`
}

type FeedsConfig struct {
	NewsHashURL string `mapstructure:"news_hash_url"`
	NewsURL     string `mapstructure:"news_url"`
	RatingURL   string `mapstructure:"rating_url"`
}

type MetricsConfig struct {
	// Addr exposes prometheus metrics when set, e.g. ":9180".
	Addr string `mapstructure:"addr"`
}

func Load() (*Config, error) {
	var cfg Config

	// Set defaults
	viper.SetDefault("store.mode", "nats")
	viper.SetDefault("store.url", "nats://127.0.0.1:4222")
	viper.SetDefault("store.data_dir", "./data")
	viper.SetDefault("admin.namespace", "admin.0")
	viper.SetDefault("admin.host", "local")
	viper.SetDefault("admin.default_user", "admin")
	viper.SetDefault("admin.auto_update_hours", 24)
	viper.SetDefault("feeds.news_hash_url", "https://feeds.homegrid.io/news-hash.json")
	viper.SetDefault("feeds.news_url", "https://feeds.homegrid.io/news.json")
	viper.SetDefault("feeds.rating_url", "https://rating.homegrid.io/rating")

	if err := viper.UnmarshalKey("store", &cfg.Store); err != nil {
		return nil, fmt.Errorf("unable to decode store config: %v", err)
	}
	if err := viper.UnmarshalKey("admin", &cfg.Admin); err != nil {
		return nil, fmt.Errorf("unable to decode admin config: %v", err)
	}
	if err := viper.UnmarshalKey("feeds", &cfg.Feeds); err != nil {
		return nil, fmt.Errorf("unable to decode feeds config: %v", err)
	}
	if err := viper.UnmarshalKey("metrics", &cfg.Metrics); err != nil {
		return nil, fmt.Errorf("unable to decode metrics config: %v", err)
	}

	// Validate required fields
	validModes := []string{"nats", "embedded"}
	isValid := false
	for _, valid := range validModes {
		if cfg.Store.Mode == valid {
			isValid = true
			break
		}
	}
	if !isValid {
		return nil, fmt.Errorf("store.mode must be one of: %s", strings.Join(validModes, ", "))
	}

	if cfg.Store.Mode == "nats" && cfg.Store.URL == "" {
		return nil, fmt.Errorf("store.url is required for nats mode")
	}
	if cfg.Store.Mode == "embedded" && cfg.Store.DataDir == "" {
		return nil, fmt.Errorf("store.data_dir is required for embedded mode")
	}

	if cfg.Admin.Namespace == "" {
		return nil, fmt.Errorf("admin.namespace is required")
	}
	if strings.Contains(cfg.Admin.Namespace, " ") {
		return nil, fmt.Errorf("admin.namespace must not contain spaces")
	}
	if cfg.Admin.AutoUpdateHours < 0 {
		return nil, fmt.Errorf("admin.auto_update_hours must not be negative")
	}

	return &cfg, nil
}
