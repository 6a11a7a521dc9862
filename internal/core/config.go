// Package core contains the sync engine: the optimistic update controller,
// the push-then-pull sync orchestrator, the labeling status poller, and
// configuration loading.
package core

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"tasksync/pkg/models"
)

// ConfigurationManager loads the engine configuration from the base path.
type ConfigurationManager interface {
	Load() (*models.Config, error)
}

// viperConfigManager implements ConfigurationManager using Viper for
// reading the .tasksyncrc YAML file.
type viperConfigManager struct {
	basePath string
}

// NewConfigurationManager creates a ConfigurationManager that reads
// .tasksyncrc relative to basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// DefaultConfig returns a Config populated with the engine's fixed
// defaults: 30 minute cache freshness, 3 second poll interval, retry
// ceiling of 5.
func DefaultConfig() *models.Config {
	return &models.Config{
		APIBaseURL:     "http://localhost:8000/api/v1",
		StorageBackend: "file",
		CacheTTL:       30 * time.Minute,
		PollInterval:   3 * time.Second,
		RetryCeiling:   5,
		ProbeAddr:      "8.8.8.8:53",
	}
}

// Load reads .tasksyncrc from the base path. A missing file yields the
// defaults; a malformed one is an error.
func (cm *viperConfigManager) Load() (*models.Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName(".tasksyncrc")
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)

	v.SetDefault("api.base_url", cfg.APIBaseURL)
	v.SetDefault("api.token", cfg.APIToken)
	v.SetDefault("storage.backend", cfg.StorageBackend)
	v.SetDefault("cache.ttl", cfg.CacheTTL)
	v.SetDefault("poll.interval", cfg.PollInterval)
	v.SetDefault("queue.retry_ceiling", cfg.RetryCeiling)
	v.SetDefault("connectivity.probe_addr", cfg.ProbeAddr)
	v.SetDefault("notify.slack_webhook_url", cfg.SlackWebhookURL)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading .tasksyncrc: %w", err)
	}

	cfg.APIBaseURL = v.GetString("api.base_url")
	cfg.APIToken = v.GetString("api.token")
	cfg.StorageBackend = v.GetString("storage.backend")
	cfg.CacheTTL = v.GetDuration("cache.ttl")
	cfg.PollInterval = v.GetDuration("poll.interval")
	cfg.RetryCeiling = v.GetInt("queue.retry_ceiling")
	cfg.ProbeAddr = v.GetString("connectivity.probe_addr")
	cfg.SlackWebhookURL = v.GetString("notify.slack_webhook_url")

	if cfg.StorageBackend != "file" && cfg.StorageBackend != "sqlite" {
		return nil, fmt.Errorf("reading .tasksyncrc: unknown storage backend %q", cfg.StorageBackend)
	}
	if cfg.CacheTTL <= 0 {
		return nil, fmt.Errorf("reading .tasksyncrc: cache.ttl must be positive")
	}
	if cfg.RetryCeiling < 1 {
		return nil, fmt.Errorf("reading .tasksyncrc: queue.retry_ceiling must be at least 1")
	}

	return cfg, nil
}
