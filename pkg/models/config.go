package models

import "time"

// Config holds the engine configuration loaded from .tasksyncrc.
type Config struct {
	// APIBaseURL is the root of the remote task API, e.g. http://localhost:8000/api/v1.
	APIBaseURL string `yaml:"api_base_url"`
	// APIToken is the bearer token sent with every remote call. Token
	// acquisition happens outside this tool.
	APIToken string `yaml:"api_token"`
	// StorageBackend selects the key-value store implementation: "file" or "sqlite".
	StorageBackend string `yaml:"storage_backend"`
	// CacheTTL is how long a cache snapshot counts as fresh.
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// PollInterval is the delay between labeling status polls.
	PollInterval time.Duration `yaml:"poll_interval"`
	// RetryCeiling is the number of retries before a queued operation is
	// dropped and surfaced as a permanent failure.
	RetryCeiling int `yaml:"retry_ceiling"`
	// ProbeAddr is the TCP address dialed to detect connectivity.
	ProbeAddr string `yaml:"probe_addr"`
	// SlackWebhookURL, when set, receives permanent-failure notifications.
	SlackWebhookURL string `yaml:"slack_webhook_url"`
}
