// Package config provides configuration management for SentinelSOC.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all SentinelSOC configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Redis         RedisConfig         `yaml:"redis"`
	Collector     CollectorConfig     `yaml:"collector"`
	Sources       SourcesConfig       `yaml:"sources"`
	Analysis      AnalysisConfig      `yaml:"analysis"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds the operational HTTP API settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RateLimitPerMinute caps submission requests per client per minute.
	// Zero disables limiting.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

// RedisConfig holds Redis connection settings for the message bus.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	PoolSize    int    `yaml:"pool_size"`
}

// CollectorConfig holds collection scheduler settings.
type CollectorConfig struct {
	// Interval is the sleep between full passes over all connectors. It is
	// also the default collection window for a connector's first cycle.
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
	// FetchRate caps provider fetches per second across connectors.
	FetchRate float64 `yaml:"fetch_rate"`
	// Enabled names the connectors to schedule, in registry order.
	Enabled []string `yaml:"enabled"`
}

// SourcesConfig holds per-source connector settings.
type SourcesConfig struct {
	AWS    AWSConfig    `yaml:"aws"`
	Azure  AzureConfig  `yaml:"azure"`
	GCP    GCPConfig    `yaml:"gcp"`
	Splunk SplunkConfig `yaml:"splunk"`
	Wazuh  WazuhConfig  `yaml:"wazuh"`
}

// AWSConfig holds AWS connector settings.
type AWSConfig struct {
	Regions      []string `yaml:"regions"`
	Services     []string `yaml:"services"`
	AccessKeyEnv string   `yaml:"access_key_env"`
	SecretKeyEnv string   `yaml:"secret_key_env"`
	DetectorID   string   `yaml:"detector_id"`
}

// AzureConfig holds Azure connector settings.
type AzureConfig struct {
	SubscriptionID string `yaml:"subscription_id"`
	TokenEnv       string `yaml:"token_env"`
}

// GCPConfig holds GCP connector settings.
type GCPConfig struct {
	ProjectID      string `yaml:"project_id"`
	OrganizationID string `yaml:"organization_id"`
	TokenEnv       string `yaml:"token_env"`
}

// SplunkConfig holds Splunk connector settings.
type SplunkConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Index       string `yaml:"index"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
	VerifySSL   bool   `yaml:"verify_ssl"`
}

// WazuhConfig holds Wazuh connector settings.
type WazuhConfig struct {
	Host        string `yaml:"host"`
	APIPort     int    `yaml:"api_port"`
	APIKeyEnv   string `yaml:"api_key_env"`
	ClusterName string `yaml:"cluster_name"`
	VerifySSL   bool   `yaml:"verify_ssl"`
}

// AnalysisConfig holds analysis stage settings.
type AnalysisConfig struct {
	// Endpoint is the completion endpoint of the enrichment service.
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
}

// NotificationsConfig holds alert fan-out settings.
type NotificationsConfig struct {
	// Channels names the default delivery channels, attempted in order.
	Channels []string    `yaml:"channels"`
	Slack    SlackConfig `yaml:"slack"`
	Email    EmailConfig `yaml:"email"`
}

// SlackConfig holds Slack webhook settings.
type SlackConfig struct {
	WebhookURLEnv string        `yaml:"webhook_url_env"`
	Timeout       time.Duration `yaml:"timeout"`
}

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Server      string   `yaml:"server"`
	Port        int      `yaml:"port"`
	UsernameEnv string   `yaml:"username_env"`
	PasswordEnv string   `yaml:"password_env"`
	From        string   `yaml:"from"`
	Recipients  []string `yaml:"recipients"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,

			RateLimitPerMinute: 120,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PasswordEnv: "REDIS_PASSWORD",
			DB:          0,
			PoolSize:    10,
		},
		Collector: CollectorConfig{
			Interval:  60 * time.Second,
			BatchSize: 1000,
			FetchRate: 5,
			Enabled:   []string{"splunk", "wazuh"},
		},
		Sources: SourcesConfig{
			AWS: AWSConfig{
				Regions:      []string{"us-east-1"},
				Services:     []string{"cloudtrail", "guardduty", "securityhub"},
				AccessKeyEnv: "AWS_ACCESS_KEY",
				SecretKeyEnv: "AWS_SECRET_KEY",
			},
			Azure: AzureConfig{
				TokenEnv: "AZURE_ACCESS_TOKEN",
			},
			GCP: GCPConfig{
				TokenEnv: "GCP_ACCESS_TOKEN",
			},
			Splunk: SplunkConfig{
				Port:        8089,
				Index:       "main",
				PasswordEnv: "SPLUNK_PASSWORD",
				VerifySSL:   true,
			},
			Wazuh: WazuhConfig{
				APIPort:     55000,
				APIKeyEnv:   "WAZUH_API_KEY",
				ClusterName: "wazuh-cluster",
				VerifySSL:   false,
			},
		},
		Analysis: AnalysisConfig{
			Endpoint:    "http://localhost:8000/v1/completions",
			Model:       "security-analyst",
			APIKeyEnv:   "LLM_API_KEY",
			Timeout:     60 * time.Second,
			MaxTokens:   1024,
			Temperature: 0.2,
		},
		Notifications: NotificationsConfig{
			Channels: []string{"slack", "email"},
			Slack: SlackConfig{
				WebhookURLEnv: "SLACK_WEBHOOK_URL",
				Timeout:       10 * time.Second,
			},
			Email: EmailConfig{
				Server:      "smtp.gmail.com",
				Port:        587,
				UsernameEnv: "SMTP_USERNAME",
				PasswordEnv: "SMTP_PASSWORD",
				From:        "soc@localhost",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
