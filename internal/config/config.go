// Package config provides configuration management for the activation service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// DefaultConfigFile is the config file looked up when no path is given.
const DefaultConfigFile = "activator.yml"

// Config holds the service configuration.
type Config struct {
	Environment Environment   `yaml:"environment"`
	LogLevel    string        `yaml:"log_level"`
	DataDir     string        `yaml:"data_dir"`
	LicenseFile string        `yaml:"license_file"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`

	HTTP    HTTPConfig    `yaml:"http"`
	Expiry  ExpiryConfig  `yaml:"expiry"`
	Webhook WebhookConfig `yaml:"webhook"`
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Handoff HandoffConfig `yaml:"handoff"`
	Proxy   ProxyConfig   `yaml:"proxy"`
}

// HTTPConfig configures the ingress server.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// IngressSecret, when set, must be presented as a bearer token on ingress routes.
	IngressSecret   string        `yaml:"ingress_secret,omitempty"`
	RateLimit       string        `yaml:"rate_limit"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ExpiryConfig configures the expiration scanner.
type ExpiryConfig struct {
	Interval      time.Duration `yaml:"interval"`
	FirstRunDelay time.Duration `yaml:"first_run_delay"`
	WindowDays    int           `yaml:"window_days"`
	RenewContact  string        `yaml:"renew_contact,omitempty"`
}

// WebhookConfig configures the transport webhook.
type WebhookConfig struct {
	URL          string        `yaml:"url,omitempty"`
	Secret       string        `yaml:"secret,omitempty"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RequireHTTPS bool          `yaml:"require_https"`
	BlockPrivate bool          `yaml:"block_private"`
}

// SlackConfig configures the optional operator alert channel.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url,omitempty"`
	Channel    string `yaml:"channel,omitempty"`
}

// DiscordConfig configures the optional Discord operator channel.
type DiscordConfig struct {
	WebhookURL string `yaml:"webhook_url,omitempty"`
	Username   string `yaml:"username,omitempty"`
}

// ProxyConfig routes outbound notification traffic through a proxy.
type ProxyConfig struct {
	HTTPProxy   string `yaml:"http_proxy,omitempty"`
	HTTPSProxy  string `yaml:"https_proxy,omitempty"`
	NoProxy     string `yaml:"no_proxy,omitempty"`
	SOCKS5Proxy string `yaml:"socks5_proxy,omitempty"`
}

// HasProxy reports whether any proxy is configured.
func (p ProxyConfig) HasProxy() bool {
	return p.HTTPProxy != "" || p.HTTPSProxy != "" || p.SOCKS5Proxy != ""
}

// HandoffConfig configures redelivery of stored operator handoffs.
type HandoffConfig struct {
	RedeliverInterval time.Duration `yaml:"redeliver_interval"`
	PruneAge          time.Duration `yaml:"prune_age"`
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	return &Config{
		Environment: EnvDevelopment,
		LogLevel:    "info",
		DataDir:     "data",
		LicenseFile: filepath.Join("data", "licenses.json"),
		CacheTTL:    60 * time.Second,
		HTTP: HTTPConfig{
			Addr:            ":8080",
			RateLimit:       "100-M",
			ShutdownTimeout: 30 * time.Second,
		},
		Expiry: ExpiryConfig{
			Interval:      24 * time.Hour,
			FirstRunDelay: 10 * time.Second,
			WindowDays:    7,
		},
		Webhook: WebhookConfig{
			Timeout:     30 * time.Second,
			MaxAttempts: 3,
		},
		Handoff: HandoffConfig{
			RedeliverInterval: time.Minute,
			PruneAge:          30 * 24 * time.Hour,
		},
	}
}

// Load reads the configuration from path, applies environment overrides and
// validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides file values with ACTIVATOR_* environment variables.
func (c *Config) applyEnv() {
	c.Environment = Environment(getEnv("ENV", string(c.Environment)))
	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		c.Environment = EnvDevelopment
	}

	c.LogLevel = getEnv("ACTIVATOR_LOG_LEVEL", c.LogLevel)
	c.DataDir = getEnv("ACTIVATOR_DATA_DIR", c.DataDir)
	c.LicenseFile = getEnv("ACTIVATOR_LICENSE_FILE", c.LicenseFile)
	c.CacheTTL = getEnvDuration("ACTIVATOR_CACHE_TTL", c.CacheTTL)

	c.HTTP.Addr = getEnv("ACTIVATOR_HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.IngressSecret = getEnv("ACTIVATOR_INGRESS_SECRET", c.HTTP.IngressSecret)
	c.HTTP.RateLimit = getEnv("ACTIVATOR_RATE_LIMIT", c.HTTP.RateLimit)

	c.Expiry.Interval = getEnvDuration("ACTIVATOR_SCAN_INTERVAL", c.Expiry.Interval)
	c.Expiry.WindowDays = getEnvInt("ACTIVATOR_REMINDER_WINDOW_DAYS", c.Expiry.WindowDays)
	c.Expiry.RenewContact = getEnv("ACTIVATOR_RENEW_CONTACT", c.Expiry.RenewContact)

	c.Webhook.URL = getEnv("ACTIVATOR_WEBHOOK_URL", c.Webhook.URL)
	c.Webhook.Secret = getEnv("ACTIVATOR_WEBHOOK_SECRET", c.Webhook.Secret)
	c.Webhook.RequireHTTPS = getEnvBool("ACTIVATOR_WEBHOOK_REQUIRE_HTTPS", c.Webhook.RequireHTTPS)
	c.Webhook.BlockPrivate = getEnvBool("ACTIVATOR_WEBHOOK_BLOCK_PRIVATE", c.Webhook.BlockPrivate)

	c.Slack.WebhookURL = getEnv("ACTIVATOR_SLACK_WEBHOOK_URL", c.Slack.WebhookURL)
	c.Discord.WebhookURL = getEnv("ACTIVATOR_DISCORD_WEBHOOK_URL", c.Discord.WebhookURL)
	c.Proxy.HTTPProxy = getEnv("ACTIVATOR_HTTP_PROXY", c.Proxy.HTTPProxy)
	c.Proxy.HTTPSProxy = getEnv("ACTIVATOR_HTTPS_PROXY", c.Proxy.HTTPSProxy)
	c.Proxy.NoProxy = getEnv("ACTIVATOR_NO_PROXY", c.Proxy.NoProxy)
	c.Proxy.SOCKS5Proxy = getEnv("ACTIVATOR_SOCKS5_PROXY", c.Proxy.SOCKS5Proxy)
}

// Validate checks that the configuration can run the service.
func (c *Config) Validate() error {
	var errs []error
	if c.LicenseFile == "" {
		errs = append(errs, errors.New("license_file is required"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("cache_ttl must be positive"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Expiry.Interval <= 0 {
		errs = append(errs, errors.New("expiry.interval must be positive"))
	}
	if c.Expiry.FirstRunDelay < 0 {
		errs = append(errs, errors.New("expiry.first_run_delay must not be negative"))
	}
	if c.Expiry.WindowDays < 1 {
		errs = append(errs, errors.New("expiry.window_days must be at least 1"))
	}
	if c.Webhook.MaxAttempts < 1 {
		errs = append(errs, errors.New("webhook.max_attempts must be at least 1"))
	}
	for name, raw := range map[string]string{
		"proxy.http_proxy":   c.Proxy.HTTPProxy,
		"proxy.https_proxy":  c.Proxy.HTTPSProxy,
		"proxy.socks5_proxy": c.Proxy.SOCKS5Proxy,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL", name))
		}
	}
	if c.Environment == EnvProduction {
		if c.Webhook.URL != "" && c.Webhook.Secret == "" {
			errs = append(errs, errors.New("webhook.secret is required in production"))
		}
		if c.HTTP.IngressSecret == "" {
			errs = append(errs, errors.New("http.ingress_secret is required in production"))
		}
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Save writes the configuration to path, creating directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// Secrets live in this file.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

// getEnvBool reads a boolean from an environment variable, returning the default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
