package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the deliverability verification worker.
type Config struct {
	Deliverability DeliverabilityConfig `yaml:"deliverability"`
}

// DeliverabilityConfig holds settings for the SMTP deliverability
// verification pipeline (queue, controller, anti-greylisting, recovery).
type DeliverabilityConfig struct {
	Enabled             bool   `yaml:"enabled"`
	WorkerCount         int    `yaml:"worker_count"`
	SMTPConnectTimeoutS int    `yaml:"smtp_connect_timeout_seconds"`
	SMTPRCPTTimeoutS    int    `yaml:"smtp_rcpt_timeout_seconds"`
	GreylistBackoffS    int    `yaml:"greylist_backoff_seconds"`
	GreylistMaxRetries  int    `yaml:"greylist_max_retries"`
	WebhookMaxAttempts  int    `yaml:"webhook_max_attempts"`
	ZombieTTLDays       int    `yaml:"zombie_ttl_days"`
	AckTimeoutS         int    `yaml:"ack_timeout_seconds"`
	PingFreqS           int    `yaml:"ping_freq_seconds"`
	EHLOHostname        string `yaml:"ehlo_hostname"`
	MailFromAddress     string `yaml:"mail_from_address"`
}

// SMTPConnectTimeout returns the SMTP connect timeout as a duration.
func (c DeliverabilityConfig) SMTPConnectTimeout() time.Duration {
	return time.Duration(c.SMTPConnectTimeoutS) * time.Second
}

// SMTPRCPTTimeout returns the per-RCPT SMTP timeout as a duration.
func (c DeliverabilityConfig) SMTPRCPTTimeout() time.Duration {
	return time.Duration(c.SMTPRCPTTimeoutS) * time.Second
}

// GreylistBackoff returns the anti-greylisting retry backoff as a duration.
func (c DeliverabilityConfig) GreylistBackoff() time.Duration {
	return time.Duration(c.GreylistBackoffS) * time.Second
}

// ZombieTTL returns the startup-recovery zombie expiry age as a duration.
func (c DeliverabilityConfig) ZombieTTL() time.Duration {
	return time.Duration(c.ZombieTTLDays) * 24 * time.Hour
}

// AckTimeout returns the worker assignment ACK timeout as a duration.
func (c DeliverabilityConfig) AckTimeout() time.Duration {
	return time.Duration(c.AckTimeoutS) * time.Second
}

// PingFreq returns the worker progress ping frequency as a duration.
func (c DeliverabilityConfig) PingFreq() time.Duration {
	return time.Duration(c.PingFreqS) * time.Second
}

// Load reads and parses the configuration file, filling in defaults for
// anything the file (or an absent file) leaves zero-valued.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	if !cfg.Deliverability.Enabled && os.Getenv("DELIVERABILITY_DISABLED") == "" {
		cfg.Deliverability.Enabled = true
	}
	if cfg.Deliverability.WorkerCount == 0 {
		cfg.Deliverability.WorkerCount = 8
	}
	if cfg.Deliverability.SMTPConnectTimeoutS == 0 {
		cfg.Deliverability.SMTPConnectTimeoutS = 30
	}
	if cfg.Deliverability.SMTPRCPTTimeoutS == 0 {
		cfg.Deliverability.SMTPRCPTTimeoutS = 60
	}
	if cfg.Deliverability.GreylistBackoffS == 0 {
		cfg.Deliverability.GreylistBackoffS = 60
	}
	if cfg.Deliverability.GreylistMaxRetries == 0 {
		cfg.Deliverability.GreylistMaxRetries = 5
	}
	if cfg.Deliverability.WebhookMaxAttempts == 0 {
		cfg.Deliverability.WebhookMaxAttempts = 5
	}
	if cfg.Deliverability.ZombieTTLDays == 0 {
		cfg.Deliverability.ZombieTTLDays = 7
	}
	if cfg.Deliverability.AckTimeoutS == 0 {
		cfg.Deliverability.AckTimeoutS = 30
	}
	if cfg.Deliverability.PingFreqS == 0 {
		cfg.Deliverability.PingFreqS = 5
	}
	if cfg.Deliverability.EHLOHostname == "" {
		cfg.Deliverability.EHLOHostname = "verify.ignitemediagroup.com"
	}
	if cfg.Deliverability.MailFromAddress == "" {
		cfg.Deliverability.MailFromAddress = "probe@ignitemediagroup.com"
	}

	return &cfg, nil
}

// LoadFromEnv loads a .env file (if present) into the process environment
// and then calls Load. The only environment variable Load consults is
// DELIVERABILITY_DISABLED; no other setting is read from the environment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()
	return Load(path)
}
