// Package config defines all configuration for the trade execution core.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via environment variables (see Load).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun   bool           `mapstructure:"dry_run"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Vault    VaultConfig    `mapstructure:"vault"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// BrokerConfig holds upstream broker endpoints and credentials.
// APIKey/SecretKey authenticate every REST call; the stream URL carries
// the trade_updates WebSocket feed.
type BrokerConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	StreamURL string        `mapstructure:"stream_url"`
	APIKey    string        `mapstructure:"api_key"`
	SecretKey string        `mapstructure:"secret_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
	IBTag     string        `mapstructure:"ib_tag"`
}

// WebhookConfig controls the ingress HTTP server.
//
//   - AuthToken: value the X-API-Token header must match.
//   - RateBurst/RatePerSec: token-bucket throttle per source IP.
type WebhookConfig struct {
	Port       int     `mapstructure:"port"`
	AuthToken  string  `mapstructure:"auth_token"`
	RateBurst  float64 `mapstructure:"rate_burst"`
	RatePerSec float64 `mapstructure:"rate_per_sec"`
}

// RunnerConfig controls the periodic strategy runner and account sweeps.
type RunnerConfig struct {
	ScanInterval  time.Duration `mapstructure:"scan_interval"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	BarLimit      int           `mapstructure:"bar_limit"`
	KellyMode     string        `mapstructure:"kelly_mode"`
}

// RiskConfig seeds the active risk profile on first start. After that the
// ledger copy is authoritative — the gate reads it on every signal.
type RiskConfig struct {
	MaxDailyDrawdownPct float64 `mapstructure:"max_daily_drawdown_pct"`
	MaxTotalDrawdownPct float64 `mapstructure:"max_total_drawdown_pct"`
	MaxPositionSizePct  float64 `mapstructure:"max_position_size_pct"`
	MaxOpenPositions    int     `mapstructure:"max_open_positions"`
	MaxDailyTrades      int     `mapstructure:"max_daily_trades"`
	DailyLossLimit      float64 `mapstructure:"daily_loss_limit"`
}

// LedgerConfig sets where the SQLite ledger lives.
type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

// NotifyConfig holds the Discord webhook URL. Empty disables alerts.
type NotifyConfig struct {
	DiscordWebhookURL string `mapstructure:"discord_webhook_url"`
}

// VaultConfig holds the symmetric key for at-rest credential encryption.
type VaultConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: PROP_BROKER_API_KEY, PROP_BROKER_SECRET_KEY,
// WEBHOOK_AUTH_TOKEN, ENCRYPTION_KEY, DISCORD_WEBHOOK_URL.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("PROP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("broker.timeout", 5*time.Second)
	v.SetDefault("broker.ib_tag", "PFRM_IB")
	v.SetDefault("webhook.port", 8000)
	v.SetDefault("webhook.rate_burst", 10)
	v.SetDefault("webhook.rate_per_sec", 2)
	v.SetDefault("runner.scan_interval", time.Minute)
	v.SetDefault("runner.sweep_interval", 15*time.Minute)
	v.SetDefault("runner.bar_limit", 250)
	v.SetDefault("runner.kelly_mode", "half")
	v.SetDefault("ledger.path", "proptrader.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("PROP_BROKER_API_KEY"); key != "" {
		cfg.Broker.APIKey = key
	}
	if secret := os.Getenv("PROP_BROKER_SECRET_KEY"); secret != "" {
		cfg.Broker.SecretKey = secret
	}
	if token := os.Getenv("WEBHOOK_AUTH_TOKEN"); token != "" {
		cfg.Webhook.AuthToken = token
	}
	if key := os.Getenv("ENCRYPTION_KEY"); key != "" {
		cfg.Vault.EncryptionKey = key
	}
	if url := os.Getenv("DISCORD_WEBHOOK_URL"); url != "" {
		cfg.Notify.DiscordWebhookURL = url
	}
	if os.Getenv("PROP_DRY_RUN") == "true" || os.Getenv("PROP_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Broker.BaseURL == "" {
		return fmt.Errorf("broker.base_url is required")
	}
	if !c.DryRun && c.Broker.APIKey == "" {
		return fmt.Errorf("broker.api_key is required (set PROP_BROKER_API_KEY)")
	}
	if !c.DryRun && c.Broker.SecretKey == "" {
		return fmt.Errorf("broker.secret_key is required (set PROP_BROKER_SECRET_KEY)")
	}
	if c.Webhook.AuthToken == "" {
		return fmt.Errorf("webhook.auth_token is required (set WEBHOOK_AUTH_TOKEN)")
	}
	if c.Webhook.Port <= 0 {
		return fmt.Errorf("webhook.port must be > 0")
	}
	if c.Runner.ScanInterval <= 0 {
		return fmt.Errorf("runner.scan_interval must be > 0")
	}
	switch c.Runner.KellyMode {
	case "full", "half", "quarter":
	default:
		return fmt.Errorf("runner.kelly_mode must be one of: full, half, quarter")
	}
	if c.Risk.MaxOpenPositions <= 0 {
		return fmt.Errorf("risk.max_open_positions must be > 0")
	}
	if c.Risk.MaxDailyTrades <= 0 {
		return fmt.Errorf("risk.max_daily_trades must be > 0")
	}
	return nil
}
