package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds the server settings, read from QUESTLINE_* environment
// variables.
type Config struct {
	Addr        string `env:"QUESTLINE_ADDR" envDefault:"127.0.0.1:8080"`
	BasePath    string `env:"QUESTLINE_BASE_PATH" envDefault:"/v0"`
	Workspace   string `env:"QUESTLINE_WORKSPACE" envDefault:"."`
	CampaignDir string `env:"QUESTLINE_CAMPAIGN_DIR" envDefault:"campaigns"`

	JWTSecret         string `env:"QUESTLINE_JWT_SECRET"`
	AllowPlayerHeader bool   `env:"QUESTLINE_ALLOW_PLAYER_HEADER" envDefault:"false"`
	DevLogin          bool   `env:"QUESTLINE_DEV_LOGIN" envDefault:"false"`

	LogLevel  string `env:"QUESTLINE_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"QUESTLINE_LOG_FORMAT" envDefault:"text"`

	RedisAddr     string `env:"QUESTLINE_REDIS_ADDR"`
	RedisPassword string `env:"QUESTLINE_REDIS_PASSWORD"`

	Webhooks WebhookConfig
}

type WebhookConfig struct {
	URLs     []string      `env:"QUESTLINE_WEBHOOK_URLS" envSeparator:","`
	Secret   string        `env:"QUESTLINE_WEBHOOK_SECRET"`
	Events   []string      `env:"QUESTLINE_WEBHOOK_EVENTS" envSeparator:","`
	Interval time.Duration `env:"QUESTLINE_WEBHOOK_INTERVAL" envDefault:"2s"`
	Timeout  time.Duration `env:"QUESTLINE_WEBHOOK_TIMEOUT" envDefault:"5s"`
}

// Load reads the optional .env files (".env" when none are named) and then
// parses the environment. Variables already set win over the files.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		logrus.Debugf("no .env file loaded: %v", err)
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config from environment: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("QUESTLINE_ADDR is required")
	}
	if c.BasePath != "" && !strings.HasPrefix(c.BasePath, "/") {
		return fmt.Errorf("QUESTLINE_BASE_PATH must start with /")
	}
	if strings.TrimSpace(c.CampaignDir) == "" {
		return fmt.Errorf("QUESTLINE_CAMPAIGN_DIR is required")
	}
	if c.JWTSecret == "" && !c.AllowPlayerHeader {
		return fmt.Errorf("set QUESTLINE_JWT_SECRET or QUESTLINE_ALLOW_PLAYER_HEADER=true")
	}
	if c.DevLogin && c.JWTSecret == "" {
		return fmt.Errorf("QUESTLINE_DEV_LOGIN requires QUESTLINE_JWT_SECRET")
	}
	if lvl := strings.TrimSpace(c.LogLevel); lvl != "" {
		if _, err := logrus.ParseLevel(lvl); err != nil {
			return fmt.Errorf("QUESTLINE_LOG_LEVEL: %w", err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "text", "json":
	default:
		return fmt.Errorf("QUESTLINE_LOG_FORMAT %q: want text or json", c.LogFormat)
	}
	for _, raw := range c.Webhooks.URLs {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid webhook url %q", raw)
		}
	}
	if c.Webhooks.Interval <= 0 || c.Webhooks.Timeout <= 0 {
		return fmt.Errorf("webhook interval and timeout must be positive")
	}
	return nil
}
