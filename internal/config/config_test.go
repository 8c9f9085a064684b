package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("QUESTLINE_JWT_SECRET", "s3cret")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != "127.0.0.1:8080" || cfg.BasePath != "/v0" || cfg.Webhooks.Interval != 2*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.env")
	body := "QUESTLINE_CAMPAIGN_DIR=/srv/campaigns\nQUESTLINE_WEBHOOK_URLS=http://a.example/hook,https://b.example/hook\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("QUESTLINE_CAMPAIGN_DIR", "")
	os.Unsetenv("QUESTLINE_CAMPAIGN_DIR")
	t.Setenv("QUESTLINE_WEBHOOK_URLS", "")
	os.Unsetenv("QUESTLINE_WEBHOOK_URLS")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CampaignDir != "/srv/campaigns" {
		t.Fatalf("campaign dir = %q", cfg.CampaignDir)
	}
	if len(cfg.Webhooks.URLs) != 2 {
		t.Fatalf("webhook urls = %v", cfg.Webhooks.URLs)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Addr:        ":8080",
			BasePath:    "/v0",
			CampaignDir: "campaigns",
			JWTSecret:   "x",
			Webhooks:    WebhookConfig{Interval: time.Second, Timeout: time.Second},
		}
	}
	cases := map[string]func(*Config){
		"no auth":       func(c *Config) { c.JWTSecret = "" },
		"base path":     func(c *Config) { c.BasePath = "v0" },
		"webhook url":   func(c *Config) { c.Webhooks.URLs = []string{"ftp://x"} },
		"dev login":     func(c *Config) { c.JWTSecret = ""; c.AllowPlayerHeader = true; c.DevLogin = true },
		"zero interval": func(c *Config) { c.Webhooks.Interval = 0 },
		"log level":     func(c *Config) { c.LogLevel = "loud" },
		"log format":    func(c *Config) { c.LogFormat = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	c := base()
	if err := c.Validate(); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}
	c.LogLevel, c.LogFormat = "debug", "JSON"
	if err := c.Validate(); err != nil {
		t.Fatalf("debug/json logging rejected: %v", err)
	}
}
