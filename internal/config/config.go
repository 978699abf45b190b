package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.App.LogLevel) == "" {
		c.App.LogLevel = "info"
	}
	if strings.TrimSpace(c.App.StatePath) == "" {
		c.App.StatePath = "data/watched_orders.json"
	}
	if c.Exchange.HTTPTimeoutSeconds <= 0 {
		c.Exchange.HTTPTimeoutSeconds = 15
	}
	if c.Watch.PollIntervalSeconds <= 0 {
		c.Watch.PollIntervalSeconds = 30
	}
	if c.Watch.ReconcileEvery <= 0 {
		c.Watch.ReconcileEvery = 120
	}
	if c.Watch.Leverage <= 0 {
		c.Watch.Leverage = 1
	}
	if c.Watch.ExpiryWarningMinutes <= 0 {
		c.Watch.ExpiryWarningMinutes = 15
	}
	if c.Watch.TrailingTriggerRatio <= 0 {
		c.Watch.TrailingTriggerRatio = 0.8
	}
	if c.Watch.TrailingCloseRatio <= 0 {
		c.Watch.TrailingCloseRatio = 0.8
	}
	if c.Watch.TrailingStopRatio <= 0 {
		c.Watch.TrailingStopRatio = 0.5
	}
	if c.Watch.RecoveryStopPct <= 0 {
		c.Watch.RecoveryStopPct = 0.03
	}
	if c.Watch.RecoveryTakePct <= 0 {
		c.Watch.RecoveryTakePct = 0.05
	}
	if strings.TrimSpace(c.Control.HTTPAddr) == "" {
		c.Control.HTTPAddr = "127.0.0.1:8787"
	}
	if strings.TrimSpace(c.Control.RequestPath) == "" {
		c.Control.RequestPath = "data/control_requests.json"
	}
	if strings.TrimSpace(c.Control.ResponsePath) == "" {
		c.Control.ResponsePath = "data/control_response.json"
	}
	if strings.TrimSpace(c.Audit.DBPath) == "" {
		c.Audit.DBPath = "data/sync_audit.db"
	}
}

func validate(c *Config) error {
	if c.Watch.TrailingTriggerRatio >= 1 {
		return fmt.Errorf("watch.trailing_trigger_ratio must be < 1, got %.2f", c.Watch.TrailingTriggerRatio)
	}
	if c.Watch.TrailingCloseRatio > 1 {
		return fmt.Errorf("watch.trailing_close_ratio must be <= 1, got %.2f", c.Watch.TrailingCloseRatio)
	}
	if c.Watch.TrailingStopRatio >= c.Watch.TrailingTriggerRatio {
		return fmt.Errorf("watch.trailing_stop_ratio must be below the trigger ratio")
	}
	if c.Notify.Telegram.Enabled {
		if strings.TrimSpace(c.Notify.Telegram.BotToken) == "" || strings.TrimSpace(c.Notify.Telegram.ChatID) == "" {
			return fmt.Errorf("notify.telegram enabled but bot_token/chat_id missing")
		}
	}
	return nil
}
