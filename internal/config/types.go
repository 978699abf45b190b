package config

// Config is the root configuration document (YAML, see configs/config.yaml).
type Config struct {
	App      AppConfig      `toml:"app"`
	Exchange ExchangeConfig `toml:"exchange"`
	Watch    WatchConfig    `toml:"watch"`
	Notify   NotifyConfig   `toml:"notify"`
	Control  ControlConfig  `toml:"control"`
	Audit    AuditConfig    `toml:"audit"`
	Shutdown ShutdownConfig `toml:"shutdown"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogPath   string `toml:"log_path"`
	StatePath string `toml:"state_path"`
}

type ExchangeConfig struct {
	APIKey             string `toml:"api_key"`
	APISecret          string `toml:"api_secret"`
	RESTBaseURL        string `toml:"rest_base_url"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds"`
	ProxyEnabled       bool   `toml:"proxy_enabled"`
	RESTProxyURL       string `toml:"rest_proxy_url"`
	BreakerThreshold   int    `toml:"breaker_threshold"`
	BreakerTimeoutSecs int    `toml:"breaker_timeout_seconds"`
}

type WatchConfig struct {
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	ReconcileEvery      int `toml:"reconcile_every"`

	// Default leverage used for realized P&L when the exchange does not
	// report one for the position.
	Leverage float64 `toml:"leverage"`

	ExpiryWarningMinutes int `toml:"expiry_warning_minutes"`

	// Trailing stop 80/80/50 knobs; defaults match the classic behavior.
	TrailingTriggerRatio float64 `toml:"trailing_trigger_ratio"`
	TrailingCloseRatio   float64 `toml:"trailing_close_ratio"`
	TrailingStopRatio    float64 `toml:"trailing_stop_ratio"`

	// Heuristic protective offsets for orders rebuilt at startup.
	RecoveryStopPct float64 `toml:"recovery_stop_pct"`
	RecoveryTakePct float64 `toml:"recovery_take_pct"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type ControlConfig struct {
	HTTPEnabled bool   `toml:"http_enabled"`
	HTTPAddr    string `toml:"http_addr"`

	// Legacy JSON file queue shared with the companion scheduler process.
	QueueEnabled bool   `toml:"queue_enabled"`
	RequestPath  string `toml:"request_path"`
	ResponsePath string `toml:"response_path"`
}

type AuditConfig struct {
	DBPath string `toml:"db_path"`
}

type ShutdownConfig struct {
	// Interactive enables the per-order disposition prompt when stdin is a
	// terminal. Unattended runs keep pending entries and never touch
	// protected positions.
	Interactive   bool `toml:"interactive"`
	CancelPending bool `toml:"cancel_pending"`
}
