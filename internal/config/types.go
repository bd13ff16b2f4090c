package config

// Config is the on-disk configuration. Every section is optional; durations
// are Go duration strings ("500ms", "10s", "1m").
type Config struct {
	Database   DatabaseConfig    `json:"database"`
	ReadAPI    ReadAPIConfig     `json:"read_api"`
	Telegram   TelegramConfig    `json:"telegram"`
	Logging    LoggingConfig     `json:"logging"`
	Monitor    MonitorConfig     `json:"monitor"`
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`
	Notifier   *NotifierConfig   `json:"notifier,omitempty"`
	Metrics    MetricsConfig     `json:"metrics"`
}

// DatabaseConfig selects the store. URL forms: "sqlite://path",
// "mysql://<dsn>" or a bare sqlite path. Overridden by DATABASE_URL.
type DatabaseConfig struct {
	URL          string `json:"url"`
	BusyTimeout  string `json:"busy_timeout,omitempty"` // sqlite
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

// ReadAPIConfig points at the upstream query endpoint. Overridden by
// GRAPHQL_URL.
type ReadAPIConfig struct {
	URL     string `json:"url"`
	Timeout string `json:"timeout,omitempty"` // default "60s"
}

type TelegramConfig struct {
	// Token is overridden by TELEGRAM_TOKEN. Never logged.
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// OperatorChatID receives auto-pause alerts and forwarded logs.
	OperatorChatID int64  `json:"operator_chat_id,omitempty"`
	PollTimeout    string `json:"poll_timeout"`
	// Commands enables the bot command handler in daemon mode.
	Commands bool `json:"commands"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// MonitorConfig controls the due sweep.
//
// Defaults (when fields are omitted/zero):
//   - interval: "5m" (any form accepted by the schedule parser)
//   - timezone: "UTC"
//   - max_errors: 3
//   - detail_limit: 100
//   - summary_limit: 5
//   - link_token_ttl: "24h"
type MonitorConfig struct {
	Interval     string `json:"interval,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
	MaxErrors    int    `json:"max_errors,omitempty"`
	DetailLimit  int    `json:"detail_limit,omitempty"`
	SummaryLimit int    `json:"summary_limit,omitempty"`
	LinkTokenTTL string `json:"link_token_ttl,omitempty"`
}

// TaskEngineConfig controls the bounded worker pool that runs executions.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled; executions carry their own)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// NotifierConfig controls delivery of change summaries and operator
// alerts. If the whole section is omitted the alert queue is enabled with
// defaults.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// MetricsConfig controls the daemon's HTTP endpoint (/metrics, /healthz,
// optional pprof). Prefer a loopback addr; otherwise set a token or
// allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9464"
	Token         string `json:"token,omitempty"` // never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}
