package app

import (
	"fmt"
	"strings"
	"time"

	"changewatch/internal/config"
	"changewatch/internal/executor"
	"changewatch/internal/notifier"
	"changewatch/internal/observability/server"
	"changewatch/internal/storage"
	"changewatch/internal/task/engine"
	logx "changewatch/pkg/logx"
)

const (
	defaultInterval     = "5m"
	defaultLinkTokenTTL = 24 * time.Hour
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	lc := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
	// console is the only sink when nothing else is configured
	if !lc.Console && !lc.File.Enabled {
		lc.Console = true
	}
	return lc
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	url := strings.TrimSpace(cfg.Database.URL)
	if url == "" {
		return storage.Config{}, fmt.Errorf("database.url is required (or set %s)", config.EnvDatabaseURL)
	}
	if _, _, err := storage.ParseURL(url); err != nil {
		return storage.Config{}, err
	}
	if cfg.Database.MaxOpenConns < 0 {
		return storage.Config{}, fmt.Errorf("database.max_open_conns must be >= 0")
	}
	busy, err := config.ParseDurationField("database.busy_timeout", cfg.Database.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{URL: url, BusyTimeout: busy, MaxOpenConns: cfg.Database.MaxOpenConns}, nil
}

func mapExecutorOptions(cfg *config.Config) ([]executor.Option, time.Duration, error) {
	timeout, err := config.ParseDurationOrDefault("read_api.timeout", cfg.ReadAPI.Timeout, executor.DefaultTimeout)
	if err != nil {
		return nil, 0, err
	}
	return []executor.Option{executor.WithTimeout(timeout)}, timeout, nil
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := config.TaskEngineConfig{}
	if cfg.TaskEngine != nil {
		te = *cfg.TaskEngine
	}
	if te.Workers < 0 {
		return engine.Config{}, fmt.Errorf("task_engine.workers must be >= 0")
	}
	if te.QueueSize < 0 {
		return engine.Config{}, fmt.Errorf("task_engine.queue_size must be >= 0")
	}
	if te.HistorySize < 0 {
		return engine.Config{}, fmt.Errorf("task_engine.history_size must be >= 0")
	}
	workers := te.Workers
	if workers == 0 {
		workers = 2
	}
	queueSize := te.QueueSize
	if queueSize == 0 {
		queueSize = 256
	}
	historySize := te.HistorySize
	if historySize == 0 {
		historySize = 200
	}
	defTimeout, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	maxQueueDelay, err := config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Enabled:        true,
		Workers:        workers,
		QueueSize:      queueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxQueueDelay,
		HistorySize:    historySize,
		// executions are never retried by the pool; the backoff policy
		// owns failures
		RetryMax: 0,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	if cfg.Notifier == nil {
		return notifier.Config{Enabled: true, RetryMax: 3, DedupWindow: 10 * time.Minute}, nil
	}
	n := cfg.Notifier
	if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: numeric fields must be >= 0")
	}
	base, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	sendTimeout, err := config.ParseDurationField("notifier.send_timeout", n.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	window, err := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       base,
		RetryMaxDelay:   maxDelay,
		SendTimeout:     sendTimeout,
		DedupWindow:     window,
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
	}, nil
}

func mapServerConfig(cfg *config.Config) (server.Config, error) {
	m := cfg.Metrics
	read, err := config.ParseDurationField("metrics.read_timeout", m.ReadTimeout)
	if err != nil {
		return server.Config{}, err
	}
	write, err := config.ParseDurationField("metrics.write_timeout", m.WriteTimeout)
	if err != nil {
		return server.Config{}, err
	}
	idle, err := config.ParseDurationField("metrics.idle_timeout", m.IdleTimeout)
	if err != nil {
		return server.Config{}, err
	}
	return server.Config{
		Enabled:       m.Enabled,
		Addr:          strings.TrimSpace(m.Addr),
		Token:         m.Token,
		AllowInsecure: m.AllowInsecure,
		Pprof:         m.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "utc") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("monitor.timezone: invalid %q: %w", name, err)
	}
	return loc, nil
}

// validate rejects configs a running daemon must not commit.
func validate(cfg *config.Config) error {
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("monitor.link_token_ttl", cfg.Monitor.LinkTokenTTL); err != nil {
		return err
	}
	if cfg.Monitor.MaxErrors < 0 || cfg.Monitor.DetailLimit < 0 || cfg.Monitor.SummaryLimit < 0 {
		return fmt.Errorf("monitor: numeric fields must be >= 0")
	}
	if _, err := loadLocation(cfg.Monitor.Timezone); err != nil {
		return err
	}
	if _, _, err := mapExecutorOptions(cfg); err != nil {
		return err
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapServerConfig(cfg); err != nil {
		return err
	}
	return nil
}
