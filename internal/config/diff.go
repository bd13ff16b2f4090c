package config

import (
	"reflect"
	"strings"

	logx "changewatch/pkg/logx"
)

// hotSections are applied by a running daemon; changes elsewhere need a
// restart.
var hotSections = map[string]bool{"logging": true, "notifier": true}

// SummarizeConfigChange returns the changed section names, safe log attrs
// (tokens and URLs with credentials are never included) and the subset of
// changed sections that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if oldCfg.Database != newCfg.Database {
		changed = append(changed, "database")
		attrs = append(attrs, logx.String("database.scheme", urlScheme(newCfg.Database.URL)))
	}
	if oldCfg.ReadAPI != newCfg.ReadAPI {
		changed = append(changed, "read_api")
		attrs = append(attrs, logx.String("read_api.timeout", strings.TrimSpace(newCfg.ReadAPI.Timeout)))
	}
	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		oldCfg.Telegram.OperatorChatID != newCfg.Telegram.OperatorChatID ||
		oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout ||
		oldCfg.Telegram.Commands != newCfg.Telegram.Commands ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", newCfg.Telegram.Token != ""),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.commands", newCfg.Telegram.Commands),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}
	if oldCfg.Monitor != newCfg.Monitor {
		changed = append(changed, "monitor")
		attrs = append(attrs,
			logx.String("monitor.interval", newCfg.Monitor.Interval),
			logx.String("monitor.timezone", newCfg.Monitor.Timezone),
		)
	}
	if derefTaskEngine(oldCfg.TaskEngine) != derefTaskEngine(newCfg.TaskEngine) {
		te := derefTaskEngine(newCfg.TaskEngine)
		changed = append(changed, "task_engine")
		attrs = append(attrs, logx.Int("task_engine.workers", te.Workers), logx.Int("task_engine.queue_size", te.QueueSize))
	}
	if derefNotifier(oldCfg.Notifier) != derefNotifier(newCfg.Notifier) {
		n := derefNotifier(newCfg.Notifier)
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", n.Enabled),
			logx.Int("notifier.rate_per_sec", n.RatePerSec),
			logx.String("notifier.dedup_window", n.DedupWindow),
		)
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", newCfg.Metrics.Addr),
			logx.Bool("metrics.token_set", newCfg.Metrics.Token != ""),
		)
	}

	for _, s := range changed {
		if !hotSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{}
	}
	return *n
}

func urlScheme(raw string) string {
	if i := strings.Index(raw, "://"); i > 0 {
		return raw[:i]
	}
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	return "sqlite"
}
