package config

import (
	"reflect"
	"sort"
	"strings"

	"github.com/utestwalter/Mila/pkg/logx"
)

// Restart-only sections: a change is logged but needs a process restart.
var restartSections = map[string]bool{
	"storage":     true,
	"task_engine": true,
	"llm":         true,
	"search":      true,
}

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging. Secrets are reported only as "set" flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot != nt {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int64("telegram.log_chat_id", nt.LogChatID),
			logx.Int("telegram.workers", nt.Workers),
		)
	}

	if !reflect.DeepEqual(oldCfg.Access, newCfg.Access) {
		changed = append(changed, "access")
		attrs = append(attrs,
			logx.Int("access.allowed_count", len(newCfg.Access.AllowedUsers)),
			logx.Int("access.admin_count", len(newCfg.Access.Admins)),
			logx.Int("access.named_users", len(newCfg.Access.Users)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	ost, ns := oldCfg.Storage, newCfg.Storage
	if ost != ns {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(ns.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(ns.Path) != ""),
			logx.String("storage.redis_addr", strings.TrimSpace(ns.Redis.Addr)),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.missed_policy", strings.TrimSpace(newCfg.Scheduler.MissedPolicy)),
		)
	}

	if oldCfg.TaskEngine != newCfg.TaskEngine {
		te := newCfg.TaskEngine
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", te.Workers),
			logx.Int("task_engine.queue_size", te.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(te.DefaultTimeout)),
			logx.Int("task_engine.retry_max", te.RetryMax),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		n := newCfg.Notifier
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", n.RatePerSec),
			logx.Int("notifier.retry_max", n.RetryMax),
			logx.String("notifier.dedup_window", strings.TrimSpace(n.DedupWindow)),
		)
	}

	ol, nl := oldCfg.LLM, newCfg.LLM
	if ol != nl {
		changed = append(changed, "llm")
		attrs = append(attrs,
			logx.String("llm.model", nl.Model),
			logx.Bool("llm.base_url_set", strings.TrimSpace(nl.BaseURL) != ""),
			logx.Bool("llm.api_key_changed", ol.APIKey != nl.APIKey),
		)
	}

	if oldCfg.Search != newCfg.Search {
		changed = append(changed, "search")
		attrs = append(attrs,
			logx.Bool("search.serpapi_enabled", strings.TrimSpace(newCfg.Search.SerpAPIKey) != ""),
			logx.Int("search.max_results", newCfg.Search.MaxResults),
		)
	}

	oa, na := oldCfg.Admin, newCfg.Admin
	if oa != na {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Bool("admin.enabled", na.Enabled),
			logx.String("admin.addr", strings.TrimSpace(na.Addr)),
			logx.Bool("admin.token_set", strings.TrimSpace(na.Token) != ""),
			logx.Bool("admin.allow_insecure", na.AllowInsecure),
			logx.Bool("admin.pprof", na.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// NeedsRestart reports the changed sections that are not hot-reloadable.
func NeedsRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		if restartSections[s] {
			out = append(out, s)
		}
	}
	return out
}
