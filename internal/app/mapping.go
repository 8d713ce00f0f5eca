package app

import (
	"strings"
	"time"

	"github.com/utestwalter/Mila/internal/config"
	"github.com/utestwalter/Mila/internal/llm"
	"github.com/utestwalter/Mila/internal/notifier"
	"github.com/utestwalter/Mila/internal/observability/admin"
	"github.com/utestwalter/Mila/internal/search"
	"github.com/utestwalter/Mila/internal/storage"
	"github.com/utestwalter/Mila/internal/task/engine"
	"github.com/utestwalter/Mila/internal/task/pipeline"
	"github.com/utestwalter/Mila/internal/task/registrar"
	"github.com/utestwalter/Mila/internal/task/scheduler"
	telegram "github.com/utestwalter/Mila/internal/transport/telegram/adapter"
	"github.com/utestwalter/Mila/internal/transport/telegram/router"
	"github.com/utestwalter/Mila/pkg/logx"
)

// The map* helpers translate a validated config.Config into component
// configs. Zero values are left for the components' own defaults.

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
			Compress:   l.File.Compress,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapAdapterConfig(cfg *config.Config) telegram.Config {
	poll := config.Duration(cfg.Telegram.PollTimeout)
	if poll <= 0 {
		poll = 10 * time.Second
	}
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: poll,
		APIURL:      strings.TrimSpace(cfg.Telegram.APIURL),
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	s := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	if driver == "" {
		driver = "file"
	}
	path := strings.TrimSpace(s.Path)
	if path == "" {
		switch driver {
		case "file":
			path = "./tasks"
		case "sqlite":
			path = "./mila.db"
		}
	}
	busy := config.Duration(s.BusyTimeout)
	if busy <= 0 {
		busy = time.Second
	}
	return storage.Config{
		Driver:      driver,
		Path:        path,
		BusyTimeout: busy,
		Redis: storage.RedisConfig{
			Addr:     strings.TrimSpace(s.Redis.Addr),
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
			Prefix:   s.Redis.Prefix,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	// Validate already rejected unknown policies.
	policy, _ := scheduler.ParseMissedPolicy(cfg.Scheduler.MissedPolicy)
	return scheduler.Config{
		Timezone:     strings.TrimSpace(cfg.Scheduler.Timezone),
		MissedPolicy: policy,
	}
}

func mapEngineConfig(cfg *config.Config) engine.Config {
	te := cfg.TaskEngine
	def := config.Duration(te.DefaultTimeout)
	if def <= 0 {
		def = 5 * time.Minute
	}
	return engine.Config{
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: def,
		MaxQueueDelay:  config.Duration(te.MaxQueueDelay),
		HistorySize:    te.HistorySize,
		RetryMax:       te.RetryMax,
		RetryBase:      config.Duration(te.RetryBase),
		RetryMaxDelay:  config.Duration(te.RetryMaxDelay),
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	n := cfg.Notifier
	return notifier.Config{
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       config.Duration(n.RetryBase),
		RetryMaxDelay:   config.Duration(n.RetryMaxDelay),
		SendTimeout:     config.Duration(n.SendTimeout),
		DedupWindow:     config.Duration(n.DedupWindow),
		DedupMaxEntries: n.DedupMaxEntries,
		HistorySize:     n.HistorySize,
		DisablePreview:  true,
	}
}

func mapPipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		MaxMessageRunes: cfg.Notifier.MaxMessageRunes,
		SearchTimeout:   config.Duration(cfg.Search.Timeout),
		SummaryTimeout:  config.Duration(cfg.LLM.Timeout),
	}
}

func mapLLMConfig(cfg *config.Config) llm.Config {
	return llm.Config{
		APIKey:      strings.TrimSpace(cfg.LLM.APIKey),
		Model:       strings.TrimSpace(cfg.LLM.Model),
		BaseURL:     strings.TrimSpace(cfg.LLM.BaseURL),
		Timeout:     config.Duration(cfg.LLM.Timeout),
		Temperature: cfg.LLM.Temperature,
	}
}

func mapSearchConfig(cfg *config.Config) search.Config {
	s := cfg.Search
	return search.Config{
		SerpAPIKey:    strings.TrimSpace(s.SerpAPIKey),
		SerpAPIURL:    strings.TrimSpace(s.SerpAPIURL),
		DuckDuckGoURL: strings.TrimSpace(s.DuckDuckGoURL),
		Timeout:       config.Duration(s.Timeout),
		MaxResults:    s.MaxResults,
		UserAgent:     strings.TrimSpace(s.UserAgent),
	}
}

func mapRegistrarConfig(cfg *config.Config) registrar.Config {
	return registrar.Config{
		MinTextRunes: cfg.Access.MinTextRunes,
		Users:        cfg.Access.Users,
		Admins:       cfg.Access.Admins,
	}
}

func mapRouterConfig(cfg *config.Config) router.Config {
	return router.Config{
		AllowedUsers: cfg.Access.AllowedUsers,
		Admins:       cfg.Access.Admins,
		Workers:      cfg.Telegram.Workers,
		QueueSize:    cfg.Telegram.QueueSize,
		Timeout:      config.Duration(cfg.Telegram.HandlerTimeout),
		ModeTTL:      config.Duration(cfg.Telegram.ModeTTL),
	}
}

func mapAdminConfig(cfg *config.Config) admin.Config {
	a := cfg.Admin
	addr := strings.TrimSpace(a.Addr)
	if addr == "" {
		addr = admin.DefaultAddr
	}
	return admin.Config{
		Enabled:              a.Enabled,
		Addr:                 addr,
		Token:                strings.TrimSpace(a.Token),
		AllowInsecure:        a.AllowInsecure,
		Pprof:                a.Pprof,
		ReadTimeout:          config.Duration(a.ReadTimeout),
		WriteTimeout:         config.Duration(a.WriteTimeout),
		IdleTimeout:          config.Duration(a.IdleTimeout),
		MutexProfileFraction: a.MutexProfileFraction,
		BlockProfileRate:     a.BlockProfileRate,
	}
}
