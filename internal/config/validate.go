package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

var ErrMissingToken = errors.New("telegram token is not set (config telegram.token or " + EnvTelegramToken + ")")

// Validate checks the values the file can get wrong: durations, the
// timezone, the storage driver and the missed policy. Secrets are checked by
// RequireSecrets because offline commands run without them.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"telegram.handler_timeout", cfg.Telegram.HandlerTimeout},
		{"telegram.mode_ttl", cfg.Telegram.ModeTTL},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout},
		{"task_engine.max_queue_delay", cfg.TaskEngine.MaxQueueDelay},
		{"task_engine.retry_base", cfg.TaskEngine.RetryBase},
		{"task_engine.retry_max_delay", cfg.TaskEngine.RetryMaxDelay},
		{"notifier.retry_base", cfg.Notifier.RetryBase},
		{"notifier.retry_max_delay", cfg.Notifier.RetryMaxDelay},
		{"notifier.send_timeout", cfg.Notifier.SendTimeout},
		{"notifier.dedup_window", cfg.Notifier.DedupWindow},
		{"llm.timeout", cfg.LLM.Timeout},
		{"search.timeout", cfg.Search.Timeout},
		{"admin.read_timeout", cfg.Admin.ReadTimeout},
		{"admin.write_timeout", cfg.Admin.WriteTimeout},
		{"admin.idle_timeout", cfg.Admin.IdleTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	switch strings.TrimSpace(cfg.Scheduler.MissedPolicy) {
	case "", "fire_once", "discard":
	default:
		errs = append(errs, fmt.Errorf("scheduler.missed_policy: unknown policy %q", cfg.Scheduler.MissedPolicy))
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "file", "sqlite":
	case "redis":
		if strings.TrimSpace(cfg.Storage.Redis.Addr) == "" {
			errs = append(errs, errors.New("storage.redis.addr: required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	if cfg.Admin.Enabled && strings.TrimSpace(cfg.Admin.Addr) != "" {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(cfg.Admin.Addr)); err != nil {
			errs = append(errs, fmt.Errorf("admin.addr: %w", err))
		}
	}

	for _, n := range []struct {
		path string
		v    int
	}{
		{"telegram.workers", cfg.Telegram.Workers},
		{"telegram.queue_size", cfg.Telegram.QueueSize},
		{"task_engine.workers", cfg.TaskEngine.Workers},
		{"task_engine.queue_size", cfg.TaskEngine.QueueSize},
		{"task_engine.retry_max", cfg.TaskEngine.RetryMax},
		{"notifier.rate_per_sec", cfg.Notifier.RatePerSec},
		{"notifier.retry_max", cfg.Notifier.RetryMax},
		{"access.min_text_runes", cfg.Access.MinTextRunes},
	} {
		if n.v < 0 {
			errs = append(errs, fmt.Errorf("%s: must be >= 0", n.path))
		}
	}

	return errors.Join(errs...)
}

// RequireSecrets checks what the running bot cannot start without.
func RequireSecrets(cfg *Config) error {
	if cfg == nil || strings.TrimSpace(cfg.Telegram.Token) == "" {
		return ErrMissingToken
	}
	return nil
}
