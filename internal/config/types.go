package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m"). Empty
// or zero values fall back to the component defaults.
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Access     AccessConfig     `json:"access"`
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Notifier   NotifierConfig   `json:"notifier"`
	LLM        LLMConfig        `json:"llm"`
	Search     SearchConfig     `json:"search"`
	Admin      AdminConfig      `json:"admin"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied via TELEGRAM_TOKEN.
	Token string `json:"token"`
	// PollTimeout is the long polling timeout.
	PollTimeout string `json:"poll_timeout,omitempty"`
	// APIURL overrides the Bot API endpoint (local bot API server, tests).
	APIURL string `json:"api_url,omitempty"`
	// LogChatID receives log lines when logging.telegram.enabled is set.
	LogChatID int64 `json:"log_chat_id,omitempty"`

	// Router settings.
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	HandlerTimeout string `json:"handler_timeout,omitempty"`
	ModeTTL        string `json:"mode_ttl,omitempty"`
}

// AccessConfig decides who may talk to the bot.
//
// Example:
//
//	access:
//	  allowed_users: [111, 222]
//	  admins: [111]
//	  users: { "111": "Alice", "222": "Bob" }
type AccessConfig struct {
	AllowedUsers []int64 `json:"allowed_users"`
	Admins       []int64 `json:"admins,omitempty"`
	// Users maps Telegram user ids to the names used as task id prefixes.
	// Unknown users get "user_<id>".
	Users map[int64]string `json:"users,omitempty"`
	// MinTextRunes rejects shorter task descriptions (default 30).
	MinTextRunes int `json:"min_text_runes,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the task store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./tasks" }
type StorageConfig struct {
	Driver      string      `json:"driver"` // file (default), sqlite, redis
	Path        string      `json:"path"`
	BusyTimeout string      `json:"busy_timeout,omitempty"` // sqlite
	Redis       RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr string `json:"addr"`
	// Password may be left empty and supplied via REDIS_PASSWORD.
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

type SchedulerConfig struct {
	// Timezone is used for schedules stored without a zone.
	Timezone string `json:"timezone,omitempty"`
	// MissedPolicy handles once tasks whose time passed while the process
	// was down: "fire_once" (default) or "discard".
	MissedPolicy string `json:"missed_policy,omitempty"`
}

// TaskEngineConfig controls the execution engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "5m"
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 2
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`
}

// NotifierConfig controls result delivery.
type NotifierConfig struct {
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	HistorySize     int    `json:"history_size,omitempty"`
	// MaxMessageRunes caps one delivered result (default 4000).
	MaxMessageRunes int `json:"max_message_runes,omitempty"`
}

type LLMConfig struct {
	// APIKey may be left empty and supplied via OPENAI_API_KEY.
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model,omitempty"`
	BaseURL     string  `json:"base_url,omitempty"`
	Timeout     string  `json:"timeout,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
}

type SearchConfig struct {
	// SerpAPIKey may be left empty and supplied via SERPAPI_KEY. Without a
	// key only the DuckDuckGo fallback is used.
	SerpAPIKey    string `json:"serpapi_key,omitempty"`
	SerpAPIURL    string `json:"serpapi_url,omitempty"`
	DuckDuckGoURL string `json:"duckduckgo_url,omitempty"`
	Timeout       string `json:"timeout,omitempty"`
	MaxResults    int    `json:"max_results,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
}

// AdminConfig controls the optional admin HTTP server.
//
// Security note:
//   - Prefer binding to localhost (default "127.0.0.1:8085").
//   - A non-loopback address needs a token or an explicit allow_insecure.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
