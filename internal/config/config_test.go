package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
telegram:
  token: ""
  poll_timeout: 30s
access:
  allowed_users: [111, 222]
  admins: [111]
  users:
    111: Alice
    222: Bob
storage:
  driver: sqlite
  path: ./mila.db
scheduler:
  timezone: Europe/Berlin
  missed_policy: discard
llm:
  api_key: ""
  model: gpt-4o-mini
`

func noEnv(string) (string, bool) { return "", false }

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("mila.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, []int64{111, 222}, cfg.Access.AllowedUsers)
	assert.Equal(t, map[int64]string{111: "Alice", 222: "Bob"}, cfg.Access.Users)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "discard", cfg.Scheduler.MissedPolicy)
	assert.Equal(t, "30s", cfg.Telegram.PollTimeout)
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{"unknown field json", "c.json", `{"telegram":{"token":"x","owner_user_ids":[1]}}`},
		{"unknown section yaml", "c.yaml", "plugins:\n  foo: {}\n"},
		{"trailing data", "c.json", `{} {}`},
		{"bad yaml", "c.yml", "access: [\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tt.file, []byte(tt.body)); err == nil {
				t.Fatalf("Decode(%s) accepted %q", tt.file, tt.body)
			}
		})
	}
}

func TestDecodeEmptyYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("c.yaml", nil)
	require.NoError(t, err)
	assert.Equal(t, Config{}, *cfg)
}

func TestApplyEnvFillsOnlyEmptySecrets(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		EnvTelegramToken: " 123:env ",
		EnvOpenAIKey:     "sk-env",
		EnvSerpAPIKey:    "serp-env",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := &Config{}
	cfg.LLM.APIKey = "sk-file"
	ApplyEnv(cfg, lookup)

	assert.Equal(t, "123:env", cfg.Telegram.Token)
	assert.Equal(t, "sk-file", cfg.LLM.APIKey)
	assert.Equal(t, "serp-env", cfg.Search.SerpAPIKey)
	assert.Empty(t, cfg.Storage.Redis.Password)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"zero config", func(*Config) {}, ""},
		{"bad duration", func(c *Config) { c.LLM.Timeout = "soon" }, "llm.timeout"},
		{"negative duration", func(c *Config) { c.Notifier.SendTimeout = "-1s" }, "notifier.send_timeout"},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		{"bad policy", func(c *Config) { c.Scheduler.MissedPolicy = "replay_all" }, "scheduler.missed_policy"},
		{"bad driver", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"redis without addr", func(c *Config) { c.Storage.Driver = "redis" }, "storage.redis.addr"},
		{"bad admin addr", func(c *Config) { c.Admin.Enabled = true; c.Admin.Addr = "8085" }, "admin.addr"},
		{"negative workers", func(c *Config) { c.TaskEngine.Workers = -1 }, "task_engine.workers"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{}
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRequireSecrets(t *testing.T) {
	t.Parallel()
	require.ErrorIs(t, RequireSecrets(&Config{}), ErrMissingToken)
	cfg := &Config{}
	cfg.Telegram.Token = "123:abc"
	require.NoError(t, RequireSecrets(cfg))
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg, err := Decode("c.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	newCfg, err := Decode("c.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	assert.Empty(t, changed)

	newCfg.Access.Admins = append(newCfg.Access.Admins, 222)
	newCfg.Logging.Level = "debug"
	newCfg.Storage.Path = "./other.db"
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"access", "logging", "storage"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"storage"}, NeedsRestart(changed))
}

func TestManagerLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "mila.yaml", sampleYAML)

	m := NewConfigManager(p)
	m.SetEnvLookup(func(k string) (string, bool) {
		if k == EnvTelegramToken {
			return "123:abc", true
		}
		return "", false
	})
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Same(t, cfg, m.Get())

	bad := writeFile(t, dir, "bad.yaml", "scheduler:\n  timezone: Nowhere/Land\n")
	_, err = NewConfigManager(bad).Load()
	require.Error(t, err)
}

func TestPublishKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)

	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	assert.Same(t, b, <-ch)

	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestWatchPublishesChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "mila.yaml", sampleYAML)

	m := NewConfigManager(p)
	m.SetEnvLookup(noEnv)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte(sampleYAML+"logging:\n  level: debug\n"), 0o600))

	select {
	case cfg := <-sub:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatalf("no config published after write")
	}
}
