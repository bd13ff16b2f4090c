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

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestParseMissingFileUsesDefaultsAndEnv(t *testing.T) {
	m := NewConfigManager(filepath.Join(t.TempDir(), "absent.yaml"))
	m.SetEnv(env(map[string]string{
		EnvDatabaseURL: "sqlite://cw.db",
		EnvGraphQLURL:  "http://api/graphql",
		EnvTelegram:    "123:abc",
	}))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite://cw.db", cfg.Database.URL)
	assert.Equal(t, "http://api/graphql", cfg.ReadAPI.URL)
	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Same(t, cfg, m.Get())
}

func TestParseYAMLStrict(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cw.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  url: /var/lib/cw.db
monitor:
  interval: 10m
  timezone: Europe/Madrid
task_engine:
  workers: 4
`), 0o600))

	m := NewConfigManager(p)
	m.SetEnv(env(map[string]string{EnvLogLevel: "debug"}))
	cfg, err := m.Parse()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/cw.db", cfg.Database.URL)
	assert.Equal(t, "10m", cfg.Monitor.Interval)
	assert.Equal(t, 4, cfg.TaskEngine.Workers)
	assert.Equal(t, "debug", cfg.Logging.Level)

	require.NoError(t, os.WriteFile(p, []byte("monitor:\n  intervall: 1m\n"), 0o600))
	_, err = m.Parse()
	assert.ErrorContains(t, err, "unknown field")
}

func TestParseJSONTrailingData(t *testing.T) {
	p := filepath.Join(t.TempDir(), "cw.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"monitor":{}} {}`), 0o600))
	m := NewConfigManager(p)
	m.SetEnv(env(nil))
	_, err := m.Parse()
	assert.ErrorContains(t, err, "trailing data")
}

func TestLoadEnvFile(t *testing.T) {
	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), ".env"), false))
	assert.Error(t, LoadEnvFile(filepath.Join(t.TempDir(), ".env"), true))

	p := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(p, []byte("CHANGEWATCH_TEST_ONLY=from-file\n"), 0o600))
	t.Setenv("CHANGEWATCH_TEST_ONLY", "")
	require.NoError(t, os.Unsetenv("CHANGEWATCH_TEST_ONLY"))
	require.NoError(t, LoadEnvFile(p, true))
	assert.Equal(t, "from-file", os.Getenv("CHANGEWATCH_TEST_ONLY"))
}

func TestSummarizeConfigChange(t *testing.T) {
	a := &Config{Telegram: TelegramConfig{Token: "old"}}
	b := &Config{
		Telegram: TelegramConfig{Token: "new"},
		Logging:  LoggingConfig{Level: "debug"},
		Notifier: &NotifierConfig{Enabled: true},
	}
	changed, attrs, restart := SummarizeConfigChange(a, b)
	assert.Equal(t, []string{"telegram", "logging", "notifier"}, changed)
	assert.Equal(t, []string{"telegram"}, restart)
	assert.NotEmpty(t, attrs)

	changed, _, restart = SummarizeConfigChange(b, b)
	assert.Empty(t, changed)
	assert.Empty(t, restart)
}

func TestWatchPublishesReload(t *testing.T) {
	p := filepath.Join(t.TempDir(), "cw.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"logging":{"level":"info"}}`), 0o600))
	m := NewConfigManager(p)
	m.SetEnv(env(nil))
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte(`{"logging":{"level":"debug"}}`), 0o600))

	select {
	case cfg := <-ch:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
	cancel()
	<-done
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)
	_, err = ParseDurationField("monitor.interval", "-1s")
	assert.EqualError(t, err, "monitor.interval: duration must be >= 0")
}
