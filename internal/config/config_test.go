package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
profile:
  lanes: 4
  reserved_lanes: 0
  stop_timeout: 5s
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./runs.db
admin:
  enabled: true
timezone: UTC
triggers:
  - name: heartbeat
    schedule: 30s
    kind: log
    message: alive
  - name: backup
    schedule: "0 3 * * *"
    mode: parallel
    priority: fast
    unique: true
    kind: exec
    command: [tar, czf, /tmp/b.tgz, /etc]
    timeout: 10m
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDecodeYAML(t *testing.T) {
	cfg, err := Decode("laned.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Profile.Lanes)
	require.NotNil(t, cfg.Profile.ReservedLanes)
	assert.Equal(t, 0, *cfg.Profile.ReservedLanes)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, DefaultAdminAddr, cfg.Admin.AdminAddr())
	require.Len(t, cfg.Triggers, 2)
	assert.Equal(t, []string{"tar", "czf", "/tmp/b.tgz", "/etc"}, cfg.Triggers[1].Command)
	assert.NoError(t, Validate(cfg))
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	_, err := Decode("c.json", []byte(`{"profile":{"lanes":2,"workers":3}}`))
	assert.Error(t, err)

	_, err = Decode("c.json", []byte(`{"profile":{}} {"profile":{}}`))
	assert.Error(t, err)

	cfg, err := Decode("c.yml", []byte(""))
	require.NoError(t, err)
	assert.Empty(t, cfg.Triggers)
}

func TestValidate(t *testing.T) {
	neg := -1
	cfg := &Config{
		Profile:  ProfileConfig{Lanes: -1, ReservedLanes: &neg, StopTimeout: "soon"},
		Logging:  LoggingConfig{Telegram: LoggingTelegram{Enabled: true, MinLevel: "loud"}},
		Storage:  &StorageConfig{Driver: "mongo"},
		Timezone: "Mars/Olympus_Mons",
		Triggers: []TriggerConfig{
			{Name: "a", Schedule: "1m", Kind: "log"},
			{Name: "A", Schedule: "1m", Kind: "log"},
			{Name: "", Schedule: "", Kind: "", Timeout: "-1s"},
		},
	}
	err := Validate(cfg)
	require.Error(t, err)
	for _, want := range []string{
		"profile.lanes", "profile.reserved_lanes", "profile.stop_timeout",
		"logging.telegram.token", "logging.telegram.chat_id", "logging.telegram.min_level",
		"storage.driver", "timezone", "duplicate trigger", "triggers[2].name",
		"triggers[2].schedule", "triggers[2].kind", "triggers[2].timeout",
	} {
		assert.Contains(t, err.Error(), want)
	}
	assert.Error(t, Validate(nil))
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)
	d, err = ParseDurationOrDefault("x", "2s", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)
	_, err = ParseDurationOrDefault("x", "-2s", time.Minute)
	assert.Error(t, err)
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg, err := Decode("a.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	newCfg, err := Decode("a.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	assert.Empty(t, changed)
	assert.False(t, ProfileChanged(oldCfg, newCfg))

	newCfg.Profile.Lanes = 8
	newCfg.Logging.Level = "info"
	newCfg.Triggers = newCfg.Triggers[:1]
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"logging", "profile", "triggers"}, changed)
	assert.NotEmpty(t, attrs)
	assert.True(t, ProfileChanged(oldCfg, newCfg))
}

func TestManagerReload(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "laned.json", `{"profile":{"lanes":2}}`)

	m := NewManager(path)
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Profile.Lanes)

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	_, err = m.Reload(context.Background())
	assert.ErrorIs(t, err, ErrUnchanged)

	writeFile(t, dir, "laned.json", `{"profile":{"lanes":3}}`)
	_, err = m.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, (<-sub).Profile.Lanes)
	assert.Equal(t, 3, m.Get().Profile.Lanes)

	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Profile.Lanes > 5 {
			return errors.New("too many lanes")
		}
		return nil
	})
	writeFile(t, dir, "laned.json", `{"profile":{"lanes":9}}`)
	_, err = m.Reload(context.Background())
	assert.EqualError(t, err, "too many lanes")
	assert.Equal(t, 3, m.Get().Profile.Lanes)
}

func TestManagerPublishKeepsLatest(t *testing.T) {
	m := NewManager("unused.json")
	sub := m.Subscribe(1)
	m.publish(&Config{Timezone: "A"})
	m.publish(&Config{Timezone: "B"})
	assert.Equal(t, "B", (<-sub).Timezone)

	m.Unsubscribe(sub)
	_, open := <-sub
	assert.False(t, open)
}

func TestManagerWatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "laned.yaml", "profile:\n  lanes: 2\n")

	m := NewManager(path)
	m.debounce = 20 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "laned.yaml", "profile:\n  lanes: 6\n")

	select {
	case cfg := <-sub:
		assert.Equal(t, 6, cfg.Profile.Lanes)
	case <-time.After(5 * time.Second):
		t.Fatal("no config published after file change")
	}
}
