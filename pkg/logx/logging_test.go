package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, ln := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		if ln == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(ln), &m))
		out = append(out, m)
	}
	return out
}

func TestSuccessTagsOutcome(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "debug").With(String("comp", "test"))

	log.Success("job done", Int("lane", 3))

	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 1)
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "success", lines[0][OutcomeField])
	assert.Equal(t, "test", lines[0]["comp"])
	assert.EqualValues(t, 3, lines[0]["lane"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "warn")

	log.Debug("hidden")
	log.Info("hidden too")
	log.Warn("shown")

	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["message"])
	assert.False(t, log.Enabled(LevelInfo))
	assert.True(t, log.Enabled(LevelError))
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	assert.True(t, l.IsZero())
	l.Error("nothing happens")
	assert.False(t, Nop().IsZero())
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]Level{
		"debug":       LevelDebug,
		" INFO ":      LevelInfo,
		"information": LevelInfo,
		"warning":     LevelWarn,
		"error":       LevelError,
		"bogus":       LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestHourlyWriterRotates(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)
	hw, err := newHourlyWriter(dir, func() time.Time { return now })
	require.NoError(t, err)
	t.Cleanup(func() { _ = hw.Close() })

	_, err = hw.Write([]byte("{\"a\":1}\n"))
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	_, err = hw.Write([]byte("{\"a\":2}\n"))
	require.NoError(t, err)

	first, err := os.ReadFile(filepath.Join(dir, "20240501 10.json"))
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(dir, "20240501 11.json"))
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n", string(first))
	assert.Equal(t, "{\"a\":2}\n", string(second))
}

func TestHourlyWriterRejectsWritesAfterClose(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)
	hw, err := newHourlyWriter(dir, func() time.Time { return now })
	require.NoError(t, err)
	require.NoError(t, hw.Close())

	now = now.Add(time.Hour)
	_, err = hw.Write([]byte("{}\n"))
	assert.ErrorIs(t, err, os.ErrClosed)

	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.NoError(t, hw.Close())
}

func readHourly(t *testing.T, dir string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	var b strings.Builder
	for _, m := range matches {
		data, err := os.ReadFile(m)
		require.NoError(t, err)
		b.Write(data)
	}
	return b.String()
}

func TestStoreDebugIgnoresLevel(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "laned.log")
	hourlyDir := filepath.Join(dir, "hourly")

	svc, log := New(Config{
		Level:  "info",
		File:   FileConfig{Enabled: true, Path: logPath},
		Hourly: HourlyConfig{Enabled: true, Dir: hourlyDir, StoreDebug: true},
	}, nil)
	log.Debug("lane assigned")
	log.Info("job finished")
	require.NoError(t, svc.Close())

	stored := readHourly(t, hourlyDir)
	assert.Contains(t, stored, "lane assigned")
	assert.Contains(t, stored, "job finished")

	file, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(file), "lane assigned")
	assert.Contains(t, string(file), "job finished")
}

func TestHourlyDropsDebugByDefault(t *testing.T) {
	dir := t.TempDir()
	svc, log := New(Config{Level: "debug", Hourly: HourlyConfig{Enabled: true, Dir: dir}}, nil)
	log.Debug("lane assigned")
	log.Warn("slow job")
	require.NoError(t, svc.Close())

	stored := readHourly(t, dir)
	assert.NotContains(t, stored, "lane assigned")
	assert.Contains(t, stored, "slow job")
}

func TestApplySwapsSinks(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.log"), filepath.Join(dir, "b.log")

	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: a}}, nil)
	log.Info("first")
	svc.Apply(Config{Level: "info", File: FileConfig{Enabled: true, Path: b}})
	log.Info("second")
	require.NoError(t, svc.Close())

	first, err := os.ReadFile(a)
	require.NoError(t, err)
	second, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.Contains(t, string(first), "first")
	assert.NotContains(t, string(first), "second")
	assert.Contains(t, string(second), "second")
}

type sentText struct {
	chatID   int64
	threadID int
	text     string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentText
}

func (f *fakeSender) SendText(_ context.Context, chatID int64, threadID int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentText{chatID: chatID, threadID: threadID, text: text})
	return nil
}

func (f *fakeSender) messages() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentText(nil), f.sent...)
}

func TestTelegramForwardsErrors(t *testing.T) {
	fake := &fakeSender{}
	svc, log := New(Config{
		Level:    "info",
		Telegram: TelegramConfig{Enabled: true, ChatID: 42, ThreadID: 3, MinLevel: "error", RatePerSec: 10},
	}, fake)
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("job finished")
	log.Error("executor failed", String("job", "backup"))

	require.Eventually(t, func() bool { return len(fake.messages()) == 1 }, time.Second, 10*time.Millisecond)
	got := fake.messages()[0]
	assert.Equal(t, int64(42), got.chatID)
	assert.Equal(t, 3, got.threadID)
	assert.True(t, strings.HasPrefix(got.text, "[ERROR] executor failed"), got.text)
	assert.Contains(t, got.text, "- job=backup")
}

func TestTelegramIsRateLimited(t *testing.T) {
	fake := &fakeSender{}
	svc, log := New(Config{
		Level:    "info",
		Telegram: TelegramConfig{Enabled: true, ChatID: 1, RatePerSec: 1},
	}, fake)
	t.Cleanup(func() { _ = svc.Close() })

	for i := 0; i < 5; i++ {
		log.Error("executor failed", Int("n", i))
	}

	require.Eventually(t, func() bool { return len(fake.messages()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return len(fake.messages()) > 1 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestNewTelegramBot(t *testing.T) {
	_, err := NewTelegramBot(" ")
	assert.Error(t, err)

	bot, err := NewTelegramBot("123456:test-token")
	require.NoError(t, err)
	assert.NotNil(t, bot)
}

func TestFormatTelegramJSON(t *testing.T) {
	got := formatTelegramJSON([]byte(`{"level":"error","time":"t","message":"boom","lane":2,"comp":"jobs","stack":"trace"}` + "\n"))
	assert.Equal(t, "[ERROR] boom\n- comp=jobs\n- lane=2\n- stack=\ntrace", got)
	assert.Equal(t, "not json", formatTelegramJSON([]byte(" not json \n")))
}

func TestMinLevelWriterDropsDebug(t *testing.T) {
	var buf bytes.Buffer
	w := &minLevelWriter{w: &buf, min: zerolog.InfoLevel}

	_, _ = w.WriteLevel(zerolog.DebugLevel, []byte("debug\n"))
	_, _ = w.WriteLevel(zerolog.ErrorLevel, []byte("error\n"))

	assert.Equal(t, "error\n", buf.String())
}

type levelRecorder struct{ levels []zerolog.Level }

func (r *levelRecorder) Write(p []byte) (int, error) {
	return r.WriteLevel(zerolog.NoLevel, p)
}

func (r *levelRecorder) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	r.levels = append(r.levels, level)
	return len(p), nil
}

func TestMinLevelWriterKeepsLevel(t *testing.T) {
	rec := &levelRecorder{}
	w := &minLevelWriter{w: rec, min: zerolog.InfoLevel}

	_, _ = w.WriteLevel(zerolog.DebugLevel, []byte("debug\n"))
	_, _ = w.WriteLevel(zerolog.ErrorLevel, []byte("error\n"))

	assert.Equal(t, []zerolog.Level{zerolog.ErrorLevel}, rec.levels)
}
