package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "lanework/pkg/logx"
)

func run(i int) RunRecord {
	start := time.Date(2026, 3, 1, 10, 0, i, 0, time.UTC)
	r := RunRecord{
		ID:         fmt.Sprintf("id-%d", i),
		Name:       fmt.Sprintf("job-%d", i),
		Mode:       "parallel",
		Lane:       i%3 + 1,
		Priority:   "standard",
		Started:    start,
		Ended:      start.Add(250 * time.Millisecond),
		DurationMS: 250,
		OK:         i%2 == 0,
	}
	if !r.OK {
		r.Error = "exit status 1"
	}
	return r
}

func TestOpenDisabled(t *testing.T) {
	st, err := Open(Config{}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	st, err = Open(Config{Driver: "none"}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "etcd"}, logx.Nop())
	assert.Error(t, err)
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
}

func testStoreBasics(t *testing.T, cfg Config) {
	ctx := context.Background()
	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, st.AppendRun(ctx, run(i)))
	}
	got, err := st.RecentRuns(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "job-4", got[0].Name)
	assert.Equal(t, "job-2", got[2].Name)
	assert.True(t, got[0].OK)
	assert.Equal(t, "exit status 1", got[1].Error)
	assert.True(t, got[0].Started.Equal(run(4).Started))
	assert.Equal(t, int64(250), got[0].DurationMS)

	all, err := st.RecentRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestFileStore(t *testing.T) {
	testStoreBasics(t, Config{Driver: "file", Path: filepath.Join(t.TempDir(), "data", "runs")})
}

func TestFileStoreHonoursContext(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "runs")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, st.AppendRun(ctx, run(1)), context.Canceled)
	_, err = st.RecentRuns(ctx, 10)
	assert.ErrorIs(t, err, context.Canceled)

	got, err := st.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteStore(t *testing.T) {
	testStoreBasics(t, Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "runs.db"), BusyTimeout: time.Second})
}

func TestFileStoreSurvivesReopenAndCompacts(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "runs.json"), HistorySize: 4}

	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, st.AppendRun(ctx, run(i)))
	}
	require.NoError(t, st.Close())

	b, err := os.ReadFile(filepath.Join(filepath.Dir(cfg.Path), "runs.runs.jsonl"))
	require.NoError(t, err)
	lines := strings.Count(string(b), "\n")
	assert.Less(t, lines, 8, "file should have been compacted")

	// A torn line from a crash is skipped on replay.
	f, err := os.OpenFile(filepath.Join(filepath.Dir(cfg.Path), "runs.runs.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, _ = f.WriteString(`{"id":"torn","na`)
	require.NoError(t, f.Close())

	st, err = Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	got, err := st.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "job-9", got[0].Name)
	assert.Equal(t, "job-6", got[3].Name)
}

func TestSQLitePrunesToHistorySize(t *testing.T) {
	ctx := context.Background()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "runs.db"), HistorySize: 10}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	for i := 0; i < 100; i++ {
		require.NoError(t, st.AppendRun(ctx, run(i%60)))
	}
	ss := st.(*sqliteStore)
	var n int
	require.NoError(t, ss.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&n))
	assert.Equal(t, 10, n)

	got, err := st.RecentRuns(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, got, 10)
}
