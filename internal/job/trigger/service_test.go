package trigger

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanework/internal/job"
	logx "lanework/pkg/logx"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	items []*job.Item
	modes []job.Mode
	err   error
}

func (f *fakeSubmitter) Add(mode job.Mode, jobs ...*job.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, jobs...)
	for range jobs {
		f.modes = append(f.modes, mode)
	}
	return f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func noop(context.Context, *job.Item) (any, error) { return nil, nil }

func TestAddValidates(t *testing.T) {
	s := New(Config{}, &fakeSubmitter{}, logx.Nop())

	assert.Error(t, s.Add(Definition{Schedule: "1m", Executor: noop}))
	assert.ErrorIs(t, s.Add(Definition{Name: "x", Schedule: "1m"}), job.ErrNoExecutor)
	assert.Error(t, s.Add(Definition{Name: "x", Schedule: "bogus", Executor: noop}))
	assert.Error(t, s.Add(Definition{Name: "x", Schedule: "61 * * * *", Executor: noop}))
	require.NoError(t, s.Add(Definition{Name: "x", Schedule: "*/5 * * * *", Executor: noop}))
}

func TestAddUpsertsByName(t *testing.T) {
	s := New(Config{}, &fakeSubmitter{}, logx.Nop())
	require.NoError(t, s.Add(Definition{Name: "a", Schedule: "1m", Executor: noop}))
	require.NoError(t, s.Add(Definition{Name: "a", Schedule: "@hourly", Executor: noop}))
	require.NoError(t, s.Add(Definition{Name: "b", Schedule: "2m", Executor: noop}))

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "@hourly", snap[0].Schedule)
	assert.Equal(t, "cron", snap[0].Kind)

	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))
	assert.Len(t, s.Snapshot(), 1)
}

func TestFireBuildsFreshItems(t *testing.T) {
	sub := &fakeSubmitter{}
	s := New(Config{}, sub, logx.Nop())
	d := Definition{Name: "report", Mode: job.ModeParallel, Priority: job.PriorityFast, Unique: true, Executor: noop}

	s.fire(d)
	s.fire(d)

	require.Equal(t, 2, sub.count())
	assert.NotSame(t, sub.items[0], sub.items[1])
	assert.Equal(t, job.ModeParallel, sub.modes[0])
	assert.Equal(t, job.PriorityFast, sub.items[0].LanePriority)
	assert.True(t, sub.items[0].UniqueOnExecution)
	assert.Equal(t, "report", sub.items[1].Name)
}

func TestReportIsRateLimited(t *testing.T) {
	buf := &syncBuffer{}
	sub := &fakeSubmitter{err: job.ErrStopping}
	s := New(Config{}, sub, logx.NewJSON(buf, "debug"))
	d := Definition{Name: "noisy", Executor: noop}

	for i := 0; i < 5; i++ {
		s.fire(d)
	}
	assert.Equal(t, 1, strings.Count(buf.String(), "trigger failed to submit job"))

	sub.err = job.ErrDuplicate
	s.fire(d)
	assert.Equal(t, 1, strings.Count(buf.String(), "trigger skipped"))
}

func TestStartFiresCronWithSeconds(t *testing.T) {
	sub := &fakeSubmitter{}
	s := New(Config{Timezone: "UTC"}, sub, logx.Nop())
	require.NoError(t, s.Add(Definition{Name: "tick", Schedule: "* * * * * *", Mode: job.ModeSequenced, Executor: noop}))

	s.Start(context.Background())
	defer s.Stop(context.Background())

	assert.Eventually(t, func() bool { return sub.count() > 0 }, 3*time.Second, 20*time.Millisecond)
	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.False(t, snap[0].Next.IsZero())
}

func TestStartStopsWhenContextEnds(t *testing.T) {
	s := New(Config{}, &fakeSubmitter{}, logx.Nop())
	require.NoError(t, s.Add(Definition{Name: "hourly", Schedule: "1h", Executor: noop}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	require.True(t, s.Running())

	cancel()
	assert.Eventually(t, func() bool { return !s.Running() }, time.Second, 10*time.Millisecond)

	// A later Start with a live context is not undone by the old one.
	s.Start(context.Background())
	defer s.Stop(context.Background())
	assert.Never(t, func() bool { return !s.Running() }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestReplaceAndTimezoneReload(t *testing.T) {
	s := New(Config{}, &fakeSubmitter{}, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	require.NoError(t, s.Add(Definition{Name: "old", Schedule: "1h", Executor: noop}))
	err := s.Replace([]Definition{
		{Name: "new", Schedule: "30m", Executor: noop},
		{Name: "broken", Schedule: "nope", Executor: noop},
	})
	assert.Error(t, err)

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "new", snap[0].Name)
	assert.Equal(t, "interval", snap[0].Kind)
	assert.Less(t, snap[0].StartupSpread, 30*time.Second)

	s.Apply(Config{Timezone: "Asia/Jakarta"})
	assert.Len(t, s.Snapshot(), 1)
}

func TestRunNow(t *testing.T) {
	sub := &fakeSubmitter{}
	s := New(Config{}, sub, logx.Nop())
	require.NoError(t, s.Add(Definition{Name: "backup", Schedule: "@daily", Mode: job.ModeSequenced, Executor: noop}))

	require.NoError(t, s.RunNow(" backup "))
	require.Equal(t, 1, sub.count())
	assert.Equal(t, job.ModeSequenced, sub.modes[0])

	assert.ErrorIs(t, s.RunNow("missing"), ErrNotFound)

	sub.err = job.ErrNotRunning
	assert.ErrorIs(t, s.RunNow("backup"), job.ErrNotRunning)
}
