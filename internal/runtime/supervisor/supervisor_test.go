package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoRecoversPanicAndRecordsError(t *testing.T) {
	sup := New(context.Background())
	sup.Go("boom", func(ctx context.Context) error { panic("kaboom") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sup.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	snap := sup.Snapshot()
	require.Len(t, snap.Workers, 1)
	assert.Equal(t, uint64(1), snap.Workers[0].Panics)
	assert.Equal(t, int64(0), snap.Counters.Active)
}

func TestGoRestartRestartsUntilCancel(t *testing.T) {
	sup := New(context.Background())
	var runs atomic.Int32
	sup.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("transient")
		}
		<-ctx.Done()
		return ctx.Err()
	})

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 3*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sup.Stop(ctx)
	require.Error(t, err, "first error stays published")
	assert.Contains(t, err.Error(), "transient")
	assert.Equal(t, int64(0), sup.Counters().Active)
}

func TestWaitRespectsDeadline(t *testing.T) {
	sup := New(context.Background())
	release := make(chan struct{})
	sup.Go("stuck", func(ctx context.Context) error {
		<-release
		return nil
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := sup.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
