package job

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"lanework/internal/logsink"
)

// worker drains one fifo serially. Lanes and the sequenced driver are both
// workers; lane is 0 for the sequenced driver.
type worker struct {
	s       *Scheduler
	lane    int
	mode    Mode
	q       *fifo
	profile Profile

	executing atomic.Bool
}

func newLane(s *Scheduler, n int, p Profile) *worker {
	return &worker{s: s, lane: n, mode: ModeParallel, q: newFIFO(), profile: p}
}

func newSequencer(s *Scheduler, p Profile) *worker {
	return &worker{s: s, mode: ModeSequenced, q: newFIFO(), profile: p}
}

func (w *worker) name() string {
	if w.mode == ModeSequenced {
		return "sequenced"
	}
	return fmt.Sprintf("lane.%d", w.lane)
}

func (w *worker) jobsCount() int    { return w.q.len() }
func (w *worker) isExecuting() bool { return w.executing.Load() }

func (w *worker) enqueue(j *Item) { w.q.push(j) }

// run is the worker loop. It exits on cancellation without draining.
func (w *worker) run(ctx context.Context) error {
	poll := time.NewTicker(w.profile.PollInterval)
	defer poll.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if w.step() {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-w.q.wake:
		case <-poll.C:
		}
	}
}

// step runs at most one job and reports whether one was dequeued.
// Bookkeeping failures are reported to the sink; the loop keeps going.
func (w *worker) step() (ran bool) {
	defer func() {
		if r := recover(); r != nil {
			w.executing.Store(false)
			w.s.sink.Write(logsink.Error, fmt.Sprintf("Error while executing job, %s: %v, stack: %s", w.where(), r, debug.Stack()))
		}
	}()

	if w.q.len() == 0 {
		return false
	}
	// Mark busy before dequeue so dispatch never sees an empty, idle lane
	// that is about to start a job.
	w.executing.Store(true)
	j, ok := w.q.pop()
	if !ok {
		w.executing.Store(false)
		return false
	}
	w.exec(j)
	return true
}

func (w *worker) exec(j *Item) {
	start := time.Now()
	j.markStarted(start)
	w.s.publish(EventStarted, w.event(j, start, time.Time{}, nil))

	result, err := invoke(w.s.baseCtx, j)

	end := time.Now()
	// Report first: Done must not fire before the outcome is accounted for.
	defer w.executing.Store(false)
	defer j.markFinished(end, result, err)

	if err != nil {
		w.s.failed.Add(1)
		w.s.sink.Write(logsink.Error, w.failureMessage(j, err))
		w.s.publish(EventFailed, w.event(j, start, end, err))
	} else {
		w.s.executed.Add(1)
		w.s.publish(EventFinished, w.event(j, start, end, nil))
	}

	if w.profile.Debug {
		w.s.sink.Write(logsink.Debug, fmt.Sprintf("Job [%s] was executed on %s. Started: %s, Ended: %s, Duration: %s",
			j.Name, w.where(), start.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano), end.Sub(start)))
	}
}

// invoke calls the executor, turning a panic into a *PanicError.
func invoke(ctx context.Context, j *Item) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return j.Executor(ctx, j)
}

func (w *worker) where() string {
	if w.mode == ModeSequenced {
		return "sequenced mode"
	}
	return fmt.Sprintf("lane [%d]", w.lane)
}

func (w *worker) failureMessage(j *Item, err error) string {
	msg := fmt.Sprintf("Job [%s] was executed on %s. But executor failed with error: %v", j.Name, w.where(), err)
	if pe, ok := err.(*PanicError); ok {
		msg += ", stack: " + pe.Stack
	}
	return msg
}

func (w *worker) event(j *Item, start, end time.Time, err error) JobEvent {
	ev := JobEvent{
		ID:       j.ID,
		Name:     j.Name,
		Mode:     w.mode.String(),
		Lane:     w.lane,
		Priority: j.LanePriority.String(),
		Started:  start,
		Ended:    end,
	}
	if !end.IsZero() {
		ev.Duration = end.Sub(start)
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
