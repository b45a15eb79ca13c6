package job

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LanePriority decides which lanes a parallel job may land on.
type LanePriority int

const (
	// PriorityStandard jobs never use reserved lanes.
	PriorityStandard LanePriority = iota
	// PriorityFast jobs may use any lane, reserved ones included.
	PriorityFast
)

func (p LanePriority) String() string {
	switch p {
	case PriorityFast:
		return "fast"
	default:
		return "standard"
	}
}

func ParsePriority(s string) (LanePriority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard":
		return PriorityStandard, nil
	case "fast":
		return PriorityFast, nil
	default:
		return PriorityStandard, fmt.Errorf("unknown lane priority %q", s)
	}
}

// Mode is the execution discipline a job was submitted to.
type Mode int

const (
	ModeSequenced Mode = iota
	ModeParallel
)

func (m Mode) String() string {
	if m == ModeParallel {
		return "parallel"
	}
	return "sequenced"
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sequenced":
		return ModeSequenced, nil
	case "parallel":
		return ModeParallel, nil
	default:
		return ModeSequenced, fmt.Errorf("unknown job mode %q", s)
	}
}

// Executor does the actual work of a job. The returned value is opaque to the
// scheduler and kept on the Item.
//
// ctx is the scheduler's base context; Stop does not cancel it.
type Executor func(ctx context.Context, job *Item) (any, error)

// Item describes one unit of work.
//
// Callers set the exported fields before submission. Timing, lane and result
// are written by the worker that runs the job and read through accessors.
// Submitting the same Item twice is not supported.
type Item struct {
	// ID is assigned on submission when empty.
	ID string
	// Name identifies the job for uniqueness checks (case-insensitive) and logs.
	Name              string
	LanePriority      LanePriority
	UniqueOnExecution bool
	Executor          Executor

	mu     sync.Mutex
	lane   int
	start  time.Time
	end    time.Time
	result any
	err    error
	done   chan struct{}
}

// Validate reports whether the job can be submitted.
func (j *Item) Validate() error {
	if j.Executor == nil {
		return fmt.Errorf("%w [%s]", ErrNoExecutor, j.Name)
	}
	return nil
}

// Lane is the lane number the job was assigned to (0 for sequenced jobs).
func (j *Item) Lane() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lane
}

// StartedAt is zero until a worker picks the job up.
func (j *Item) StartedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.start
}

// EndedAt is zero until the executor returned.
func (j *Item) EndedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.end
}

// Duration is End-Start; ok is false until both are set.
func (j *Item) Duration() (d time.Duration, ok bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.start.IsZero() || j.end.IsZero() {
		return 0, false
	}
	return j.end.Sub(j.start), true
}

// Result returns what the executor produced.
func (j *Item) Result() any {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// Err returns the executor failure, if any.
func (j *Item) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Done is closed once the job finished executing. It never closes for jobs
// that were dropped or discarded on Stop.
func (j *Item) Done() <-chan struct{} {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done == nil {
		j.done = make(chan struct{})
	}
	return j.done
}

// Wait blocks until the job finished or ctx is done.
func (j *Item) Wait(ctx context.Context) error {
	select {
	case <-j.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Item) ensureID() {
	if strings.TrimSpace(j.ID) == "" {
		j.ID = uuid.NewString()
	}
}

func (j *Item) assignLane(n int) {
	j.mu.Lock()
	j.lane = n
	j.mu.Unlock()
}

func (j *Item) markStarted(t time.Time) {
	j.mu.Lock()
	j.start = t
	j.mu.Unlock()
}

func (j *Item) markFinished(t time.Time, result any, err error) {
	j.mu.Lock()
	j.end = t
	j.result = result
	j.err = err
	if j.done == nil {
		j.done = make(chan struct{})
	}
	close(j.done)
	j.mu.Unlock()
}

// Profile configures a scheduler run. It is validated on Start and does not
// change while the scheduler runs.
type Profile struct {
	// Lanes is the number of parallel lanes (>= 1).
	Lanes int `json:"lanes"`
	// ReservedLanes are the lowest-numbered lanes, usable by fast jobs only.
	// A value >= Lanes reserves every lane; standard jobs then use all lanes.
	ReservedLanes int `json:"reserved_lanes"`
	// StopTimeout bounds how long Stop waits for busy workers before clearing queues.
	StopTimeout time.Duration `json:"stop_timeout"`
	// PollInterval is how often idle workers re-check their queue without a wake-up.
	PollInterval time.Duration `json:"poll_interval"`
	// Debug emits assignment and start/end lines to the sink.
	Debug bool `json:"debug"`
	// UniqueParallel applies UniqueOnExecution to parallel submissions as well.
	UniqueParallel bool `json:"unique_parallel"`
}

const (
	DefaultLanes         = 10
	DefaultReservedLanes = 2
	DefaultStopTimeout   = 60 * time.Second
	DefaultPollInterval  = time.Second
)

func DefaultProfile() Profile {
	return Profile{
		Lanes:         DefaultLanes,
		ReservedLanes: DefaultReservedLanes,
		StopTimeout:   DefaultStopTimeout,
		PollInterval:  DefaultPollInterval,
	}
}

func (p Profile) Validate() error {
	if p.Lanes <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidLanes, p.Lanes)
	}
	if p.ReservedLanes < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidReservedLanes, p.ReservedLanes)
	}
	if p.StopTimeout < 0 {
		return fmt.Errorf("stop timeout must be >= 0, got %s", p.StopTimeout)
	}
	return nil
}

func (p Profile) withDefaults() Profile {
	if p.PollInterval <= 0 {
		p.PollInterval = DefaultPollInterval
	}
	return p
}

// allReserved reports whether standard jobs have no dedicated lanes.
func (p Profile) allReserved() bool { return p.ReservedLanes >= p.Lanes }
