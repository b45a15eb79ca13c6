package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"lanework/internal/eventbus"
	"lanework/internal/logsink"
	rtsup "lanework/internal/runtime/supervisor"
	logx "lanework/pkg/logx"
)

// Scheduler runs jobs on one sequenced queue and a pool of parallel lanes.
//
// Submissions never block. Start and Stop must not race with submissions.
type Scheduler struct {
	sink    logsink.Sink
	bus     eventbus.Bus
	log     logx.Logger
	baseCtx context.Context

	mu  sync.Mutex
	gen *generation

	submitted atomic.Uint64
	executed  atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64
	dropped   atomic.Uint64
}

// generation is everything created by one Start.
type generation struct {
	profile  Profile
	sup      *rtsup.Supervisor
	lanes    []*worker
	seq      *worker
	stopping bool
}

func (g *generation) clear() (lanes, sequenced int) {
	for _, l := range g.lanes {
		lanes += l.q.clear()
	}
	return lanes, g.seq.q.clear()
}

func (g *generation) busy() int {
	n := 0
	for _, l := range g.lanes {
		if l.isExecuting() {
			n++
		}
	}
	if g.seq.isExecuting() {
		n++
	}
	return n
}

type Option func(*Scheduler)

// WithBus publishes job.* events to bus.
func WithBus(bus eventbus.Bus) Option {
	return func(s *Scheduler) { s.bus = bus }
}

// WithLogger sets the structured logger used for worker supervision.
func WithLogger(log logx.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithBaseContext sets the context passed to executors.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Scheduler) {
		if ctx != nil {
			s.baseCtx = ctx
		}
	}
}

func New(sink logsink.Sink, opts ...Option) *Scheduler {
	if sink == nil {
		sink = logsink.Discard
	}
	s := &Scheduler{sink: sink, baseCtx: context.Background()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start validates profile (nil means DefaultProfile) and starts the lanes and
// the sequenced driver. Starting a running scheduler resets it and discards
// whatever was queued.
func (s *Scheduler) Start(profile *Profile) error {
	p := DefaultProfile()
	if profile != nil {
		p = *profile
	}
	p = p.withDefaults()
	if err := p.Validate(); err != nil {
		s.sink.Write(logsink.Error, fmt.Sprintf("[Job:Start] %v", err))
		return err
	}

	s.mu.Lock()
	prev := s.gen
	s.gen = nil
	s.mu.Unlock()
	if prev != nil {
		prev.sup.Cancel()
		nl, ns := prev.clear()
		s.sink.Write(logsink.Warning, fmt.Sprintf("[Job:Start] scheduler restarted while running, %d queued jobs discarded", nl+ns))
	}

	gen := &generation{
		profile: p,
		sup:     rtsup.New(context.Background(), rtsup.WithLogger(s.log.With(logx.String("comp", "jobs")))),
		lanes:   make([]*worker, 0, p.Lanes),
		seq:     newSequencer(s, p),
	}
	for i := 1; i <= p.Lanes; i++ {
		l := newLane(s, i, p)
		gen.lanes = append(gen.lanes, l)
		gen.sup.GoRestart(l.name(), l.run)
	}
	gen.sup.GoRestart(gen.seq.name(), gen.seq.run)

	s.mu.Lock()
	s.gen = gen
	s.mu.Unlock()

	if p.allReserved() && p.ReservedLanes > 0 {
		s.sink.Write(logsink.Warning, fmt.Sprintf("[Job:Start] all %d lanes are reserved, standard jobs will share them", p.Lanes))
	}
	if p.Debug {
		s.sink.Write(logsink.Debug, fmt.Sprintf("[Job:Start] started with %d lanes (%d reserved)", p.Lanes, p.ReservedLanes))
	}
	return nil
}

// Stop cancels the workers, waits up to the profile's StopTimeout for the
// busy ones to come back, then discards everything still queued.
//
// Running executors are never interrupted; a worker still inside one after
// the grace period is left to finish on its own. ctx can cut the wait short.
func (s *Scheduler) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	gen := s.gen
	if gen == nil || gen.stopping {
		s.mu.Unlock()
		return
	}
	gen.stopping = true
	s.mu.Unlock()

	gen.sup.Cancel()

	wctx, cancel := context.WithTimeout(ctx, gen.profile.StopTimeout)
	_ = gen.sup.Wait(wctx)
	graceElapsed := wctx.Err() != nil
	cancel()

	if graceElapsed {
		if busy := gen.busy(); busy > 0 {
			s.sink.Write(logsink.Warning, fmt.Sprintf("[Job:Stop] %d workers still executing after %s, left to finish detached", busy, gen.profile.StopTimeout))
		}
	}

	nl, ns := gen.clear()
	if total := nl + ns; total > 0 {
		s.dropped.Add(uint64(total))
		if nl > 0 {
			s.publish(EventDropped, JobEvent{Mode: ModeParallel.String(), Reason: ReasonDiscarded, Count: nl})
		}
		if ns > 0 {
			s.publish(EventDropped, JobEvent{Mode: ModeSequenced.String(), Reason: ReasonDiscarded, Count: ns})
		}
		s.sink.Write(logsink.Information, fmt.Sprintf("[Job:Stop] %d queued jobs discarded (%d parallel, %d sequenced)", total, nl, ns))
	}

	s.mu.Lock()
	if s.gen == gen {
		s.gen = nil
	}
	s.mu.Unlock()
}

// Running reports whether Start succeeded and Stop has not begun.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != nil && !s.gen.stopping
}

// Supervisor exposes the current workers' supervisor (nil when stopped).
func (s *Scheduler) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == nil {
		return nil
	}
	return s.gen.sup
}

func (s *Scheduler) current() (*generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == nil {
		return nil, ErrNotRunning
	}
	if s.gen.stopping {
		return nil, ErrStopping
	}
	return s.gen, nil
}

// AddSequenced queues jobs on the sequenced queue, in order. Each job is
// handled independently: invalid, duplicate or rejected jobs are logged and
// reported in the joined error, the others are still queued.
func (s *Scheduler) AddSequenced(jobs ...*Item) error {
	if len(jobs) == 0 {
		s.sink.Write(logsink.Debug, "[Job:AddSequenced] No jobs were provided")
		return nil
	}
	var errs []error
	for _, j := range jobs {
		if err := s.addSequenced(j); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AddParallel dispatches each job to a lane (see pickLane).
func (s *Scheduler) AddParallel(jobs ...*Item) error {
	if len(jobs) == 0 {
		s.sink.Write(logsink.Debug, "[Job:AddParallel] No jobs were provided")
		return nil
	}
	var errs []error
	for _, j := range jobs {
		if err := s.addParallel(j); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Add routes a job to the sequenced or parallel path.
func (s *Scheduler) Add(mode Mode, jobs ...*Item) error {
	if mode == ModeParallel {
		return s.AddParallel(jobs...)
	}
	return s.AddSequenced(jobs...)
}

func (s *Scheduler) admit(op string, mode Mode, j *Item) (*generation, error) {
	if j == nil {
		s.sink.Write(logsink.Error, fmt.Sprintf("[Job:%s] %v", op, ErrNilItem))
		s.dropped.Add(1)
		return nil, ErrNilItem
	}
	if err := j.Validate(); err != nil {
		s.sink.Write(logsink.Error, fmt.Sprintf("[Job:%s] %v", op, err))
		s.dropped.Add(1)
		s.publish(EventDropped, submitEvent(j, mode, ReasonInvalid))
		return nil, err
	}
	gen, err := s.current()
	if err != nil {
		reason := ReasonNotRunning
		if errors.Is(err, ErrStopping) {
			reason = ReasonStopping
		}
		s.sink.Write(logsink.Error, fmt.Sprintf("[Job:%s] Job [%s] dropped: %v", op, j.Name, err))
		s.dropped.Add(1)
		s.publish(EventDropped, submitEvent(j, mode, reason))
		return nil, err
	}
	j.ensureID()
	return gen, nil
}

func (s *Scheduler) skip(op string, mode Mode, j *Item) error {
	s.sink.Write(logsink.Debug, fmt.Sprintf("[Job:%s] Job [%s] skipped, declared unique and there were another", op, j.Name))
	s.skipped.Add(1)
	s.publish(EventSkipped, submitEvent(j, mode, ReasonDuplicate))
	return fmt.Errorf("%w [%s]", ErrDuplicate, j.Name)
}

func (s *Scheduler) addSequenced(j *Item) error {
	gen, err := s.admit("AddSequenced", ModeSequenced, j)
	if err != nil {
		return err
	}
	if j.UniqueOnExecution {
		if !gen.seq.q.pushUnique(j) {
			return s.skip("AddSequenced", ModeSequenced, j)
		}
	} else {
		gen.seq.enqueue(j)
	}
	s.submitted.Add(1)
	return nil
}

func (s *Scheduler) addParallel(j *Item) error {
	gen, err := s.admit("AddParallel", ModeParallel, j)
	if err != nil {
		return err
	}
	if gen.profile.UniqueParallel && j.UniqueOnExecution {
		for _, l := range gen.lanes {
			if l.q.has(j.Name) {
				return s.skip("AddParallel", ModeParallel, j)
			}
		}
	}

	lane := pickLane(gen.lanes, gen.profile.ReservedLanes, j.LanePriority)
	if lane == nil {
		// Unreachable with a validated profile; kept so a bad lane set can't panic a caller.
		s.sink.Write(logsink.Error, fmt.Sprintf("[Job:AddParallel] no lane available for job [%s]", j.Name))
		s.dropped.Add(1)
		return ErrNotRunning
	}
	j.assignLane(lane.lane)
	if gen.profile.Debug {
		s.sink.Write(logsink.Debug, fmt.Sprintf("Lane [%d] as assigned to [%s]", lane.lane, j.Name))
	}
	s.publish(EventAssigned, submitEvent(j, ModeParallel, ""))
	lane.enqueue(j)
	s.submitted.Add(1)
	return nil
}
