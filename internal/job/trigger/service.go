package trigger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"lanework/internal/job"
	logx "lanework/pkg/logx"
)

// Submitter is the part of job.Scheduler the trigger service needs.
type Submitter interface {
	Add(mode job.Mode, jobs ...*job.Item) error
}

// Definition is a recurring submission.
type Definition struct {
	Name     string
	Schedule string
	Mode     job.Mode
	Priority job.LanePriority
	Unique   bool
	Executor job.Executor
}

func (d Definition) item() *job.Item {
	return &job.Item{
		Name:              d.Name,
		LanePriority:      d.Priority,
		UniqueOnExecution: d.Unique,
		Executor:          d.Executor,
	}
}

type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"; empty means Local
}

type entry struct {
	def           Definition
	spec          ParsedSpec
	entryID       cron.EntryID
	startupSpread time.Duration
}

// Service registers definitions with robfig/cron and submits a fresh job
// on every fire.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	sub    Submitter
	parser cron.Parser
	c      *cron.Cron
	defs   []*entry
	// closed by Stop; ends the goroutine watching Start's ctx
	stopped chan struct{}

	// Submit failures are bursty (scheduler stopping); one warning per
	// schedule per reportEvery is enough.
	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

const reportEvery = 5 * time.Second

func New(cfg Config, sub Submitter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		sub: sub,
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		limiters: map[string]*rate.Limiter{},
	}
}

// Add registers d, replacing any definition with the same name. It can be
// called before Start; registration with cron then happens on Start.
func (s *Service) Add(d Definition) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return errors.New("name required")
	}
	if d.Executor == nil {
		return fmt.Errorf("%w [%s]", job.ErrNoExecutor, d.Name)
	}
	ps, err := ParseSchedule(d.Schedule)
	if err != nil {
		return fmt.Errorf("trigger %s: %w", d.Name, err)
	}
	if ps.Kind == SpecCron {
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("trigger %s: invalid cron %q: %w", d.Name, ps.Cron, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(d.Name)
	e := &entry{def: d, spec: ps}
	s.defs = append(s.defs, e)
	if s.c == nil {
		return nil
	}
	s.registerLocked(e)
	s.log.Debug("trigger registered",
		logx.String("name", d.Name),
		logx.String("schedule", d.Schedule),
		logx.String("mode", d.Mode.String()),
		logx.Duration("startup_spread", e.startupSpread),
	)
	return nil
}

// Replace swaps the whole definition set. Used on config reload.
func (s *Service) Replace(defs []Definition) error {
	var errs []error
	s.mu.Lock()
	for _, e := range s.defs {
		if s.c != nil && e.entryID != 0 {
			s.c.Remove(e.entryID)
		}
	}
	s.defs = nil
	s.mu.Unlock()

	for _, d := range defs {
		if err := s.Add(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Remove unregisters the named definition. It reports whether one existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.removeLocked(strings.TrimSpace(name))
	if removed {
		s.log.Debug("trigger removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) removeLocked(name string) bool {
	n := 0
	removed := false
	for _, e := range s.defs {
		if e.def.Name == name {
			if s.c != nil && e.entryID != 0 {
				s.c.Remove(e.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = e
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) registerLocked(e *entry) {
	fire := cron.FuncJob(func() { s.fire(e.def) })
	if e.spec.Kind == SpecInterval {
		sched, jitter := intervalWithSpread(e.spec.Every, time.Now().In(s.location()), e.def.Name)
		e.startupSpread = jitter
		e.entryID = s.c.Schedule(sched, fire)
		return
	}
	e.startupSpread = 0
	id, err := s.c.AddJob(e.spec.Cron, fire)
	if err != nil {
		// Validated in Add; only reachable if the parser changes underneath.
		s.log.Error("trigger register failed", logx.String("name", e.def.Name), logx.Err(err))
		return
	}
	e.entryID = id
}

// ErrNotFound is returned by RunNow for an unknown trigger name.
var ErrNotFound = errors.New("trigger not found")

// RunNow submits the named trigger's job immediately, outside its schedule.
// Submission errors are returned rather than reported.
func (s *Service) RunNow(name string) error {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	var def *Definition
	for _, e := range s.defs {
		if e.def.Name == name {
			d := e.def
			def = &d
			break
		}
	}
	s.mu.Unlock()
	if def == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s.sub.Add(def.Mode, def.item())
}

func (s *Service) fire(d Definition) {
	err := s.sub.Add(d.Mode, d.item())
	if err != nil {
		s.report(d.Name, err)
	}
}

func (s *Service) report(name string, err error) {
	// A unique job still queued from the previous fire is normal operation.
	if errors.Is(err, job.ErrDuplicate) {
		s.log.Debug("trigger skipped", logx.String("trigger", name), logx.Err(err))
		return
	}

	s.limMu.Lock()
	lim, ok := s.limiters[name]
	if !ok {
		lim = rate.NewLimiter(rate.Every(reportEvery), 1)
		s.limiters[name] = lim
	}
	s.limMu.Unlock()
	if !lim.Allow() {
		return
	}
	s.log.Warn("trigger failed to submit job", logx.String("trigger", name), logx.Err(err))
}

func (s *Service) location() *time.Location {
	if s.loc != nil {
		return s.loc
	}
	return time.Local
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Start begins firing registered definitions. Firing stops when ctx is
// done or Stop is called, whichever comes first.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.startLocked()
	s.stopped = make(chan struct{})
	s.log.Info("trigger service started", logx.String("tz", s.loc.String()), logx.Int("triggers", len(s.defs)))

	if ctx.Done() != nil {
		go s.stopOnDone(ctx, s.stopped)
	}
}

func (s *Service) stopOnDone(ctx context.Context, stopped chan struct{}) {
	select {
	case <-stopped:
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.stop(sctx, stopped)
	}
}

// Running reports whether triggers are firing.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

func (s *Service) startLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, e := range s.defs {
		s.registerLocked(e)
	}
	s.c.Start()
}

// Apply updates the config; a timezone change re-registers everything.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c == nil || oldTZ == strings.TrimSpace(cfg.Timezone) {
		return
	}
	<-s.c.Stop().Done()
	s.startLocked()
	s.log.Info("trigger service restarted", logx.String("tz", s.loc.String()), logx.Int("triggers", len(s.defs)))
}

// Stop stops firing. Definitions are kept for the next Start. A fire already
// in progress is waited for, bounded by ctx.
func (s *Service) Stop(ctx context.Context) { s.stop(ctx, nil) }

// stop stops the current run; with a non-nil run it only stops that run.
func (s *Service) stop(ctx context.Context, run chan struct{}) {
	s.mu.Lock()
	if run != nil && run != s.stopped {
		s.mu.Unlock()
		return
	}
	c := s.c
	s.c = nil
	for _, e := range s.defs {
		e.entryID = 0
	}
	if s.stopped != nil {
		close(s.stopped)
		s.stopped = nil
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("trigger service stopped")
}

// Info describes one registered definition.
type Info struct {
	Name          string        `json:"name"`
	Schedule      string        `json:"schedule"`
	Kind          string        `json:"kind"`
	Mode          string        `json:"mode"`
	Priority      string        `json:"priority"`
	StartupSpread time.Duration `json:"startup_spread,omitempty"`
	Next          time.Time     `json:"next,omitempty"`
	Prev          time.Time     `json:"prev,omitempty"`
}

func (s *Service) Snapshot() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.defs))
	for _, e := range s.defs {
		info := Info{
			Name:          e.def.Name,
			Schedule:      e.def.Schedule,
			Kind:          e.spec.Kind.String(),
			Mode:          e.def.Mode.String(),
			Priority:      e.def.Priority.String(),
			StartupSpread: e.startupSpread,
		}
		if s.c != nil && e.entryID != 0 {
			ce := s.c.Entry(e.entryID)
			info.Next = ce.Next
			info.Prev = ce.Prev
		}
		out = append(out, info)
	}
	return out
}
