// Package app wires the daemon: config, logging, scheduler, triggers, run
// history, metrics, admin HTTP and systemd integration.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lanework/internal/admin"
	"lanework/internal/config"
	"lanework/internal/eventbus"
	"lanework/internal/job"
	"lanework/internal/job/builtin"
	"lanework/internal/job/trigger"
	"lanework/internal/logsink"
	"lanework/internal/metrics"
	rtsup "lanework/internal/runtime/supervisor"
	"lanework/internal/storage"
	logx "lanework/pkg/logx"
	"lanework/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	// Outcome subscribers outlive sup's context so runs finishing during the
	// scheduler's stop grace are still recorded.
	subsCtx    context.Context
	cancelSubs context.CancelFunc

	log   logx.Logger
	logs  *logx.Service
	sink  logsink.Sink
	bus   eventbus.Bus
	store storage.Store

	units      systemd.Runner
	closeUnits func() error

	sched   *job.Scheduler
	trig    *trigger.Service
	metrics *metrics.Metrics
	admin   *admin.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if _, err := mapProfile(cfg); err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogging(cfg), nil)
	log := root.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	jobsLog := root.With(logx.String("comp", "jobs"))
	sink := logsink.FromLogger(jobsLog)
	sched := job.New(sink, job.WithBus(bus), job.WithLogger(jobsLog))

	a := &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		sink:       sink,
		bus:        bus,
		store:      store,
		units:      systemd.Systemctl{},
		closeUnits: func() error { return nil },
		sched:      sched,
		trig:       trigger.New(trigger.Config{Timezone: cfg.Timezone}, sched, root.With(logx.String("comp", "triggers"))),
		metrics:    metrics.New(sched.Snapshot),
	}
	a.admin = admin.New(mapAdmin(cfg), admin.Deps{
		Scheduler: sched,
		Triggers:  a.trig,
		Store:     store,
		Gatherer:  a.metrics.Registry(),
		Health:    a.Err,
	}, root.With(logx.String("comp", "admin")))
	return a, nil
}

func (a *App) Scheduler() *job.Scheduler  { return a.sched }
func (a *App) Triggers() *trigger.Service { return a.trig }
func (a *App) Admin() *admin.Service      { return a.admin }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) builtinDeps() builtin.Deps {
	return builtin.Deps{Sink: a.sink, Units: a.units}
}

// validate runs on every reload before the new config is published.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if _, err := mapProfile(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	defs, err := mapTriggers(cfg, builtin.Deps{})
	if err != nil {
		return err
	}
	for _, d := range defs {
		if _, err := trigger.ParseSchedule(d.Schedule); err != nil {
			return fmt.Errorf("trigger %s: %w", d.Name, err)
		}
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	a.subsCtx, a.cancelSubs = context.WithCancel(context.WithoutCancel(ctx))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	if units, closeFn, err := systemd.Connect(ctx); err != nil {
		a.log.Debug("systemd bus unavailable, unit jobs use systemctl", logx.Err(err))
	} else {
		a.units, a.closeUnits = units, closeFn
	}

	cfg := a.cfgm.Get()
	profile, err := mapProfile(cfg)
	if err != nil {
		return err
	}
	if err := a.sched.Start(&profile); err != nil {
		return err
	}

	defs, err := mapTriggers(cfg, a.builtinDeps())
	if err != nil {
		return err
	}
	if err := a.trig.Replace(defs); err != nil {
		return err
	}
	a.trig.Start(a.sup.Context())

	// Subscribe before anything can run so no outcome is missed.
	if a.store != nil {
		runs, unsub := a.bus.Subscribe(256, job.EventFinished, job.EventFailed)
		a.sup.Go("history", func(context.Context) error {
			return a.recordHistory(a.subsCtx, runs, unsub)
		})
	}
	a.sup.Go("metrics", func(context.Context) error {
		return a.metrics.Run(a.subsCtx, a.bus)
	})

	a.admin.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.startWatchdog()
	if _, err := systemd.Notify(systemd.NotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	}

	a.log.Info("app started",
		logx.Int("lanes", profile.Lanes),
		logx.Int("reserved_lanes", profile.ReservedLanes),
		logx.Int("triggers", len(defs)),
		logx.Bool("admin", a.admin.Enabled()),
	)
	return nil
}

// recordHistory appends every finished or failed run to the store. When ctx
// ends it unsubscribes and records what is still buffered.
func (a *App) recordHistory(ctx context.Context, runs <-chan eventbus.Event, unsub func()) error {
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			unsub()
			for e := range runs {
				a.recordRun(e)
			}
			return nil
		case e, ok := <-runs:
			if !ok {
				return nil
			}
			a.recordRun(e)
		}
	}
}

func (a *App) recordRun(e eventbus.Event) {
	ev, ok := e.Data.(job.JobEvent)
	if !ok {
		return
	}
	wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.store.AppendRun(wctx, runRecord(ev)); err != nil {
		a.log.Warn("run history append failed", logx.String("job", ev.Name), logx.Err(err))
	}
}

// startWatchdog pings the systemd watchdog while the scheduler runs. A
// stalled or stopped scheduler lets the watchdog fire.
func (a *App) startWatchdog() {
	every, err := systemd.WatchdogInterval()
	if err != nil {
		a.log.Warn("systemd watchdog misconfigured", logx.Err(err))
		return
	}
	if every <= 0 {
		return
	}
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return nil
			case <-t.C:
				if a.sched.Running() {
					_, _ = systemd.Notify(systemd.NotifyWatchdog)
				}
			}
		}
	})
	a.log.Debug("systemd watchdog enabled", logx.Duration("every", every))
}

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	_, _ = systemd.Notify(systemd.NotifyReloading)
	defer func() { _, _ = systemd.Notify(systemd.NotifyReady) }()

	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	a.logs.Apply(mapLogging(newCfg))

	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
			break
		}
	}

	if config.ProfileChanged(oldCfg, newCfg) {
		a.restartScheduler(c, newCfg)
	}

	if defs, err := mapTriggers(newCfg, a.builtinDeps()); err != nil {
		a.log.Warn("invalid triggers config; keeping previous", logx.Err(err))
	} else if err := a.trig.Replace(defs); err != nil {
		a.log.Warn("some triggers were not registered", logx.Err(err))
	}
	a.trig.Apply(trigger.Config{Timezone: newCfg.Timezone})

	a.admin.Reconfigure(c, mapAdmin(newCfg))

	a.log.Info("config reloaded", fields...)
}

// restartScheduler stops the scheduler gracefully and starts it with the
// new profile. Queued jobs are discarded by Stop.
func (a *App) restartScheduler(c context.Context, cfg *config.Config) {
	profile, err := mapProfile(cfg)
	if err != nil {
		a.log.Warn("invalid profile config; keeping previous", logx.Err(err))
		return
	}
	a.sched.Stop(c)
	if err := a.sched.Start(&profile); err != nil {
		a.log.Error("scheduler restart failed", logx.Err(err))
		return
	}
	a.log.Info("scheduler restarted with new profile",
		logx.Int("lanes", profile.Lanes),
		logx.Int("reserved_lanes", profile.ReservedLanes),
	)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Notify(systemd.NotifyStopping)

	// Cancel first so reloads and the admin server stop immediately. Outcome
	// subscribers keep running until the scheduler has stopped.
	a.sup.Cancel()

	stopTimeout := job.DefaultStopTimeout
	if p, err := mapProfile(a.cfgm.Get()); err == nil {
		stopTimeout = p.StopTimeout
	}

	a.step(ctx, "triggers", 2*time.Second, func(c context.Context) error { a.trig.Stop(c); return nil })
	a.step(ctx, "scheduler", stopTimeout+time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.cancelSubs()
	a.step(ctx, "admin", 2*time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.step(ctx, "systemd", time.Second, func(context.Context) error { return a.closeUnits() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

	// WithTimeout never extends the caller's deadline.
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		// fn must honor stepCtx; if it doesn't, log when it eventually returns.
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline",
				logx.String("name", name),
				logx.Duration("took", time.Since(start)),
				logx.Bool("ok", err == nil),
			)
		}()
	}
}
