package app

import (
	"fmt"
	"strings"
	"time"

	"lanework/internal/admin"
	"lanework/internal/config"
	"lanework/internal/job"
	"lanework/internal/job/builtin"
	"lanework/internal/job/trigger"
	"lanework/internal/logsink"
	"lanework/internal/storage"
	logx "lanework/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Hourly: logx.HourlyConfig{
			Enabled:    lc.Hourly.Enabled,
			Dir:        lc.Hourly.Dir,
			StoreDebug: lc.Hourly.StoreDebug,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			Token:      lc.Telegram.Token,
			ChatID:     lc.Telegram.ChatID,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

// mapProfile applies job defaults to omitted fields.
func mapProfile(cfg *config.Config) (job.Profile, error) {
	pc := cfg.Profile
	p := job.DefaultProfile()
	if pc.Lanes != 0 {
		p.Lanes = pc.Lanes
	}
	if pc.ReservedLanes != nil {
		p.ReservedLanes = *pc.ReservedLanes
	}
	var err error
	if p.StopTimeout, err = config.ParseDurationOrDefault("profile.stop_timeout", pc.StopTimeout, job.DefaultStopTimeout); err != nil {
		return job.Profile{}, err
	}
	if p.PollInterval, err = config.ParseDurationOrDefault("profile.poll_interval", pc.PollInterval, job.DefaultPollInterval); err != nil {
		return job.Profile{}, err
	}
	p.Debug = pc.Debug
	p.UniqueParallel = pc.UniqueParallel
	if err := p.Validate(); err != nil {
		return job.Profile{}, err
	}
	return p, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path, HistorySize: sc.HistorySize}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, HistorySize: sc.HistorySize}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapAdmin(cfg *config.Config) admin.Config {
	ac := cfg.Admin
	return admin.Config{
		Enabled:       ac.Enabled,
		Addr:          ac.AdminAddr(),
		Token:         strings.TrimSpace(ac.Token),
		AllowInsecure: ac.AllowInsecure,
		Pprof:         ac.Pprof,
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  60 * time.Second, // covers a default 30s pprof profile
		IdleTimeout:   60 * time.Second,
	}
}

// mapTriggers builds trigger definitions from config. Disabled entries are
// skipped. Errors name the offending trigger.
func mapTriggers(cfg *config.Config, deps builtin.Deps) ([]trigger.Definition, error) {
	out := make([]trigger.Definition, 0, len(cfg.Triggers))
	for i, tc := range cfg.Triggers {
		if tc.Disabled {
			continue
		}
		path := fmt.Sprintf("triggers[%d]", i)
		d, err := mapTrigger(path, tc, deps)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func mapTrigger(path string, tc config.TriggerConfig, deps builtin.Deps) (trigger.Definition, error) {
	mode, err := job.ParseMode(tc.Mode)
	if err != nil {
		return trigger.Definition{}, fmt.Errorf("%s.mode: %w", path, err)
	}
	prio, err := job.ParsePriority(tc.Priority)
	if err != nil {
		return trigger.Definition{}, fmt.Errorf("%s.priority: %w", path, err)
	}
	level, err := logsink.ParseLevel(tc.Level)
	if err != nil {
		return trigger.Definition{}, fmt.Errorf("%s.level: %w", path, err)
	}
	dur, err := config.ParseDurationField(path+".duration", tc.Duration)
	if err != nil {
		return trigger.Definition{}, err
	}
	timeout, err := config.ParseDurationField(path+".timeout", tc.Timeout)
	if err != nil {
		return trigger.Definition{}, err
	}
	exec, err := builtin.Build(builtin.Spec{
		Kind:     tc.Kind,
		Command:  tc.Command,
		Dir:      tc.Dir,
		Env:      tc.Env,
		Message:  tc.Message,
		Level:    level,
		Duration: dur,
		Unit:     tc.Unit,
		Action:   tc.Action,
		Timeout:  timeout,
	}, deps)
	if err != nil {
		return trigger.Definition{}, fmt.Errorf("%s (%s): %w", path, tc.Name, err)
	}
	return trigger.Definition{
		Name:     strings.TrimSpace(tc.Name),
		Schedule: tc.Schedule,
		Mode:     mode,
		Priority: prio,
		Unique:   tc.Unique,
		Executor: exec,
	}, nil
}

func runRecord(ev job.JobEvent) storage.RunRecord {
	return storage.RunRecord{
		ID:         ev.ID,
		Name:       ev.Name,
		Mode:       ev.Mode,
		Lane:       ev.Lane,
		Priority:   ev.Priority,
		Started:    ev.Started,
		Ended:      ev.Ended,
		DurationMS: ev.Duration.Milliseconds(),
		OK:         ev.Error == "",
		Error:      ev.Error,
	}
}
