package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultAdminAddr   = "127.0.0.1:8088"
	DefaultHistorySize = 500
)

// Validate checks what can be checked without building anything. Executor
// and schedule specifics are checked again when triggers are registered.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	p := cfg.Profile
	if p.Lanes < 0 {
		errs = append(errs, fmt.Errorf("profile.lanes: must be >= 0, got %d", p.Lanes))
	}
	if p.ReservedLanes != nil && *p.ReservedLanes < 0 {
		errs = append(errs, fmt.Errorf("profile.reserved_lanes: must be >= 0, got %d", *p.ReservedLanes))
	}
	if _, err := ParseDurationField("profile.stop_timeout", p.StopTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("profile.poll_interval", p.PollInterval); err != nil {
		errs = append(errs, err)
	}

	if tg := cfg.Logging.Telegram; tg.Enabled {
		if strings.TrimSpace(tg.Token) == "" {
			errs = append(errs, errors.New("logging.telegram.token: required when enabled"))
		}
		if tg.ChatID == 0 {
			errs = append(errs, errors.New("logging.telegram.chat_id: required when enabled"))
		}
		if tg.RatePerSec < 0 {
			errs = append(errs, fmt.Errorf("logging.telegram.rate_per_sec: must be >= 0, got %d", tg.RatePerSec))
		}
		if !knownLevel(tg.MinLevel) {
			errs = append(errs, fmt.Errorf("logging.telegram.min_level: unknown level %q", tg.MinLevel))
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("timezone: invalid %q: %w", tz, err))
		}
	}

	seen := map[string]bool{}
	for i, t := range cfg.Triggers {
		path := fmt.Sprintf("triggers[%d]", i)
		name := strings.TrimSpace(t.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s.name: required", path))
		} else if seen[strings.ToLower(name)] {
			errs = append(errs, fmt.Errorf("%s.name: duplicate trigger %q", path, name))
		}
		seen[strings.ToLower(name)] = true
		if strings.TrimSpace(t.Schedule) == "" {
			errs = append(errs, fmt.Errorf("%s.schedule: required", path))
		}
		if strings.TrimSpace(t.Kind) == "" {
			errs = append(errs, fmt.Errorf("%s.kind: required", path))
		}
		if _, err := ParseDurationField(path+".duration", t.Duration); err != nil {
			errs = append(errs, err)
		}
		if _, err := ParseDurationField(path+".timeout", t.Timeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func knownLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "trace", "debug", "info", "information", "warn", "warning", "error":
		return true
	}
	return false
}

// AdminAddr returns the configured address or the default.
func (a AdminConfig) AdminAddr() string {
	if addr := strings.TrimSpace(a.Addr); addr != "" {
		return addr
	}
	return DefaultAdminAddr
}
