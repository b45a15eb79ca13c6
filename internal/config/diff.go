package config

import (
	"reflect"
	"sort"
	"strings"

	logx "lanework/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and
// structured attrs for logging them.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if ProfileChanged(oldCfg, newCfg) {
		p := newCfg.Profile
		reserved := -1
		if p.ReservedLanes != nil {
			reserved = *p.ReservedLanes
		}
		changed = append(changed, "profile")
		attrs = append(attrs,
			logx.Int("profile.lanes", p.Lanes),
			logx.Int("profile.reserved_lanes", reserved),
			logx.String("profile.stop_timeout", strings.TrimSpace(p.StopTimeout)),
			logx.Bool("profile.debug", p.Debug),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.hourly_enabled", newCfg.Logging.Hourly.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if oldCfg.Admin != newCfg.Admin {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Bool("admin.enabled", newCfg.Admin.Enabled),
			logx.String("admin.addr", newCfg.Admin.AdminAddr()),
		)
	}

	if strings.TrimSpace(oldCfg.Timezone) != strings.TrimSpace(newCfg.Timezone) ||
		!reflect.DeepEqual(oldCfg.Triggers, newCfg.Triggers) {
		changed = append(changed, "triggers")
		attrs = append(attrs,
			logx.String("triggers.timezone", strings.TrimSpace(newCfg.Timezone)),
			logx.Int("triggers.count", len(newCfg.Triggers)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// ProfileChanged reports whether applying newCfg needs a scheduler restart.
func ProfileChanged(oldCfg, newCfg *Config) bool {
	return hashJSON(oldCfg.Profile) != hashJSON(newCfg.Profile)
}
