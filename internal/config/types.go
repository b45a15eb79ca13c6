package config

// Config is the daemon configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Profile ProfileConfig  `json:"profile"`
	Logging LoggingConfig  `json:"logging"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Admin   AdminConfig    `json:"admin"`
	// Timezone applies to cron triggers (IANA name; empty means Local).
	Timezone string          `json:"timezone,omitempty"`
	Triggers []TriggerConfig `json:"triggers,omitempty"`
}

// ProfileConfig maps onto job.Profile.
//
// Defaults (when fields are omitted/zero):
//   - lanes: 10
//   - reserved_lanes: 2
//   - stop_timeout: "60s"
//   - poll_interval: "1s"
//
// ReservedLanes is a pointer so an explicit 0 can be told apart from "omitted".
type ProfileConfig struct {
	Lanes          int    `json:"lanes,omitempty"`
	ReservedLanes  *int   `json:"reserved_lanes,omitempty"`
	StopTimeout    string `json:"stop_timeout,omitempty"`
	PollInterval   string `json:"poll_interval,omitempty"`
	Debug          bool   `json:"debug,omitempty"`
	UniqueParallel bool   `json:"unique_parallel,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Hourly   LoggingHourly   `json:"hourly"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingHourly writes one JSON file per hour into Dir.
type LoggingHourly struct {
	Enabled    bool   `json:"enabled"`
	Dir        string `json:"dir"`
	StoreDebug bool   `json:"store_debug,omitempty"`
}

// LoggingTelegram forwards log lines at or above MinLevel (default "error")
// to a Telegram chat, at most RatePerSec per second.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls run history persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/runs.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	HistorySize int    `json:"history_size,omitempty"`
}

// AdminConfig controls the optional admin HTTP server.
//
// A non-loopback Addr requires Token unless AllowInsecure is set. Requests
// authenticate with "Authorization: Bearer <token>" or ?token=.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:8088"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"` // mount /debug/pprof/
}

// TriggerConfig declares one recurring job.
//
// Kind selects the executor: exec (Command), log (Message, Level),
// sleep (Duration) or unit (Unit, Action).
type TriggerConfig struct {
	Name     string   `json:"name"`
	Schedule string   `json:"schedule"`
	Mode     string   `json:"mode,omitempty"`     // sequenced | parallel
	Priority string   `json:"priority,omitempty"` // standard | fast
	Unique   bool     `json:"unique,omitempty"`
	Disabled bool     `json:"disabled,omitempty"`
	Kind     string   `json:"kind"`
	Command  []string `json:"command,omitempty"`
	Dir      string   `json:"dir,omitempty"`
	Env      []string `json:"env,omitempty"`
	Message  string   `json:"message,omitempty"`
	Level    string   `json:"level,omitempty"`
	Duration string   `json:"duration,omitempty"`
	Unit     string   `json:"unit,omitempty"`
	Action   string   `json:"action,omitempty"`
	Timeout  string   `json:"timeout,omitempty"`
}
