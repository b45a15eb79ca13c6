// Package logsink is the diagnostic contract consumed by the job scheduler.
//
// The scheduler only ever calls Write(level, message); where the line ends up
// (console, hourly files, nowhere) is decided by the Sink implementation.
package logsink

import (
	"fmt"
	"strings"
	"sync"

	logx "lanework/pkg/logx"
)

type Level int

const (
	Debug Level = iota
	Information
	Success
	Warning
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "Debug"
	case Information:
		return "Information"
	case Success:
		return "Success"
	case Warning:
		return "Warning"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

type Sink interface {
	Write(level Level, message string)
}

// Func adapts a plain function to Sink.
type Func func(level Level, message string)

func (f Func) Write(level Level, message string) { f(level, message) }

// Discard drops everything.
var Discard Sink = Func(func(Level, string) {})

// FromLogger routes sink writes into a logx.Logger.
func FromLogger(log logx.Logger) Sink {
	if log.IsZero() {
		return Discard
	}
	return logxSink{log: log}
}

type logxSink struct{ log logx.Logger }

func (s logxSink) Write(level Level, message string) {
	switch level {
	case Debug:
		s.log.Debug(message)
	case Information:
		s.log.Info(message)
	case Success:
		s.log.Success(message)
	case Warning:
		s.log.Warn(message)
	default:
		s.log.Error(message)
	}
}

// Entry is one recorded sink line.
type Entry struct {
	Level   Level
	Message string
}

// Recorder keeps every line in memory. It is safe for concurrent use and is
// mostly useful in tests.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *Recorder) Write(level Level, message string) {
	r.mu.Lock()
	r.entries = append(r.entries, Entry{Level: level, Message: message})
	r.mu.Unlock()
}

func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Count returns how many lines at level contain substr ("" matches all).
func (r *Recorder) Count(level Level, substr string) int {
	n := 0
	for _, e := range r.Entries() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			n++
		}
	}
	return n
}

// ParseLevel maps a level name to a Level. Empty means Information.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug, nil
	case "", "info", "information":
		return Information, nil
	case "success":
		return Success, nil
	case "warn", "warning":
		return Warning, nil
	case "error":
		return Error, nil
	default:
		return Information, fmt.Errorf("unknown log level %q", s)
	}
}
