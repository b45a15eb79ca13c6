package job

import (
	"time"

	"lanework/internal/eventbus"
)

// Event types published on the bus.
const (
	EventAssigned = "job.assigned"
	EventStarted  = "job.started"
	EventFinished = "job.finished"
	EventFailed   = "job.failed"
	EventSkipped  = "job.skipped"
	EventDropped  = "job.dropped"
)

// Drop and skip reasons carried in JobEvent.Reason.
const (
	ReasonInvalid    = "invalid"
	ReasonNotRunning = "not_running"
	ReasonStopping   = "stopping"
	ReasonDuplicate  = "duplicate"
	ReasonDiscarded  = "discarded_on_stop"
)

// JobEvent is the payload of every job.* event.
type JobEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Mode     string        `json:"mode"`
	Lane     int           `json:"lane,omitempty"`
	Priority string        `json:"priority"`
	Started  time.Time     `json:"started,omitempty"`
	Ended    time.Time     `json:"ended,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	// Count is set on discarded_on_stop events (one event per cleared queue).
	Count int `json:"count,omitempty"`
}

func (s *Scheduler) publish(typ string, ev JobEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

func submitEvent(j *Item, mode Mode, reason string) JobEvent {
	ev := JobEvent{Mode: mode.String(), Reason: reason}
	if j != nil {
		ev.ID = j.ID
		ev.Name = j.Name
		ev.Priority = j.LanePriority.String()
		ev.Lane = j.Lane()
	}
	return ev
}
