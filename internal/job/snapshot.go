package job

// LaneSnapshot is a best-effort view of one lane.
type LaneSnapshot struct {
	Number    int  `json:"number"`
	JobsCount int  `json:"jobs_count"`
	Executing bool `json:"executing"`
	Reserved  bool `json:"reserved"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running            bool           `json:"running"`
	Profile            Profile        `json:"profile"`
	Lanes              []LaneSnapshot `json:"lanes"`
	SequencedLen       int            `json:"sequenced_len"`
	SequencedExecuting bool           `json:"sequenced_executing"`

	Submitted uint64 `json:"submitted"`
	Executed  uint64 `json:"executed"`
	Failed    uint64 `json:"failed"`
	Skipped   uint64 `json:"skipped"`
	Dropped   uint64 `json:"dropped"`
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	snap := Snapshot{
		Submitted: s.submitted.Load(),
		Executed:  s.executed.Load(),
		Failed:    s.failed.Load(),
		Skipped:   s.skipped.Load(),
		Dropped:   s.dropped.Load(),
	}
	if gen == nil {
		return snap
	}

	snap.Running = !gen.stopping
	snap.Profile = gen.profile
	snap.SequencedLen = gen.seq.jobsCount()
	snap.SequencedExecuting = gen.seq.isExecuting()
	snap.Lanes = make([]LaneSnapshot, 0, len(gen.lanes))
	for _, l := range gen.lanes {
		snap.Lanes = append(snap.Lanes, LaneSnapshot{
			Number:    l.lane,
			JobsCount: l.jobsCount(),
			Executing: l.isExecuting(),
			Reserved:  l.lane <= gen.profile.ReservedLanes,
		})
	}
	return snap
}
