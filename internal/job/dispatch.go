package job

// laneView is a single read of a lane's load. Loads are read without locks
// and only guide the choice; any lane from the candidate set is a valid answer.
type laneView struct {
	w         *worker
	count     int
	executing bool
}

// candidates returns the lanes a job of priority prio may use.
// Lanes are numbered 1..n in slice order.
func candidates(lanes []*worker, reserved int, prio LanePriority) []*worker {
	if prio == PriorityFast || reserved <= 0 {
		return lanes
	}
	if reserved >= len(lanes) {
		// Every lane is reserved: standard work shares the whole pool.
		return lanes
	}
	out := make([]*worker, 0, len(lanes)-reserved)
	for _, l := range lanes {
		if l.lane > reserved {
			out = append(out, l)
		}
	}
	return out
}

// pickLane chooses the lane for a parallel job:
//  1. the idle candidate (empty queue, not executing) with the highest number;
//  2. otherwise, among candidates holding the minimum queue length, the first
//     by (executing, queue length, number).
func pickLane(lanes []*worker, reserved int, prio LanePriority) *worker {
	cands := candidates(lanes, reserved, prio)
	if len(cands) == 0 {
		return nil
	}

	views := make([]laneView, len(cands))
	for i, l := range cands {
		views[i] = laneView{w: l, count: l.jobsCount(), executing: l.isExecuting()}
	}

	var idle *laneView
	for i := range views {
		v := &views[i]
		if v.count == 0 && !v.executing && (idle == nil || v.w.lane > idle.w.lane) {
			idle = v
		}
	}
	if idle != nil {
		return idle.w
	}

	lowest := views[0].count
	for _, v := range views[1:] {
		if v.count < lowest {
			lowest = v.count
		}
	}

	var best *laneView
	for i := range views {
		v := &views[i]
		if v.count > lowest {
			continue
		}
		if best == nil || lessLoaded(v, best) {
			best = v
		}
	}
	return best.w
}

func lessLoaded(a, b *laneView) bool {
	if a.executing != b.executing {
		return !a.executing
	}
	if a.count != b.count {
		return a.count < b.count
	}
	return a.w.lane < b.w.lane
}
