// Package metrics exposes scheduler activity as Prometheus metrics.
package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"lanework/internal/eventbus"
	"lanework/internal/job"
)

const namespace = "lanework"

// Outcome label values of lanework_jobs_total.
const (
	OutcomeFinished = "finished"
	OutcomeFailed   = "failed"
	OutcomeSkipped  = "skipped"
	OutcomeDropped  = "dropped"
)

type Metrics struct {
	reg *prometheus.Registry

	Jobs     *prometheus.CounterVec
	Assigned *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// New builds a registry with the job counters, Go runtime collectors and,
// when snap is non-nil, per-lane gauges read from snap on every scrape.
func New(snap func() job.Snapshot) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "jobs_total", Help: "Jobs by mode and outcome"},
			[]string{"mode", "outcome"},
		),
		Assigned: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "lane_assignments_total", Help: "Parallel jobs assigned per lane"},
			[]string{"lane", "priority"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Executor run time",
				Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10),
			},
			[]string{"mode"},
		),
	}
	m.reg.MustRegister(
		m.Jobs, m.Assigned, m.Duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if snap != nil {
		m.reg.MustRegister(newLaneCollector(snap))
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Observe updates counters from one job event. Unknown events are ignored.
func (m *Metrics) Observe(e eventbus.Event) {
	ev, ok := e.Data.(job.JobEvent)
	if !ok {
		return
	}
	switch e.Type {
	case job.EventAssigned:
		m.Assigned.WithLabelValues(strconv.Itoa(ev.Lane), ev.Priority).Inc()
	case job.EventFinished:
		m.Jobs.WithLabelValues(ev.Mode, OutcomeFinished).Inc()
		m.Duration.WithLabelValues(ev.Mode).Observe(ev.Duration.Seconds())
	case job.EventFailed:
		m.Jobs.WithLabelValues(ev.Mode, OutcomeFailed).Inc()
		m.Duration.WithLabelValues(ev.Mode).Observe(ev.Duration.Seconds())
	case job.EventSkipped:
		m.Jobs.WithLabelValues(ev.Mode, OutcomeSkipped).Inc()
	case job.EventDropped:
		n := 1
		if ev.Count > 0 {
			n = ev.Count
		}
		m.Jobs.WithLabelValues(ev.Mode, OutcomeDropped).Add(float64(n))
	}
}

// Run feeds Observe from bus until ctx is done, then observes whatever is
// still buffered.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256,
		job.EventAssigned, job.EventFinished, job.EventFailed, job.EventSkipped, job.EventDropped)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			unsub()
			for e := range ch {
				m.Observe(e)
			}
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}

// laneCollector reports queue depth and busy state from a scheduler snapshot.
type laneCollector struct {
	snap func() job.Snapshot

	running    *prometheus.Desc
	depth      *prometheus.Desc
	executing  *prometheus.Desc
	seqDepth   *prometheus.Desc
	seqRunning *prometheus.Desc
}

func newLaneCollector(snap func() job.Snapshot) *laneCollector {
	return &laneCollector{
		snap:       snap,
		running:    prometheus.NewDesc(namespace+"_scheduler_running", "1 while the scheduler accepts jobs", nil, nil),
		depth:      prometheus.NewDesc(namespace+"_lane_queue_depth", "Jobs queued on a lane", []string{"lane", "reserved"}, nil),
		executing:  prometheus.NewDesc(namespace+"_lane_executing", "1 while a lane runs a job", []string{"lane", "reserved"}, nil),
		seqDepth:   prometheus.NewDesc(namespace+"_sequenced_queue_depth", "Jobs queued on the sequenced queue", nil, nil),
		seqRunning: prometheus.NewDesc(namespace+"_sequenced_executing", "1 while a sequenced job runs", nil, nil),
	}
}

func (c *laneCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.running
	ch <- c.depth
	ch <- c.executing
	ch <- c.seqDepth
	ch <- c.seqRunning
}

func (c *laneCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.snap()
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, b2f(s.Running))
	ch <- prometheus.MustNewConstMetric(c.seqDepth, prometheus.GaugeValue, float64(s.SequencedLen))
	ch <- prometheus.MustNewConstMetric(c.seqRunning, prometheus.GaugeValue, b2f(s.SequencedExecuting))
	for _, l := range s.Lanes {
		lane := strconv.Itoa(l.Number)
		reserved := strconv.FormatBool(l.Reserved)
		ch <- prometheus.MustNewConstMetric(c.depth, prometheus.GaugeValue, float64(l.JobsCount), lane, reserved)
		ch <- prometheus.MustNewConstMetric(c.executing, prometheus.GaugeValue, b2f(l.Executing), lane, reserved)
	}
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
