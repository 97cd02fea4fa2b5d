// Package metrics provides Prometheus metrics for room-agent-supervisor.
//
// All metrics are aggregate; session identifiers are never used as label
// values so cardinality stays fixed regardless of how many rooms are served.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/influxdata/tdigest"
	"github.com/prometheus/client_golang/prometheus"
)

// Start outcomes used as the "outcome" label of room_agent_starts_total.
const (
	OutcomeReady    = "ready"
	OutcomeStarting = "starting"
	OutcomeFailed   = "failed"
)

// Collector manages Prometheus metrics and keeps the figures needed for the
// exit summary and the dashboard.
type Collector struct {
	// --- Overview ---
	info   *prometheus.GaugeVec
	active prometheus.Gauge

	// --- Start requests ---
	starts       *prometheus.CounterVec
	failures     *prometheus.CounterVec
	readySeconds prometheus.Histogram

	// --- Stop requests ---
	stops *prometheus.CounterVec

	// --- Worker lifecycle ---
	exits         *prometheus.CounterVec
	uptimeSeconds prometheus.Histogram

	// --- Output pipeline ---
	linesDropped *prometheus.CounterVec

	mu          sync.Mutex
	startTime   time.Time
	peakActive  int
	outcomes    map[string]int64
	failureKind map[string]int64
	stopped     int64
	stopNoops   int64
	exitCodes   map[int]int64
	readyDigest *tdigest.TDigest
	uptimes     *tdigest.TDigest
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version    string
	Runner     string
	WorkerPort int
}

// NewCollector creates a new metrics collector registered with the default
// Prometheus registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "room_agent_info",
				Help: "Information about the supervisor (value always 1)",
			},
			[]string{"version", "runner"},
		),
		active: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "room_agent_active_workers",
				Help: "Workers currently registered",
			},
		),
		starts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "room_agent_starts_total",
				Help: "Start requests by outcome (ready, starting = resolved by timeout, failed)",
			},
			[]string{"outcome"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "room_agent_start_failures_total",
				Help: "Failed start requests by error kind",
			},
			[]string{"kind"},
		),
		readySeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name: "room_agent_ready_seconds",
				Help: "Time from spawn to a readiness line",
				Buckets: []float64{
					0.25, 0.5, 1, 2, 3, 5, 7.5, 10, 15,
				},
			},
		),
		stops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "room_agent_stops_total",
				Help: "Stop requests by result (stopped, noop)",
			},
			[]string{"result"},
		),
		exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "room_agent_worker_exits_total",
				Help: "Worker exits by category (success, error, signal)",
			},
			[]string{"category"},
		),
		uptimeSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "room_agent_worker_uptime_seconds",
				Help:    "Worker lifetime at exit",
				Buckets: prometheus.ExponentialBuckets(1, 4, 9), // 1s .. ~18h
			},
		),
		linesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "room_agent_output_lines_dropped_total",
				Help: "Worker output lines dropped by the lossy parser pipeline",
			},
			[]string{"stream"},
		),

		startTime:   time.Now(),
		outcomes:    make(map[string]int64),
		failureKind: make(map[string]int64),
		exitCodes:   make(map[int]int64),
		readyDigest: tdigest.NewWithCompression(100),
		uptimes:     tdigest.NewWithCompression(100),
	}

	registry.MustRegister(
		c.info,
		c.active,
		c.starts,
		c.failures,
		c.readySeconds,
		c.stops,
		c.exits,
		c.uptimeSeconds,
		c.linesDropped,
	)

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	c.info.WithLabelValues(version, cfg.Runner).Set(1)

	return c
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// RecordStart records a successful start. ready is false when the request was
// resolved by the timeout; elapsed is only observed for real readiness.
func (c *Collector) RecordStart(ready bool, elapsed time.Duration) {
	outcome := OutcomeStarting
	if ready {
		outcome = OutcomeReady
		c.readySeconds.Observe(elapsed.Seconds())
	}
	c.starts.WithLabelValues(outcome).Inc()

	c.mu.Lock()
	c.outcomes[outcome]++
	if ready {
		c.readyDigest.Add(elapsed.Seconds(), 1)
	}
	c.mu.Unlock()
}

// RecordFailure records a failed start of the given kind.
func (c *Collector) RecordFailure(kind string) {
	c.starts.WithLabelValues(OutcomeFailed).Inc()
	c.failures.WithLabelValues(kind).Inc()

	c.mu.Lock()
	c.outcomes[OutcomeFailed]++
	c.failureKind[kind]++
	c.mu.Unlock()
}

// RecordStop records a stop request.
func (c *Collector) RecordStop(stopped bool) {
	result := "noop"
	if stopped {
		result = "stopped"
	}
	c.stops.WithLabelValues(result).Inc()

	c.mu.Lock()
	if stopped {
		c.stopped++
	} else {
		c.stopNoops++
	}
	c.mu.Unlock()
}

// RecordExit records a process exit event.
func (c *Collector) RecordExit(exitCode int, uptime time.Duration) {
	c.exits.WithLabelValues(exitCategory(exitCode)).Inc()
	c.uptimeSeconds.Observe(uptime.Seconds())

	c.mu.Lock()
	c.exitCodes[exitCode]++
	c.uptimes.Add(uptime.Seconds(), 1)
	c.mu.Unlock()
}

// RecordDropped adds dropped output lines for a stream.
func (c *Collector) RecordDropped(stream string, n int64) {
	if n > 0 {
		c.linesDropped.WithLabelValues(stream).Add(float64(n))
	}
}

// SetActiveCount updates the registered worker count.
func (c *Collector) SetActiveCount(count int) {
	c.active.Set(float64(count))

	c.mu.Lock()
	if count > c.peakActive {
		c.peakActive = count
	}
	c.mu.Unlock()
}

func exitCategory(code int) string {
	switch {
	case code == 0:
		return "success"
	case code > 128:
		return "signal"
	default:
		return "error"
	}
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds the data for generating an exit summary.
type Summary struct {
	Duration          time.Duration
	PeakActiveWorkers int
	StartsReady       int64
	StartsTimedOut    int64
	StartsFailed      int64
	FailuresByKind    map[string]int64
	Stopped           int64
	StopNoops         int64
	ExitCodes         map[int]int64
	ReadyP50          time.Duration
	ReadyP95          time.Duration
	ReadyP99          time.Duration
	UptimeP50         time.Duration
	UptimeP95         time.Duration
}

// TotalStarts returns the number of start requests that resolved.
func (s *Summary) TotalStarts() int64 {
	return s.StartsReady + s.StartsTimedOut + s.StartsFailed
}

// SortedExitCodes returns the exit codes seen, ascending.
func (s *Summary) SortedExitCodes() []int {
	codes := make([]int, 0, len(s.ExitCodes))
	for code := range s.ExitCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes
}

// GenerateSummary creates a summary of the run.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:          time.Since(c.startTime),
		PeakActiveWorkers: c.peakActive,
		StartsReady:       c.outcomes[OutcomeReady],
		StartsTimedOut:    c.outcomes[OutcomeStarting],
		StartsFailed:      c.outcomes[OutcomeFailed],
		FailuresByKind:    make(map[string]int64, len(c.failureKind)),
		Stopped:           c.stopped,
		StopNoops:         c.stopNoops,
		ExitCodes:         make(map[int]int64, len(c.exitCodes)),
	}
	for kind, n := range c.failureKind {
		s.FailuresByKind[kind] = n
	}
	for code, n := range c.exitCodes {
		s.ExitCodes[code] = n
	}

	if c.readyDigest.Count() > 0 {
		s.ReadyP50 = seconds(c.readyDigest.Quantile(0.50))
		s.ReadyP95 = seconds(c.readyDigest.Quantile(0.95))
		s.ReadyP99 = seconds(c.readyDigest.Quantile(0.99))
	}
	if c.uptimes.Count() > 0 {
		s.UptimeP50 = seconds(c.uptimes.Quantile(0.50))
		s.UptimeP95 = seconds(c.uptimes.Quantile(0.95))
	}

	return s
}

// PeakActive returns the peak registered worker count.
func (c *Collector) PeakActive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peakActive
}

// Uptime returns how long the collector has been running.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
