// Package workerprobe checks a running worker from the outside: its health
// server on the well-known port and, optionally, its Prometheus endpoint.
//
// Only one worker can hold the well-known port at a time, so a probe reports
// on whichever worker currently owns it.
package workerprobe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// DefaultWatch lists the metric families surfaced in MetricsSummary.Highlights.
var DefaultWatch = []string{
	"process_resident_memory_bytes",
	"process_cpu_seconds_total",
	"process_open_fds",
	"python_gc_objects_collected_total",
}

// Config controls where and how the worker is probed.
type Config struct {
	// Host defaults to 127.0.0.1.
	Host string

	// HealthPort is the worker's health server. Zero disables the check.
	HealthPort int

	// MetricsPort is the worker's Prometheus endpoint. Zero disables it.
	MetricsPort int
	MetricsPath string // default /metrics

	// Watch names the families copied into Highlights. Defaults to DefaultWatch.
	Watch []string

	Timeout time.Duration // per request, default 2s
}

// MetricsSummary is a condensed view of a scrape.
type MetricsSummary struct {
	Families   int                `json:"families"`
	Samples    int                `json:"samples"`
	Highlights map[string]float64 `json:"highlights,omitempty"`
}

// Result is the outcome of one Probe.
type Result struct {
	CheckedAt time.Time     `json:"checked_at"`
	Latency   time.Duration `json:"latency_ns"`

	Healthy      bool   `json:"healthy"`
	HealthStatus int    `json:"health_status,omitempty"`
	HealthError  string `json:"health_error,omitempty"`

	Metrics      *MetricsSummary `json:"metrics,omitempty"`
	MetricsError string          `json:"metrics_error,omitempty"`
}

// Prober probes a worker over HTTP.
type Prober struct {
	cfg    Config
	client *http.Client
}

// New creates a Prober. Unset fields take their defaults.
func New(cfg Config) *Prober {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if len(cfg.Watch) == 0 {
		cfg.Watch = DefaultWatch
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Prober{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Enabled reports whether any check is configured.
func (p *Prober) Enabled() bool {
	return p.cfg.HealthPort > 0 || p.cfg.MetricsPort > 0
}

// Probe runs every configured check. Failures are reported in the result,
// never as an error.
func (p *Prober) Probe(ctx context.Context) Result {
	start := time.Now()
	res := Result{CheckedAt: start}

	if p.cfg.HealthPort > 0 {
		status, err := p.CheckHealth(ctx)
		res.HealthStatus = status
		if err != nil {
			res.HealthError = err.Error()
		} else {
			res.Healthy = true
		}
	}

	if p.cfg.MetricsPort > 0 {
		summary, err := p.ScrapeMetrics(ctx)
		if err != nil {
			res.MetricsError = err.Error()
		} else {
			res.Metrics = summary
		}
	}

	res.Latency = time.Since(start)
	return res
}

// CheckHealth GETs the worker's health server root. Any 2xx is healthy.
func (p *Prober) CheckHealth(ctx context.Context) (int, error) {
	resp, err := p.get(ctx, p.url(p.cfg.HealthPort, "/"))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// ScrapeMetrics fetches and summarizes the worker's Prometheus text endpoint.
func (p *Prober) ScrapeMetrics(ctx context.Context) (*MetricsSummary, error) {
	resp, err := p.get(ctx, p.url(p.cfg.MetricsPort, p.cfg.MetricsPath))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}

	families, err := decodeFamilies(resp.Body)
	if err != nil {
		return nil, err
	}
	return summarize(families, p.cfg.Watch), nil
}

func (p *Prober) url(port int, path string) string {
	return "http://" + net.JoinHostPort(p.cfg.Host, strconv.Itoa(port)) + path
}

func (p *Prober) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	return resp, nil
}

// decodeFamilies parses Prometheus text format into families keyed by name.
func decodeFamilies(r io.Reader) (map[string]*dto.MetricFamily, error) {
	decoder := expfmt.NewDecoder(r, expfmt.FmtText)
	families := make(map[string]*dto.MetricFamily)

	for {
		var mf dto.MetricFamily
		if err := decoder.Decode(&mf); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode error: %w", err)
		}
		families[mf.GetName()] = &mf
	}
	return families, nil
}

// summarize counts families and samples and sums the watched families across
// their label sets.
func summarize(families map[string]*dto.MetricFamily, watch []string) *MetricsSummary {
	s := &MetricsSummary{Families: len(families)}

	for _, mf := range families {
		s.Samples += len(mf.GetMetric())
	}

	for _, name := range watch {
		mf, ok := families[name]
		if !ok {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			total += sampleValue(mf.GetType(), m)
		}
		if s.Highlights == nil {
			s.Highlights = make(map[string]float64)
		}
		s.Highlights[name] = total
	}
	return s
}

func sampleValue(t dto.MetricType, m *dto.Metric) float64 {
	switch t {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	case dto.MetricType_UNTYPED:
		return m.GetUntyped().GetValue()
	case dto.MetricType_SUMMARY:
		return m.GetSummary().GetSampleSum()
	case dto.MetricType_HISTOGRAM:
		return m.GetHistogram().GetSampleSum()
	default:
		return 0
	}
}
