// Package orchestrator wires the supervisor, its servers and the dashboard
// together and owns the process lifecycle of room-agent-supervisor.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-room-agent-supervisor/internal/api"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/cleanup"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/config"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/metrics"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/preflight"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/process"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/registry"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/supervisor"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/timeseries"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/tui"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/workerprobe"
)

// Options carries the dependencies that are not part of Config.
type Options struct {
	Version string

	// Registry receives the collector's metrics and backs /metrics.
	// Defaults to the global Prometheus registry.
	Registry *prometheus.Registry

	// Out receives preflight results, foreground output and the exit
	// summary. Defaults to os.Stdout.
	Out io.Writer
}

// Orchestrator coordinates all components of a supervisor run.
type Orchestrator struct {
	config *config.Config
	logger *slog.Logger
	out    io.Writer

	agent      *process.AgentRunner
	registry   *registry.Registry
	supervisor *supervisor.Supervisor
	prober     *workerprobe.Prober

	metrics       *metrics.Collector
	metricsServer *metrics.Server // nil when MetricsAddr is empty
	apiServer     *api.Server

	startRate *timeseries.EventRate
	exitRate  *timeseries.EventRate

	exits chan string

	startTime time.Time
	started   chan struct{}
	startOnce sync.Once
}

// signatureOverride replaces the runner's stray-worker signature.
type signatureOverride struct {
	process.Runner
	signature string
}

func (s signatureOverride) Signature() string { return s.signature }

// New creates a new Orchestrator with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts Options) *Orchestrator {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	agent := process.NewAgentRunner(&process.AgentConfig{
		HomeDir:     cfg.WorkerHome,
		Interpreter: cfg.Interpreter,
		EntryScript: cfg.EntryScript,
		Args:        cfg.WorkerArgs,
	})
	var runner process.Runner = agent
	if cfg.StraySignature != "" {
		runner = signatureOverride{Runner: agent, signature: cfg.StraySignature}
	}

	var reclaimer cleanup.Reclaimer = cleanup.New(logger)
	if cfg.SkipCleanup {
		reclaimer = cleanup.Noop{}
	}

	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if opts.Registry != nil {
		registerer, gatherer = opts.Registry, opts.Registry
	}

	o := &Orchestrator{
		config:    cfg,
		logger:    logger,
		out:       out,
		agent:     agent,
		registry:  registry.New(),
		startRate: timeseries.NewEventRate(),
		exitRate:  timeseries.NewEventRate(),
		exits:     make(chan string, 16),
		started:   make(chan struct{}),
		metrics: metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
			Version:    opts.Version,
			Runner:     agent.Name(),
			WorkerPort: cfg.WorkerPort,
		}, registerer),
		prober: workerprobe.New(workerprobe.Config{
			HealthPort:  cfg.WorkerPort,
			MetricsPort: cfg.WorkerMetricsPort,
		}),
	}

	o.supervisor = supervisor.New(supervisor.Config{
		Registry:          o.registry,
		Runner:            runner,
		Reclaimer:         reclaimer,
		Logger:            logger,
		ReadyTimeout:      cfg.ReadyTimeout,
		SettleDelay:       cfg.SettleDelay,
		KillWait:          cfg.KillWait,
		WorkerPort:        cfg.WorkerPort,
		ReadinessPatterns: cfg.ReadinessPatterns,
		OutputBufferSize:  cfg.StatsBufferSize,
		Verbose:           cfg.Verbose,
		Callbacks: supervisor.Callbacks{
			OnStart:   o.onStart,
			OnOutcome: o.onOutcome,
			OnExit:    o.onExit,
			OnStop:    o.onStop,
			OnDropped: o.onDropped,
		},
	})

	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServerWithGatherer(cfg.MetricsAddr, logger, gatherer)
	}
	o.apiServer = api.NewServer(api.Config{
		Addr:       cfg.ListenAddr,
		Supervisor: o.supervisor,
		Prober:     o.prober,
		Logger:     logger,
	})

	return o
}

// Run serves the control API until a signal, ctx cancellation or the
// dashboard quitting, then stops every worker and prints the exit summary.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()

	if err := o.preflight(); err != nil {
		return err
	}

	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}
	if err := o.apiServer.Start(); err != nil {
		o.shutdownServers()
		return fmt.Errorf("failed to start api server: %w", err)
	}
	if o.metricsServer != nil {
		o.metricsServer.SetReady(true)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	go o.sampleLoop(ctx)

	var program *tea.Program
	tuiDone := make(chan struct{})
	if o.config.TUIEnabled {
		program = tea.NewProgram(tui.New(tui.Config{
			ListenAddr:  o.apiServer.Addr(),
			MetricsAddr: o.metricsAddr(),
			Runner:      o.agent.Name(),
			WorkerPort:  o.config.WorkerPort,
			Source:      o,
		}), tea.WithAltScreen())
		go func() {
			defer close(tuiDone)
			if _, err := program.Run(); err != nil {
				o.logger.Error("tui_error", "error", err)
			}
		}()
	}

	o.logger.Info("supervisor_ready",
		"api", o.apiServer.Addr(),
		"metrics", o.metricsAddr(),
		"runner", o.agent.Name(),
		"worker_port", o.config.WorkerPort,
	)
	o.startOnce.Do(func() { close(o.started) })

	select {
	case sig := <-sigCh:
		o.logger.Info("received_signal", "signal", sig.String())
	case <-tuiDone:
		o.logger.Info("tui_quit")
	case <-ctx.Done():
		o.logger.Info("context_cancelled")
	}
	cancel()

	if program != nil {
		tui.SendQuit(program)
		<-tuiDone
	}

	o.shutdown()
	o.printExitSummary()
	return nil
}

// RunForeground starts one session's worker, reports the outcome and keeps
// it running until a signal, ctx cancellation or the worker exiting.
func (o *Orchestrator) RunForeground(ctx context.Context, sessionID string, creds process.Credentials) error {
	o.startTime = time.Now()

	if err := o.preflight(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	out, err := o.supervisor.Start(ctx, sessionID, creds)
	if err != nil {
		fmt.Fprintf(o.out, "Start failed: %v\n", err)
		o.shutdown()
		return err
	}

	state := "ready"
	if !out.Ready {
		state = "connecting"
	}
	fmt.Fprintf(o.out, "%s (session %s, pid %d, %s after %s)\n",
		out.Message, out.SessionID, out.PID, state, out.Elapsed.Round(time.Millisecond))
	o.startOnce.Do(func() { close(o.started) })

	var exitErr error
wait:
	for {
		select {
		case sig := <-sigCh:
			o.logger.Info("received_signal", "signal", sig.String())
			break wait
		case <-ctx.Done():
			o.logger.Info("context_cancelled")
			break wait
		case id := <-o.exits:
			if id != sessionID {
				continue
			}
			if _, ok := o.supervisor.Status(sessionID); !ok {
				exitErr = fmt.Errorf("worker for session %s exited", sessionID)
				break wait
			}
		}
	}

	o.shutdown()
	o.printExitSummary()
	return exitErr
}

func (o *Orchestrator) preflight() error {
	if o.config.SkipPreflight {
		return nil
	}
	result := preflight.RunAll(preflight.Options{
		HomeDir:     o.config.WorkerHome,
		Interpreter: o.agent.InterpreterPath(),
		EntryScript: o.agent.ScriptPath(),
		WorkerPort:  o.config.WorkerPort,
	})
	preflight.FprintResults(o.out, result)
	if !result.Passed {
		return errors.New("preflight checks failed (use --skip-preflight to override)")
	}
	return nil
}

// sampleLoop feeds the rolling rates and corrects the active gauge.
func (o *Orchestrator) sampleLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.startRate.Sample()
			o.exitRate.Sample()
			o.metrics.SetActiveCount(o.registry.Len())
		}
	}
}

// shutdown stops accepting requests, stops every worker and the servers,
// all within ShutdownTimeout.
func (o *Orchestrator) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), o.config.ShutdownTimeout)
	defer cancel()

	if o.metricsServer != nil {
		o.metricsServer.SetReady(false)
	}
	if err := o.apiServer.Shutdown(ctx); err != nil {
		o.logger.Warn("api_server_shutdown_error", "error", err)
	}

	stopped, err := o.supervisor.StopAll(ctx)
	if err != nil {
		o.logger.Warn("shutdown_incomplete", "error", err)
	}
	if err := o.supervisor.Wait(ctx); err != nil {
		o.logger.Warn("worker_wait_incomplete", "error", err)
	}
	o.logger.Info("workers_stopped", "count", stopped)

	if o.metricsServer != nil {
		if err := o.metricsServer.Shutdown(ctx); err != nil {
			o.logger.Warn("metrics_server_shutdown_error", "error", err)
		}
	}
}

func (o *Orchestrator) shutdownServers() {
	if o.metricsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.config.ShutdownTimeout)
	defer cancel()
	o.metricsServer.Shutdown(ctx)
}

func (o *Orchestrator) metricsAddr() string {
	if o.metricsServer == nil {
		return ""
	}
	return o.metricsServer.Addr()
}

// Callback handlers

func (o *Orchestrator) onStart(sessionID string, pid int) {
	if o.config.Verbose {
		o.logger.Debug("worker_process_started", "session_id", sessionID, "pid", pid)
	}
	o.metrics.SetActiveCount(o.registry.Len())
}

func (o *Orchestrator) onOutcome(sessionID string, out supervisor.Outcome, err error) {
	o.startRate.Add(1)
	if err != nil {
		o.metrics.RecordFailure(supervisor.KindOf(err).String())
	} else {
		o.metrics.RecordStart(out.Ready, out.Elapsed)
	}
	o.metrics.SetActiveCount(o.registry.Len())
}

func (o *Orchestrator) onExit(sessionID string, exitCode int, uptime time.Duration) {
	o.exitRate.Add(1)
	o.metrics.RecordExit(exitCode, uptime)
	o.metrics.SetActiveCount(o.registry.Len())

	select {
	case o.exits <- sessionID:
	default:
	}
}

func (o *Orchestrator) onStop(sessionID string, stopped bool) {
	o.metrics.RecordStop(stopped)
	o.metrics.SetActiveCount(o.registry.Len())
}

func (o *Orchestrator) onDropped(sessionID, stream string, dropped int64) {
	o.metrics.RecordDropped(stream, dropped)
}

// Snapshot implements tui.Source.
func (o *Orchestrator) Snapshot() tui.Snapshot {
	return tui.Snapshot{
		Workers:   o.registry.Snapshot(),
		Summary:   o.metrics.GenerateSummary(),
		StartRate: o.startRate.Stats(),
		ExitRate:  o.exitRate.Stats(),
	}
}

// printExitSummary prints a summary of the run.
func (o *Orchestrator) printExitSummary() {
	summary := o.metrics.GenerateSummary()
	w := o.out

	fmt.Fprintln(w)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintln(w, "                  room-agent-supervisor Exit Summary")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "Run Duration:           %s\n", formatDuration(summary.Duration))
	fmt.Fprintf(w, "Peak Active Workers:    %d\n", summary.PeakActiveWorkers)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Start Requests:")
	fmt.Fprintf(w, "  Total:                %d\n", summary.TotalStarts())
	fmt.Fprintf(w, "  Ready:                %d\n", summary.StartsReady)
	fmt.Fprintf(w, "  Still connecting:     %d\n", summary.StartsTimedOut)
	fmt.Fprintf(w, "  Failed:               %d\n", summary.StartsFailed)
	for _, kind := range sortedKinds(summary.FailuresByKind) {
		fmt.Fprintf(w, "    %-20s %d\n", kind, summary.FailuresByKind[kind])
	}
	fmt.Fprintln(w)

	if summary.ReadyP50 > 0 {
		fmt.Fprintln(w, "Time to Ready:")
		fmt.Fprintf(w, "  P50 (median):         %s\n", summary.ReadyP50.Round(time.Millisecond))
		fmt.Fprintf(w, "  P95:                  %s\n", summary.ReadyP95.Round(time.Millisecond))
		fmt.Fprintf(w, "  P99:                  %s\n", summary.ReadyP99.Round(time.Millisecond))
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "Stop Requests:")
	fmt.Fprintf(w, "  Stopped:              %d\n", summary.Stopped)
	fmt.Fprintf(w, "  No worker found:      %d\n", summary.StopNoops)
	fmt.Fprintln(w)

	if len(summary.ExitCodes) > 0 {
		fmt.Fprintln(w, "Worker Exit Codes:")
		for _, code := range summary.SortedExitCodes() {
			fmt.Fprintf(w, "  %3d %-16s %d\n", code, exitCodeLabel(code), summary.ExitCodes[code])
		}
		fmt.Fprintf(w, "  Uptime P50 / P95:     %s / %s\n", formatDuration(summary.UptimeP50), formatDuration(summary.UptimeP95))
		fmt.Fprintln(w)
	}

	if addr := o.metricsAddr(); addr != "" {
		fmt.Fprintf(w, "Metrics endpoint was: http://%s/metrics\n", addr)
	}
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
}

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}

func sortedKinds(m map[string]int64) []string {
	kinds := make([]string, 0, len(m))
	for k := range m {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Started is closed once Run or RunForeground is serving.
func (o *Orchestrator) Started() <-chan struct{} {
	return o.started
}

// APIAddr returns the control API's bound address.
func (o *Orchestrator) APIAddr() string {
	return o.apiServer.Addr()
}

// Supervisor returns the supervisor for external access.
func (o *Orchestrator) Supervisor() *supervisor.Supervisor {
	return o.supervisor
}

// Runner returns the agent runner for external access.
func (o *Orchestrator) Runner() *process.AgentRunner {
	return o.agent
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}
