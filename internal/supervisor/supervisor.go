package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/randomizedcoder/go-room-agent-supervisor/internal/cleanup"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/logging"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/parser"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/preflight"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/process"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/registry"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/worker"
)

// Defaults applied by New for unset durations.
const (
	DefaultReadyTimeout = 15 * time.Second
	DefaultSettleDelay  = 1500 * time.Millisecond
	DefaultKillWait     = 2 * time.Second

	// exitGrace bounds how long an exit waits for stdout to reach EOF, so a
	// readiness line written just before exiting still counts.
	exitGrace = 250 * time.Millisecond

	// drainTimeout bounds how long output parsers may lag behind an exit.
	drainTimeout = 5 * time.Second
)

// Callbacks contains optional callback functions for supervisor events.
type Callbacks struct {
	// OnStart is called when a worker process has been spawned and registered.
	OnStart func(sessionID string, pid int)

	// OnOutcome is called once per Start call with its result.
	OnOutcome func(sessionID string, outcome Outcome, err error)

	// OnExit is called when a worker process exits for any reason.
	OnExit func(sessionID string, exitCode int, uptime time.Duration)

	// OnStop is called after each Stop call.
	OnStop func(sessionID string, stopped bool)

	// OnDropped is called once per output stream after a worker exits, if
	// the lossy pipeline dropped any of its lines.
	OnDropped func(sessionID, stream string, dropped int64)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	Registry  *registry.Registry
	Runner    process.Runner
	Reclaimer cleanup.Reclaimer
	Logger    *slog.Logger
	Callbacks Callbacks

	// ReadyTimeout is how long Start waits for a readiness line before
	// resolving optimistically.
	ReadyTimeout time.Duration

	// SettleDelay is the pause after cleanup so the OS releases the port.
	// Zero disables it.
	SettleDelay time.Duration

	// KillWait bounds how long a kill waits for the process to be reaped.
	KillWait time.Duration

	// WorkerPort is the well-known port the worker listens on. Zero
	// disables port reclamation.
	WorkerPort int

	// ReadinessPatterns are stdout substrings that mean "serving".
	// Defaults to parser.DefaultReadinessPatterns.
	ReadinessPatterns []string

	// OutputBufferSize is the per-stream parser channel size.
	OutputBufferSize int

	// Verbose logs every worker output line, not just warnings and errors.
	Verbose bool

	// CheckFiles verifies worker files before spawning.
	// Defaults to preflight.CheckWorkerFiles.
	CheckFiles func(interpreter, script string) error
}

// Supervisor owns the lifecycle of every session's worker. It is safe for
// concurrent use: Start calls for different sessions run in parallel, Start
// calls for the same session are serialized.
type Supervisor struct {
	registry  *registry.Registry
	runner    process.Runner
	reclaimer cleanup.Reclaimer
	logger    *slog.Logger
	callbacks Callbacks

	readyTimeout time.Duration
	settleDelay  time.Duration
	killWait     time.Duration
	workerPort   int
	patterns     []string
	bufferSize   int
	verbose      bool
	checkFiles   func(interpreter, script string) error

	// envMu orders environment cleanup against spawn-and-register, so a
	// cleanup pass never sees a live worker that is not yet in the registry.
	envMu sync.Mutex
	kill  func(*worker.Handle) error

	locks *sessionLocks
	runs  sync.WaitGroup
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	reg := cfg.Registry
	if reg == nil {
		reg = registry.New()
	}
	reclaimer := cfg.Reclaimer
	if reclaimer == nil {
		reclaimer = cleanup.Noop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	readyTimeout := cfg.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = DefaultReadyTimeout
	}
	settleDelay := cfg.SettleDelay
	if settleDelay < 0 {
		settleDelay = 0
	}
	killWait := cfg.KillWait
	if killWait <= 0 {
		killWait = DefaultKillWait
	}
	patterns := cfg.ReadinessPatterns
	if len(patterns) == 0 {
		patterns = parser.DefaultReadinessPatterns
	}
	bufferSize := cfg.OutputBufferSize
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	checkFiles := cfg.CheckFiles
	if checkFiles == nil {
		checkFiles = preflight.CheckWorkerFiles
	}

	return &Supervisor{
		registry:     reg,
		runner:       cfg.Runner,
		reclaimer:    reclaimer,
		logger:       logger,
		callbacks:    cfg.Callbacks,
		readyTimeout: readyTimeout,
		settleDelay:  settleDelay,
		killWait:     killWait,
		workerPort:   cfg.WorkerPort,
		patterns:     patterns,
		bufferSize:   bufferSize,
		verbose:      cfg.Verbose,
		checkFiles:   checkFiles,
		kill:         (*worker.Handle).Kill,
		locks:        newSessionLocks(),
	}
}

// Start ensures a fresh worker is running for sessionID.
//
// It retires any registered worker for the session, cleans up stray workers
// and the worker port, spawns a new worker and waits until it prints a
// readiness line, the ready timeout elapses, or it fails. The timeout is a
// success: the worker is assumed to be still connecting.
//
// Failures are returned as *Error. Once the worker has been spawned the call
// is no longer cancelled by ctx; Stop is the only way to abort it.
func (s *Supervisor) Start(ctx context.Context, sessionID string, creds process.Credentials) (Outcome, error) {
	req := newRequest(sessionID)

	outcome, err := s.start(ctx, req, creds)

	logArgs := []any{
		"session_id", sessionID,
		"state", req.State().String(),
		"cause", req.Cause(),
		"elapsed", time.Since(req.createdAt).String(),
	}
	if err != nil {
		s.logger.Warn("start_resolved", append(logArgs, "error", err)...)
	} else {
		s.logger.Info("start_resolved", append(logArgs, "pid", outcome.PID, "ready", outcome.Ready)...)
	}

	if s.callbacks.OnOutcome != nil {
		s.callbacks.OnOutcome(sessionID, outcome, err)
	}
	return outcome, err
}

func (s *Supervisor) start(ctx context.Context, req *request, creds process.Credentials) (Outcome, error) {
	sessionID := req.sessionID

	// PREPARING
	var missing []string
	if strings.TrimSpace(sessionID) == "" {
		missing = append(missing, "sessionId")
	}
	missing = append(missing, creds.Missing()...)
	if len(missing) > 0 {
		req.fail("validation", newError(KindInvalidRequest,
			"Missing required parameters: "+strings.Join(missing, ", "), nil))
		return req.Result()
	}

	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		req.fail("cancelled", err)
		return req.Result()
	}
	defer unlock()

	s.logger.Debug("start_requested", "session_id", sessionID, "room", creds.RoomName)

	if prev, ok := s.registry.Take(sessionID); ok {
		s.retire(prev, "superseded")
	}
	s.cleanupEnvironment(ctx, true)

	if s.settleDelay > 0 {
		t := time.NewTimer(s.settleDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			req.fail("cancelled", ctx.Err())
			return req.Result()
		}
	}

	// SPAWNING
	req.advance(StateSpawning)

	interpreter, script := s.runner.WorkerFiles()
	if err := s.checkFiles(interpreter, script); err != nil {
		msg := "Worker files not found"
		switch {
		case errors.Is(err, preflight.ErrInterpreterMissing):
			msg = "Python executable not found"
		case errors.Is(err, preflight.ErrScriptMissing):
			msg = "Agent script not found"
		}
		req.fail("preflight", newError(KindEnvironmentNotReady, msg, err))
		return req.Result()
	}

	cmd, err := s.runner.BuildCommand(sessionID, creds)
	if err != nil {
		req.fail("build", newError(KindProcessError, "Failed to start agent: "+err.Error(), err))
		return req.Result()
	}

	h, streams, err := s.spawn(sessionID, cmd)
	if err != nil {
		req.fail("launch", newError(KindProcessError, "Failed to start agent: "+err.Error(), err))
		return req.Result()
	}
	req.advance(StateAwaitingReady)

	s.logger.Info("worker_started",
		"session_id", sessionID,
		"pid", h.PID(),
		"runner", s.runner.Name(),
	)
	if s.callbacks.OnStart != nil {
		s.callbacks.OnStart(sessionID, h.PID())
	}

	// AWAITING_READY
	s.await(req, h, streams)

	outcome, err := req.Result()
	if err != nil {
		// A dead process must not stay registered. A Stop that already took
		// it leaves nothing to remove.
		s.registry.CompareAndRemove(sessionID, h)
	} else {
		h.MarkReady()
	}
	return outcome, err
}

// spawn launches the worker and registers it before any event from the new
// process is observed. No cleanup pass runs in between.
func (s *Supervisor) spawn(sessionID string, cmd *exec.Cmd) (*worker.Handle, *worker.Streams, error) {
	s.envMu.Lock()
	defer s.envMu.Unlock()

	h, streams, err := worker.Spawn(sessionID, cmd)
	if err != nil {
		return nil, nil, err
	}
	s.registry.Put(sessionID, h)
	return h, streams, nil
}

// await wires the three racing events to the request's result cell and
// blocks until one of them resolves it.
func (s *Supervisor) await(req *request, h *worker.Handle, streams *worker.Streams) {
	sessionID := req.sessionID
	detector := parser.NewReadinessDetector(s.patterns)

	stdoutPipeline := parser.NewPipeline(sessionID, "stdout", s.bufferSize, 0)
	stderrPipeline := parser.NewPipeline(sessionID, "stderr", s.bufferSize, 0)
	stdoutLog := logging.NewOutputHandler(sessionID, "stdout", s.logger, s.verbose)
	stderrLog := logging.NewOutputHandler(sessionID, "stderr", s.logger, s.verbose)

	// Only stdout carries readiness; stderr is drained and logged.
	stdoutReader := parser.NewPipeReader(streams.Stdout, stdoutPipeline, detector)
	stderrReader := parser.NewPipeReader(streams.Stderr, stderrPipeline)

	var parseWg sync.WaitGroup
	parseWg.Add(2)
	go func() {
		defer parseWg.Done()
		stdoutPipeline.RunParser(stdoutLog)
	}()
	go func() {
		defer parseWg.Done()
		stderrPipeline.RunParser(stderrLog)
	}()
	go stdoutReader.Run()
	go stderrReader.Run()

	h.Watch()

	success := func(ready bool, msg string) Outcome {
		return Outcome{
			SessionID: sessionID,
			Message:   msg,
			Ready:     ready,
			PID:       h.PID(),
			Elapsed:   time.Since(h.StartedAt()),
		}
	}

	timer := time.AfterFunc(s.readyTimeout, func() {
		req.succeed("timeout", success(false, MessageStarting))
	})

	go func() {
		select {
		case <-detector.Ready():
			if req.succeed("readiness", success(true, MessageReady)) {
				pattern, _ := detector.Match()
				s.logger.Debug("readiness_matched", "session_id", sessionID, "pattern", pattern)
			}
		case <-req.Done():
		}
	}()

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		<-h.Done()

		// Let stdout reach EOF so a readiness line printed just before
		// exiting wins over the exit.
		select {
		case <-stdoutReader.Done():
		case <-time.After(exitGrace):
		}
		if detector.Fired() {
			req.succeed("readiness", success(true, MessageReady))
		}

		code := h.ExitCode()
		if !req.fail("exit", &Error{
			Kind:     KindProcessExited,
			Message:  fmt.Sprintf("Agent exited with code %d", code),
			ExitCode: code,
			Err:      h.Err(),
		}) {
			s.handleLateExit(req, h)
		}

		s.drain(sessionID, &parseWg, stdoutReader, stderrReader)
		streams.Close()

		uptime := h.Uptime()
		s.logger.Info("worker_exited",
			"session_id", sessionID,
			"pid", h.PID(),
			"exit_code", code,
			"state", h.State().String(),
			"uptime", uptime.String(),
		)
		if code != 0 && h.State() != worker.StateKilled {
			if tail := stderrLog.RecentLines(5); len(tail) > 0 {
				s.logger.Warn("worker_stderr_tail", "session_id", sessionID, "lines", tail)
			}
		}
		if s.callbacks.OnExit != nil {
			s.callbacks.OnExit(sessionID, code, uptime)
		}
	}()

	<-req.Done()
	timer.Stop()
}

// handleLateExit deals with a worker that exits after its Start resolved.
// There is no restart; the entry is dropped so the registry never holds a
// dead process.
func (s *Supervisor) handleLateExit(req *request, h *worker.Handle) {
	if req.State() != StateResolvedSuccess {
		return
	}
	if h.State() == worker.StateKilled {
		// Stopped or superseded; the caller already removed it.
		return
	}
	if s.registry.CompareAndRemove(req.sessionID, h) {
		s.logger.Warn("worker_exited_after_ready",
			"session_id", req.sessionID,
			"pid", h.PID(),
			"exit_code", h.ExitCode(),
		)
	}
}

// drain waits for output parsers to catch up after an exit.
func (s *Supervisor) drain(sessionID string, parseWg *sync.WaitGroup, readers ...*parser.PipeReader) {
	done := make(chan struct{})
	go func() {
		parseWg.Wait()
		close(done)
	}()

	t := time.NewTimer(drainTimeout)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		s.logger.Warn("parser_drain_timeout",
			"session_id", sessionID,
			"timeout", drainTimeout.String(),
		)
	}

	for _, r := range readers {
		p := r.Pipeline()
		read, dropped, parsed := p.Stats()
		bytesRead, _ := r.Stats()
		readErr := r.Err()
		if dropped > 0 || readErr != nil || s.logger.Enabled(context.Background(), slog.LevelDebug) {
			args := []any{
				"session_id", sessionID,
				"stream", p.StreamType(),
				"bytes_read", bytesRead,
				"lines_read", read,
				"lines_dropped", dropped,
				"lines_parsed", parsed,
				"degraded", p.IsDegraded(),
			}
			if readErr != nil {
				args = append(args, "read_error", readErr)
			}
			s.logger.Info("pipeline_stats", args...)
		}
		if dropped > 0 && s.callbacks.OnDropped != nil {
			s.callbacks.OnDropped(sessionID, p.StreamType(), dropped)
		}
	}
}

// retire kills a worker that has already been taken out of the registry.
// Kill errors are logged and ignored: the process may already be gone.
func (s *Supervisor) retire(h *worker.Handle, reason string) {
	if err := s.kill(h); err != nil {
		s.logger.Warn("worker_kill_failed",
			"session_id", h.SessionID(),
			"pid", h.PID(),
			"error", err,
		)
	}
	if !h.Wait(s.killWait) {
		s.logger.Warn("worker_kill_wait_timeout",
			"session_id", h.SessionID(),
			"pid", h.PID(),
			"timeout", s.killWait.String(),
		)
	}
	s.logger.Info("worker_retired",
		"session_id", h.SessionID(),
		"pid", h.PID(),
		"reason", reason,
	)
}

// cleanupEnvironment runs the best-effort cleanup operations. Workers that
// are still registered, for any session, are never touched. Errors are
// logged and swallowed.
func (s *Supervisor) cleanupEnvironment(ctx context.Context, strays bool) {
	s.envMu.Lock()
	defer s.envMu.Unlock()

	keep := s.registry.PIDs()

	if strays && s.runner != nil {
		if err := s.reclaimer.TerminateStrayWorkers(ctx, s.runner.Signature(), keep); err != nil {
			s.logger.Warn("cleanup_failed", "op", "terminate_stray_workers", "error", err)
		}
	}
	if err := s.reclaimer.ReclaimPort(ctx, s.workerPort, keep); err != nil {
		s.logger.Warn("cleanup_failed", "op", "reclaim_port", "port", s.workerPort, "error", err)
	}
}

// StopResult is the outcome of Stop.
type StopResult struct {
	SessionID string `json:"session_id"`
	Stopped   bool   `json:"stopped"`
	PID       int    `json:"pid,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Stop kills the session's worker, removes it and reclaims the worker port.
// An unknown session is a no-op result, not an error. Stop does not wait for
// an in-flight Start; that Start resolves with ProcessExited.
func (s *Supervisor) Stop(ctx context.Context, sessionID string) (StopResult, error) {
	h, ok := s.registry.Take(sessionID)
	if !ok {
		s.logger.Debug("stop_noop", "session_id", sessionID)
		if s.callbacks.OnStop != nil {
			s.callbacks.OnStop(sessionID, false)
		}
		return StopResult{SessionID: sessionID, Message: MessageNotFound}, nil
	}

	if err := s.kill(h); err != nil {
		// Still running and still ours: put it back unless a Start has
		// registered a replacement meanwhile.
		restored := s.registry.PutIfAbsent(sessionID, h)
		s.logger.Error("worker_kill_failed",
			"session_id", sessionID,
			"pid", h.PID(),
			"restored", restored,
			"error", err,
		)
		return StopResult{SessionID: sessionID, PID: h.PID()}, fmt.Errorf("stop %s: %w", sessionID, err)
	}
	h.Wait(s.killWait)

	s.cleanupEnvironment(ctx, false)

	s.logger.Info("worker_stopped", "session_id", sessionID, "pid", h.PID())
	if s.callbacks.OnStop != nil {
		s.callbacks.OnStop(sessionID, true)
	}
	return StopResult{SessionID: sessionID, Stopped: true, PID: h.PID()}, nil
}

// StopAll stops every registered worker. Used on shutdown.
func (s *Supervisor) StopAll(ctx context.Context) (int, error) {
	var (
		stopped int
		errs    []error
	)
	for _, id := range s.registry.SessionIDs() {
		res, err := s.Stop(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res.Stopped {
			stopped++
		}
	}
	return stopped, errors.Join(errs...)
}

// Wait blocks until every exit watcher has finished, or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the registry view of one session.
func (s *Supervisor) Status(sessionID string) (registry.Entry, bool) {
	return s.registry.Lookup(sessionID)
}

// List returns the registry view of every session, sorted by session ID.
func (s *Supervisor) List() []registry.Entry {
	return s.registry.Snapshot()
}

// Registry returns the registry the supervisor writes to.
func (s *Supervisor) Registry() *registry.Registry {
	return s.registry
}
