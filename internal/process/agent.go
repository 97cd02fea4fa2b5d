package process

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// AgentConfig holds configuration for the agent worker program.
type AgentConfig struct {
	// HomeDir is the worker's working directory. Relative Interpreter and
	// EntryScript paths are resolved against it.
	HomeDir string

	// Interpreter is the program that runs the entry script.
	Interpreter string

	// EntryScript is the worker's entry point, passed as the first argument.
	EntryScript string

	// Args follow the entry script. Default: ["start"].
	Args []string

	// Fallback supplies values for optional credentials missing from a
	// request. Defaults to os.Getenv.
	Fallback func(string) string
}

// DefaultAgentConfig returns an AgentConfig laid out like the backend
// directory of the voice agent project.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		HomeDir:     "backend",
		Interpreter: filepath.Join("venv", "bin", "python"),
		EntryScript: "agent.py",
		Args:        []string{"start"},
	}
}

// AgentRunner implements Runner for the agent worker.
type AgentRunner struct {
	config *AgentConfig
}

// NewAgentRunner creates a new agent runner with the given configuration.
func NewAgentRunner(cfg *AgentConfig) *AgentRunner {
	return &AgentRunner{
		config: cfg,
	}
}

// Name returns "agent".
func (r *AgentRunner) Name() string {
	return "agent"
}

// BuildCommand creates an exec.Cmd for one session's worker. The command runs
// in HomeDir with the supervisor's environment plus the session credentials.
func (r *AgentRunner) BuildCommand(sessionID string, creds Credentials) (*exec.Cmd, error) {
	if r.config.Interpreter == "" {
		return nil, errors.New("agent interpreter not configured")
	}
	if r.config.EntryScript == "" {
		return nil, errors.New("agent entry script not configured")
	}

	cmd := exec.Command(r.InterpreterPath(), r.buildArgs()...)
	cmd.Dir = r.config.HomeDir
	cmd.Env = Environ(os.Environ(), creds.Vars(r.fallback()))
	return cmd, nil
}

// WorkerFiles returns the interpreter and entry script paths, resolved
// against HomeDir.
func (r *AgentRunner) WorkerFiles() (interpreter, script string) {
	return r.InterpreterPath(), r.ScriptPath()
}

// Signature identifies agent workers in a process listing, e.g. "agent.py start".
func (r *AgentRunner) Signature() string {
	parts := append([]string{filepath.Base(r.config.EntryScript)}, r.config.Args...)
	return strings.Join(parts, " ")
}

// InterpreterPath returns the interpreter path resolved against HomeDir.
// A bare program name is left for PATH lookup.
func (r *AgentRunner) InterpreterPath() string {
	if !strings.ContainsRune(r.config.Interpreter, filepath.Separator) {
		return r.config.Interpreter
	}
	return r.resolve(r.config.Interpreter)
}

// ScriptPath returns the entry script path resolved against HomeDir.
func (r *AgentRunner) ScriptPath() string {
	return r.resolve(r.config.EntryScript)
}

// Config returns the agent configuration.
func (r *AgentRunner) Config() *AgentConfig {
	return r.config
}

// CommandString returns the command that would be executed (for debugging).
func (r *AgentRunner) CommandString() string {
	return r.InterpreterPath() + " " + strings.Join(r.buildArgs(), " ")
}

func (r *AgentRunner) buildArgs() []string {
	args := make([]string, 0, 1+len(r.config.Args))
	args = append(args, r.ScriptPath())
	return append(args, r.config.Args...)
}

// resolve makes p absolute relative to HomeDir.
func (r *AgentRunner) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	full := filepath.Join(r.config.HomeDir, p)
	if abs, err := filepath.Abs(full); err == nil {
		return abs
	}
	return full
}

func (r *AgentRunner) fallback() func(string) string {
	if r.config.Fallback != nil {
		return r.config.Fallback
	}
	return os.Getenv
}

var _ Runner = (*AgentRunner)(nil)
