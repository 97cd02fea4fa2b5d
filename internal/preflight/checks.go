// Package preflight provides startup validation checks.
package preflight

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

var (
	// ErrInterpreterMissing is returned when the worker interpreter cannot be found.
	ErrInterpreterMissing = errors.New("worker interpreter not found")

	// ErrScriptMissing is returned when the worker entry script cannot be found.
	ErrScriptMissing = errors.New("worker entry script not found")
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// Options selects what RunAll inspects.
type Options struct {
	HomeDir     string
	Interpreter string // resolved path, or a bare name for PATH lookup
	EntryScript string // resolved path
	WorkerPort  int
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// CheckWorkerFiles verifies that the interpreter and entry script exist.
// It is called before every spawn.
func CheckWorkerFiles(interpreter, script string) error {
	if _, err := lookInterpreter(interpreter); err != nil {
		return fmt.Errorf("%w: %s", ErrInterpreterMissing, interpreter)
	}
	info, err := os.Stat(script)
	if err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s", ErrScriptMissing, script)
	}
	return nil
}

// lookInterpreter resolves a bare program name through PATH and checks that
// an explicit path exists.
func lookInterpreter(path string) (string, error) {
	if path == "" {
		return "", os.ErrNotExist
	}
	if !strings.ContainsRune(path, filepath.Separator) {
		return exec.LookPath(path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	return path, nil
}

// RunAll executes all preflight checks.
func RunAll(opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 5),
		Passed: true,
	}

	for _, check := range []Check{
		checkFileDescriptors(),
		checkHomeDir(opts.HomeDir),
		checkInterpreter(opts.Interpreter),
		checkEntryScript(opts.EntryScript),
	} {
		result.Checks = append(result.Checks, check)
		if !check.Passed {
			result.Passed = false
		}
	}

	// Port check is a warning only; the port is reclaimed before each start.
	result.Checks = append(result.Checks, checkWorkerPort(opts.WorkerPort))

	return result
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors() Check {
	var limit syscall.Rlimit
	syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit)

	// Two pipes per worker plus HTTP listeners and client connections.
	required := 256
	actual := int(limit.Cur)

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d)", actual, required),
	}
}

func checkHomeDir(dir string) Check {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Check{
			Name:    "worker_home",
			Passed:  false,
			Message: fmt.Sprintf("%s is not a directory", dir),
		}
	}
	return Check{
		Name:    "worker_home",
		Passed:  true,
		Message: dir,
	}
}

func checkInterpreter(path string) Check {
	resolved, err := lookInterpreter(path)
	if err != nil {
		return Check{
			Name:    "interpreter",
			Passed:  false,
			Message: fmt.Sprintf("not found at %s: %v", path, err),
		}
	}
	return Check{
		Name:    "interpreter",
		Passed:  true,
		Message: fmt.Sprintf("found at %s", resolved),
	}
}

func checkEntryScript(path string) Check {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return Check{
			Name:    "entry_script",
			Passed:  false,
			Message: fmt.Sprintf("not found at %s", path),
		}
	}
	return Check{
		Name:    "entry_script",
		Passed:  true,
		Message: fmt.Sprintf("found at %s", path),
	}
}

// checkWorkerPort reports whether the worker's well-known port is free.
func checkWorkerPort(port int) Check {
	if port <= 0 {
		return Check{
			Name:    "worker_port",
			Passed:  true,
			Message: "reclamation disabled",
		}
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return Check{
			Name:    "worker_port",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("%d in use (holder will be killed on first start)", port),
		}
	}
	ln.Close()

	return Check{
		Name:    "worker_port",
		Passed:  true,
		Message: fmt.Sprintf("%d free", port),
	}
}

// PrintResults prints the preflight check results to stdout.
func PrintResults(result *Result) {
	FprintResults(os.Stdout, result)
}

// FprintResults prints the preflight check results to w.
func FprintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf)"
	case "worker_home":
		return "set --worker-home to the agent backend directory"
	case "interpreter":
		return "create the virtualenv (python -m venv venv) or set --interpreter"
	case "entry_script":
		return "set --entry-script to the agent's entry point"
	default:
		return "see documentation"
	}
}
