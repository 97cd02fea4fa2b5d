// Package cleanup frees operating-system resources left behind by previous
// worker processes.
//
// Both operations are best-effort and idempotent: a port that is already free
// or a signature that matches nothing is a successful no-op, and callers are
// expected to log and swallow any error. Killing a process does not release
// its socket synchronously, so callers should allow a short settle delay
// before binding the port again.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// Reclaimer frees the worker's well-known port and terminates stray workers.
type Reclaimer interface {
	// ReclaimPort kills whatever process is listening on the TCP port,
	// except for the PIDs in keep and their process groups.
	ReclaimPort(ctx context.Context, port int, keep []int) error

	// TerminateStrayWorkers kills every process whose command line contains
	// signature, except for the PIDs in keep, their process groups and the
	// calling process. A match that leads its own process group is killed
	// with its whole group.
	TerminateStrayWorkers(ctx context.Context, signature string, keep []int) error
}

// tcpListen is the st value for LISTEN in /proc/net/tcp.
const tcpListen = 0x0A

// target is a process to kill and the process group it belongs to. A zero
// pgrp means the group is unknown.
type target struct {
	pid  int
	pgrp int
}

func (t target) leader() bool { return t.pid > 0 && t.pid == t.pgrp }

// ProcReclaimer implements Reclaimer by reading procfs on Linux and falling
// back to lsof / pgrep elsewhere.
type ProcReclaimer struct {
	procRoot  string
	logger    *slog.Logger
	self      int
	selfGroup int

	// kill is swapped out in tests. A negative pid names a process group.
	kill func(pid int) error
}

// New creates a ProcReclaimer reading from /proc.
func New(logger *slog.Logger) *ProcReclaimer {
	return &ProcReclaimer{
		procRoot:  procfs.DefaultMountPoint,
		logger:    logger,
		self:      os.Getpid(),
		selfGroup: unix.Getpgrp(),
		kill:      sigkill,
	}
}

func sigkill(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}

// ReclaimPort implements Reclaimer.
func (r *ProcReclaimer) ReclaimPort(ctx context.Context, port int, keep []int) error {
	if port <= 0 {
		return nil
	}

	var (
		targets []target
		err     error
	)
	if r.hasProcNet() {
		targets, err = r.procPortOwners(port)
	} else {
		targets, err = withGroups(lsofPortOwners(ctx, port))
	}
	if err != nil {
		return fmt.Errorf("find owners of port %d: %w", port, err)
	}

	killed, err := r.killAll(targets, keep)
	if len(killed) > 0 {
		r.logger.Info("port_reclaimed", "port", port, "pids", killed)
	}
	return err
}

// TerminateStrayWorkers implements Reclaimer.
func (r *ProcReclaimer) TerminateStrayWorkers(ctx context.Context, signature string, keep []int) error {
	if strings.TrimSpace(signature) == "" {
		return nil
	}

	var (
		targets []target
		err     error
	)
	if r.hasProc() {
		targets, err = r.procMatchingCmdline(signature)
	} else {
		targets, err = withGroups(pgrepMatching(ctx, signature))
	}
	if err != nil {
		return fmt.Errorf("find processes matching %q: %w", signature, err)
	}

	killed, err := r.killAll(targets, keep)
	if len(killed) > 0 {
		r.logger.Info("stray_workers_terminated", "signature", signature, "pids", killed)
	}
	return err
}

// killAll sends SIGKILL to every target outside keep. A target that leads its
// own process group takes the group with it; the caller's own group is only
// ever signalled one process at a time. Processes that are already gone are
// ignored. The returned slice holds the PIDs signalled.
func (r *ProcReclaimer) killAll(targets []target, keep []int) ([]int, error) {
	// Leaders first, so group members already covered are skipped.
	targets = append([]target(nil), targets...)
	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].leader() && !targets[j].leader()
	})

	kept := make(map[int]bool, len(keep))
	for _, pid := range keep {
		kept[pid] = true
	}
	seen := map[int]bool{r.self: true}
	groups := make(map[int]bool)

	var (
		killed []int
		errs   []error
	)
	for _, t := range targets {
		if t.pid <= 0 || seen[t.pid] || kept[t.pid] {
			continue
		}
		// Registered workers lead their own groups; spare their children.
		if t.pgrp > 0 && (kept[t.pgrp] || groups[t.pgrp]) {
			continue
		}
		seen[t.pid] = true

		signal := t.pid
		if t.leader() && t.pgrp != r.selfGroup {
			signal = -t.pid
		}
		if err := r.kill(signal); err != nil {
			if errors.Is(err, unix.ESRCH) {
				continue
			}
			errs = append(errs, fmt.Errorf("kill %d: %w", signal, err))
			continue
		}
		if signal < 0 {
			groups[t.pid] = true
		}
		killed = append(killed, t.pid)
	}
	return killed, errors.Join(errs...)
}

func (r *ProcReclaimer) hasProc() bool {
	_, err := os.Stat(filepath.Join(r.procRoot, "self"))
	return err == nil
}

func (r *ProcReclaimer) hasProcNet() bool {
	_, err := os.Stat(filepath.Join(r.procRoot, "net", "tcp"))
	return err == nil
}

// procPortOwners maps LISTEN socket inodes on port to owning processes.
func (r *ProcReclaimer) procPortOwners(port int) ([]target, error) {
	fs, err := procfs.NewFS(r.procRoot)
	if err != nil {
		return nil, err
	}

	inodes := make(map[uint64]bool)
	for _, read := range []func() (procfs.NetTCP, error){fs.NetTCP, fs.NetTCP6} {
		lines, err := read()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		for _, l := range lines {
			if l.St == tcpListen && l.LocalPort == uint64(port) && l.Inode != 0 {
				inodes[l.Inode] = true
			}
		}
	}
	if len(inodes) == 0 {
		return nil, nil
	}

	procs, err := fs.AllProcs()
	if err != nil {
		return nil, err
	}
	var targets []target
	for _, p := range procs {
		fds, err := p.FileDescriptorTargets()
		if err != nil {
			// Exited, or owned by another user.
			continue
		}
		for _, fd := range fds {
			if inode, ok := socketInode(fd); ok && inodes[inode] {
				targets = append(targets, target{pid: p.PID, pgrp: procGroup(p)})
				break
			}
		}
	}
	sortTargets(targets)
	return targets, nil
}

// procMatchingCmdline returns processes whose command line, arguments joined
// by spaces, contains signature.
func (r *ProcReclaimer) procMatchingCmdline(signature string) ([]target, error) {
	fs, err := procfs.NewFS(r.procRoot)
	if err != nil {
		return nil, err
	}
	procs, err := fs.AllProcs()
	if err != nil {
		return nil, err
	}

	var targets []target
	for _, p := range procs {
		args, err := p.CmdLine()
		if err != nil || len(args) == 0 {
			continue
		}
		if strings.Contains(strings.Join(args, " "), signature) {
			targets = append(targets, target{pid: p.PID, pgrp: procGroup(p)})
		}
	}
	sortTargets(targets)
	return targets, nil
}

func sortTargets(targets []target) {
	sort.Slice(targets, func(i, j int) bool { return targets[i].pid < targets[j].pid })
}

// procGroup returns p's process group, or 0 if its stat cannot be read.
func procGroup(p procfs.Proc) int {
	stat, err := p.Stat()
	if err != nil {
		return 0
	}
	return stat.PGRP
}

// withGroups looks up the process group of each PID found without procfs.
func withGroups(pids []int, err error) ([]target, error) {
	if err != nil {
		return nil, err
	}
	targets := make([]target, 0, len(pids))
	for _, pid := range pids {
		pgrp, err := unix.Getpgid(pid)
		if err != nil {
			pgrp = 0
		}
		targets = append(targets, target{pid: pid, pgrp: pgrp})
	}
	return targets, nil
}

// socketInode parses an fd link target of the form "socket:[12345]".
func socketInode(link string) (uint64, bool) {
	if !strings.HasPrefix(link, "socket:[") || !strings.HasSuffix(link, "]") {
		return 0, false
	}
	inode, err := strconv.ParseUint(link[len("socket:["):len(link)-1], 10, 64)
	if err != nil {
		return 0, false
	}
	return inode, true
}

// lsofPortOwners asks lsof for listeners on port.
func lsofPortOwners(ctx context.Context, port int) ([]int, error) {
	out, err := exec.CommandContext(ctx, "lsof", "-t", "-i", fmt.Sprintf("tcp:%d", port), "-sTCP:LISTEN").Output()
	return parsePIDList(out, err)
}

// pgrepMatching asks pgrep for processes whose full command line matches.
func pgrepMatching(ctx context.Context, signature string) ([]int, error) {
	out, err := exec.CommandContext(ctx, "pgrep", "-f", signature).Output()
	return parsePIDList(out, err)
}

// parsePIDList parses one PID per line. Both lsof and pgrep exit 1 when
// nothing matches, which is not an error here.
func parsePIDList(out []byte, err error) ([]int, error) {
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, err
	}

	var pids []int
	for _, line := range strings.Fields(string(out)) {
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// Noop is a Reclaimer that does nothing. Used with --skip-cleanup and in tests.
type Noop struct{}

// ReclaimPort does nothing.
func (Noop) ReclaimPort(context.Context, int, []int) error { return nil }

// TerminateStrayWorkers does nothing.
func (Noop) TerminateStrayWorkers(context.Context, string, []int) error { return nil }

var (
	_ Reclaimer = (*ProcReclaimer)(nil)
	_ Reclaimer = Noop{}
)
