package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/melih/goal-listener/internal/core/domain"
	"github.com/melih/goal-listener/internal/core/ports"
)

// Finder returns the PIDs of processes whose command line matches pattern.
type Finder func(ctx context.Context, pattern string) ([]int, error)

// Runtime runs the tracker as a plain child process, found again by command line.
type Runtime struct {
	match   string
	command []string
	dir     string
	grace   time.Duration
	output  io.Writer
	logger  *slog.Logger
	find    Finder

	mu  sync.Mutex
	cmd *exec.Cmd
}

var _ ports.AppRuntime = (*Runtime)(nil)

// Option customises a Runtime.
type Option func(*Runtime)

// WithFinder replaces the pgrep based process lookup.
func WithFinder(f Finder) Option { return func(r *Runtime) { r.find = f } }

// WithGrace sets how long Stop waits after signalling.
func WithGrace(d time.Duration) Option { return func(r *Runtime) { r.grace = d } }

// WithOutput sends the child's stdout and stderr to w.
func WithOutput(w io.Writer) Option { return func(r *Runtime) { r.output = w } }

// NewRuntime creates a process runtime. match is the pgrep -f pattern identifying the
// tracker; command is started in dir.
func NewRuntime(match string, command []string, dir string, logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		match:   match,
		command: command,
		dir:     dir,
		grace:   time.Second,
		output:  os.Stdout,
		logger:  logger,
		find:    Pgrep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runtime) Name() string { return "process" }

// Stop sends SIGTERM to every matching process. Nothing running is not an error.
func (r *Runtime) Stop(ctx context.Context) error {
	pids, err := r.find(ctx, r.match)
	if err != nil {
		return fmt.Errorf("failed to find %q: %w", r.match, err)
	}

	self := os.Getpid()
	var errs []error
	killed := 0
	for _, pid := range pids {
		if pid == self {
			continue
		}
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
			errs = append(errs, fmt.Errorf("kill %d: %w", pid, err))
			continue
		}
		killed++
		r.logger.Info("killed process", "match", r.match, "pid", pid)
	}
	if killed == 0 && len(errs) == 0 {
		r.logger.Info("process not running", "match", r.match)
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.grace):
	}
	return errors.Join(errs...)
}

// Start launches the command detached from the request that caused it.
func (r *Runtime) Start(ctx context.Context) error {
	if len(r.command) == 0 {
		return errors.New("no command configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(r.command[0], r.command[1:]...)
	cmd.Dir = r.dir
	cmd.Stdout = r.output
	cmd.Stderr = r.output
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %q: %w", strings.Join(r.command, " "), err)
	}

	r.mu.Lock()
	r.cmd = cmd
	r.mu.Unlock()

	r.logger.Info("started process", "command", strings.Join(r.command, " "), "pid", cmd.Process.Pid)

	// Reap the child so it does not linger as a zombie once it exits.
	go func() {
		err := cmd.Wait()
		r.logger.Info("process exited", "pid", cmd.Process.Pid, "error", err)
	}()
	return nil
}

// Status reports whether a matching process is running.
func (r *Runtime) Status(ctx context.Context) (domain.AppStatus, error) {
	pids, err := r.find(ctx, r.match)
	if err != nil {
		return domain.AppStatus{}, fmt.Errorf("failed to find %q: %w", r.match, err)
	}
	status := domain.AppStatus{Runtime: r.Name(), Running: len(pids) > 0}
	if len(pids) > 0 {
		strs := make([]string, len(pids))
		for i, pid := range pids {
			strs[i] = strconv.Itoa(pid)
		}
		status.Detail = "pid " + strings.Join(strs, ",")
	}
	return status, nil
}

func (r *Runtime) Logs(context.Context) (io.ReadCloser, error) {
	return nil, ports.ErrLogsUnsupported
}

// Pgrep finds processes with pgrep -f. Exit status 1 means no match.
func Pgrep(ctx context.Context, pattern string) ([]int, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, "pgrep", "-f", pattern)
	cmd.Stdout = &out
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parsePIDs(out.String())
}

func parsePIDs(out string) ([]int, error) {
	var pids []int
	for _, field := range strings.Fields(out) {
		pid, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("unexpected pgrep output %q", field)
		}
		pids = append(pids, pid)
	}
	return pids, nil
}
