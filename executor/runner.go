package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	logrus "github.com/sirupsen/logrus"
)

// Command is a single process invocation with its wall-clock bound.
type Command struct {
	Path    string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// Outcome is what a finished process left behind.
type Outcome struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Wall     time.Duration
	CPU      time.Duration
	MemoryKB int64
	// HasUsage is false when CPU and MemoryKB do not describe the program
	// itself, e.g. when it ran behind a docker exec client.
	HasUsage bool
}

// Runner executes one command to completion or to its deadline.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Outcome, error)
}

// HostRunner spawns commands directly on this machine.
type HostRunner struct {
	logger *logrus.Logger
}

func NewHostRunner(logger *logrus.Logger) *HostRunner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HostRunner{logger: logger}
}

// Run starts the command in its own process group and waits for it. When the
// timeout or ctx fires first, the whole group is killed and reaped before Run
// returns, the partial output is dropped and Wall is reported as the bound.
func (r *HostRunner) Run(ctx context.Context, c Command) (Outcome, error) {
	if c.Timeout <= 0 {
		return Outcome{}, environmentError("run "+c.Path, fmt.Errorf("timeout must be positive, got %v", c.Timeout))
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	isolate(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		r.logger.WithFields(logrus.Fields{
			"command": c.Path,
			"dir":     c.Dir,
			"error":   err,
		}).Error("Failed to spawn process")
		return Outcome{}, environmentError("spawn "+c.Path, err)
	}

	timer := time.NewTimer(c.Timeout)
	defer timer.Stop()
	var (
		mu     sync.Mutex
		exited bool
	)
	// stop kills the group unless Wait has already returned, and reports
	// whether it did.
	stop := func() bool {
		mu.Lock()
		defer mu.Unlock()
		if exited {
			return false
		}
		kill(cmd)
		return true
	}
	done := make(chan struct{})
	stopped := make(chan error, 1)
	go func() {
		var reason error
		select {
		case <-timer.C:
			if stop() {
				reason = ErrTimeout
			}
		case <-ctx.Done():
			if stop() {
				reason = ctx.Err()
			}
		case <-done:
		}
		stopped <- reason
	}()

	waitErr := cmd.Wait()
	wall := time.Since(start)
	mu.Lock()
	exited = true
	mu.Unlock()
	close(done)

	switch reason := settle(<-stopped, wall, c.Timeout); {
	case errors.Is(reason, ErrTimeout):
		r.logger.WithFields(logrus.Fields{
			"command": c.Path,
			"timeout": c.Timeout,
		}).Warn("Process killed at deadline")
		return Outcome{ExitCode: -1, Wall: c.Timeout}, &Error{Kind: ErrTimeout, Op: "run " + c.Path}
	case reason != nil:
		return Outcome{ExitCode: -1, Wall: wall}, &Error{Kind: reason, Op: "run " + c.Path}
	}

	out := Outcome{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Wall:   wall,
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return out, environmentError("wait "+c.Path, waitErr)
		}
	}
	out.ExitCode = cmd.ProcessState.ExitCode()
	out.CPU = cmd.ProcessState.UserTime() + cmd.ProcessState.SystemTime()
	out.MemoryKB = peakMemoryKB(cmd.ProcessState)
	out.HasUsage = true

	r.logger.WithFields(logrus.Fields{
		"command":  c.Path,
		"exitCode": out.ExitCode,
		"duration": wall,
	}).Debug("Process finished")
	return out, nil
}

// settle drops a timeout that fired after the program had already finished:
// Wait returned inside the bound, so the kill only found a finished group.
func settle(reason error, wall, bound time.Duration) error {
	if errors.Is(reason, ErrTimeout) && wall < bound {
		return nil
	}
	return reason
}
