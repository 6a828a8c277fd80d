// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// pipeWaitDelay bounds how long a finished command's output pipes may
// stay open before capture gives up on them.
const pipeWaitDelay = 10 * time.Second

// command describes one subprocess run.
type command struct {
	// argv is the program and its arguments. argv[0] resolves via
	// PATH when not absolute.
	argv []string

	// dir is the working directory.
	dir string

	// env is extra KEY=VALUE entries appended to the daemon's own
	// environment.
	env []string

	// timeout is the wall-clock budget. On expiry the whole process
	// group is killed.
	timeout time.Duration

	// combineOutput merges stderr into stdout, the way a terminal
	// would show it. Off, the two streams are captured separately.
	combineOutput bool
}

// commandResult is a finished subprocess.
type commandResult struct {
	stdout   string
	stderr   string
	exitCode int
	timedOut bool
	duration time.Duration
}

// runCommand executes one subprocess with output capture. The process
// runs in its own group so that the timeout kill reaches the command
// and all its children (negative PID = the whole group); without
// Setpgid a forking command would survive its own timeout. A non-exit
// failure (spawn error, kill failure) is returned as err; a non-zero
// exit status is a result, not an error.
func (e *Engine) runCommand(ctx context.Context, spec command) (commandResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, spec.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.argv[0], spec.argv[1:]...)
	cmd.Dir = spec.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	if spec.combineOutput {
		cmd.Stderr = &stdout
	} else {
		cmd.Stderr = &stderr
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}

	// A command that backgrounds a child (`make serve &`) leaves the
	// output pipe open in the child, and Run would block on it until
	// the child exits rather than the command. WaitDelay bounds that
	// wait from the moment the command itself exits.
	cmd.WaitDelay = pipeWaitDelay

	if len(spec.env) > 0 {
		cmd.Env = append(os.Environ(), spec.env...)
	}

	start := e.clock.Now()
	err := cmd.Run()
	result := commandResult{
		stdout:   stdout.String(),
		stderr:   stderr.String(),
		duration: e.clock.Now().Sub(start),
	}

	if err == nil {
		return result, nil
	}

	var exitError *exec.ExitError
	switch {
	case errors.As(err, &exitError):
		result.exitCode = exitError.ExitCode()
		// A killed exit after the deadline passed is the timeout
		// kill, not the command's own doing.
		if runCtx.Err() != nil && ctx.Err() == nil {
			result.timedOut = true
		}
		return result, nil

	case errors.Is(err, exec.ErrWaitDelay):
		// The command exited but a child kept the pipe open past the
		// wait delay. The command's own output is captured.
		result.exitCode = cmd.ProcessState.ExitCode()
		return result, nil

	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		result.timedOut = true
		return result, nil
	}

	result.exitCode = -1
	return result, err
}
