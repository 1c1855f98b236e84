package lhex

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Runner runs an external command to completion and reports its exit code.
// The error is only set when the command could not be run at all; a non-zero
// exit is not an error to the runner.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (int, error)
}

// ProcessError is returned by RunOk for commands that exited non-zero.
type ProcessError struct {
	Command  string
	Args     []string
	ExitCode int
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s %s: exit status %d", e.Command, strings.Join(e.Args, " "), e.ExitCode)
}

// RunOk runs the command with r and turns a non-zero exit into a
// *ProcessError.
func RunOk(ctx context.Context, r Runner, name string, args ...string) error {
	code, err := r.Run(ctx, name, args...)
	if err != nil {
		return err
	}

	if code != 0 {
		return &ProcessError{Command: name, Args: args, ExitCode: code}
	}

	return nil
}

// ExecRunner runs commands as child processes. Stdout and Stderr default to
// being discarded; Stdin is passed through so escalation prompts still work.
type ExecRunner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Log    logrus.FieldLogger
}

// Run the command and wait for it.
func (e *ExecRunner) Run(ctx context.Context, name string, args ...string) (int, error) {
	if e.Log != nil {
		e.Log.WithField("args", args).Debugf("exec %s", name)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = e.Stdin
	cmd.Stdout = e.Stdout
	cmd.Stderr = e.Stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}

	return -1, errors.Wrapf(err, "cannot run %s", name)
}

type privilegedRunner struct {
	runner   Runner
	escalate []string
}

// Privileged returns a runner that prefixes every command with escalate
// (f.e. `sudo`). When the process already runs as root, or escalate is empty,
// r is returned as is.
func Privileged(r Runner, escalate []string) Runner {
	if len(escalate) == 0 || unix.Geteuid() == 0 {
		return r
	}

	return &privilegedRunner{runner: r, escalate: escalate}
}

func (p *privilegedRunner) Run(ctx context.Context, name string, args ...string) (int, error) {
	full := append(append(append([]string{}, p.escalate[1:]...), name), args...)
	return p.runner.Run(ctx, p.escalate[0], full...)
}
