// Package source prepares the input of an archive: either a path given
// directly in the configuration or a file produced by a shell command.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/tis24dev/panbackup/internal/logging"
)

// CommandRunner runs a shell command line in workdir and returns its exit status.
// A non-nil error means the command could not be started at all.
type CommandRunner interface {
	Run(ctx context.Context, command, workdir string) (int, error)
}

// ShellRunner runs commands through the platform shell (sh -c, cmd /C).
// The command's stdout/stderr are inherited, never captured.
type ShellRunner struct {
	goos string
}

// NewShellRunner returns a runner for the current platform.
func NewShellRunner() *ShellRunner {
	return &ShellRunner{goos: runtime.GOOS}
}

func (r *ShellRunner) shell() (string, []string) {
	if r.goos == "windows" {
		return "cmd", []string{"/C"}
	}
	return "sh", []string{"-c"}
}

// Run implements CommandRunner.
func (r *ShellRunner) Run(ctx context.Context, command, workdir string) (int, error) {
	name, args := r.shell()
	cmd := exec.CommandContext(ctx, name, append(args, command)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if workdir != "" {
		cmd.Dir = workdir
	}

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// CommandFailedError reports a preparation command that could not run or exited non-zero.
type CommandFailedError struct {
	ExitCode int
	Err      error
}

func (e *CommandFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command failed (exit code %d): %v", e.ExitCode, e.Err)
	}
	return fmt.Sprintf("command failed with exit code %d", e.ExitCode)
}

func (e *CommandFailedError) Unwrap() error {
	return e.Err
}

// Request describes one preparation, with placeholders already resolved.
type Request struct {
	Command           string
	Workdir           string
	SourcePath        string
	KeepCommandSource bool
}

// Prepared is the outcome of a preparation.
type Prepared struct {
	// Path is the archive input.
	Path string
	// Generated is true when Path was produced by a command.
	Generated bool
	// Cleanup reports whether Path must be removed once the pipeline is done with it.
	Cleanup bool
}

// Preparer runs optional source commands.
type Preparer struct {
	logger *logging.Logger
	runner CommandRunner
}

// NewPreparer creates a Preparer. A nil runner selects the platform shell.
func NewPreparer(logger *logging.Logger, runner CommandRunner) *Preparer {
	if runner == nil {
		runner = NewShellRunner()
	}
	return &Preparer{logger: logger, runner: runner}
}

// Prepare executes the command (if any) and returns the archive input.
// Even on command failure the returned Prepared describes the expected
// generated path so callers can honour keep_command_source.
func (p *Preparer) Prepare(ctx context.Context, req Request) (Prepared, error) {
	prepared := Prepared{Path: strings.TrimSpace(req.SourcePath)}
	if prepared.Path == "" {
		return prepared, errors.New("source_path/source_dir cannot be empty")
	}

	if strings.TrimSpace(req.Command) == "" {
		p.logger.Debug("Using configured source %s (read-only)", prepared.Path)
		return prepared, nil
	}

	prepared.Generated = true
	prepared.Cleanup = !req.KeepCommandSource

	if req.Workdir != "" {
		info, err := os.Stat(req.Workdir)
		if err != nil || !info.IsDir() {
			if err == nil {
				err = errors.New("not a directory")
			}
			prepared.Cleanup = false
			return prepared, &CommandFailedError{ExitCode: -1, Err: fmt.Errorf("command workdir %s: %w", req.Workdir, err)}
		}
	}

	// The command text may carry credentials: only its size is logged.
	p.logger.Info("Running source command (%d bytes, workdir=%s)", len(req.Command), displayWorkdir(req.Workdir))
	code, err := p.runner.Run(ctx, req.Command, req.Workdir)
	if err != nil {
		return prepared, &CommandFailedError{ExitCode: -1, Err: err}
	}
	if code != 0 {
		return prepared, &CommandFailedError{ExitCode: code}
	}
	p.logger.Debug("Source command completed, archive input: %s", prepared.Path)
	return prepared, nil
}

func displayWorkdir(workdir string) string {
	if workdir == "" {
		return "."
	}
	return workdir
}
