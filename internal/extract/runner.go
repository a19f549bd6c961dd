package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// ErrToolMissing is returned when a required external binary is not on PATH.
var ErrToolMissing = errors.New("extract: external tool not found")

// RunResult holds the output of an external tool invocation.
type RunResult struct {
	// Stdout is the standard output captured from the process.
	Stdout string

	// Stderr is the standard error captured from the process.
	Stderr string

	// ExitCode is the process exit code (0 = success).
	ExitCode int
}

// Runner executes external tools. Abstracting this allows tests to inject a
// fake runner without spawning real pdftoppm or tesseract processes.
type Runner interface {
	// LookPath reports whether name is available.
	LookPath(name string) error
	// Run executes name with args and captures its output.
	Run(ctx context.Context, name string, args ...string) (*RunResult, error)
}

// ExecRunner implements Runner with os/exec. It is the default runner used
// in production.
type ExecRunner struct{}

// LookPath returns ErrToolMissing when name is not on PATH.
func (ExecRunner) LookPath(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%w: %s", ErrToolMissing, name)
	}
	return nil
}

// Run executes `name [args...]` and returns the captured stdout, stderr, and
// exit code. A non-zero exit is reported in the result, not as an error.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (*RunResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			if errors.Is(err, exec.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrToolMissing, name)
			}
			return nil, fmt.Errorf("extract: failed to run %s: %w", name, err)
		}
		exitCode = exitErr.ExitCode()
	}

	return &RunResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}, nil
}

// failure formats a non-zero exit into an error carrying stderr.
func failure(tool string, res *RunResult) error {
	msg := res.Stderr
	if msg == "" {
		msg = res.Stdout
	}
	return fmt.Errorf("extract: %s exited %d: %s", tool, res.ExitCode, trimOutput(msg))
}

// trimOutput keeps error messages readable when a tool is chatty.
func trimOutput(s string) string {
	const limit = 512
	s = string(bytes.TrimSpace([]byte(s)))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
