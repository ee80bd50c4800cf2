package vmtar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Converter turns a container into a tar stream and back.
type Converter interface {
	Extract(ctx context.Context, container, tarOut string) error
	Create(ctx context.Context, tarIn, containerOut string) error
}

// ErrNoOutput is wrapped when the tool exits 0 without writing its output.
var ErrNoOutput = errors.New("tool reported success but wrote no output")

// ExternalToolError describes a failed invocation of an external tool.
type ExternalToolError struct {
	Tool     string
	Args     []string
	ExitCode int // -1 when the process could not be started or was killed
	Stderr   string
	Err      error
}

func (e *ExternalToolError) Error() string {
	msg := fmt.Sprintf("%s %s failed (exit %d)", e.Tool, strings.Join(e.Args, " "), e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += "\nStderr: " + s
	}
	return msg
}

func (e *ExternalToolError) Unwrap() error { return e.Err }

// Tool runs the vmtar binary at Path. A zero Timeout means no limit beyond
// the caller's context.
type Tool struct {
	Path    string
	Timeout time.Duration
}

// New returns a Tool for the vmtar binary at path.
func New(path string, timeout time.Duration) *Tool {
	return &Tool{Path: path, Timeout: timeout}
}

// Extract runs vmtar -x container -o tarOut.
func (t *Tool) Extract(ctx context.Context, container, tarOut string) error {
	return t.run(ctx, tarOut, "-x", container, "-o", tarOut)
}

// Create runs vmtar -c tarIn -o containerOut.
func (t *Tool) Create(ctx context.Context, tarIn, containerOut string) error {
	return t.run(ctx, containerOut, "-c", tarIn, "-o", containerOut)
}

func (t *Tool) run(ctx context.Context, output string, args ...string) error {
	// A stale output from an earlier attempt must not pass for fresh output.
	if err := os.Remove(output); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale %s: %w", output, err)
	}

	execCtx := ctx
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	//nolint:gosec // G204: the tool path comes from the operator's configuration
	cmd := exec.CommandContext(execCtx, t.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		toolErr := &ExternalToolError{
			Tool:     t.Path,
			Args:     args,
			ExitCode: -1,
			Stderr:   stderr.String(),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			toolErr.ExitCode = exitErr.ExitCode()
		}
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			toolErr.Err = fmt.Errorf("timed out after %v: %w", t.Timeout, execCtx.Err())
		} else if ctx.Err() != nil {
			toolErr.Err = ctx.Err()
		}
		return toolErr
	}

	if _, err := os.Stat(output); err != nil {
		return &ExternalToolError{
			Tool:   t.Path,
			Args:   args,
			Stderr: stderr.String(),
			Err:    fmt.Errorf("%w: %s", ErrNoOutput, output),
		}
	}
	return nil
}
