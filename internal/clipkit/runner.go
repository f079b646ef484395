package clipkit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/jlsteenwyk/trimwf/internal/model"
)

// ErrBinaryNotFound indicates the configured clipkit executable is not on PATH.
var ErrBinaryNotFound = errors.New("clipkit binary not found")

// TrimError is returned when the binary runs but exits non-zero. Stderr holds
// the tail of the captured stderr stream.
type TrimError struct {
	ExitCode int
	Stderr   string
}

func (e *TrimError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("clipkit exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("clipkit exited with code %d: %s", e.ExitCode, e.Stderr)
}

// Runner executes a trim invocation. The task takes a Runner rather than
// shelling out directly so tests can substitute a fake trimmer.
type Runner interface {
	Run(ctx context.Context, inv Invocation) error
}

// ExecRunner runs the real clipkit binary.
type ExecRunner struct {
	binary  string
	timeout time.Duration
}

// NewExecRunner creates a runner from the clipkit section of the config.
func NewExecRunner(cfg model.ClipkitConfig) *ExecRunner {
	binary := cfg.Binary
	if binary == "" {
		binary = "clipkit"
	}
	return &ExecRunner{
		binary:  binary,
		timeout: time.Duration(cfg.TimeoutSec) * time.Second,
	}
}

// Run executes the invocation synchronously. The exit code is checked and a
// non-zero exit becomes a *TrimError carrying the stderr tail.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) error {
	if _, err := exec.LookPath(r.binary); err != nil {
		return fmt.Errorf("%w: %q", ErrBinaryNotFound, r.binary)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.binary, inv.Args()...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("clipkit cancelled: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &TrimError{
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderrTail(stderr.String()),
			}
		}
		return fmt.Errorf("run clipkit: %w", err)
	}
	return nil
}

// Version probes the binary with --version for the status surface.
func (r *ExecRunner) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, r.binary, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("clipkit --version: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

const (
	stderrTailLines    = 10
	stderrTailMaxBytes = 2048
)

// stderrTail keeps the last few lines of stderr so the error stays readable
// when ClipKIT prints a long traceback.
func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > stderrTailLines {
		lines = lines[len(lines)-stderrTailLines:]
	}
	tail := strings.Join(lines, "\n")
	if len(tail) > stderrTailMaxBytes {
		tail = tail[len(tail)-stderrTailMaxBytes:]
	}
	return tail
}
