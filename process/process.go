// Package process runs external commands with timeouts and captured
// output. Every deployment step and docker interaction goes through it.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/razumnyak/infractl/logger"
)

// Config describes a single command invocation.
type Config struct {
	Path string
	Args []string
	Dir  string

	// Env entries in KEY=VALUE form, appended to the parent environment.
	Env []string

	// Timeout bounds the run. Zero means the caller's context is the only
	// limit.
	Timeout time.Duration

	// Tee receives a live copy of combined output when set.
	Tee io.Writer

	Logger logger.Logger
}

// Result holds what a finished command produced.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Combined returns stdout followed by stderr, trimmed.
func (r *Result) Combined() string {
	return strings.TrimSpace(strings.TrimSpace(r.Stdout) + "\n" + strings.TrimSpace(r.Stderr))
}

// ExitError is returned when a command runs but exits non-zero. The Result
// is always populated so callers can surface output.
type ExitError struct {
	Path     string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	excerpt := strings.TrimSpace(e.Stderr)
	if len(excerpt) > 500 {
		excerpt = excerpt[:500] + "..."
	}
	if excerpt == "" {
		return fmt.Sprintf("%s exited with status %d", e.Path, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Path, e.ExitCode, excerpt)
}

// Run executes the command and waits for it. A non-zero exit returns both
// the Result and an *ExitError; a timeout returns context.DeadlineExceeded.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Discard
	}
	log.Debug("Running %s %s", cfg.Path, strings.Join(cfg.Args, " "))

	cmd := exec.CommandContext(ctx, cfg.Path, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = append(os.Environ(), cfg.Env...)

	var stdout, stderr bytes.Buffer
	if cfg.Tee != nil {
		cmd.Stdout = io.MultiWriter(&stdout, cfg.Tee)
		cmd.Stderr = io.MultiWriter(&stderr, cfg.Tee)
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("%s timed out after %s: %w", cfg.Path, res.Duration.Round(time.Millisecond), ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{Path: cfg.Path, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}

	res.ExitCode = -1
	return res, fmt.Errorf("starting %s: %w", cfg.Path, err)
}
