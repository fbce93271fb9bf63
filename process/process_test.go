package process

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesOutput(t *testing.T) {
	res, err := Run(context.Background(), Config{
		Path: "sh",
		Args: []string{"-c", "echo out; echo err >&2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "out\nerr", res.Combined())
}

func TestRunNonZeroExit(t *testing.T) {
	res, err := Run(context.Background(), Config{
		Path: "sh",
		Args: []string{"-c", "echo broken >&2; exit 3"},
	})
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.ExitCode)
	assert.Contains(t, exitErr.Error(), "broken")
	assert.Equal(t, 3, res.ExitCode)
}

func TestRunTimeout(t *testing.T) {
	_, err := Run(context.Background(), Config{
		Path:    "sleep",
		Args:    []string{"10"},
		Timeout: 50 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRunMissingBinary(t *testing.T) {
	res, err := Run(context.Background(), Config{Path: "infractl-does-not-exist"})
	require.Error(t, err)
	assert.Equal(t, -1, res.ExitCode)

	var exitErr *ExitError
	assert.False(t, errors.As(err, &exitErr))
}

func TestRunTee(t *testing.T) {
	var tee bytes.Buffer
	res, err := Run(context.Background(), Config{
		Path: "sh",
		Args: []string{"-c", "echo hello"},
		Tee:  &tee,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "hello\n", tee.String())
}

func TestRunEnvAndDir(t *testing.T) {
	dir := t.TempDir()
	res, err := Run(context.Background(), Config{
		Path: "sh",
		Args: []string{"-c", "echo $INFRACTL_TEST_VAR; pwd"},
		Env:  []string{"INFRACTL_TEST_VAR=seven"},
		Dir:  dir,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "seven")
	assert.Contains(t, res.Stdout, dir)
}
