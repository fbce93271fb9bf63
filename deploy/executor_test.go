package deploy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/razumnyak/infractl/config"
	"github.com/razumnyak/infractl/logger"
)

func testExecutor(t *testing.T, workDir string) *Executor {
	t.Helper()
	return NewExecutor(config.DeployConfig{
		WorkDir:        workDir,
		DefaultTimeout: "30s",
	}, logger.Discard)
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/bash\n"+body+"\n"), 0o755))
	return path
}

func TestExecuteCustomScript(t *testing.T) {
	work := t.TempDir()
	appDir := filepath.Join(work, "app")
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	script := writeScript(t, appDir, "deploy.sh", "echo deployed")

	j := NewJob(config.Deployment{
		Name:   "app",
		Type:   config.DeployCustomScript,
		Path:   appDir,
		Script: script,
	}, "manual")

	testExecutor(t, work).Execute(context.Background(), j)

	assert.Equal(t, StatusSuccess, j.Status)
	assert.True(t, j.Changed)
	assert.False(t, j.Skipped)
	assert.Contains(t, j.Output, "[script]")
	assert.Contains(t, j.Output, "deployed")
	assert.Empty(t, j.Error)
}

func TestExecuteRunsHooksInOrder(t *testing.T) {
	work := t.TempDir()
	appDir := filepath.Join(work, "app")
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	script := writeScript(t, appDir, "deploy.sh", "echo main")

	j := NewJob(config.Deployment{
		Name:       "app",
		Type:       config.DeployCustomScript,
		Path:       appDir,
		Script:     script,
		PreDeploy:  []string{"echo before"},
		PostDeploy: []string{"echo after"},
	}, "manual")

	testExecutor(t, work).Execute(context.Background(), j)

	require.Equal(t, StatusSuccess, j.Status)
	assert.Contains(t, j.Output, "[pre-deploy]")
	assert.Contains(t, j.Output, "[post-deploy]")
	assert.Less(t, strings.Index(j.Output, "before"), strings.Index(j.Output, "main"))
	assert.Less(t, strings.Index(j.Output, "main"), strings.Index(j.Output, "after"))
}

func TestExecuteRefusesForbiddenHook(t *testing.T) {
	work := t.TempDir()
	appDir := filepath.Join(work, "app")
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	script := writeScript(t, appDir, "deploy.sh", "echo never")

	j := NewJob(config.Deployment{
		Name:      "app",
		Type:      config.DeployCustomScript,
		Path:      appDir,
		Script:    script,
		PreDeploy: []string{"echo a && rm -rf /"},
	}, "manual")

	testExecutor(t, work).Execute(context.Background(), j)

	assert.Equal(t, StatusFailed, j.Status)
	assert.Contains(t, j.Error, "forbidden construct")
	assert.NotContains(t, j.Output, "never")
}

func TestExecuteRefusesPathEscape(t *testing.T) {
	work := t.TempDir()

	j := NewJob(config.Deployment{
		Name:   "app",
		Type:   config.DeployCustomScript,
		Path:   "/etc",
		Script: "/bin/true",
	}, "manual")

	testExecutor(t, work).Execute(context.Background(), j)

	assert.Equal(t, StatusFailed, j.Status)
	assert.Contains(t, j.Error, "escapes work dir")
}

func TestExecuteFailedScriptCapturesStderr(t *testing.T) {
	work := t.TempDir()
	appDir := filepath.Join(work, "app")
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	script := writeScript(t, appDir, "deploy.sh", "echo boom >&2; exit 1")

	j := NewJob(config.Deployment{
		Name:   "app",
		Type:   config.DeployCustomScript,
		Path:   appDir,
		Script: script,
	}, "manual")

	testExecutor(t, work).Execute(context.Background(), j)

	assert.Equal(t, StatusFailed, j.Status)
	assert.Contains(t, j.Error, "boom")
}

func TestExecuteTimeout(t *testing.T) {
	work := t.TempDir()
	appDir := filepath.Join(work, "app")
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	script := writeScript(t, appDir, "deploy.sh", "sleep 10")

	j := NewJob(config.Deployment{
		Name:    "app",
		Type:    config.DeployCustomScript,
		Path:    appDir,
		Script:  script,
		Timeout: "100ms",
	}, "manual")

	start := time.Now()
	testExecutor(t, work).Execute(context.Background(), j)

	assert.Equal(t, StatusFailed, j.Status)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecuteInlineCommand(t *testing.T) {
	work := t.TempDir()
	appDir := filepath.Join(work, "app")
	require.NoError(t, os.MkdirAll(appDir, 0o755))

	j := NewJob(config.Deployment{
		Name:   "app",
		Type:   config.DeployCustomScript,
		Path:   appDir,
		Script: "echo inline output",
	}, "manual")

	testExecutor(t, work).Execute(context.Background(), j)

	assert.Equal(t, StatusSuccess, j.Status)
	assert.Contains(t, j.Output, "inline output")
}

func TestExecuteInlineCommandRefusesForbidden(t *testing.T) {
	work := t.TempDir()
	appDir := filepath.Join(work, "app")
	require.NoError(t, os.MkdirAll(appDir, 0o755))

	j := NewJob(config.Deployment{
		Name:   "app",
		Type:   config.DeployCustomScript,
		Path:   appDir,
		Script: "echo a && rm -rf /",
	}, "manual")

	testExecutor(t, work).Execute(context.Background(), j)

	assert.Equal(t, StatusFailed, j.Status)
	assert.Contains(t, j.Error, "forbidden construct")
}

func TestIsScriptFile(t *testing.T) {
	dir := t.TempDir()
	existing := writeScript(t, dir, "run", "echo hi")

	assert.True(t, isScriptFile(existing))
	assert.True(t, isScriptFile("/opt/app/deploy.sh"))
	assert.False(t, isScriptFile("echo hello"))
	assert.False(t, isScriptFile("run this.sh"))
	assert.False(t, isScriptFile("line one\nline two.sh"))
}

func TestExecuteCreatesMissingPath(t *testing.T) {
	work := t.TempDir()
	appDir := filepath.Join(work, "brand-new", "app")

	j := NewJob(config.Deployment{
		Name:   "app",
		Type:   config.DeployCustomScript,
		Path:   appDir,
		Script: "pwd",
	}, "manual")

	testExecutor(t, work).Execute(context.Background(), j)

	require.Equal(t, StatusSuccess, j.Status)
	info, err := os.Stat(appDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestExecuteDockerRequiresComposeFile(t *testing.T) {
	work := t.TempDir()
	appDir := filepath.Join(work, "app")
	require.NoError(t, os.MkdirAll(appDir, 0o755))

	j := NewJob(config.Deployment{
		Name: "app",
		Type: config.DeployDockerPull,
		Path: appDir,
	}, "manual")

	testExecutor(t, work).Execute(context.Background(), j)

	assert.Equal(t, StatusFailed, j.Status)
	assert.Contains(t, j.Error, "compose file not found")
}

func TestShutdownRunsHooks(t *testing.T) {
	work := t.TempDir()
	appDir := filepath.Join(work, "app")
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	marker := filepath.Join(appDir, "stopped")

	d := config.Deployment{
		Name:     "app",
		Type:     config.DeployCustomScript,
		Path:     appDir,
		Script:   "/bin/true",
		Shutdown: []string{"touch " + marker},
	}

	var out strings.Builder
	require.NoError(t, testExecutor(t, work).Shutdown(context.Background(), d, &out))

	_, err := os.Stat(marker)
	assert.NoError(t, err)
}

// Explicit hooks replace the compose fallback; the fallback only fires
// for docker deployments whose compose file is present.
func TestShutdownHooksReplaceComposeDown(t *testing.T) {
	work := t.TempDir()
	appDir := filepath.Join(work, "app")
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "docker-compose.yml"), []byte("services: {}\n"), 0o644))
	marker := filepath.Join(appDir, "stopped")

	d := config.Deployment{
		Name:     "app",
		Type:     config.DeployDockerPull,
		Path:     appDir,
		Shutdown: []string{"touch " + marker},
	}

	// If the compose fallback also ran, docker would be invoked here and
	// fail; hooks alone must satisfy shutdown.
	var out strings.Builder
	require.NoError(t, testExecutor(t, work).Shutdown(context.Background(), d, &out))

	_, err := os.Stat(marker)
	assert.NoError(t, err)
}

func TestShutdownWithoutHooksIsNoOp(t *testing.T) {
	work := t.TempDir()
	appDir := filepath.Join(work, "app")
	require.NoError(t, os.MkdirAll(appDir, 0o755))

	d := config.Deployment{
		Name:   "app",
		Type:   config.DeployCustomScript,
		Path:   appDir,
		Script: "/bin/true",
	}

	var out strings.Builder
	require.NoError(t, testExecutor(t, work).Shutdown(context.Background(), d, &out))
	assert.Contains(t, out.String(), "no shutdown commands configured")

	// A docker deployment without a compose file on disk is also a no-op.
	d.Type = config.DeployDockerPull
	out.Reset()
	require.NoError(t, testExecutor(t, work).Shutdown(context.Background(), d, &out))
	assert.Contains(t, out.String(), "no shutdown commands configured")
}
