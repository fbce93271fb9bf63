package deploy

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/razumnyak/infractl/config"
	"github.com/razumnyak/infractl/logger"
)

// newTestRepo builds a local git repo with the given files on branch
// main, returning its path for use as a clone source.
func newTestRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	repo := t.TempDir()
	for name, content := range files {
		path := filepath.Join(repo, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	for _, args := range [][]string{
		{"init", "-b", "main"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "test"},
		{"add", "."},
		{"commit", "-m", "init"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = repo
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	return repo
}

func TestFetchFilesCopiesIntoDeploymentPath(t *testing.T) {
	repo := newTestRepo(t, map[string]string{
		"configs/app.env":      "KEY=value\n",
		"configs/nested/extra": "extra\n",
	})
	dest := filepath.Join(t.TempDir(), "app")

	d := config.Deployment{
		Name:  "app",
		Repo:  repo,
		Path:  dest,
		Files: []string{"configs/app.env:.env", "configs/:conf/"},
	}

	g := &GitOps{Logger: logger.Discard}
	var out strings.Builder
	require.NoError(t, g.FetchFiles(context.Background(), d, &out))

	data, err := os.ReadFile(filepath.Join(dest, ".env"))
	require.NoError(t, err)
	assert.Equal(t, "KEY=value\n", string(data))

	data, err = os.ReadFile(filepath.Join(dest, "conf", "nested", "extra"))
	require.NoError(t, err)
	assert.Equal(t, "extra\n", string(data))
}

func TestFetchFilesRejectsDestinationEscape(t *testing.T) {
	repo := newTestRepo(t, map[string]string{"app.env": "KEY=value\n"})
	dest := filepath.Join(t.TempDir(), "app")

	d := config.Deployment{
		Name:  "app",
		Repo:  repo,
		Path:  dest,
		Files: []string{"app.env:../outside.env"},
	}

	g := &GitOps{Logger: logger.Discard}
	var out strings.Builder
	err := g.FetchFiles(context.Background(), d, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")

	_, statErr := os.Stat(filepath.Join(filepath.Dir(dest), "outside.env"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetchFilesMissingSourceFails(t *testing.T) {
	repo := newTestRepo(t, map[string]string{"present.txt": "here\n"})
	dest := filepath.Join(t.TempDir(), "app")

	d := config.Deployment{
		Name:  "app",
		Repo:  repo,
		Path:  dest,
		Files: []string{"absent.txt:absent.txt"},
	}

	g := &GitOps{Logger: logger.Discard}
	var out strings.Builder
	err := g.FetchFiles(context.Background(), d, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source not in repo")
}

func TestFetchFilesRequiresPathAndRepo(t *testing.T) {
	g := &GitOps{Logger: logger.Discard}
	var out strings.Builder

	d := config.Deployment{Name: "app", Files: []string{"a:b"}}
	err := g.FetchFiles(context.Background(), d, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no path and repo")
}

func TestExecuteGitPullClonesMissingWorkingCopy(t *testing.T) {
	repo := newTestRepo(t, map[string]string{"README.md": "hello\n"})
	work := t.TempDir()

	j := NewJob(config.Deployment{
		Name:   "app",
		Type:   config.DeployGitPull,
		Path:   filepath.Join(work, "app"),
		Repo:   repo,
		Branch: "main",
	}, "manual")

	testExecutor(t, work).Execute(context.Background(), j)

	require.Equal(t, StatusSuccess, j.Status, j.Error)
	assert.True(t, j.Changed)
	assert.False(t, j.Skipped)
	assert.Contains(t, j.Output, "[git clone]")

	data, err := os.ReadFile(filepath.Join(work, "app", "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestExecuteGitPullUpToDateSkips(t *testing.T) {
	repo := newTestRepo(t, map[string]string{"README.md": "hello\n"})
	work := t.TempDir()

	d := config.Deployment{
		Name:   "app",
		Type:   config.DeployGitPull,
		Path:   filepath.Join(work, "app"),
		Repo:   repo,
		Branch: "main",
	}

	// First run clones, second run finds nothing new.
	first := NewJob(d, "manual")
	testExecutor(t, work).Execute(context.Background(), first)
	require.Equal(t, StatusSuccess, first.Status, first.Error)

	second := NewJob(d, "manual")
	testExecutor(t, work).Execute(context.Background(), second)

	require.Equal(t, StatusSuccess, second.Status, second.Error)
	assert.False(t, second.Changed)
	assert.True(t, second.Skipped)
	assert.NotEmpty(t, second.Commit)
}
