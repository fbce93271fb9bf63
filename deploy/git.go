package deploy

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/buildkite/shellwords"

	"github.com/razumnyak/infractl/config"
	"github.com/razumnyak/infractl/logger"
	"github.com/razumnyak/infractl/process"
)

// gitEnv builds the environment for git commands. A configured SSH key
// pins the identity and disables known-hosts churn on freshly provisioned
// hosts.
func gitEnv(d config.Deployment) []string {
	if d.SSHKey == "" {
		return nil
	}
	sshCommand := fmt.Sprintf(
		"ssh -i %s -o StrictHostKeyChecking=accept-new -o UserKnownHostsFile=/dev/null",
		shellwords.Quote(d.SSHKey),
	)
	return []string{"GIT_SSH_COMMAND=" + sshCommand}
}

// GitOps drives git for git_pull deployments and repo file fetches.
type GitOps struct {
	Logger  logger.Logger
	Timeout time.Duration
}

func (g *GitOps) run(ctx context.Context, d config.Deployment, dir string, out io.Writer, args ...string) (*process.Result, error) {
	return process.Run(ctx, process.Config{
		Path:    "git",
		Args:    args,
		Dir:     dir,
		Env:     gitEnv(d),
		Timeout: g.Timeout,
		Tee:     out,
		Logger:  g.Logger,
	})
}

// Pull fast-forwards a working copy to the remote branch head. It reports
// whether HEAD moved and the commit it landed on. The working copy is
// hard-reset, so local edits on managed hosts never block a deployment.
func (g *GitOps) Pull(ctx context.Context, d config.Deployment, dir string, out io.Writer) (changed bool, commit string, err error) {
	remote := d.RemoteOrDefault()
	branch := d.BranchOrDefault()

	before, err := g.run(ctx, d, dir, nil, "rev-parse", "HEAD")
	if err != nil {
		return false, "", fmt.Errorf("reading current commit: %w", err)
	}

	fmt.Fprintln(out, "[git fetch]")
	if _, err := g.run(ctx, d, dir, out, "fetch", remote, branch); err != nil {
		return false, "", err
	}

	fmt.Fprintln(out, "[git reset]")
	if _, err := g.run(ctx, d, dir, out, "reset", "--hard", remote+"/"+branch); err != nil {
		return false, "", err
	}

	fmt.Fprintln(out, "[git clean]")
	if _, err := g.run(ctx, d, dir, out, "clean", "-fd"); err != nil {
		return false, "", err
	}

	after, err := g.run(ctx, d, dir, nil, "rev-parse", "HEAD")
	if err != nil {
		return false, "", fmt.Errorf("reading new commit: %w", err)
	}

	commit = strings.TrimSpace(after.Stdout)
	changed = strings.TrimSpace(before.Stdout) != commit

	fmt.Fprintf(out, "[commit]\n%s\n", commit)
	if changed {
		fmt.Fprintln(out, "[changes]")
	} else {
		fmt.Fprintln(out, "[no changes]")
	}
	return changed, commit, nil
}

// Clone creates a fresh shallow working copy.
func (g *GitOps) Clone(ctx context.Context, d config.Deployment, dest string, out io.Writer) error {
	if d.Repo == "" {
		return fmt.Errorf("deployment %s has no repo to clone", d.Name)
	}
	_, err := g.run(ctx, d, "", out, "clone", "--depth", "1", "--branch", d.BranchOrDefault(), d.Repo, dest)
	return err
}

// FetchFiles clones the deployment's repo into a temp dir and copies the
// configured file mappings into the deployment path. Both sides are
// containment-checked: sources against the clone, destinations against
// the deployment path, so a mapping can neither read outside the repo
// nor write outside the target.
func (g *GitOps) FetchFiles(ctx context.Context, d config.Deployment, out io.Writer) error {
	if len(d.Files) == 0 {
		return nil
	}
	if d.Path == "" || d.Repo == "" {
		return fmt.Errorf("deployment %s maps files but has no path and repo", d.Name)
	}
	if err := os.MkdirAll(d.Path, 0o755); err != nil {
		return fmt.Errorf("creating destination %s: %w", d.Path, err)
	}

	tmp, err := os.MkdirTemp("", "infractl-files-*")
	if err != nil {
		return fmt.Errorf("creating temp clone dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := g.Clone(ctx, d, tmp, out); err != nil {
		return err
	}

	fmt.Fprintln(out, "[copy]")
	for _, mapping := range d.Files {
		m, err := ParseFileMapping(mapping)
		if err != nil {
			return err
		}
		src, err := ResolveContained(tmp, filepath.Join(tmp, strings.TrimSuffix(m.Src, "/")))
		if err != nil {
			return err
		}
		dst, err := ResolveContained(d.Path, filepath.Join(d.Path, strings.TrimSuffix(m.Dst, "/")))
		if err != nil {
			return err
		}

		info, err := os.Stat(src)
		if err != nil {
			return fmt.Errorf("mapping %s: source not in repo: %w", mapping, err)
		}
		if m.Dir != info.IsDir() {
			return fmt.Errorf("mapping %s: source and mapping disagree on file vs directory", mapping)
		}
		if m.Dir {
			err = copyDir(src, dst)
		} else {
			err = copyFile(src, dst)
		}
		if err != nil {
			return fmt.Errorf("copying %s: %w", mapping, err)
		}
		fmt.Fprintf(out, "%s -> %s\n", m.Src, m.Dst)
	}
	return nil
}
