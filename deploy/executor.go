package deploy

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/razumnyak/infractl/config"
	"github.com/razumnyak/infractl/infraerr"
	"github.com/razumnyak/infractl/internal/shellsafe"
	"github.com/razumnyak/infractl/logger"
)

// Executor runs one job at a time. Each phase appends a bracketed section
// to the job output so the history shows exactly where a run stopped.
type Executor struct {
	WorkDir        string
	DefaultTimeout time.Duration
	Git            *GitOps
	Docker         *DockerOps
	Script         *ScriptOps
	Logger         logger.Logger
}

func NewExecutor(cfg config.DeployConfig, log logger.Logger) *Executor {
	timeout, err := config.ParseDuration(cfg.DefaultTimeout)
	if err != nil || timeout == 0 {
		timeout = 300 * time.Second
	}
	return &Executor{
		WorkDir:        cfg.WorkDir,
		DefaultTimeout: timeout,
		Git:            &GitOps{Logger: log},
		Docker:         &DockerOps{Logger: log},
		Script:         &ScriptOps{Logger: log},
		Logger:         log,
	}
}

func (e *Executor) timeoutFor(d config.Deployment) time.Duration {
	if d.Timeout != "" {
		if t, err := config.ParseDuration(d.Timeout); err == nil && t > 0 {
			return t
		}
	}
	return e.DefaultTimeout
}

// Execute runs the job and fills in its outcome fields. Errors are
// recorded on the job rather than returned; the worker decides what to do
// with a failed run.
func (e *Executor) Execute(ctx context.Context, j *Job) {
	d := j.Deployment
	j.StartedAt = time.Now().UTC()

	ctx, cancel := context.WithTimeout(ctx, e.timeoutFor(d))
	defer cancel()

	var out strings.Builder
	err := e.execute(ctx, d, j, &out)

	j.FinishedAt = time.Now().UTC()
	j.Output = out.String()
	if err != nil {
		j.Status = StatusFailed
		j.Error = err.Error()
		e.Logger.Error("Deployment %s failed: %v", d.Name, err)
		return
	}
	j.Status = StatusSuccess
	if j.Skipped {
		e.Logger.Info("Deployment %s skipped, no changes", d.Name)
	} else {
		e.Logger.Info("Deployment %s succeeded in %s", d.Name, j.FinishedAt.Sub(j.StartedAt).Round(time.Millisecond))
	}
}

func (e *Executor) execute(ctx context.Context, d config.Deployment, j *Job, out *strings.Builder) error {
	warnings, err := shellsafe.CheckAll(hookCommands(d))
	if err != nil {
		return infraerr.NewDeployError(d.Name, "validate", err)
	}
	for _, w := range warnings {
		e.Logger.Warn("Deployment %s: %s", d.Name, w)
	}

	dir := ""
	if d.Path != "" {
		dir, err = ResolveContained(e.WorkDir, d.Path)
		if err != nil {
			return infraerr.NewDeployError(d.Name, "validate", err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return infraerr.NewDeployError(d.Name, "validate", err)
		}
	}

	if len(d.PreDeploy) > 0 {
		fmt.Fprintln(out, "[pre-deploy]")
		for _, cmd := range d.PreDeploy {
			if err := e.Script.RunCommand(ctx, d, cmd, dir, out); err != nil {
				return infraerr.NewDeployError(d.Name, "pre-deploy", err)
			}
		}
	}

	// File mappings land before the main step so pulled services start
	// against fresh configs.
	if len(d.Files) > 0 {
		if err := e.Git.FetchFiles(ctx, d, out); err != nil {
			return infraerr.NewDeployError(d.Name, "copy", err)
		}
	}

	switch d.Type {
	case config.DeployGitPull:
		if _, statErr := os.Stat(filepath.Join(dir, ".git")); statErr != nil {
			fmt.Fprintln(out, "[git clone]")
			if err := e.Git.Clone(ctx, d, dir, out); err != nil {
				return infraerr.NewDeployError(d.Name, "git", err)
			}
			j.Changed = true
			break
		}
		changed, commit, err := e.Git.Pull(ctx, d, dir, out)
		if err != nil {
			return infraerr.NewDeployError(d.Name, "git", err)
		}
		j.Commit = commit
		j.Changed = changed
		j.Skipped = !changed
	case config.DeployDockerPull:
		compose := filepath.Join(dir, d.ComposeFileOrDefault())
		if _, statErr := os.Stat(compose); statErr != nil {
			return infraerr.NewDeployError(d.Name, "docker", fmt.Errorf("compose file not found: %s", compose))
		}
		if err := e.Docker.PullAndRestart(ctx, d, dir, out); err != nil {
			return infraerr.NewDeployError(d.Name, "docker", err)
		}
		j.Changed = true
	case config.DeployCustomScript:
		fmt.Fprintln(out, "[script]")
		if isScriptFile(d.Script) {
			if err := e.Script.RunScript(ctx, d, out); err != nil {
				return infraerr.NewDeployError(d.Name, "script", err)
			}
		} else {
			if _, err := shellsafe.Check(d.Script); err != nil {
				return infraerr.NewDeployError(d.Name, "validate", err)
			}
			scriptDir := d.WorkingDir
			if scriptDir == "" {
				scriptDir = dir
			}
			if err := e.Script.RunCommand(ctx, d, d.Script, scriptDir, out); err != nil {
				return infraerr.NewDeployError(d.Name, "script", err)
			}
		}
		j.Changed = true
	default:
		return infraerr.NewDeployError(d.Name, "validate", fmt.Errorf("unknown deployment type %q", d.Type))
	}

	// Nothing changed, so post hooks are pointless.
	if j.Skipped {
		return nil
	}

	if len(d.PostDeploy) > 0 {
		fmt.Fprintln(out, "[post-deploy]")
		for _, cmd := range d.PostDeploy {
			if err := e.Script.RunCommand(ctx, d, cmd, dir, out); err != nil {
				return infraerr.NewDeployError(d.Name, "post-deploy", err)
			}
		}
	}

	return nil
}

// Shutdown stops a deployment. Explicit shutdown hooks take precedence;
// without them a docker deployment with a present compose file gets its
// services brought down, and anything else is a no-op.
func (e *Executor) Shutdown(ctx context.Context, d config.Deployment, out io.Writer) error {
	dir := ""
	if d.Path != "" {
		if resolved, err := ResolveContained(e.WorkDir, d.Path); err == nil {
			dir = resolved
		}
	}

	fmt.Fprintln(out, "[shutdown]")
	if len(d.Shutdown) > 0 {
		for _, cmd := range d.Shutdown {
			if _, err := shellsafe.Check(cmd); err != nil {
				return infraerr.NewDeployError(d.Name, "shutdown", err)
			}
			if err := e.Script.RunCommand(ctx, d, cmd, dir, out); err != nil {
				return infraerr.NewDeployError(d.Name, "shutdown", err)
			}
		}
		return nil
	}

	if d.Type == config.DeployDockerPull && dir != "" {
		compose := filepath.Join(dir, d.ComposeFileOrDefault())
		if _, err := os.Stat(compose); err == nil {
			if err := e.Docker.Down(ctx, d, dir, out); err != nil {
				return infraerr.NewDeployError(d.Name, "shutdown", err)
			}
			return nil
		}
	}

	fmt.Fprintln(out, "no shutdown commands configured")
	return nil
}

// isScriptFile decides whether a custom_script entry names a script on
// disk or is an inline command. A single token ending in .sh counts as a
// file even before it exists.
func isScriptFile(script string) bool {
	s := strings.TrimSpace(script)
	if _, err := os.Stat(s); err == nil {
		return true
	}
	return !strings.ContainsAny(s, " \n") && strings.HasSuffix(s, ".sh")
}

func hookCommands(d config.Deployment) []string {
	var all []string
	all = append(all, d.PreDeploy...)
	all = append(all, d.PostDeploy...)
	all = append(all, d.Shutdown...)
	return all
}
