package deploy

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/razumnyak/infractl/config"
	"github.com/razumnyak/infractl/logger"
	"github.com/razumnyak/infractl/process"
)

// ScriptOps runs hook commands and custom deployment scripts.
type ScriptOps struct {
	Logger  logger.Logger
	Timeout time.Duration
}

func deployEnv(d config.Deployment) []string {
	if len(d.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(d.Env))
	for k := range d.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+d.Env[k])
	}
	return env
}

// RunCommand executes one hook command through sh. Callers are expected to
// have screened the command with shellsafe first. A configured user runs
// the command under sudo.
func (o *ScriptOps) RunCommand(ctx context.Context, d config.Deployment, command, dir string, out io.Writer) error {
	path := "sh"
	args := []string{"-c", command}
	if d.User != "" {
		path = "sudo"
		args = []string{"-u", d.User, "sh", "-c", command}
	}

	_, err := process.Run(ctx, process.Config{
		Path:    path,
		Args:    args,
		Dir:     dir,
		Env:     deployEnv(d),
		Timeout: o.Timeout,
		Tee:     out,
		Logger:  o.Logger,
	})
	return err
}

// RunScript executes a custom_script deployment's script through bash.
func (o *ScriptOps) RunScript(ctx context.Context, d config.Deployment, out io.Writer) error {
	dir := d.WorkingDir
	if dir == "" {
		dir = d.Path
	}

	path := "bash"
	args := []string{d.Script}
	if d.User != "" {
		path = "sudo"
		args = []string{"-u", d.User, "bash", d.Script}
	}

	_, err := process.Run(ctx, process.Config{
		Path:    path,
		Args:    args,
		Dir:     dir,
		Env:     deployEnv(d),
		Timeout: o.Timeout,
		Tee:     out,
		Logger:  o.Logger,
	})
	if err != nil {
		return fmt.Errorf("script %s: %w", d.Script, err)
	}
	return nil
}
