package deploy

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/razumnyak/infractl/config"
	"github.com/razumnyak/infractl/logger"
	"github.com/razumnyak/infractl/process"
)

// DockerOps drives docker compose for docker_pull deployments.
type DockerOps struct {
	Logger  logger.Logger
	Timeout time.Duration
}

func (o *DockerOps) compose(ctx context.Context, d config.Deployment, dir string, out io.Writer, args ...string) error {
	full := append([]string{"compose", "-f", d.ComposeFileOrDefault()}, args...)
	_, err := process.Run(ctx, process.Config{
		Path:    "docker",
		Args:    full,
		Dir:     dir,
		Timeout: o.Timeout,
		Tee:     out,
		Logger:  o.Logger,
	})
	return err
}

// PullAndRestart pulls images and brings services up according to the
// deployment strategy. Prune failures only warn; a full image cache is not
// a reason to fail a rollout that already succeeded.
func (o *DockerOps) PullAndRestart(ctx context.Context, d config.Deployment, dir string, out io.Writer) error {
	fmt.Fprintln(out, "[docker pull]")
	if err := o.compose(ctx, d, dir, out, append([]string{"pull"}, d.Services...)...); err != nil {
		return err
	}

	fmt.Fprintln(out, "[docker up]")
	if err := o.compose(ctx, d, dir, out, upArgs(d)...); err != nil {
		return err
	}

	if d.Prune {
		fmt.Fprintln(out, "[docker prune]")
		_, err := process.Run(ctx, process.Config{
			Path:    "docker",
			Args:    []string{"image", "prune", "-f"},
			Dir:     dir,
			Timeout: o.Timeout,
			Tee:     out,
			Logger:  o.Logger,
		})
		if err != nil && o.Logger != nil {
			o.Logger.Warn("Image prune for %s failed: %v", d.Name, err)
		}
	}
	return nil
}

// upArgs picks the compose subcommand for the deployment's strategy.
// Containers from services removed since the last rollout are orphans
// and get cleaned up alongside.
func upArgs(d config.Deployment) []string {
	switch d.Strategy {
	case config.StrategyRestart:
		return append([]string{"restart"}, d.Services...)
	case config.StrategyForceRecreate:
		return append([]string{"up", "-d", "--remove-orphans", "--force-recreate"}, d.Services...)
	default:
		return append([]string{"up", "-d", "--remove-orphans"}, d.Services...)
	}
}

// Down stops the deployment's services.
func (o *DockerOps) Down(ctx context.Context, d config.Deployment, dir string, out io.Writer) error {
	return o.compose(ctx, d, dir, out, "down")
}
