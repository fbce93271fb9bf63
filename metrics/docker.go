package metrics

import (
	"context"
	"strings"
	"time"

	"github.com/razumnyak/infractl/logger"
	"github.com/razumnyak/infractl/process"
)

// DockerProbe counts containers through the docker CLI. The daemon socket
// is not touched directly so the probe works with rootless and remote
// docker setups alike.
type DockerProbe struct {
	Logger logger.Logger
}

func NewDockerProbe(l logger.Logger) *DockerProbe {
	return &DockerProbe{Logger: l}
}

// Counts returns (running, total). Both docker invocations share a short
// timeout so a wedged daemon cannot stall the collector.
func (p *DockerProbe) Counts(ctx context.Context) (running int, total int, err error) {
	running, err = p.count(ctx, "docker", "ps", "-q")
	if err != nil {
		return 0, 0, err
	}
	total, err = p.count(ctx, "docker", "ps", "-aq")
	if err != nil {
		return 0, 0, err
	}
	return running, total, nil
}

func (p *DockerProbe) count(ctx context.Context, path string, args ...string) (int, error) {
	res, err := process.Run(ctx, process.Config{
		Path:    path,
		Args:    args,
		Timeout: 10 * time.Second,
		Logger:  p.Logger,
	})
	if err != nil {
		return 0, err
	}

	out := strings.TrimSpace(res.Stdout)
	if out == "" {
		return 0, nil
	}
	return len(strings.Split(out, "\n")), nil
}
