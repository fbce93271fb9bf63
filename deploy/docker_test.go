package deploy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/razumnyak/infractl/config"
)

func TestUpArgs(t *testing.T) {
	d := config.Deployment{Services: []string{"web", "worker"}}

	assert.Equal(t,
		[]string{"up", "-d", "--remove-orphans", "web", "worker"},
		upArgs(d))

	d.Strategy = config.StrategyForceRecreate
	assert.Equal(t,
		[]string{"up", "-d", "--remove-orphans", "--force-recreate", "web", "worker"},
		upArgs(d))

	d.Strategy = config.StrategyRestart
	assert.Equal(t, []string{"restart", "web", "worker"}, upArgs(d))
}
