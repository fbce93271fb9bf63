package config

import (
	"fmt"
	"net/netip"

	"github.com/razumnyak/infractl/infraerr"
)

// minSecretLen is the minimum JWT secret length in bytes. HS256 keys
// shorter than the hash output weaken the MAC.
const minSecretLen = 32

// Validate checks cross-field invariants after defaults are applied.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeHome, ModeAgent:
	case "":
		return infraerr.NewValidationError("mode", "must be set to home or agent")
	default:
		return infraerr.NewValidationError("mode", fmt.Sprintf("unknown mode %q, expected home or agent", c.Mode))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return infraerr.NewValidationError("server.port", fmt.Sprintf("%d is out of range", c.Server.Port))
	}

	for _, cidr := range c.Server.AllowedNetworks {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			return infraerr.NewValidationError("server.allowed_networks", fmt.Sprintf("%q is not a valid CIDR", cidr))
		}
	}

	if c.Auth.JWTSecret == "" {
		return infraerr.NewValidationError("auth.jwt_secret", "must be set")
	}
	if len(c.Auth.JWTSecret) < minSecretLen {
		return infraerr.NewValidationError("auth.jwt_secret", fmt.Sprintf("must be at least %d bytes, got %d", minSecretLen, len(c.Auth.JWTSecret)))
	}
	if _, err := ParseDuration(c.Auth.TokenTTL); err != nil {
		return infraerr.NewValidationError("auth.token_ttl", err.Error())
	}

	if _, err := ParseDuration(c.Modules.Metrics.CollectInterval); err != nil {
		return infraerr.NewValidationError("modules.metrics.collect_interval", err.Error())
	}
	if _, err := ParseDuration(c.Modules.Deploy.DefaultTimeout); err != nil {
		return infraerr.NewValidationError("modules.deploy.default_timeout", err.Error())
	}
	if c.Updates.SelfUpdate.Enabled {
		if c.Updates.SelfUpdate.GithubRepo == "" {
			return infraerr.NewValidationError("updates.self_update.github_repo", "must be set when self_update is enabled")
		}
		if _, err := ParseDuration(c.Updates.SelfUpdate.CheckInterval); err != nil {
			return infraerr.NewValidationError("updates.self_update.check_interval", err.Error())
		}
	}
	if c.Updates.ConfigUpdate.Enabled {
		if c.Updates.ConfigUpdate.GithubRawURL == "" {
			return infraerr.NewValidationError("updates.config_update.github_raw_url", "must be set when config_update is enabled")
		}
		if _, err := ParseDuration(c.Updates.ConfigUpdate.CheckInterval); err != nil {
			return infraerr.NewValidationError("updates.config_update.check_interval", err.Error())
		}
	}

	seen := make(map[string]bool, len(c.Modules.Deploy.Deployments))
	for _, d := range c.Modules.Deploy.Deployments {
		if err := validateDeployment(d); err != nil {
			return err
		}
		if seen[d.Name] {
			return infraerr.NewValidationError("deployments", fmt.Sprintf("duplicate name %q", d.Name))
		}
		seen[d.Name] = true
	}

	for i, a := range c.Agents {
		if a.Name == "" || a.Address == "" {
			return infraerr.NewValidationError(fmt.Sprintf("agents[%d]", i), "name and address are required")
		}
	}

	return nil
}

func validateDeployment(d Deployment) error {
	field := func(f string) string { return fmt.Sprintf("deployment %s: %s", d.Name, f) }

	if d.Name == "" {
		return infraerr.NewValidationError("deployment", "name is required")
	}

	switch d.Type {
	case DeployGitPull:
		if d.Path == "" {
			return infraerr.NewValidationError(field("path"), "required for git_pull")
		}
	case DeployDockerPull:
		if d.Path == "" {
			return infraerr.NewValidationError(field("path"), "required for docker_pull")
		}
	case DeployCustomScript:
		if d.Script == "" {
			return infraerr.NewValidationError(field("script"), "required for custom_script")
		}
	default:
		return infraerr.NewValidationError(field("type"), fmt.Sprintf("unknown type %q", d.Type))
	}

	switch d.Strategy {
	case "", StrategyDefault, StrategyForceRecreate, StrategyRestart:
	default:
		return infraerr.NewValidationError(field("strategy"), fmt.Sprintf("unknown strategy %q", d.Strategy))
	}

	if d.Timeout != "" {
		if _, err := ParseDuration(d.Timeout); err != nil {
			return infraerr.NewValidationError(field("timeout"), err.Error())
		}
	}

	return nil
}
