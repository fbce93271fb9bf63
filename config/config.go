// Package config defines the infractl configuration, loaded once at startup
// and immutable afterwards.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Mode is the role a node runs in.
type Mode string

const (
	ModeHome  Mode = "home"
	ModeAgent Mode = "agent"
)

// DeployType selects the main step of a deployment.
type DeployType string

const (
	DeployGitPull      DeployType = "git_pull"
	DeployDockerPull   DeployType = "docker_pull"
	DeployCustomScript DeployType = "custom_script"
)

// Strategy selects how docker_pull restarts containers.
type Strategy string

const (
	StrategyDefault       Strategy = "default"
	StrategyForceRecreate Strategy = "force_recreate"
	StrategyRestart       Strategy = "restart"
)

type Config struct {
	Mode    Mode           `yaml:"mode"`
	Server  ServerConfig   `yaml:"server"`
	Auth    AuthConfig     `yaml:"auth"`
	Updates UpdatesConfig  `yaml:"updates"`
	Agents  []AgentConfig  `yaml:"agents"`
	Modules ModulesConfig  `yaml:"modules"`
	Logging LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Bind            string   `yaml:"bind"`
	Port            int      `yaml:"port"`
	IsolationMode   *bool    `yaml:"isolation_mode"`
	AllowedNetworks []string `yaml:"allowed_networks"`
	// HomeAddress lets an agent fetch deployment specs from the home node
	// when they are not configured locally.
	HomeAddress string `yaml:"home_address"`
}

// Isolation reports whether network isolation is enabled (default true).
func (s ServerConfig) Isolation() bool {
	return s.IsolationMode == nil || *s.IsolationMode
}

type AuthConfig struct {
	JWTSecret      string            `yaml:"jwt_secret"`
	TokenTTL       string            `yaml:"token_ttl"`
	WebhookSecrets map[string]string `yaml:"webhook_secrets"`
}

type UpdatesConfig struct {
	Enabled      bool               `yaml:"enabled"`
	SelfUpdate   SelfUpdateConfig   `yaml:"self_update"`
	ConfigUpdate ConfigUpdateConfig `yaml:"config_update"`
}

type SelfUpdateConfig struct {
	Enabled       bool   `yaml:"enabled"`
	GithubRepo    string `yaml:"github_repo"`
	CheckInterval string `yaml:"check_interval"`
	Prerelease    bool   `yaml:"prerelease"`
}

type ConfigUpdateConfig struct {
	Enabled       bool   `yaml:"enabled"`
	GithubRawURL  string `yaml:"github_raw_url"`
	CheckInterval string `yaml:"check_interval"`
	Backup        *bool  `yaml:"backup"`
}

func (c ConfigUpdateConfig) BackupEnabled() bool {
	return c.Backup == nil || *c.Backup
}

type AgentConfig struct {
	Name           string `yaml:"name"`
	Address        string `yaml:"address"`
	Timeout        string `yaml:"timeout"`
	HealthInterval string `yaml:"health_interval"`
}

type ModulesConfig struct {
	Metrics  MetricsConfig  `yaml:"metrics"`
	Storage  StorageConfig  `yaml:"storage"`
	Deploy   DeployConfig   `yaml:"deploy"`
	Webhooks WebhooksConfig `yaml:"webhooks"`
}

type MetricsConfig struct {
	Enabled         *bool  `yaml:"enabled"`
	CollectInterval string `yaml:"collect_interval"`
	DockerStats     *bool  `yaml:"docker_stats"`
}

type StorageConfig struct {
	Enabled   *bool           `yaml:"enabled"`
	DBPath    string          `yaml:"db_path"`
	Retention RetentionConfig `yaml:"retention"`
}

func (s StorageConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type RetentionConfig struct {
	RawData    string `yaml:"raw_data"`
	HourlyData string `yaml:"hourly_data"`
	DailyData  string `yaml:"daily_data"`
}

type DeployConfig struct {
	Enabled        *bool        `yaml:"enabled"`
	WorkDir        string       `yaml:"work_dir"`
	DefaultTimeout string       `yaml:"default_timeout"`
	MaxHistory     int          `yaml:"max_history"`
	Deployments    []Deployment `yaml:"deployments"`
}

func (d DeployConfig) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Deployment is a named recipe for applying a change to a host. The
// snapshot embedded in a job must not change after enqueue, so Deployment
// is always passed by value past that point.
type Deployment struct {
	Name              string            `yaml:"name" json:"name"`
	Type              DeployType        `yaml:"type" json:"type"`
	Path              string            `yaml:"path,omitempty" json:"path,omitempty"`
	Repo              string            `yaml:"repo,omitempty" json:"repo,omitempty"`
	Branch            string            `yaml:"branch,omitempty" json:"branch,omitempty"`
	Remote            string            `yaml:"remote,omitempty" json:"remote,omitempty"`
	SSHKey            string            `yaml:"ssh_key,omitempty" json:"ssh_key,omitempty"`
	ComposeFile       string            `yaml:"compose_file,omitempty" json:"compose_file,omitempty"`
	Services          []string          `yaml:"services,omitempty" json:"services,omitempty"`
	Script            string            `yaml:"script,omitempty" json:"script,omitempty"`
	WorkingDir        string            `yaml:"working_dir,omitempty" json:"working_dir,omitempty"`
	User              string            `yaml:"user,omitempty" json:"user,omitempty"`
	Env               map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	PreDeploy         []string          `yaml:"pre_deploy,omitempty" json:"pre_deploy,omitempty"`
	PostDeploy        []string          `yaml:"post_deploy,omitempty" json:"post_deploy,omitempty"`
	Shutdown          []string          `yaml:"shutdown,omitempty" json:"shutdown,omitempty"`
	Timeout           string            `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Prune             bool              `yaml:"prune,omitempty" json:"prune,omitempty"`
	Files             []string          `yaml:"files,omitempty" json:"files,omitempty"`
	Trigger           StringOrList      `yaml:"trigger,omitempty" json:"trigger,omitempty"`
	ContinueOnFailure bool              `yaml:"continue_on_failure,omitempty" json:"continue_on_failure,omitempty"`
	Strategy          Strategy          `yaml:"strategy,omitempty" json:"strategy,omitempty"`
}

// BranchOrDefault returns the configured branch, defaulting to main.
func (d Deployment) BranchOrDefault() string {
	if d.Branch == "" {
		return "main"
	}
	return d.Branch
}

// RemoteOrDefault returns the configured remote, defaulting to origin.
func (d Deployment) RemoteOrDefault() string {
	if d.Remote == "" {
		return "origin"
	}
	return d.Remote
}

// ComposeFileOrDefault returns the configured compose file name, defaulting
// to docker-compose.yaml.
func (d Deployment) ComposeFileOrDefault() string {
	if d.ComposeFile == "" {
		return "docker-compose.yaml"
	}
	return d.ComposeFile
}

type WebhooksConfig struct {
	Enabled   *bool             `yaml:"enabled"`
	Endpoints []WebhookEndpoint `yaml:"endpoints"`
}

type WebhookEndpoint struct {
	Path       string `yaml:"path"`
	Deployment string `yaml:"deployment"`
	Event      string `yaml:"event"`
	Secret     string `yaml:"secret"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StringOrList accepts either a scalar string or a sequence of strings in
// YAML, and marshals back as a list.
type StringOrList []string

func (s *StringOrList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var v string
		if err := node.Decode(&v); err != nil {
			return err
		}
		if v == "" {
			*s = nil
		} else {
			*s = []string{v}
		}
		return nil
	case yaml.SequenceNode:
		var v []string
		if err := node.Decode(&v); err != nil {
			return err
		}
		*s = v
		return nil
	default:
		return fmt.Errorf("expected string or list of strings, got %v", node.Kind)
	}
}

// FindDeployment returns the deployment with the given name, if configured.
func (c *Config) FindDeployment(name string) (Deployment, bool) {
	for _, d := range c.Modules.Deploy.Deployments {
		if d.Name == name {
			return d, true
		}
	}
	return Deployment{}, false
}

// FindWebhook returns the webhook endpoint bound to a deployment name.
func (c *Config) FindWebhook(deployment string) (WebhookEndpoint, bool) {
	for _, e := range c.Modules.Webhooks.Endpoints {
		if e.Deployment == deployment {
			return e, true
		}
	}
	return WebhookEndpoint{}, false
}

func applyDefaults(c *Config) {
	if c.Server.Bind == "" {
		c.Server.Bind = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8111
	}
	if len(c.Server.AllowedNetworks) == 0 {
		c.Server.AllowedNetworks = []string{
			"10.0.0.0/8",
			"172.16.0.0/12",
			"192.168.0.0/16",
			"127.0.0.1/32",
		}
	}
	if c.Auth.TokenTTL == "" {
		c.Auth.TokenTTL = "24h"
	}
	if c.Updates.SelfUpdate.CheckInterval == "" {
		c.Updates.SelfUpdate.CheckInterval = "6h"
	}
	if c.Updates.ConfigUpdate.CheckInterval == "" {
		c.Updates.ConfigUpdate.CheckInterval = "1h"
	}
	if c.Modules.Metrics.CollectInterval == "" {
		c.Modules.Metrics.CollectInterval = "30s"
	}
	if c.Modules.Storage.DBPath == "" {
		c.Modules.Storage.DBPath = "/var/lib/infractl/metrics.db"
	}
	if c.Modules.Storage.Retention.RawData == "" {
		c.Modules.Storage.Retention.RawData = "7d"
	}
	if c.Modules.Storage.Retention.HourlyData == "" {
		c.Modules.Storage.Retention.HourlyData = "30d"
	}
	if c.Modules.Storage.Retention.DailyData == "" {
		c.Modules.Storage.Retention.DailyData = "365d"
	}
	if c.Modules.Deploy.WorkDir == "" {
		c.Modules.Deploy.WorkDir = "/opt/apps"
	}
	if c.Modules.Deploy.DefaultTimeout == "" {
		c.Modules.Deploy.DefaultTimeout = "300s"
	}
	if c.Modules.Deploy.MaxHistory == 0 {
		c.Modules.Deploy.MaxHistory = 100
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	for i := range c.Agents {
		if c.Agents[i].Timeout == "" {
			c.Agents[i].Timeout = "10s"
		}
		if c.Agents[i].HealthInterval == "" {
			c.Agents[i].HealthInterval = "30s"
		}
	}
}
