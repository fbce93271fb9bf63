package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/razumnyak/infractl/infraerr"
)

// DefaultPath is where infractl looks for its configuration when the
// --config flag and INFRACTL_CONFIG are both unset.
const DefaultPath = "/etc/infractl/config.yaml"

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, substitutes, merges and validates a configuration file.
// Warnings (unset environment variables, duplicate deployment names) are
// returned alongside the config so the caller can log them once the logger
// exists.
func Load(path string) (*Config, []string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, infraerr.NewConfigError(fmt.Sprintf("reading %s", path), err)
	}

	var warnings []string
	substituted := envPattern.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := string(envPattern.FindSubmatch(m)[1])
		val, ok := os.LookupEnv(name)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("environment variable %s is not set, substituting empty string", name))
			return []byte("")
		}
		return []byte(val)
	})

	cfg := &Config{}
	if err := yaml.Unmarshal(substituted, cfg); err != nil {
		return nil, warnings, infraerr.NewConfigError(fmt.Sprintf("parsing %s", path), err)
	}

	extra, mergeWarnings, err := loadDeploymentFiles(filepath.Dir(path))
	if err != nil {
		return nil, warnings, err
	}
	warnings = append(warnings, mergeWarnings...)

	seen := make(map[string]bool, len(cfg.Modules.Deploy.Deployments))
	for _, d := range cfg.Modules.Deploy.Deployments {
		seen[d.Name] = true
	}
	for _, d := range extra {
		if seen[d.Name] {
			warnings = append(warnings, fmt.Sprintf("duplicate deployment %q ignored, first definition wins", d.Name))
			continue
		}
		seen[d.Name] = true
		cfg.Modules.Deploy.Deployments = append(cfg.Modules.Deploy.Deployments, d)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, warnings, err
	}
	return cfg, warnings, nil
}

// deploymentsFile is the shape of deployments.yaml and deployments.d/*.yaml.
type deploymentsFile struct {
	Deployments []Deployment `yaml:"deployments"`
}

// loadDeploymentFiles reads <dir>/deployments.yaml and then
// <dir>/deployments.d/*.yaml in lexical order. Missing files are fine.
func loadDeploymentFiles(dir string) ([]Deployment, []string, error) {
	var (
		out      []Deployment
		warnings []string
	)

	paths := []string{filepath.Join(dir, "deployments.yaml")}
	matches, err := filepath.Glob(filepath.Join(dir, "deployments.d", "*.yaml"))
	if err == nil {
		sort.Strings(matches)
		paths = append(paths, matches...)
	}

	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, warnings, infraerr.NewConfigError(fmt.Sprintf("reading %s", p), err)
		}
		var f deploymentsFile
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return nil, warnings, infraerr.NewConfigError(fmt.Sprintf("parsing %s", p), err)
		}
		out = append(out, f.Deployments...)
	}
	return out, warnings, nil
}
