package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/razumnyak/infractl/infraerr"
)

// Assignments maps deployment names to the agent that runs them. The home
// node consults it when dispatching deploy commands; permanent entries
// survive until explicitly reset.
type Assignments struct {
	path string

	Agents map[string]Assignment `yaml:"assignments"`
}

type Assignment struct {
	Agent     string `yaml:"agent"`
	Permanent bool   `yaml:"permanent"`
}

// AssignmentsPath returns the assignments file location next to the config.
func AssignmentsPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "assignments.yaml")
}

// LoadAssignments reads the assignments file. A missing file yields an
// empty, writable set.
func LoadAssignments(path string) (*Assignments, error) {
	a := &Assignments{path: path, Agents: map[string]Assignment{}}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return a, nil
		}
		return nil, infraerr.NewConfigError(fmt.Sprintf("reading %s", path), err)
	}
	if err := yaml.Unmarshal(raw, a); err != nil {
		return nil, infraerr.NewConfigError(fmt.Sprintf("parsing %s", path), err)
	}
	if a.Agents == nil {
		a.Agents = map[string]Assignment{}
	}
	return a, nil
}

// Lookup returns the agent assigned to a deployment.
func (a *Assignments) Lookup(deployment string) (Assignment, bool) {
	as, ok := a.Agents[deployment]
	return as, ok
}

// Set records an assignment, replacing any existing one.
func (a *Assignments) Set(deployment, agent string, permanent bool) {
	a.Agents[deployment] = Assignment{Agent: agent, Permanent: permanent}
}

// Reset removes the assignment for a deployment. It reports whether an
// entry existed.
func (a *Assignments) Reset(deployment string) bool {
	_, ok := a.Agents[deployment]
	delete(a.Agents, deployment)
	return ok
}

// Save writes the assignments back to disk atomically.
func (a *Assignments) Save() error {
	out, err := yaml.Marshal(a)
	if err != nil {
		return infraerr.NewConfigError("encoding assignments", err)
	}

	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return infraerr.NewConfigError(fmt.Sprintf("writing %s", tmp), err)
	}
	if err := os.Rename(tmp, a.path); err != nil {
		return infraerr.NewConfigError(fmt.Sprintf("renaming %s", tmp), err)
	}
	return nil
}
