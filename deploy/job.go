// Package deploy runs deployments: a queue feeds a single worker that
// executes git, docker and script recipes and records the outcome.
package deploy

import (
	"time"

	"github.com/google/uuid"

	"github.com/razumnyak/infractl/config"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Job is one queued deployment run. The Deployment is snapshotted at
// enqueue time so config reloads never change a job mid-flight.
type Job struct {
	ID            string            `json:"id"`
	Agent         string            `json:"agent_name"`
	Deployment    config.Deployment `json:"deployment"`
	TriggerSource string            `json:"trigger_source"`
	Status        Status            `json:"status"`
	EnqueuedAt    time.Time         `json:"enqueued_at"`
	StartedAt     time.Time         `json:"started_at,omitzero"`
	FinishedAt    time.Time         `json:"finished_at,omitzero"`
	Commit        string            `json:"commit,omitempty"`
	Output        string            `json:"output,omitempty"`
	Error         string            `json:"error,omitempty"`
	Changed       bool              `json:"changed"`
	Skipped       bool              `json:"skipped"`
}

// NewJob snapshots a deployment into a queued job. Jobs run on the node
// that enqueued them, so the agent name is always "local".
func NewJob(d config.Deployment, triggerSource string) *Job {
	if triggerSource == "" {
		triggerSource = "manual"
	}
	return &Job{
		ID:            uuid.New().String(),
		Agent:         "local",
		Deployment:    d,
		TriggerSource: triggerSource,
		Status:        StatusQueued,
		EnqueuedAt:    time.Now().UTC(),
	}
}
