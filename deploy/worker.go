package deploy

import (
	"context"
	"io"
	"time"

	"github.com/razumnyak/infractl/config"
	"github.com/razumnyak/infractl/logger"
	"github.com/razumnyak/infractl/storage"
)

// Recorder persists deployment runs. A row is inserted when a run starts
// and completed when it finishes, so a crash mid-run leaves a visible
// running record. Satisfied by *storage.Store.
type Recorder interface {
	InsertDeploy(storage.DeployRecord) (int64, error)
	FinishDeploy(id int64, rec storage.DeployRecord) error
}

// Worker drains the queue, one job at a time, and fans out triggers when a
// run succeeded with changes.
type Worker struct {
	Queue    *Queue
	Executor *Executor
	Recorder Recorder
	Lookup   func(name string) (config.Deployment, bool)
	Logger   logger.Logger

	// PollInterval is how often the queue is checked when idle.
	PollInterval time.Duration
}

func NewWorker(q *Queue, e *Executor, r Recorder, lookup func(string) (config.Deployment, bool), log logger.Logger) *Worker {
	return &Worker{
		Queue:        q,
		Executor:     e,
		Recorder:     r,
		Lookup:       lookup,
		Logger:       log,
		PollInterval: 100 * time.Millisecond,
	}
}

// Run processes jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				j, ok := w.Queue.Next()
				if !ok {
					break
				}
				w.process(ctx, j)
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

func (w *Worker) process(ctx context.Context, j Job) {
	w.Logger.Info("Deploying %s (trigger: %s)", j.Deployment.Name, j.TriggerSource)
	rowID := w.recordStart(j)
	w.Executor.Execute(ctx, &j)
	w.Queue.Finish(j)
	// Fan out before recording the outcome so a history read after the
	// record sees the triggered jobs already queued.
	w.fanOut(j)
	w.recordFinish(rowID, j)
}

func (w *Worker) recordStart(j Job) int64 {
	if w.Recorder == nil {
		return 0
	}
	id, err := w.Recorder.InsertDeploy(storage.DeployRecord{
		Agent:         j.Agent,
		Deployment:    j.Deployment.Name,
		Kind:          string(j.Deployment.Type),
		Status:        string(StatusRunning),
		TriggerSource: j.TriggerSource,
		StartedAt:     time.Now().UTC().Format(storage.TimeFormat),
	})
	if err != nil {
		w.Logger.Error("Recording deployment start for %s: %v", j.Deployment.Name, err)
		return 0
	}
	return id
}

func (w *Worker) recordFinish(rowID int64, j Job) {
	if w.Recorder == nil || rowID == 0 {
		return
	}
	err := w.Recorder.FinishDeploy(rowID, storage.DeployRecord{
		Status:     string(j.Status),
		FinishedAt: j.FinishedAt.UTC().Format(storage.TimeFormat),
		DurationMs: j.FinishedAt.Sub(j.StartedAt).Milliseconds(),
		CommitSHA:  j.Commit,
		Output:     j.Output,
		Error:      j.Error,
	})
	if err != nil {
		w.Logger.Error("Recording deployment %s: %v", j.Deployment.Name, err)
	}
}

// fanOut enqueues the deployments triggered by a run that succeeded with
// changes. A trigger naming an unknown deployment stops the remaining
// fan-out unless the parent opts out with continue_on_failure.
func (w *Worker) fanOut(j Job) {
	if j.Status != StatusSuccess || j.Skipped {
		return
	}

	source := "trigger:" + j.Deployment.Name
	for _, name := range j.Deployment.Trigger {
		if name == j.Deployment.Name {
			w.Logger.Warn("Deployment %s triggers itself, ignoring", name)
			continue
		}
		d, ok := w.Lookup(name)
		if !ok {
			w.Logger.Warn("Deployment %s triggers unknown deployment %s", j.Deployment.Name, name)
			if !j.Deployment.ContinueOnFailure {
				w.Logger.Error("Stopping trigger chain for %s", j.Deployment.Name)
				break
			}
			continue
		}
		w.Logger.Info("Queueing %s (trigger: %s)", name, j.Deployment.Name)
		child := NewJob(d, source)
		child.Agent = j.Agent
		w.Queue.Enqueue(child)
	}
}

// ShutdownAll runs shutdown for every given deployment. Called once
// during graceful termination; errors are logged so a stubborn service
// cannot block the rest of shutdown.
func (w *Worker) ShutdownAll(ctx context.Context, deployments []config.Deployment, out io.Writer) {
	for _, d := range deployments {
		if err := w.Executor.Shutdown(ctx, d, out); err != nil {
			w.Logger.Error("Shutdown for %s failed: %v", d.Name, err)
		}
	}
}
