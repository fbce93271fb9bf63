package storage

import (
	"time"

	"github.com/razumnyak/infractl/infraerr"
)

// DeployRecord is one deployment run, as stored. A row is inserted in
// running state when the run starts and completed when it finishes.
type DeployRecord struct {
	ID            int64  `db:"id" json:"id"`
	Agent         string `db:"agent_name" json:"agent_name"`
	Deployment    string `db:"deployment_name" json:"deployment_name"`
	Kind          string `db:"deploy_type" json:"deploy_type"`
	Status        string `db:"status" json:"status"`
	StartedAt     string `db:"started_at" json:"started_at"`
	FinishedAt    string `db:"completed_at" json:"completed_at"`
	DurationMs    int64  `db:"duration_ms" json:"duration_ms"`
	TriggerSource string `db:"trigger_source" json:"trigger_source"`
	CommitSHA     string `db:"commit_sha" json:"commit_sha,omitempty"`
	Output        string `db:"output" json:"output"`
	Error         string `db:"error_message" json:"error_message"`
}

// InsertDeploy persists the start of a run and returns its row id.
func (s *Store) InsertDeploy(rec DeployRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.NamedExec(`INSERT INTO deploy_history (
		agent_name, deployment_name, deploy_type, status, started_at, trigger_source
	) VALUES (
		:agent_name, :deployment_name, :deploy_type, :status, :started_at, :trigger_source
	)`, rec)
	if err != nil {
		return 0, infraerr.NewStorageError("recording deployment start", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, infraerr.NewStorageError("recording deployment start", err)
	}
	return id, nil
}

// FinishDeploy fills in the outcome of a started run.
func (s *Store) FinishDeploy(id int64, rec DeployRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE deploy_history SET
		status = ?, completed_at = ?, duration_ms = ?, commit_sha = ?, output = ?, error_message = ?
	WHERE id = ?`, rec.Status, rec.FinishedAt, rec.DurationMs, rec.CommitSHA, rec.Output, rec.Error, id)
	if err != nil {
		return infraerr.NewStorageError("recording deployment outcome", err)
	}
	return nil
}

// RecentDeploys returns the newest records, optionally filtered by agent.
func (s *Store) RecentDeploys(agent string, limit int) ([]DeployRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	var (
		rows []DeployRecord
		err  error
	)
	if agent == "" {
		err = s.db.Select(&rows, `SELECT * FROM deploy_history ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	} else {
		err = s.db.Select(&rows, `SELECT * FROM deploy_history WHERE agent_name = ? ORDER BY started_at DESC, id DESC LIMIT ?`, agent, limit)
	}
	if err != nil {
		return nil, infraerr.NewStorageError("querying deploy history", err)
	}
	return rows, nil
}

// TrimDeployHistory deletes records older than the cutoff.
func (s *Store) TrimDeployHistory(before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM deploy_history WHERE started_at < ?`, formatTime(before))
	if err != nil {
		return 0, infraerr.NewStorageError("trimming deploy history", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
