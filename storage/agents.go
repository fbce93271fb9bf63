package storage

import (
	"database/sql"
	"errors"
	"time"

	"github.com/razumnyak/infractl/infraerr"
)

// AgentStatus is the home node's last known state of an agent.
type AgentStatus struct {
	Name          string `db:"agent_name" json:"agent_name"`
	Address       string `db:"address" json:"address"`
	Status        string `db:"status" json:"status"`
	Version       string `db:"version" json:"version"`
	LastSeen      string `db:"last_seen" json:"last_seen"`
	UptimeSeconds int64  `db:"uptime_seconds" json:"uptime_seconds"`
	LastError     string `db:"last_error" json:"last_error,omitempty"`
}

// UpsertAgentStatus records the latest poll result for an agent.
func (s *Store) UpsertAgentStatus(st AgentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.LastSeen == "" {
		st.LastSeen = formatTime(time.Now())
	}
	_, err := s.db.NamedExec(`INSERT INTO agent_status (
		agent_name, address, status, version, last_seen, uptime_seconds, last_error
	) VALUES (:agent_name, :address, :status, :version, :last_seen, :uptime_seconds, :last_error)
	ON CONFLICT(agent_name) DO UPDATE SET
		address = excluded.address,
		status = excluded.status,
		version = excluded.version,
		last_seen = excluded.last_seen,
		uptime_seconds = excluded.uptime_seconds,
		last_error = excluded.last_error`, st)
	if err != nil {
		return infraerr.NewStorageError("upserting agent status", err)
	}
	return nil
}

// ListAgents returns all known agents ordered by name.
func (s *Store) ListAgents() ([]AgentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []AgentStatus
	if err := s.db.Select(&rows, `SELECT * FROM agent_status ORDER BY agent_name`); err != nil {
		return nil, infraerr.NewStorageError("querying agent status", err)
	}
	return rows, nil
}

// GetAgentStatus returns one agent's status. It reports false when the
// agent has never been polled.
func (s *Store) GetAgentStatus(name string) (AgentStatus, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var row AgentStatus
	err := s.db.Get(&row, `SELECT * FROM agent_status WHERE agent_name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return AgentStatus{}, false, nil
	}
	if err != nil {
		return AgentStatus{}, false, infraerr.NewStorageError("querying agent status", err)
	}
	return row, true, nil
}
