package storage

import (
	"time"

	"github.com/razumnyak/infractl/infraerr"
)

// SuspiciousRequest is a rejected request worth keeping for review.
type SuspiciousRequest struct {
	ID         int64  `db:"id" json:"id"`
	RecordedAt string `db:"recorded_at" json:"recorded_at"`
	SourceIP   string `db:"source_ip" json:"source_ip"`
	Method     string `db:"method" json:"method"`
	Path       string `db:"path" json:"path"`
	Reason     string `db:"reason" json:"reason"`
	UserAgent  string `db:"user_agent" json:"user_agent"`
	Headers    string `db:"headers" json:"headers,omitempty"`
}

// RecordSuspicious persists one rejected request.
func (s *Store) RecordSuspicious(req SuspiciousRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.RecordedAt == "" {
		req.RecordedAt = formatTime(time.Now())
	}
	_, err := s.db.NamedExec(`INSERT INTO suspicious_requests (
		recorded_at, source_ip, method, path, reason, user_agent, headers
	) VALUES (:recorded_at, :source_ip, :method, :path, :reason, :user_agent, :headers)`, req)
	if err != nil {
		return infraerr.NewStorageError("recording suspicious request", err)
	}
	return nil
}

// RecentSuspicious returns the newest rejected requests.
func (s *Store) RecentSuspicious(limit int) ([]SuspiciousRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	var rows []SuspiciousRequest
	err := s.db.Select(&rows, `SELECT * FROM suspicious_requests ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, infraerr.NewStorageError("querying suspicious requests", err)
	}
	return rows, nil
}
