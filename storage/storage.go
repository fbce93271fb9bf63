// Package storage persists metrics, deployment history, suspicious
// requests and agent status in a local SQLite database.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/razumnyak/infractl/infraerr"
	"github.com/razumnyak/infractl/logger"
)

// TimeFormat is how timestamps are stored. RFC 3339 UTC keeps strftime
// bucketing correct.
const TimeFormat = "2006-01-02T15:04:05Z"

// Store wraps the database. SQLite handles one writer at a time, so all
// access is serialized through mu instead of relying on busy retries.
type Store struct {
	mu  sync.Mutex
	db  *sqlx.DB
	log logger.Logger
}

// Open creates the database file if needed, applies pragmas and runs
// migrations. Use ":memory:" for tests.
func Open(path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Discard
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, infraerr.NewStorageError("creating database directory", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=cache_size(-64000)&_pragma=busy_timeout(5000)", path)
	if path == ":memory:" {
		dsn = ":memory:"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, infraerr.NewStorageError("opening database", err)
	}
	// One connection: the mutex is the concurrency model.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS metrics_raw (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_name           TEXT NOT NULL,
	collected_at         TEXT NOT NULL,
	cpu_usage            REAL NOT NULL,
	memory_usage_percent REAL NOT NULL,
	memory_used          INTEGER NOT NULL,
	memory_total         INTEGER NOT NULL,
	load_one             REAL NOT NULL,
	load_five            REAL NOT NULL,
	load_fifteen         REAL NOT NULL,
	disk_usage_percent   REAL NOT NULL,
	containers_running   INTEGER NOT NULL,
	containers_total     INTEGER NOT NULL,
	raw_json             TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metrics_raw_agent_time ON metrics_raw(agent_name, collected_at);

CREATE TABLE IF NOT EXISTS metrics_hourly (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_name    TEXT NOT NULL,
	hour_start    TEXT NOT NULL,
	cpu_avg       REAL NOT NULL,
	cpu_max       REAL NOT NULL,
	memory_avg    REAL NOT NULL,
	memory_max    REAL NOT NULL,
	load_avg      REAL NOT NULL,
	load_max      REAL NOT NULL,
	samples_count INTEGER NOT NULL,
	UNIQUE(agent_name, hour_start)
);

CREATE TABLE IF NOT EXISTS metrics_daily (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_name    TEXT NOT NULL,
	day_start     TEXT NOT NULL,
	cpu_avg       REAL NOT NULL,
	cpu_max       REAL NOT NULL,
	memory_avg    REAL NOT NULL,
	memory_max    REAL NOT NULL,
	load_avg      REAL NOT NULL,
	load_max      REAL NOT NULL,
	samples_count INTEGER NOT NULL,
	UNIQUE(agent_name, day_start)
);

CREATE TABLE IF NOT EXISTS deploy_history (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_name      TEXT NOT NULL,
	deployment_name TEXT NOT NULL,
	deploy_type     TEXT NOT NULL,
	status          TEXT NOT NULL,
	started_at      TEXT NOT NULL,
	completed_at    TEXT NOT NULL DEFAULT '',
	duration_ms     INTEGER NOT NULL DEFAULT 0,
	trigger_source  TEXT NOT NULL,
	commit_sha      TEXT NOT NULL DEFAULT '',
	output          TEXT NOT NULL DEFAULT '',
	error_message   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_deploy_history_agent_time ON deploy_history(agent_name, started_at);

CREATE TABLE IF NOT EXISTS suspicious_requests (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at TEXT NOT NULL,
	source_ip   TEXT NOT NULL,
	method      TEXT NOT NULL,
	path        TEXT NOT NULL,
	reason      TEXT NOT NULL,
	user_agent  TEXT NOT NULL,
	headers     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_suspicious_recorded ON suspicious_requests(recorded_at);

CREATE TABLE IF NOT EXISTS agent_status (
	agent_name     TEXT PRIMARY KEY,
	address        TEXT NOT NULL,
	status         TEXT NOT NULL,
	version        TEXT NOT NULL,
	last_seen      TEXT NOT NULL,
	uptime_seconds INTEGER NOT NULL DEFAULT 0,
	last_error     TEXT NOT NULL
);
`

func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return infraerr.NewStorageError("creating schema_migrations", err)
	}

	var version int
	if err := s.db.Get(&version, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`); err != nil {
		return infraerr.NewStorageError("reading schema version", err)
	}

	migrations := []string{schemaV1}
	for i, migration := range migrations {
		v := i + 1
		if v <= version {
			continue
		}
		s.log.Info("Applying database migration %d", v)
		if _, err := s.db.Exec(migration); err != nil {
			return infraerr.NewStorageError(fmt.Sprintf("applying migration %d", v), err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, v, formatTime(time.Now())); err != nil {
			return infraerr.NewStorageError(fmt.Sprintf("recording migration %d", v), err)
		}
	}
	return nil
}
