package storage

import (
	"encoding/json"
	"time"

	"github.com/razumnyak/infractl/infraerr"
	"github.com/razumnyak/infractl/metrics"
)

// MetricRecord is one raw sample as stored, keyed by the agent it came
// from. The home node keeps its own samples under agent "local". Fields
// not broken out into columns live in the raw JSON blob.
type MetricRecord struct {
	ID                 int64   `db:"id" json:"id"`
	Agent              string  `db:"agent_name" json:"agent_name"`
	CollectedAt        string  `db:"collected_at" json:"collected_at"`
	CPUUsage           float64 `db:"cpu_usage" json:"cpu_usage"`
	MemoryUsagePercent float64 `db:"memory_usage_percent" json:"memory_usage_percent"`
	MemoryUsed         uint64  `db:"memory_used" json:"memory_used"`
	MemoryTotal        uint64  `db:"memory_total" json:"memory_total"`
	LoadOne            float64 `db:"load_one" json:"load_one"`
	LoadFive           float64 `db:"load_five" json:"load_five"`
	LoadFifteen        float64 `db:"load_fifteen" json:"load_fifteen"`
	DiskUsagePercent   float64 `db:"disk_usage_percent" json:"disk_usage_percent"`
	ContainersRunning  int     `db:"containers_running" json:"containers_running"`
	ContainersTotal    int     `db:"containers_total" json:"containers_total"`
	RawJSON            string  `db:"raw_json" json:"raw_json,omitempty"`
}

// InsertSnapshot writes one raw sample for an agent. The full snapshot is
// kept as JSON alongside the queryable columns.
func (s *Store) InsertSnapshot(agent string, snap metrics.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		return infraerr.NewStorageError("encoding metrics sample", err)
	}

	row := MetricRecord{
		Agent:              agent,
		CollectedAt:        formatTime(snap.Timestamp),
		CPUUsage:           snap.CPUPercent,
		MemoryUsagePercent: snap.MemoryPercent,
		MemoryUsed:         snap.MemoryUsed,
		MemoryTotal:        snap.MemoryTotal,
		LoadOne:            snap.Load1,
		LoadFive:           snap.Load5,
		LoadFifteen:        snap.Load15,
		DiskUsagePercent:   snap.DiskPercent,
		ContainersRunning:  snap.ContainersRunning,
		ContainersTotal:    snap.ContainersTotal,
		RawJSON:            string(raw),
	}
	_, err = s.db.NamedExec(`INSERT INTO metrics_raw (
		agent_name, collected_at, cpu_usage, memory_usage_percent,
		memory_used, memory_total, load_one, load_five, load_fifteen,
		disk_usage_percent, containers_running, containers_total, raw_json
	) VALUES (
		:agent_name, :collected_at, :cpu_usage, :memory_usage_percent,
		:memory_used, :memory_total, :load_one, :load_five, :load_fifteen,
		:disk_usage_percent, :containers_running, :containers_total, :raw_json
	)`, row)
	if err != nil {
		return infraerr.NewStorageError("inserting metrics sample", err)
	}
	return nil
}

// MetricsQuery narrows a metrics read. Zero values leave the dimension
// unbounded; Limit defaults to 100.
type MetricsQuery struct {
	Agent string
	From  time.Time
	To    time.Time
	Limit int
}

func (q MetricsQuery) filter(timeColumn string) (string, []any) {
	clause := ""
	var args []any
	if q.Agent != "" {
		clause += ` AND agent_name = ?`
		args = append(args, q.Agent)
	}
	if !q.From.IsZero() {
		clause += ` AND ` + timeColumn + ` >= ?`
		args = append(args, formatTime(q.From))
	}
	if !q.To.IsZero() {
		clause += ` AND ` + timeColumn + ` <= ?`
		args = append(args, formatTime(q.To))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	return clause, args
}

// RawMetrics returns raw samples matching the query, newest first.
func (s *Store) RawMetrics(q MetricsQuery) ([]MetricRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clause, args := q.filter("collected_at")
	var rows []MetricRecord
	err := s.db.Select(&rows, `SELECT * FROM metrics_raw WHERE 1=1`+clause+` ORDER BY collected_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, infraerr.NewStorageError("querying raw metrics", err)
	}
	return rows, nil
}

// Aggregate is one hourly or daily roll-up bucket for an agent.
type Aggregate struct {
	Agent        string  `db:"agent_name" json:"agent_name"`
	PeriodStart  string  `db:"period_start" json:"period_start"`
	CPUAvg       float64 `db:"cpu_avg" json:"cpu_avg"`
	CPUMax       float64 `db:"cpu_max" json:"cpu_max"`
	MemoryAvg    float64 `db:"memory_avg" json:"memory_avg"`
	MemoryMax    float64 `db:"memory_max" json:"memory_max"`
	LoadAvg      float64 `db:"load_avg" json:"load_avg"`
	LoadMax      float64 `db:"load_max" json:"load_max"`
	SamplesCount int     `db:"samples_count" json:"samples_count"`
}

// HourlyMetrics returns hourly buckets matching the query, newest first.
func (s *Store) HourlyMetrics(q MetricsQuery) ([]Aggregate, error) {
	return s.aggregates("metrics_hourly", "hour_start", q)
}

// DailyMetrics returns daily buckets matching the query, newest first.
func (s *Store) DailyMetrics(q MetricsQuery) ([]Aggregate, error) {
	return s.aggregates("metrics_daily", "day_start", q)
}

func (s *Store) aggregates(table, bucketColumn string, q MetricsQuery) ([]Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clause, args := q.filter(bucketColumn)
	query := `SELECT agent_name, ` + bucketColumn + ` AS period_start,
		cpu_avg, cpu_max, memory_avg, memory_max, load_avg, load_max, samples_count
	FROM ` + table + ` WHERE 1=1` + clause + ` ORDER BY ` + bucketColumn + ` DESC LIMIT ?`

	var rows []Aggregate
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, infraerr.NewStorageError("querying "+table, err)
	}
	return rows, nil
}
