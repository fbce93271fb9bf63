package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/razumnyak/infractl/config"
	"github.com/razumnyak/infractl/infraerr"
	"github.com/razumnyak/infractl/logger"
)

// ParseRetentionDays parses retention periods like "7d", "4w", "1m", "1y"
// into a day count. Months count as 30 days and years as 365.
func ParseRetentionDays(s string) (int, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid retention period %q", s)
	}

	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid retention period %q", s)
	}

	switch s[len(s)-1] {
	case 'd':
		return n, nil
	case 'w':
		return n * 7, nil
	case 'm':
		return n * 30, nil
	case 'y':
		return n * 365, nil
	default:
		return 0, fmt.Errorf("invalid retention unit in %q, expected d, w, m or y", s)
	}
}

// RollupHourly recomputes per-agent hourly buckets covering the trailing
// two hours. INSERT OR REPLACE keeps the bucket for the current hour
// fresh as samples keep arriving.
func (s *Store) RollupHourly(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT OR REPLACE INTO metrics_hourly (
		agent_name, hour_start, cpu_avg, cpu_max, memory_avg, memory_max,
		load_avg, load_max, samples_count
	)
	SELECT
		agent_name, strftime('%Y-%m-%dT%H:00:00Z', collected_at),
		AVG(cpu_usage), MAX(cpu_usage),
		AVG(memory_usage_percent), MAX(memory_usage_percent),
		AVG(load_one), MAX(load_one), COUNT(*)
	FROM metrics_raw
	WHERE collected_at >= ?
	GROUP BY agent_name, 2`

	if _, err := s.db.Exec(query, formatTime(now.Add(-2*time.Hour))); err != nil {
		return infraerr.NewStorageError("rolling up into metrics_hourly", err)
	}
	return nil
}

// RollupDaily recomputes per-agent daily buckets covering the trailing
// two days. It reads the hourly tier, so raw samples already swept by
// retention still count.
func (s *Store) RollupDaily(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT OR REPLACE INTO metrics_daily (
		agent_name, day_start, cpu_avg, cpu_max, memory_avg, memory_max,
		load_avg, load_max, samples_count
	)
	SELECT
		agent_name, strftime('%Y-%m-%dT00:00:00Z', hour_start),
		AVG(cpu_avg), MAX(cpu_max),
		AVG(memory_avg), MAX(memory_max),
		AVG(load_avg), MAX(load_max), SUM(samples_count)
	FROM metrics_hourly
	WHERE hour_start >= ?
	GROUP BY agent_name, 2`

	if _, err := s.db.Exec(query, formatTime(now.Add(-48*time.Hour))); err != nil {
		return infraerr.NewStorageError("rolling up into metrics_daily", err)
	}
	return nil
}

// Cleanup deletes data older than each tier's retention window.
func (s *Store) Cleanup(ret config.RetentionConfig, now time.Time) error {
	tiers := []struct {
		table  string
		column string
		period string
	}{
		{"metrics_raw", "collected_at", ret.RawData},
		{"metrics_hourly", "hour_start", ret.HourlyData},
		{"metrics_daily", "day_start", ret.DailyData},
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tier := range tiers {
		days, err := ParseRetentionDays(tier.period)
		if err != nil {
			return infraerr.NewStorageError("parsing retention for "+tier.table, err)
		}
		cutoff := formatTime(now.AddDate(0, 0, -days))
		if _, err := s.db.Exec(`DELETE FROM `+tier.table+` WHERE `+tier.column+` < ?`, cutoff); err != nil {
			return infraerr.NewStorageError("cleaning "+tier.table, err)
		}
	}
	return nil
}

// RunRetention aggregates and sweeps on a schedule until the context ends.
// Roll-ups run every 10 minutes, the retention sweep every 6 hours.
func (s *Store) RunRetention(ctx context.Context, ret config.RetentionConfig, log logger.Logger) {
	rollup := time.NewTicker(10 * time.Minute)
	defer rollup.Stop()
	sweep := time.NewTicker(6 * time.Hour)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-rollup.C:
			if err := s.RollupHourly(now); err != nil {
				log.Error("Hourly roll-up failed: %v", err)
			}
			if err := s.RollupDaily(now); err != nil {
				log.Error("Daily roll-up failed: %v", err)
			}
		case now := <-sweep.C:
			if err := s.Cleanup(ret, now); err != nil {
				log.Error("Retention sweep failed: %v", err)
			} else {
				log.Debug("Retention sweep complete")
			}
		}
	}
}
