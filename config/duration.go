package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses durations like "30s", "10m", "24h", "7d" and "2w".
// Days and weeks are not accepted by time.ParseDuration, so they are
// expanded here before falling back to it.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	unit := s[len(s)-1]
	if unit == 'd' || unit == 'w' {
		n, err := strconv.Atoi(s[:len(s)-1])
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		if n < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		hours := n * 24
		if unit == 'w' {
			hours *= 7
		}
		return time.Duration(hours) * time.Hour, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
