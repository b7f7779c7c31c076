// ABOUTME: Probe history storage operations.
// ABOUTME: Records every driver probe the factory runs and answers history queries.

package store

import (
	"strings"
	"time"

	"github.com/2389/sdrhub/internal/factory"
)

// ProbeLog represents one recorded driver probe
type ProbeLog struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Driver      string    `json:"driver"`
	Args        string    `json:"args"`
	ResultCount int       `json:"result_count"`
	DurationMs  int       `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
}

// LogProbe inserts a probe log entry
func (s *Store) LogProbe(log *ProbeLog) error {
	_, err := s.db.Exec(`
		INSERT INTO probe_logs (driver, args, result_count, duration_ms, error)
		VALUES (?, ?, ?, ?, ?)
	`, log.Driver, log.Args, log.ResultCount, log.DurationMs, log.Error)
	return err
}

// RecordProbe lets the store serve as the factory's probe recorder.
func (s *Store) RecordProbe(rec factory.ProbeRecord) error {
	log := &ProbeLog{
		Driver:      rec.Driver,
		Args:        rec.Args,
		ResultCount: rec.Results,
		DurationMs:  int(rec.Duration.Milliseconds()),
	}
	if rec.Err != nil {
		log.Error = rec.Err.Error()
	}
	return s.LogProbe(log)
}

// ProbeLogQuery represents filters for probe logs
type ProbeLogQuery struct {
	Limit        int
	Offset       int
	Driver       string
	ArgsContains string
	ErrorsOnly   bool
}

// GetProbeLogs retrieves probe logs, newest first
func (s *Store) GetProbeLogs(q *ProbeLogQuery) ([]*ProbeLog, error) {
	query := `SELECT id, timestamp, driver, args, result_count, duration_ms, error
	          FROM probe_logs WHERE 1=1`
	args := []any{}

	if q.Driver != "" {
		query += " AND driver = ?"
		args = append(args, q.Driver)
	}
	if q.ArgsContains != "" {
		query += ` AND args LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(q.ArgsContains)+"%")
	}
	if q.ErrorsOnly {
		query += " AND error != ''"
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, q.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []*ProbeLog{}
	for rows.Next() {
		log := &ProbeLog{}
		if err := rows.Scan(&log.ID, &log.Timestamp, &log.Driver, &log.Args, &log.ResultCount,
			&log.DurationMs, &log.Error); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// DriverProbeStats aggregates probe history for one driver
type DriverProbeStats struct {
	Driver        string `json:"driver"`
	Probes        int    `json:"probes"`
	Failures      int    `json:"failures"`
	AvgDurationMs int    `json:"avg_duration_ms"`
}

// GetProbeStats returns per-driver aggregates ordered by driver key
func (s *Store) GetProbeStats() ([]*DriverProbeStats, error) {
	rows, err := s.db.Query(`
		SELECT driver, COUNT(*), SUM(CASE WHEN error != '' THEN 1 ELSE 0 END), CAST(AVG(duration_ms) AS INTEGER)
		FROM probe_logs GROUP BY driver ORDER BY driver
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []*DriverProbeStats{}
	for rows.Next() {
		st := &DriverProbeStats{}
		if err := rows.Scan(&st.Driver, &st.Probes, &st.Failures, &st.AvgDurationMs); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// escapeLike escapes LIKE wildcards; the backslash goes first to avoid double escaping.
func escapeLike(pattern string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(pattern)
}
