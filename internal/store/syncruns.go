package store

import (
	"database/sql"
	"fmt"
	"time"

	"attendance-bridge/internal/types"

	"github.com/google/uuid"
)

// CreateSyncRun appends a running audit row and returns it.
func (s *Store) CreateSyncRun(deviceID string, startedAt time.Time) (*types.SyncRun, error) {
	run := &types.SyncRun{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		StartedAt: startedAt.UTC(),
		Status:    types.SyncStatusRunning,
	}

	query := s.rebind(`
		INSERT INTO sync_runs (id, device_id, started_at, status)
		VALUES (?, ?, ?, ?)
	`)
	if _, err := s.conn.Exec(query, run.ID, run.DeviceID, run.StartedAt, run.Status); err != nil {
		return nil, fmt.Errorf("failed to create sync run: %w", err)
	}
	return run, nil
}

// FinalizeSyncRun records the run outcome. Every run is finalized
// exactly once, success or failure; rows never stay in running state
// after the attempt completes.
func (s *Store) FinalizeSyncRun(run *types.SyncRun) error {
	now := time.Now().UTC()
	run.FinishedAt = &now

	query := s.rebind(`
		UPDATE sync_runs
		SET finished_at = ?, status = ?, processed = ?, inserted = ?, skipped = ?, duplicates = ?, error = ?
		WHERE id = ?
	`)

	_, err := s.conn.Exec(query,
		now,
		run.Status,
		run.Processed,
		run.Inserted,
		run.Skipped,
		run.Duplicates,
		run.Error,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize sync run: %w", err)
	}
	return nil
}

// LatestSyncRuns returns the most recent audit rows, newest first.
func (s *Store) LatestSyncRuns(limit int) ([]types.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := s.rebind(`
		SELECT id, device_id, started_at, finished_at, status, processed, inserted, skipped, duplicates, error
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT ?
	`)

	rows, err := s.conn.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []types.SyncRun
	for rows.Next() {
		var run types.SyncRun
		var finishedAt sql.NullTime
		var errMsg sql.NullString

		err := rows.Scan(
			&run.ID,
			&run.DeviceID,
			&run.StartedAt,
			&finishedAt,
			&run.Status,
			&run.Processed,
			&run.Inserted,
			&run.Skipped,
			&run.Duplicates,
			&errMsg,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run row: %w", err)
		}

		if finishedAt.Valid {
			t := finishedAt.Time
			run.FinishedAt = &t
		}
		run.Error = errMsg.String

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync run rows: %w", err)
	}
	return runs, nil
}

// SyncRunCount returns the number of sync_runs rows. Test support for
// the fleet mutual-exclusion property.
func (s *Store) SyncRunCount() (int, error) {
	var count int
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM sync_runs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sync runs: %w", err)
	}
	return count, nil
}

// GetSyncStatistics aggregates the audit trail over the last N days.
func (s *Store) GetSyncStatistics(days int) (*types.SyncStatistics, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	query := s.rebind(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(processed), 0),
			COALESCE(SUM(inserted), 0),
			COALESCE(SUM(skipped), 0)
		FROM sync_runs
		WHERE started_at >= ?
	`)

	stats := &types.SyncStatistics{Days: days, Since: since}
	err := s.conn.QueryRow(query, since).Scan(
		&stats.TotalRuns,
		&stats.Succeeded,
		&stats.Failed,
		&stats.Processed,
		&stats.Inserted,
		&stats.Skipped,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sync statistics: %w", err)
	}
	return stats, nil
}
