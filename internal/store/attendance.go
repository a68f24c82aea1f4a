package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"attendance-bridge/internal/types"
)

// InsertAttendance inserts one ledger row idempotently under the
// natural key (employee, device, timestamp). Returns true when a row
// was actually written; a duplicate key is absorbed silently and
// reported as false, never as an error.
func (s *Store) InsertAttendance(rec types.AttendanceRecord) (bool, error) {
	var rawJSON sql.NullString
	if len(rec.Raw) > 0 {
		data, err := json.Marshal(rec.Raw)
		if err != nil {
			return false, fmt.Errorf("failed to marshal raw payload: %w", err)
		}
		rawJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := s.rebind(`
		INSERT INTO attendance_records (employee_id, device_id, device_user_id, timestamp, direction, method, raw_data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (employee_id, device_id, timestamp) DO NOTHING
	`)

	result, err := s.conn.Exec(query,
		rec.EmployeeID,
		rec.DeviceID,
		rec.DeviceUserID,
		rec.Timestamp.UTC(),
		string(rec.Direction),
		string(rec.Method),
		rawJSON,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert attendance record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// RecentAttendance returns the newest ledger rows, optionally filtered
// by device. Used by streaming clients for replay after reconnect.
func (s *Store) RecentAttendance(deviceID string, limit int) ([]types.AttendanceRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if deviceID != "" {
		query := s.rebind(`
			SELECT id, employee_id, device_id, device_user_id, timestamp, direction, method, raw_data, created_at
			FROM attendance_records
			WHERE device_id = ?
			ORDER BY timestamp DESC
			LIMIT ?
		`)
		rows, err = s.conn.Query(query, deviceID, limit)
	} else {
		query := s.rebind(`
			SELECT id, employee_id, device_id, device_user_id, timestamp, direction, method, raw_data, created_at
			FROM attendance_records
			ORDER BY timestamp DESC
			LIMIT ?
		`)
		rows, err = s.conn.Query(query, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance records: %w", err)
	}
	defer rows.Close()

	var records []types.AttendanceRecord
	for rows.Next() {
		var rec types.AttendanceRecord
		var direction, method string
		var rawJSON sql.NullString
		var createdAt sql.NullTime

		err := rows.Scan(
			&rec.ID,
			&rec.EmployeeID,
			&rec.DeviceID,
			&rec.DeviceUserID,
			&rec.Timestamp,
			&direction,
			&method,
			&rawJSON,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attendance row: %w", err)
		}

		rec.Direction = types.Direction(direction)
		rec.Method = types.VerificationMethod(method)
		if rawJSON.Valid && rawJSON.String != "" {
			if err := json.Unmarshal([]byte(rawJSON.String), &rec.Raw); err != nil {
				return nil, fmt.Errorf("failed to parse raw payload for record %d: %w", rec.ID, err)
			}
		}
		if createdAt.Valid {
			rec.CreatedAt = createdAt.Time
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attendance rows: %w", err)
	}
	return records, nil
}

// CountAttendance returns the ledger row count for a device since a
// point in time. Zero time counts everything.
func (s *Store) CountAttendance(deviceID string, since time.Time) (int, error) {
	query := s.rebind(`
		SELECT COUNT(*) FROM attendance_records
		WHERE device_id = ? AND timestamp >= ?
	`)

	var count int
	if err := s.conn.QueryRow(query, deviceID, since.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count attendance records: %w", err)
	}
	return count, nil
}
