package store

import (
	"fmt"
)

// migrate runs database migrations to create the required schema.
func (s *Store) migrate() error {
	var migrations []string
	if s.driver == "postgres" {
		migrations = []string{
			createDevicesTablePG,
			createEmployeesTablePG,
			createAttendanceTablePG,
			createSyncRunsTablePG,
			createIndexes,
		}
	} else {
		migrations = []string{
			createDevicesTable,
			createEmployeesTable,
			createAttendanceTable,
			createSyncRunsTable,
			createIndexes,
		}
	}

	for i, migration := range migrations {
		if _, err := s.conn.Exec(migration); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", i+1, err)
		}
	}

	return nil
}

const createDevicesTable = `
CREATE TABLE IF NOT EXISTS devices (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    host TEXT NOT NULL,
    port INTEGER NOT NULL,
    transport TEXT NOT NULL CHECK (transport IN ('direct', 'wired', 'gateway', 'simulator')),
    gateway_config TEXT, -- JSON, gateway transport only
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
    is_online BOOLEAN NOT NULL DEFAULT FALSE,
    last_seen_at DATETIME NULL,
    last_sync_at DATETIME NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);`

const createEmployeesTable = `
CREATE TABLE IF NOT EXISTS employees (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    device_user_id TEXT UNIQUE NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);`

const createAttendanceTable = `
CREATE TABLE IF NOT EXISTS attendance_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    employee_id TEXT NOT NULL DEFAULT '',
    device_id TEXT NOT NULL,
    device_user_id TEXT NOT NULL,
    timestamp DATETIME NOT NULL,
    direction TEXT NOT NULL,
    method TEXT NOT NULL,
    raw_data TEXT, -- original payload JSON, retained for audit
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (employee_id, device_id, timestamp)
);`

const createSyncRunsTable = `
CREATE TABLE IF NOT EXISTS sync_runs (
    id TEXT PRIMARY KEY,
    device_id TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    finished_at DATETIME NULL,
    status TEXT NOT NULL CHECK (status IN ('running', 'success', 'failed')),
    processed INTEGER NOT NULL DEFAULT 0,
    inserted INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0,
    duplicates INTEGER NOT NULL DEFAULT 0,
    error TEXT
);`

const createDevicesTablePG = `
CREATE TABLE IF NOT EXISTS devices (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    host TEXT NOT NULL,
    port INTEGER NOT NULL,
    transport TEXT NOT NULL CHECK (transport IN ('direct', 'wired', 'gateway', 'simulator')),
    gateway_config TEXT,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
    is_online BOOLEAN NOT NULL DEFAULT FALSE,
    last_seen_at TIMESTAMPTZ NULL,
    last_sync_at TIMESTAMPTZ NULL,
    created_at TIMESTAMPTZ DEFAULT NOW()
);`

const createEmployeesTablePG = `
CREATE TABLE IF NOT EXISTS employees (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    device_user_id TEXT UNIQUE NOT NULL,
    created_at TIMESTAMPTZ DEFAULT NOW()
);`

const createAttendanceTablePG = `
CREATE TABLE IF NOT EXISTS attendance_records (
    id BIGSERIAL PRIMARY KEY,
    employee_id TEXT NOT NULL DEFAULT '',
    device_id TEXT NOT NULL,
    device_user_id TEXT NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL,
    direction TEXT NOT NULL,
    method TEXT NOT NULL,
    raw_data TEXT,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE (employee_id, device_id, timestamp)
);`

const createSyncRunsTablePG = `
CREATE TABLE IF NOT EXISTS sync_runs (
    id TEXT PRIMARY KEY,
    device_id TEXT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NULL,
    status TEXT NOT NULL CHECK (status IN ('running', 'success', 'failed')),
    processed INTEGER NOT NULL DEFAULT 0,
    inserted INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0,
    duplicates INTEGER NOT NULL DEFAULT 0,
    error TEXT
);`

const createIndexes = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_devices_address ON devices(host, port) WHERE NOT is_deleted;
CREATE INDEX IF NOT EXISTS idx_attendance_device_ts ON attendance_records(device_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_attendance_employee ON attendance_records(employee_id);
CREATE INDEX IF NOT EXISTS idx_sync_runs_device ON sync_runs(device_id, started_at);
CREATE INDEX IF NOT EXISTS idx_employees_device_user ON employees(device_user_id);`
