package store

import (
	"database/sql"
	"errors"
	"fmt"

	"attendance-bridge/internal/types"
)

// InsertEmployee registers an employee with a device-user mapping.
// Exists for provisioning and tests; the CRUD surface is external.
func (s *Store) InsertEmployee(emp types.Employee) error {
	query := s.rebind(`INSERT INTO employees (id, name, device_user_id) VALUES (?, ?, ?)`)
	if _, err := s.conn.Exec(query, emp.ID, emp.Name, emp.DeviceUserID); err != nil {
		return fmt.Errorf("failed to insert employee: %w", err)
	}
	return nil
}

// GetEmployeeByDeviceUserID resolves a device-local user id to an
// employee, or nil when no mapping exists.
func (s *Store) GetEmployeeByDeviceUserID(deviceUserID string) (*types.Employee, error) {
	query := s.rebind(`SELECT id, name, device_user_id FROM employees WHERE device_user_id = ?`)

	var emp types.Employee
	err := s.conn.QueryRow(query, deviceUserID).Scan(&emp.ID, &emp.Name, &emp.DeviceUserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query employee: %w", err)
	}
	return &emp, nil
}

// EmployeeIndex loads the full device-user-id -> employee mapping in one
// query. Built once per sync run so resolution stays O(employees), not
// O(employees x records).
func (s *Store) EmployeeIndex() (map[string]types.Employee, error) {
	rows, err := s.conn.Query(`SELECT id, name, device_user_id FROM employees`)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	index := make(map[string]types.Employee)
	for rows.Next() {
		var emp types.Employee
		if err := rows.Scan(&emp.ID, &emp.Name, &emp.DeviceUserID); err != nil {
			return nil, fmt.Errorf("failed to scan employee row: %w", err)
		}
		index[emp.DeviceUserID] = emp
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating employee rows: %w", err)
	}
	return index, nil
}
