package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"attendance-bridge/internal/types"
)

// InsertDevice registers a device. Identity and transport configuration
// are owned by the external device registry; this exists for
// provisioning and tests.
func (s *Store) InsertDevice(device types.Device) error {
	var gatewayJSON sql.NullString
	if device.Gateway != nil {
		data, err := json.Marshal(device.Gateway)
		if err != nil {
			return fmt.Errorf("failed to marshal gateway config: %w", err)
		}
		gatewayJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := s.rebind(`
		INSERT INTO devices (id, name, host, port, transport, gateway_config, is_online)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := s.conn.Exec(query,
		device.ID,
		device.Name,
		device.Host,
		device.Port,
		string(device.Transport),
		gatewayJSON,
		device.IsOnline,
	)
	if err != nil {
		return fmt.Errorf("failed to insert device: %w", err)
	}
	return nil
}

// GetActiveDevices returns all active, non-deleted devices.
func (s *Store) GetActiveDevices() ([]types.Device, error) {
	query := s.rebind(`
		SELECT id, name, host, port, transport, gateway_config, is_online, last_seen_at, last_sync_at
		FROM devices
		WHERE is_active AND NOT is_deleted
		ORDER BY name
	`)

	rows, err := s.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active devices: %w", err)
	}
	defer rows.Close()

	var devices []types.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating device rows: %w", err)
	}
	return devices, nil
}

// GetDeviceByID returns one device, or nil when it does not exist.
func (s *Store) GetDeviceByID(id string) (*types.Device, error) {
	query := s.rebind(`
		SELECT id, name, host, port, transport, gateway_config, is_online, last_seen_at, last_sync_at
		FROM devices
		WHERE id = ? AND NOT is_deleted
	`)

	rows, err := s.conn.Query(query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query device: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query device: %w", err)
		}
		return nil, nil
	}

	device, err := scanDevice(rows)
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func scanDevice(rows *sql.Rows) (types.Device, error) {
	var device types.Device
	var transport string
	var gatewayJSON sql.NullString
	var lastSeen, lastSync sql.NullTime

	err := rows.Scan(
		&device.ID,
		&device.Name,
		&device.Host,
		&device.Port,
		&transport,
		&gatewayJSON,
		&device.IsOnline,
		&lastSeen,
		&lastSync,
	)
	if err != nil {
		return types.Device{}, fmt.Errorf("failed to scan device row: %w", err)
	}

	device.Transport = types.TransportVariant(transport)
	if gatewayJSON.Valid && gatewayJSON.String != "" {
		var gw types.GatewayConfig
		if err := json.Unmarshal([]byte(gatewayJSON.String), &gw); err != nil {
			return types.Device{}, fmt.Errorf("failed to parse gateway config for device %s: %w", device.ID, err)
		}
		device.Gateway = &gw
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		device.LastSeenAt = &t
	}
	if lastSync.Valid {
		t := lastSync.Time
		device.LastSyncAt = &t
	}

	return device, nil
}

// SetDeviceOnline updates the online flag, stamping last_seen_at when
// the device was reachable.
func (s *Store) SetDeviceOnline(id string, online bool, seenAt time.Time) error {
	var query string
	var args []interface{}
	if online {
		query = s.rebind(`UPDATE devices SET is_online = ?, last_seen_at = ? WHERE id = ?`)
		args = []interface{}{online, seenAt.UTC(), id}
	} else {
		query = s.rebind(`UPDATE devices SET is_online = ? WHERE id = ?`)
		args = []interface{}{online, id}
	}

	if _, err := s.conn.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to update device online state: %w", err)
	}
	return nil
}

// AdvanceCheckpoint moves the device's sync checkpoint forward. The
// caller guarantees monotonicity: it is only invoked after a successful
// full fetch-and-persist cycle.
func (s *Store) AdvanceCheckpoint(id string, checkpoint time.Time) error {
	query := s.rebind(`UPDATE devices SET last_sync_at = ? WHERE id = ?`)
	if _, err := s.conn.Exec(query, checkpoint.UTC(), id); err != nil {
		return fmt.Errorf("failed to advance sync checkpoint: %w", err)
	}
	return nil
}
