package types

import (
	"time"
)

// TransportVariant identifies how a terminal is reached on the network.
type TransportVariant string

const (
	TransportDirect    TransportVariant = "direct"
	TransportWired     TransportVariant = "wired"
	TransportGateway   TransportVariant = "gateway"
	TransportSimulator TransportVariant = "simulator"
)

// IsValidTransport checks if the provided transport variant is known.
func IsValidTransport(v TransportVariant) bool {
	switch v {
	case TransportDirect, TransportWired, TransportGateway, TransportSimulator:
		return true
	default:
		return false
	}
}

// GatewayConfig holds the remote-broker settings required by the gateway
// transport. All fields are mandatory at adapter construction time.
type GatewayConfig struct {
	Endpoint     string `json:"endpoint"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	SerialNumber string `json:"serialNumber"`
}

// Device represents a biometric terminal as read from the device registry.
// Identity and transport configuration are owned by the registry; the
// engine only writes the operational fields (IsOnline, LastSeenAt,
// LastSyncAt).
type Device struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Host      string           `json:"host"`
	Port      int              `json:"port"`
	Transport TransportVariant `json:"transport"`
	Gateway   *GatewayConfig   `json:"gateway,omitempty"`

	IsOnline   bool       `json:"isOnline"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
	// LastSyncAt is the per-device sync checkpoint: records before it are
	// already reconciled.
	LastSyncAt *time.Time `json:"lastSyncAt,omitempty"`
}

// Employee is the resolved owner of an attendance record.
type Employee struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DeviceUserID string `json:"deviceUserId"`
}

// RawRecord is a vendor attendance record exactly as a terminal reported
// it. Timestamp is left untyped because firmware variants report native
// timestamps, ISO-8601 strings or epoch seconds; the normalizer sorts
// that out. Never persisted directly.
type RawRecord struct {
	DeviceUserID string                 `json:"deviceUserId"`
	Timestamp    interface{}            `json:"timestamp"`
	CheckType    int                    `json:"checkType"`
	VerifyMode   int                    `json:"verifyMode"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// Direction is the semantic classification of an attendance punch.
type Direction string

const (
	DirectionCheckIn     Direction = "check_in"
	DirectionCheckOut    Direction = "check_out"
	DirectionBreakIn     Direction = "break_in"
	DirectionBreakOut    Direction = "break_out"
	DirectionOvertimeIn  Direction = "overtime_in"
	DirectionOvertimeOut Direction = "overtime_out"
	DirectionUnknown     Direction = "unknown"
)

// VerificationMethod is how the person was identified at the terminal.
type VerificationMethod string

const (
	VerifyPassword    VerificationMethod = "password"
	VerifyFingerprint VerificationMethod = "fingerprint"
	VerifyCard        VerificationMethod = "card"
	VerifyFace        VerificationMethod = "face"
	VerifyPalm        VerificationMethod = "palm"
	VerifyCombination VerificationMethod = "combination"
	VerifyUnknown     VerificationMethod = "unknown"
)

// AttendanceRecord is the canonical ledger row. The natural key is
// (EmployeeID, DeviceID, Timestamp); inserts under an existing key are
// absorbed silently.
type AttendanceRecord struct {
	ID           int64                  `json:"id,omitempty"`
	EmployeeID   string                 `json:"employeeId,omitempty"` // empty when the device user is unregistered
	DeviceID     string                 `json:"deviceId"`
	DeviceUserID string                 `json:"deviceUserId"`
	Timestamp    time.Time              `json:"timestamp"`
	Direction    Direction              `json:"direction"`
	Method       VerificationMethod     `json:"method"`
	Raw          map[string]interface{} `json:"raw,omitempty"` // original payload, retained for audit
	CreatedAt    time.Time              `json:"createdAt,omitempty"`
}

// DeviceInfo is the terminal self-description returned by the info probe.
type DeviceInfo struct {
	SerialNumber string `json:"serialNumber"`
	Model        string `json:"model"`
	Firmware     string `json:"firmware"`
	UserCount    int    `json:"userCount"`
	RecordCount  int    `json:"recordCount"`
	UserCapacity int    `json:"userCapacity"`
}

// DeviceUser is a user account stored on the terminal itself.
type DeviceUser struct {
	DeviceUserID string `json:"deviceUserId"`
	Name         string `json:"name"`
	CardNumber   string `json:"cardNumber,omitempty"`
	Privilege    int    `json:"privilege"`
}

// SyncRun status values.
const (
	SyncStatusRunning = "running"
	SyncStatusSuccess = "success"
	SyncStatusFailed  = "failed"
)

// SyncRun is one persisted reconciliation attempt for one device.
type SyncRun struct {
	ID         string     `json:"id"`
	DeviceID   string     `json:"deviceId"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Status     string     `json:"status"`
	Processed  int        `json:"processed"`
	Inserted   int        `json:"inserted"`
	Skipped    int        `json:"skipped"`
	Duplicates int        `json:"duplicates"`
	Error      string     `json:"error,omitempty"`
}

// SyncResult is the outcome of syncing a single device.
type SyncResult struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName,omitempty"`
	Status     string `json:"status"`
	Processed  int    `json:"processed"`
	Inserted   int    `json:"inserted"`
	Skipped    int    `json:"skipped"`
	Duplicates int    `json:"duplicates"`
	Error      string `json:"error,omitempty"`
}

// FleetSyncResult aggregates a fleet-wide run. Skipped is true when the
// run was refused because another fleet-wide run was already active.
type FleetSyncResult struct {
	Skipped    bool         `json:"skipped"`
	StartedAt  time.Time    `json:"startedAt,omitempty"`
	FinishedAt time.Time    `json:"finishedAt,omitempty"`
	Devices    []SyncResult `json:"devices,omitempty"`
	Processed  int          `json:"processed"`
	Inserted   int          `json:"inserted"`
	Failed     int          `json:"failed"`
}

// SyncStatistics summarizes the sync-run audit trail over a window.
type SyncStatistics struct {
	Days      int       `json:"days"`
	Since     time.Time `json:"since"`
	TotalRuns int       `json:"totalRuns"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Processed int       `json:"processed"`
	Inserted  int       `json:"inserted"`
	Skipped   int       `json:"skipped"`
}
