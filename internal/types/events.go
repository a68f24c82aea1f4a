package types

import (
	"time"
)

// EventType classifies messages pushed to realtime subscribers.
type EventType string

const (
	EventAttendance EventType = "attendance"
	EventConnected  EventType = "connected"
	EventError      EventType = "error"
	EventWarning    EventType = "warning"
)

// Event is one message on the realtime bus. Attendance events carry the
// batch of records persisted in a single poll or sync cycle; the other
// types carry a human-readable message.
type Event struct {
	ID        string             `json:"id"`
	Type      EventType          `json:"type"`
	DeviceID  string             `json:"deviceId,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Records   []AttendanceRecord `json:"records,omitempty"`
	Message   string             `json:"message,omitempty"`
}

// Monitor session states.
const (
	MonitorStopped  = "stopped"
	MonitorStarting = "starting"
	MonitorActive   = "active"
	MonitorError    = "error"
)

// MonitorSession is the in-memory state of one actively monitored
// device. Sessions are never persisted; a process restart loses them.
type MonitorSession struct {
	DeviceID  string    `json:"deviceId"`
	Status    string    `json:"status"`
	Strategy  string    `json:"strategy"` // "count_delta" or "push"
	StartedAt time.Time `json:"startedAt"`
	LastPoll  time.Time `json:"lastPoll,omitempty"`
	LastError string    `json:"lastError,omitempty"`
	Baseline  int       `json:"baseline"` // record count at last successful poll
}

// MonitorStatus is the coordinator-wide view returned to callers.
type MonitorStatus struct {
	Running      bool             `json:"running"`
	PollInterval time.Duration    `json:"pollInterval"`
	Sessions     []MonitorSession `json:"sessions"`
}
