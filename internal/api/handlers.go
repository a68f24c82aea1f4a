package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"attendance-bridge/internal/events"
	"attendance-bridge/internal/monitor"
	"attendance-bridge/internal/sync"
	"attendance-bridge/internal/types"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// SyncService is the reconciliation surface the API exposes.
type SyncService interface {
	SyncDevice(ctx context.Context, deviceID string) (*types.SyncResult, error)
	SyncAll(ctx context.Context) (*types.FleetSyncResult, error)
	Status() (*sync.Status, error)
	Statistics(days int) (*types.SyncStatistics, error)
}

// MonitorService is the monitor coordinator surface the API exposes.
type MonitorService interface {
	StartAll() error
	StopAll()
	StartDevice(deviceID string) error
	StopDevice(deviceID string)
	RestartDevice(deviceID string) error
	Status() types.MonitorStatus
	UpdateSettings(update monitor.Settings) (monitor.Settings, error)
}

// Store is the read-only persistence surface used by the API.
type Store interface {
	GetActiveDevices() ([]types.Device, error)
	RecentAttendance(deviceID string, limit int) ([]types.AttendanceRecord, error)
}

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	syncer    SyncService
	monitor   MonitorService
	store     Store
	bus       *events.Bus
	logger    *logrus.Logger
	startTime time.Time
}

// NewHandlers wires handler dependencies.
func NewHandlers(syncer SyncService, mon MonitorService, store Store, bus *events.Bus, logger *logrus.Logger) *Handlers {
	return &Handlers{
		syncer:    syncer,
		monitor:   mon,
		store:     store,
		bus:       bus,
		logger:    logger,
		startTime: time.Now(),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handlers) writeJSON(w http.ResponseWriter, v interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, errorResponse{Error: message}, status)
}

// Health reports process liveness and basic runtime facts.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().UTC(),
		"uptime":      time.Since(h.startTime).String(),
		"subscribers": h.bus.SubscriberCount(),
	}, http.StatusOK)
}

// ListDevices returns the active device fleet with operational state.
func (h *Handlers) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.store.GetActiveDevices()
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, map[string]interface{}{"devices": devices, "count": len(devices)}, http.StatusOK)
}

// DeviceRecords returns the most recent ledger rows for one device.
func (h *Handlers) DeviceRecords(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := h.store.RecentAttendance(deviceID, limit)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, map[string]interface{}{"records": records, "count": len(records)}, http.StatusOK)
}

// SyncAll triggers a fleet-wide reconciliation run. When another run is
// already active the engine reports a skipped summary; that is surfaced
// as 409 so callers can distinguish it from a completed run.
func (h *Handlers) SyncAll(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncer.SyncAll(r.Context())
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if result.Skipped {
		h.writeJSON(w, result, http.StatusConflict)
		return
	}
	h.writeJSON(w, result, http.StatusOK)
}

// SyncDevice reconciles a single device.
func (h *Handlers) SyncDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	result, err := h.syncer.SyncDevice(r.Context(), deviceID)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	h.writeJSON(w, result, http.StatusOK)
}

// SyncStatus reports the engine's last known state, valid mid-failure.
func (h *Handlers) SyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.syncer.Status()
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, status, http.StatusOK)
}

// SyncStatistics aggregates the audit trail over the requested window.
func (h *Handlers) SyncStatistics(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(w, "days must be a positive integer", http.StatusBadRequest)
			return
		}
		days = n
	}

	stats, err := h.syncer.Statistics(days)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, stats, http.StatusOK)
}

// StartMonitoring begins monitoring every active device.
func (h *Handlers) StartMonitoring(w http.ResponseWriter, r *http.Request) {
	if err := h.monitor.StartAll(); err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, h.monitor.Status(), http.StatusOK)
}

// StopMonitoring stops the whole monitored fleet.
func (h *Handlers) StopMonitoring(w http.ResponseWriter, r *http.Request) {
	h.monitor.StopAll()
	h.writeJSON(w, h.monitor.Status(), http.StatusOK)
}

// MonitorStatus reports every session's last known state.
func (h *Handlers) MonitorStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.monitor.Status(), http.StatusOK)
}

// UpdateMonitorSettings applies a partial settings change.
func (h *Handlers) UpdateMonitorSettings(w http.ResponseWriter, r *http.Request) {
	var update monitor.Settings
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.writeError(w, "invalid JSON in request body", http.StatusBadRequest)
		return
	}

	settings, err := h.monitor.UpdateSettings(update)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.writeJSON(w, settings, http.StatusOK)
}

// StartDeviceMonitoring starts one device's monitor session.
func (h *Handlers) StartDeviceMonitoring(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	if err := h.monitor.StartDevice(deviceID); err != nil {
		h.writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	h.writeJSON(w, h.monitor.Status(), http.StatusOK)
}

// StopDeviceMonitoring stops one device's monitor session.
func (h *Handlers) StopDeviceMonitoring(w http.ResponseWriter, r *http.Request) {
	h.monitor.StopDevice(mux.Vars(r)["id"])
	h.writeJSON(w, h.monitor.Status(), http.StatusOK)
}

// RestartDeviceMonitoring is the endpoint to hit after changing a
// device's network settings: it stops the session, evicts the stale
// connection and starts against the fresh configuration.
func (h *Handlers) RestartDeviceMonitoring(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	if err := h.monitor.RestartDevice(deviceID); err != nil {
		h.writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	h.writeJSON(w, h.monitor.Status(), http.StatusOK)
}
