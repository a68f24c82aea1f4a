package sync

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"attendance-bridge/internal/events"
	"attendance-bridge/internal/normalize"
	"attendance-bridge/internal/protocol"
	"attendance-bridge/internal/types"

	"github.com/sirupsen/logrus"
)

// Store is the persistence surface the engine needs. Satisfied by
// *store.Store; narrowed here so tests can substitute fakes.
type Store interface {
	GetActiveDevices() ([]types.Device, error)
	GetDeviceByID(id string) (*types.Device, error)
	SetDeviceOnline(id string, online bool, seenAt time.Time) error
	AdvanceCheckpoint(id string, checkpoint time.Time) error
	EmployeeIndex() (map[string]types.Employee, error)
	InsertAttendance(rec types.AttendanceRecord) (bool, error)
	CreateSyncRun(deviceID string, startedAt time.Time) (*types.SyncRun, error)
	FinalizeSyncRun(run *types.SyncRun) error
	LatestSyncRuns(limit int) ([]types.SyncRun, error)
	GetSyncStatistics(days int) (*types.SyncStatistics, error)
}

// Connections is the slice of the connection registry the engine uses.
type Connections interface {
	Acquire(ctx context.Context, device types.Device) (protocol.Adapter, error)
}

// Engine reconciles device attendance logs into the canonical ledger.
// At most one fleet-wide run is active at a time; a second call observes
// the in-progress flag and returns a skipped summary without side
// effects.
type Engine struct {
	store         Store
	conns         Connections
	bus           *events.Bus
	log           *logrus.Entry
	defaultWindow time.Duration

	fleetActive atomic.Bool
	lastFleet   atomic.Pointer[types.FleetSyncResult]
}

// Status is the engine view returned to callers, valid even mid-failure.
type Status struct {
	InProgress bool                   `json:"inProgress"`
	LastFleet  *types.FleetSyncResult `json:"lastFleet,omitempty"`
	RecentRuns []types.SyncRun        `json:"recentRuns"`
}

// New creates a reconciliation engine. defaultWindow is how far back the
// first sync of a device reaches (7 days unless configured otherwise).
func New(st Store, conns Connections, bus *events.Bus, defaultWindow time.Duration, logger *logrus.Logger) *Engine {
	return &Engine{
		store:         st,
		conns:         conns,
		bus:           bus,
		log:           logger.WithField("component", "sync"),
		defaultWindow: defaultWindow,
	}
}

// SyncDevice reconciles one device. Device-level failures (unreachable,
// transport errors) are captured in the returned result and the audit
// row, not returned as errors; the error return is reserved for
// infrastructure failures around the run itself.
func (e *Engine) SyncDevice(ctx context.Context, deviceID string) (*types.SyncResult, error) {
	device, err := e.store.GetDeviceByID(deviceID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, fmt.Errorf("unknown device: %s", deviceID)
	}
	return e.syncOne(ctx, *device)
}

func (e *Engine) syncOne(ctx context.Context, device types.Device) (*types.SyncResult, error) {
	log := e.log.WithField("device_id", device.ID)
	now := time.Now().UTC()

	index, err := e.store.EmployeeIndex()
	if err != nil {
		return nil, fmt.Errorf("failed to load employee index: %w", err)
	}

	run, err := e.store.CreateSyncRun(device.ID, now)
	if err != nil {
		return nil, err
	}

	result := &types.SyncResult{DeviceID: device.ID, DeviceName: device.Name, Status: types.SyncStatusRunning}

	// The audit row is finalized on every exit path, panics included.
	defer func() {
		if run.Status == types.SyncStatusRunning {
			run.Status = types.SyncStatusFailed
			if run.Error == "" {
				run.Error = "run aborted"
			}
		}
		run.Processed = result.Processed
		run.Inserted = result.Inserted
		run.Skipped = result.Skipped
		run.Duplicates = result.Duplicates
		if err := e.store.FinalizeSyncRun(run); err != nil {
			log.WithError(err).Error("Failed to finalize sync run")
		}
	}()

	fail := func(cause error) *types.SyncResult {
		result.Status = types.SyncStatusFailed
		result.Error = cause.Error()
		run.Status = types.SyncStatusFailed
		run.Error = cause.Error()
		if err := e.store.SetDeviceOnline(device.ID, false, now); err != nil {
			log.WithError(err).Error("Failed to mark device offline")
		}
		e.bus.PublishError(device.ID, cause.Error())
		log.WithError(cause).Warn("Device sync failed")
		return result
	}

	adapter, err := e.conns.Acquire(ctx, device)
	if err != nil {
		return fail(err), nil
	}

	raws, err := adapter.Records(ctx)
	if err != nil {
		return fail(err), nil
	}

	if err := e.store.SetDeviceOnline(device.ID, true, now); err != nil {
		log.WithError(err).Error("Failed to mark device online")
	}

	checkpoint := now.Add(-e.defaultWindow)
	if device.LastSyncAt != nil {
		checkpoint = *device.LastSyncAt
	}

	var batch []types.AttendanceRecord
	for _, raw := range raws {
		result.Processed++

		employeeID := ""
		if emp, ok := index[raw.DeviceUserID]; ok {
			employeeID = emp.ID
		}

		rec := normalize.Record(raw, device.ID, employeeID, now, log)

		// Stale-window exclusion: anything at or before the checkpoint
		// was reconciled by an earlier run.
		if !rec.Timestamp.After(checkpoint) {
			result.Skipped++
			continue
		}
		if employeeID == "" {
			// Unregistered device user: expected steady-state, not a failure.
			result.Skipped++
			continue
		}

		inserted, err := e.store.InsertAttendance(rec)
		if err != nil {
			return fail(fmt.Errorf("ledger insert failed: %w", err)), nil
		}
		if !inserted {
			result.Duplicates++
			continue
		}
		result.Inserted++
		batch = append(batch, rec)
	}

	// Checkpoint advances only after the full fetch-and-persist cycle.
	if err := e.store.AdvanceCheckpoint(device.ID, now); err != nil {
		return fail(fmt.Errorf("failed to advance checkpoint: %w", err)), nil
	}

	result.Status = types.SyncStatusSuccess
	run.Status = types.SyncStatusSuccess

	e.bus.PublishAttendance(device.ID, batch)
	log.WithFields(logrus.Fields{
		"processed":  result.Processed,
		"inserted":   result.Inserted,
		"skipped":    result.Skipped,
		"duplicates": result.Duplicates,
	}).Info("Device sync complete")

	return result, nil
}

// SyncAll reconciles every active device sequentially, aggregating
// per-device outcomes. A failure on one device never aborts the rest.
// When another fleet-wide run is already active the call returns a
// skipped summary immediately, with no new audit rows.
func (e *Engine) SyncAll(ctx context.Context) (*types.FleetSyncResult, error) {
	if !e.fleetActive.CompareAndSwap(false, true) {
		e.log.Info("Fleet sync already in progress, skipping")
		return &types.FleetSyncResult{Skipped: true}, nil
	}
	defer e.fleetActive.Store(false)

	devices, err := e.store.GetActiveDevices()
	if err != nil {
		return nil, fmt.Errorf("failed to list active devices: %w", err)
	}

	fleet := &types.FleetSyncResult{StartedAt: time.Now().UTC()}
	for _, device := range devices {
		if ctx.Err() != nil {
			break
		}

		result, err := e.syncOne(ctx, device)
		if err != nil {
			// Infrastructure failure: record it against the device and
			// keep going with the rest of the fleet.
			result = &types.SyncResult{
				DeviceID: device.ID,
				Status:   types.SyncStatusFailed,
				Error:    err.Error(),
			}
			e.log.WithError(err).WithField("device_id", device.ID).Error("Device sync errored")
		}

		fleet.Devices = append(fleet.Devices, *result)
		fleet.Processed += result.Processed
		fleet.Inserted += result.Inserted
		if result.Status == types.SyncStatusFailed {
			fleet.Failed++
		}
	}
	fleet.FinishedAt = time.Now().UTC()

	e.lastFleet.Store(fleet)
	e.log.WithFields(logrus.Fields{
		"devices":  len(fleet.Devices),
		"inserted": fleet.Inserted,
		"failed":   fleet.Failed,
	}).Info("Fleet sync complete")

	return fleet, nil
}

// InProgress reports whether a fleet-wide run is active.
func (e *Engine) InProgress() bool {
	return e.fleetActive.Load()
}

// Status returns the last known engine state, including mid-failure.
func (e *Engine) Status() (*Status, error) {
	runs, err := e.store.LatestSyncRuns(20)
	if err != nil {
		return nil, err
	}
	return &Status{
		InProgress: e.fleetActive.Load(),
		LastFleet:  e.lastFleet.Load(),
		RecentRuns: runs,
	}, nil
}

// Statistics aggregates the sync-run audit trail over the last N days.
func (e *Engine) Statistics(days int) (*types.SyncStatistics, error) {
	return e.store.GetSyncStatistics(days)
}
