package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"attendance-bridge/internal/events"
	"attendance-bridge/internal/normalize"
	"attendance-bridge/internal/protocol"
	"attendance-bridge/internal/types"

	"github.com/sirupsen/logrus"
)

// Strategy names accepted in settings. Auto picks push when the
// transport supports a live subscription, count-delta otherwise.
const (
	StrategyCountDelta = "count_delta"
	StrategyPush       = "push"
	StrategyAuto       = "auto"
)

// Store is the persistence surface the coordinator needs. Satisfied by
// *store.Store.
type Store interface {
	GetActiveDevices() ([]types.Device, error)
	GetDeviceByID(id string) (*types.Device, error)
	SetDeviceOnline(id string, online bool, seenAt time.Time) error
	EmployeeIndex() (map[string]types.Employee, error)
	GetEmployeeByDeviceUserID(deviceUserID string) (*types.Employee, error)
	InsertAttendance(rec types.AttendanceRecord) (bool, error)
}

// Connections is the slice of the connection registry the coordinator
// uses. Evict is called on poll failure and on restart, so a corrupted
// or stale session never survives a network change.
type Connections interface {
	Acquire(ctx context.Context, device types.Device) (protocol.Adapter, error)
	Evict(host string, port int, variants ...types.TransportVariant)
}

// Settings tunes the coordinator. Zero-valued fields in an update are
// left unchanged.
type Settings struct {
	PollInterval time.Duration `json:"pollInterval"`
	RetryWait    time.Duration `json:"retryWait"`
	Strategy     string        `json:"strategy"`
}

// session is one monitored device. The run loop owns strat; state is
// shared with Status() under mu.
type session struct {
	mu     sync.Mutex
	state  types.MonitorSession
	device types.Device
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *session) snapshot() types.MonitorSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) setStatus(status, lastError string) {
	s.mu.Lock()
	s.state.Status = status
	s.state.LastError = lastError
	s.mu.Unlock()
}

func (s *session) markPolled(baseline int) {
	s.mu.Lock()
	s.state.Status = types.MonitorActive
	s.state.LastError = ""
	s.state.LastPoll = time.Now().UTC()
	s.state.Baseline = baseline
	s.mu.Unlock()
}

// Coordinator supervises one background task per monitored device.
// Sessions are in-memory only; a process restart loses them.
type Coordinator struct {
	store Store
	conns Connections
	bus   *events.Bus
	log   *logrus.Entry

	mu       sync.Mutex
	settings Settings
	sessions map[string]*session
}

// New creates a coordinator. The settings provide the poll interval
// (default 10s), the wait before the single in-cycle retry, and the
// strategy selection policy.
func New(st Store, conns Connections, bus *events.Bus, settings Settings, logger *logrus.Logger) *Coordinator {
	if settings.PollInterval <= 0 {
		settings.PollInterval = 10 * time.Second
	}
	if settings.RetryWait <= 0 {
		settings.RetryWait = time.Second
	}
	if settings.Strategy == "" {
		settings.Strategy = StrategyCountDelta
	}
	return &Coordinator{
		store:    st,
		conns:    conns,
		bus:      bus,
		log:      logger.WithField("component", "monitor"),
		settings: settings,
		sessions: make(map[string]*session),
	}
}

// Settings returns the current coordinator settings.
func (c *Coordinator) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// UpdateSettings applies a partial settings change. Running sessions
// pick up a new interval on their next cycle; the strategy applies to
// sessions started afterwards.
func (c *Coordinator) UpdateSettings(update Settings) (Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if update.PollInterval > 0 {
		c.settings.PollInterval = update.PollInterval
	}
	if update.RetryWait > 0 {
		c.settings.RetryWait = update.RetryWait
	}
	if update.Strategy != "" {
		switch update.Strategy {
		case StrategyCountDelta, StrategyPush, StrategyAuto:
			c.settings.Strategy = update.Strategy
		default:
			return c.settings, fmt.Errorf("unknown monitor strategy: %s", update.Strategy)
		}
	}
	return c.settings, nil
}

// StartDevice begins monitoring one device. If the device is already
// monitored the old session is stopped first.
func (c *Coordinator) StartDevice(deviceID string) error {
	device, err := c.store.GetDeviceByID(deviceID)
	if err != nil {
		return err
	}
	if device == nil {
		return fmt.Errorf("unknown device: %s", deviceID)
	}

	c.StopDevice(deviceID)

	c.mu.Lock()
	settings := c.settings
	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		device: *device,
		cancel: cancel,
		done:   make(chan struct{}),
		state: types.MonitorSession{
			DeviceID:  device.ID,
			Status:    types.MonitorStarting,
			Strategy:  settings.Strategy,
			StartedAt: time.Now().UTC(),
		},
	}
	c.sessions[device.ID] = sess
	c.mu.Unlock()

	go c.run(ctx, sess)
	c.log.WithField("device_id", device.ID).Info("Started device monitoring")
	return nil
}

// StopDevice cancels the device's poll schedule, waits for any in-flight
// cycle to finish, and evicts its cached connections. Stopping a device
// that is not monitored is a no-op.
func (c *Coordinator) StopDevice(deviceID string) {
	c.mu.Lock()
	sess, ok := c.sessions[deviceID]
	if ok {
		delete(c.sessions, deviceID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	sess.cancel()
	<-sess.done
	c.conns.Evict(sess.device.Host, sess.device.Port)
	c.log.WithField("device_id", deviceID).Info("Stopped device monitoring")
}

// RestartDevice is the required response to a device's network
// configuration changing mid-flight: stop, evict the old address, then
// start against the freshly loaded device row.
func (c *Coordinator) RestartDevice(deviceID string) error {
	c.mu.Lock()
	sess, ok := c.sessions[deviceID]
	c.mu.Unlock()

	c.StopDevice(deviceID)
	if ok {
		// The stored row may already carry a new address; evict the one
		// the old session was actually using.
		c.conns.Evict(sess.device.Host, sess.device.Port)
	}
	return c.StartDevice(deviceID)
}

// StartAll begins monitoring every active device. Per-device start
// failures are logged and do not abort the rest of the fleet.
func (c *Coordinator) StartAll() error {
	devices, err := c.store.GetActiveDevices()
	if err != nil {
		return fmt.Errorf("failed to list active devices: %w", err)
	}
	for _, device := range devices {
		if err := c.StartDevice(device.ID); err != nil {
			c.log.WithError(err).WithField("device_id", device.ID).Warn("Failed to start monitoring")
		}
	}
	return nil
}

// StopAll stops every monitored device.
func (c *Coordinator) StopAll() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.StopDevice(id)
	}
}

// Status reports every session's last known state, including sessions
// currently in error.
func (c *Coordinator) Status() types.MonitorStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := types.MonitorStatus{
		Running:      len(c.sessions) > 0,
		PollInterval: c.settings.PollInterval,
	}
	for _, sess := range c.sessions {
		status.Sessions = append(status.Sessions, sess.snapshot())
	}
	return status
}

// Monitored reports whether the device has an active session.
func (c *Coordinator) Monitored(deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[deviceID]
	return ok
}

func (c *Coordinator) run(ctx context.Context, sess *session) {
	defer close(sess.done)

	strat := c.selectStrategy(ctx, sess)
	sess.mu.Lock()
	sess.state.Strategy = strat.name()
	sess.mu.Unlock()

	strat.run(ctx, sess)
}

// selectStrategy resolves the auto policy against the transport's
// capabilities. Acquisition failure falls back to count-delta; the run
// loop's own retry handling takes it from there.
func (c *Coordinator) selectStrategy(ctx context.Context, sess *session) deviceStrategy {
	choice := c.Settings().Strategy
	if choice == StrategyAuto {
		choice = StrategyCountDelta
		if adapter, err := c.conns.Acquire(ctx, sess.device); err == nil && adapter.Capabilities().LiveSubscription {
			choice = StrategyPush
		}
	}
	if choice == StrategyPush {
		return &pushStrategy{c: c}
	}
	return &countDeltaStrategy{c: c}
}

// persistBatch normalizes and idempotently inserts raw records, then
// emits one attendance event carrying the freshly inserted batch.
// Records without a registered employee are skipped silently, matching
// reconciliation behavior.
func (c *Coordinator) persistBatch(device types.Device, raws []types.RawRecord, log *logrus.Entry) error {
	if len(raws) == 0 {
		return nil
	}

	index, err := c.store.EmployeeIndex()
	if err != nil {
		return fmt.Errorf("failed to load employee index: %w", err)
	}

	now := time.Now().UTC()
	var batch []types.AttendanceRecord
	for _, raw := range raws {
		emp, ok := index[raw.DeviceUserID]
		if !ok {
			continue
		}
		rec := normalize.Record(raw, device.ID, emp.ID, now, log)
		inserted, err := c.store.InsertAttendance(rec)
		if err != nil {
			return fmt.Errorf("ledger insert failed: %w", err)
		}
		if inserted {
			batch = append(batch, rec)
		}
	}

	if len(batch) > 0 {
		c.bus.PublishAttendance(device.ID, batch)
		log.WithField("count", len(batch)).Info("Persisted new attendance records")
	}
	return nil
}

func (c *Coordinator) markOnline(deviceID string) {
	if err := c.store.SetDeviceOnline(deviceID, true, time.Now().UTC()); err != nil {
		c.log.WithError(err).WithField("device_id", deviceID).Error("Failed to mark device online")
	}
}

func (c *Coordinator) markOffline(deviceID string) {
	if err := c.store.SetDeviceOnline(deviceID, false, time.Now().UTC()); err != nil {
		c.log.WithError(err).WithField("device_id", deviceID).Error("Failed to mark device offline")
	}
}
