package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"attendance-bridge/internal/events"
	"attendance-bridge/internal/protocol"
	"attendance-bridge/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory monitor.Store.
type fakeStore struct {
	mu        sync.Mutex
	devices   map[string]types.Device
	employees map[string]types.Employee
	inserted  []types.AttendanceRecord
	online    map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		devices:   make(map[string]types.Device),
		employees: make(map[string]types.Employee),
		online:    make(map[string]bool),
	}
}

func (f *fakeStore) GetActiveDevices() ([]types.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Device
	for _, d := range f.devices {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeStore) GetDeviceByID(id string) (*types.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (f *fakeStore) SetDeviceOnline(id string, online bool, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[id] = online
	return nil
}

func (f *fakeStore) EmployeeIndex() (map[string]types.Employee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	index := make(map[string]types.Employee, len(f.employees))
	for k, v := range f.employees {
		index[k] = v
	}
	return index, nil
}

func (f *fakeStore) GetEmployeeByDeviceUserID(deviceUserID string) (*types.Employee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	emp, ok := f.employees[deviceUserID]
	if !ok {
		return nil, nil
	}
	return &emp, nil
}

func (f *fakeStore) InsertAttendance(rec types.AttendanceRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.inserted {
		if existing.EmployeeID == rec.EmployeeID &&
			existing.DeviceID == rec.DeviceID &&
			existing.Timestamp.Equal(rec.Timestamp) {
			return false, nil
		}
	}
	f.inserted = append(f.inserted, rec)
	return true, nil
}

func (f *fakeStore) insertedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

func (f *fakeStore) isOnline(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[id]
}

func (f *fakeStore) setHost(id, host string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.devices[id]
	d.Host = host
	f.devices[id] = d
}

// fakeConns hands out simulators keyed by address and records evictions.
type fakeConns struct {
	mu       sync.Mutex
	adapters map[string]*protocol.SimulatorAdapter
	evicted  []string
	logger   *logrus.Logger
}

func newFakeConns(logger *logrus.Logger) *fakeConns {
	return &fakeConns{adapters: make(map[string]*protocol.SimulatorAdapter), logger: logger}
}

func (c *fakeConns) adapterFor(device types.Device) *protocol.SimulatorAdapter {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := fmt.Sprintf("%s:%d", device.Host, device.Port)
	sim, ok := c.adapters[key]
	if !ok {
		sim = protocol.NewSimulator(device, c.logger)
		c.adapters[key] = sim
	}
	return sim
}

func (c *fakeConns) Acquire(ctx context.Context, device types.Device) (protocol.Adapter, error) {
	sim := c.adapterFor(device)
	if !sim.Connected() {
		if err := sim.Connect(ctx); err != nil {
			return nil, err
		}
	}
	return sim, nil
}

func (c *fakeConns) Evict(host string, port int, _ ...types.TransportVariant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := fmt.Sprintf("%s:%d", host, port)
	if sim, ok := c.adapters[key]; ok {
		sim.Disconnect()
	}
	c.evicted = append(c.evicted, key)
}

func (c *fakeConns) evictions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.evicted))
	copy(out, c.evicted)
	return out
}

type monitorFixture struct {
	store *fakeStore
	conns *fakeConns
	bus   *events.Bus
	sub   *events.Subscriber
	coord *Coordinator
}

func newMonitorFixture(t *testing.T, settings Settings) *monitorFixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	st := newFakeStore()
	conns := newFakeConns(logger)
	bus := events.New(16, logger)
	t.Cleanup(bus.Close)

	coord := New(st, conns, bus, settings, logger)
	t.Cleanup(coord.StopAll)

	return &monitorFixture{
		store: st,
		conns: conns,
		bus:   bus,
		sub:   bus.Subscribe(""),
		coord: coord,
	}
}

func (f *monitorFixture) addDevice(id, host string) types.Device {
	device := types.Device{ID: id, Name: id, Host: host, Port: 4370, Transport: types.TransportSimulator}
	f.store.mu.Lock()
	f.store.devices[id] = device
	f.store.mu.Unlock()
	return device
}

func (f *monitorFixture) addEmployee(id, deviceUserID string) {
	f.store.mu.Lock()
	f.store.employees[deviceUserID] = types.Employee{ID: id, Name: id, DeviceUserID: deviceUserID}
	f.store.mu.Unlock()
}

func (f *monitorFixture) eventsOfType(et types.EventType) []types.Event {
	var out []types.Event
	for {
		select {
		case e := <-f.sub.Events():
			if e.Type == et {
				out = append(out, e)
			}
		default:
			return out
		}
	}
}

func fastSettings() Settings {
	return Settings{PollInterval: 15 * time.Millisecond, RetryWait: 5 * time.Millisecond, Strategy: StrategyCountDelta}
}

var recordSeq int64

func rawRecord(userID string) types.RawRecord {
	// Distinct timestamps so the natural key never collides across calls.
	seq := atomic.AddInt64(&recordSeq, 1)
	ts := time.Now().UTC().Add(-time.Hour).Add(time.Duration(seq) * time.Second)
	return types.RawRecord{DeviceUserID: userID, Timestamp: ts, CheckType: 0, VerifyMode: 1}
}

func TestCountDeltaDetectsNewRecords(t *testing.T) {
	f := newMonitorFixture(t, fastSettings())
	device := f.addDevice("dev-1", "10.0.0.1")
	f.addEmployee("emp-1", "42")

	sim := f.conns.adapterFor(device)
	require.NoError(t, f.coord.StartDevice(device.ID))

	// Baseline cycle runs first; it must not replay history.
	require.Eventually(t, func() bool {
		status := f.coord.Status()
		return len(status.Sessions) == 1 && status.Sessions[0].Status == types.MonitorActive
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, f.store.insertedCount())

	sim.AddRecord(rawRecord("42"))
	sim.AddRecord(rawRecord("42"))

	require.Eventually(t, func() bool {
		return f.store.insertedCount() == 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, f.store.isOnline(device.ID))
	assert.NotEmpty(t, f.eventsOfType(types.EventAttendance))
}

func TestPollRetriesOnceWithoutErrorEvent(t *testing.T) {
	f := newMonitorFixture(t, fastSettings())
	device := f.addDevice("dev-1", "10.0.0.1")
	f.addEmployee("emp-1", "42")

	sim := f.conns.adapterFor(device)
	require.NoError(t, f.coord.StartDevice(device.ID))

	require.Eventually(t, func() bool {
		status := f.coord.Status()
		return len(status.Sessions) == 1 && status.Sessions[0].Status == types.MonitorActive
	}, 2*time.Second, 5*time.Millisecond)

	// Next fetch fails at the transport level; the in-cycle retry must
	// recover without marking the device offline.
	sim.AddRecord(rawRecord("42"))
	sim.FailNextFetch(&protocol.TransportError{Op: "read", Err: assert.AnError})

	require.Eventually(t, func() bool {
		return f.store.insertedCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, f.store.isOnline(device.ID))
	assert.Empty(t, f.eventsOfType(types.EventError), "a recovered poll must not emit a device error")
}

func TestRestartEvictsOldAddress(t *testing.T) {
	f := newMonitorFixture(t, fastSettings())
	device := f.addDevice("dev-1", "10.0.0.1")

	require.NoError(t, f.coord.StartDevice(device.ID))
	require.Eventually(t, func() bool {
		return f.coord.Monitored(device.ID)
	}, 2*time.Second, 5*time.Millisecond)

	// The device moves to a new address; restart must evict the old one.
	f.store.setHost(device.ID, "10.0.0.99")
	require.NoError(t, f.coord.RestartDevice(device.ID))

	assert.Contains(t, f.conns.evictions(), "10.0.0.1:4370")
	assert.True(t, f.coord.Monitored(device.ID))

	// The new session polls the new address.
	require.Eventually(t, func() bool {
		f.conns.mu.Lock()
		defer f.conns.mu.Unlock()
		sim, ok := f.conns.adapters["10.0.0.99:4370"]
		return ok && sim.Connected()
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStopDeviceCancelsSchedule(t *testing.T) {
	f := newMonitorFixture(t, fastSettings())
	device := f.addDevice("dev-1", "10.0.0.1")

	require.NoError(t, f.coord.StartDevice(device.ID))
	require.True(t, f.coord.Monitored(device.ID))

	f.coord.StopDevice(device.ID)
	assert.False(t, f.coord.Monitored(device.ID))
	assert.False(t, f.coord.Status().Running)

	// Stopping an unmonitored device is a no-op.
	f.coord.StopDevice(device.ID)
}

func TestStartAllAndStopAll(t *testing.T) {
	f := newMonitorFixture(t, fastSettings())
	f.addDevice("dev-1", "10.0.0.1")
	f.addDevice("dev-2", "10.0.0.2")

	require.NoError(t, f.coord.StartAll())
	status := f.coord.Status()
	assert.True(t, status.Running)
	assert.Len(t, status.Sessions, 2)

	f.coord.StopAll()
	assert.False(t, f.coord.Status().Running)
}

func TestStartDeviceStopsExistingSession(t *testing.T) {
	f := newMonitorFixture(t, fastSettings())
	device := f.addDevice("dev-1", "10.0.0.1")

	require.NoError(t, f.coord.StartDevice(device.ID))
	require.NoError(t, f.coord.StartDevice(device.ID))

	status := f.coord.Status()
	assert.Len(t, status.Sessions, 1)
}

func TestPushStrategyPersistsLiveRecords(t *testing.T) {
	settings := fastSettings()
	settings.Strategy = StrategyPush
	f := newMonitorFixture(t, settings)
	device := f.addDevice("dev-1", "10.0.0.1")
	f.addEmployee("emp-1", "42")

	sim := f.conns.adapterFor(device)
	require.NoError(t, f.coord.StartDevice(device.ID))

	require.Eventually(t, func() bool {
		status := f.coord.Status()
		return len(status.Sessions) == 1 && status.Sessions[0].Status == types.MonitorActive
	}, 2*time.Second, 5*time.Millisecond)

	sim.AddRecord(rawRecord("42"))
	require.Eventually(t, func() bool {
		return f.store.insertedCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Unregistered users are ignored silently.
	sim.AddRecord(rawRecord("9999"))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, f.store.insertedCount())

	evs := f.eventsOfType(types.EventAttendance)
	require.NotEmpty(t, evs)
	assert.Len(t, evs[0].Records, 1)
}

func TestUpdateSettings(t *testing.T) {
	f := newMonitorFixture(t, fastSettings())

	updated, err := f.coord.UpdateSettings(Settings{PollInterval: 250 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, updated.PollInterval)
	assert.Equal(t, StrategyCountDelta, updated.Strategy, "unset fields stay unchanged")

	_, err = f.coord.UpdateSettings(Settings{Strategy: "bogus"})
	assert.Error(t, err)

	updated, err = f.coord.UpdateSettings(Settings{Strategy: StrategyAuto})
	require.NoError(t, err)
	assert.Equal(t, StrategyAuto, updated.Strategy)
}

func TestStartUnknownDevice(t *testing.T) {
	f := newMonitorFixture(t, fastSettings())
	assert.Error(t, f.coord.StartDevice("nope"))
}
