package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"attendance-bridge/internal/events"
	"attendance-bridge/internal/monitor"
	syncengine "attendance-bridge/internal/sync"
	"attendance-bridge/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSync struct {
	fleet      *types.FleetSyncResult
	device     *types.SyncResult
	deviceErr  error
	lastDevice string
}

func (f *fakeSync) SyncDevice(_ context.Context, deviceID string) (*types.SyncResult, error) {
	f.lastDevice = deviceID
	return f.device, f.deviceErr
}

func (f *fakeSync) SyncAll(context.Context) (*types.FleetSyncResult, error) {
	return f.fleet, nil
}

func (f *fakeSync) Status() (*syncengine.Status, error) {
	return &syncengine.Status{InProgress: false}, nil
}

func (f *fakeSync) Statistics(days int) (*types.SyncStatistics, error) {
	return &types.SyncStatistics{Days: days}, nil
}

type fakeMonitor struct {
	started   []string
	stopped   []string
	restarted []string
	settings  monitor.Settings
}

func (f *fakeMonitor) StartAll() error { return nil }
func (f *fakeMonitor) StopAll()        {}
func (f *fakeMonitor) StartDevice(id string) error {
	if id == "nope" {
		return errors.New("unknown device: nope")
	}
	f.started = append(f.started, id)
	return nil
}
func (f *fakeMonitor) StopDevice(id string) { f.stopped = append(f.stopped, id) }
func (f *fakeMonitor) RestartDevice(id string) error {
	f.restarted = append(f.restarted, id)
	return nil
}
func (f *fakeMonitor) Status() types.MonitorStatus { return types.MonitorStatus{Running: true} }
func (f *fakeMonitor) UpdateSettings(update monitor.Settings) (monitor.Settings, error) {
	if update.Strategy != "" && update.Strategy != monitor.StrategyPush {
		return f.settings, errors.New("unknown monitor strategy")
	}
	if update.Strategy != "" {
		f.settings.Strategy = update.Strategy
	}
	return f.settings, nil
}

type fakeAPIStore struct {
	devices []types.Device
	records []types.AttendanceRecord
}

func (f *fakeAPIStore) GetActiveDevices() ([]types.Device, error) { return f.devices, nil }
func (f *fakeAPIStore) RecentAttendance(string, int) ([]types.AttendanceRecord, error) {
	return f.records, nil
}

func testServer(t *testing.T, syncer *fakeSync, mon *fakeMonitor) (*Server, *events.Bus) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	bus := events.New(16, logger)
	t.Cleanup(bus.Close)

	st := &fakeAPIStore{
		devices: []types.Device{{ID: "dev-1", Name: "Lobby", Host: "10.0.0.1", Port: 4370, Transport: types.TransportDirect}},
	}
	return NewServer(":0", syncer, mon, st, bus, logger), bus
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _ := testServer(t, &fakeSync{}, &fakeMonitor{})
	w := doRequest(t, s, http.MethodGet, "/api/v1/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestListDevices(t *testing.T) {
	s, _ := testServer(t, &fakeSync{}, &fakeMonitor{})
	w := doRequest(t, s, http.MethodGet, "/api/v1/devices", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Devices []types.Device `json:"devices"`
		Count   int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "dev-1", body.Devices[0].ID)
}

func TestSyncAllReturnsResult(t *testing.T) {
	syncer := &fakeSync{fleet: &types.FleetSyncResult{Inserted: 5}}
	s, _ := testServer(t, syncer, &fakeMonitor{})

	w := doRequest(t, s, http.MethodPost, "/api/v1/sync", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body types.FleetSyncResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 5, body.Inserted)
}

func TestSyncAllSkippedIsConflict(t *testing.T) {
	syncer := &fakeSync{fleet: &types.FleetSyncResult{Skipped: true}}
	s, _ := testServer(t, syncer, &fakeMonitor{})

	w := doRequest(t, s, http.MethodPost, "/api/v1/sync", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSyncDevice(t *testing.T) {
	syncer := &fakeSync{device: &types.SyncResult{DeviceID: "dev-1", Status: types.SyncStatusSuccess}}
	s, _ := testServer(t, syncer, &fakeMonitor{})

	w := doRequest(t, s, http.MethodPost, "/api/v1/sync/dev-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dev-1", syncer.lastDevice)

	syncer.device = nil
	syncer.deviceErr = errors.New("unknown device: nope")
	w = doRequest(t, s, http.MethodPost, "/api/v1/sync/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSyncStatistics(t *testing.T) {
	s, _ := testServer(t, &fakeSync{}, &fakeMonitor{})

	w := doRequest(t, s, http.MethodGet, "/api/v1/sync/statistics?days=30", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body types.SyncStatistics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 30, body.Days)

	w = doRequest(t, s, http.MethodGet, "/api/v1/sync/statistics?days=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMonitorLifecycleEndpoints(t *testing.T) {
	mon := &fakeMonitor{}
	s, _ := testServer(t, &fakeSync{}, mon)

	assert.Equal(t, http.StatusOK, doRequest(t, s, http.MethodPost, "/api/v1/monitor/start", "").Code)
	assert.Equal(t, http.StatusOK, doRequest(t, s, http.MethodPost, "/api/v1/monitor/stop", "").Code)

	w := doRequest(t, s, http.MethodPost, "/api/v1/monitor/devices/dev-1/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"dev-1"}, mon.started)

	w = doRequest(t, s, http.MethodPost, "/api/v1/monitor/devices/nope/start", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, s, http.MethodPost, "/api/v1/monitor/devices/dev-1/restart", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"dev-1"}, mon.restarted)
}

func TestUpdateMonitorSettings(t *testing.T) {
	mon := &fakeMonitor{}
	s, _ := testServer(t, &fakeSync{}, mon)

	w := doRequest(t, s, http.MethodPatch, "/api/v1/monitor/settings", `{"strategy":"push"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, monitor.StrategyPush, mon.settings.Strategy)

	w = doRequest(t, s, http.MethodPatch, "/api/v1/monitor/settings", `{"strategy":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, s, http.MethodPatch, "/api/v1/monitor/settings", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
