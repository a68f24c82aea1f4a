package protocol

import (
	"context"
	"sync"

	"attendance-bridge/internal/types"

	"github.com/sirupsen/logrus"
)

// SimulatorAdapter is an in-memory terminal used in development and
// tests. Records and users are fed in by the test; connect and fetch
// failures can be injected per call.
type SimulatorAdapter struct {
	device types.Device
	log    *logrus.Entry

	mu        sync.Mutex
	connected bool
	users     []types.DeviceUser
	records   []types.RawRecord
	live      map[int]func(types.RawRecord)
	nextSubID int

	// Failure injection: next call consuming the error resets it.
	ConnectErr error
	FetchErr   error
}

func newSimulatorAdapter(device types.Device, logger *logrus.Logger) *SimulatorAdapter {
	return &SimulatorAdapter{
		device: device,
		log: logger.WithFields(logrus.Fields{
			"component": "protocol",
			"variant":   "simulator",
			"device_id": device.ID,
		}),
	}
}

// NewSimulator creates a standalone simulator adapter for tests.
func NewSimulator(device types.Device, logger *logrus.Logger) *SimulatorAdapter {
	return newSimulatorAdapter(device, logger)
}

func (s *SimulatorAdapter) Variant() types.TransportVariant {
	return types.TransportSimulator
}

func (s *SimulatorAdapter) Capabilities() Capabilities {
	return Capabilities{FetchRecords: true, LiveSubscription: true}
}

func (s *SimulatorAdapter) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ConnectErr != nil {
		err := s.ConnectErr
		s.ConnectErr = nil
		return err
	}

	s.connected = true
	s.log.Debug("Simulator connected")
	return nil
}

func (s *SimulatorAdapter) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *SimulatorAdapter) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.live = nil
	return nil
}

func (s *SimulatorAdapter) Info(_ context.Context) (*types.DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, ErrNotConnected
	}
	return &types.DeviceInfo{
		SerialNumber: "SIM-" + s.device.ID,
		Model:        "simulator",
		UserCount:    len(s.users),
		RecordCount:  len(s.records),
	}, nil
}

func (s *SimulatorAdapter) Users(_ context.Context) ([]types.DeviceUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, ErrNotConnected
	}
	out := make([]types.DeviceUser, len(s.users))
	copy(out, s.users)
	return out, nil
}

func (s *SimulatorAdapter) Records(_ context.Context) ([]types.RawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, ErrNotConnected
	}
	if s.FetchErr != nil {
		err := s.FetchErr
		s.FetchErr = nil
		return nil, err
	}
	out := make([]types.RawRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

func (s *SimulatorAdapter) SubscribeLive(_ context.Context, fn func(types.RawRecord)) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, ErrNotConnected
	}
	if s.live == nil {
		s.live = make(map[int]func(types.RawRecord))
	}
	s.nextSubID++
	id := s.nextSubID
	s.live[id] = fn
	return &simulatorSubscription{adapter: s, id: id}, nil
}

// SetUsers replaces the simulated user table.
func (s *SimulatorAdapter) SetUsers(users []types.DeviceUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = users
}

// AddRecord appends a record to the simulated attendance log and pushes
// it to any live subscribers.
func (s *SimulatorAdapter) AddRecord(rec types.RawRecord) {
	s.mu.Lock()
	s.records = append(s.records, rec)
	live := make([]func(types.RawRecord), 0, len(s.live))
	for _, fn := range s.live {
		live = append(live, fn)
	}
	s.mu.Unlock()

	for _, fn := range live {
		fn(rec)
	}
}

// FailNextConnect arranges for the next Connect call to return err.
func (s *SimulatorAdapter) FailNextConnect(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConnectErr = err
}

// FailNextFetch arranges for the next Records call to return err.
func (s *SimulatorAdapter) FailNextFetch(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FetchErr = err
}

type simulatorSubscription struct {
	adapter *SimulatorAdapter
	id      int
}

func (ss *simulatorSubscription) Close() error {
	ss.adapter.mu.Lock()
	defer ss.adapter.mu.Unlock()
	delete(ss.adapter.live, ss.id)
	return nil
}
