package protocol

import (
	"context"
	"fmt"
	"time"

	"attendance-bridge/internal/types"

	"github.com/sirupsen/logrus"
)

// Adapter is one physical/transport session to one terminal. All
// implementations expose the same capability set regardless of variant;
// callers consult Capabilities before using fetch or live subscription.
type Adapter interface {
	// Variant returns the transport variant this adapter speaks.
	Variant() types.TransportVariant

	// Connect establishes the device session.
	Connect(ctx context.Context) error

	// Connected reports whether a session is currently established.
	Connected() bool

	// Info queries the terminal self-description (serial, counts).
	Info(ctx context.Context) (*types.DeviceInfo, error)

	// Users lists the user accounts stored on the terminal.
	Users(ctx context.Context) ([]types.DeviceUser, error)

	// Records fetches all attendance records currently held by the terminal.
	Records(ctx context.Context) ([]types.RawRecord, error)

	// SubscribeLive registers a callback for records pushed by the
	// terminal in real time. Returns the subscription handle; closing it
	// stops the delivery goroutine.
	SubscribeLive(ctx context.Context, fn func(types.RawRecord)) (Subscription, error)

	// Disconnect tears the session down. Safe to call when not connected.
	Disconnect() error

	// Capabilities reports which operations this transport supports.
	Capabilities() Capabilities
}

// Subscription is a live record feed that can be cancelled.
type Subscription interface {
	Close() error
}

// Capabilities flags what a transport variant can do. The gateway
// variant advertises false for fetch and live until its wire protocol
// is specified.
type Capabilities struct {
	FetchRecords     bool `json:"fetchRecords"`
	LiveSubscription bool `json:"liveSubscription"`
}

// Options carries per-operation tuning shared by all adapters.
type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	CommPassword   string // optional device comm key for direct sessions
}

// DefaultOptions returns conservative timeouts matching terminal firmware.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    10 * time.Second,
	}
}

// New creates an adapter for the device's transport variant. Gateway
// devices are validated eagerly: incomplete credentials fail here,
// before any network I/O.
func New(device types.Device, opts Options, logger *logrus.Logger) (Adapter, error) {
	switch device.Transport {
	case types.TransportDirect:
		return newDirectAdapter(device, opts, logger, false), nil
	case types.TransportWired:
		return newDirectAdapter(device, opts, logger, true), nil
	case types.TransportGateway:
		return newGatewayAdapter(device, opts, logger)
	case types.TransportSimulator:
		return newSimulatorAdapter(device, logger), nil
	default:
		return nil, fmt.Errorf("unsupported transport variant: %s", device.Transport)
	}
}
