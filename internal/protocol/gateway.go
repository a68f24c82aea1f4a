package protocol

import (
	"context"
	"net/url"

	"attendance-bridge/internal/types"

	"github.com/sirupsen/logrus"
)

// gatewayAdapter models the remote-broker (ADMS-style) transport. Its
// wire protocol is not specified, so it is an explicit extension point:
// construction validates credentials fully, Capabilities advertises no
// data operations, and the data calls return ErrNotImplemented instead
// of guessing a protocol.
type gatewayAdapter struct {
	device    types.Device
	cfg       types.GatewayConfig
	log       *logrus.Entry
	connected bool
}

func newGatewayAdapter(device types.Device, _ Options, logger *logrus.Logger) (*gatewayAdapter, error) {
	if device.Gateway == nil {
		return nil, &ConfigError{Reason: "gateway transport requires gateway configuration"}
	}

	cfg := *device.Gateway
	switch {
	case cfg.Endpoint == "":
		return nil, &ConfigError{Reason: "gateway endpoint is required"}
	case cfg.Username == "":
		return nil, &ConfigError{Reason: "gateway username is required"}
	case cfg.Password == "":
		return nil, &ConfigError{Reason: "gateway password is required"}
	case cfg.SerialNumber == "":
		return nil, &ConfigError{Reason: "gateway device serial is required"}
	}

	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, &ConfigError{Reason: "gateway endpoint is not a valid URL"}
	}

	return &gatewayAdapter{
		device: device,
		cfg:    cfg,
		log: logger.WithFields(logrus.Fields{
			"component": "protocol",
			"variant":   "gateway",
			"device_id": device.ID,
			"endpoint":  cfg.Endpoint,
		}),
	}, nil
}

func (g *gatewayAdapter) Variant() types.TransportVariant {
	return types.TransportGateway
}

func (g *gatewayAdapter) Capabilities() Capabilities {
	return Capabilities{FetchRecords: false, LiveSubscription: false}
}

func (g *gatewayAdapter) Connect(_ context.Context) error {
	// Credential validation happened at construction; there is no
	// session to establish until the broker protocol is specified.
	g.connected = true
	g.log.Debug("Gateway adapter marked connected (broker protocol pending)")
	return nil
}

func (g *gatewayAdapter) Connected() bool {
	return g.connected
}

func (g *gatewayAdapter) Disconnect() error {
	g.connected = false
	return nil
}

func (g *gatewayAdapter) Info(_ context.Context) (*types.DeviceInfo, error) {
	if !g.connected {
		return nil, ErrNotConnected
	}
	return &types.DeviceInfo{SerialNumber: g.cfg.SerialNumber, Model: "gateway"}, nil
}

func (g *gatewayAdapter) Users(_ context.Context) ([]types.DeviceUser, error) {
	return nil, ErrNotImplemented
}

func (g *gatewayAdapter) Records(_ context.Context) ([]types.RawRecord, error) {
	return nil, ErrNotImplemented
}

func (g *gatewayAdapter) SubscribeLive(_ context.Context, _ func(types.RawRecord)) (Subscription, error) {
	return nil, ErrNotImplemented
}
