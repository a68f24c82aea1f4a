package protocol

import (
	"context"
	"testing"

	"attendance-bridge/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatewayDevice() types.Device {
	return types.Device{
		ID:        "gw-1",
		Host:      "10.0.0.5",
		Port:      4370,
		Transport: types.TransportGateway,
		Gateway: &types.GatewayConfig{
			Endpoint:     "https://broker.example.com/iclock",
			Username:     "bridge",
			Password:     "secret",
			SerialNumber: "A8N5201360001",
		},
	}
}

func TestGatewayRequiresCompleteCredentials(t *testing.T) {
	logger := logrus.New()

	tests := []struct {
		name   string
		mutate func(*types.Device)
	}{
		{"no gateway config", func(d *types.Device) { d.Gateway = nil }},
		{"missing endpoint", func(d *types.Device) { d.Gateway.Endpoint = "" }},
		{"missing username", func(d *types.Device) { d.Gateway.Username = "" }},
		{"missing password", func(d *types.Device) { d.Gateway.Password = "" }},
		{"missing serial", func(d *types.Device) { d.Gateway.SerialNumber = "" }},
		{"invalid endpoint URL", func(d *types.Device) { d.Gateway.Endpoint = "not a url" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := gatewayDevice()
			tt.mutate(&device)

			_, err := New(device, DefaultOptions(), logger)
			require.Error(t, err)
			var cfgErr *ConfigError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestGatewayIsAnExplicitExtensionPoint(t *testing.T) {
	logger := logrus.New()
	adapter, err := New(gatewayDevice(), DefaultOptions(), logger)
	require.NoError(t, err)

	caps := adapter.Capabilities()
	assert.False(t, caps.FetchRecords)
	assert.False(t, caps.LiveSubscription)

	ctx := context.Background()
	require.NoError(t, adapter.Connect(ctx))
	assert.True(t, adapter.Connected())

	info, err := adapter.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A8N5201360001", info.SerialNumber)

	_, err = adapter.Records(ctx)
	assert.ErrorIs(t, err, ErrNotImplemented)
	_, err = adapter.Users(ctx)
	assert.ErrorIs(t, err, ErrNotImplemented)
	_, err = adapter.SubscribeLive(ctx, func(types.RawRecord) {})
	assert.ErrorIs(t, err, ErrNotImplemented)
}

func TestConfigErrorsAreNotTransient(t *testing.T) {
	assert.False(t, IsTransient(&ConfigError{Reason: "x"}))
	assert.True(t, IsTransient(&TransportError{Op: "read", Err: assert.AnError}))
	assert.True(t, IsTransient(ErrNotConnected))
	assert.False(t, IsTransient(&ProtocolError{Op: "read", Reason: "bad frame"}))
}
