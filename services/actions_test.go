package services

import (
	"context"
	"errors"
	"testing"

	"hestia/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDispatcher(repo *fakeDeviceRepo, bus *fakeBus, clients *fakeClients) *ActionDispatcher {
	publisher := NewPublisher(bus, "home-automation", 6, zap.NewNop())
	return NewActionDispatcher(repo, publisher, clients, zap.NewNop())
}

func TestPerformActionStatusChange(t *testing.T) {
	repo := newFakeDeviceRepo(&models.Device{ID: "lamp-1", RoomID: "room-1", Order: 1, Status: "off"})
	bus := &fakeBus{}
	clients := &fakeClients{}
	ad := newTestDispatcher(repo, bus, clients)

	device, err := repo.GetDevice(context.Background(), "lamp-1")
	require.NoError(t, err)

	err = ad.PerformAction(context.Background(), device, models.Action{
		Kind:  models.ActionStatusChange,
		Value: "on",
	})
	require.NoError(t, err)

	saved, err := repo.GetDevice(context.Background(), "lamp-1")
	require.NoError(t, err)
	assert.Equal(t, "on", saved.Status)

	// State is published retained on the device topic and echoed to the
	// room's ESPs.
	stateMsgs := bus.byTopic("home-automation/lamp-1/state")
	require.Len(t, stateMsgs, 1)
	assert.True(t, stateMsgs[0].retained)
	assert.Equal(t, byte(1), stateMsgs[0].qos)
	assert.Len(t, bus.byTopic("home-automation/esp/room/room-1/state-update"), 1)
	assert.Equal(t, []string{"lamp-1"}, clients.deviceCalls)
}

func TestPerformActionTemperatureSet(t *testing.T) {
	repo := newFakeDeviceRepo(&models.Device{ID: "thermo-1", Type: models.DeviceThermostat})
	ad := newTestDispatcher(repo, &fakeBus{}, &fakeClients{})

	device, _ := repo.GetDevice(context.Background(), "thermo-1")
	require.NoError(t, ad.PerformAction(context.Background(), device, models.Action{
		Kind:  models.ActionTemperatureSet,
		Value: "22.5",
	}))

	saved, _ := repo.GetDevice(context.Background(), "thermo-1")
	assert.Equal(t, 22.5, saved.TargetTemperature)
}

func TestPerformActionBrightnessSetDrivesStatus(t *testing.T) {
	repo := newFakeDeviceRepo(&models.Device{ID: "lamp-1", Type: models.DeviceLight, Status: "off"})
	ad := newTestDispatcher(repo, &fakeBus{}, &fakeClients{})

	device, _ := repo.GetDevice(context.Background(), "lamp-1")
	require.NoError(t, ad.PerformAction(context.Background(), device, models.Action{
		Kind:  models.ActionBrightnessSet,
		Value: "60",
	}))
	saved, _ := repo.GetDevice(context.Background(), "lamp-1")
	assert.Equal(t, 60, saved.Brightness)
	assert.Equal(t, "on", saved.Status)

	require.NoError(t, ad.PerformAction(context.Background(), saved, models.Action{
		Kind:  models.ActionBrightnessSet,
		Value: "0",
	}))
	saved, _ = repo.GetDevice(context.Background(), "lamp-1")
	assert.Equal(t, 0, saved.Brightness)
	assert.Equal(t, "off", saved.Status)
}

func TestPerformActionRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		action models.Action
	}{
		{"empty status", models.Action{Kind: models.ActionStatusChange, Value: ""}},
		{"non-numeric temperature", models.Action{Kind: models.ActionTemperatureSet, Value: "warm"}},
		{"NaN temperature", models.Action{Kind: models.ActionTemperatureSet, Value: "NaN"}},
		{"brightness above range", models.Action{Kind: models.ActionBrightnessSet, Value: "150"}},
		{"negative brightness", models.Action{Kind: models.ActionBrightnessSet, Value: "-5"}},
		{"empty color", models.Action{Kind: models.ActionColorChange, Value: ""}},
		{"volume above range", models.Action{Kind: models.ActionVolumeSet, Value: "101"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeDeviceRepo(&models.Device{ID: "dev-1", Status: "off"})
			bus := &fakeBus{}
			ad := newTestDispatcher(repo, bus, &fakeClients{})

			device, _ := repo.GetDevice(context.Background(), "dev-1")
			err := ad.PerformAction(context.Background(), device, tt.action)
			require.Error(t, err)

			var verr *models.ValidationError
			assert.True(t, errors.As(err, &verr), "expected ValidationError, got %T", err)

			// Nothing persisted, nothing published.
			saved, _ := repo.GetDevice(context.Background(), "dev-1")
			assert.Equal(t, "off", saved.Status)
			assert.Empty(t, bus.messages)
		})
	}
}

func TestPerformActionUnknownKindIsNoOp(t *testing.T) {
	repo := newFakeDeviceRepo(&models.Device{ID: "dev-1", Status: "off"})
	bus := &fakeBus{}
	ad := newTestDispatcher(repo, bus, &fakeClients{})

	device, _ := repo.GetDevice(context.Background(), "dev-1")
	err := ad.PerformAction(context.Background(), device, models.Action{
		Kind:  models.ActionKind("teleport"),
		Value: "somewhere",
	})
	require.NoError(t, err)
	assert.Empty(t, bus.messages)
}

func TestPerformActionCustomHandler(t *testing.T) {
	repo := newFakeDeviceRepo(&models.Device{ID: "dev-1"})
	ad := newTestDispatcher(repo, &fakeBus{}, &fakeClients{})

	ad.RegisterCustomAction(models.ActionOther, func(device *models.Device, value string) error {
		device.Color = value
		return nil
	})

	device, _ := repo.GetDevice(context.Background(), "dev-1")
	require.NoError(t, ad.PerformAction(context.Background(), device, models.Action{
		Kind:  models.ActionOther,
		Value: "#ff8800",
	}))

	saved, _ := repo.GetDevice(context.Background(), "dev-1")
	assert.Equal(t, "#ff8800", saved.Color)
}
