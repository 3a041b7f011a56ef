package services

import (
	"context"
	"math"
	"strconv"

	"hestia/models"

	"go.uber.org/zap"
)

// ActionHandler mutates a device in place for one action value. The
// dispatcher persists and propagates after the handler returns.
type ActionHandler func(device *models.Device, value string) error

// ActionDispatcher applies one device mutation and fans the change out to
// the bus and live clients. Built-in action kinds are dispatched first;
// unknown kinds fall through to the custom-action table, and a fully
// unknown kind is logged and treated as a no-op success.
type ActionDispatcher struct {
	devices   DeviceRepository
	publisher *Publisher
	clients   ClientNotifier
	logger    *zap.Logger
	custom    map[models.ActionKind]ActionHandler
}

func NewActionDispatcher(devices DeviceRepository, publisher *Publisher, clients ClientNotifier, logger *zap.Logger) *ActionDispatcher {
	return &ActionDispatcher{
		devices:   devices,
		publisher: publisher,
		clients:   clients,
		logger:    logger,
		custom:    make(map[models.ActionKind]ActionHandler),
	}
}

// RegisterCustomAction installs a handler for an action kind outside the
// built-in set. Registration happens during bootstrap, before traffic.
func (ad *ActionDispatcher) RegisterCustomAction(kind models.ActionKind, handler ActionHandler) {
	ad.custom[kind] = handler
}

// PerformAction applies the action to the device, persists the mutation
// and then propagates it. A failed publish never rolls back the persisted
// state: the store is the source of truth and fan-out is best-effort.
func (ad *ActionDispatcher) PerformAction(ctx context.Context, device *models.Device, action models.Action) error {
	handler := ad.resolveHandler(action.Kind)
	if handler == nil {
		ad.logger.Warn("Unknown action kind, ignoring",
			zap.String("device_id", device.ID),
			zap.String("kind", string(action.Kind)))
		return nil
	}

	if err := handler(device, action.Value); err != nil {
		return err
	}

	if err := ad.devices.SaveDevice(ctx, device); err != nil {
		return err
	}

	ad.propagate(device)
	return nil
}

func (ad *ActionDispatcher) resolveHandler(kind models.ActionKind) ActionHandler {
	switch kind {
	case models.ActionStatusChange:
		return applyStatusChange
	case models.ActionTemperatureSet:
		return applyTemperatureSet
	case models.ActionBrightnessSet:
		return applyBrightnessSet
	case models.ActionColorChange:
		return applyColorChange
	case models.ActionVolumeSet:
		return applyVolumeSet
	}
	return ad.custom[kind]
}

// propagate pushes the persisted mutation to ESPs and live clients.
func (ad *ActionDispatcher) propagate(device *models.Device) {
	if err := ad.publisher.PublishDeviceState(device); err != nil {
		ad.logger.Warn("Device state publish failed",
			zap.String("device_id", device.ID),
			zap.Error(err))
	}
	if device.RoomID != "" {
		if err := ad.publisher.PublishESPStateUpdate(device.RoomID, device); err != nil {
			ad.logger.Warn("ESP state-update publish failed",
				zap.String("device_id", device.ID),
				zap.String("room_id", device.RoomID),
				zap.Error(err))
		}
	}
	if ad.clients != nil {
		ad.clients.DeviceStateChanged(device)
	}
}

func applyStatusChange(device *models.Device, value string) error {
	if value == "" {
		return models.NewValidationError("status value must not be empty")
	}
	device.Status = value
	return nil
}

func applyTemperatureSet(device *models.Device, value string) error {
	temp, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(temp) || math.IsInf(temp, 0) {
		return models.NewValidationError("temperature %q must be a finite number", value)
	}
	device.TargetTemperature = temp
	return nil
}

func applyBrightnessSet(device *models.Device, value string) error {
	level, err := parsePercent(value)
	if err != nil {
		return models.NewValidationError("brightness %q must be an integer between 0 and 100", value)
	}
	device.Brightness = level
	if level > 0 {
		device.Status = "on"
	} else {
		device.Status = "off"
	}
	return nil
}

func applyColorChange(device *models.Device, value string) error {
	if value == "" {
		return models.NewValidationError("color value must not be empty")
	}
	device.Color = value
	return nil
}

func applyVolumeSet(device *models.Device, value string) error {
	level, err := parsePercent(value)
	if err != nil {
		return models.NewValidationError("volume %q must be an integer between 0 and 100", value)
	}
	device.Volume = level
	return nil
}

func parsePercent(value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > 100 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
