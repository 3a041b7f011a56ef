package services

import (
	"encoding/json"
	"fmt"
	"time"

	"hestia/models"

	"go.uber.org/zap"
)

// Bus is the minimal topic-addressed publish surface the core needs from
// the transport. Delivery is at-least-once at the requested QoS; the core
// never retries a failed publish itself.
type Bus interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

const defaultQoS byte = 1

// Publisher composes and emits every outbound bus message. Publishes are
// best-effort fan-out: a failure is logged and returned, never rolled
// back into store state.
type Publisher struct {
	bus      Bus
	prefix   string
	maxOrder int
	logger   *zap.Logger
}

func NewPublisher(bus Bus, topicPrefix string, maxDeviceOrder int, logger *zap.Logger) *Publisher {
	return &Publisher{
		bus:      bus,
		prefix:   topicPrefix,
		maxOrder: maxDeviceOrder,
		logger:   logger,
	}
}

// inRoster reports whether a device occupies a compact roster slot. A
// device outside [1, maxOrder] has no 2-character token and must never
// reach an ESP topic.
func (p *Publisher) inRoster(device *models.Device) bool {
	return device.Order >= 1 && device.Order <= p.maxOrder
}

func (p *Publisher) publishJSON(topic string, qos byte, retained bool, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", topic, err)
	}
	if err := p.bus.Publish(topic, qos, retained, payload); err != nil {
		p.logger.Error("Failed to publish message",
			zap.String("topic", topic),
			zap.Error(err))
		return err
	}
	p.logger.Debug("Published message", zap.String("topic", topic))
	return nil
}

// PublishDeviceState emits a device's current state, retained so late
// subscribers converge immediately.
func (p *Publisher) PublishDeviceState(device *models.Device) error {
	topic := fmt.Sprintf("%s/%s/state", p.prefix, device.ID)
	return p.publishJSON(topic, defaultQoS, true, models.DeviceStatePayload{
		State:     device.Status,
		Timestamp: time.Now(),
	})
}

// PublishRoomState emits a room-level bulk state message.
func (p *Publisher) PublishRoomState(roomID string, devices []*models.Device) error {
	updates := make([]models.RoomDeviceUpdate, 0, len(devices))
	for _, device := range devices {
		updates = append(updates, models.RoomDeviceUpdate{
			DeviceID: device.ID,
			State:    device.Status,
		})
	}
	topic := fmt.Sprintf("%s/room/%s/state", p.prefix, roomID)
	return p.publishJSON(topic, defaultQoS, false, models.RoomStatePayload{
		Updates:   updates,
		Timestamp: time.Now(),
	})
}

// PublishTaskStatus emits a task execution outcome on the device's task
// topic.
func (p *Publisher) PublishTaskStatus(task *models.Task, status, message string) error {
	topic := fmt.Sprintf("%s/%s/task", p.prefix, task.DeviceID)
	return p.publishJSON(topic, defaultQoS, false, models.TaskStatusMessage{
		TaskID:    task.ID,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// PublishAuthResponse answers an ESP auth attempt.
func (p *Publisher) PublishAuthResponse(espID string, resp models.ESPAuthResponse) error {
	topic := fmt.Sprintf("%s/esp/%s/auth/response", p.prefix, espID)
	return p.publishJSON(topic, defaultQoS, false, resp)
}

// PublishCompactResponse answers an ESP compact-state message.
func (p *Publisher) PublishCompactResponse(espID string, resp models.CompactStateResponse) error {
	topic := fmt.Sprintf("%s/esp/%s/compact-state/response", p.prefix, espID)
	return p.publishJSON(topic, defaultQoS, false, resp)
}

// PublishESPStateUpdate pushes one device change to a room's ESPs in the
// compact format they ingest. Devices without a roster slot are skipped.
func (p *Publisher) PublishESPStateUpdate(roomID string, device *models.Device) error {
	if !p.inRoster(device) {
		p.logger.Debug("Device outside compact roster, skipping ESP state update",
			zap.String("device_id", device.ID),
			zap.Int("order", device.Order))
		return nil
	}

	topic := fmt.Sprintf("%s/esp/room/%s/state-update", p.prefix, roomID)
	return p.publishJSON(topic, defaultQoS, false, models.ESPStateUpdate{
		DeviceID:     device.ID,
		DeviceOrder:  device.Order,
		State:        device.Status,
		CompactState: models.EncodeCompactState(device.Order, device.IsOn()),
		Timestamp:    time.Now(),
	})
}

// PublishESPBulkUpdate pushes a whole-roster refresh to a room's ESPs.
// Only devices with a roster slot are included.
func (p *Publisher) PublishESPBulkUpdate(roomID string, devices []*models.Device) error {
	updates := make([]models.ESPBulkEntry, 0, len(devices))
	for _, device := range devices {
		if !p.inRoster(device) {
			continue
		}
		updates = append(updates, models.ESPBulkEntry{
			DeviceID:     device.ID,
			DeviceOrder:  device.Order,
			State:        device.Status,
			CompactState: models.EncodeCompactState(device.Order, device.IsOn()),
		})
	}
	topic := fmt.Sprintf("%s/esp/room/%s/bulk-update", p.prefix, roomID)
	return p.publishJSON(topic, defaultQoS, false, models.ESPBulkUpdate{
		RoomID:    roomID,
		Updates:   updates,
		Timestamp: time.Now(),
	})
}

// PublishESPTaskUpdate informs a room's ESPs about a task outcome against
// one of their devices.
func (p *Publisher) PublishESPTaskUpdate(roomID string, update models.ESPTaskUpdate) error {
	update.Timestamp = time.Now()
	topic := fmt.Sprintf("%s/esp/room/%s/task-update", p.prefix, roomID)
	return p.publishJSON(topic, defaultQoS, false, update)
}
