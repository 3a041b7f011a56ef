package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"hestia/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// BusSubscriber is the subscribe surface the router needs from the
// transport.
type BusSubscriber interface {
	Subscribe(filter string, qos byte, handler mqtt.MessageHandler) error
}

type route struct {
	pattern string
	handle  func(ctx context.Context, id string, payload []byte) error
}

// TopicRouter classifies inbound bus messages by topic shape and
// dispatches them to the device, room and ESP handlers. A handler error
// is logged and never stops subsequent messages: no back-pressure, no
// retry of a failed inbound message.
type TopicRouter struct {
	devices        DeviceRepository
	rooms          RoomRepository
	registry       *ESPRegistry
	publisher      *Publisher
	clients        ClientNotifier
	logger         *zap.Logger
	maxDeviceOrder int
	routes         []route
}

func NewTopicRouter(
	topicPrefix string,
	maxDeviceOrder int,
	devices DeviceRepository,
	rooms RoomRepository,
	registry *ESPRegistry,
	publisher *Publisher,
	clients ClientNotifier,
	logger *zap.Logger,
) *TopicRouter {
	r := &TopicRouter{
		devices:        devices,
		rooms:          rooms,
		registry:       registry,
		publisher:      publisher,
		clients:        clients,
		logger:         logger,
		maxDeviceOrder: maxDeviceOrder,
	}

	// Shape matching is ordered most-specific first: the esp/ and room/
	// shapes would otherwise be swallowed by the single-level device
	// wildcards.
	r.routes = []route{
		{topicPrefix + "/esp/+/auth", r.handleESPAuth},
		{topicPrefix + "/esp/+/compact-state", r.handleESPCompactState},
		{topicPrefix + "/esp/+/disconnect", r.handleESPDisconnect},
		{topicPrefix + "/room/+/state", r.handleRoomState},
		{topicPrefix + "/+/state", r.handleDeviceState},
		{topicPrefix + "/+/status", r.handleDeviceStatus},
	}

	return r
}

// Start subscribes every routed pattern on the bus.
func (r *TopicRouter) Start(bus BusSubscriber) error {
	for _, rt := range r.routes {
		if err := bus.Subscribe(rt.pattern, defaultQoS, r.onMessage); err != nil {
			return err
		}
	}
	return nil
}

func (r *TopicRouter) onMessage(_ mqtt.Client, msg mqtt.Message) {
	r.Route(msg.Topic(), msg.Payload())
}

// Route dispatches one inbound message to the first shape that matches
// its topic.
func (r *TopicRouter) Route(topic string, payload []byte) {
	for _, rt := range r.routes {
		id, ok := matchTopic(rt.pattern, topic)
		if !ok {
			continue
		}
		if err := rt.handle(context.Background(), id, payload); err != nil {
			r.logger.Error("Inbound message handler failed",
				zap.String("topic", topic),
				zap.Error(err))
		}
		return
	}
	r.logger.Debug("Unrouted message", zap.String("topic", topic))
}

// matchTopic matches a topic against a filter where '+' matches exactly
// one segment and '#' the remainder. It returns the first wildcard
// segment, which is the identity of every subscribed shape.
func matchTopic(pattern, topic string) (string, bool) {
	patternParts := strings.Split(pattern, "/")
	topicParts := strings.Split(topic, "/")

	id := ""
	for i, part := range patternParts {
		if part == "#" {
			return id, true
		}
		if i >= len(topicParts) {
			return "", false
		}
		if part == "+" {
			if id == "" {
				id = topicParts[i]
			}
			continue
		}
		if part != topicParts[i] {
			return "", false
		}
	}
	return id, len(patternParts) == len(topicParts)
}

// parseStatePayload reads {state: ...} JSON; unparseable payloads are
// treated as a bare state string.
func parseStatePayload(payload []byte) string {
	var parsed models.DeviceStatePayload
	if err := json.Unmarshal(payload, &parsed); err == nil && parsed.State != "" {
		return parsed.State
	}
	return strings.TrimSpace(string(payload))
}

// handleDeviceState applies a device-originated state change and echoes
// it to the device's room roster.
func (r *TopicRouter) handleDeviceState(ctx context.Context, deviceID string, payload []byte) error {
	state := parseStatePayload(payload)
	if state == "" {
		return models.NewValidationError("empty state payload for device %s", deviceID)
	}

	device, err := r.devices.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.logger.Warn("State update for unknown device", zap.String("device_id", deviceID))
			return nil
		}
		return err
	}

	device.Status = state
	if err := r.devices.SaveDevice(ctx, device); err != nil {
		return err
	}

	if r.clients != nil {
		r.clients.DeviceStateChanged(device)
	}
	if device.RoomID != "" {
		if err := r.publisher.PublishESPStateUpdate(device.RoomID, device); err != nil {
			r.logger.Warn("ESP echo publish failed",
				zap.String("device_id", deviceID),
				zap.Error(err))
		}
	}

	r.logger.Debug("Device state updated",
		zap.String("device_id", deviceID),
		zap.String("state", state))
	return nil
}

// handleDeviceStatus applies an online/offline transition.
func (r *TopicRouter) handleDeviceStatus(ctx context.Context, deviceID string, payload []byte) error {
	var parsed models.DeviceStatusPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		parsed.Status = strings.TrimSpace(string(payload))
	}
	if parsed.Status != "online" && parsed.Status != "offline" {
		return models.NewValidationError("invalid device status %q", parsed.Status)
	}

	device, err := r.devices.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.logger.Warn("Status update for unknown device", zap.String("device_id", deviceID))
			return nil
		}
		return err
	}

	device.Status = parsed.Status
	if err := r.devices.SaveDevice(ctx, device); err != nil {
		return err
	}
	if r.clients != nil {
		r.clients.DeviceStateChanged(device)
	}
	return nil
}

// handleRoomState applies a room-level bulk update and pushes the
// refreshed roster to the room's ESPs.
func (r *TopicRouter) handleRoomState(ctx context.Context, roomID string, payload []byte) error {
	var parsed models.RoomStatePayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return models.NewValidationError("invalid room state payload: %v", err)
	}

	for _, update := range parsed.Updates {
		device, err := r.devices.GetDevice(ctx, update.DeviceID)
		if err != nil {
			r.logger.Warn("Bulk update references unknown device",
				zap.String("room_id", roomID),
				zap.String("device_id", update.DeviceID),
				zap.Error(err))
			continue
		}
		device.Status = update.State
		if err := r.devices.SaveDevice(ctx, device); err != nil {
			r.logger.Error("Failed to persist bulk device update",
				zap.String("device_id", update.DeviceID),
				zap.Error(err))
			continue
		}
		if r.clients != nil {
			r.clients.DeviceStateChanged(device)
		}
	}

	devices, err := r.devices.ListRoomDevices(ctx, roomID)
	if err != nil {
		return err
	}
	return r.publisher.PublishESPBulkUpdate(roomID, devices)
}

// handleESPAuth authenticates a peripheral to a room via the shared room
// secret and answers with the ordered device roster.
func (r *TopicRouter) handleESPAuth(ctx context.Context, espID string, payload []byte) error {
	reject := func(reason string) error {
		r.logger.Info("ESP auth rejected",
			zap.String("esp_id", espID),
			zap.String("reason", reason))
		return r.publisher.PublishAuthResponse(espID, models.ESPAuthResponse{
			Success: false,
			Error:   reason,
		})
	}

	var req models.ESPAuthRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return reject("invalid auth payload")
	}
	if req.RoomID == "" {
		return reject("roomId is required")
	}

	room, err := r.rooms.GetRoom(ctx, req.RoomID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return reject(fmt.Sprintf("room %s not found", req.RoomID))
		}
		return err
	}

	// An unset room password admits any peripheral; a set one must match.
	if room.Password != "" && room.Password != req.RoomPassword {
		return reject("invalid room password")
	}

	devices, err := r.devices.ListRoomDevices(ctx, room.ID)
	if err != nil {
		return err
	}

	roster := make([]models.ESPRosterEntry, 0, len(devices))
	for _, device := range devices {
		if device.Order < 1 || device.Order > r.maxDeviceOrder {
			continue
		}
		roster = append(roster, models.ESPRosterEntry{
			Order:        device.Order,
			DeviceID:     device.ID,
			DeviceName:   device.Name,
			CurrentState: device.Status,
		})
	}

	r.registry.Register(&ESPMapping{
		ESPID:           espID,
		RoomID:          room.ID,
		RoomName:        room.Name,
		AuthenticatedAt: time.Now(),
		Roster:          roster,
	})

	if err := r.rooms.SetRoomESPConnected(ctx, room.ID, true); err != nil {
		r.logger.Error("Failed to flip room ESP flag",
			zap.String("room_id", room.ID),
			zap.Error(err))
	}
	if r.clients != nil {
		r.clients.RoomESPConnectionChanged(room.ID, true)
	}

	r.logger.Info("ESP authenticated",
		zap.String("esp_id", espID),
		zap.String("room_id", room.ID),
		zap.Int("device_count", len(roster)))

	return r.publisher.PublishAuthResponse(espID, models.ESPAuthResponse{
		Success:          true,
		RoomID:           room.ID,
		RoomName:         room.Name,
		AvailableDevices: roster,
	})
}

// handleESPCompactState resolves a 2-character state token against the
// ESP's authenticated roster and applies the device mutation.
func (r *TopicRouter) handleESPCompactState(ctx context.Context, espID string, payload []byte) error {
	fail := func(reason string) error {
		return r.publisher.PublishCompactResponse(espID, models.CompactStateResponse{
			Success: false,
			Error:   reason,
		})
	}

	token := strings.TrimSpace(string(payload))
	var parsed models.CompactStatePayload
	if err := json.Unmarshal(payload, &parsed); err == nil && parsed.CompactState != "" {
		token = parsed.CompactState
	}

	mapping, ok := r.registry.Get(espID)
	if !ok {
		return fail("ESP not authenticated, send auth message first")
	}

	order, on, err := models.DecodeCompactState(token, r.maxDeviceOrder)
	if err != nil {
		return fail(err.Error())
	}

	var deviceID string
	for _, entry := range mapping.Roster {
		if entry.Order == order {
			deviceID = entry.DeviceID
			break
		}
	}
	if deviceID == "" {
		return fail(fmt.Sprintf("no device at order %d in room %s", order, mapping.RoomID))
	}

	device, err := r.devices.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fail(fmt.Sprintf("device at order %d no longer exists", order))
		}
		return err
	}

	newState := "off"
	if on {
		newState = "on"
	}
	device.Status = newState
	if err := r.devices.SaveDevice(ctx, device); err != nil {
		return err
	}

	// Keep the cached roster state in step with the store.
	for i := range mapping.Roster {
		if mapping.Roster[i].Order == order {
			mapping.Roster[i].CurrentState = newState
		}
	}
	r.registry.UpdateRoster(espID, mapping.Roster)

	if r.clients != nil {
		r.clients.DeviceStateChanged(device)
	}

	r.logger.Debug("Compact state applied",
		zap.String("esp_id", espID),
		zap.Int("order", order),
		zap.String("state", newState))

	return r.publisher.PublishCompactResponse(espID, models.CompactStateResponse{
		Success:     true,
		DeviceOrder: order,
		NewState:    newState,
		DeviceName:  device.Name,
		DeviceID:    device.ID,
	})
}

// handleESPDisconnect drops the peripheral's mapping; removing a room's
// last ESP flips the room's connected flag exactly once.
func (r *TopicRouter) handleESPDisconnect(ctx context.Context, espID string, _ []byte) error {
	roomID, roomEmpty, existed := r.registry.Remove(espID)
	if !existed {
		return nil
	}

	r.logger.Info("ESP disconnected",
		zap.String("esp_id", espID),
		zap.String("room_id", roomID))

	if roomEmpty {
		if err := r.rooms.SetRoomESPConnected(ctx, roomID, false); err != nil {
			r.logger.Error("Failed to clear room ESP flag",
				zap.String("room_id", roomID),
				zap.Error(err))
		}
		if r.clients != nil {
			r.clients.RoomESPConnectionChanged(roomID, false)
		}
	}
	return nil
}
