package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hestia/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var (
	espID       = flag.String("esp", "ESP32-SIM-001", "ESP identity for the simulated peripheral")
	roomID      = flag.String("room", "", "Room ID to authenticate against (required)")
	roomPass    = flag.String("pass", "", "Room password, if the room has one set")
	interval    = flag.Duration("interval", 5*time.Second, "Delay between compact state flips")
	maxOrder    = flag.Int("max-order", 6, "Highest device order to toggle")
	mqttBroker  = flag.String("broker", "tcp://localhost:1883", "MQTT broker address")
	mqttUser    = flag.String("user", "", "MQTT username")
	mqttPass    = flag.String("mqtt-pass", "", "MQTT password")
	topicPrefix = flag.String("prefix", "home-automation", "Bus topic prefix")
)

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if *roomID == "" {
		logger.Fatal("-room is required")
	}

	logger.Info("ESP simulator started",
		zap.String("esp_id", *espID),
		zap.String("room_id", *roomID),
		zap.Duration("interval", *interval),
		zap.String("broker", *mqttBroker),
	)

	// Initialize MQTT client (simulating the peripheral firmware)
	opts := mqtt.NewClientOptions()
	opts.AddBroker(*mqttBroker)
	opts.SetClientID(fmt.Sprintf("%s-sim", *espID))
	if *mqttUser != "" {
		opts.SetUsername(*mqttUser)
		opts.SetPassword(*mqttPass)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", *mqttBroker))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(token.Error()))
	}
	defer client.Disconnect(250)

	authenticated := make(chan models.ESPAuthResponse, 1)

	// Listen for the server's responses the way firmware would.
	subscribe(client, logger, fmt.Sprintf("%s/esp/%s/auth/response", *topicPrefix, *espID), func(payload []byte) {
		var resp models.ESPAuthResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			logger.Error("Bad auth response", zap.Error(err))
			return
		}
		if resp.Success {
			logger.Info("Authenticated to room",
				zap.String("room_name", resp.RoomName),
				zap.Int("device_count", len(resp.AvailableDevices)))
			for _, entry := range resp.AvailableDevices {
				logger.Info("Roster device",
					zap.Int("order", entry.Order),
					zap.String("name", entry.DeviceName),
					zap.String("state", entry.CurrentState))
			}
			select {
			case authenticated <- resp:
			default:
			}
		} else {
			logger.Error("Auth rejected", zap.String("error", resp.Error))
		}
	})

	subscribe(client, logger, fmt.Sprintf("%s/esp/%s/compact-state/response", *topicPrefix, *espID), func(payload []byte) {
		var resp models.CompactStateResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			logger.Error("Bad compact response", zap.Error(err))
			return
		}
		if resp.Success {
			logger.Info("Compact state acknowledged",
				zap.Int("order", resp.DeviceOrder),
				zap.String("device", resp.DeviceName),
				zap.String("state", resp.NewState))
		} else {
			logger.Warn("Compact state rejected", zap.String("error", resp.Error))
		}
	})

	subscribe(client, logger, fmt.Sprintf("%s/esp/room/%s/bulk-update", *topicPrefix, *roomID), func(payload []byte) {
		var update models.ESPBulkUpdate
		if err := json.Unmarshal(payload, &update); err != nil {
			return
		}
		logger.Info("Room bulk update received", zap.Int("device_count", len(update.Updates)))
	})

	subscribe(client, logger, fmt.Sprintf("%s/esp/room/%s/state-update", *topicPrefix, *roomID), func(payload []byte) {
		var update models.ESPStateUpdate
		if err := json.Unmarshal(payload, &update); err != nil {
			return
		}
		logger.Info("Room state update received",
			zap.Int("order", update.DeviceOrder),
			zap.String("compact", update.CompactState))
	})

	// Authenticate
	authPayload, _ := json.Marshal(models.ESPAuthRequest{
		RoomID:       *roomID,
		RoomPassword: *roomPass,
	})
	authTopic := fmt.Sprintf("%s/esp/%s/auth", *topicPrefix, *espID)
	if token := client.Publish(authTopic, 1, false, authPayload); token.Wait() && token.Error() != nil {
		logger.Fatal("Failed to publish auth request", zap.Error(token.Error()))
	}

	var roster []models.ESPRosterEntry
	select {
	case resp := <-authenticated:
		roster = resp.AvailableDevices
	case <-time.After(10 * time.Second):
		logger.Fatal("Timed out waiting for auth response")
	}
	if len(roster) == 0 {
		logger.Fatal("Room has no devices in the compact roster")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping simulator")

		// Announce disconnect like well-behaved firmware
		disconnectTopic := fmt.Sprintf("%s/esp/%s/disconnect", *topicPrefix, *espID)
		if token := client.Publish(disconnectTopic, 1, false, []byte{}); token.Wait() && token.Error() != nil {
			logger.Warn("Failed to publish disconnect", zap.Error(token.Error()))
		}
		cancel()
	}()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	sent := 0
	compactTopic := fmt.Sprintf("%s/esp/%s/compact-state", *topicPrefix, *espID)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Simulator stopped", zap.Int("messages_sent", sent))
			return

		case <-ticker.C:
			entry := roster[rand.Intn(len(roster))]
			if entry.Order > *maxOrder {
				continue
			}
			token := models.EncodeCompactState(entry.Order, rand.Intn(2) == 1)

			if t := client.Publish(compactTopic, 1, false, []byte(token)); t.Wait() && t.Error() != nil {
				logger.Error("Failed to publish compact state", zap.Error(t.Error()))
				continue
			}
			sent++
			logger.Debug("Published compact state",
				zap.String("token", token),
				zap.Int("sent", sent))
		}
	}
}

func subscribe(client mqtt.Client, logger *zap.Logger, topic string, handle func([]byte)) {
	token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		handle(msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		logger.Fatal("Failed to subscribe", zap.String("topic", topic), zap.Error(token.Error()))
	}
}
