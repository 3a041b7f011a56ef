package services

import (
	"fmt"
	"sync"
	"time"

	"hestia/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// subscription remembers what was subscribed so it can be replayed after
// a reconnect at its original QoS.
type subscription struct {
	qos     byte
	handler mqtt.MessageHandler
}

// MQTTService owns the broker connection. It implements Bus for the
// Publisher and re-establishes subscriptions after a reconnect.
type MQTTService struct {
	config *config.Config
	client mqtt.Client
	logger *zap.Logger

	mu            sync.Mutex
	subscriptions map[string]subscription
}

func NewMQTTService(cfg *config.Config, logger *zap.Logger) (*MQTTService, error) {
	service := &MQTTService{
		config:        cfg,
		logger:        logger,
		subscriptions: make(map[string]subscription),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.MQTTClientID)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker",
			zap.String("broker", cfg.MQTTBroker))
		service.resubscribe()
	}

	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	service.client = mqtt.NewClient(opts)

	if err := service.connect(); err != nil {
		return nil, err
	}

	return service, nil
}

// connect dials the broker with retry.
func (m *MQTTService) connect() error {
	maxRetries := 5
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		token := m.client.Connect()
		token.Wait()
		err = token.Error()
		if err == nil {
			return nil
		}

		m.logger.Warn("Failed to connect to MQTT broker",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to MQTT broker after %d attempts: %w", maxRetries, err)
}

// Publish sends one message at the requested QoS. Implements Bus.
func (m *MQTTService) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := m.client.Publish(topic, qos, retained, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}
	return nil
}

// Subscribe registers a handler for a topic filter. The subscription is
// remembered and replayed whenever the connection is re-established.
func (m *MQTTService) Subscribe(filter string, qos byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	m.subscriptions[filter] = subscription{qos: qos, handler: handler}
	m.mu.Unlock()

	token := m.client.Subscribe(filter, qos, handler)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", filter, token.Error())
	}

	m.logger.Info("Subscribed to topic", zap.String("filter", filter))
	return nil
}

func (m *MQTTService) resubscribe() {
	m.mu.Lock()
	filters := make(map[string]subscription, len(m.subscriptions))
	for filter, sub := range m.subscriptions {
		filters[filter] = sub
	}
	m.mu.Unlock()

	for filter, sub := range filters {
		token := m.client.Subscribe(filter, sub.qos, sub.handler)
		if token.Wait() && token.Error() != nil {
			m.logger.Error("Failed to restore subscription",
				zap.String("filter", filter),
				zap.Error(token.Error()))
		}
	}
}

// Close disconnects from the broker gracefully.
func (m *MQTTService) Close() {
	m.logger.Info("Disconnecting from MQTT broker")
	m.client.Disconnect(250)
}
