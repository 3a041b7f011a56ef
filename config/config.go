package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	// MQTT broker (the device bus)
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string
	TopicPrefix  string

	// Firebase Realtime Database (task/device/room/user store)
	FirebaseDbUrl              string
	FirebaseServiceAccountJSON string

	// Telegram notification channel
	TelegramBotToken string
	TelegramChatID   string

	// RabbitMQ notification job queue
	RabbitMQURL      string
	RabbitMQExchange string
	RabbitMQQueue    string

	// Scheduler behaviour
	DefaultTimezone          string
	ReconcileIntervalSeconds int

	// Compact protocol bound: highest device order an ESP roster may carry.
	// Must stay a single digit so the compact token stays 2 characters.
	MaxDeviceOrder int
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := &Config{
		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "hestia-core"),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),
		TopicPrefix:  getEnv("TOPIC_PREFIX", "home-automation"),

		FirebaseDbUrl:              getEnv("FIREBASE_DB_URL", ""),
		FirebaseServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange: getEnv("RABBITMQ_EXCHANGE", "hestia.notifications"),
		RabbitMQQueue:    getEnv("RABBITMQ_QUEUE", "notification_jobs"),

		DefaultTimezone:          getEnv("DEFAULT_TIMEZONE", "UTC"),
		ReconcileIntervalSeconds: getEnvInt("RECONCILE_INTERVAL_SECONDS", 60),

		MaxDeviceOrder: getEnvInt("MAX_DEVICE_ORDER", 6),
	}

	if config.MaxDeviceOrder < 1 || config.MaxDeviceOrder > 9 {
		return nil, fmt.Errorf("MAX_DEVICE_ORDER must be between 1 and 9, got %d", config.MaxDeviceOrder)
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err == nil {
			return n
		}
	}
	return defaultValue
}
