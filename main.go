package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hestia/config"
	"hestia/log"
	"hestia/services"

	"go.uber.org/zap"
)

func main() {
	// Initialize structured logger
	logger := log.GetInstance()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Validate required configuration
	if cfg.FirebaseDbUrl == "" || cfg.FirebaseServiceAccountJSON == "" {
		logger.Fatal("Firebase configuration is required")
	}

	// Initialize store
	firebaseService, err := services.NewFirebaseService(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize Firebase service", zap.Error(err))
	}
	defer firebaseService.Close()

	// Initialize bus transport
	mqttService, err := services.NewMQTTService(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(err))
	}

	// Notification channels
	var queueChannel services.NotificationChannel
	if cfg.RabbitMQURL != "" {
		rabbitService, err := services.NewRabbitMQService(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize RabbitMQ service", zap.Error(err))
		}
		defer rabbitService.Close()
		queueChannel = rabbitService
	}

	notifier := services.NewNotificationService(queueChannel, logger)

	var telegramService *services.TelegramService
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		telegramService, err = services.NewTelegramService(cfg)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram service", zap.Error(err))
		}
		notifier.RegisterChannel(telegramService)
	}

	// Core wiring
	clock := services.NewRealClock()
	clients := services.NewLoggingClientNotifier(logger)
	registry := services.NewESPRegistry()
	publisher := services.NewPublisher(mqttService, cfg.TopicPrefix, cfg.MaxDeviceOrder, logger)
	recurrence := services.NewRecurrenceCalculator()
	conditions := services.NewConditionEvaluator(firebaseService, services.StubPresenceChecker{}, logger)
	dispatcher := services.NewActionDispatcher(firebaseService, publisher, clients, logger)
	executor := services.NewTaskExecutor(
		firebaseService,
		firebaseService,
		conditions,
		dispatcher,
		recurrence,
		publisher,
		notifier,
		clients,
		clock,
		logger,
	)
	scheduler := services.NewScheduler(
		firebaseService,
		executor,
		recurrence,
		notifier,
		clock,
		time.Duration(cfg.ReconcileIntervalSeconds)*time.Second,
		logger,
	)
	router := services.NewTopicRouter(
		cfg.TopicPrefix,
		cfg.MaxDeviceOrder,
		firebaseService,
		firebaseService,
		registry,
		publisher,
		clients,
		logger,
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := router.Start(mqttService); err != nil {
		logger.Fatal("Failed to subscribe to bus topics", zap.Error(err))
	}
	scheduler.Start(ctx)

	// Send startup notification
	if telegramService != nil {
		if err := telegramService.SendStartupMessage(); err != nil {
			logger.Warn("Failed to send startup message", zap.Error(err))
		}
	}

	logger.Info("Hestia Automation Service started",
		zap.String("broker", cfg.MQTTBroker),
		zap.String("topic_prefix", cfg.TopicPrefix),
		zap.Int("max_device_order", cfg.MaxDeviceOrder),
		zap.Int("reconcile_interval_seconds", cfg.ReconcileIntervalSeconds),
	)

	// Periodic registry statistics for observability
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := registry.Stats()
				logger.Info("ESP registry statistics",
					zap.Int("esp_count", stats.ESPCount),
					zap.Int("connected_rooms", stats.ConnectedRooms),
					zap.Int("total_connections", stats.TotalConnections))
			}
		}
	}()

	// Set up graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutdown signal received, stopping services")

	cancel()
	scheduler.Stop()
	mqttService.Close()

	// Give in-flight executions a moment to finish
	time.Sleep(2 * time.Second)

	logger.Info("Hestia Automation Service stopped")
}
