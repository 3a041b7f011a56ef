package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"hestia/config"
	"hestia/log"
	"hestia/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramService is the directly-implemented notification channel.
type TelegramService struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	config *config.Config
	logger *zap.Logger

	mu            sync.Mutex
	lastSendTimes map[string]time.Time // Track last notification time per task
}

func NewTelegramService(cfg *config.Config) (*TelegramService, error) {
	logger := log.GetInstance()
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %v", err)
	}

	chatID, err := strconv.ParseInt(cfg.TelegramChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing chat ID: %v", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	ts := &TelegramService{
		bot:           bot,
		chatID:        chatID,
		config:        cfg,
		logger:        logger,
		lastSendTimes: make(map[string]time.Time),
	}

	if err := ts.testConnection(); err != nil {
		logger.Error("Telegram connection test failed", zap.Error(err))
		return nil, fmt.Errorf("telegram connection test failed: %v", err)
	}

	return ts, nil
}

// testConnection tests Telegram connection with retry logic
func (ts *TelegramService) testConnection() error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		ts.logger.Info("Testing Telegram connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		_, err := ts.bot.GetMe()
		if err == nil {
			ts.logger.Info("Telegram connection successful")
			return nil
		}

		ts.logger.Warn("Telegram connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second) // Exponential backoff
		}
	}

	return fmt.Errorf("failed to connect to Telegram after %d attempts", maxRetries)
}

// Name implements NotificationChannel.
func (ts *TelegramService) Name() string { return "telegram" }

// Send delivers one notification job to the configured chat. Repeated
// notifications for the same task within 15 seconds are throttled.
func (ts *TelegramService) Send(ctx context.Context, job *models.NotificationJob) error {
	if ts.shouldThrottle(job.TaskID) {
		ts.logger.Debug("Throttling telegram notification", zap.String("task_id", job.TaskID))
		return nil
	}

	msg := tgbotapi.NewMessage(ts.chatID, ts.formatJobMessage(job))
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	if _, err := ts.bot.Send(msg); err != nil {
		return fmt.Errorf("error sending telegram message: %v", err)
	}

	ts.mu.Lock()
	ts.lastSendTimes[job.TaskID] = time.Now()
	ts.mu.Unlock()

	ts.logger.Info("Sent telegram notification",
		zap.String("task_id", job.TaskID),
		zap.String("subject", job.Subject))
	return nil
}

// shouldThrottle checks if we should throttle notifications for a task (within 15 seconds)
func (ts *TelegramService) shouldThrottle(taskID string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	lastSendTime, exists := ts.lastSendTimes[taskID]
	if !exists {
		return false // No previous notification, don't throttle
	}
	return time.Since(lastSendTime) < 15*time.Second
}

// formatJobMessage creates a mobile-friendly, formatted message
func (ts *TelegramService) formatJobMessage(job *models.NotificationJob) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("🏠 <b>%s</b>\n\n", job.Subject))
	sb.WriteString(job.Body)
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("🕐 <b>Time:</b> %s\n", job.Timestamp.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("🆔 <b>Task:</b> <code>%s</code>", job.TaskID))

	return sb.String()
}

// SendStatusMessage sends a general status message
func (ts *TelegramService) SendStatusMessage(message string) error {
	msg := tgbotapi.NewMessage(ts.chatID, message)
	msg.ParseMode = "HTML"

	_, err := ts.bot.Send(msg)
	return err
}

// SendStartupMessage sends a message when the service starts
func (ts *TelegramService) SendStartupMessage() error {
	message := "🟢 <b>Hestia Automation Service Started</b>\n\n" +
		"📡 Connected to the device bus\n" +
		"⏰ Task scheduler armed\n" +
		"🤖 Telegram notifications active\n\n" +
		"✅ System is ready and operational!"

	return ts.SendStatusMessage(message)
}
