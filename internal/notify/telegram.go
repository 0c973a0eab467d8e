package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const queueSize = 64

// sender is the part of tgbotapi.BotAPI used to deliver messages.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts alerts to a single Telegram chat. Alerts are queued
// and delivered by Start; when the queue is full new alerts are dropped.
type TelegramNotifier struct {
	api    sender
	chatID int64
	queue  chan Alert
	logger *zap.Logger
}

// NewTelegramNotifier creates a notifier authorized with the given bot token.
func NewTelegramNotifier(token string, chatID int64, logger *zap.Logger) (*TelegramNotifier, error) {
	botAPI, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", botAPI.Self.UserName))
	return newTelegramNotifier(botAPI, chatID, logger), nil
}

func newTelegramNotifier(api sender, chatID int64, logger *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		api:    api,
		chatID: chatID,
		queue:  make(chan Alert, queueSize),
		logger: logger,
	}
}

func (t *TelegramNotifier) Notify(_ context.Context, alert Alert) {
	select {
	case t.queue <- alert:
	default:
		t.logger.Warn("Alert queue full, dropping alert",
			zap.String("kind", string(alert.Kind)),
			zap.String("subject", alert.Subject),
		)
	}
}

// Start delivers queued alerts until ctx is cancelled.
func (t *TelegramNotifier) Start(ctx context.Context) {
	t.logger.Info("Telegram alert sender started")
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Telegram alert sender shutting down...")
			return
		case alert := <-t.queue:
			t.send(alert)
		}
	}
}

func (t *TelegramNotifier) send(alert Alert) {
	msg := tgbotapi.NewMessage(t.chatID, alert.Text())
	if _, err := t.api.Send(msg); err != nil {
		t.logger.Error("Failed to send Telegram alert",
			zap.Error(err),
			zap.String("kind", string(alert.Kind)),
			zap.Int64("chat_id", t.chatID),
		)
	}
}
