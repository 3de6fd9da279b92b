package main

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier announces authorized plate sightings to an operator.
type Notifier interface {
	Notify(ctx context.Context, record DetectionRecord) error
}

// messageSender is the part of tgbotapi.BotAPI used by TelegramNotifier.
type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts one message per notification to a fixed chat.
type TelegramNotifier struct {
	api    messageSender
	chatID int64
}

// NewTelegramNotifier authorizes the bot token against the Telegram API.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &TelegramNotifier{api: api, chatID: chatID}, nil
}

// Notify sends the record to the configured chat.
func (n *TelegramNotifier) Notify(_ context.Context, record DetectionRecord) error {
	msg := tgbotapi.NewMessage(n.chatID, formatNotification(record))
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func formatNotification(r DetectionRecord) string {
	return fmt.Sprintf("✅ %s: %s\nFrame %d at %s (confidence %.2f)",
		r.Status, r.Plate, r.FrameID, r.Timestamp.Local().Format(reportTimeLayout), r.Confidence)
}
