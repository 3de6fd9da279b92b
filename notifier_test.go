package main

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func TestTelegramNotifier(t *testing.T) {
	sender := &fakeSender{}
	n := &TelegramNotifier{api: sender, chatID: 4242}

	record := NewDetectionRecord(time.Date(2024, 5, 17, 8, 30, 0, 0, time.Local), 7, "34IST34", Authorized, 0.91)
	require.NoError(t, n.Notify(context.Background(), record))
	require.Len(t, sender.sent, 1)

	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	require.Equal(t, int64(4242), msg.ChatID)
	require.Contains(t, msg.Text, "ACCESS GRANTED: 34IST34")
	require.Contains(t, msg.Text, "Frame 7 at 08:30:00")
	require.Contains(t, msg.Text, "confidence 0.91")
}

func TestTelegramNotifierSendError(t *testing.T) {
	n := &TelegramNotifier{api: &fakeSender{err: errors.New("chat not found")}, chatID: 1}
	err := n.Notify(context.Background(), DetectionRecord{Plate: "34IST34"})
	require.ErrorContains(t, err, "chat not found")
}
