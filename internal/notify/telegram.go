package notify

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
)

// Telegram delivers notifications to a chat. Severity becomes a text
// prefix; formatting stays plain so messages survive any client.
type Telegram struct {
	bot    *bot.Bot
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Telegram{bot: b, chatID: chatID}, nil
}

func (t *Telegram) Notify(ctx context.Context, sev Severity, msg string) error {
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   fmt.Sprintf("[%s] %s", sev, msg),
	})
	return err
}
