package notification

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MessageSender is the part of the Telegram bot API the notifier uses
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends notifications via Telegram
type TelegramNotifier struct {
	bot     MessageSender
	chatID  int64
	enabled bool
}

// TelegramConfig holds Telegram configuration
type TelegramConfig struct {
	ChatID  int64
	Enabled bool
}

// NewTelegramNotifier creates a notifier posting to config.ChatID through bot
func NewTelegramNotifier(bot MessageSender, config TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		bot:     bot,
		chatID:  config.ChatID,
		enabled: config.Enabled && bot != nil && config.ChatID != 0,
	}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

func (t *TelegramNotifier) Send(notification *Notification) error {
	if !t.enabled {
		return nil
	}

	text := fmt.Sprintf("🤖 <b>%s</b>\n\n%s", notification.Title, notification.Message)
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}
