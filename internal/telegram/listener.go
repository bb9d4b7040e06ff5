// Package telegram reads signal messages from source chats and serves operator commands.
package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"signal-trading-bot/internal/signal"
)

// BotAPI is the part of tgbotapi.BotAPI the listener uses
type BotAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Config selects which chats feed the pipeline and who may issue commands
type Config struct {
	SourceChatIDs []int64
	OperatorIDs   []int64
	PollTimeout   int
}

// Listener converts updates into pipeline messages and dispatches operator commands
type Listener struct {
	api       BotAPI
	sources   map[int64]bool
	operators map[int64]bool
	timeout   int
	commands  *Commands
	logger    zerolog.Logger
}

// NewListener creates a listener. commands may be nil to disable the operator surface.
func NewListener(api BotAPI, cfg Config, commands *Commands, logger zerolog.Logger) *Listener {
	l := &Listener{
		api:       api,
		sources:   make(map[int64]bool, len(cfg.SourceChatIDs)),
		operators: make(map[int64]bool, len(cfg.OperatorIDs)),
		timeout:   cfg.PollTimeout,
		commands:  commands,
		logger:    logger.With().Str("component", "telegram").Logger(),
	}
	if l.timeout <= 0 {
		l.timeout = 30
	}
	for _, id := range cfg.SourceChatIDs {
		l.sources[id] = true
	}
	for _, id := range cfg.OperatorIDs {
		l.operators[id] = true
	}
	return l
}

// Run long-polls for updates until ctx is done. Source messages are sent to out; when
// out is full the message is dropped, like the pipeline's own rate gate would.
func (l *Listener) Run(ctx context.Context, out chan<- signal.Message) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = l.timeout
	updates := l.api.GetUpdatesChan(u)
	defer l.api.StopReceivingUpdates()

	l.logger.Info().Int("sources", len(l.sources)).Int("operators", len(l.operators)).Msg("Listening for updates")
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			l.route(ctx, upd, out)
		}
	}
}

func (l *Listener) route(ctx context.Context, upd tgbotapi.Update, out chan<- signal.Message) {
	m := upd.Message
	if m == nil {
		m = upd.ChannelPost
	}
	if m == nil || m.Chat == nil {
		return
	}

	if m.IsCommand() {
		if l.commands == nil || m.From == nil || !l.operators[m.From.ID] {
			l.logger.Debug().Str("command", m.Command()).Msg("Command from non-operator ignored")
			return
		}
		reply := l.commands.Handle(ctx, m.Command(), m.CommandArguments(), m.From.ID)
		l.reply(m.Chat.ID, m.MessageID, reply)
		return
	}

	if !l.sources[m.Chat.ID] {
		return
	}
	msg, ok := ToMessage(m)
	if !ok {
		return
	}
	select {
	case out <- msg:
	default:
		l.logger.Warn().Str("message_id", msg.ID).Msg("Pipeline busy, message dropped")
	}
}

func (l *Listener) reply(chatID int64, replyTo int, text string) {
	if text == "" {
		return
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyToMessageID = replyTo
	if _, err := l.api.Send(msg); err != nil {
		l.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send command reply")
	}
}

// ToMessage converts a chat message. The caption of a photo or document becomes the
// attachment text. Messages without any text are skipped.
func ToMessage(m *tgbotapi.Message) (signal.Message, bool) {
	if m == nil || m.Chat == nil {
		return signal.Message{}, false
	}
	text := strings.TrimSpace(m.Text)
	caption := strings.TrimSpace(m.Caption)
	if text == "" && caption == "" {
		return signal.Message{}, false
	}
	return signal.Message{
		ID:             fmt.Sprintf("%d:%d", m.Chat.ID, m.MessageID),
		ChatID:         m.Chat.ID,
		Text:           text,
		AttachmentText: caption,
	}, true
}
