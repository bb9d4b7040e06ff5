package notification

import (
	"github.com/rs/zerolog"
)

// LogNotifier writes notifications to the structured log. It is always enabled.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notification").Logger()}
}

func (l *LogNotifier) Name() string {
	return "log"
}

func (l *LogNotifier) IsEnabled() bool {
	return true
}

func (l *LogNotifier) Send(n *Notification) error {
	ev := l.logger.Info()
	if n.Type == NotifyFailure {
		ev = l.logger.Error()
	}
	ev.Str("type", string(n.Type)).
		Str("symbol", n.Symbol).
		Float64("price", n.Price).
		Int("confidence", n.Confidence).
		Str("title", n.Title).
		Msg(n.Message)
	return nil
}
