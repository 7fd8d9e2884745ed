package notify

import (
	"slotter/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramSender delivers notifications through the Telegram bot API.
type TelegramSender struct {
	bot domain.TelegramSender
}

// NewTelegramSender builds a sender from a bot token.
func NewTelegramSender(token string) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &TelegramSender{bot: bot}, nil
}

// NewTelegramSenderWithBot wraps an existing bot client.
func NewTelegramSenderWithBot(bot domain.TelegramSender) *TelegramSender {
	return &TelegramSender{bot: bot}
}

func (s *TelegramSender) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := s.bot.Send(msg)
	return err
}

// LogSender writes notifications to the log. Used when telegram delivery is
// disabled.
type LogSender struct {
	logger *zerolog.Logger
}

func NewLogSender(logger *zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendMessage(chatID int64, text string) error {
	s.logger.Info().Int64("chat_id", chatID).Str("text", text).Msg("notification")
	return nil
}
