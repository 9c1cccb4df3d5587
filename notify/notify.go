// Package notify adapts the teacher's Telegram bot into a narrow push-only
// AlertSink for the core's highest-severity events: kill-switch activation
// and circuit-breaker trips (spec.md §6, "Admin/operator surface").
//
// Grounded on bot/telegram.go: same os.Getenv-sourced token/chat id, the
// same markdown-message-over-tgbotapi.NewMessage send path, the same
// zerolog error handling on send failure. The inbound command loop
// (NewTelegramBot's Start/commandLoop/pause-resume callbacks) is not
// carried over — admin operations here are a Go API, not a chat command
// surface, and a chat-driven admin surface would be the HTTP-façade-shaped
// Non-goal spec.md §1 excludes.
package notify

import (
	"fmt"
	"os"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// AlertSink receives formatted operator-facing alerts. The kill switch and
// circuit breaker push to this interface rather than depending on a
// concrete Telegram type, so tests can substitute a no-op or recording
// sink.
type AlertSink interface {
	Alert(title, body string)
}

// NoopSink discards every alert; the default when no channel is configured.
type NoopSink struct{}

func (NoopSink) Alert(string, string) {}

// TelegramSink sends alerts to a single configured chat.
type TelegramSink struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramSink builds a sink from TELEGRAM_BOT_TOKEN / TELEGRAM_CHAT_ID,
// mirroring bot/telegram.go's NewTelegramBot env lookup exactly.
func NewTelegramSink() (*TelegramSink, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN not set")
	}
	chatIDStr := os.Getenv("TELEGRAM_CHAT_ID")
	if chatIDStr == "" {
		return nil, fmt.Errorf("TELEGRAM_CHAT_ID not set")
	}
	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Msg("telegram alert sink initialized")
	return &TelegramSink{api: api, chatID: chatID}, nil
}

// Alert sends a markdown-formatted message. Failures are logged, never
// propagated — notification is best-effort and must never block or fail
// the risk/circuit-breaker path that triggered it.
func (s *TelegramSink) Alert(title, body string) {
	text := fmt.Sprintf("*%s*\n\n%s", title, body)
	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := s.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("failed to send telegram alert")
	}
}
