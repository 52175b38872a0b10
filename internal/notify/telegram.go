package notify

import (
	"context"
	"fmt"

	"chatsync/internal/config"
	"chatsync/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// sender matches the single BotAPI method we use.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier alerts an operator chat about dead-lettered sync
// operations. A nil notifier is valid and silently does nothing, so
// callers never have to branch on whether alerts are configured.
type TelegramNotifier struct {
	bot    sender
	chatID int64
	logger *zerolog.Logger
}

// NewTelegramNotifier builds a notifier from config. Returns nil when
// alerts are disabled.
func NewTelegramNotifier(cfg config.TelegramConfig, logger *zerolog.Logger) (*TelegramNotifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &TelegramNotifier{bot: botAPI, chatID: cfg.ChatID, logger: logger}, nil
}

// NotifyDeadLetter implements worker.DeadLetterNotifier.
func (n *TelegramNotifier) NotifyDeadLetter(ctx context.Context, task *models.SyncTask, cause error) {
	if n == nil {
		return
	}

	text := fmt.Sprintf(
		"⚠️ Sync operation dead-lettered\n\nType: %s\nEntity: %s\nAttempts: %d\nError: %v",
		task.TaskType, task.EntityID, task.RetryCount+1, cause)

	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("send dead-letter alert")
	}
}
