package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatsync/internal/database"
	"chatsync/internal/events"
	"chatsync/internal/models"
	"chatsync/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrInvalidInput flags validation failures caught before any network
// call is made.
var ErrInvalidInput = errors.New("invalid input")

// ConversationAPI is the conversation slice of the remote client.
type ConversationAPI interface {
	SendMessage(ctx context.Context, conversationID string, msg *models.Message) (*models.Message, error)
	TransferConversation(ctx context.Context, conversationID, sectorID string) error
	FinalizeConversation(ctx context.Context, conversationID string) error
	ArchiveConversation(ctx context.Context, conversationID string) error
	UnarchiveConversation(ctx context.Context, conversationID string) error
}

// ConversationService executes user-initiated conversation actions.
// Sends are optimistic: the message lands in the local store as
// "sending" before the network round-trip, then transitions exactly
// once to "sent" or "failed". Other actions go straight through the
// bounded-retry executor.
type ConversationService struct {
	db       *database.DB
	api      ConversationAPI
	executor *worker.Executor
	bus      *events.EventBus
	logger   *zerolog.Logger
}

func NewConversationService(db *database.DB, api ConversationAPI, executor *worker.Executor, bus *events.EventBus, logger *zerolog.Logger) *ConversationService {
	if executor == nil {
		executor = worker.NewExecutor()
	}
	return &ConversationService{db: db, api: api, executor: executor, bus: bus, logger: logger}
}

// SendMessage inserts the message locally as "sending", then delivers it
// through the executor. The returned message carries the final delivery
// status; on failure the error is returned alongside it so the caller
// can offer a retry.
func (s *ConversationService) SendMessage(ctx context.Context, conversationID, sender, body string) (*models.Message, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: empty conversation id", ErrInvalidInput)
	}
	if body == "" {
		return nil, fmt.Errorf("%w: empty message body", ErrInvalidInput)
	}
	switch sender {
	case models.SenderClient, models.SenderAttendant, models.SenderBot, models.SenderSystem:
	default:
		return nil, fmt.Errorf("%w: unknown sender %q", ErrInvalidInput, sender)
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         sender,
		Body:           body,
		Timestamp:      time.Now().UTC(),
		DeliveryStatus: models.DeliverySending,
	}
	if err := s.db.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}

	_, sendErr := worker.RunResult(ctx, s.executor, func(ctx context.Context) (*models.Message, error) {
		return s.api.SendMessage(ctx, conversationID, msg)
	})
	if sendErr != nil {
		if err := s.db.UpdateMessageDelivery(ctx, msg.ID, models.DeliveryFailed); err != nil {
			s.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("mark message failed")
		}
		msg.DeliveryStatus = models.DeliveryFailed
		return msg, sendErr
	}

	if err := s.db.UpdateMessageDelivery(ctx, msg.ID, models.DeliverySent); err != nil {
		s.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("mark message sent")
	}
	msg.DeliveryStatus = models.DeliverySent

	s.publishUpdate(events.EventNewMessage, events.ConversationEventPayload{
		ConversationID: conversationID,
		MessageID:      msg.ID,
		Sender:         sender,
		OccurredAt:     msg.Timestamp,
	})
	return msg, nil
}

// RetryMessage re-sends a locally failed message under a fresh id. The
// single-transition rule keeps the old row failed forever.
func (s *ConversationService) RetryMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if msg == nil || msg.DeliveryStatus != models.DeliveryFailed {
		return nil, fmt.Errorf("%w: only failed messages can be retried", ErrInvalidInput)
	}
	return s.SendMessage(ctx, msg.ConversationID, msg.Sender, msg.Body)
}

// Messages returns the locally known messages of a conversation in
// timestamp order.
func (s *ConversationService) Messages(ctx context.Context, conversationID string) ([]models.Message, error) {
	return s.db.GetMessages(ctx, conversationID)
}

// Transfer reassigns the conversation to another sector.
func (s *ConversationService) Transfer(ctx context.Context, conversationID, sectorID string) error {
	if conversationID == "" || sectorID == "" {
		return fmt.Errorf("%w: conversation and sector ids are required", ErrInvalidInput)
	}
	return s.action(ctx, conversationID, "transfer", func(ctx context.Context) error {
		return s.api.TransferConversation(ctx, conversationID, sectorID)
	})
}

// Finalize closes the conversation.
func (s *ConversationService) Finalize(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("%w: empty conversation id", ErrInvalidInput)
	}
	return s.action(ctx, conversationID, "finalize", func(ctx context.Context) error {
		return s.api.FinalizeConversation(ctx, conversationID)
	})
}

func (s *ConversationService) Archive(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("%w: empty conversation id", ErrInvalidInput)
	}
	return s.action(ctx, conversationID, "archive", func(ctx context.Context) error {
		return s.api.ArchiveConversation(ctx, conversationID)
	})
}

func (s *ConversationService) Unarchive(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("%w: empty conversation id", ErrInvalidInput)
	}
	return s.action(ctx, conversationID, "unarchive", func(ctx context.Context) error {
		return s.api.UnarchiveConversation(ctx, conversationID)
	})
}

// action runs one remote mutation through the executor and, on success,
// publishes a conversation.updated event so the reconciler refetches
// instead of the local state being patched by hand.
func (s *ConversationService) action(ctx context.Context, conversationID, name string, fn func(ctx context.Context) error) error {
	if err := s.executor.Run(ctx, fn); err != nil {
		s.logger.Warn().Err(err).Str("conversation_id", conversationID).Str("action", name).Msg("conversation action failed")
		return err
	}

	s.logger.Info().Str("conversation_id", conversationID).Str("action", name).Msg("conversation action applied")
	s.publishUpdate(events.EventConversationUpdated, events.ConversationEventPayload{
		ConversationID: conversationID,
		Status:         name,
		OccurredAt:     time.Now().UTC(),
	})
	return nil
}

func (s *ConversationService) publishUpdate(eventType string, payload events.ConversationEventPayload) {
	if s.bus == nil {
		return
	}
	if err := s.bus.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("publish event")
	}
}
