package repository

import (
	"context"
	"sync/atomic"
	"time"

	"chatsync/internal/models"

	"github.com/rs/zerolog"
)

// FailoverSnapshotRepository serves from redis while it is healthy and
// degrades to the in-memory repository when it is not. Recovery is
// attempted at most once per minute.
type FailoverSnapshotRepository struct {
	primary   SnapshotRepository
	fallback  SnapshotRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverSnapshotRepository(primary, fallback SnapshotRepository, logger *zerolog.Logger) *FailoverSnapshotRepository {
	return &FailoverSnapshotRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverSnapshotRepository) markDown() {
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverSnapshotRepository) shouldRetryPrimary() bool {
	return time.Since(time.Unix(0, r.lastCheck.Load())) > time.Minute
}

func (r *FailoverSnapshotRepository) GetSnapshot(ctx context.Context, conversationID string) (*models.ConversationSnapshot, error) {
	if !r.isDown.Load() {
		snap, err := r.primary.GetSnapshot(ctx, conversationID)
		if err == nil {
			return snap, nil
		}
		r.logger.Error().Err(err).Msg("Primary snapshot repository failed, falling back to memory")
		r.markDown()
	}

	if r.isDown.Load() && r.shouldRetryPrimary() {
		snap, err := r.primary.GetSnapshot(ctx, conversationID)
		if err == nil {
			r.isDown.Store(false)
			return snap, nil
		}
		r.lastCheck.Store(time.Now().UnixNano())
	}

	return r.fallback.GetSnapshot(ctx, conversationID)
}

func (r *FailoverSnapshotRepository) SetSnapshot(ctx context.Context, snap *models.ConversationSnapshot) error {
	if !r.isDown.Load() {
		err := r.primary.SetSnapshot(ctx, snap)
		if err == nil {
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary snapshot repository failed, falling back to memory")
		r.markDown()
	}

	return r.fallback.SetSnapshot(ctx, snap)
}

func (r *FailoverSnapshotRepository) ClearSnapshot(ctx context.Context, conversationID string) error {
	if !r.isDown.Load() {
		err := r.primary.ClearSnapshot(ctx, conversationID)
		if err == nil {
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary snapshot repository failed, falling back to memory")
		r.markDown()
	}

	return r.fallback.ClearSnapshot(ctx, conversationID)
}

func (r *FailoverSnapshotRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if !r.isDown.Load() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			return allowed, nil
		}
		r.logger.Error().Err(err).Msg("Primary snapshot repository failed, falling back to memory")
		r.markDown()
	}

	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
