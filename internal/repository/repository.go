package repository

import (
	"context"
	"time"

	"chatsync/internal/models"
)

// SnapshotRepository caches the latest conversation snapshot so consumers
// can read without refetching from the remote. It also tracks a per-key
// rate limit used to guard manual refresh abuse.
type SnapshotRepository interface {
	GetSnapshot(ctx context.Context, conversationID string) (*models.ConversationSnapshot, error)
	SetSnapshot(ctx context.Context, snap *models.ConversationSnapshot) error
	ClearSnapshot(ctx context.Context, conversationID string) error
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
