package repository

import (
	"context"
	"sync"
	"time"

	"chatsync/internal/models"
)

type MemorySnapshotRepository struct {
	snapshots  sync.Map
	rateLimits sync.Map
	ttl        time.Duration
}

func NewMemorySnapshotRepository(ttl time.Duration) *MemorySnapshotRepository {
	return &MemorySnapshotRepository{
		ttl: ttl,
	}
}

type memoryEntry struct {
	snap      *models.ConversationSnapshot
	expiresAt time.Time
}

func (r *MemorySnapshotRepository) GetSnapshot(ctx context.Context, conversationID string) (*models.ConversationSnapshot, error) {
	val, ok := r.snapshots.Load(conversationID)
	if !ok {
		return nil, nil
	}
	entry := val.(*memoryEntry)
	if r.ttl > 0 && time.Now().After(entry.expiresAt) {
		r.snapshots.Delete(conversationID)
		return nil, nil
	}
	return entry.snap, nil
}

func (r *MemorySnapshotRepository) SetSnapshot(ctx context.Context, snap *models.ConversationSnapshot) error {
	r.snapshots.Store(snap.ID, &memoryEntry{snap: snap, expiresAt: time.Now().Add(r.ttl)})
	return nil
}

func (r *MemorySnapshotRepository) ClearSnapshot(ctx context.Context, conversationID string) error {
	r.snapshots.Delete(conversationID)
	return nil
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func (r *MemorySnapshotRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	val, ok := r.rateLimits.Load(key)

	var entry *rateLimitEntry
	if !ok {
		entry = &rateLimitEntry{
			count:     1,
			expiresAt: now.Add(window),
		}
	} else {
		entry = val.(*rateLimitEntry)
		if now.After(entry.expiresAt) {
			entry.count = 1
			entry.expiresAt = now.Add(window)
		} else {
			entry.count++
		}
	}

	r.rateLimits.Store(key, entry)
	return entry.count <= limit, nil
}
