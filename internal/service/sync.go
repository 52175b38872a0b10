package service

import (
	"context"
	"fmt"
	"time"

	"chatsync/internal/database"
	"chatsync/internal/models"
	"chatsync/internal/worker"

	"github.com/rs/zerolog"
)

// Enqueuer is the sync queue entry point.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskType, entityID string, payload any, cb worker.Callbacks) error
}

// SectorForcer triggers an immediate remote resync of one sector.
type SectorForcer interface {
	ForceSectorSync(ctx context.Context, sectorID string) error
}

// UserService keeps the local user store and hands profiles to the
// background sync queue. The local write always lands, even if the
// queue rejects the task; Enqueue never blocks on the network.
type UserService struct {
	db     *database.DB
	queue  Enqueuer
	logger *zerolog.Logger
}

func NewUserService(db *database.DB, queue Enqueuer, logger *zerolog.Logger) *UserService {
	return &UserService{db: db, queue: queue, logger: logger}
}

// Save validates, persists locally, then queues the profile for
// propagation to the remote service.
func (s *UserService) Save(ctx context.Context, user *models.User, cb worker.Callbacks) error {
	if user == nil || user.FirebaseUID == "" {
		return fmt.Errorf("%w: user without firebase uid", ErrInvalidInput)
	}
	if user.Email == "" {
		return fmt.Errorf("%w: user without email", ErrInvalidInput)
	}

	user.LastSyncedAt = time.Now().UTC()
	if err := s.db.UpsertUser(ctx, user); err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, models.TaskUser, user.FirebaseUID, user, cb); err != nil {
		return err
	}
	s.logger.Debug().Str("firebase_uid", user.FirebaseUID).Msg("user queued for sync")
	return nil
}

func (s *UserService) Get(ctx context.Context, firebaseUID string) (*models.User, error) {
	return s.db.GetUser(ctx, firebaseUID)
}

// SectorService keeps the local sector store, queues sectors for
// background sync, and exposes the synchronous force-resync path.
type SectorService struct {
	db       *database.DB
	queue    Enqueuer
	remote   SectorForcer
	executor *worker.Executor
	logger   *zerolog.Logger
}

func NewSectorService(db *database.DB, queue Enqueuer, remote SectorForcer, executor *worker.Executor, logger *zerolog.Logger) *SectorService {
	if executor == nil {
		executor = worker.NewExecutor()
	}
	return &SectorService{db: db, queue: queue, remote: remote, executor: executor, logger: logger}
}

// Save validates, persists locally, then queues the sector for
// propagation to the remote service.
func (s *SectorService) Save(ctx context.Context, sector *models.Sector, cb worker.Callbacks) error {
	if sector == nil || sector.ID == "" {
		return fmt.Errorf("%w: sector without id", ErrInvalidInput)
	}
	if sector.Nome == "" {
		return fmt.Errorf("%w: sector without name", ErrInvalidInput)
	}

	sector.LastSyncedAt = time.Now().UTC()
	if err := s.db.UpsertSector(ctx, sector); err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, models.TaskSector, sector.ID, sector, cb); err != nil {
		return err
	}
	s.logger.Debug().Str("sector_id", sector.ID).Msg("sector queued for sync")
	return nil
}

// ListActive returns the sectors a conversation can be transferred to.
func (s *SectorService) ListActive(ctx context.Context) ([]models.Sector, error) {
	return s.db.ListActiveSectors(ctx)
}

// ForceSync bypasses the queue and asks the remote to resync the sector
// now, with foreground retry semantics.
func (s *SectorService) ForceSync(ctx context.Context, sectorID string) error {
	if sectorID == "" {
		return fmt.Errorf("%w: empty sector id", ErrInvalidInput)
	}
	err := s.executor.Run(ctx, func(ctx context.Context) error {
		return s.remote.ForceSectorSync(ctx, sectorID)
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("sector_id", sectorID).Msg("force sector sync failed")
		return err
	}
	s.logger.Info().Str("sector_id", sectorID).Msg("sector force-synced")
	return nil
}
