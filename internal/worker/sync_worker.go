package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatsync/internal/database"
	"chatsync/internal/events"
	"chatsync/internal/metrics"
	"chatsync/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RemoteSyncer is the slice of the remote client the queue needs.
type RemoteSyncer interface {
	SyncUser(ctx context.Context, user *models.User) (map[string]any, error)
	SyncSector(ctx context.Context, sector *models.Sector) (map[string]any, error)
}

// ConnectionChecker gates drain passes on cached connection health.
type ConnectionChecker interface {
	State() models.ConnectionState
}

// DeadLetterNotifier is told about operations that exhausted their retries.
type DeadLetterNotifier interface {
	NotifyDeadLetter(ctx context.Context, task *models.SyncTask, cause error)
}

// Callbacks complete an enqueued operation. Each fires at most once, and
// only one of the two ever fires for a given task.
type Callbacks struct {
	OnSuccess func(echoed map[string]any)
	OnError   func(err error)
}

// SyncWorker consumes sync_queue tasks and delivers them to the remote
// service. Single serial consumer: one Start goroutine, one task in
// flight at a time.
type SyncWorker struct {
	db          *database.DB
	remote      RemoteSyncer
	monitor     ConnectionChecker
	redis       *redis.Client
	notifier    DeadLetterNotifier
	bus         *events.EventBus
	retryPolicy RetryPolicy
	queue       chan models.SyncTask

	cbMu      sync.Mutex
	callbacks map[int64]Callbacks

	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

// NewSyncWorker builds a worker with sane defaults. The redis client and
// notifier are optional.
func NewSyncWorker(db *database.DB, remote RemoteSyncer, monitor ConnectionChecker, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *SyncWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}

	return &SyncWorker{
		db:            db,
		remote:        remote,
		monitor:       monitor,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan models.SyncTask, models.WorkerQueueSize),
		callbacks:     make(map[int64]Callbacks),
		redisQueueKey: "chatsync:queue",
		deadLetterKey: "chatsync:deadletter",
		pollInterval:  2 * time.Second,
		batchSize:     20,
		logger:        logger,
	}
}

// SetNotifier wires an optional dead-letter notifier.
func (w *SyncWorker) SetNotifier(n DeadLetterNotifier) {
	w.notifier = n
}

// SetBus wires an optional event bus; dead-lettered tasks are announced
// on it as sync.failed.
func (w *SyncWorker) SetBus(bus *events.EventBus) {
	w.bus = bus
}

// SetPolling overrides the database poll cadence and batch size. Zero
// values keep the defaults. Call before Start.
func (w *SyncWorker) SetPolling(interval time.Duration, batchSize int) {
	if interval > 0 {
		w.pollInterval = interval
	}
	if batchSize > 0 {
		w.batchSize = batchSize
	}
}

// Enqueue persists a task and schedules it. Validation failures never
// reach the queue; they return synchronously.
func (w *SyncWorker) Enqueue(ctx context.Context, taskType, entityID string, payload any, cb Callbacks) error {
	if taskType != models.TaskUser && taskType != models.TaskSector {
		return fmt.Errorf("unknown task type: %s", taskType)
	}
	if entityID == "" {
		return errors.New("entity id is required")
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	syncTask := models.SyncTask{
		TaskType:  taskType,
		EntityID:  entityID,
		Payload:   string(payloadBytes),
		Status:    models.TaskStatusPending,
		CreatedAt: time.Now(),
	}

	if err := w.db.CreateSyncTask(ctx, &syncTask); err != nil {
		return fmt.Errorf("persist sync task: %w", err)
	}

	if cb.OnSuccess != nil || cb.OnError != nil {
		w.cbMu.Lock()
		w.callbacks[syncTask.ID] = cb
		w.cbMu.Unlock()
	}

	w.publishQueueDepth(ctx)

	// Try redis first so a second process could drain the mirror.
	if w.redis != nil {
		if err := w.pushRedis(ctx, syncTask); err != nil {
			w.logger.Warn().Err(err).Msg("sync_worker: redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- syncTask:
	default:
		w.logger.Warn().Int64("task_id", syncTask.ID).Msg("sync_worker: in-memory queue full, task left to polling")
	}

	return nil
}

// Start launches the drain loop; stops when ctx is done.
func (w *SyncWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("sync_worker: started")
	defer w.logger.Info().Msg("sync_worker: stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Offline: no new drain pass. Push due tasks out with backoff so
		// they do not spin, without consuming their network attempts.
		if state := w.monitor.State(); !state.Online {
			w.rescheduleDue(ctx, state.LastError)
			if !w.sleep(ctx, w.pollInterval) {
				return
			}
			continue
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		tasks, err := w.db.GetPendingSyncTasks(ctx, w.batchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("sync_worker: fetch pending")
			if !w.sleep(ctx, w.pollInterval) {
				return
			}
			continue
		}
		if len(tasks) == 0 {
			if !w.sleep(ctx, w.pollInterval) {
				return
			}
			continue
		}

		for i := range tasks {
			w.processTask(ctx, &tasks[i])
		}
	}
}

func (w *SyncWorker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (w *SyncWorker) tryLocalQueue() (models.SyncTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.SyncTask{}, false
	}
}

func (w *SyncWorker) tryRedis(ctx context.Context) (models.SyncTask, bool) {
	if w.redis == nil {
		return models.SyncTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.Nil) {
			return models.SyncTask{}, false
		}
		w.logger.Warn().Err(err).Msg("sync_worker: redis BRPOP error")
		return models.SyncTask{}, false
	}
	if len(res) != 2 {
		return models.SyncTask{}, false
	}
	var task models.SyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Warn().Err(err).Msg("sync_worker: decode redis task")
		return models.SyncTask{}, false
	}
	return task, true
}

// rescheduleDue pushes all currently-due tasks out by the policy delay
// while the remote is unreachable. retry_count is untouched: an offline
// link is not the task's fault.
func (w *SyncWorker) rescheduleDue(ctx context.Context, reason string) {
	tasks, err := w.db.GetPendingSyncTasks(ctx, w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("sync_worker: fetch pending while offline")
		return
	}
	if reason == "" {
		reason = "remote offline"
	}
	for i := range tasks {
		delay := w.retryPolicy.NextDelay(tasks[i].RetryCount + 1)
		next := time.Now().Add(delay)
		if err := w.db.RescheduleSyncTask(ctx, tasks[i].ID, reason, next); err != nil {
			w.logger.Error().Err(err).Int64("task_id", tasks[i].ID).Msg("sync_worker: offline reschedule")
		}
		metrics.IncSyncAttempt(tasks[i].TaskType, "offline_deferred")
	}
}

func (w *SyncWorker) processTask(ctx context.Context, task *models.SyncTask) {
	// The state may have flipped since the drain pass started. An
	// in-flight attempt is never aborted, but a not-yet-started one is
	// deferred like any offline failure.
	if state := w.monitor.State(); !state.Online {
		delay := w.retryPolicy.NextDelay(task.RetryCount + 1)
		if err := w.db.RescheduleSyncTask(ctx, task.ID, "remote offline", time.Now().Add(delay)); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("sync_worker: offline reschedule")
		}
		metrics.IncSyncAttempt(task.TaskType, "offline_deferred")
		return
	}

	echoed, err := w.executeTask(ctx, task)
	if err != nil {
		w.handleFailure(ctx, task, err)
		return
	}

	if err := w.db.UpdateSyncTaskStatus(ctx, task.ID, models.TaskStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("sync_worker: mark completed")
	}
	metrics.IncSyncAttempt(task.TaskType, "success")
	w.publishQueueDepth(ctx)

	if cb, ok := w.takeCallbacks(task.ID); ok && cb.OnSuccess != nil {
		cb.OnSuccess(echoed)
	}
}

func (w *SyncWorker) executeTask(ctx context.Context, task *models.SyncTask) (map[string]any, error) {
	switch task.TaskType {
	case models.TaskUser:
		var user models.User
		if err := json.Unmarshal([]byte(task.Payload), &user); err != nil {
			return nil, fmt.Errorf("decode user payload: %w", err)
		}
		return w.remote.SyncUser(ctx, &user)
	case models.TaskSector:
		var sector models.Sector
		if err := json.Unmarshal([]byte(task.Payload), &sector); err != nil {
			return nil, fmt.Errorf("decode sector payload: %w", err)
		}
		return w.remote.SyncSector(ctx, &sector)
	default:
		return nil, fmt.Errorf("unknown task type: %s", task.TaskType)
	}
}

func (w *SyncWorker) handleFailure(ctx context.Context, task *models.SyncTask, cause error) {
	class := Classify(cause)

	if class == NotImplemented {
		// The endpoint does not exist; retrying cannot help. One attempt,
		// reported once, and the queue moves on without delay.
		if err := w.db.UpdateSyncTaskStatus(ctx, task.ID, models.TaskStatusNotImplemented, cause.Error(), nil); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("sync_worker: mark not_implemented")
		}
		w.logger.Warn().Str("task_type", task.TaskType).Str("entity_id", task.EntityID).
			Msg("sync_worker: remote endpoint not implemented, dropping task")
		metrics.IncSyncAttempt(task.TaskType, "not_implemented")
		w.publishQueueDepth(ctx)
		if cb, ok := w.takeCallbacks(task.ID); ok && cb.OnError != nil {
			cb.OnError(cause)
		}
		return
	}

	// Auth and permanent failures are retried up to the attempt cap like
	// transient ones; only the classification label differs.
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		w.failTask(ctx, task, cause, class)
		return
	}

	nextDelay := w.retryPolicy.NextDelay(attempt)
	nextTime := time.Now().Add(nextDelay)
	if err := w.db.UpdateSyncTaskStatus(ctx, task.ID, models.TaskStatusRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("sync_worker: mark retry")
	}
	w.logger.Debug().Int64("task_id", task.ID).Int("attempt", attempt).
		Str("classification", class.String()).Dur("delay", nextDelay).
		Msg("sync_worker: rescheduled")
	metrics.IncSyncAttempt(task.TaskType, class.String())
}

func (w *SyncWorker) failTask(ctx context.Context, task *models.SyncTask, cause error, class Classification) {
	if err := w.db.UpdateSyncTaskStatus(ctx, task.ID, models.TaskStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("sync_worker: mark failed")
	}
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("classification", class.String()).
		Msg("sync_worker: retries exhausted, task dead-lettered")
	metrics.IncSyncAttempt(task.TaskType, "failed")
	w.publishQueueDepth(ctx)
	w.pushDeadLetter(ctx, task)

	if w.notifier != nil {
		w.notifier.NotifyDeadLetter(ctx, task, cause)
	}
	if err := w.bus.PublishJSON(events.EventSyncFailed, events.SyncFailedPayload{
		TaskID:   task.ID,
		TaskType: task.TaskType,
		EntityID: task.EntityID,
		Attempts: task.RetryCount + 1,
		Error:    cause.Error(),
	}); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("sync_worker: publish sync.failed")
	}
	if cb, ok := w.takeCallbacks(task.ID); ok && cb.OnError != nil {
		cb.OnError(cause)
	}
}

func (w *SyncWorker) takeCallbacks(id int64) (Callbacks, bool) {
	w.cbMu.Lock()
	defer w.cbMu.Unlock()
	cb, ok := w.callbacks[id]
	if ok {
		delete(w.callbacks, id)
	}
	return cb, ok
}

func (w *SyncWorker) publishQueueDepth(ctx context.Context) {
	if n, err := w.db.CountPendingSyncTasks(ctx); err == nil {
		metrics.SetQueueDepth(n)
	}
}

func (w *SyncWorker) pushRedis(ctx context.Context, task models.SyncTask) error {
	if w.redis == nil {
		return errors.New("redis client is nil")
	}
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *SyncWorker) pushDeadLetter(ctx context.Context, task *models.SyncTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("sync_worker: encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("sync_worker: deadletter push")
	}
}
