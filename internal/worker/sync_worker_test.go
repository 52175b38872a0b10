package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chatsync/internal/database"
	"chatsync/internal/events"
	"chatsync/internal/models"
	"chatsync/internal/remote"

	"github.com/rs/zerolog"
)

func TestProcessTaskSuccess(t *testing.T) {
	db := newTestDB(t)
	rem := &fakeRemote{}
	worker := NewSyncWorker(db, rem, onlineMonitor(), nil, RetryPolicy{}, testLogger())

	ctx := context.Background()
	var echoed map[string]any
	successCalls, errorCalls := 0, 0

	err := worker.Enqueue(ctx, models.TaskUser, "uid-1", &models.User{FirebaseUID: "uid-1", Email: "ana@x.com"}, Callbacks{
		OnSuccess: func(resp map[string]any) { successCalls++; echoed = resp },
		OnError:   func(err error) { errorCalls++ },
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusCompleted {
		t.Fatalf("expected status=completed, got %s", status)
	}
	if retryCount != 0 {
		t.Fatalf("expected retry_count=0, got %d", retryCount)
	}
	if nextRetry.Valid {
		t.Fatalf("expected next_retry_at NULL on success")
	}
	if rem.userCalls != 1 {
		t.Fatalf("expected 1 user sync call, got %d", rem.userCalls)
	}
	if successCalls != 1 || errorCalls != 0 {
		t.Fatalf("expected onSuccess exactly once, got success=%d error=%d", successCalls, errorCalls)
	}
	if echoed["firebaseUid"] != "uid-1" {
		t.Fatalf("expected echoed payload, got %v", echoed)
	}
}

func TestProcessTaskRetry(t *testing.T) {
	db := newTestDB(t)
	rem := &fakeRemote{err: &remote.StatusError{Code: 503}}
	worker := NewSyncWorker(db, rem, onlineMonitor(), nil, RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}, testLogger())

	ctx := context.Background()
	errorCalls := 0
	if err := worker.Enqueue(ctx, models.TaskSector, "s-1", &models.Sector{ID: "s-1", Nome: "Vendas"}, Callbacks{
		OnError: func(err error) { errorCalls++ },
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusRetry {
		t.Fatalf("expected status=retry, got %s", status)
	}
	if retryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", retryCount)
	}
	if !nextRetry.Valid || nextRetry.Time.Before(time.Now()) {
		t.Fatalf("expected next_retry_at in future, got %v", nextRetry)
	}
	if errorCalls != 0 {
		t.Fatalf("onError must not fire while attempts remain, got %d", errorCalls)
	}
}

func TestProcessTaskExhaustionFiresOnErrorOnce(t *testing.T) {
	db := newTestDB(t)
	rem := &fakeRemote{err: &remote.StatusError{Code: 500}}
	notifier := &fakeNotifier{}
	worker := NewSyncWorker(db, rem, onlineMonitor(), nil, RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond}, testLogger())
	worker.SetNotifier(notifier)

	ctx := context.Background()
	errorCalls := 0
	if err := worker.Enqueue(ctx, models.TaskUser, "u-1", &models.User{FirebaseUID: "u-1"}, Callbacks{
		OnError: func(err error) { errorCalls++ },
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task, _ := worker.tryLocalQueue()

	// Attempt 1 and 2 reschedule, attempt 3 dead-letters.
	for i := 0; i < 3; i++ {
		fresh := reloadTask(t, db, task.ID)
		worker.processTask(ctx, &fresh)
	}

	status, retryCount, _ := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusFailed {
		t.Fatalf("expected status=failed, got %s", status)
	}
	if retryCount != 2 {
		t.Fatalf("expected retry_count=2 after 3 attempts, got %d", retryCount)
	}
	if rem.userCalls != 3 {
		t.Fatalf("expected exactly 3 network attempts, got %d", rem.userCalls)
	}
	if errorCalls != 1 {
		t.Fatalf("expected onError exactly once, got %d", errorCalls)
	}
	if notifier.calls != 1 {
		t.Fatalf("expected dead-letter notification, got %d", notifier.calls)
	}
}

func TestDeadLetterPublishesSyncFailedEvent(t *testing.T) {
	db := newTestDB(t)
	rem := &fakeRemote{err: &remote.StatusError{Code: 500}}
	worker := NewSyncWorker(db, rem, onlineMonitor(), nil, RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond}, testLogger())

	bus := events.NewEventBus()
	var published []events.SyncFailedPayload
	bus.Subscribe(events.EventSyncFailed, func(event *events.Event) error {
		var payload events.SyncFailedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			t.Errorf("decode sync.failed payload: %v", err)
			return err
		}
		published = append(published, payload)
		return nil
	})
	worker.SetBus(bus)

	ctx := context.Background()
	if err := worker.Enqueue(ctx, models.TaskSector, "s-1", &models.Sector{ID: "s-1", Nome: "Vendas"}, Callbacks{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task, _ := worker.tryLocalQueue()

	// Attempt 1 reschedules, attempt 2 dead-letters.
	for i := 0; i < 2; i++ {
		fresh := reloadTask(t, db, task.ID)
		worker.processTask(ctx, &fresh)
	}

	if len(published) != 1 {
		t.Fatalf("expected exactly one sync.failed event, got %d", len(published))
	}
	got := published[0]
	if got.TaskID != task.ID || got.TaskType != models.TaskSector || got.EntityID != "s-1" {
		t.Fatalf("unexpected payload %+v", got)
	}
	if got.Attempts != 2 || got.Error == "" {
		t.Fatalf("expected 2 attempts and a cause, got %+v", got)
	}
}

func TestProcessTaskNotImplemented(t *testing.T) {
	db := newTestDB(t)
	rem := &fakeRemote{err: &remote.StatusError{Code: 404}}
	worker := NewSyncWorker(db, rem, onlineMonitor(), nil, RetryPolicy{MaxRetries: 5}, testLogger())

	ctx := context.Background()
	errorCalls := 0
	if err := worker.Enqueue(ctx, models.TaskSector, "s-1", &models.Sector{ID: "s-1"}, Callbacks{
		OnError: func(err error) { errorCalls++ },
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task, _ := worker.tryLocalQueue()
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusNotImplemented {
		t.Fatalf("expected status=not_implemented, got %s", status)
	}
	if retryCount != 0 {
		t.Fatalf("404 must not consume retries, got retry_count=%d", retryCount)
	}
	if nextRetry.Valid {
		t.Fatalf("404 must not schedule a retry")
	}
	if rem.sectorCalls != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", rem.sectorCalls)
	}
	if errorCalls != 1 {
		t.Fatalf("expected onError exactly once, got %d", errorCalls)
	}
}

func TestAuthFailureRetriedUpToCap(t *testing.T) {
	db := newTestDB(t)
	rem := &fakeRemote{err: &remote.StatusError{Code: 401}}
	worker := NewSyncWorker(db, rem, onlineMonitor(), nil, RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond}, testLogger())

	ctx := context.Background()
	if err := worker.Enqueue(ctx, models.TaskUser, "u-1", &models.User{FirebaseUID: "u-1"}, Callbacks{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task, _ := worker.tryLocalQueue()

	worker.processTask(ctx, &task)
	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusRetry {
		t.Fatalf("first auth failure should reschedule, got %s", status)
	}

	fresh := reloadTask(t, db, task.ID)
	worker.processTask(ctx, &fresh)
	status, _, _ = loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusFailed {
		t.Fatalf("second auth failure should exhaust cap of 2, got %s", status)
	}
}

func TestOfflineDefersWithoutConsumingAttempt(t *testing.T) {
	db := newTestDB(t)
	rem := &fakeRemote{}
	monitor := &fakeMonitor{online: false, lastError: "probe failed"}
	worker := NewSyncWorker(db, rem, monitor, nil, RetryPolicy{MaxRetries: 3, InitialDelay: time.Second, JitterFraction: 0.2}, testLogger())

	ctx := context.Background()
	if err := worker.Enqueue(ctx, models.TaskUser, "u-1", &models.User{FirebaseUID: "u-1"}, Callbacks{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task, _ := worker.tryLocalQueue()

	before := time.Now()
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusRetry {
		t.Fatalf("expected status=retry while offline, got %s", status)
	}
	if retryCount != 0 {
		t.Fatalf("offline deferral must not consume attempts, got %d", retryCount)
	}
	if rem.userCalls != 0 {
		t.Fatalf("no network call while offline, got %d", rem.userCalls)
	}
	if !nextRetry.Valid {
		t.Fatalf("expected next_retry_at set")
	}

	// Base delay 1s with 20% jitter.
	delay := nextRetry.Time.Sub(before)
	if delay < 700*time.Millisecond || delay > 1400*time.Millisecond {
		t.Fatalf("expected ~1s ± jitter reschedule, got %s", delay)
	}
}

func TestOfflineThenOnlineEndToEnd(t *testing.T) {
	db := newTestDB(t)
	rem := &fakeRemote{}
	monitor := &fakeMonitor{online: false, lastError: "connection refused"}
	worker := NewSyncWorker(db, rem, monitor, nil, RetryPolicy{MaxRetries: 5, InitialDelay: time.Millisecond}, testLogger())

	ctx := context.Background()
	var echoed map[string]any
	if err := worker.Enqueue(ctx, models.TaskUser, "u-1", &models.User{FirebaseUID: "u-1", DisplayName: "Ana"}, Callbacks{
		OnSuccess: func(resp map[string]any) { echoed = resp },
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task, _ := worker.tryLocalQueue()

	// Offline: deferred, no network traffic.
	worker.processTask(ctx, &task)
	if rem.userCalls != 0 {
		t.Fatalf("expected no calls while offline")
	}

	// Connection restored: next drain attempt succeeds.
	monitor.online = true
	time.Sleep(5 * time.Millisecond) // let next_retry_at pass
	fresh := reloadTask(t, db, task.ID)
	worker.processTask(ctx, &fresh)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusCompleted {
		t.Fatalf("expected completed after reconnect, got %s", status)
	}
	if echoed["firebaseUid"] != "u-1" {
		t.Fatalf("expected server-echoed payload, got %v", echoed)
	}
}

func TestEnqueueValidation(t *testing.T) {
	db := newTestDB(t)
	worker := NewSyncWorker(db, &fakeRemote{}, onlineMonitor(), nil, RetryPolicy{}, testLogger())
	ctx := context.Background()

	t.Run("UnknownTaskType", func(t *testing.T) {
		if err := worker.Enqueue(ctx, "booking", "x", struct{}{}, Callbacks{}); err == nil {
			t.Fatalf("expected error for unknown task type")
		}
	})

	t.Run("MissingEntityID", func(t *testing.T) {
		if err := worker.Enqueue(ctx, models.TaskUser, "", struct{}{}, Callbacks{}); err == nil {
			t.Fatalf("expected error for missing entity id")
		}
	})
}

func TestSetPollingOverridesDefaults(t *testing.T) {
	db := newTestDB(t)
	worker := NewSyncWorker(db, &fakeRemote{}, onlineMonitor(), nil, RetryPolicy{}, testLogger())

	worker.SetPolling(5*time.Second, 50)
	if worker.pollInterval != 5*time.Second || worker.batchSize != 50 {
		t.Fatalf("polling not applied: interval=%s batch=%d", worker.pollInterval, worker.batchSize)
	}

	worker.SetPolling(0, 0)
	if worker.pollInterval != 5*time.Second || worker.batchSize != 50 {
		t.Fatalf("zero values must keep current settings: interval=%s batch=%d", worker.pollInterval, worker.batchSize)
	}
}

// Helpers

type fakeRemote struct {
	err         error
	userCalls   int
	sectorCalls int
}

func (f *fakeRemote) SyncUser(ctx context.Context, user *models.User) (map[string]any, error) {
	f.userCalls++
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"firebaseUid": user.FirebaseUID, "displayName": user.DisplayName}, nil
}

func (f *fakeRemote) SyncSector(ctx context.Context, sector *models.Sector) (map[string]any, error) {
	f.sectorCalls++
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"_id": sector.ID, "nome": sector.Nome}, nil
}

type fakeMonitor struct {
	online    bool
	lastError string
}

func (f *fakeMonitor) State() models.ConnectionState {
	return models.ConnectionState{Online: f.online, LastCheckedAt: time.Now(), LastError: f.lastError}
}

func onlineMonitor() *fakeMonitor {
	return &fakeMonitor{online: true}
}

type fakeNotifier struct {
	calls int
}

func (f *fakeNotifier) NotifyDeadLetter(ctx context.Context, task *models.SyncTask, cause error) {
	f.calls++
}

func testLogger() *zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	return &logger
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.db")
	db, err := database.NewDB(path, testLogger())
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func loadTaskStatus(t *testing.T, db *database.DB, id int64) (status string, retryCount int, nextRetry sql.NullTime) {
	t.Helper()
	row := db.QueryRowContext(context.Background(), `SELECT status, retry_count, next_retry_at FROM sync_queue WHERE id = ?`, id)
	if err := row.Scan(&status, &retryCount, &nextRetry); err != nil {
		t.Fatalf("scan task: %v", err)
	}
	return status, retryCount, nextRetry
}

func reloadTask(t *testing.T, db *database.DB, id int64) models.SyncTask {
	t.Helper()
	row := db.QueryRowContext(context.Background(),
		`SELECT id, task_type, entity_id, payload, status, retry_count FROM sync_queue WHERE id = ?`, id)
	var task models.SyncTask
	if err := row.Scan(&task.ID, &task.TaskType, &task.EntityID, &task.Payload, &task.Status, &task.RetryCount); err != nil {
		t.Fatalf("reload task: %v", err)
	}
	return task
}
