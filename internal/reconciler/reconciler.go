package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"chatsync/internal/events"
	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"chatsync/internal/remote"
	"chatsync/internal/repository"

	"github.com/rs/zerolog"
)

// Fetch states for the open conversation.
const (
	StateIdle     = "idle"
	StateFetching = "fetching"
	StateLoaded   = "loaded"
	StateNotFound = "not_found"
	StateError    = "error"
)

// Fetcher is the conversation slice of the remote client.
type Fetcher interface {
	GetConversation(ctx context.Context, id string) (*models.ConversationSnapshot, error)
}

// Callbacks deliver reconciliation outcomes to the caller.
type Callbacks struct {
	// OnSnapshot receives every successfully fetched snapshot,
	// replaced wholesale.
	OnSnapshot func(snap *models.ConversationSnapshot)
	// OnGone fires once when consecutive not-found responses cross the
	// threshold and the conversation is declared deleted.
	OnGone func(conversationID string)
	// OnError fires when the retry budget for one trigger is exhausted.
	OnError func(err error)
}

// Config tunes reconciliation behavior. Zero values fall back to the
// model defaults.
type Config struct {
	PollInterval      time.Duration
	Debounce          time.Duration
	NotFoundThreshold int
	RetryDelay        time.Duration
	MaxRetries        int
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Duration(models.PollIntervalSeconds) * time.Second
	}
	if c.Debounce <= 0 {
		c.Debounce = time.Duration(models.DebounceMillis) * time.Millisecond
	}
	if c.NotFoundThreshold <= 0 {
		c.NotFoundThreshold = models.NotFoundThreshold
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

// Reconciler keeps the currently open conversation consistent with the
// remote by merging three trigger sources: realtime push events, a fixed
// poll, and manual refresh. Triggers within the debounce window coalesce
// into a single fetch; at most one fetch per conversation is in flight.
type Reconciler struct {
	fetcher Fetcher
	cache   repository.SnapshotRepository
	cfg     Config
	logger  *zerolog.Logger

	mu            sync.Mutex
	conversation  string
	generation    uint64
	state         string
	notFoundCount int
	retryCount    int
	fetching      bool
	rerunPending  bool
	debounceTimer *time.Timer
	retryTimer    *time.Timer
	pollCancel    context.CancelFunc
	callbacks     Callbacks
}

// New builds a reconciler. cache is optional; when present, every loaded
// snapshot is published to it and a declared-gone conversation is
// evicted from it.
func New(fetcher Fetcher, cache repository.SnapshotRepository, cfg Config, logger *zerolog.Logger) *Reconciler {
	cfg.applyDefaults()
	return &Reconciler{
		fetcher: fetcher,
		cache:   cache,
		cfg:     cfg,
		logger:  logger,
		state:   StateIdle,
	}
}

// BindBus subscribes the reconciler to realtime push events. Events
// naming a different conversation are ignored.
func (r *Reconciler) BindBus(bus *events.EventBus) {
	handler := func(event *events.Event) error {
		payload, err := events.DecodeConversationPayload(event)
		if err != nil {
			return err
		}
		r.NotifyPush(payload.ConversationID)
		return nil
	}
	bus.Subscribe(events.EventNewMessage, handler)
	bus.Subscribe(events.EventConversationUpdated, handler)
}

// Open starts reconciling the given conversation: an initial fetch plus
// the poll loop. Any previously open conversation is closed first; its
// in-flight results are discarded by the generation check.
func (r *Reconciler) Open(ctx context.Context, conversationID string, cb Callbacks) {
	r.reset()

	r.mu.Lock()
	r.conversation = conversationID
	r.generation++
	r.state = StateIdle
	r.notFoundCount = 0
	r.retryCount = 0
	r.callbacks = cb

	pollCtx, cancel := context.WithCancel(ctx)
	r.pollCancel = cancel
	r.mu.Unlock()

	go r.pollLoop(pollCtx, conversationID)
	r.trigger(conversationID)
}

// Close stops polling and invalidates in-flight fetches. The process-wide
// sync queue is unaffected; only this conversation's timers die.
func (r *Reconciler) Close() {
	r.reset()
}

// reset kills all timers and bumps the generation so in-flight fetch
// results are dropped.
func (r *Reconciler) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	r.conversation = ""
	r.state = StateIdle
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
		r.debounceTimer = nil
	}
	if r.retryTimer != nil {
		r.retryTimer.Stop()
		r.retryTimer = nil
	}
	if r.pollCancel != nil {
		r.pollCancel()
		r.pollCancel = nil
	}
	r.fetching = false
	r.rerunPending = false
}

// State returns the current fetch state.
func (r *Reconciler) State() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// NotifyPush handles a realtime event. Irrelevant conversation ids are
// dropped here rather than at the subscription layer.
func (r *Reconciler) NotifyPush(conversationID string) {
	r.mu.Lock()
	relevant := conversationID != "" && conversationID == r.conversation
	r.mu.Unlock()
	if relevant {
		r.trigger(conversationID)
	}
}

// Refresh handles an explicit user refresh.
func (r *Reconciler) Refresh(ctx context.Context) error {
	r.mu.Lock()
	id := r.conversation
	r.mu.Unlock()
	if id == "" {
		return errors.New("no conversation open")
	}

	if r.cache != nil {
		allowed, err := r.cache.CheckRateLimit(ctx, "refresh:"+id,
			models.RefreshRateLimit, time.Duration(models.RefreshRateWindow)*time.Second)
		if err == nil && !allowed {
			return errors.New("refresh rate limit exceeded")
		}
	}

	r.trigger(id)
	return nil
}

func (r *Reconciler) pollLoop(ctx context.Context, conversationID string) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.trigger(conversationID)
		}
	}
}

// trigger schedules a debounced fetch. The pending timer is always
// cleared before a new one is set, so a burst of triggers collapses into
// one fetch. An external trigger also resets the per-trigger retry
// budget.
func (r *Reconciler) trigger(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conversationID != r.conversation {
		return
	}
	r.retryCount = 0

	if r.fetching {
		r.rerunPending = true
		return
	}

	gen := r.generation
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	r.debounceTimer = time.AfterFunc(r.cfg.Debounce, func() {
		r.fetch(gen)
	})
}

// scheduleRetry re-runs a failed fetch after a delay scaled by the
// attempt count, bypassing the debounce.
func (r *Reconciler) scheduleRetry(gen uint64, attempt int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.generation {
		return
	}
	if r.retryTimer != nil {
		r.retryTimer.Stop()
	}
	r.retryTimer = time.AfterFunc(time.Duration(attempt)*r.cfg.RetryDelay, func() {
		r.fetch(gen)
	})
}

func (r *Reconciler) fetch(gen uint64) {
	r.mu.Lock()
	if gen != r.generation || r.fetching {
		r.mu.Unlock()
		return
	}
	id := r.conversation
	r.fetching = true
	r.state = StateFetching
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	snap, err := r.fetcher.GetConversation(ctx, id)
	cancel()

	r.mu.Lock()
	stale := gen != r.generation
	var rerun bool
	if !stale {
		r.fetching = false
		rerun = r.rerunPending
		r.rerunPending = false
	}
	cb := r.callbacks
	r.mu.Unlock()

	if stale {
		// Conversation switched while this fetch was in flight; the
		// result belongs to a screen that no longer exists.
		metrics.IncReconcileFetch("stale_discarded")
		return
	}

	switch {
	case err == nil:
		r.handleLoaded(snap, cb)
	case errors.Is(err, remote.ErrConversationNotFound):
		r.handleNotFound(gen, id, cb)
	default:
		r.handleError(gen, err, cb)
	}

	if rerun {
		r.trigger(id)
	}
}

func (r *Reconciler) handleLoaded(snap *models.ConversationSnapshot, cb Callbacks) {
	r.mu.Lock()
	r.state = StateLoaded
	r.notFoundCount = 0
	r.retryCount = 0
	r.mu.Unlock()

	metrics.IncReconcileFetch("ok")

	if r.cache != nil {
		if err := r.cache.SetSnapshot(context.Background(), snap); err != nil {
			r.logger.Warn().Err(err).Str("conversation_id", snap.ID).Msg("reconciler: cache snapshot")
		}
	}
	if cb.OnSnapshot != nil {
		cb.OnSnapshot(snap)
	}
}

func (r *Reconciler) handleNotFound(gen uint64, id string, cb Callbacks) {
	r.mu.Lock()
	r.notFoundCount++
	count := r.notFoundCount
	gone := count >= r.cfg.NotFoundThreshold
	if gone {
		r.state = StateNotFound
	}
	r.mu.Unlock()

	metrics.IncReconcileFetch("not_found")

	if !gone {
		// Could be an eventual-consistency gap between write and read
		// paths; give the remote another chance.
		r.logger.Debug().Str("conversation_id", id).Int("count", count).
			Msg("reconciler: conversation not found, retrying")
		r.scheduleRetry(gen, count)
		return
	}

	r.logger.Info().Str("conversation_id", id).Msg("reconciler: conversation gone")
	if r.cache != nil {
		if err := r.cache.ClearSnapshot(context.Background(), id); err != nil {
			r.logger.Warn().Err(err).Msg("reconciler: evict snapshot")
		}
	}
	r.Close()
	r.mu.Lock()
	r.state = StateNotFound
	r.mu.Unlock()
	if cb.OnGone != nil {
		cb.OnGone(id)
	}
}

func (r *Reconciler) handleError(gen uint64, cause error, cb Callbacks) {
	r.mu.Lock()
	r.retryCount++
	attempt := r.retryCount
	exhausted := attempt > r.cfg.MaxRetries
	if exhausted {
		r.state = StateError
	}
	r.mu.Unlock()

	metrics.IncReconcileFetch("error")

	if !exhausted {
		r.scheduleRetry(gen, attempt)
		return
	}

	r.logger.Warn().Err(cause).Msg("reconciler: fetch retries exhausted, waiting for next trigger")
	if cb.OnError != nil {
		cb.OnError(cause)
	}
}
