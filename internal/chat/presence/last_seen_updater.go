package presence

import (
	"context"
	"sync"
	"time"

	"github.com/AlibekovAA/realtime-hub/backend/internal/common/clock"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/constants"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/resilience"
	"github.com/AlibekovAA/realtime-hub/backend/internal/observability/metrics"
	userdomain "github.com/AlibekovAA/realtime-hub/backend/internal/user/domain"
)

type LastSeenStore interface {
	UpdateLastSeenBatch(ctx context.Context, ids []userdomain.ID) error
}

// LastSeenUpdater debounces per-identity last_seen writes and flushes them in
// batches. Updates are dropped, never blocked on, when the queue is full.
type LastSeenUpdater struct {
	ctx            context.Context
	cancel         context.CancelFunc
	store          LastSeenStore
	log            *logger.Logger
	circuitBreaker *resilience.CircuitBreaker
	clock          clock.Clock
	updateInterval time.Duration
	queue          chan string
	lastSeenCache  map[string]time.Time
	mu             sync.Mutex
	wg             sync.WaitGroup
	stopOnce       sync.Once
}

func NewLastSeenUpdater(ctx context.Context, store LastSeenStore, log *logger.Logger, updateInterval time.Duration, circuitBreaker *resilience.CircuitBreaker, clk clock.Clock) *LastSeenUpdater {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	updateCtx, cancel := context.WithCancel(ctx)
	updater := &LastSeenUpdater{
		ctx:            updateCtx,
		cancel:         cancel,
		store:          store,
		log:            log,
		circuitBreaker: circuitBreaker,
		clock:          clk,
		updateInterval: updateInterval,
		queue:          make(chan string, constants.LastSeenQueueSize),
		lastSeenCache:  make(map[string]time.Time),
	}

	updater.wg.Add(1)
	go updater.run()

	return updater
}

func (u *LastSeenUpdater) Enqueue(userID string) {
	now := u.clock.Now()

	u.mu.Lock()
	if last, ok := u.lastSeenCache[userID]; ok && now.Sub(last) < u.updateInterval {
		u.mu.Unlock()
		return
	}
	u.lastSeenCache[userID] = now
	u.mu.Unlock()

	select {
	case u.queue <- userID:
	default:
		metrics.HubLastSeenDropped.Inc()
		u.log.WithFields(context.Background(), logger.Fields{
			"user_id": userID,
			"action":  "last_seen_enqueue_dropped",
		}).Warn("last seen queue is full, dropping update")
	}
}

// Stop flushes whatever is pending and waits for the worker, bounded by ctx.
func (u *LastSeenUpdater) Stop(ctx context.Context) error {
	u.stopOnce.Do(u.cancel)

	done := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (u *LastSeenUpdater) run() {
	defer u.wg.Done()

	ticker := time.NewTicker(constants.LastSeenFlushEvery)
	defer ticker.Stop()

	pending := make(map[string]struct{})

	for {
		select {
		case <-u.ctx.Done():
			u.drain(pending)
			u.flush(pending)
			return
		case userID := <-u.queue:
			pending[userID] = struct{}{}
			if len(pending) >= constants.LastSeenBatchSize {
				u.flush(pending)
			}
		case <-ticker.C:
			u.flush(pending)
			u.evictStale()
		}
	}
}

func (u *LastSeenUpdater) drain(pending map[string]struct{}) {
	for {
		select {
		case userID := <-u.queue:
			pending[userID] = struct{}{}
		default:
			return
		}
	}
}

// evictStale keeps the debounce cache from growing with every identity ever seen.
func (u *LastSeenUpdater) evictStale() {
	now := u.clock.Now()
	u.mu.Lock()
	for id, last := range u.lastSeenCache {
		if now.Sub(last) >= u.updateInterval {
			delete(u.lastSeenCache, id)
		}
	}
	u.mu.Unlock()
}

func (u *LastSeenUpdater) flush(pending map[string]struct{}) {
	if len(pending) == 0 {
		return
	}

	ids := make([]userdomain.ID, 0, len(pending))
	for id := range pending {
		ids = append(ids, userdomain.ID(id))
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.LastSeenUpdateTimeout)
	defer cancel()

	var err error
	if u.circuitBreaker != nil {
		err = u.circuitBreaker.CallWithFallback(ctx, func(callCtx context.Context) error {
			return u.store.UpdateLastSeenBatch(callCtx, ids)
		}, func() error {
			u.log.WithFields(ctx, logger.Fields{
				"count":  len(ids),
				"action": "last_seen_batch_skipped",
			}).Debug("last_seen update skipped: circuit breaker is open")
			return nil
		})
	} else {
		err = u.store.UpdateLastSeenBatch(ctx, ids)
	}

	if err != nil {
		u.log.WithFields(ctx, logger.Fields{
			"count":  len(ids),
			"action": "last_seen_batch_failed",
		}).Warnf("failed to batch update last_seen: %v", err)
	}

	for id := range pending {
		delete(pending, id)
	}
}
