package websocket

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/protocol"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/clock"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/constants"
	"github.com/AlibekovAA/realtime-hub/backend/internal/observability/metrics"
)

type idempotencyResult struct {
	result    any
	expiresAt time.Time
}

// IdempotencyTracker remembers successful results by operation id for a TTL.
// Failures are never stored, so a retry after an error runs again.
type IdempotencyTracker struct {
	mu         sync.Mutex
	operations map[string]idempotencyResult
	ttl        time.Duration
	clock      clock.Clock
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewIdempotencyTracker(ttl time.Duration, clk clock.Clock) *IdempotencyTracker {
	if ttl <= 0 {
		ttl = constants.IdempotencyTTL
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}

	tracker := &IdempotencyTracker{
		operations: make(map[string]idempotencyResult),
		ttl:        ttl,
		clock:      clk,
		stop:       make(chan struct{}),
	}

	go tracker.cleanup()

	return tracker
}

// OperationID scopes a client supplied key to the identity, the event type
// and every extra scope part, such as the target conversation.
func OperationID(userID string, msgType protocol.MessageType, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(msgType))
	for _, part := range parts {
		h.Write([]byte{0})
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (t *IdempotencyTracker) Lookup(operationID string, msgType protocol.MessageType) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	res, ok := t.operations[operationID]
	if !ok {
		return nil, false
	}
	if !t.clock.Now().Before(res.expiresAt) {
		delete(t.operations, operationID)
		return nil, false
	}
	metrics.HubIdempotencyDuplicates.WithLabelValues(string(msgType)).Inc()
	return res.result, true
}

func (t *IdempotencyTracker) Store(operationID string, result any) {
	t.mu.Lock()
	t.operations[operationID] = idempotencyResult{
		result:    result,
		expiresAt: t.clock.Now().Add(t.ttl),
	}
	t.mu.Unlock()
}

// Execute returns the cached result for operationID or runs fn and caches
// its result when it succeeds.
func (t *IdempotencyTracker) Execute(operationID string, msgType protocol.MessageType, fn func() (any, error)) (any, bool, error) {
	if result, ok := t.Lookup(operationID, msgType); ok {
		return result, true, nil
	}

	result, err := fn()
	if err != nil {
		return nil, false, err
	}
	t.Store(operationID, result)
	return result, false, nil
}

func (t *IdempotencyTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.operations)
}

func (t *IdempotencyTracker) Close() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *IdempotencyTracker) cleanup() {
	ticker := time.NewTicker(t.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.evictExpired()
		}
	}
}

func (t *IdempotencyTracker) evictExpired() {
	now := t.clock.Now()
	t.mu.Lock()
	for id, res := range t.operations {
		if !now.Before(res.expiresAt) {
			delete(t.operations, id)
		}
	}
	t.mu.Unlock()
}
