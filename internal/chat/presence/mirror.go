package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AlibekovAA/realtime-hub/backend/internal/common/constants"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
	"github.com/AlibekovAA/realtime-hub/backend/internal/observability/metrics"
)

const presenceKeyPrefix = "presence:user:"

// Mirror publishes this node's online identities to an external store so
// other services can read presence. It never feeds back into hub decisions.
type Mirror interface {
	SetOnline(userID string)
	SetOffline(userID string)
	Refresh(userID string)
	Close() error
}

type NopMirror struct{}

func (NopMirror) SetOnline(string)  {}
func (NopMirror) SetOffline(string) {}
func (NopMirror) Refresh(string)    {}
func (NopMirror) Close() error      { return nil }

type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Close() error
}

type RedisMirrorConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type mirrorOp struct {
	name   string
	userID string
}

// RedisMirror writes presence:user:<id> keys with a TTL. Operations are applied
// by a single worker in submission order so an offline never overtakes the
// online that preceded it. Managed keys are re-armed on a ticker so a crashed
// node's identities expire on their own.
type RedisMirror struct {
	client  redisClient
	ttl     time.Duration
	log     *logger.Logger
	ops     chan mirrorOp
	managed map[string]struct{}
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

func NewRedisMirror(ctx context.Context, cfg RedisMirrorConfig, log *logger.Logger) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, constants.PresenceMirrorTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to presence redis: %w", err)
	}

	log.WithFields(ctx, logger.Fields{
		"addr": cfg.Addr,
		"ttl":  cfg.TTL.String(),
	}).Info("presence mirror connected")

	return newRedisMirror(ctx, client, cfg.TTL, log), nil
}

func newRedisMirror(ctx context.Context, client redisClient, ttl time.Duration, log *logger.Logger) *RedisMirror {
	if ttl <= 0 {
		ttl = constants.DefaultPresenceTTL
	}
	runCtx, cancel := context.WithCancel(ctx)
	m := &RedisMirror{
		client:  client,
		ttl:     ttl,
		log:     log,
		ops:     make(chan mirrorOp, constants.PresenceMirrorQueueSize),
		managed: make(map[string]struct{}),
		cancel:  cancel,
	}

	m.wg.Add(1)
	go m.run(runCtx)

	return m
}

func keyFor(userID string) string {
	return presenceKeyPrefix + userID
}

func (m *RedisMirror) SetOnline(userID string)  { m.submit("set_online", userID) }
func (m *RedisMirror) SetOffline(userID string) { m.submit("set_offline", userID) }
func (m *RedisMirror) Refresh(userID string)    { m.submit("refresh", userID) }

func (m *RedisMirror) submit(name, userID string) {
	select {
	case m.ops <- mirrorOp{name: name, userID: userID}:
	default:
		metrics.HubPresenceMirrorErrors.WithLabelValues("queue_full").Inc()
	}
}

// Close applies queued operations, stops the refresh loop and closes the client.
func (m *RedisMirror) Close() error {
	var err error
	m.once.Do(func() {
		m.cancel()
		m.wg.Wait()
		err = m.client.Close()
	})
	return err
}

func (m *RedisMirror) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case op := <-m.ops:
					m.apply(op)
				default:
					return
				}
			}
		case op := <-m.ops:
			m.apply(op)
		case <-ticker.C:
			m.refreshManaged()
		}
	}
}

func (m *RedisMirror) apply(op mirrorOp) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.PresenceMirrorTimeout)
	defer cancel()

	key := keyFor(op.userID)
	var err error

	switch op.name {
	case "set_online":
		err = m.client.Set(ctx, key, "online", m.ttl).Err()
		if err == nil {
			m.mu.Lock()
			m.managed[op.userID] = struct{}{}
			m.mu.Unlock()
		}
	case "set_offline":
		m.mu.Lock()
		delete(m.managed, op.userID)
		m.mu.Unlock()
		err = m.client.Del(ctx, key).Err()
	case "refresh":
		m.mu.Lock()
		_, ok := m.managed[op.userID]
		m.mu.Unlock()
		if !ok {
			return
		}
		err = m.client.Expire(ctx, key, m.ttl).Err()
	}

	if err != nil {
		metrics.HubPresenceMirrorErrors.WithLabelValues(op.name).Inc()
		m.log.WithFields(ctx, logger.Fields{
			"user_id": op.userID,
			"op":      op.name,
			"action":  "presence_mirror_failed",
		}).Warnf("presence mirror write failed: %v", err)
	}
}

func (m *RedisMirror) refreshManaged() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.managed))
	for id := range m.managed {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		ctx, cancel := context.WithTimeout(context.Background(), constants.PresenceMirrorTimeout)
		if err := m.client.Set(ctx, keyFor(id), "online", m.ttl).Err(); err != nil {
			metrics.HubPresenceMirrorErrors.WithLabelValues("refresh_managed").Inc()
		}
		cancel()
	}
}
