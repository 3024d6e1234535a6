package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/protocol"
	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/session"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/clock"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
	userdomain "github.com/AlibekovAA/realtime-hub/backend/internal/user/domain"
)

type recordingConn struct {
	id     string
	userID string
	mu     sync.Mutex
	frames [][]byte
}

func (c *recordingConn) ID() string     { return c.id }
func (c *recordingConn) UserID() string { return c.userID }

func (c *recordingConn) Deliver(frame []byte) bool {
	c.mu.Lock()
	c.frames = append(c.frames, frame)
	c.mu.Unlock()
	return true
}

func (c *recordingConn) types(t *testing.T) []protocol.MessageType {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.MessageType, 0, len(c.frames))
	for _, f := range c.frames {
		var msg protocol.WSMessage
		if err := json.Unmarshal(f, &msg); err != nil {
			t.Fatalf("invalid frame %s: %v", f, err)
		}
		out = append(out, msg.Type)
	}
	return out
}

type staticSource []session.Conn

func (s staticSource) Connections() []session.Conn { return s }

type mockRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (m *mockRecorder) Enqueue(userID string) {
	m.mu.Lock()
	m.ids = append(m.ids, userID)
	m.mu.Unlock()
}

type mockMirror struct {
	setOnlineFunc  func(string)
	setOfflineFunc func(string)
	refreshFunc    func(string)
}

func (m *mockMirror) SetOnline(id string) {
	if m.setOnlineFunc != nil {
		m.setOnlineFunc(id)
	}
}

func (m *mockMirror) SetOffline(id string) {
	if m.setOfflineFunc != nil {
		m.setOfflineFunc(id)
	}
}

func (m *mockMirror) Refresh(id string) {
	if m.refreshFunc != nil {
		m.refreshFunc(id)
	}
}

func (m *mockMirror) Close() error { return nil }

func TestBroadcaster_OnlineSkipsOwnConnections(t *testing.T) {
	own := &recordingConn{id: "c1", userID: "u1"}
	ownOther := &recordingConn{id: "c2", userID: "u1"}
	peer := &recordingConn{id: "c3", userID: "u2"}
	recorder := &mockRecorder{}
	var mirrored []string

	b := NewBroadcaster(Deps{
		Connections: staticSource{own, ownOther, peer},
		LastSeen:    recorder,
		Mirror:      &mockMirror{setOnlineFunc: func(id string) { mirrored = append(mirrored, id) }},
		Clock:       clock.NewMockClock(time.Unix(100, 0)),
		Log:         logger.NewDiscard(),
	})

	if got := b.Online("u1"); got != 1 {
		t.Fatalf("expected 1 delivery, got %d", got)
	}
	if len(own.types(t)) != 0 || len(ownOther.types(t)) != 0 {
		t.Error("identity must not receive its own presence event")
	}
	if got := peer.types(t); len(got) != 1 || got[0] != protocol.TypePresenceOnline {
		t.Errorf("expected presence:online for peer, got %v", got)
	}
	if len(recorder.ids) != 1 || recorder.ids[0] != "u1" {
		t.Errorf("expected last_seen enqueue for u1, got %v", recorder.ids)
	}
	if len(mirrored) != 1 || mirrored[0] != "u1" {
		t.Errorf("expected mirror online for u1, got %v", mirrored)
	}
}

func TestBroadcaster_OfflineReachesEveryoneElse(t *testing.T) {
	a := &recordingConn{id: "c1", userID: "u2"}
	b2 := &recordingConn{id: "c2", userID: "u3"}

	b := NewBroadcaster(Deps{
		Connections: staticSource{a, b2},
		Log:         logger.NewDiscard(),
	})

	if got := b.Offline("u1"); got != 2 {
		t.Fatalf("expected 2 deliveries, got %d", got)
	}
	if got := a.types(t); len(got) != 1 || got[0] != protocol.TypePresenceOffline {
		t.Errorf("expected presence:offline, got %v", got)
	}
}

func TestBroadcaster_StatusChangedSkipsOnlyOriginator(t *testing.T) {
	origin := &recordingConn{id: "c1", userID: "u1"}
	sibling := &recordingConn{id: "c2", userID: "u1"}
	peer := &recordingConn{id: "c3", userID: "u2"}

	b := NewBroadcaster(Deps{
		Connections: staticSource{origin, sibling, peer},
		Log:         logger.NewDiscard(),
	})

	if got := b.StatusChanged("u1", protocol.StatusAway, "c1"); got != 2 {
		t.Fatalf("expected 2 deliveries, got %d", got)
	}
	if len(origin.types(t)) != 0 {
		t.Error("originating connection must not receive its own status")
	}
	if got := sibling.types(t); len(got) != 1 || got[0] != protocol.TypeUserStatusChanged {
		t.Errorf("expected sibling to see status change, got %v", got)
	}
}

func TestBroadcaster_HeartbeatRefreshesMirror(t *testing.T) {
	refreshed := 0
	recorder := &mockRecorder{}
	b := NewBroadcaster(Deps{
		Connections: staticSource{},
		LastSeen:    recorder,
		Mirror:      &mockMirror{refreshFunc: func(string) { refreshed++ }},
		Log:         logger.NewDiscard(),
	})

	b.Heartbeat("u1")

	if refreshed != 1 {
		t.Errorf("expected one refresh, got %d", refreshed)
	}
	if len(recorder.ids) != 1 {
		t.Errorf("expected heartbeat to touch last_seen, got %v", recorder.ids)
	}
}

type mockLastSeenStore struct {
	mu      sync.Mutex
	batches [][]userdomain.ID
	err     error
}

func (m *mockLastSeenStore) UpdateLastSeenBatch(_ context.Context, ids []userdomain.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]userdomain.ID(nil), ids...)
	m.batches = append(m.batches, cp)
	return m.err
}

func (m *mockLastSeenStore) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func TestLastSeenUpdater_DebouncesAndFlushesOnStop(t *testing.T) {
	store := &mockLastSeenStore{}
	clk := clock.NewMockClock(time.Unix(1_000, 0))
	u := NewLastSeenUpdater(context.Background(), store, logger.NewDiscard(), time.Minute, nil, clk)

	u.Enqueue("u1")
	u.Enqueue("u1")
	u.Enqueue("u2")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := u.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if got := store.total(); got != 2 {
		t.Errorf("expected 2 identities written, got %d", got)
	}
}

func TestLastSeenUpdater_AllowsUpdateAfterInterval(t *testing.T) {
	store := &mockLastSeenStore{}
	clk := clock.NewMockClock(time.Unix(1_000, 0))
	u := NewLastSeenUpdater(context.Background(), store, logger.NewDiscard(), time.Minute, nil, clk)

	u.Enqueue("u1")
	clk.Advance(2 * time.Minute)
	u.Enqueue("u1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := u.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// Both enqueues may land in one batch as a single pending identity.
	if got := store.total(); got < 1 {
		t.Errorf("expected u1 to be written, got %d writes", got)
	}
}

func TestLastSeenUpdater_StoreErrorDoesNotStopWorker(t *testing.T) {
	store := &mockLastSeenStore{err: errors.New("db down")}
	u := NewLastSeenUpdater(context.Background(), store, logger.NewDiscard(), time.Minute, nil, nil)

	u.Enqueue("u1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := u.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if store.total() != 1 {
		t.Errorf("expected the failing batch to be attempted once, got %d", store.total())
	}
}

type fakeRedis struct {
	mu     sync.Mutex
	ops    []string
	closed bool
}

func (f *fakeRedis) record(op string) {
	f.mu.Lock()
	f.ops = append(f.ops, op)
	f.mu.Unlock()
}

func (f *fakeRedis) Set(_ context.Context, key string, _ interface{}, _ time.Duration) *redis.StatusCmd {
	f.record("set " + key)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, k := range keys {
		f.record("del " + k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (f *fakeRedis) Expire(_ context.Context, key string, _ time.Duration) *redis.BoolCmd {
	f.record("expire " + key)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func TestRedisMirror_AppliesInOrderAndClosesClient(t *testing.T) {
	client := &fakeRedis{}
	m := newRedisMirror(context.Background(), client, time.Hour, logger.NewDiscard())

	m.SetOnline("u1")
	m.Refresh("u1")
	m.Refresh("u2")
	m.SetOffline("u1")

	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	want := []string{"set presence:user:u1", "expire presence:user:u1", "del presence:user:u1"}
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.ops) != len(want) {
		t.Fatalf("expected ops %v, got %v", want, client.ops)
	}
	for i := range want {
		if client.ops[i] != want[i] {
			t.Errorf("op %d: expected %q, got %q", i, want[i], client.ops[i])
		}
	}
	if !client.closed {
		t.Error("expected redis client to be closed")
	}
}
