package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/presence"
	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/protocol"
	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/session"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/clock"
	commonerrors "github.com/AlibekovAA/realtime-hub/backend/internal/common/errors"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
	"github.com/AlibekovAA/realtime-hub/backend/internal/observability/metrics"
)

// closer is implemented by connections the hub can close on its own, such as
// during shutdown.
type closer interface {
	CloseWithReason(reason string)
}

type HubDeps struct {
	LastSeen presence.LastSeenRecorder
	Mirror   presence.Mirror
	Clock    clock.Clock
	Log      *logger.Logger
}

// Hub couples the session directory and the room registry. Every change
// that touches both happens under mu held for writing; fan-out snapshots are
// taken under mu held for reading, so a connection that has unregistered can
// never be picked up by a later fan-out.
type Hub struct {
	mu        sync.RWMutex
	directory *session.Directory
	registry  *session.Registry
	presence  *presence.Broadcaster
	pending   sync.Map
	closing   atomic.Bool
	clock     clock.Clock
	log       *logger.Logger
}

func NewHub(deps HubDeps) *Hub {
	clk := deps.Clock
	if clk == nil {
		clk = clock.NewRealClock()
	}
	directory := session.NewDirectory(clk)

	return &Hub{
		directory: directory,
		registry:  session.NewRegistry(),
		presence: presence.NewBroadcaster(presence.Deps{
			Connections: directory,
			LastSeen:    deps.LastSeen,
			Mirror:      deps.Mirror,
			Clock:       clk,
			Log:         deps.Log,
		}),
		clock: clk,
		log:   deps.Log,
	}
}

// Register adds an authenticated connection and joins its personal room.
// presence:online goes out only when this is the identity's first connection.
func (h *Hub) Register(conn session.Conn) error {
	if h.closing.Load() {
		metrics.HubConnectionsRejected.WithLabelValues("shutting_down").Inc()
		return commonerrors.ErrServerBusy
	}

	h.mu.Lock()
	becameOnline := h.directory.Register(conn)
	h.registry.Join(session.UserRoom(conn.UserID()), conn)
	if becameOnline {
		h.presence.Online(conn.UserID())
	}
	h.updateGaugesLocked()
	h.mu.Unlock()

	return nil
}

// Unregister removes conn from the directory and every room it had joined.
// It is a no-op for a connection that never registered.
func (h *Hub) Unregister(conn session.Conn) {
	h.mu.Lock()
	if !h.directory.Has(conn) {
		h.mu.Unlock()
		return
	}
	rooms := h.registry.LeaveAll(conn)
	becameOffline := h.directory.Unregister(conn)
	if becameOffline {
		h.presence.Offline(conn.UserID())
	}
	h.updateGaugesLocked()
	h.mu.Unlock()

	h.log.WithFields(context.Background(), logger.Fields{
		"connection_id": conn.ID(),
		"user_id":       conn.UserID(),
		"rooms":         len(rooms),
		"offline":       becameOffline,
		"action":        "ws_unregister",
	}).Info("websocket client unregistered")
}

func (h *Hub) updateGaugesLocked() {
	identities, connections := h.directory.Counts()
	metrics.HubOnlineIdentities.Set(float64(identities))
	metrics.HubConnectionsActive.Set(float64(connections))
	metrics.HubRoomsActive.Set(float64(h.registry.RoomCount()))
}

func (h *Hub) trackPending(c *Client)  { h.pending.Store(c.ID(), c) }
func (h *Hub) forgetPending(c *Client) { h.pending.Delete(c.ID()) }

// Join puts conn into conversation:<cid>. It fails for a connection that is
// no longer registered.
func (h *Hub) Join(conn session.Conn, conversationID string) (bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.directory.Has(conn) {
		return false, commonerrors.ErrConnectionClosed
	}
	joined := h.registry.Join(session.ConversationRoom(conversationID), conn)
	metrics.HubRoomsActive.Set(float64(h.registry.RoomCount()))
	return joined, nil
}

func (h *Hub) Leave(conn session.Conn, conversationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	left := h.registry.Leave(session.ConversationRoom(conversationID), conn)
	metrics.HubRoomsActive.Set(float64(h.registry.RoomCount()))
	return left
}

func (h *Hub) InRoom(conn session.Conn, conversationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.registry.Contains(session.ConversationRoom(conversationID), conn)
}

// EvictFromConversation removes every connection of userID from the
// conversation room, so a removed participant stops receiving its events.
func (h *Hub) EvictFromConversation(userID, conversationID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := session.ConversationRoom(conversationID)
	evicted := 0
	for _, conn := range h.directory.ConnectionsFor(userID) {
		if h.registry.Leave(room, conn) {
			evicted++
		}
	}
	metrics.HubRoomsActive.Set(float64(h.registry.RoomCount()))
	return evicted
}

// FanoutRoom delivers frame to the conversation room, skipping any
// connection for which skip returns true.
func (h *Hub) FanoutRoom(conversationID string, msgType protocol.MessageType, frame []byte, skip func(session.Conn) bool) int {
	h.mu.RLock()
	members := h.registry.Members(session.ConversationRoom(conversationID))
	h.mu.RUnlock()

	return deliverAll(members, msgType, frame, skip)
}

// FanoutUsers delivers frame to every connection in each user:<id> room.
// Duplicate ids receive the frame once.
func (h *Hub) FanoutUsers(userIDs []string, msgType protocol.MessageType, frame []byte, skip func(session.Conn) bool) int {
	seen := make(map[string]struct{}, len(userIDs))
	var targets []session.Conn

	h.mu.RLock()
	for _, id := range userIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		targets = append(targets, h.registry.Members(session.UserRoom(id))...)
	}
	h.mu.RUnlock()

	return deliverAll(targets, msgType, frame, skip)
}

func deliverAll(targets []session.Conn, msgType protocol.MessageType, frame []byte, skip func(session.Conn) bool) int {
	delivered := 0
	recipients := 0
	for _, conn := range targets {
		if skip != nil && skip(conn) {
			continue
		}
		recipients++
		if conn.Deliver(frame) {
			delivered++
		}
	}
	metrics.HubFanoutRecipients.WithLabelValues(string(msgType)).Observe(float64(recipients))
	return delivered
}

// StatusChanged fans the new status out to every active connection except
// the originating one.
func (h *Hub) StatusChanged(conn session.Conn, status string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.presence.StatusChanged(conn.UserID(), status, conn.ID())
}

func (h *Hub) Heartbeat(conn session.Conn) time.Time {
	at := h.directory.Touch(conn.UserID())
	h.presence.Heartbeat(conn.UserID())
	return at
}

func (h *Hub) IsOnline(userID string) bool {
	return h.directory.IsOnline(userID)
}

// OnlineAmong returns the subset of ids that are online, in input order.
func (h *Hub) OnlineAmong(userIDs []string) []string {
	online := make([]string, 0, len(userIDs))
	seen := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if h.directory.IsOnline(id) {
			online = append(online, id)
		}
	}
	return online
}

func (h *Hub) LastSeen(userID string) (time.Time, bool) {
	return h.directory.LastSeen(userID)
}

func (h *Hub) Counts() (identities, connections int) {
	return h.directory.Counts()
}

// Shutdown refuses new registrations, sends a shutdown frame to every
// connection and closes it, then waits for the connections to unregister.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.closing.Store(true)

	frame, err := protocol.Marshal(protocol.TypeShutdown, protocol.ShutdownPayload{Reason: "server shutting down"})
	if err != nil {
		h.log.WithFields(ctx, logger.Fields{
			"action": "ws_shutdown_marshal",
		}).Errorf("websocket failed to marshal shutdown message: %v", err)
	}

	h.mu.RLock()
	conns := h.directory.Connections()
	h.mu.RUnlock()

	h.pending.Range(func(_, value any) bool {
		conns = append(conns, value.(session.Conn))
		return true
	})

	for _, conn := range conns {
		if frame != nil {
			conn.Deliver(frame)
		}
		if c, ok := conn.(closer); ok {
			c.CloseWithReason(ReasonShutdown)
		}
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, remaining := h.directory.Counts(); remaining == 0 {
			break
		}
		select {
		case <-ctx.Done():
			_, remaining := h.directory.Counts()
			h.log.WithFields(ctx, logger.Fields{
				"remaining": remaining,
				"action":    "ws_shutdown_timeout",
			}).Warn("websocket hub shutdown timed out waiting for connections")
			return ctx.Err()
		case <-ticker.C:
		}
	}

	h.log.WithFields(ctx, logger.Fields{
		"clients": len(conns),
		"action":  "ws_hub_shutdown",
	}).Info("websocket hub shutdown completed")
	return nil
}
