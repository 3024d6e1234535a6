package presence

import (
	"context"

	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/protocol"
	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/session"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/clock"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
	"github.com/AlibekovAA/realtime-hub/backend/internal/observability/metrics"
)

type ConnectionSource interface {
	Connections() []session.Conn
}

type LastSeenRecorder interface {
	Enqueue(userID string)
}

type Deps struct {
	Connections ConnectionSource
	LastSeen    LastSeenRecorder
	Mirror      Mirror
	Clock       clock.Clock
	Log         *logger.Logger
}

// Broadcaster announces identity-level presence transitions. Delivery is
// best effort: a recipient with a full queue is handled by its own overflow
// policy and never slows the announcement down.
type Broadcaster struct {
	conns    ConnectionSource
	lastSeen LastSeenRecorder
	mirror   Mirror
	clock    clock.Clock
	log      *logger.Logger
}

func NewBroadcaster(deps Deps) *Broadcaster {
	clk := deps.Clock
	if clk == nil {
		clk = clock.NewRealClock()
	}
	mirror := deps.Mirror
	if mirror == nil {
		mirror = NopMirror{}
	}
	return &Broadcaster{
		conns:    deps.Connections,
		lastSeen: deps.LastSeen,
		mirror:   mirror,
		clock:    clk,
		log:      deps.Log,
	}
}

// Online must be called once per offline-to-online transition.
func (b *Broadcaster) Online(userID string) int {
	b.touchLastSeen(userID)
	b.mirror.SetOnline(userID)
	return b.broadcast("online", protocol.TypePresenceOnline,
		protocol.PresenceEvent{UserID: userID, Timestamp: b.clock.Now()},
		func(c session.Conn) bool { return c.UserID() == userID },
	)
}

// Offline must be called once per online-to-offline transition.
func (b *Broadcaster) Offline(userID string) int {
	b.touchLastSeen(userID)
	b.mirror.SetOffline(userID)
	return b.broadcast("offline", protocol.TypePresenceOffline,
		protocol.PresenceEvent{UserID: userID, Timestamp: b.clock.Now()},
		func(c session.Conn) bool { return c.UserID() == userID },
	)
}

// StatusChanged reaches every active connection except the one that set it,
// so the identity's other devices learn the new status too.
func (b *Broadcaster) StatusChanged(userID, status, exceptConnID string) int {
	return b.broadcast("status", protocol.TypeUserStatusChanged,
		protocol.StatusEvent{UserID: userID, Status: status, Timestamp: b.clock.Now()},
		func(c session.Conn) bool { return c.ID() == exceptConnID },
	)
}

func (b *Broadcaster) Heartbeat(userID string) {
	b.touchLastSeen(userID)
	b.mirror.Refresh(userID)
}

func (b *Broadcaster) touchLastSeen(userID string) {
	if b.lastSeen != nil {
		b.lastSeen.Enqueue(userID)
	}
}

func (b *Broadcaster) broadcast(kind string, msgType protocol.MessageType, payload any, skip func(session.Conn) bool) int {
	frame, err := protocol.Marshal(msgType, payload)
	if err != nil {
		b.log.WithFields(context.Background(), logger.Fields{
			"kind":   kind,
			"action": "presence_marshal_failed",
		}).Errorf("failed to encode presence event: %v", err)
		return 0
	}

	delivered := 0
	targets := 0
	for _, c := range b.conns.Connections() {
		if skip(c) {
			continue
		}
		targets++
		if c.Deliver(frame) {
			delivered++
		}
	}

	metrics.HubPresenceBroadcasts.WithLabelValues(kind).Inc()
	metrics.HubFanoutRecipients.WithLabelValues(string(msgType)).Observe(float64(targets))
	return delivered
}
