package websocket

import (
	"context"
	"time"

	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/protocol"
)

func (r *Router) setStatus(_ context.Context, peer Peer, msg protocol.WSMessage) (any, error) {
	var p protocol.SetStatusPayload
	if err := r.validator.Decode(msg.Payload, &p); err != nil {
		return nil, err
	}
	r.hub.StatusChanged(peer, p.Status)
	return protocol.StatusEvent{UserID: peer.UserID(), Status: p.Status, Timestamp: r.clock.Now()}, nil
}

func (r *Router) getOnlineUsers(_ context.Context, _ Peer, msg protocol.WSMessage) (any, error) {
	var p protocol.OnlineUsersPayload
	if err := r.validator.Decode(msg.Payload, &p); err != nil {
		return nil, err
	}
	return protocol.OnlineUsersResult{Online: r.hub.OnlineAmong(p.UserIDs)}, nil
}

type heartbeatResult struct {
	LastSeen time.Time `json:"last_seen"`
}

func (r *Router) heartbeat(_ context.Context, peer Peer, _ protocol.WSMessage) (any, error) {
	return heartbeatResult{LastSeen: r.hub.Heartbeat(peer)}, nil
}
