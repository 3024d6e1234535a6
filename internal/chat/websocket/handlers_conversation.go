package websocket

import (
	"context"

	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/protocol"
	commonerrors "github.com/AlibekovAA/realtime-hub/backend/internal/common/errors"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
	"github.com/AlibekovAA/realtime-hub/backend/internal/conversation/domain"
)

type joinResult struct {
	ConversationID string `json:"conversation_id"`
	Joined         bool   `json:"joined"`
}

type leaveResult struct {
	ConversationID string `json:"conversation_id"`
	Left           bool   `json:"left"`
}

func (r *Router) joinConversation(ctx context.Context, peer Peer, msg protocol.WSMessage) (any, error) {
	var p protocol.ConversationPayload
	if err := r.validator.Decode(msg.Payload, &p); err != nil {
		return nil, err
	}

	if err := r.authz.RequireParticipant(ctx, peer.UserID(), p.ConversationID); err != nil {
		r.log.WithFields(ctx, logger.Fields{
			"connection_id":   peer.ID(),
			"user_id":         peer.UserID(),
			"conversation_id": p.ConversationID,
			"action":          "ws_join_denied",
		}).Info("websocket join denied")
		return nil, err
	}

	joined, err := r.hub.Join(peer, p.ConversationID)
	if err != nil {
		return nil, err
	}
	return joinResult{ConversationID: p.ConversationID, Joined: joined}, nil
}

func (r *Router) leaveConversation(_ context.Context, peer Peer, msg protocol.WSMessage) (any, error) {
	var p protocol.ConversationPayload
	if err := r.validator.Decode(msg.Payload, &p); err != nil {
		return nil, err
	}
	return leaveResult{ConversationID: p.ConversationID, Left: r.hub.Leave(peer, p.ConversationID)}, nil
}

func (r *Router) typingStart(ctx context.Context, peer Peer, msg protocol.WSMessage) (any, error) {
	return r.typing(ctx, peer, msg, protocol.TypeUserTyping)
}

func (r *Router) typingStop(ctx context.Context, peer Peer, msg protocol.WSMessage) (any, error) {
	return r.typing(ctx, peer, msg, protocol.TypeTypingStopped)
}

// typing trusts room membership instead of querying the store: only a
// connection that passed the join check can be in the room.
func (r *Router) typing(ctx context.Context, peer Peer, msg protocol.WSMessage, out protocol.MessageType) (any, error) {
	var p protocol.ConversationPayload
	if err := r.validator.Decode(msg.Payload, &p); err != nil {
		return nil, err
	}
	if !r.hub.InRoom(peer, p.ConversationID) {
		return nil, commonerrors.ErrNotInConversationRoom
	}

	r.broadcastRoom(ctx, p.ConversationID, out, protocol.TypingEvent{
		ConversationID: p.ConversationID,
		UserID:         peer.UserID(),
		Username:       peer.Username(),
	}, sameIdentity(peer))
	return nil, nil
}

func (r *Router) addParticipant(ctx context.Context, peer Peer, msg protocol.WSMessage) (any, error) {
	var p protocol.ParticipantPayload
	if err := r.validator.Decode(msg.Payload, &p); err != nil {
		return nil, err
	}

	if err := r.authz.RequireAdmin(ctx, peer.UserID(), p.ConversationID); err != nil {
		return nil, err
	}

	var participant domain.Participant
	err := r.persist(ctx, func(ctx context.Context) error {
		var err error
		participant, err = r.participants.AddParticipant(ctx, p.ConversationID, p.UserID, domain.RoleMember)
		return err
	})
	if err != nil {
		return nil, err
	}

	now := r.clock.Now()
	event := protocol.ParticipantEvent{
		ConversationID: p.ConversationID,
		UserID:         p.UserID,
		Role:           string(participant.Role),
		ActorID:        peer.UserID(),
		Timestamp:      now,
	}
	r.broadcastRoom(ctx, p.ConversationID, protocol.TypeParticipantAdded, event, nil)
	r.broadcastUsers(ctx, []string{p.UserID}, protocol.TypeAddedToConversation, protocol.ConversationEvent{
		ConversationID: p.ConversationID,
		ActorID:        peer.UserID(),
		Timestamp:      now,
	}, nil)
	return event, nil
}

// removeParticipant allows an admin to remove anyone and any participant to
// remove themselves.
func (r *Router) removeParticipant(ctx context.Context, peer Peer, msg protocol.WSMessage) (any, error) {
	var p protocol.ParticipantPayload
	if err := r.validator.Decode(msg.Payload, &p); err != nil {
		return nil, err
	}

	if p.UserID == peer.UserID() {
		if err := r.authz.RequireParticipant(ctx, peer.UserID(), p.ConversationID); err != nil {
			return nil, err
		}
	} else if err := r.authz.RequireAdmin(ctx, peer.UserID(), p.ConversationID); err != nil {
		return nil, err
	}

	var removed bool
	err := r.persist(ctx, func(ctx context.Context) error {
		var err error
		removed, err = r.participants.RemoveParticipant(ctx, p.ConversationID, p.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, commonerrors.ErrNotFound
	}

	evicted := r.hub.EvictFromConversation(p.UserID, p.ConversationID)
	r.log.WithFields(ctx, logger.Fields{
		"conversation_id": p.ConversationID,
		"user_id":         p.UserID,
		"actor_id":        peer.UserID(),
		"evicted":         evicted,
		"action":          "ws_participant_removed",
	}).Info("participant removed")

	now := r.clock.Now()
	event := protocol.ParticipantEvent{
		ConversationID: p.ConversationID,
		UserID:         p.UserID,
		ActorID:        peer.UserID(),
		Timestamp:      now,
	}
	r.broadcastRoom(ctx, p.ConversationID, protocol.TypeParticipantRemoved, event, nil)
	r.broadcastUsers(ctx, []string{p.UserID}, protocol.TypeRemovedFromConversation, protocol.ConversationEvent{
		ConversationID: p.ConversationID,
		ActorID:        peer.UserID(),
		Timestamp:      now,
	}, nil)
	return event, nil
}

// conversationCreated announces a conversation to its participants as the
// store reports them; a client-supplied recipient list is never trusted.
func (r *Router) conversationCreated(ctx context.Context, peer Peer, msg protocol.WSMessage) (any, error) {
	var p protocol.ConversationPayload
	if err := r.validator.Decode(msg.Payload, &p); err != nil {
		return nil, err
	}

	if err := r.authz.RequireParticipant(ctx, peer.UserID(), p.ConversationID); err != nil {
		return nil, err
	}
	participants, err := r.authz.Participants(ctx, p.ConversationID)
	if err != nil {
		return nil, err
	}

	event := protocol.ConversationEvent{
		ConversationID: p.ConversationID,
		ActorID:        peer.UserID(),
		Timestamp:      r.clock.Now(),
	}
	delivered := r.broadcastUsers(ctx, participants, protocol.TypeConversationNew, event, sameIdentity(peer))
	return map[string]int{"delivered": delivered}, nil
}
