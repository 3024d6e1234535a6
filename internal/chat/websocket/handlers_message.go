package websocket

import (
	"context"

	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/protocol"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
	"github.com/AlibekovAA/realtime-hub/backend/internal/conversation/domain"
)

func messageEvent(m domain.Message) protocol.MessageEvent {
	return protocol.MessageEvent{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		SenderID:        m.SenderID,
		Body:            m.Body,
		MessageType:     string(m.MessageType),
		ReplyToID:       m.ReplyToID,
		ClientMessageID: m.ClientMessageID,
		IsEdited:        m.IsEdited,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// sendMessage holds the conversation's stripe across authorize, persist and
// broadcast, so every participant sees message:new in commit order. A repeated
// client_message_id for the same conversation returns the first event without
// persisting or broadcasting again.
func (r *Router) sendMessage(ctx context.Context, peer Peer, msg protocol.WSMessage) (any, error) {
	var p protocol.SendMessagePayload
	if err := r.validator.Decode(msg.Payload, &p); err != nil {
		return nil, err
	}

	lock := r.sendLocks.For(p.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	if err := r.authz.RequireParticipant(ctx, peer.UserID(), p.ConversationID); err != nil {
		return nil, err
	}

	if p.ClientMessageID == "" || r.idempotency == nil {
		return r.createAndBroadcast(ctx, peer, p)
	}

	operationID := OperationID(peer.UserID(), msg.Type, p.ConversationID, p.ClientMessageID)
	result, _, err := r.idempotency.Execute(operationID, msg.Type, func() (any, error) {
		return r.createAndBroadcast(ctx, peer, p)
	})
	return result, err
}

func (r *Router) createAndBroadcast(ctx context.Context, peer Peer, p protocol.SendMessagePayload) (any, error) {
	msgType := domain.MessageTypeText
	if p.MessageType != "" {
		msgType = domain.MessageType(p.MessageType)
	}

	var created domain.Message
	err := r.persist(ctx, func(ctx context.Context) error {
		var err error
		created, err = r.messages.CreateMessage(ctx, domain.NewMessage{
			ConversationID:  p.ConversationID,
			SenderID:        peer.UserID(),
			Body:            p.Body,
			MessageType:     msgType,
			ReplyToID:       p.ReplyToID,
			ClientMessageID: p.ClientMessageID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	event := messageEvent(created)
	participants, err := r.authz.Participants(ctx, p.ConversationID)
	if err != nil {
		// The message is committed; the joined room is the best remaining audience.
		r.log.WithFields(ctx, logger.Fields{
			"conversation_id": p.ConversationID,
			"message_id":      created.ID,
			"action":          "ws_participants_lookup_failed",
		}).Warnf("falling back to room fan-out: %v", err)
		r.broadcastRoom(ctx, p.ConversationID, protocol.TypeMessageNew, event, nil)
	} else {
		r.broadcastUsers(ctx, participants, protocol.TypeMessageNew, event, nil)
	}

	return event, nil
}

func (r *Router) editMessage(ctx context.Context, peer Peer, msg protocol.WSMessage) (any, error) {
	var p protocol.EditMessagePayload
	if err := r.validator.Decode(msg.Payload, &p); err != nil {
		return nil, err
	}

	if _, err := r.authz.AuthorizeSender(ctx, peer.UserID(), p.MessageID); err != nil {
		return nil, err
	}

	var edited domain.Message
	err := r.persist(ctx, func(ctx context.Context) error {
		var err error
		edited, err = r.messages.EditMessage(ctx, p.MessageID, p.Body)
		return err
	})
	if err != nil {
		return nil, err
	}

	event := messageEvent(edited)
	r.broadcastRoom(ctx, edited.ConversationID, protocol.TypeMessageUpdated, event, nil)
	return event, nil
}

func (r *Router) deleteMessage(ctx context.Context, peer Peer, msg protocol.WSMessage) (any, error) {
	var p protocol.MessageRefPayload
	if err := r.validator.Decode(msg.Payload, &p); err != nil {
		return nil, err
	}

	ref, err := r.authz.AuthorizeSender(ctx, peer.UserID(), p.MessageID)
	if err != nil {
		return nil, err
	}

	var deleted domain.Message
	err = r.persist(ctx, func(ctx context.Context) error {
		var err error
		deleted, err = r.messages.SoftDeleteMessage(ctx, p.MessageID)
		return err
	})
	if err != nil {
		return nil, err
	}

	event := protocol.MessageDeletedEvent{
		MessageID:      ref.ID,
		ConversationID: ref.ConversationID,
		DeletedBy:      peer.UserID(),
		Timestamp:      deleted.UpdatedAt,
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.clock.Now()
	}
	r.broadcastRoom(ctx, ref.ConversationID, protocol.TypeMessageDeleted, event, nil)
	return event, nil
}

// markRead notifies only the message's sender.
func (r *Router) markRead(ctx context.Context, peer Peer, msg protocol.WSMessage) (any, error) {
	var p protocol.MessageRefPayload
	if err := r.validator.Decode(msg.Payload, &p); err != nil {
		return nil, err
	}

	ref, err := r.authz.AuthorizeMessage(ctx, peer.UserID(), p.MessageID)
	if err != nil {
		return nil, err
	}

	var receipt domain.ReadReceipt
	err = r.persist(ctx, func(ctx context.Context) error {
		var err error
		receipt, err = r.messages.MarkRead(ctx, p.MessageID, peer.UserID())
		return err
	})
	if err != nil {
		return nil, err
	}

	event := protocol.ReadReceiptEvent{
		MessageID:      ref.ID,
		ConversationID: ref.ConversationID,
		UserID:         peer.UserID(),
		ReadAt:         receipt.ReadAt,
	}
	if ref.SenderID != peer.UserID() {
		r.broadcastUsers(ctx, []string{ref.SenderID}, protocol.TypeReadReceipt, event, nil)
	}
	return event, nil
}

func (r *Router) addReaction(ctx context.Context, peer Peer, msg protocol.WSMessage) (any, error) {
	var p protocol.ReactionPayload
	if err := r.validator.Decode(msg.Payload, &p); err != nil {
		return nil, err
	}

	ref, err := r.authz.AuthorizeMessage(ctx, peer.UserID(), p.MessageID)
	if err != nil {
		return nil, err
	}

	var reaction domain.Reaction
	err = r.persist(ctx, func(ctx context.Context) error {
		var err error
		reaction, err = r.messages.AddReaction(ctx, p.MessageID, peer.UserID(), p.Emoji)
		return err
	})
	if err != nil {
		return nil, err
	}

	event := protocol.ReactionEvent{
		MessageID:      ref.ID,
		ConversationID: ref.ConversationID,
		UserID:         peer.UserID(),
		Emoji:          p.Emoji,
		Timestamp:      reaction.ReactedAt,
	}
	r.broadcastRoom(ctx, ref.ConversationID, protocol.TypeReactionAdded, event, nil)
	return event, nil
}

// removeReaction broadcasts only when a reaction was actually removed.
func (r *Router) removeReaction(ctx context.Context, peer Peer, msg protocol.WSMessage) (any, error) {
	var p protocol.ReactionPayload
	if err := r.validator.Decode(msg.Payload, &p); err != nil {
		return nil, err
	}

	ref, err := r.authz.AuthorizeMessage(ctx, peer.UserID(), p.MessageID)
	if err != nil {
		return nil, err
	}

	var removed bool
	err = r.persist(ctx, func(ctx context.Context) error {
		var err error
		removed, err = r.messages.RemoveReaction(ctx, p.MessageID, peer.UserID(), p.Emoji)
		return err
	})
	if err != nil {
		return nil, err
	}

	event := protocol.ReactionEvent{
		MessageID:      ref.ID,
		ConversationID: ref.ConversationID,
		UserID:         peer.UserID(),
		Emoji:          p.Emoji,
		Timestamp:      r.clock.Now(),
	}
	if removed {
		r.broadcastRoom(ctx, ref.ConversationID, protocol.TypeReactionRemoved, event, nil)
	}
	return event, nil
}
