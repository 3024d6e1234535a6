package websocket

import (
	"context"
	"errors"
	"time"

	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/protocol"
	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/session"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/clock"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/constants"
	commonerrors "github.com/AlibekovAA/realtime-hub/backend/internal/common/errors"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/resilience"
	"github.com/AlibekovAA/realtime-hub/backend/internal/conversation/domain"
	"github.com/AlibekovAA/realtime-hub/backend/internal/observability/metrics"
)

// Peer is the sending side of an event: a registered connection plus the
// username carried into typing events.
type Peer interface {
	session.Conn
	Username() string
}

type Authorizer interface {
	RequireParticipant(ctx context.Context, userID, conversationID string) error
	Participants(ctx context.Context, conversationID string) ([]string, error)
	AuthorizeMessage(ctx context.Context, userID, messageID string) (domain.MessageRef, error)
	AuthorizeSender(ctx context.Context, userID, messageID string) (domain.MessageRef, error)
	RequireAdmin(ctx context.Context, userID, conversationID string) error
}

type MessageStore interface {
	CreateMessage(ctx context.Context, msg domain.NewMessage) (domain.Message, error)
	EditMessage(ctx context.Context, messageID, body string) (domain.Message, error)
	SoftDeleteMessage(ctx context.Context, messageID string) (domain.Message, error)
	MarkRead(ctx context.Context, messageID, userID string) (domain.ReadReceipt, error)
	AddReaction(ctx context.Context, messageID, userID, emoji string) (domain.Reaction, error)
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)
}

type ParticipantStore interface {
	AddParticipant(ctx context.Context, conversationID, userID string, role domain.Role) (domain.Participant, error)
	RemoveParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

type RouterDeps struct {
	Hub            *Hub
	Authz          Authorizer
	Messages       MessageStore
	Participants   ParticipantStore
	Validator      *PayloadValidator
	Idempotency    *IdempotencyTracker
	CircuitBreaker *resilience.CircuitBreaker
	Clock          clock.Clock
	Log            *logger.Logger
	RequestTimeout time.Duration
}

type handlerFunc func(ctx context.Context, peer Peer, msg protocol.WSMessage) (any, error)

// Router dispatches one inbound event: authorize, persist, broadcast, then a
// single reply to the caller. Errors are only ever sent to the caller.
type Router struct {
	hub            *Hub
	authz          Authorizer
	messages       MessageStore
	participants   ParticipantStore
	validator      *PayloadValidator
	idempotency    *IdempotencyTracker
	circuitBreaker *resilience.CircuitBreaker
	clock          clock.Clock
	log            *logger.Logger
	requestTimeout time.Duration
	sendLocks      *stripedLock
	handlers       map[protocol.MessageType]handlerFunc
}

func NewRouter(deps RouterDeps) *Router {
	clk := deps.Clock
	if clk == nil {
		clk = clock.NewRealClock()
	}
	validator := deps.Validator
	if validator == nil {
		validator = NewPayloadValidator()
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = constants.DefaultHubRequestTimeout
	}

	r := &Router{
		hub:            deps.Hub,
		authz:          deps.Authz,
		messages:       deps.Messages,
		participants:   deps.Participants,
		validator:      validator,
		idempotency:    deps.Idempotency,
		circuitBreaker: deps.CircuitBreaker,
		clock:          clk,
		log:            deps.Log,
		requestTimeout: timeout,
		sendLocks:      newStripedLock(constants.ConversationLockStripes),
	}

	r.handlers = map[protocol.MessageType]handlerFunc{
		protocol.TypeJoinConversation:    r.joinConversation,
		protocol.TypeLeaveConversation:   r.leaveConversation,
		protocol.TypeSendMessage:         r.sendMessage,
		protocol.TypeEditMessage:         r.editMessage,
		protocol.TypeDeleteMessage:       r.deleteMessage,
		protocol.TypeTypingStart:         r.typingStart,
		protocol.TypeTypingStop:          r.typingStop,
		protocol.TypeMarkRead:            r.markRead,
		protocol.TypeAddReaction:         r.addReaction,
		protocol.TypeRemoveReaction:      r.removeReaction,
		protocol.TypeAddParticipant:      r.addParticipant,
		protocol.TypeRemoveParticipant:   r.removeParticipant,
		protocol.TypeConversationCreated: r.conversationCreated,
		protocol.TypeSetStatus:           r.setStatus,
		protocol.TypeGetOnlineUsers:      r.getOnlineUsers,
		protocol.TypeHeartbeat:           r.heartbeat,
	}

	return r
}

func (r *Router) Route(ctx context.Context, peer Peer, msg protocol.WSMessage) error {
	handler, ok := r.handlers[msg.Type]
	if !ok {
		err := commonerrors.ErrUnknownMessageType
		if msg.Type == protocol.TypeAuth {
			err = commonerrors.ErrInvalidPayload.WithCause(errors.New("connection is already authenticated"))
		}
		r.reply(ctx, peer, msg, nil, err)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	data, err := handler(ctx, peer, msg)
	r.reply(ctx, peer, msg, data, err)

	if err != nil {
		code := commonerrors.ErrInternalError.Code()
		if de, ok := commonerrors.AsDomainError(err); ok {
			code = de.Code()
		}
		metrics.HubEventErrors.WithLabelValues(code).Inc()
		r.log.WithFields(ctx, logger.Fields{
			"connection_id": peer.ID(),
			"user_id":       peer.UserID(),
			"type":          string(msg.Type),
			"code":          code,
			"action":        "ws_event_rejected",
		}).Infof("websocket event rejected: %v", err)
		return err
	}

	metrics.HubEventsTotal.WithLabelValues(string(msg.Type)).Inc()
	return nil
}

func (r *Router) reply(ctx context.Context, peer Peer, msg protocol.WSMessage, data any, err error) {
	frame, ok := buildReply(msg.RequestID, data, err)
	if !ok {
		return
	}
	if !peer.Deliver(frame) {
		r.log.WithFields(ctx, logger.Fields{
			"connection_id": peer.ID(),
			"type":          string(msg.Type),
			"action":        "ws_reply_dropped",
		}).Debug("websocket reply not delivered")
	}
}

// buildReply renders an ack when the event carried a request id and an error
// frame for an uncorrelated failure. An uncorrelated success gets no reply.
func buildReply(requestID string, data any, err error) ([]byte, bool) {
	var (
		frame []byte
		merr  error
	)
	switch {
	case requestID != "":
		ack := protocol.AckPayload{RequestID: requestID, OK: err == nil, Data: data}
		if err != nil {
			ep := protocol.ErrorFromDomain(err)
			ack.Error = &ep
			ack.Data = nil
		}
		frame, merr = protocol.MarshalWithRequest(protocol.TypeAck, requestID, ack)
	case err != nil:
		frame, merr = protocol.Marshal(protocol.TypeError, protocol.ErrorFromDomain(err))
	default:
		return nil, false
	}
	if merr != nil {
		return nil, false
	}
	return frame, true
}

// persist runs a store write behind the circuit breaker. Anything that is
// not already a domain error is reported as ErrPersistence.
func (r *Router) persist(ctx context.Context, fn func(context.Context) error) error {
	var err error
	if r.circuitBreaker != nil {
		err = r.circuitBreaker.Call(ctx, fn)
	} else {
		err = fn(ctx)
	}
	if err == nil {
		return nil
	}
	if commonerrors.IsDomainError(err) {
		return err
	}
	return commonerrors.ErrPersistence.WithCause(err)
}

func (r *Router) broadcastRoom(ctx context.Context, conversationID string, msgType protocol.MessageType, payload any, skip func(session.Conn) bool) int {
	frame, err := protocol.Marshal(msgType, payload)
	if err != nil {
		r.logMarshalFailure(ctx, msgType, err)
		return 0
	}
	return r.hub.FanoutRoom(conversationID, msgType, frame, skip)
}

func (r *Router) broadcastUsers(ctx context.Context, userIDs []string, msgType protocol.MessageType, payload any, skip func(session.Conn) bool) int {
	frame, err := protocol.Marshal(msgType, payload)
	if err != nil {
		r.logMarshalFailure(ctx, msgType, err)
		return 0
	}
	return r.hub.FanoutUsers(userIDs, msgType, frame, skip)
}

func (r *Router) logMarshalFailure(ctx context.Context, msgType protocol.MessageType, err error) {
	r.log.WithFields(ctx, logger.Fields{
		"type":   string(msgType),
		"action": "ws_marshal_failed",
	}).Errorf("websocket failed to marshal event: %v", err)
}

func sameIdentity(peer Peer) func(session.Conn) bool {
	userID := peer.UserID()
	return func(c session.Conn) bool { return c.UserID() == userID }
}
