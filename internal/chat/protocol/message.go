package protocol

import (
	"encoding/json"
	"time"
)

type MessageType string

// Inbound, client to hub.
const (
	TypeAuth                MessageType = "auth"
	TypeJoinConversation    MessageType = "join-conversation"
	TypeLeaveConversation   MessageType = "leave-conversation"
	TypeSendMessage         MessageType = "send-message"
	TypeEditMessage         MessageType = "edit-message"
	TypeDeleteMessage       MessageType = "delete-message"
	TypeTypingStart         MessageType = "typing-start"
	TypeTypingStop          MessageType = "typing-stop"
	TypeMarkRead            MessageType = "mark-read"
	TypeAddReaction         MessageType = "add-reaction"
	TypeRemoveReaction      MessageType = "remove-reaction"
	TypeAddParticipant      MessageType = "add-participant"
	TypeRemoveParticipant   MessageType = "remove-participant"
	TypeConversationCreated MessageType = "conversation-created"
	TypeSetStatus           MessageType = "set-status"
	TypeGetOnlineUsers      MessageType = "get-online-users"
	TypeHeartbeat           MessageType = "heartbeat"
)

// Outbound, hub to client.
const (
	TypeMessageNew              MessageType = "message:new"
	TypeMessageUpdated          MessageType = "message:updated"
	TypeMessageDeleted          MessageType = "message:deleted"
	TypePresenceOnline          MessageType = "presence:online"
	TypePresenceOffline         MessageType = "presence:offline"
	TypeUserTyping              MessageType = "user-typing"
	TypeTypingStopped           MessageType = "typing-stopped"
	TypeReadReceipt             MessageType = "read-receipt"
	TypeReactionAdded           MessageType = "reaction-added"
	TypeReactionRemoved         MessageType = "reaction-removed"
	TypeParticipantAdded        MessageType = "participant-added"
	TypeParticipantRemoved      MessageType = "participant-removed"
	TypeAddedToConversation     MessageType = "added-to-conversation"
	TypeRemovedFromConversation MessageType = "removed-from-conversation"
	TypeConversationNew         MessageType = "conversation:new"
	TypeUserStatusChanged       MessageType = "user-status-changed"
	TypeAck                     MessageType = "ack"
	TypeError                   MessageType = "error"
	TypeAuthResult              MessageType = "auth-result"
	TypeShutdown                MessageType = "shutdown"
)

func (mt MessageType) String() string {
	return string(mt)
}

// IsInbound reports whether clients may send this type.
func (mt MessageType) IsInbound() bool {
	switch mt {
	case TypeAuth, TypeJoinConversation, TypeLeaveConversation, TypeSendMessage,
		TypeEditMessage, TypeDeleteMessage, TypeTypingStart, TypeTypingStop,
		TypeMarkRead, TypeAddReaction, TypeRemoveReaction, TypeAddParticipant,
		TypeRemoveParticipant, TypeConversationCreated, TypeSetStatus,
		TypeGetOnlineUsers, TypeHeartbeat:
		return true
	default:
		return false
	}
}

type WSMessage struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Status values accepted by set-status.
const (
	StatusOnline = "online"
	StatusAway   = "away"
	StatusBusy   = "busy"
	StatusDND    = "dnd"
)

type AuthPayload struct {
	Token string `json:"token" validate:"required,max=4096"`
}

type ConversationPayload struct {
	ConversationID string `json:"conversation_id" validate:"required,notblank,max=64"`
}

type SendMessagePayload struct {
	ConversationID  string `json:"conversation_id" validate:"required,notblank,max=64"`
	Body            string `json:"body" validate:"required,notblank,max=4000"`
	MessageType     string `json:"message_type,omitempty" validate:"omitempty,oneof=text image file"`
	ReplyToID       string `json:"reply_to_id,omitempty" validate:"omitempty,notblank,max=64"`
	ClientMessageID string `json:"client_message_id,omitempty" validate:"omitempty,max=128"`
}

type EditMessagePayload struct {
	MessageID string `json:"message_id" validate:"required,notblank,max=64"`
	Body      string `json:"body" validate:"required,notblank,max=4000"`
}

type MessageRefPayload struct {
	MessageID string `json:"message_id" validate:"required,notblank,max=64"`
}

type ReactionPayload struct {
	MessageID string `json:"message_id" validate:"required,notblank,max=64"`
	Emoji     string `json:"emoji" validate:"required,notblank,max=32"`
}

type ParticipantPayload struct {
	ConversationID string `json:"conversation_id" validate:"required,notblank,max=64"`
	UserID         string `json:"user_id" validate:"required,notblank,max=64"`
}

type SetStatusPayload struct {
	Status string `json:"status" validate:"required,oneof=online away busy dnd"`
}

type OnlineUsersPayload struct {
	UserIDs []string `json:"user_ids" validate:"required,max=200,dive,required,notblank,max=64"`
}

type MessageEvent struct {
	ID              string    `json:"id"`
	ConversationID  string    `json:"conversation_id"`
	SenderID        string    `json:"sender_id"`
	Body            string    `json:"body"`
	MessageType     string    `json:"message_type"`
	ReplyToID       *string   `json:"reply_to_id,omitempty"`
	ClientMessageID *string   `json:"client_message_id,omitempty"`
	IsEdited        bool      `json:"is_edited"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type MessageDeletedEvent struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	DeletedBy      string    `json:"deleted_by"`
	Timestamp      time.Time `json:"timestamp"`
}

type PresenceEvent struct {
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

type StatusEvent struct {
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type TypingEvent struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
}

type ReadReceiptEvent struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	ReadAt         time.Time `json:"read_at"`
}

type ReactionEvent struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Emoji          string    `json:"emoji"`
	Timestamp      time.Time `json:"timestamp"`
}

type ParticipantEvent struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Role           string    `json:"role,omitempty"`
	ActorID        string    `json:"actor_id"`
	Timestamp      time.Time `json:"timestamp"`
}

type ConversationEvent struct {
	ConversationID string    `json:"conversation_id"`
	ActorID        string    `json:"actor_id"`
	Timestamp      time.Time `json:"timestamp"`
}

type OnlineUsersResult struct {
	Online []string `json:"online"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type AckPayload struct {
	RequestID string        `json:"request_id"`
	OK        bool          `json:"ok"`
	Data      any           `json:"data,omitempty"`
	Error     *ErrorPayload `json:"error,omitempty"`
}

type AuthResultPayload struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	ConnectionID  string `json:"connection_id,omitempty"`
	Code          string `json:"code,omitempty"`
	Message       string `json:"message,omitempty"`
}

type ShutdownPayload struct {
	Reason string `json:"reason"`
}
