package domain

import "time"

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

type Participant struct {
	ConversationID string
	UserID         string
	Role           Role
	JoinedAt       time.Time
}

type Message struct {
	ID              string
	ConversationID  string
	SenderID        string
	Body            string
	MessageType     MessageType
	ReplyToID       *string
	ClientMessageID *string
	IsEdited        bool
	IsDeleted       bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewMessage carries the caller-supplied fields; id and timestamps come from the store.
type NewMessage struct {
	ConversationID  string
	SenderID        string
	Body            string
	MessageType     MessageType
	ReplyToID       string
	ClientMessageID string
}

// MessageRef is what authorization needs to know about an existing message.
type MessageRef struct {
	ID             string
	ConversationID string
	SenderID       string
	IsDeleted      bool
}

type ReadReceipt struct {
	MessageID string
	UserID    string
	ReadAt    time.Time
}

type Reaction struct {
	MessageID string
	UserID    string
	Emoji     string
	ReactedAt time.Time
}
