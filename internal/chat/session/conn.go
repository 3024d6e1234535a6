package session

import "strings"

// Conn is one live transport session owned by a single identity.
type Conn interface {
	ID() string
	UserID() string
	// Deliver enqueues a frame without blocking and reports whether it was accepted.
	Deliver(frame []byte) bool
}

const (
	userRoomPrefix         = "user:"
	conversationRoomPrefix = "conversation:"
)

func UserRoom(userID string) string {
	return userRoomPrefix + userID
}

func ConversationRoom(conversationID string) string {
	return conversationRoomPrefix + conversationID
}

// ConversationFromRoom returns the conversation id of a conversation room key.
func ConversationFromRoom(room string) (string, bool) {
	if !strings.HasPrefix(room, conversationRoomPrefix) {
		return "", false
	}
	return strings.TrimPrefix(room, conversationRoomPrefix), true
}
