package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/authz"
	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/protocol"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/clock"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
	"github.com/AlibekovAA/realtime-hub/backend/internal/conversation/domain"
)

const (
	convID  = "11111111-1111-4111-8111-111111111111"
	alice   = "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa"
	bob     = "bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb"
	carol   = "cccccccc-cccc-4ccc-8ccc-cccccccccccc"
	msgID   = "dddddddd-dddd-4ddd-8ddd-dddddddddddd"
	stamp   = 1_700_000_000
	testReq = "req-1"
)

type fakePeer struct {
	id       string
	userID   string
	username string
	full     bool

	mu     sync.Mutex
	frames [][]byte
	closed string
}

func newPeer(id, userID string) *fakePeer {
	return &fakePeer{id: id, userID: userID, username: "name-" + userID[:4]}
}

func (p *fakePeer) ID() string       { return p.id }
func (p *fakePeer) UserID() string   { return p.userID }
func (p *fakePeer) Username() string { return p.username }

func (p *fakePeer) Deliver(frame []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full {
		return false
	}
	p.frames = append(p.frames, frame)
	return true
}

func (p *fakePeer) CloseWithReason(reason string) {
	p.mu.Lock()
	p.closed = reason
	p.mu.Unlock()
}

func (p *fakePeer) messages(t *testing.T) []protocol.WSMessage {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]protocol.WSMessage, 0, len(p.frames))
	for _, f := range p.frames {
		var m protocol.WSMessage
		if err := json.Unmarshal(f, &m); err != nil {
			t.Fatalf("peer %s got invalid frame %s: %v", p.id, f, err)
		}
		out = append(out, m)
	}
	return out
}

func (p *fakePeer) ofType(t *testing.T, msgType protocol.MessageType) []protocol.WSMessage {
	t.Helper()
	var out []protocol.WSMessage
	for _, m := range p.messages(t) {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	p.frames = nil
	p.mu.Unlock()
}

func (p *fakePeer) lastAck(t *testing.T) protocol.AckPayload {
	t.Helper()
	acks := p.ofType(t, protocol.TypeAck)
	if len(acks) == 0 {
		t.Fatalf("peer %s received no ack", p.id)
	}
	var ack protocol.AckPayload
	if err := json.Unmarshal(acks[len(acks)-1].Payload, &ack); err != nil {
		t.Fatalf("invalid ack payload: %v", err)
	}
	return ack
}

type mockMembership struct {
	isParticipantFunc    func(ctx context.Context, userID, conversationID string) (bool, error)
	listParticipantsFunc func(ctx context.Context, conversationID string) ([]string, error)
	isAdminFunc          func(ctx context.Context, userID, conversationID string) (bool, error)
}

func (m *mockMembership) IsParticipant(ctx context.Context, userID, conversationID string) (bool, error) {
	if m.isParticipantFunc != nil {
		return m.isParticipantFunc(ctx, userID, conversationID)
	}
	return false, nil
}

func (m *mockMembership) ListParticipants(ctx context.Context, conversationID string) ([]string, error) {
	if m.listParticipantsFunc != nil {
		return m.listParticipantsFunc(ctx, conversationID)
	}
	return nil, nil
}

func (m *mockMembership) IsAdmin(ctx context.Context, userID, conversationID string) (bool, error) {
	if m.isAdminFunc != nil {
		return m.isAdminFunc(ctx, userID, conversationID)
	}
	return false, nil
}

// conversationOf builds a membership store for one conversation. The first
// user is its admin.
func conversationOf(users ...string) *mockMembership {
	return &mockMembership{
		isParticipantFunc: func(_ context.Context, userID, conversationID string) (bool, error) {
			if conversationID != convID {
				return false, nil
			}
			for _, u := range users {
				if u == userID {
					return true, nil
				}
			}
			return false, nil
		},
		listParticipantsFunc: func(_ context.Context, conversationID string) ([]string, error) {
			if conversationID != convID {
				return nil, nil
			}
			return append([]string(nil), users...), nil
		},
		isAdminFunc: func(_ context.Context, userID, conversationID string) (bool, error) {
			return conversationID == convID && len(users) > 0 && users[0] == userID, nil
		},
	}
}

type mockMessageStore struct {
	getMessageRefFunc     func(ctx context.Context, messageID string) (domain.MessageRef, error)
	createMessageFunc     func(ctx context.Context, msg domain.NewMessage) (domain.Message, error)
	editMessageFunc       func(ctx context.Context, messageID, body string) (domain.Message, error)
	softDeleteMessageFunc func(ctx context.Context, messageID string) (domain.Message, error)
	markReadFunc          func(ctx context.Context, messageID, userID string) (domain.ReadReceipt, error)
	addReactionFunc       func(ctx context.Context, messageID, userID, emoji string) (domain.Reaction, error)
	removeReactionFunc    func(ctx context.Context, messageID, userID, emoji string) (bool, error)

	mu          sync.Mutex
	createCalls int
}

func (m *mockMessageStore) GetMessageRef(ctx context.Context, messageID string) (domain.MessageRef, error) {
	if m.getMessageRefFunc != nil {
		return m.getMessageRefFunc(ctx, messageID)
	}
	return domain.MessageRef{ID: messageID, ConversationID: convID, SenderID: alice}, nil
}

func (m *mockMessageStore) CreateMessage(ctx context.Context, msg domain.NewMessage) (domain.Message, error) {
	m.mu.Lock()
	m.createCalls++
	n := m.createCalls
	m.mu.Unlock()
	if m.createMessageFunc != nil {
		return m.createMessageFunc(ctx, msg)
	}
	created := time.Unix(stamp+int64(n), 0).UTC()
	return domain.Message{
		ID:             msgID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Body:           msg.Body,
		MessageType:    msg.MessageType,
		CreatedAt:      created,
		UpdatedAt:      created,
	}, nil
}

func (m *mockMessageStore) creates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls
}

func (m *mockMessageStore) EditMessage(ctx context.Context, messageID, body string) (domain.Message, error) {
	if m.editMessageFunc != nil {
		return m.editMessageFunc(ctx, messageID, body)
	}
	return domain.Message{ID: messageID, ConversationID: convID, SenderID: alice, Body: body, IsEdited: true}, nil
}

func (m *mockMessageStore) SoftDeleteMessage(ctx context.Context, messageID string) (domain.Message, error) {
	if m.softDeleteMessageFunc != nil {
		return m.softDeleteMessageFunc(ctx, messageID)
	}
	return domain.Message{ID: messageID, ConversationID: convID, SenderID: alice, IsDeleted: true}, nil
}

func (m *mockMessageStore) MarkRead(ctx context.Context, messageID, userID string) (domain.ReadReceipt, error) {
	if m.markReadFunc != nil {
		return m.markReadFunc(ctx, messageID, userID)
	}
	return domain.ReadReceipt{MessageID: messageID, UserID: userID, ReadAt: time.Unix(stamp, 0)}, nil
}

func (m *mockMessageStore) AddReaction(ctx context.Context, messageID, userID, emoji string) (domain.Reaction, error) {
	if m.addReactionFunc != nil {
		return m.addReactionFunc(ctx, messageID, userID, emoji)
	}
	return domain.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji, ReactedAt: time.Unix(stamp, 0)}, nil
}

func (m *mockMessageStore) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	if m.removeReactionFunc != nil {
		return m.removeReactionFunc(ctx, messageID, userID, emoji)
	}
	return true, nil
}

type mockParticipantStore struct {
	addParticipantFunc    func(ctx context.Context, conversationID, userID string, role domain.Role) (domain.Participant, error)
	removeParticipantFunc func(ctx context.Context, conversationID, userID string) (bool, error)
}

func (m *mockParticipantStore) AddParticipant(ctx context.Context, conversationID, userID string, role domain.Role) (domain.Participant, error) {
	if m.addParticipantFunc != nil {
		return m.addParticipantFunc(ctx, conversationID, userID, role)
	}
	return domain.Participant{ConversationID: conversationID, UserID: userID, Role: role}, nil
}

func (m *mockParticipantStore) RemoveParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	if m.removeParticipantFunc != nil {
		return m.removeParticipantFunc(ctx, conversationID, userID)
	}
	return true, nil
}

type routerFixture struct {
	hub          *Hub
	router       *Router
	members      *mockMembership
	messages     *mockMessageStore
	participants *mockParticipantStore
	idempotency  *IdempotencyTracker
	clock        *clock.MockClock
}

func newRouterFixture(t *testing.T, members *mockMembership) *routerFixture {
	t.Helper()
	log := logger.NewDiscard()
	clk := clock.NewMockClock(time.Unix(stamp, 0))
	messages := &mockMessageStore{}
	participants := &mockParticipantStore{}
	hub := NewHub(HubDeps{Clock: clk, Log: log})
	idem := NewIdempotencyTracker(time.Minute, clk)
	t.Cleanup(idem.Close)

	router := NewRouter(RouterDeps{
		Hub:          hub,
		Authz:        authz.New(members, messages, log),
		Messages:     messages,
		Participants: participants,
		Idempotency:  idem,
		Clock:        clk,
		Log:          log,
	})

	return &routerFixture{
		hub:          hub,
		router:       router,
		members:      members,
		messages:     messages,
		participants: participants,
		idempotency:  idem,
		clock:        clk,
	}
}

func (f *routerFixture) connect(t *testing.T, id, userID string) *fakePeer {
	t.Helper()
	p := newPeer(id, userID)
	if err := f.hub.Register(p); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	return p
}

func event(t *testing.T, msgType protocol.MessageType, requestID string, payload any) protocol.WSMessage {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return protocol.WSMessage{Type: msgType, RequestID: requestID, Payload: raw}
}
