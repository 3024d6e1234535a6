package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gorillaWS "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/authz"
	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/gate"
	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/protocol"
	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/websocket"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/config"
	commonerrors "github.com/AlibekovAA/realtime-hub/backend/internal/common/errors"
	commonhttp "github.com/AlibekovAA/realtime-hub/backend/internal/common/http"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/jwtverify"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
	"github.com/AlibekovAA/realtime-hub/backend/internal/conversation/domain"
	"github.com/AlibekovAA/realtime-hub/backend/internal/observability/metrics"
	userdomain "github.com/AlibekovAA/realtime-hub/backend/internal/user/domain"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	convID     = "11111111-1111-4111-8111-111111111111"
	alice      = "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa"
	bob        = "bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb"
	disabled   = "eeeeeeee-eeee-4eee-8eee-eeeeeeeeeeee"
	createdID  = "dddddddd-dddd-4ddd-8ddd-dddddddddddd"
)

type mockAccounts struct {
	findAccountFunc func(ctx context.Context, id userdomain.ID) (userdomain.Account, error)
}

func (m *mockAccounts) FindAccount(ctx context.Context, id userdomain.ID) (userdomain.Account, error) {
	if m.findAccountFunc != nil {
		return m.findAccountFunc(ctx, id)
	}
	return userdomain.Account{ID: id, Username: "user-" + string(id)[:4], IsActive: true}, nil
}

type mockMembership struct{}

func (mockMembership) IsParticipant(_ context.Context, userID, conversationID string) (bool, error) {
	return conversationID == convID && (userID == alice || userID == bob), nil
}

func (mockMembership) ListParticipants(_ context.Context, conversationID string) ([]string, error) {
	if conversationID != convID {
		return nil, nil
	}
	return []string{alice, bob}, nil
}

func (mockMembership) IsAdmin(_ context.Context, userID, conversationID string) (bool, error) {
	return conversationID == convID && userID == alice, nil
}

// memoryMessages keeps just enough state for a send round trip.
type memoryMessages struct {
	mu   sync.Mutex
	refs map[string]domain.MessageRef
}

func newMemoryMessages() *memoryMessages {
	return &memoryMessages{refs: make(map[string]domain.MessageRef)}
}

func (m *memoryMessages) GetMessageRef(_ context.Context, messageID string) (domain.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.refs[messageID]
	if !ok {
		return domain.MessageRef{}, commonerrors.ErrNotFound
	}
	return ref, nil
}

func (m *memoryMessages) CreateMessage(_ context.Context, msg domain.NewMessage) (domain.Message, error) {
	now := time.Now().UTC()
	m.mu.Lock()
	m.refs[createdID] = domain.MessageRef{ID: createdID, ConversationID: msg.ConversationID, SenderID: msg.SenderID}
	m.mu.Unlock()
	return domain.Message{
		ID:             createdID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Body:           msg.Body,
		MessageType:    msg.MessageType,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (m *memoryMessages) EditMessage(context.Context, string, string) (domain.Message, error) {
	return domain.Message{}, commonerrors.ErrNotFound
}

func (m *memoryMessages) SoftDeleteMessage(context.Context, string) (domain.Message, error) {
	return domain.Message{}, commonerrors.ErrNotFound
}

func (m *memoryMessages) MarkRead(_ context.Context, messageID, userID string) (domain.ReadReceipt, error) {
	return domain.ReadReceipt{MessageID: messageID, UserID: userID, ReadAt: time.Now().UTC()}, nil
}

func (m *memoryMessages) AddReaction(_ context.Context, messageID, userID, emoji string) (domain.Reaction, error) {
	return domain.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji, ReactedAt: time.Now().UTC()}, nil
}

func (m *memoryMessages) RemoveReaction(context.Context, string, string, string) (bool, error) {
	return false, nil
}

type noParticipants struct{}

func (noParticipants) AddParticipant(_ context.Context, conversationID, userID string, role domain.Role) (domain.Participant, error) {
	return domain.Participant{ConversationID: conversationID, UserID: userID, Role: role, JoinedAt: time.Now()}, nil
}

func (noParticipants) RemoveParticipant(context.Context, string, string) (bool, error) {
	return false, nil
}

type testServer struct {
	srv *httptest.Server
	hub *websocket.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.NewDiscard()

	accounts := &mockAccounts{
		findAccountFunc: func(_ context.Context, id userdomain.ID) (userdomain.Account, error) {
			return userdomain.Account{ID: id, Username: "user-" + string(id)[:4], IsActive: id != disabled}, nil
		},
	}
	verifier := jwtverify.NewVerifier(testSecret, nil)
	g := gate.New(verifier, accounts, log)
	messages := newMemoryMessages()
	validator := websocket.NewPayloadValidator()
	idem := websocket.NewIdempotencyTracker(time.Minute, nil)

	hub := websocket.NewHub(websocket.HubDeps{Log: log})
	router := websocket.NewRouter(websocket.RouterDeps{
		Hub:          hub,
		Authz:        authz.New(mockMembership{}, messages, log),
		Messages:     messages,
		Participants: noParticipants{},
		Validator:    validator,
		Idempotency:  idem,
		Log:          log,
	})
	processor := websocket.NewMessageProcessor(4, 16, router, log)

	handler := NewHandler(HandlerDeps{
		Hub:       hub,
		Processor: processor,
		Gate:      g,
		Validator: validator,
		Verifier:  verifier,
		Config: websocket.ClientConfig{
			WebSocket: config.WebSocketConfig{
				WriteWait:      time.Second,
				PongWait:       10 * time.Second,
				PingPeriod:     5 * time.Second,
				MaxMsgSize:     64 * 1024,
				SendBufSize:    32,
				AuthTimeout:    2 * time.Second,
				OverflowPolicy: config.OverflowDisconnect,
			},
			EventRate:        100,
			EventBurst:       100,
			MaxInvalidEvents: 5,
			RequestTimeout:   time.Second,
		},
		Log: log,
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		_ = processor.Stop(ctx)
		idem.Close()
		srv.Close()
	})
	return &testServer{srv: srv, hub: hub}
}

func signToken(t *testing.T, userID string, ttl time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"usr": "user-" + userID[:4],
		"exp": time.Now().Add(ttl).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (s *testServer) wsURL(query string) string {
	u := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

func dial(t *testing.T, url string, header http.Header) *gorillaWS.Conn {
	t.Helper()
	conn, resp, err := gorillaWS.DefaultDialer.Dial(url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s failed (status %d): %v", url, status, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *gorillaWS.Conn, msgType protocol.MessageType, requestID string, payload any) {
	t.Helper()
	frame, err := protocol.MarshalWithRequest(msgType, requestID, payload)
	if err != nil {
		t.Fatalf("marshal %s: %v", msgType, err)
	}
	if err := conn.WriteMessage(gorillaWS.TextMessage, frame); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

// readUntil skips unrelated frames, such as presence events, until one of
// the wanted type arrives.
func readUntil(t *testing.T, conn *gorillaWS.Conn, want protocol.MessageType) protocol.WSMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("invalid frame %s: %v", data, err)
		}
		if msg.Type == want {
			return msg
		}
	}
}

func decodeAck(t *testing.T, msg protocol.WSMessage) protocol.AckPayload {
	t.Helper()
	var ack protocol.AckPayload
	if err := json.Unmarshal(msg.Payload, &ack); err != nil {
		t.Fatalf("invalid ack: %v", err)
	}
	return ack
}

func expectAuthenticated(t *testing.T, conn *gorillaWS.Conn, userID string) {
	t.Helper()
	var result protocol.AuthResultPayload
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeAuthResult).Payload, &result); err != nil {
		t.Fatalf("invalid auth-result: %v", err)
	}
	if !result.Authenticated || result.UserID != userID || result.ConnectionID == "" {
		t.Fatalf("expected authenticated %s, got %+v", userID, result)
	}
}

func TestWebSocket_MessageRoundTrip(t *testing.T) {
	s := newTestServer(t)
	accepted := testutil.ToFloat64(metrics.HubConnectionsTotal)

	aliceConn := dial(t, s.wsURL(""), http.Header{"Authorization": {"Bearer " + signToken(t, alice, time.Hour)}})
	expectAuthenticated(t, aliceConn, alice)
	bobConn := dial(t, s.wsURL("token="+signToken(t, bob, time.Hour)), nil)
	expectAuthenticated(t, bobConn, bob)

	if got := testutil.ToFloat64(metrics.HubConnectionsTotal) - accepted; got != 2 {
		t.Errorf("expected each upgrade counted once, got %v", got)
	}

	for _, c := range []*gorillaWS.Conn{aliceConn, bobConn} {
		send(t, c, protocol.TypeJoinConversation, "join", protocol.ConversationPayload{ConversationID: convID})
		if ack := decodeAck(t, readUntil(t, c, protocol.TypeAck)); !ack.OK {
			t.Fatalf("expected join ack ok, got %+v", ack)
		}
	}

	send(t, aliceConn, protocol.TypeSendMessage, "send-1", protocol.SendMessagePayload{
		ConversationID:  convID,
		Body:            "hello bob",
		ClientMessageID: "c-1",
	})

	ack := decodeAck(t, readUntil(t, aliceConn, protocol.TypeAck))
	if !ack.OK || ack.RequestID != "send-1" {
		t.Fatalf("expected send ack, got %+v", ack)
	}

	var event protocol.MessageEvent
	if err := json.Unmarshal(readUntil(t, bobConn, protocol.TypeMessageNew).Payload, &event); err != nil {
		t.Fatalf("invalid message:new: %v", err)
	}
	if event.ID != createdID || event.SenderID != alice || event.Body != "hello bob" {
		t.Errorf("unexpected message:new %+v", event)
	}
}

func TestWebSocket_PendingHandshake(t *testing.T) {
	s := newTestServer(t)
	conn := dial(t, s.wsURL(""), nil)

	send(t, conn, protocol.TypeJoinConversation, "early", protocol.ConversationPayload{ConversationID: convID})
	ack := decodeAck(t, readUntil(t, conn, protocol.TypeAck))
	if ack.OK || ack.Error == nil || ack.Error.Code != commonerrors.ErrAuthRequired.Code() {
		t.Fatalf("expected AUTH_REQUIRED before auth, got %+v", ack)
	}

	send(t, conn, protocol.TypeAuth, "auth", protocol.AuthPayload{Token: signToken(t, alice, time.Hour)})
	expectAuthenticated(t, conn, alice)

	deadline := time.Now().Add(2 * time.Second)
	for !s.hub.IsOnline(alice) {
		if time.Now().After(deadline) {
			t.Fatal("expected alice online after auth")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocket_PendingAuthFailureCloses(t *testing.T) {
	s := newTestServer(t)
	conn := dial(t, s.wsURL(""), nil)

	send(t, conn, protocol.TypeAuth, "", protocol.AuthPayload{Token: "garbage"})

	var result protocol.AuthResultPayload
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeAuthResult).Payload, &result); err != nil {
		t.Fatalf("invalid auth-result: %v", err)
	}
	if result.Authenticated || result.Code != commonerrors.ErrInvalidCredential.Code() {
		t.Fatalf("expected INVALID_CREDENTIAL, got %+v", result)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	if !gorillaWS.IsCloseError(err, gorillaWS.ClosePolicyViolation) {
		t.Errorf("expected policy violation close, got %v", err)
	}
}

func TestWebSocket_RejectsBadCredentialBeforeUpgrade(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		token  string
		status int
		code   string
	}{
		{"malformed", "not-a-jwt", http.StatusUnauthorized, commonerrors.ErrInvalidCredential.Code()},
		{"expired", signToken(t, alice, -time.Minute), http.StatusUnauthorized, commonerrors.ErrCredentialExpired.Code()},
		{"disabled", signToken(t, disabled, time.Hour), http.StatusForbidden, commonerrors.ErrAccountDisabled.Code()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := gorillaWS.DefaultDialer.Dial(s.wsURL(""), http.Header{"Authorization": {"Bearer " + tt.token}})
			if err == nil {
				t.Fatal("expected dial to fail")
			}
			if resp == nil {
				t.Fatalf("expected HTTP response, got %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, resp.StatusCode)
			}
			var env commonhttp.ErrorEnvelope
			if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
				t.Fatalf("expected error envelope: %v", err)
			}
			if env.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, env.Code)
			}
		})
	}

	if s.hub.IsOnline(alice) || s.hub.IsOnline(disabled) {
		t.Error("expected no identity registered after rejected upgrades")
	}
}

func TestOnlineUsersEndpoint(t *testing.T) {
	s := newTestServer(t)
	conn := dial(t, s.wsURL(""), http.Header{"Authorization": {"Bearer " + signToken(t, alice, time.Hour)}})
	expectAuthenticated(t, conn, alice)

	get := func(t *testing.T, query, token string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(http.MethodGet, s.srv.URL+"/api/presence/online?"+query, nil)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	if resp := get(t, "ids="+alice, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}

	if resp := get(t, "ids="+strings.Repeat("x", 65), signToken(t, bob, time.Hour)); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for oversized id, got %d", resp.StatusCode)
	}
	if resp := get(t, "ids=U2", signToken(t, bob, time.Hour)); resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for opaque id, got %d", resp.StatusCode)
	}

	resp := get(t, "ids="+alice+","+bob+","+alice, signToken(t, bob, time.Hour))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body onlineResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Online) != 1 || body.Online[0] != alice {
		t.Errorf("expected only alice online, got %v", body.Online)
	}
}
