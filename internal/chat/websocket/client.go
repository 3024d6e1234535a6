package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	gorillaWS "github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/gate"
	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/protocol"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/config"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/constants"
	commonerrors "github.com/AlibekovAA/realtime-hub/backend/internal/common/errors"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
	"github.com/AlibekovAA/realtime-hub/backend/internal/observability/metrics"
)

type ConnState int32

const (
	StatePending ConnState = iota
	StateActive
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	default:
		return "closed"
	}
}

// Disconnect reasons, also used as metric labels.
const (
	ReasonClientClosed   = "client_closed"
	ReasonWriteFailed    = "write_failed"
	ReasonSendOverflow   = "send_overflow"
	ReasonPolicy         = "policy_violation"
	ReasonAuthFailed     = "auth_failed"
	ReasonAuthTimeout    = "auth_timeout"
	ReasonShutdown       = "shutdown"
	ReasonRegisterFailed = "register_failed"
)

type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (gate.Identity, error)
}

type ClientConfig struct {
	WebSocket        config.WebSocketConfig
	EventRate        float64
	EventBurst       int
	MaxInvalidEvents int
	RequestTimeout   time.Duration
}

type ClientDeps struct {
	Hub       *Hub
	Processor *MessageProcessor
	Gate      Authenticator
	Validator *PayloadValidator
	Config    ClientConfig
	Log       *logger.Logger
}

// Client is one websocket connection. Frames reach the socket only through
// the bounded send queue, which Deliver fills without ever blocking.
type Client struct {
	id        string
	conn      *gorillaWS.Conn
	hub       *Hub
	processor *MessageProcessor
	gate      Authenticator
	validator *PayloadValidator
	cfg       ClientConfig
	log       *logger.Logger

	identity     atomic.Pointer[gate.Identity]
	state        atomic.Int32
	invalid      atomic.Int32
	lastActivity atomic.Int64
	createdAt    time.Time

	limiter *rate.Limiter
	send    chan []byte
	done    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce   sync.Once
	closeReason atomic.Value
	flushOnExit atomic.Bool
}

func NewClient(id string, conn *gorillaWS.Conn, identity *gate.Identity, deps ClientDeps) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	burst := deps.Config.EventBurst
	if burst <= 0 {
		burst = 1
	}
	sendBuf := deps.Config.WebSocket.SendBufSize
	if sendBuf <= 0 {
		sendBuf = constants.DefaultWebSocketSendBufSize
	}

	c := &Client{
		id:        id,
		conn:      conn,
		hub:       deps.Hub,
		processor: deps.Processor,
		gate:      deps.Gate,
		validator: deps.Validator,
		cfg:       deps.Config,
		log:       deps.Log,
		createdAt: time.Now(),
		limiter:   rate.NewLimiter(rate.Limit(deps.Config.EventRate), burst),
		send:      make(chan []byte, sendBuf),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	if identity != nil {
		id := *identity
		c.identity.Store(&id)
	}
	c.lastActivity.Store(c.createdAt.UnixNano())
	return c
}

func (c *Client) ID() string { return c.id }

func (c *Client) UserID() string {
	if id := c.identity.Load(); id != nil {
		return id.UserID
	}
	return ""
}

func (c *Client) Username() string {
	if id := c.identity.Load(); id != nil {
		return id.Username
	}
	return ""
}

func (c *Client) State() ConnState         { return ConnState(c.state.Load()) }
func (c *Client) Context() context.Context { return c.ctx }
func (c *Client) CreatedAt() time.Time     { return c.createdAt }
func (c *Client) Done() <-chan struct{}    { return c.done }

func (c *Client) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Client) CloseReason() string {
	reason, _ := c.closeReason.Load().(string)
	return reason
}

// Deliver enqueues frame for the write pump. A full queue is handled by the
// configured overflow policy and is never reported to whoever is sending.
func (c *Client) Deliver(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
	}

	policy := c.cfg.WebSocket.OverflowPolicy
	metrics.HubDeliveryDegraded.WithLabelValues(policy).Inc()

	if policy == config.OverflowDropOldest {
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- frame:
			c.log.WithFields(c.ctx, logger.Fields{
				"connection_id": c.id,
				"user_id":       c.UserID(),
				"action":        "ws_send_drop_oldest",
			}).DebugSampled(constants.WebSocketDebugSampleRate, "websocket send queue full, dropped oldest frame")
			return true
		default:
			return false
		}
	}

	c.log.WithFields(c.ctx, logger.Fields{
		"connection_id": c.id,
		"user_id":       c.UserID(),
		"action":        "ws_send_overflow",
	}).Warnf("websocket send queue full: %v", commonerrors.ErrDeliveryDegraded)
	c.CloseWithReason(ReasonSendOverflow)
	return false
}

// CloseWithReason moves the connection to Closed. It never blocks: the write
// pump sends the close frame and the read pump unregisters from the hub.
func (c *Client) CloseWithReason(reason string) {
	c.closeOnce.Do(func() {
		c.closeReason.Store(reason)
		c.state.Store(int32(StateClosed))
		if reason == ReasonShutdown {
			c.flushOnExit.Store(true)
		}
		c.cancel()
		close(c.done)
		metrics.HubDisconnections.WithLabelValues(reason).Inc()
	})
}

func (c *Client) Start() {
	c.hub.trackPending(c)

	if c.identity.Load() != nil {
		if err := c.activate(); err != nil {
			c.deliverAuthFailure(err)
			c.closeAfterReply(ReasonRegisterFailed)
		} else {
			c.deliverAuthSuccess("")
		}
	} else {
		go c.awaitAuth()
	}

	go c.writePump()
	go c.readPump()
}

func (c *Client) activate() error {
	if !c.state.CompareAndSwap(int32(StatePending), int32(StateActive)) {
		return commonerrors.ErrConnectionClosed
	}
	if err := c.hub.Register(c); err != nil {
		// A close that raced with registration keeps the connection closed.
		c.state.CompareAndSwap(int32(StateActive), int32(StatePending))
		return err
	}
	c.hub.forgetPending(c)

	c.log.WithFields(c.ctx, logger.Fields{
		"connection_id": c.id,
		"user_id":       c.UserID(),
		"username":      c.Username(),
		"action":        "ws_register",
	}).Info("websocket client registered")
	return nil
}

func (c *Client) awaitAuth() {
	timeout := c.cfg.WebSocket.AuthTimeout
	if timeout <= 0 {
		timeout = constants.DefaultWebSocketAuthTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.done:
	case <-timer.C:
		if c.State() != StatePending {
			return
		}
		c.log.WithFields(c.ctx, logger.Fields{
			"connection_id": c.id,
			"action":        "ws_auth_timeout",
		}).Info("websocket auth timed out")
		c.deliverAuthFailure(commonerrors.ErrAuthTimeout)
		c.closeAfterReply(ReasonAuthTimeout)
	}
}

func (c *Client) handleAuth(msg protocol.WSMessage) {
	var payload protocol.AuthPayload
	if err := c.validator.Decode(msg.Payload, &payload); err != nil {
		c.deliverAuthFailure(err)
		c.closeAfterReply(ReasonAuthFailed)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.requestTimeout())
	identity, err := c.gate.Authenticate(ctx, payload.Token)
	cancel()
	if err != nil {
		c.log.WithFields(c.ctx, logger.Fields{
			"connection_id": c.id,
			"action":        "ws_auth_failed",
		}).Infof("websocket auth rejected: %v", err)
		c.deliverAuthFailure(err)
		c.closeAfterReply(ReasonAuthFailed)
		return
	}

	c.identity.Store(&identity)
	if err := c.activate(); err != nil {
		c.deliverAuthFailure(err)
		c.closeAfterReply(ReasonRegisterFailed)
		return
	}
	c.deliverAuthSuccess(msg.RequestID)
}

func (c *Client) deliverAuthSuccess(requestID string) {
	frame, err := protocol.MarshalWithRequest(protocol.TypeAuthResult, requestID, protocol.AuthResultPayload{
		Authenticated: true,
		UserID:        c.UserID(),
		ConnectionID:  c.id,
	})
	if err == nil {
		c.Deliver(frame)
	}
}

func (c *Client) deliverAuthFailure(err error) {
	ep := protocol.ErrorFromDomain(err)
	frame, merr := protocol.Marshal(protocol.TypeAuthResult, protocol.AuthResultPayload{
		Authenticated: false,
		Code:          ep.Code,
		Message:       ep.Message,
	})
	if merr == nil {
		c.Deliver(frame)
	}
}

// closeAfterReply lets the write pump flush the reply already queued before the close frame.
func (c *Client) closeAfterReply(reason string) {
	c.flushOnExit.Store(true)
	c.CloseWithReason(reason)
}

func (c *Client) requestTimeout() time.Duration {
	if c.cfg.RequestTimeout > 0 {
		return c.cfg.RequestTimeout
	}
	return constants.DefaultHubRequestTimeout
}

func (c *Client) deliverReply(requestID string, data any, err error) {
	frame, ok := buildReply(requestID, data, err)
	if ok {
		c.Deliver(frame)
	}
}

// recordOutcome counts validation failures, rate limiting included, and
// closes the connection once the limit is reached. Authorization denials are
// ordinary answers and do not count.
func (c *Client) recordOutcome(err error) {
	if err == nil || c.cfg.MaxInvalidEvents <= 0 {
		return
	}
	if !commonerrors.IsCategory(err, commonerrors.CategoryValidation) {
		return
	}
	if n := c.invalid.Add(1); int(n) >= c.cfg.MaxInvalidEvents {
		c.log.WithFields(c.ctx, logger.Fields{
			"connection_id": c.id,
			"user_id":       c.UserID(),
			"invalid":       n,
			"action":        "ws_policy_close",
		}).Warn("websocket closing connection after repeated invalid events")
		c.closeAfterReply(ReasonPolicy)
	}
}

func (c *Client) reject(requestID string, err error) {
	if de, ok := commonerrors.AsDomainError(err); ok {
		metrics.HubEventErrors.WithLabelValues(de.Code()).Inc()
	}
	c.deliverReply(requestID, nil, err)
	c.recordOutcome(err)
}

func (c *Client) readPump() {
	defer func() {
		c.CloseWithReason(ReasonClientClosed)
		c.hub.forgetPending(c)
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.WebSocket.MaxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.WebSocket.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.WebSocket.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if gorillaWS.IsUnexpectedCloseError(err, gorillaWS.CloseGoingAway, gorillaWS.CloseNormalClosure, gorillaWS.CloseAbnormalClosure) {
				c.log.WithFields(c.ctx, logger.Fields{
					"connection_id": c.id,
					"user_id":       c.UserID(),
					"action":        "ws_read_error",
				}).Warnf("websocket read error: %v", err)
			}
			return
		}
		c.touch()

		if c.State() == StateClosed {
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		c.reject("", err)
		return
	}
	if !msg.Type.IsInbound() {
		c.reject(msg.RequestID, commonerrors.ErrUnknownMessageType)
		return
	}
	if !c.limiter.Allow() {
		c.reject(msg.RequestID, commonerrors.ErrRateLimited)
		return
	}

	switch c.State() {
	case StatePending:
		if msg.Type != protocol.TypeAuth {
			c.deliverReply(msg.RequestID, nil, commonerrors.ErrAuthRequired)
			return
		}
		c.handleAuth(msg)
	case StateActive:
		if !c.processor.Submit(c.ctx, c, msg, c.recordOutcome) {
			c.deliverReply(msg.RequestID, nil, commonerrors.ErrServerBusy)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.WebSocket.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				c.CloseWithReason(ReasonWriteFailed)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WebSocket.WriteWait))
			if err := c.conn.WriteMessage(gorillaWS.PingMessage, nil); err != nil {
				c.CloseWithReason(ReasonWriteFailed)
				return
			}

		case <-c.done:
			if c.flushOnExit.Load() {
				c.flush()
			}
			code := gorillaWS.CloseNormalClosure
			switch c.CloseReason() {
			case ReasonPolicy, ReasonAuthFailed, ReasonAuthTimeout:
				code = gorillaWS.ClosePolicyViolation
			case ReasonSendOverflow:
				code = gorillaWS.CloseTryAgainLater
			case ReasonShutdown:
				code = gorillaWS.CloseGoingAway
			}
			_ = c.conn.WriteControl(gorillaWS.CloseMessage,
				gorillaWS.FormatCloseMessage(code, c.CloseReason()),
				time.Now().Add(constants.WebSocketCloseGracePeriod))
			return
		}
	}
}

func (c *Client) write(frame []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WebSocket.WriteWait))
	return c.conn.WriteMessage(gorillaWS.TextMessage, frame)
}

func (c *Client) flush() {
	deadline := time.Now().Add(constants.WebSocketCloseGracePeriod)
	for time.Now().Before(deadline) {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
