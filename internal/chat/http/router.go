package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	gorillaWS "github.com/gorilla/websocket"

	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/gate"
	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/websocket"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/constants"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/crypto"
	commonerrors "github.com/AlibekovAA/realtime-hub/backend/internal/common/errors"
	commonhttp "github.com/AlibekovAA/realtime-hub/backend/internal/common/http"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/jwtverify"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
	"github.com/AlibekovAA/realtime-hub/backend/internal/observability/metrics"
)

type HandlerDeps struct {
	Hub          *websocket.Hub
	Processor    *websocket.MessageProcessor
	Gate         websocket.Authenticator
	Validator    *websocket.PayloadValidator
	IDs          crypto.IDGenerator
	Verifier     *jwtverify.Verifier
	UpgradeLimit *commonhttp.RateLimiter
	Config       websocket.ClientConfig
	Log          *logger.Logger
}

type Handler struct {
	hub       *websocket.Hub
	processor *websocket.MessageProcessor
	gate      websocket.Authenticator
	validator *websocket.PayloadValidator
	ids       crypto.IDGenerator
	upgrader  gorillaWS.Upgrader
	cfg       websocket.ClientConfig
	log       *logger.Logger
}

type onlineResponse struct {
	Online   []string             `json:"online"`
	LastSeen map[string]time.Time `json:"last_seen,omitempty"`
}

// NewHandler serves the websocket upgrade on /ws and the presence query on
// /api/presence/online. Health and metrics endpoints are mounted by the caller.
func NewHandler(deps HandlerDeps) http.Handler {
	ids := deps.IDs
	if ids == nil {
		ids = crypto.NewUUIDGenerator()
	}

	h := &Handler{
		hub:       deps.Hub,
		processor: deps.Processor,
		gate:      deps.Gate,
		validator: deps.Validator,
		ids:       ids,
		cfg:       deps.Config,
		log:       deps.Log,
		upgrader: gorillaWS.Upgrader{
			ReadBufferSize:    constants.WebSocketReadBufferSize,
			WriteBufferSize:   constants.WebSocketWriteBufferSize,
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				host := r.Host
				if host == "" {
					host = r.URL.Host
				}
				return origin == "http://"+host || origin == "https://"+host
			},
		},
	}

	var ws http.Handler = http.HandlerFunc(h.handleWebSocket)
	if deps.UpgradeLimit != nil {
		ws = deps.UpgradeLimit.Middleware("ws_upgrade")(ws)
	}

	var online http.Handler = commonhttp.RequireMethod(http.MethodGet)(
		commonhttp.WithTimeout(h.requestTimeout())(h.onlineUsers),
	)
	if deps.Verifier != nil {
		online = jwtverify.Middleware(deps.Verifier, deps.Log)(online)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", ws)
	mux.Handle("/api/presence/online", online)

	return mux
}

func (h *Handler) requestTimeout() time.Duration {
	if h.cfg.RequestTimeout > 0 {
		return h.cfg.RequestTimeout
	}
	return constants.DefaultHubRequestTimeout
}

func credentialFrom(r *http.Request) string {
	if raw := r.Header.Get("Authorization"); raw != "" {
		if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
			return strings.TrimSpace(raw[7:])
		}
		return strings.TrimSpace(raw)
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		commonhttp.WriteErrorEnvelope(w, http.StatusMethodNotAllowed, commonhttp.CodeMethodNotAllowed, "method not allowed", nil, commonhttp.TraceIDFromContext(ctx))
		return
	}

	var identity *gate.Identity
	if credential := credentialFrom(r); credential != "" {
		authCtx, cancel := context.WithTimeout(ctx, h.requestTimeout())
		id, err := h.gate.Authenticate(authCtx, credential)
		cancel()
		if err != nil {
			h.rejectUpgrade(w, r, err)
			return
		}
		identity = &id
	}

	connID, err := h.ids.NewID()
	if err != nil {
		h.rejectUpgrade(w, r, commonerrors.ErrServerBusy.WithCause(err))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.HubConnectionsRejected.WithLabelValues("upgrade_failed").Inc()
		h.log.WithFields(ctx, logger.Fields{
			"action": "ws_upgrade_failed",
		}).Errorf("websocket upgrade failed: %v", err)
		return
	}
	metrics.HubConnectionsTotal.Inc()

	client := websocket.NewClient(connID, conn, identity, websocket.ClientDeps{
		Hub:       h.hub,
		Processor: h.processor,
		Gate:      h.gate,
		Validator: h.validator,
		Config:    h.cfg,
		Log:       h.log,
	})

	fields := logger.Fields{
		"connection_id": connID,
		"remote_ip":     commonhttp.GetClientIP(r),
		"action":        "ws_connected",
	}
	if identity != nil {
		fields["user_id"] = identity.UserID
		fields["auth"] = "upgrade"
	} else {
		fields["auth"] = "pending"
	}
	h.log.WithFields(ctx, fields).Info("websocket connection accepted")

	client.Start()
}

func (h *Handler) rejectUpgrade(w http.ResponseWriter, r *http.Request, err error) {
	reason := "error"
	if de, ok := commonerrors.AsDomainError(err); ok {
		reason = de.Code()
	}
	metrics.HubConnectionsRejected.WithLabelValues(reason).Inc()
	h.log.WithFields(r.Context(), logger.Fields{
		"remote_ip": commonhttp.GetClientIP(r),
		"reason":    reason,
		"action":    "ws_upgrade_rejected",
	}).Infof("websocket upgrade rejected: %v", err)
	commonhttp.HandleError(w, r, err, h.log)
}

func (h *Handler) onlineUsers(w http.ResponseWriter, r *http.Request) {
	ids, err := commonhttp.ParseIDList(r.URL.Query().Get("ids"), constants.MaxOnlineQueryIDs)
	if err != nil {
		if errors.Is(err, commonerrors.ErrInvalidPayload) {
			commonhttp.WriteErrorEnvelope(w, http.StatusBadRequest, commonhttp.CodeTooManyIDs, "too many ids", nil, commonhttp.TraceIDFromContext(r.Context()))
			return
		}
		commonhttp.HandleError(w, r, err, h.log)
		return
	}

	online := h.hub.OnlineAmong(ids)
	resp := onlineResponse{Online: online}
	for _, id := range ids {
		if seen, ok := h.hub.LastSeen(id); ok {
			if resp.LastSeen == nil {
				resp.LastSeen = make(map[string]time.Time)
			}
			resp.LastSeen[id] = seen
		}
	}
	if resp.Online == nil {
		resp.Online = []string{}
	}

	commonhttp.WriteJSON(w, http.StatusOK, resp)
}
