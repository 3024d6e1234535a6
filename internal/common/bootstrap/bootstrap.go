package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	authrepo "github.com/AlibekovAA/realtime-hub/backend/internal/auth/repository"
	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/authz"
	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/gate"
	chathttp "github.com/AlibekovAA/realtime-hub/backend/internal/chat/http"
	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/presence"
	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/websocket"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/clock"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/config"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/constants"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/crypto"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/db"
	commonhttp "github.com/AlibekovAA/realtime-hub/backend/internal/common/http"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/jwtverify"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/resilience"
	srv "github.com/AlibekovAA/realtime-hub/backend/internal/common/server"
	conversationrepo "github.com/AlibekovAA/realtime-hub/backend/internal/conversation/repository"
	userrepo "github.com/AlibekovAA/realtime-hub/backend/internal/user/repository"
)

type App struct {
	Log              *logger.Logger
	Pool             *pgxpool.Pool
	UserRepo         *userrepo.PgRepository
	RevokedRepo      *authrepo.PgRevokedTokenRepository
	ConversationRepo *conversationrepo.PgConversationRepository
	MessageRepo      *conversationrepo.PgMessageRepository
}

// HubApp holds every long-lived component of the hub process. Close order
// matters and is captured by ShutdownHooks.
type HubApp struct {
	App
	Config      config.HubConfig
	Hub         *websocket.Hub
	Processor   *websocket.MessageProcessor
	Idempotency *websocket.IdempotencyTracker
	LastSeen    *presence.LastSeenUpdater
	Mirror      presence.Mirror
	Verifier    *jwtverify.Verifier
	Upgrades    *commonhttp.RateLimiter
	Handler     http.Handler
}

func NewHubApp(ctx context.Context) (*HubApp, error) {
	log, err := initializeLogger("hub")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.LoadHubConfig()
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return nil, err
	}

	app, err := initializeApp(ctx, log, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	clk := clock.NewRealClock()

	storeBreaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Threshold:  cfg.CircuitBreaker.Threshold,
		Timeout:    cfg.CircuitBreaker.Timeout,
		ResetAfter: cfg.CircuitBreaker.Reset,
		Name:       "message_store",
		Logger:     log,
		Clock:      clk,
	})
	lastSeenBreaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Threshold:  cfg.CircuitBreaker.Threshold,
		Timeout:    cfg.CircuitBreaker.Timeout,
		ResetAfter: cfg.CircuitBreaker.Reset,
		Name:       "last_seen",
		Logger:     log,
		Clock:      clk,
	})

	lastSeen := presence.NewLastSeenUpdater(ctx, app.UserRepo, log, cfg.Presence.LastSeenUpdateInterval, lastSeenBreaker, clk)
	mirror := initializeMirror(ctx, cfg.Presence, log)

	verifier := jwtverify.NewVerifier(cfg.JWTSecret, app.RevokedRepo)
	accessGate := gate.New(verifier, app.UserRepo, log)
	validator := websocket.NewPayloadValidator()
	idempotency := websocket.NewIdempotencyTracker(cfg.IdempotencyTTL, clk)

	hub := websocket.NewHub(websocket.HubDeps{
		LastSeen: lastSeen,
		Mirror:   mirror,
		Clock:    clk,
		Log:      log,
	})
	router := websocket.NewRouter(websocket.RouterDeps{
		Hub:            hub,
		Authz:          authz.New(app.ConversationRepo, app.MessageRepo, log),
		Messages:       app.MessageRepo,
		Participants:   app.ConversationRepo,
		Validator:      validator,
		Idempotency:    idempotency,
		CircuitBreaker: storeBreaker,
		Clock:          clk,
		Log:            log,
		RequestTimeout: cfg.RequestTimeout,
	})
	processor := websocket.NewMessageProcessor(cfg.ProcessorWorkers, cfg.ProcessorQueueSize, router, log)

	upgrades := commonhttp.NewRateLimiter(constants.RateLimitUpgradeRequestsPerSecond, constants.RateLimitUpgradeBurst)

	chatHandler := chathttp.NewHandler(chathttp.HandlerDeps{
		Hub:          hub,
		Processor:    processor,
		Gate:         accessGate,
		Validator:    validator,
		IDs:          crypto.NewUUIDGenerator(),
		Verifier:     verifier,
		UpgradeLimit: upgrades,
		Config: websocket.ClientConfig{
			WebSocket:        cfg.WebSocket,
			EventRate:        cfg.EventRate,
			EventBurst:       cfg.EventBurst,
			MaxInvalidEvents: cfg.MaxInvalidEvents,
			RequestTimeout:   cfg.RequestTimeout,
		},
		Log: log,
	})

	pool := app.Pool
	mux := http.NewServeMux()
	mux.HandleFunc("/health", commonhttp.HealthHandler(log, commonhttp.HealthCheck{
		Name:  "database",
		Check: func(ctx context.Context) error { return pool.Ping(ctx) },
	}))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", chatHandler)

	return &HubApp{
		App:         *app,
		Config:      cfg,
		Hub:         hub,
		Processor:   processor,
		Idempotency: idempotency,
		LastSeen:    lastSeen,
		Mirror:      mirror,
		Verifier:    verifier,
		Upgrades:    upgrades,
		Handler:     commonhttp.BuildBaseHandler("hub", log, mux),
	}, nil
}

// ShutdownHooks closes connections first so that no new event reaches the
// processor, then drains background writers, and releases the pool last.
func (a *HubApp) ShutdownHooks() []srv.ShutdownHook {
	return []srv.ShutdownHook{
		{Name: "hub", Fn: a.Hub.Shutdown},
		{Name: "processor", Fn: a.Processor.Stop},
		{Name: "last_seen", Fn: a.LastSeen.Stop},
		{Name: "idempotency", Fn: func(context.Context) error {
			a.Idempotency.Close()
			a.Upgrades.Stop()
			return nil
		}},
		{Name: "presence_mirror", Fn: func(context.Context) error {
			return a.Mirror.Close()
		}},
		{Name: "db_pool", Fn: func(context.Context) error {
			a.Pool.Close()
			return nil
		}},
	}
}

func initializeApp(ctx context.Context, log *logger.Logger, databaseURL string) (*App, error) {
	pool, err := db.NewPool(ctx, log, databaseURL, "realtime-hub")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database pool: %w", err)
	}

	return &App{
		Log:              log,
		Pool:             pool,
		UserRepo:         userrepo.NewPgRepository(pool, log),
		RevokedRepo:      authrepo.NewPgRevokedTokenRepository(pool, log),
		ConversationRepo: conversationrepo.NewPgConversationRepository(pool, log),
		MessageRepo:      conversationrepo.NewPgMessageRepository(pool, db.NewPgTxManager(pool), log),
	}, nil
}

// initializeMirror falls back to a no-op mirror when Redis is not configured
// or not reachable; presence itself never depends on it.
func initializeMirror(ctx context.Context, cfg config.PresenceConfig, log *logger.Logger) presence.Mirror {
	if cfg.RedisAddr == "" {
		return presence.NopMirror{}
	}
	mirror, err := presence.NewRedisMirror(ctx, presence.RedisMirrorConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.TTL,
	}, log)
	if err != nil {
		log.WithFields(ctx, logger.Fields{
			"addr":   cfg.RedisAddr,
			"action": "presence_mirror_unavailable",
		}).Warnf("presence mirror disabled: %v", err)
		return presence.NopMirror{}
	}
	return mirror
}

func initializeLogger(serviceName string) (*logger.Logger, error) {
	return logger.New(os.Getenv("LOG_DIR"), serviceName, os.Getenv("LOG_LEVEL"))
}
