package constants

import "time"

const (
	JWTSecretMinLength = 32

	MaxMessageLength   = 4000
	MaxEmojiLength     = 32
	MaxIdentifierLen   = 64
	MaxOnlineQueryIDs  = 200
	MaxClientMessageID = 128

	IdempotencyTTL = 5 * time.Minute

	WebSocketProcessorWorkers            = 16
	WebSocketProcessorQueueSize          = 256
	WebSocketProcessorTimeout            = 30 * time.Second
	WebSocketDebugSampleRate             = 0.01
	WebSocketShutdownNotificationTimeout = 5 * time.Second
	WebSocketCloseGracePeriod            = time.Second

	ConversationLockStripes = 64

	LastSeenQueueSize     = 1024
	LastSeenBatchSize     = 100
	LastSeenFlushEvery    = 500 * time.Millisecond
	LastSeenUpdateTimeout = 3 * time.Second

	PresenceMirrorQueueSize = 1024
	PresenceMirrorTimeout   = 2 * time.Second

	DBPoolMaxOpenConns    = 25
	DBPoolMinOpenConns    = 5
	DBPoolConnMaxLifetime = time.Hour
	DBPoolConnMaxIdleTime = 30 * time.Minute
	DBPoolHealthCheck     = 1 * time.Minute
	DBPoolConnectTimeout  = 5 * time.Second
	DBPoolMaxAttempts     = 10
	DBPoolRetryDelay      = 1 * time.Second
	DBPoolMetricsInterval = 30 * time.Second
	DBQueryTimeout        = 10 * time.Second

	ServerReadHeaderTimeout = 10 * time.Second
	ServerReadTimeout       = 30 * time.Second
	ServerWriteTimeout      = 30 * time.Second
	ServerIdleTimeout       = 120 * time.Second
	ServerMaxHeaderBytes    = 16 << 10

	ShutdownTimeout = 30 * time.Second
	DrainTimeout    = 10 * time.Second

	DefaultHubHTTPPort = "8082"

	DefaultCircuitBreakerThreshold = 50
	DefaultCircuitBreakerTimeout   = 5 * time.Second
	DefaultCircuitBreakerReset     = 10 * time.Second

	DefaultWebSocketWriteWait      = 10 * time.Second
	DefaultWebSocketPongWait       = 60 * time.Second
	DefaultWebSocketPingPeriod     = 54 * time.Second
	DefaultWebSocketMaxMsgSize     = 64 * 1024
	DefaultWebSocketSendBufSize    = 256
	DefaultWebSocketAuthTimeout    = 10 * time.Second
	DefaultWebSocketOverflowPolicy = "disconnect"
	DefaultLastSeenUpdateInterval  = 1 * time.Minute
	DefaultHubRequestTimeout       = 5 * time.Second
	DefaultEventRatePerSecond      = 20
	DefaultEventBurst              = 40
	DefaultMaxInvalidEvents        = 10
	DefaultPresenceTTL             = 2 * time.Minute

	WebSocketReadBufferSize  = 1024
	WebSocketWriteBufferSize = 1024

	RateLimitCleanupInterval          = 5 * time.Minute
	RateLimitUpgradeRequestsPerSecond = 5
	RateLimitUpgradeBurst             = 10
	RateLimitGeneralRequestsPerSecond = 20
	RateLimitGeneralBurst             = 40

	HTTPMaxRequestSize = 1 << 20

	LoggerMaxSize    = 100
	LoggerMaxBackups = 3
	LoggerMaxAge     = 28
)

type TraceIDKeyType string

const TraceIDKey TraceIDKeyType = "trace_id"
