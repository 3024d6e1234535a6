package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	commonerrors "github.com/AlibekovAA/realtime-hub/backend/internal/common/errors"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/constants"
)

const (
	OverflowDisconnect = "disconnect"
	OverflowDropOldest = "drop_oldest"
)

type WebSocketConfig struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMsgSize     int64
	SendBufSize    int
	AuthTimeout    time.Duration
	OverflowPolicy string
}

type PresenceConfig struct {
	LastSeenUpdateInterval time.Duration
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	TTL                    time.Duration
}

type CircuitBreakerConfig struct {
	Threshold int32
	Timeout   time.Duration
	Reset     time.Duration
}

type HubConfig struct {
	HTTPPort           string
	DatabaseURL        string
	JWTSecret          string
	WebSocket          WebSocketConfig
	Presence           PresenceConfig
	CircuitBreaker     CircuitBreakerConfig
	ProcessorWorkers   int
	ProcessorQueueSize int
	EventRate          float64
	EventBurst         int
	MaxInvalidEvents   int
	IdempotencyTTL     time.Duration
	RequestTimeout     time.Duration
}

func LoadHubConfig() (HubConfig, error) {
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return HubConfig{}, err
	}

	if err := validateJWTSecret(jwtSecret); err != nil {
		return HubConfig{}, err
	}

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return HubConfig{}, err
	}

	cfg := HubConfig{
		HTTPPort:    getEnv("HUB_HTTP_PORT", constants.DefaultHubHTTPPort),
		DatabaseURL: databaseURL,
		JWTSecret:   jwtSecret,
		WebSocket: WebSocketConfig{
			WriteWait:      getDurationEnv("HUB_WS_WRITE_WAIT", constants.DefaultWebSocketWriteWait),
			PongWait:       getDurationEnv("HUB_WS_PONG_WAIT", constants.DefaultWebSocketPongWait),
			PingPeriod:     getDurationEnv("HUB_WS_PING_PERIOD", constants.DefaultWebSocketPingPeriod),
			MaxMsgSize:     getInt64Env("HUB_WS_MAX_MSG_SIZE", constants.DefaultWebSocketMaxMsgSize),
			SendBufSize:    getIntEnv("HUB_WS_SEND_BUF_SIZE", constants.DefaultWebSocketSendBufSize),
			AuthTimeout:    getDurationEnv("HUB_WS_AUTH_TIMEOUT", constants.DefaultWebSocketAuthTimeout),
			OverflowPolicy: strings.ToLower(getEnv("HUB_WS_OVERFLOW_POLICY", constants.DefaultWebSocketOverflowPolicy)),
		},
		Presence: PresenceConfig{
			LastSeenUpdateInterval: getDurationEnv("HUB_LAST_SEEN_INTERVAL", constants.DefaultLastSeenUpdateInterval),
			RedisAddr:              getEnv("HUB_PRESENCE_REDIS_ADDR", ""),
			RedisPassword:          getEnv("HUB_PRESENCE_REDIS_PASSWORD", ""),
			RedisDB:                getIntEnv("HUB_PRESENCE_REDIS_DB", 0),
			TTL:                    getDurationEnv("HUB_PRESENCE_TTL", constants.DefaultPresenceTTL),
		},
		CircuitBreaker: CircuitBreakerConfig{
			Threshold: int32(getIntEnv("HUB_CB_THRESHOLD", constants.DefaultCircuitBreakerThreshold)),
			Timeout:   getDurationEnv("HUB_CB_TIMEOUT", constants.DefaultCircuitBreakerTimeout),
			Reset:     getDurationEnv("HUB_CB_RESET", constants.DefaultCircuitBreakerReset),
		},
		ProcessorWorkers:   getIntEnv("HUB_PROCESSOR_WORKERS", constants.WebSocketProcessorWorkers),
		ProcessorQueueSize: getIntEnv("HUB_PROCESSOR_QUEUE_SIZE", constants.WebSocketProcessorQueueSize),
		EventRate:          getFloatEnv("HUB_EVENT_RATE", constants.DefaultEventRatePerSecond),
		EventBurst:         getIntEnv("HUB_EVENT_BURST", constants.DefaultEventBurst),
		MaxInvalidEvents:   getIntEnv("HUB_MAX_INVALID_EVENTS", constants.DefaultMaxInvalidEvents),
		IdempotencyTTL:     getDurationEnv("HUB_IDEMPOTENCY_TTL", constants.IdempotencyTTL),
		RequestTimeout:     getDurationEnv("HUB_REQUEST_TIMEOUT", constants.DefaultHubRequestTimeout),
	}

	if err := cfg.validate(); err != nil {
		return HubConfig{}, err
	}

	return cfg, nil
}

func (c HubConfig) validate() error {
	switch c.WebSocket.OverflowPolicy {
	case OverflowDisconnect, OverflowDropOldest:
	default:
		return commonerrors.ErrInvalidConfig.WithCause(
			fmt.Errorf("HUB_WS_OVERFLOW_POLICY=%q, want %s or %s", c.WebSocket.OverflowPolicy, OverflowDisconnect, OverflowDropOldest),
		)
	}
	for _, d := range []struct {
		env   string
		value time.Duration
	}{
		{"HUB_WS_WRITE_WAIT", c.WebSocket.WriteWait},
		{"HUB_WS_PONG_WAIT", c.WebSocket.PongWait},
		{"HUB_WS_PING_PERIOD", c.WebSocket.PingPeriod},
		{"HUB_WS_AUTH_TIMEOUT", c.WebSocket.AuthTimeout},
		{"HUB_LAST_SEEN_INTERVAL", c.Presence.LastSeenUpdateInterval},
		{"HUB_PRESENCE_TTL", c.Presence.TTL},
		{"HUB_IDEMPOTENCY_TTL", c.IdempotencyTTL},
		{"HUB_REQUEST_TIMEOUT", c.RequestTimeout},
	} {
		if d.value <= 0 {
			return commonerrors.ErrInvalidConfig.WithCause(fmt.Errorf("%s must be positive, got %v", d.env, d.value))
		}
	}
	if c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		return commonerrors.ErrInvalidConfig.WithCause(
			fmt.Errorf("HUB_WS_PING_PERIOD (%v) must be shorter than HUB_WS_PONG_WAIT (%v)", c.WebSocket.PingPeriod, c.WebSocket.PongWait),
		)
	}
	if c.WebSocket.SendBufSize <= 0 || c.ProcessorWorkers <= 0 || c.ProcessorQueueSize <= 0 {
		return commonerrors.ErrInvalidConfig.WithCause(
			fmt.Errorf("send buffer, processor workers and queue size must be positive"),
		)
	}
	return nil
}

func validateJWTSecret(secret string) error {
	if len(secret) < constants.JWTSecretMinLength {
		return commonerrors.ErrInvalidJWTSecret.WithCause(fmt.Errorf("got %d bytes", len(secret)))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func mustEnv(key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", commonerrors.ErrMissingRequiredEnv.WithCause(fmt.Errorf("%s is not set", key))
	}
	return v, nil
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getIntEnv(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64Env(key string, fallback int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getFloatEnv(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
