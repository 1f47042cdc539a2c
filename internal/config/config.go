// Package config centralizes parsing and defaulting of the environment
// variables listed in the gateway's external-interfaces spec, returning a
// single typed Config instead of scattering os.Getenv calls through the
// codebase.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// WebhookAuthType selects how outbound webhook POSTs authenticate.
type WebhookAuthType string

const (
	WebhookAuthNone   WebhookAuthType = ""
	WebhookAuthBasic  WebhookAuthType = "basic"
	WebhookAuthToken  WebhookAuthType = "token"
	WebhookAuthBearer WebhookAuthType = "bearer"
)

// WebhookConfig holds delivery-engine and event-filter configuration.
type WebhookConfig struct {
	URL           string
	AuthType      WebhookAuthType
	AuthUser      string
	AuthPassword  string
	AuthToken     string
	SkipStatus    bool
	SkipGroups    bool
	SkipChannels  bool
	SkipBlocked   bool
	AllowedEvents []string
	DeniedEvents  []string
}

// LivenessConfig holds keep-alive and health-check tuning.
type LivenessConfig struct {
	PingInterval        time.Duration
	PongTimeout         time.Duration
	MaxMissedPongs      int
	HealthCheckInterval time.Duration
	MaxIdleTime         time.Duration
}

// ReconnectConfig holds reconnect-ladder tuning.
type ReconnectConfig struct {
	AutoReconnect      bool
	MaxReconnectAttempts int
}

// RedisConfig holds KV-store connection parameters.
type RedisConfig struct {
	URL      string
	Host     string
	Port     string
	DB       int
	Password string
}

// Config is the fully parsed, defaulted application configuration.
type Config struct {
	Port             string
	APIKey           string
	AuthBaseDir      string
	ShowQRInTerminal bool
	Webhook          WebhookConfig
	Liveness         LivenessConfig
	Reconnect        ReconnectConfig
	Redis            RedisConfig
}

// Load reads .env (if present, ignoring a missing file) then parses the
// environment into a Config, applying every default named in the external
// interfaces spec.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:             envOr("PORT", "3001"),
		APIKey:           envOr("API_KEY", "dev-api-key"),
		AuthBaseDir:      envOr("AUTH_BASE_DIR", ""),
		ShowQRInTerminal: envBool("SHOW_QR_IN_TERMINAL", false),
		Webhook: WebhookConfig{
			URL:           os.Getenv("WEBHOOK_URL"),
			AuthType:      WebhookAuthType(strings.ToLower(os.Getenv("WEBHOOK_AUTH_TYPE"))),
			AuthUser:      os.Getenv("WEBHOOK_AUTH_USER"),
			AuthPassword:  os.Getenv("WEBHOOK_AUTH_PASSWORD"),
			AuthToken:     os.Getenv("WEBHOOK_AUTH_TOKEN"),
			SkipStatus:    envBool("WEBHOOK_SKIP_STATUS", true),
			SkipGroups:    envBool("WEBHOOK_SKIP_GROUPS", false),
			SkipChannels:  envBool("WEBHOOK_SKIP_CHANNELS", true),
			SkipBlocked:   envBool("WEBHOOK_SKIP_BLOCKED", false),
			AllowedEvents: envList("WEBHOOK_ALLOWED_EVENTS"),
			DeniedEvents:  envList("WEBHOOK_DENIED_EVENTS"),
		},
		Liveness: LivenessConfig{
			PingInterval:        envDurationSeconds("KEEP_ALIVE_PING_INTERVAL", 30),
			PongTimeout:         envDurationSeconds("PONG_TIMEOUT", 10),
			MaxMissedPongs:      envInt("MAX_MISSED_PONGS", 3),
			HealthCheckInterval: envDurationSeconds("HEALTH_CHECK_INTERVAL", 60),
			MaxIdleTime:         envDurationSeconds("MAX_IDLE_TIME", 300),
		},
		Reconnect: ReconnectConfig{
			AutoReconnect:        envBool("AUTO_RECONNECT", true),
			MaxReconnectAttempts: envInt("MAX_RECONNECT_ATTEMPTS", 10),
		},
		Redis: RedisConfig{
			URL:      os.Getenv("REDIS_URL"),
			Host:     envOr("REDIS_HOST", "localhost"),
			Port:     envOr("REDIS_PORT", "6379"),
			DB:       envInt("REDIS_DB", 0),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1"
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDurationSeconds(key string, defSeconds int) time.Duration {
	n := envInt(key, defSeconds)
	return time.Duration(n) * time.Second
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
