package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// PublicHost overrides the Host header when building the media
	// stream URL in the voice webhook response. This is needed when the
	// gateway sits behind a tunnel or LB that rewrites Host.
	PublicHost string

	// Speech-AI backend.
	RealtimeAPIKey  string
	RealtimeBaseURL string
	RealtimeModel   string
	RealtimeVoice   string
	Greeting        string
	SystemPrompt    string
	AITemperature   float64

	// Ticket classification backend.
	ClassifyURL    string
	ClassifyAPIKey string
	ClassifyModel  string

	// Ticket persistence. Empty means in-memory only.
	SQLitePath string

	// Per-call queue and monitor tuning.
	QueueCapacity    int
	BacklogHighWater int
	BacklogInterval  time.Duration
	IdleTimeout      time.Duration
	IdleInterval     time.Duration
	LivenessInterval time.Duration
	DrainTimeout     time.Duration

	// Telephony connection keepalive.
	KeepaliveInterval time.Duration

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("DISPATCH_ADDR", ":8080"),
		PublicHost:          envOr("DISPATCH_PUBLIC_HOST", ""),
		RealtimeAPIKey:      envOr("DISPATCH_REALTIME_API_KEY", ""),
		RealtimeBaseURL:     envOr("DISPATCH_REALTIME_BASE_URL", "wss://api.openai.com/v1/realtime"),
		RealtimeModel:       envOr("DISPATCH_REALTIME_MODEL", "gpt-4o-realtime-preview-2024-10-01"),
		RealtimeVoice:       envOr("DISPATCH_REALTIME_VOICE", "alloy"),
		Greeting:            envOr("DISPATCH_GREETING", "Nine one one, what is your emergency?"),
		SystemPrompt:        envOr("DISPATCH_SYSTEM_PROMPT", defaultSystemPrompt),
		AITemperature:       envFloat64Or("DISPATCH_AI_TEMPERATURE", 0.8),
		ClassifyURL:         envOr("DISPATCH_CLASSIFY_URL", "https://api.openai.com/v1/chat/completions"),
		ClassifyAPIKey:      envOr("DISPATCH_CLASSIFY_API_KEY", ""),
		ClassifyModel:       envOr("DISPATCH_CLASSIFY_MODEL", "gpt-4o-mini"),
		SQLitePath:          envOr("DISPATCH_SQLITE_PATH", ""),
		QueueCapacity:       envIntOr("DISPATCH_QUEUE_CAPACITY", 100),
		BacklogHighWater:    envIntOr("DISPATCH_BACKLOG_HIGH_WATER", 50),
		BacklogInterval:     envDurationOr("DISPATCH_BACKLOG_INTERVAL", 5*time.Second),
		IdleTimeout:         envDurationOr("DISPATCH_IDLE_TIMEOUT", 5*time.Minute),
		IdleInterval:        envDurationOr("DISPATCH_IDLE_INTERVAL", 10*time.Second),
		LivenessInterval:    envDurationOr("DISPATCH_LIVENESS_INTERVAL", 5*time.Second),
		DrainTimeout:        envDurationOr("DISPATCH_DRAIN_TIMEOUT", 100*time.Millisecond),
		KeepaliveInterval:   envDurationOr("DISPATCH_KEEPALIVE_INTERVAL", 15*time.Second),
		ReadHeaderTimeout:   envDurationOr("DISPATCH_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("DISPATCH_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if strings.TrimSpace(cfg.RealtimeAPIKey) == "" {
		return Config{}, fmt.Errorf("DISPATCH_REALTIME_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.RealtimeBaseURL) == "" {
		return Config{}, fmt.Errorf("DISPATCH_REALTIME_BASE_URL must not be empty")
	}
	if strings.TrimSpace(cfg.RealtimeModel) == "" {
		return Config{}, fmt.Errorf("DISPATCH_REALTIME_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.RealtimeVoice) == "" {
		return Config{}, fmt.Errorf("DISPATCH_REALTIME_VOICE must not be empty")
	}
	if cfg.AITemperature < 0 || cfg.AITemperature > 2 {
		return Config{}, fmt.Errorf("DISPATCH_AI_TEMPERATURE must be in [0, 2]")
	}
	if strings.TrimSpace(cfg.ClassifyURL) == "" {
		return Config{}, fmt.Errorf("DISPATCH_CLASSIFY_URL must not be empty")
	}
	if strings.TrimSpace(cfg.ClassifyAPIKey) == "" {
		cfg.ClassifyAPIKey = cfg.RealtimeAPIKey
	}
	if strings.TrimSpace(cfg.ClassifyModel) == "" {
		return Config{}, fmt.Errorf("DISPATCH_CLASSIFY_MODEL must not be empty")
	}
	if cfg.QueueCapacity <= 0 {
		return Config{}, fmt.Errorf("DISPATCH_QUEUE_CAPACITY must be > 0")
	}
	if cfg.BacklogHighWater <= 0 {
		return Config{}, fmt.Errorf("DISPATCH_BACKLOG_HIGH_WATER must be > 0")
	}
	if cfg.BacklogHighWater > cfg.QueueCapacity {
		return Config{}, fmt.Errorf("DISPATCH_BACKLOG_HIGH_WATER must be <= DISPATCH_QUEUE_CAPACITY")
	}
	if cfg.BacklogInterval <= 0 {
		return Config{}, fmt.Errorf("DISPATCH_BACKLOG_INTERVAL must be > 0")
	}
	if cfg.IdleTimeout <= 0 {
		return Config{}, fmt.Errorf("DISPATCH_IDLE_TIMEOUT must be > 0")
	}
	if cfg.IdleInterval <= 0 {
		return Config{}, fmt.Errorf("DISPATCH_IDLE_INTERVAL must be > 0")
	}
	if cfg.LivenessInterval <= 0 {
		return Config{}, fmt.Errorf("DISPATCH_LIVENESS_INTERVAL must be > 0")
	}
	if cfg.DrainTimeout <= 0 {
		return Config{}, fmt.Errorf("DISPATCH_DRAIN_TIMEOUT must be > 0")
	}
	if cfg.KeepaliveInterval <= 0 {
		return Config{}, fmt.Errorf("DISPATCH_KEEPALIVE_INTERVAL must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("DISPATCH_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("DISPATCH_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

const defaultSystemPrompt = "You are an emergency dispatch operator. " +
	"Stay calm, gather the caller's location, the nature of the emergency, " +
	"and whether anyone is injured. Keep responses short and reassuring."

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
