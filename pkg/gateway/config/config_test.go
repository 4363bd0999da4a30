package config

import (
	"strings"
	"testing"
	"time"
)

var gatewayEnvKeys = []string{
	"DISPATCH_ADDR",
	"DISPATCH_PUBLIC_HOST",
	"DISPATCH_REALTIME_API_KEY",
	"DISPATCH_REALTIME_BASE_URL",
	"DISPATCH_REALTIME_MODEL",
	"DISPATCH_REALTIME_VOICE",
	"DISPATCH_GREETING",
	"DISPATCH_SYSTEM_PROMPT",
	"DISPATCH_AI_TEMPERATURE",
	"DISPATCH_CLASSIFY_URL",
	"DISPATCH_CLASSIFY_API_KEY",
	"DISPATCH_CLASSIFY_MODEL",
	"DISPATCH_SQLITE_PATH",
	"DISPATCH_QUEUE_CAPACITY",
	"DISPATCH_BACKLOG_HIGH_WATER",
	"DISPATCH_BACKLOG_INTERVAL",
	"DISPATCH_IDLE_TIMEOUT",
	"DISPATCH_IDLE_INTERVAL",
	"DISPATCH_LIVENESS_INTERVAL",
	"DISPATCH_DRAIN_TIMEOUT",
	"DISPATCH_KEEPALIVE_INTERVAL",
	"DISPATCH_READ_HEADER_TIMEOUT",
	"DISPATCH_SHUTDOWN_GRACE_PERIOD",
}

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("DISPATCH_REALTIME_API_KEY", "sk-test")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.RealtimeBaseURL != "wss://api.openai.com/v1/realtime" {
		t.Fatalf("RealtimeBaseURL = %q", cfg.RealtimeBaseURL)
	}
	if cfg.RealtimeVoice != "alloy" {
		t.Fatalf("RealtimeVoice = %q, want alloy", cfg.RealtimeVoice)
	}
	if cfg.AITemperature != 0.8 {
		t.Fatalf("AITemperature = %v, want 0.8", cfg.AITemperature)
	}
	if cfg.QueueCapacity != 100 {
		t.Fatalf("QueueCapacity = %d, want 100", cfg.QueueCapacity)
	}
	if cfg.BacklogHighWater != 50 {
		t.Fatalf("BacklogHighWater = %d, want 50", cfg.BacklogHighWater)
	}
	if cfg.BacklogInterval != 5*time.Second {
		t.Fatalf("BacklogInterval = %v, want 5s", cfg.BacklogInterval)
	}
	if cfg.IdleTimeout != 5*time.Minute {
		t.Fatalf("IdleTimeout = %v, want 5m", cfg.IdleTimeout)
	}
	if cfg.IdleInterval != 10*time.Second {
		t.Fatalf("IdleInterval = %v, want 10s", cfg.IdleInterval)
	}
	if cfg.LivenessInterval != 5*time.Second {
		t.Fatalf("LivenessInterval = %v, want 5s", cfg.LivenessInterval)
	}
	if cfg.DrainTimeout != 100*time.Millisecond {
		t.Fatalf("DrainTimeout = %v, want 100ms", cfg.DrainTimeout)
	}
	if cfg.KeepaliveInterval != 15*time.Second {
		t.Fatalf("KeepaliveInterval = %v, want 15s", cfg.KeepaliveInterval)
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 30s", cfg.ShutdownGracePeriod)
	}
	if cfg.ClassifyAPIKey != "sk-test" {
		t.Fatalf("ClassifyAPIKey = %q, want realtime key fallback", cfg.ClassifyAPIKey)
	}
}

func TestLoadFromEnv_RequiresRealtimeKey(t *testing.T) {
	clearGatewayEnv(t)

	_, err := LoadFromEnv()
	if err == nil || !strings.Contains(err.Error(), "DISPATCH_REALTIME_API_KEY") {
		t.Fatalf("err = %v, want missing key error", err)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("DISPATCH_REALTIME_API_KEY", "sk-test")
	t.Setenv("DISPATCH_ADDR", ":9090")
	t.Setenv("DISPATCH_QUEUE_CAPACITY", "200")
	t.Setenv("DISPATCH_BACKLOG_HIGH_WATER", "75")
	t.Setenv("DISPATCH_IDLE_TIMEOUT", "2m")
	t.Setenv("DISPATCH_CLASSIFY_API_KEY", "sk-classify")
	t.Setenv("DISPATCH_SQLITE_PATH", "/var/lib/dispatch/tickets.db")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.QueueCapacity != 200 || cfg.BacklogHighWater != 75 {
		t.Fatalf("queue tuning = %d/%d", cfg.QueueCapacity, cfg.BacklogHighWater)
	}
	if cfg.IdleTimeout != 2*time.Minute {
		t.Fatalf("IdleTimeout = %v", cfg.IdleTimeout)
	}
	if cfg.ClassifyAPIKey != "sk-classify" {
		t.Fatalf("ClassifyAPIKey = %q", cfg.ClassifyAPIKey)
	}
	if cfg.SQLitePath != "/var/lib/dispatch/tickets.db" {
		t.Fatalf("SQLitePath = %q", cfg.SQLitePath)
	}
}

func TestLoadFromEnv_Validation(t *testing.T) {
	cases := []struct {
		key   string
		value string
		want  string
	}{
		{"DISPATCH_QUEUE_CAPACITY", "0", "DISPATCH_QUEUE_CAPACITY"},
		{"DISPATCH_BACKLOG_HIGH_WATER", "500", "DISPATCH_BACKLOG_HIGH_WATER"},
		{"DISPATCH_AI_TEMPERATURE", "3.5", "DISPATCH_AI_TEMPERATURE"},
		{"DISPATCH_DRAIN_TIMEOUT", "-1s", "DISPATCH_DRAIN_TIMEOUT"},
		{"DISPATCH_IDLE_TIMEOUT", "-5m", "DISPATCH_IDLE_TIMEOUT"},
		{"DISPATCH_KEEPALIVE_INTERVAL", "-15s", "DISPATCH_KEEPALIVE_INTERVAL"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			clearGatewayEnv(t)
			t.Setenv("DISPATCH_REALTIME_API_KEY", "sk-test")
			t.Setenv(tc.key, tc.value)

			_, err := LoadFromEnv()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestLoadFromEnv_MalformedNumbersFallBack(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("DISPATCH_REALTIME_API_KEY", "sk-test")
	t.Setenv("DISPATCH_QUEUE_CAPACITY", "not-a-number")
	t.Setenv("DISPATCH_IDLE_TIMEOUT", "soon")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.QueueCapacity != 100 {
		t.Fatalf("QueueCapacity = %d, want default 100", cfg.QueueCapacity)
	}
	if cfg.IdleTimeout != 5*time.Minute {
		t.Fatalf("IdleTimeout = %v, want default 5m", cfg.IdleTimeout)
	}
}
