// Package config loads service configuration from environment variables.
// Every value has a working default so the bridge can start in a lab
// environment with nothing but VG_WEBHOOK_URL and VG_AUTH_TOKEN set.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the full runtime configuration of the bridge.
type Config struct {
	// MiddlewarePort is the port of the control/management HTTP API.
	MiddlewarePort int
	// AudioSocketPort is the port the AudioSocket TCP listener binds.
	AudioSocketPort int

	// WebhookURL is the voicebot session-initiation endpoint.
	WebhookURL string
	// AuthToken is the bearer credential for the webhook call.
	AuthToken string
	// WebhookTimeout bounds the session-initiation HTTP call.
	WebhookTimeout time.Duration
	// AccountID is the fixed account identifier sent in start events.
	AccountID string

	// DefaultCaller and DefaultCalled are used when the handshake
	// header does not yield usable identifiers.
	DefaultCaller string
	DefaultCalled string

	// AMI connection settings for the Asterisk Manager Interface.
	AMIHost     string
	AMIPort     int
	AMIUsername string
	AMIPassword string
}

// Load reads the configuration from the environment.
func Load() *Config {
	return &Config{
		MiddlewarePort:  envInt("MIDDLEWARE_SERVER_PORT", 3000),
		AudioSocketPort: envInt("AUDIOSOCKET_PORT", 8090),

		WebhookURL:     envString("VG_WEBHOOK_URL", "https://voicegenie-demo-dc.oriserve.com/oriIncomingCallHandler"),
		AuthToken:      envString("VG_AUTH_TOKEN", "your_auth_token_here"),
		WebhookTimeout: time.Duration(envInt("VG_WEBHOOK_TIMEOUT", 10)) * time.Second,
		AccountID:      envString("VG_ACCOUNT_ID", "10144634"),

		DefaultCaller: envString("DEFAULT_CALLER", "6001"),
		DefaultCalled: envString("DEFAULT_CALLED", "5000"),

		AMIHost:     envString("AMI_HOST", "127.0.0.1"),
		AMIPort:     envInt("AMI_PORT", 5038),
		AMIUsername: envString("AMI_USERNAME", "voicebot"),
		AMIPassword: envString("AMI_PASSWORD", "supersecret123"),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
