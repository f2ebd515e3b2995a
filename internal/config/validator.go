package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validator validates individual configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey checks that an OpenAI key is present and shaped like one.
func (v *Validator) ValidateAPIKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("upstream api_key is required (set VOXRELAY_UPSTREAM_API_KEY or OPENAI_API_KEY)")
	}
	if !strings.HasPrefix(key, "sk-") {
		return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
	}
	return nil
}

// ValidateUpstreamURL accepts ws, wss, http and https URLs with a host.
func (v *Validator) ValidateUpstreamURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid upstream url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("invalid upstream url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream url %q has no host", raw)
	}
	return nil
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid server port %d (must be 1-65535)", port)
	}
	return nil
}

// ValidateLogLevel validates a log level
func (v *Validator) ValidateLogLevel(level string) error {
	switch level {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("invalid log level %q (must be debug, info, warn or error)", level)
}
