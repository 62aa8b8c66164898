package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationResult separates validation problems into Warnings, which are
// clamped/defaulted and allow startup to continue, and Fatals, which abort
// it.
type ValidationResult struct {
	Warnings []error
	Fatals   []error
}

func (r *ValidationResult) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Errorf(format, args...))
}

func (r *ValidationResult) fatalf(format string, args ...any) {
	r.Fatals = append(r.Fatals, fmt.Errorf(format, args...))
}

// HasFatals reports whether any fatal validation error was recorded.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings, for callers that just
// want to print everything found.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

var validColorModes = map[string]bool{
	"truecolor": true,
	"256":       true,
	"8":         true,
	"none":      true,
}

var validTrustModes = map[string]bool{
	"refuse":         true,
	"accept-once":    true,
	"accept-and-pin": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

// ValidateTiered checks a ServerOptions for startability, clamping unsafe
// values to spec-safe defaults and reserving Fatals for values that cannot
// be repaired automatically.
func (o *ServerOptions) ValidateTiered() ValidationResult {
	var result ValidationResult

	if len(o.Bind) == 0 {
		result.fatalf("server: bind address list must not be empty")
	}
	if o.Port <= 0 || o.Port > 65535 {
		result.fatalf("server: port %d out of range 1-65535", o.Port)
	}

	if o.MaxClients <= 0 {
		result.warnf("server: max_clients %d invalid, clamping to 1", o.MaxClients)
		o.MaxClients = 1
	} else if o.MaxClients > 512 {
		result.warnf("server: max_clients %d exceeds safe ceiling, clamping to 512", o.MaxClients)
		o.MaxClients = 512
	}

	if o.TargetFPS <= 0 || o.TargetFPS > 60 {
		result.warnf("server: target_fps %d out of range 1-60, clamping to 30", o.TargetFPS)
		o.TargetFPS = 30
	}

	if o.HeartbeatIntervalSeconds <= 0 {
		result.warnf("server: heartbeat_interval_seconds must be positive, defaulting to 5")
		o.HeartbeatIntervalSeconds = 5
	}
	if o.HeartbeatTimeoutSeconds <= o.HeartbeatIntervalSeconds {
		result.warnf("server: heartbeat_timeout_seconds must exceed heartbeat_interval_seconds, defaulting to 3x interval")
		o.HeartbeatTimeoutSeconds = o.HeartbeatIntervalSeconds * 3
	}
	if o.SlowConsumerGraceSeconds < 0 {
		result.warnf("server: slow_consumer_grace_seconds must not be negative, defaulting to 3")
		o.SlowConsumerGraceSeconds = 3
	}
	if o.SendQueueBudgetBytes <= 0 {
		result.warnf("server: send_queue_budget_bytes must be positive, defaulting to 8MiB")
		o.SendQueueBudgetBytes = 8 << 20
	}

	if o.DiscoveryServiceURL != "" {
		if _, err := url.ParseRequestURI(o.DiscoveryServiceURL); err != nil {
			result.fatalf("server: discovery_service_url %q is not a valid URL: %w", o.DiscoveryServiceURL, err)
		}
	}

	if !validLogLevels[strings.ToLower(o.LogLevel)] {
		result.warnf("server: unknown log_level %q, defaulting to info", o.LogLevel)
		o.LogLevel = "info"
	}
	if !validLogFormats[strings.ToLower(o.LogFormat)] {
		result.warnf("server: unknown log_format %q, defaulting to text", o.LogFormat)
		o.LogFormat = "text"
	}

	return result
}

// ValidateTiered checks a ClientOptions for startability.
func (o *ClientOptions) ValidateTiered() ValidationResult {
	var result ValidationResult

	if o.Endpoint == "" && o.DiscoveryServiceURL == "" {
		result.fatalf("client: either endpoint or discovery_service_url must be set")
	}

	if !validColorModes[strings.ToLower(o.ColorMode)] {
		result.warnf("client: unknown color_mode %q, defaulting to truecolor", o.ColorMode)
		o.ColorMode = "truecolor"
	}

	if !validTrustModes[strings.ToLower(o.TrustOnFirstUse)] {
		result.warnf("client: unknown trust_on_first_use %q, defaulting to refuse", o.TrustOnFirstUse)
		o.TrustOnFirstUse = "refuse"
	}
	if o.Snapshot && o.TrustOnFirstUse == "refuse" && !o.InsecureNoHostCheck {
		result.warnf("client: --snapshot with trust_on_first_use=refuse will abort on any unknown host identity; set trust_on_first_use=accept-once for unattended runs")
	}

	if !validLogLevels[strings.ToLower(o.LogLevel)] {
		result.warnf("client: unknown log_level %q, defaulting to info", o.LogLevel)
		o.LogLevel = "info"
	}
	if !validLogFormats[strings.ToLower(o.LogFormat)] {
		result.warnf("client: unknown log_format %q, defaulting to text", o.LogFormat)
		o.LogFormat = "text"
	}

	return result
}

// ValidateTiered checks a DiscoveryOptions for startability.
func (o *DiscoveryOptions) ValidateTiered() ValidationResult {
	var result ValidationResult

	if len(o.Bind) == 0 {
		result.fatalf("discovery: bind address list must not be empty")
	}
	if o.Port <= 0 || o.Port > 65535 {
		result.fatalf("discovery: port %d out of range 1-65535", o.Port)
	}

	if o.SessionTTLSeconds <= 0 {
		result.warnf("discovery: session_ttl_seconds must be positive, defaulting to 3600")
		o.SessionTTLSeconds = 3600
	}
	if o.LookupTimeoutSeconds <= 0 {
		result.warnf("discovery: lookup_timeout_seconds must be positive, defaulting to 5")
		o.LookupTimeoutSeconds = 5
	}
	if o.RateLimitPerIPPerMin <= 0 {
		result.warnf("discovery: rate_limit_per_ip_per_minute must be positive, defaulting to 30")
		o.RateLimitPerIPPerMin = 30
	}
	if o.MaxInFlightSDUPerSession <= 0 {
		result.warnf("discovery: max_inflight_sdu_per_session must be positive, defaulting to 32")
		o.MaxInFlightSDUPerSession = 32
	}

	if o.SqlitePath == "" {
		result.warnf("discovery: sqlite_path empty, sessions will not persist across restarts")
	}

	if len(o.TurnServers) > 0 && o.TurnSecret == "" {
		result.warnf("discovery: turn_servers configured without turn_secret, TURN credentials will not be minted")
	}

	if !validLogLevels[strings.ToLower(o.LogLevel)] {
		result.warnf("discovery: unknown log_level %q, defaulting to info", o.LogLevel)
		o.LogLevel = "info"
	}
	if !validLogFormats[strings.ToLower(o.LogFormat)] {
		result.warnf("discovery: unknown log_format %q, defaulting to text", o.LogFormat)
		o.LogFormat = "text"
	}

	return result
}
