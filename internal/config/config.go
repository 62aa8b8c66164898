// Package config loads the enumerated options structs that drive
// ascii-chat's three binaries (server, client, discovery-service),
// replacing any hidden globals in the hot path.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/ascii-chat/ascii-chat/internal/logging"
)

var log = logging.L("config")

// ServerOptions configures `ascii-chat server`.
type ServerOptions struct {
	Bind                []string `mapstructure:"bind"`
	Port                int      `mapstructure:"port"`
	DiscoveryServiceURL string   `mapstructure:"discovery_service_url"`
	DiscoveryExposeIP   string   `mapstructure:"discovery_expose_ip"`
	TrustStorePath      string   `mapstructure:"trust_store_path"`
	IdentityKeyPath     string   `mapstructure:"identity_key_path"`
	InsecureNoHostCheck bool     `mapstructure:"insecure_no_host_identity_check"`

	// Password, when non-empty, requires every joining client to run
	// the optional PAKE password factor during the handshake; clients
	// that don't present a matching password are rejected with
	// SESSION_REJECT(bad_password).
	Password string `mapstructure:"password"`

	MaxClients   int `mapstructure:"max_clients"`
	TargetFPS    int `mapstructure:"target_fps"`
	AudioWindowMs int `mapstructure:"audio_window_ms"`

	HeartbeatIntervalSeconds  int `mapstructure:"heartbeat_interval_seconds"`
	HeartbeatTimeoutSeconds   int `mapstructure:"heartbeat_timeout_seconds"`
	SlowConsumerGraceSeconds  int `mapstructure:"slow_consumer_grace_seconds"`
	HandshakeTimeoutSeconds   int `mapstructure:"handshake_timeout_seconds"`
	ShutdownGraceSeconds      int `mapstructure:"shutdown_grace_seconds"`
	SendQueueBudgetBytes      int `mapstructure:"send_queue_budget_bytes"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`

	MetricsAddr string `mapstructure:"metrics_addr"`
}

// DefaultServerOptions returns safe-to-run defaults: handshake/heartbeat
// timeouts, target FPS, and slow-consumer grace.
func DefaultServerOptions() *ServerOptions {
	return &ServerOptions{
		Bind:                     []string{"0.0.0.0"},
		Port:                     7777,
		MaxClients:               32,
		TargetFPS:                30,
		AudioWindowMs:            20,
		HeartbeatIntervalSeconds: 5,
		HeartbeatTimeoutSeconds:  15,
		SlowConsumerGraceSeconds: 3,
		HandshakeTimeoutSeconds:  10,
		ShutdownGraceSeconds:     5,
		SendQueueBudgetBytes:     8 << 20,
		IdentityKeyPath:          "server_identity.key",
		LogLevel:                 "info",
		LogFormat:                "text",
		MetricsAddr:              "127.0.0.1:9090",
	}
}

// LoadServerOptions layers a YAML file (if present), ASCII_CHAT_-prefixed
// env vars, and flags already bound into v over the defaults.
func LoadServerOptions(cfgFile string, v *viper.Viper) (*ServerOptions, error) {
	opts := DefaultServerOptions()
	if err := load(cfgFile, v, opts); err != nil {
		return nil, err
	}
	result := opts.ValidateTiered()
	logValidation(result)
	if result.HasFatals() {
		return nil, fmt.Errorf("config: fatal validation errors: %v", result.Fatals[0])
	}
	return opts, nil
}

// ClientOptions configures `ascii-chat client`.
type ClientOptions struct {
	Endpoint string `mapstructure:"endpoint"` // host:port, ws(s)://, or a session string
	Password string `mapstructure:"password"`
	Snapshot bool   `mapstructure:"snapshot"`

	ColorMode    string `mapstructure:"color_mode"` // truecolor|256|8|none
	AudioEnabled bool   `mapstructure:"audio_enabled"`
	VideoEnabled bool   `mapstructure:"video_enabled"`

	TrustStorePath   string `mapstructure:"trust_store_path"`
	TrustOnFirstUse  string `mapstructure:"trust_on_first_use"` // refuse|accept-once|accept-and-pin
	IdentityKeyPath  string `mapstructure:"identity_key_path"`
	InsecureNoHostCheck bool `mapstructure:"insecure_no_host_identity_check"`

	DiscoveryServiceURL string `mapstructure:"discovery_service_url"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// DefaultClientOptions returns safe-to-run defaults. TrustOnFirstUse
// defaults to "refuse": secure by default, with --snapshot requiring an
// explicit opt-in to accept-once for non-interactive runs.
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		ColorMode:       "truecolor",
		AudioEnabled:    true,
		VideoEnabled:    true,
		TrustOnFirstUse: "refuse",
		IdentityKeyPath: "client_identity.key",
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

func LoadClientOptions(cfgFile string, v *viper.Viper) (*ClientOptions, error) {
	opts := DefaultClientOptions()
	if err := load(cfgFile, v, opts); err != nil {
		return nil, err
	}
	result := opts.ValidateTiered()
	logValidation(result)
	if result.HasFatals() {
		return nil, fmt.Errorf("config: fatal validation errors: %v", result.Fatals[0])
	}
	return opts, nil
}

// DiscoveryOptions configures `ascii-chat-discovery`.
type DiscoveryOptions struct {
	Bind     []string `mapstructure:"bind"`
	Port     int      `mapstructure:"port"`
	ExposeIP bool     `mapstructure:"discovery_expose_ip"`

	SessionTTLSeconds      int `mapstructure:"session_ttl_seconds"`
	LookupTimeoutSeconds   int `mapstructure:"lookup_timeout_seconds"`
	RateLimitPerIPPerMin   int `mapstructure:"rate_limit_per_ip_per_minute"`
	MaxInFlightSDUPerSession int `mapstructure:"max_inflight_sdu_per_session"`

	SqlitePath string `mapstructure:"sqlite_path"`

	IdentityKeyPath string `mapstructure:"identity_key_path"`

	// StunServers are handed out verbatim on lookup.
	StunServers []string `mapstructure:"stun_servers"`
	// TurnServers and TurnSecret configure short-lived TURN
	// credentials minted per lookup using the coturn REST-API HMAC
	// scheme (username = expiry timestamp, password = base64 HMAC).
	TurnServers []string `mapstructure:"turn_servers"`
	TurnSecret  string   `mapstructure:"turn_secret"`

	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

func DefaultDiscoveryOptions() *DiscoveryOptions {
	return &DiscoveryOptions{
		Bind:                     []string{"0.0.0.0", "::"},
		Port:                     7780,
		SessionTTLSeconds:        3600,
		LookupTimeoutSeconds:     5,
		RateLimitPerIPPerMin:     30,
		MaxInFlightSDUPerSession: 32,
		SqlitePath:               "acds.sqlite",
		StunServers:              []string{"stun:stun.l.google.com:19302"},
		LogLevel:                 "info",
		LogFormat:                "text",
		MetricsAddr:              "127.0.0.1:9091",
	}
}

func LoadDiscoveryOptions(cfgFile string, v *viper.Viper) (*DiscoveryOptions, error) {
	opts := DefaultDiscoveryOptions()
	if err := load(cfgFile, v, opts); err != nil {
		return nil, err
	}
	result := opts.ValidateTiered()
	logValidation(result)
	if result.HasFatals() {
		return nil, fmt.Errorf("config: fatal validation errors: %v", result.Fatals[0])
	}
	return opts, nil
}

// load layers cfgFile (if non-empty), ASCII_CHAT_-prefixed env vars,
// and any flags already bound into v over opts' defaults.
func load(cfgFile string, v *viper.Viper, opts any) error {
	if v == nil {
		v = viper.New()
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("config: read %s: %w", cfgFile, err)
		}
	}
	v.SetEnvPrefix("ASCII_CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v.Unmarshal(opts)
}

func logValidation(result ValidationResult) {
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	for _, err := range result.Fatals {
		log.Error("config validation fatal", "error", err)
	}
}
