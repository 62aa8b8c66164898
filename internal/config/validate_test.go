package config

import (
	"fmt"
	"strings"
	"testing"
)

func TestServerValidateTieredBadPortIsFatal(t *testing.T) {
	opts := DefaultServerOptions()
	opts.Port = 70000
	result := opts.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("out-of-range port should be fatal")
	}
}

func TestServerValidateTieredEmptyBindIsFatal(t *testing.T) {
	opts := DefaultServerOptions()
	opts.Bind = nil
	result := opts.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("empty bind list should be fatal")
	}
}

func TestServerValidateTieredBadDiscoveryURLIsFatal(t *testing.T) {
	opts := DefaultServerOptions()
	opts.DiscoveryServiceURL = "::not a url::"
	result := opts.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("malformed discovery_service_url should be fatal")
	}
}

func TestServerValidateTieredMaxClientsClampingIsWarning(t *testing.T) {
	opts := DefaultServerOptions()
	opts.MaxClients = 0
	result := opts.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped max_clients should be warning, not fatal: %v", result.Fatals)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for clamped max_clients")
	}
	if opts.MaxClients != 1 {
		t.Fatalf("MaxClients = %d, want 1 (clamped)", opts.MaxClients)
	}
}

func TestServerValidateTieredMaxClientsCeilingIsWarning(t *testing.T) {
	opts := DefaultServerOptions()
	opts.MaxClients = 9999
	result := opts.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped max_clients should be warning: %v", result.Fatals)
	}
	if opts.MaxClients != 512 {
		t.Fatalf("MaxClients = %d, want 512 (clamped)", opts.MaxClients)
	}
}

func TestServerValidateTieredHeartbeatTimeoutDerivedFromInterval(t *testing.T) {
	opts := DefaultServerOptions()
	opts.HeartbeatIntervalSeconds = 10
	opts.HeartbeatTimeoutSeconds = 5 // must exceed interval
	result := opts.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("heartbeat timeout repair should be a warning: %v", result.Fatals)
	}
	if opts.HeartbeatTimeoutSeconds != 30 {
		t.Fatalf("HeartbeatTimeoutSeconds = %d, want 30 (3x interval)", opts.HeartbeatTimeoutSeconds)
	}
}

func TestServerValidateTieredUnknownLogLevelIsWarning(t *testing.T) {
	opts := DefaultServerOptions()
	opts.LogLevel = "verbose"
	result := opts.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown log level should not be fatal")
	}
	if opts.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want info (defaulted)", opts.LogLevel)
	}
}

func TestClientValidateTieredMissingEndpointIsFatal(t *testing.T) {
	opts := DefaultClientOptions()
	opts.Endpoint = ""
	opts.DiscoveryServiceURL = ""
	result := opts.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("missing endpoint and discovery_service_url should be fatal")
	}
}

func TestClientValidateTieredUnknownColorModeIsWarning(t *testing.T) {
	opts := DefaultClientOptions()
	opts.Endpoint = "localhost:7777"
	opts.ColorMode = "rainbow"
	result := opts.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown color mode should not be fatal")
	}
	if opts.ColorMode != "truecolor" {
		t.Fatalf("ColorMode = %q, want truecolor (defaulted)", opts.ColorMode)
	}
}

func TestClientValidateTieredSnapshotWithRefuseWarns(t *testing.T) {
	opts := DefaultClientOptions()
	opts.Endpoint = "localhost:7777"
	opts.Snapshot = true
	result := opts.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("snapshot with default trust mode should not be fatal")
	}
	found := false
	for _, err := range result.Warnings {
		if strings.Contains(err.Error(), "--snapshot") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected warning about --snapshot with trust_on_first_use=refuse")
	}
}

func TestDiscoveryValidateTieredBadPortIsFatal(t *testing.T) {
	opts := DefaultDiscoveryOptions()
	opts.Port = -1
	result := opts.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("negative port should be fatal")
	}
}

func TestDiscoveryValidateTieredTTLClampingIsWarning(t *testing.T) {
	opts := DefaultDiscoveryOptions()
	opts.SessionTTLSeconds = -5
	result := opts.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped session TTL should be warning: %v", result.Fatals)
	}
	if opts.SessionTTLSeconds != 3600 {
		t.Fatalf("SessionTTLSeconds = %d, want 3600", opts.SessionTTLSeconds)
	}
}

func TestDiscoveryValidateTieredEmptySqlitePathWarns(t *testing.T) {
	opts := DefaultDiscoveryOptions()
	opts.SqlitePath = ""
	result := opts.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("empty sqlite_path should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning about persistence being disabled")
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, fmt.Errorf("test error"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	opts := DefaultServerOptions()
	opts.Port = -1             // fatal
	opts.MaxClients = 0        // warning
	result := opts.ValidateTiered()

	all := result.AllErrors()
	if len(all) < 2 {
		t.Fatalf("AllErrors() returned %d errors, expected at least 2 (fatals + warnings)", len(all))
	}
}

func TestDefaultServerOptionsHasNoErrors(t *testing.T) {
	opts := DefaultServerOptions()
	result := opts.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("default server options have fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("default server options have warnings: %v", result.Warnings)
	}
}

func TestDefaultDiscoveryOptionsHasNoFatals(t *testing.T) {
	opts := DefaultDiscoveryOptions()
	result := opts.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("default discovery options have fatals: %v", result.Fatals)
	}
}
