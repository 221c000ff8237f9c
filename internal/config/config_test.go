package config

import (
	"testing"
	"time"
)

func TestLoad_CustomEnvironment(t *testing.T) {
	t.Setenv("HTTP_PORT", "8080")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "file:./prod.db")
	t.Setenv("UNIVERSE_MERGE_TIMEOUT_MS", "3000")
	t.Setenv("UNIVERSE_MAX_MERGE_SOURCES", "8")
	t.Setenv("ARTNET_ENABLED", "false")
	t.Setenv("ARTNET_PORT", "6455")
	t.Setenv("ARTNET_INTERFACE", "eth0")
	t.Setenv("ARTNET_BROADCAST", "192.168.1.255")
	t.Setenv("RDM_REQUEST_TIMEOUT_MS", "1500")
	t.Setenv("RDM_TOD_TIMEOUT_MS", "5000")
	t.Setenv("RDM_MISSED_TODDATA_LIMIT", "5")
	t.Setenv("RDM_REQUEST_QUEUE_LIMIT", "50")
	t.Setenv("SOURCE_EXPIRY_TICK_MS", "2000")
	t.Setenv("NON_INTERACTIVE", "true")
	t.Setenv("CORS_ORIGIN", "http://example.com")

	cfg := Load()

	if cfg.HTTPPort != "8080" {
		t.Errorf("HTTPPort = %q, want 8080", cfg.HTTPPort)
	}
	if cfg.Env != "production" {
		t.Errorf("Env = %q, want production", cfg.Env)
	}
	if cfg.DatabaseURL != "file:./prod.db" {
		t.Errorf("DatabaseURL = %q, want file:./prod.db", cfg.DatabaseURL)
	}
	if cfg.UniverseMergeTimeout != 3000*time.Millisecond {
		t.Errorf("UniverseMergeTimeout = %v, want 3000ms", cfg.UniverseMergeTimeout)
	}
	if cfg.UniverseMaxMergeSources != 8 {
		t.Errorf("UniverseMaxMergeSources = %d, want 8", cfg.UniverseMaxMergeSources)
	}
	if cfg.ArtNetEnabled {
		t.Error("ArtNetEnabled = true, want false")
	}
	if cfg.ArtNetPort != 6455 {
		t.Errorf("ArtNetPort = %d, want 6455", cfg.ArtNetPort)
	}
	if cfg.ArtNetInterface != "eth0" {
		t.Errorf("ArtNetInterface = %q, want eth0", cfg.ArtNetInterface)
	}
	if cfg.ArtNetBroadcast != "192.168.1.255" {
		t.Errorf("ArtNetBroadcast = %q, want 192.168.1.255", cfg.ArtNetBroadcast)
	}
	if cfg.RDMRequestTimeout != 1500*time.Millisecond {
		t.Errorf("RDMRequestTimeout = %v, want 1500ms", cfg.RDMRequestTimeout)
	}
	if cfg.RDMTodTimeout != 5000*time.Millisecond {
		t.Errorf("RDMTodTimeout = %v, want 5000ms", cfg.RDMTodTimeout)
	}
	if cfg.RDMMissedTodDataLimit != 5 {
		t.Errorf("RDMMissedTodDataLimit = %d, want 5", cfg.RDMMissedTodDataLimit)
	}
	if cfg.RDMRequestQueueLimit != 50 {
		t.Errorf("RDMRequestQueueLimit = %d, want 50", cfg.RDMRequestQueueLimit)
	}
	if cfg.SourceExpiryTick != 2000*time.Millisecond {
		t.Errorf("SourceExpiryTick = %v, want 2000ms", cfg.SourceExpiryTick)
	}
	if !cfg.NonInteractive {
		t.Error("NonInteractive = false, want true")
	}
	if cfg.CORSOrigin != "http://example.com" {
		t.Errorf("CORSOrigin = %q, want http://example.com", cfg.CORSOrigin)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.HTTPPort != "4000" {
		t.Errorf("default HTTPPort = %q, want 4000", cfg.HTTPPort)
	}
	if cfg.ArtNetPort != 6454 {
		t.Errorf("default ArtNetPort = %d, want 6454", cfg.ArtNetPort)
	}
	if !cfg.ArtNetEnabled {
		t.Error("default ArtNetEnabled should be true")
	}
	if cfg.UniverseMaxMergeSources != 6 {
		t.Errorf("default UniverseMaxMergeSources = %d, want 6", cfg.UniverseMaxMergeSources)
	}
	if cfg.UniverseMergeTimeout != 10*time.Second {
		t.Errorf("default UniverseMergeTimeout = %v, want 10s", cfg.UniverseMergeTimeout)
	}
	if cfg.RDMRequestQueueLimit != 100 {
		t.Errorf("default RDMRequestQueueLimit = %d, want 100", cfg.RDMRequestQueueLimit)
	}
}

func TestIsDevelopment(t *testing.T) {
	tests := []struct {
		env      string
		expected bool
	}{
		{"development", true},
		{"production", false},
		{"staging", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := &Config{Env: tt.env}
			if got := cfg.IsDevelopment(); got != tt.expected {
				t.Errorf("IsDevelopment() = %v, want %v for env %q", got, tt.expected, tt.env)
			}
		})
	}
}

func TestIsProduction(t *testing.T) {
	tests := []struct {
		env      string
		expected bool
	}{
		{"production", true},
		{"development", false},
		{"staging", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := &Config{Env: tt.env}
			if got := cfg.IsProduction(); got != tt.expected {
				t.Errorf("IsProduction() = %v, want %v for env %q", got, tt.expected, tt.env)
			}
		})
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_GET_ENV", "custom_value")

	if result := getEnv("TEST_GET_ENV", "default"); result != "custom_value" {
		t.Errorf("getEnv() = %q, want custom_value", result)
	}
	if result := getEnv("NON_EXISTING_VAR_12345_UNIQUE", "default_value"); result != "default_value" {
		t.Errorf("getEnv() = %q, want default_value", result)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_INT_VAR", "42")
	if result := getEnvInt("TEST_INT_VAR", 10); result != 42 {
		t.Errorf("getEnvInt() = %d, want 42", result)
	}

	t.Setenv("TEST_INVALID_INT", "not_a_number")
	if result := getEnvInt("TEST_INVALID_INT", 10); result != 10 {
		t.Errorf("getEnvInt() with invalid value = %d, want default 10", result)
	}

	if result := getEnvInt("NON_EXISTING_INT_VAR_12345_UNIQUE", 100); result != 100 {
		t.Errorf("getEnvInt() = %d, want default 100", result)
	}
}

func TestGetEnvInt_ZeroValue(t *testing.T) {
	t.Setenv("TEST_ZERO_INT", "0")
	if result := getEnvInt("TEST_ZERO_INT", 10); result != 0 {
		t.Errorf("getEnvInt() = %d, want 0", result)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		expected     bool
		setEnv       bool
	}{
		{"true_string", "true", false, true, true},
		{"false_string", "false", true, false, true},
		{"1_string", "1", false, true, true},
		{"0_string", "0", true, false, true},
		{"invalid_string_returns_default", "invalid", true, true, true},
		{"non_existing_returns_default_true", "", true, true, false},
		{"non_existing_returns_default_false", "", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envKey := "TEST_BOOL_VAR_" + tt.name + "_UNIQUE"
			if tt.setEnv {
				t.Setenv(envKey, tt.envValue)
			}

			result := getEnvBool(envKey, tt.defaultValue)
			if result != tt.expected {
				t.Errorf("getEnvBool(%s, %v) = %v, want %v", envKey, tt.defaultValue, result, tt.expected)
			}
		})
	}
}

func TestConfig_StructFields(t *testing.T) {
	cfg := &Config{
		HTTPPort:                "4000",
		Env:                     "test",
		DatabaseURL:             "test.db",
		UniverseMergeTimeout:    10 * time.Second,
		UniverseMaxMergeSources: 6,
		ArtNetEnabled:           true,
		ArtNetPort:              6454,
		ArtNetBroadcast:         "255.255.255.255",
		NonInteractive:          false,
		CORSOrigin:              "http://localhost",
	}

	if cfg.HTTPPort != "4000" {
		t.Error("HTTPPort field access failed")
	}
	if cfg.UniverseMaxMergeSources != 6 {
		t.Error("UniverseMaxMergeSources field access failed")
	}
	if !cfg.ArtNetEnabled {
		t.Error("ArtNetEnabled field access failed")
	}
}
