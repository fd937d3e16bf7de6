package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"COORD_PERSISTENCE_BACKEND", "COORD_PERSISTENCE_DSN", "COORD_PERSISTENCE_REST_PREFIX",
		"COORD_AGENT_ID", "COORD_AGENT_TYPE", "COORD_SESSION_ID",
		"COORD_LOCK_DEFAULT_TTL_MINUTES", "COORD_LOCK_MAX_TTL_MINUTES",
		"COORD_POLICY_ENGINE", "COORD_POLICY_CACHE_TTL_SECONDS", "COORD_POLICY_SCHEMA_PATH",
		"COORD_POLICY_ENABLE_FALLBACK", "COORD_AUDIT_ASYNC",
		"COORD_NETWORK_DEFAULT_POLICY", "COORD_PROFILES_DEFAULT_TRUST_LEVEL",
		"COORD_PROFILES_ENFORCE_RESOURCE_LIMITS", "COORD_PORTALLOC_BASE_PORT",
		"COORD_PORTALLOC_RANGE_PER_SESSION", "COORD_PORTALLOC_TTL_MINUTES",
		"COORD_PORTALLOC_MAX_SESSIONS",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Persistence.Backend != BackendNative {
		t.Errorf("default backend = %q, want native", cfg.Persistence.Backend)
	}
	if cfg.Lock.DefaultTTL != 120*time.Minute {
		t.Errorf("default TTL = %v, want 120m", cfg.Lock.DefaultTTL)
	}
	if cfg.Lock.MaxTTL != 480*time.Minute {
		t.Errorf("max TTL = %v, want 480m", cfg.Lock.MaxTTL)
	}
	if cfg.Policy.Engine != PolicyEngineNative {
		t.Errorf("default policy engine = %q, want native", cfg.Policy.Engine)
	}
	if !cfg.Audit.AsyncLogging {
		t.Errorf("expected audit async logging to default true")
	}
	if cfg.PortAlloc.BasePort != 10000 {
		t.Errorf("default base port = %d, want 10000", cfg.PortAlloc.BasePort)
	}
	if cfg.Agent.AgentID == "" {
		t.Errorf("expected an auto-generated agent id")
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("COORD_PERSISTENCE_BACKEND", "rest")
	t.Setenv("COORD_LOCK_MAX_TTL_MINUTES", "30")
	t.Setenv("COORD_POLICY_ENGINE", "declarative")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Persistence.Backend != BackendREST {
		t.Errorf("backend = %q, want rest", cfg.Persistence.Backend)
	}
	if cfg.Lock.MaxTTL != 30*time.Minute {
		t.Errorf("max TTL = %v, want 30m", cfg.Lock.MaxTTL)
	}
	if cfg.Policy.Engine != PolicyEngineDeclarative {
		t.Errorf("policy engine = %q, want declarative", cfg.Policy.Engine)
	}
}

func TestClampTTL(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name      string
		requested time.Duration
		want      time.Duration
	}{
		{"zero uses default", 0, cfg.Lock.DefaultTTL},
		{"within envelope", 10 * time.Minute, 10 * time.Minute},
		{"above max clamps", 1000 * time.Minute, cfg.Lock.MaxTTL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cfg.ClampTTL(tt.requested); got != tt.want {
				t.Errorf("ClampTTL(%v) = %v, want %v", tt.requested, got, tt.want)
			}
		})
	}
}

func TestLoadRejectsInvalidInteger(t *testing.T) {
	clearEnv(t)
	t.Setenv("COORD_LOCK_DEFAULT_TTL_MINUTES", "not-a-number")

	if _, err := Load(); err == nil {
		t.Fatalf("expected an error for a non-numeric TTL")
	}
}
