// Package config loads the coordinator's process-wide configuration
// from the environment. No third-party config-loading library appears
// anywhere in the example pack this module was grounded on; this
// stdlib-only loader is the documented exception (see DESIGN.md).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Backend selects the Persistence Gateway implementation.
type Backend string

const (
	BackendREST   Backend = "rest"
	BackendNative Backend = "native"
)

// PolicyEngineKind selects the Policy Engine backend.
type PolicyEngineKind string

const (
	PolicyEngineNative      PolicyEngineKind = "native"
	PolicyEngineDeclarative PolicyEngineKind = "declarative"
)

// NetworkPolicy is the fallback decision used when a profile lookup misses.
type NetworkPolicy string

const (
	NetworkPolicyAllow NetworkPolicy = "allow"
	NetworkPolicyDeny  NetworkPolicy = "deny"
)

// Config is the fully-resolved, process-wide configuration. It is
// loaded once at start and passed explicitly into every component
// constructor — no package-level mutable config.
type Config struct {
	Persistence PersistenceConfig
	Agent       AgentIdentity
	Lock        LockConfig
	Policy      PolicyConfig
	Audit       AuditConfig
	Network     NetworkConfig
	Profiles    ProfilesConfig
	PortAlloc   PortAllocConfig
}

type PersistenceConfig struct {
	Backend    Backend
	DSN        string
	RESTPrefix string
}

type AgentIdentity struct {
	AgentID   string
	AgentType string
	SessionID string
}

type LockConfig struct {
	DefaultTTL time.Duration
	MaxTTL     time.Duration
}

type PolicyConfig struct {
	Engine         PolicyEngineKind
	CacheTTL       time.Duration
	SchemaPath     string
	EnableFallback bool
}

type AuditConfig struct {
	AsyncLogging bool
}

type NetworkConfig struct {
	DefaultPolicy NetworkPolicy
}

type ProfilesConfig struct {
	DefaultTrustLevel     int
	EnforceResourceLimits bool
}

type PortAllocConfig struct {
	BasePort       int
	RangePerSession int
	TTL            time.Duration
	MaxSessions    int
}

// Load resolves configuration from the environment, applying defaults
// for anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		Persistence: PersistenceConfig{
			Backend:    Backend(getEnvDefault("COORD_PERSISTENCE_BACKEND", string(BackendNative))),
			DSN:        getEnvDefault("COORD_PERSISTENCE_DSN", "coordinator.db"),
			RESTPrefix: getEnvDefault("COORD_PERSISTENCE_REST_PREFIX", "/api/v1"),
		},
		Agent: AgentIdentity{
			AgentID:   getEnvDefault("COORD_AGENT_ID", uuid.New().String()),
			AgentType: getEnvDefault("COORD_AGENT_TYPE", "generic"),
			SessionID: os.Getenv("COORD_SESSION_ID"),
		},
		Network: NetworkConfig{
			DefaultPolicy: NetworkPolicy(getEnvDefault("COORD_NETWORK_DEFAULT_POLICY", string(NetworkPolicyAllow))),
		},
		Profiles: ProfilesConfig{
			DefaultTrustLevel:     1,
			EnforceResourceLimits: true,
		},
	}

	defaultTTL, err := getEnvMinutes("COORD_LOCK_DEFAULT_TTL_MINUTES", 120)
	if err != nil {
		return nil, err
	}
	maxTTL, err := getEnvMinutes("COORD_LOCK_MAX_TTL_MINUTES", 480)
	if err != nil {
		return nil, err
	}
	cfg.Lock = LockConfig{DefaultTTL: defaultTTL, MaxTTL: maxTTL}

	cacheTTL, err := getEnvSeconds("COORD_POLICY_CACHE_TTL_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	cfg.Policy = PolicyConfig{
		Engine:         PolicyEngineKind(getEnvDefault("COORD_POLICY_ENGINE", string(PolicyEngineNative))),
		CacheTTL:       cacheTTL,
		SchemaPath:     os.Getenv("COORD_POLICY_SCHEMA_PATH"),
		EnableFallback: getEnvBool("COORD_POLICY_ENABLE_FALLBACK", true),
	}

	cfg.Audit = AuditConfig{
		AsyncLogging: getEnvBool("COORD_AUDIT_ASYNC", true),
	}

	defaultTrust, err := getEnvInt("COORD_PROFILES_DEFAULT_TRUST_LEVEL", 1)
	if err != nil {
		return nil, err
	}
	cfg.Profiles.DefaultTrustLevel = defaultTrust
	cfg.Profiles.EnforceResourceLimits = getEnvBool("COORD_PROFILES_ENFORCE_RESOURCE_LIMITS", true)

	basePort, err := getEnvInt("COORD_PORTALLOC_BASE_PORT", 10000)
	if err != nil {
		return nil, err
	}
	rangePerSession, err := getEnvInt("COORD_PORTALLOC_RANGE_PER_SESSION", 100)
	if err != nil {
		return nil, err
	}
	ttlMinutes, err := getEnvMinutes("COORD_PORTALLOC_TTL_MINUTES", 120)
	if err != nil {
		return nil, err
	}
	maxSessions, err := getEnvInt("COORD_PORTALLOC_MAX_SESSIONS", 20)
	if err != nil {
		return nil, err
	}
	cfg.PortAlloc = PortAllocConfig{
		BasePort:        basePort,
		RangePerSession: rangePerSession,
		TTL:             ttlMinutes,
		MaxSessions:     maxSessions,
	}

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("config: invalid integer for %s: %w", key, err)
	}
	return n, nil
}

func getEnvMinutes(key string, defMinutes int) (time.Duration, error) {
	n, err := getEnvInt(key, defMinutes)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Minute, nil
}

func getEnvSeconds(key string, defSeconds int) (time.Duration, error) {
	n, err := getEnvInt(key, defSeconds)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

// ClampTTL maps a non-positive requested lease TTL to DefaultTTL and
// clamps one above MaxTTL down to MaxTTL rather than rejecting it; no
// lower bound is applied to positive values.
func (c *Config) ClampTTL(requested time.Duration) time.Duration {
	if requested <= 0 {
		return c.Lock.DefaultTTL
	}
	if requested > c.Lock.MaxTTL {
		return c.Lock.MaxTTL
	}
	return requested
}
