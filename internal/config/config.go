// Package config defines the gateway's configuration schema and defaults.
package config

import "time"

// Config is the complete gateway configuration, merged from environment
// variables, an optional configuration file, and compiled defaults. Its
// top-level keys mirror the component config blocks in the recognized set:
// port, host, auth, routing, rateLimit, cache, security, monitoring,
// circuitBreaker, transformation, limits, server, documentation, plugins.
type Config struct {
	Port           int                  `yaml:"port"`
	Host           string               `yaml:"host"`
	Server         ServerConfig         `yaml:"server"`
	Auth           AuthConfig           `yaml:"auth"`
	Routing        RoutingConfig        `yaml:"routing"`
	RateLimit      RateLimitConfig      `yaml:"rateLimit"`
	Cache          CacheConfig          `yaml:"cache"`
	Security       SecurityConfig       `yaml:"security"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
	Transformation TransformationConfig `yaml:"transformation"`
	Limits         LimitsConfig         `yaml:"limits"`
	Documentation  DocumentationConfig  `yaml:"documentation"`
	Plugins        PluginsConfig        `yaml:"plugins"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// ServerConfig controls listener timeouts and shutdown grace.
type ServerConfig struct {
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	Environment     string        `yaml:"environment"`
	Version         string        `yaml:"version"`
}

// AuthConfig controls which credential methods are accepted, and their
// verification parameters.
type AuthConfig struct {
	APIKey APIKeyConfig `yaml:"apiKey"`
	JWT    JWTConfig    `yaml:"jwt"`
	Basic  BasicConfig  `yaml:"basic"`
}

type APIKeyConfig struct {
	Enabled    bool            `yaml:"enabled"`
	Header     string          `yaml:"header"`
	QueryParam string          `yaml:"queryParam"`
	Keys       []APIKeyEntry   `yaml:"keys"`
}

// APIKeyEntry preloads a known key at startup; further keys can be minted at
// runtime through the admin API.
type APIKeyEntry struct {
	Key                 string        `yaml:"key"`
	Name                string        `yaml:"name"`
	Permissions         []string      `yaml:"permissions"`
	ExpiresAt           *time.Time    `yaml:"expiresAt"`
	QuotaOverrideN      int           `yaml:"quotaOverrideRequests"`
	QuotaOverrideWindow time.Duration `yaml:"quotaOverrideWindow"`
}

type JWTConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Secret    string   `yaml:"secret"`
	PublicKey string   `yaml:"publicKey"`
	Issuer    string   `yaml:"issuer"`
	Audience  []string `yaml:"audience"`
	Algorithm string   `yaml:"algorithm"` // HS256, HS384, HS512, RS256, RS384, RS512
}

type BasicConfig struct {
	Enabled bool              `yaml:"enabled"`
	Realm   string            `yaml:"realm"`
	Users   []BasicUserConfig `yaml:"users"`
}

type BasicUserConfig struct {
	Username     string   `yaml:"username"`
	PasswordHash string   `yaml:"passwordHash"` // bcrypt hash
	ClientID     string   `yaml:"clientId"`
	Permissions  []string `yaml:"permissions"`
}

// RoutingConfig lists the services the gateway forwards to.
type RoutingConfig struct {
	Services []ServiceConfig `yaml:"services"`
}

type ServiceConfig struct {
	Name              string            `yaml:"name"`
	PathPrefix        string            `yaml:"pathPrefix"`
	StripPrefix       bool              `yaml:"stripPrefix"`
	Instances         []InstanceConfig  `yaml:"instances"`
	LoadBalancing     string            `yaml:"loadBalancing"` // ROUND_ROBIN, WEIGHTED_ROUND_ROBIN, LEAST_CONN, RANDOM, IP_HASH
	Timeout           time.Duration     `yaml:"timeout"`
	HealthCheck       HealthCheckConfig `yaml:"healthCheck"`
	CircuitBreaker    *CircuitBreakerConfig `yaml:"circuitBreaker"`
}

type InstanceConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Weight int    `yaml:"weight"`
}

type HealthCheckConfig struct {
	Path     string        `yaml:"path"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RateLimitConfig controls the global IP window and default per-identity quota.
type RateLimitConfig struct {
	Enabled        bool          `yaml:"enabled"`
	GlobalWindow   time.Duration `yaml:"globalWindow"`
	GlobalMax      int           `yaml:"globalMax"`
	QuotaWindow    time.Duration `yaml:"quotaWindow"`
	QuotaMax       int           `yaml:"quotaMax"`
	SlowDownAfter  int           `yaml:"slowDownAfter"`
	SlowDownDelay  time.Duration `yaml:"slowDownDelay"`
}

// CacheConfig controls the two-tier response cache.
type CacheConfig struct {
	Enabled       bool              `yaml:"enabled"`
	DefaultTTL    time.Duration     `yaml:"defaultTTL"`
	PathTTLs      map[string]time.Duration `yaml:"pathTTLs"`
	RedisAddr     string            `yaml:"redisAddr"`
	RedisDB       int               `yaml:"redisDB"`
	MemoryMaxKeys int               `yaml:"memoryMaxKeys"`
	SweepInterval time.Duration     `yaml:"sweepInterval"`
	InvalidationMethods map[string][]string `yaml:"invalidationMethods"` // pathPrefix -> methods
}

// SecurityConfig controls IP lists, size caps, and threat-pattern scanning.
type SecurityConfig struct {
	Enabled           bool          `yaml:"enabled"`
	IPAllowList       []string      `yaml:"ipAllowList"`
	IPDenyList        []string      `yaml:"ipDenyList"`
	MaxHeaderBytes    int           `yaml:"maxHeaderBytes"`
	MaxScalarBytes    int           `yaml:"maxScalarBytes"`
	MaxBodyNesting    int           `yaml:"maxBodyNesting"`
	ViolationWindow   time.Duration `yaml:"violationWindow"`
	ViolationAutoDeny int           `yaml:"violationAutoDeny"`
	WAF               WAFConfig     `yaml:"waf"`
}

// WAFConfig controls the coraza-based threat scanner.
type WAFConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Mode         string   `yaml:"mode"` // "block" or "detect"
	SQLInjection bool     `yaml:"sqlInjection"`
	XSS          bool     `yaml:"xss"`
	InlineRules  []string `yaml:"inlineRules"`
	RuleFiles    []string `yaml:"ruleFiles"`
}

// MonitoringConfig controls the admin /metrics surface and its retained history.
type MonitoringConfig struct {
	Enabled          bool `yaml:"enabled"`
	ResponseTimeCap  int  `yaml:"responseTimeCap"`
	ResourceSampleCap int `yaml:"resourceSampleCap"`
	AlertLogCap      int  `yaml:"alertLogCap"`
}

// CircuitBreakerConfig is the default circuit breaker parameterization; a
// service may override any of these via its own CircuitBreaker block.
type CircuitBreakerConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	ErrorCount       int           `yaml:"errorCount"`
	ErrorThreshold   float64       `yaml:"errorThreshold"` // percent, 0-100
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
	HalfOpenRequests int           `yaml:"halfOpenRequests"`
}

// TransformationConfig names the per-path-prefix transform rule sets.
type TransformationConfig struct {
	Rules []TransformRuleSet `yaml:"rules"`
}

type TransformRuleSet struct {
	PathPrefix string        `yaml:"pathPrefix"`
	Request    []TransformOp `yaml:"request"`
	Response   []TransformOp `yaml:"response"`
}

type TransformOp struct {
	Target   string `yaml:"target"` // header, query, body
	Action   string `yaml:"action"` // add, remove, rename, transform
	Path     string `yaml:"path"`
	NewPath  string `yaml:"newPath"` // for rename
	Value    string `yaml:"value"`   // for add
	Function string `yaml:"function"` // for transform: lowercase, uppercase, trim, toNumber, toString, toArray
}

// LimitsConfig bounds request sizes independent of the security filter's caps.
type LimitsConfig struct {
	MaxBodyBytes int64 `yaml:"maxBodyBytes"`
}

// DocumentationConfig is pinned as an external interface per the spec's scope
// (the OpenAPI documentation generator lives outside this module); only the
// toggle is modeled so config files round-trip without an unknown-key error.
type DocumentationConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// PluginsConfig controls the plugin engine's scan directory and enabled set.
type PluginsConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Directory string   `yaml:"directory"`
	Load      []string `yaml:"load"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Output     string `yaml:"output"`
	MaxSize    int    `yaml:"maxSize"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAge     int    `yaml:"maxAge"`
	Compress   bool   `yaml:"compress"`
}

// DefaultConfig returns a configuration with sensible defaults, matching the
// spec's default values where it states one explicitly.
func DefaultConfig() *Config {
	return &Config{
		Port: 8080,
		Host: "0.0.0.0",
		Server: ServerConfig{
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			Environment:     "production",
			Version:         "1.0.0",
		},
		Auth: AuthConfig{
			APIKey: APIKeyConfig{Enabled: true, Header: "X-API-Key", QueryParam: "api_key"},
			JWT:    JWTConfig{Enabled: true, Algorithm: "HS256"},
			Basic:  BasicConfig{Enabled: false},
		},
		RateLimit: RateLimitConfig{
			Enabled:      true,
			GlobalWindow: 15 * time.Minute,
			GlobalMax:    1000,
			QuotaWindow:  time.Hour,
			QuotaMax:     5000,
		},
		Cache: CacheConfig{
			Enabled:       true,
			DefaultTTL:    5 * time.Minute,
			MemoryMaxKeys: 10000,
			SweepInterval: 60 * time.Second,
			InvalidationMethods: map[string][]string{
				"/": {"POST", "PUT", "PATCH", "DELETE"},
			},
		},
		Security: SecurityConfig{
			Enabled:           true,
			MaxHeaderBytes:    8 * 1024,
			MaxScalarBytes:    10 * 1024,
			MaxBodyNesting:    10,
			ViolationWindow:   time.Hour,
			ViolationAutoDeny: 10,
		},
		Monitoring: MonitoringConfig{
			Enabled:           true,
			ResponseTimeCap:   1000,
			ResourceSampleCap: 100,
			AlertLogCap:       100,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Timeout:          10 * time.Second,
			ErrorCount:       5,
			ErrorThreshold:   50,
			ResetTimeout:     30 * time.Second,
			HalfOpenRequests: 3,
		},
		Limits: LimitsConfig{
			MaxBodyBytes: 10 * 1024 * 1024,
		},
		Documentation: DocumentationConfig{Enabled: false},
		Plugins:       PluginsConfig{Enabled: false},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
	}
}
