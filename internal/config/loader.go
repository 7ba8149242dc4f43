package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Loader reads and merges gateway configuration.
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads a YAML (or JSON, a YAML subset) configuration file, expands
// ${VAR} references against the environment, deep-merges it over compiled
// defaults, and validates the result.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, l.validate(cfg)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := l.merge(cfg, data); err != nil {
		return nil, err
	}
	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// merge expands env vars in data and unmarshals it over cfg. goccy/go-yaml's
// Unmarshal only sets fields present in the document, so this is a deep merge
// for maps/structs; scalars and arrays present in the document replace the
// default wholesale, matching the documented merge semantics.
func (l *Loader) merge(cfg *Config, data []byte) error {
	expanded := l.expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// validate rejects configurations the spec calls out as explicitly invalid.
func (l *Loader) validate(cfg *Config) error {
	if cfg.CircuitBreaker.HalfOpenRequests == 0 {
		return fmt.Errorf("circuitBreaker.halfOpenRequests must be > 0 (0 means the breaker can never close)")
	}
	seen := make(map[string]bool)
	for _, svc := range cfg.Routing.Services {
		if svc.Name == "" {
			return fmt.Errorf("routing.services: service name is required")
		}
		if seen[svc.Name] {
			return fmt.Errorf("routing.services: duplicate service name %q", svc.Name)
		}
		seen[svc.Name] = true
		if svc.CircuitBreaker != nil && svc.CircuitBreaker.HalfOpenRequests == 0 {
			return fmt.Errorf("service %s: circuitBreaker.halfOpenRequests must be > 0", svc.Name)
		}
		switch svc.LoadBalancing {
		case "", "ROUND_ROBIN", "WEIGHTED_ROUND_ROBIN", "LEAST_CONN", "RANDOM", "IP_HASH":
		default:
			return fmt.Errorf("service %s: invalid loadBalancing policy %q", svc.Name, svc.LoadBalancing)
		}
	}
	return nil
}

// EffectiveCircuitBreaker resolves a service's circuit breaker parameters,
// falling back to the global defaults for any zero-valued field left unset
// by the service override.
func EffectiveCircuitBreaker(global CircuitBreakerConfig, override *CircuitBreakerConfig) CircuitBreakerConfig {
	if override == nil {
		return global
	}
	eff := global
	if override.Timeout != 0 {
		eff.Timeout = override.Timeout
	}
	if override.ErrorCount != 0 {
		eff.ErrorCount = override.ErrorCount
	}
	if override.ErrorThreshold != 0 {
		eff.ErrorThreshold = override.ErrorThreshold
	}
	if override.ResetTimeout != 0 {
		eff.ResetTimeout = override.ResetTimeout
	}
	if override.HalfOpenRequests != 0 {
		eff.HalfOpenRequests = override.HalfOpenRequests
	}
	return eff
}
