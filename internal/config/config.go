// Package config holds the orchestrator's flat runtime configuration,
// populated from cobra persistent flags that each default to an environment
// variable — the same envOrDefault idiom the teacher's server command uses.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the orchestrator's full runtime configuration.
type Config struct {
	HTTPAddr                string
	LogLevel                string
	LogFile                 string
	LockFile                string
	AuditDriver             string // "sqlite" or "postgres"
	AuditDSN                string
	DefaultPrimitiveTimeout time.Duration
	RetryInterval           time.Duration
	MaxRetryAttempts        int // 0 = unlimited
	Robots                  []RobotConfig
}

// RobotConfig is one entry of the ORCH_ROBOTS list: a name and the
// WebSocket URL to dial for it.
type RobotConfig struct {
	Name string
	URL  string
}

// Defaults returns a Config with every field set to its documented
// default, before flag/env overrides are applied.
func Defaults() Config {
	return Config{
		HTTPAddr:                envOrDefault("ORCH_HTTP_ADDR", ":8090"),
		LogLevel:                envOrDefault("ORCH_LOG_LEVEL", "info"),
		LogFile:                 envOrDefault("ORCH_LOG_FILE", ""),
		LockFile:                envOrDefault("ORCH_LOCK_FILE", "./orchestrator.lock"),
		AuditDriver:             envOrDefault("ORCH_AUDIT_DRIVER", "sqlite"),
		AuditDSN:                envOrDefault("ORCH_AUDIT_DSN", "./orchestrator_audit.db"),
		DefaultPrimitiveTimeout: durationOrDefault("ORCH_PRIMITIVE_TIMEOUT", 10*time.Second),
		RetryInterval:           durationOrDefault("ORCH_RETRY_INTERVAL", 2*time.Second),
		MaxRetryAttempts:        intOrDefault("ORCH_MAX_RETRY_ATTEMPTS", 0),
		Robots:                  parseRobots(envOrDefault("ORCH_ROBOTS", "")),
	}
}

// ParseRobots is exported so the root command can parse the --robots value
// after flag parsing; the flag defaults to the raw ORCH_ROBOTS value and the
// user may override it on the command line.
func ParseRobots(raw string) ([]RobotConfig, error) {
	robots := parseRobots(raw)
	if raw != "" && len(robots) == 0 {
		return nil, fmt.Errorf("config: %q did not parse to any name@wsURL pairs", raw)
	}
	for _, r := range robots {
		if r.Name == "" || r.URL == "" {
			return nil, fmt.Errorf("config: malformed robot entry %q, want name@wsURL", r.Name+"@"+r.URL)
		}
	}
	return robots, nil
}

func parseRobots(raw string) []RobotConfig {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]RobotConfig, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		name, url, ok := strings.Cut(p, "@")
		if !ok {
			out = append(out, RobotConfig{Name: p})
			continue
		}
		out = append(out, RobotConfig{Name: name, URL: url})
	}
	return out
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func durationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func intOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
