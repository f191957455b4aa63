// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Collector holds report collector settings.
type Collector struct {
	ListenAddr      string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisKey        string
	MaxReports      int
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
	LogReports      bool
}

// Defaults for collector settings.
const (
	DefaultListenAddr      = ":8470"
	DefaultRedisKey        = "pinguard:reports"
	DefaultMaxReports      = 10000
	DefaultMaxBodyBytes    = 64 << 10
	DefaultShutdownTimeout = 10 * time.Second
)

// CollectorFromEnv reads collector settings from PINGUARD_* environment
// variables, falling back to the defaults.
func CollectorFromEnv() Collector {
	return Collector{
		ListenAddr:      envDefault("PINGUARD_LISTEN_ADDR", DefaultListenAddr),
		RedisAddr:       envDefault("PINGUARD_REDIS_ADDR", ""),
		RedisPassword:   envDefault("PINGUARD_REDIS_PASSWORD", ""),
		RedisDB:         envIntDefault("PINGUARD_REDIS_DB", 0),
		RedisKey:        envDefault("PINGUARD_REDIS_KEY", DefaultRedisKey),
		MaxReports:      envIntDefault("PINGUARD_MAX_REPORTS", DefaultMaxReports),
		MaxBodyBytes:    int64(envIntDefault("PINGUARD_MAX_BODY_BYTES", DefaultMaxBodyBytes)),
		ShutdownTimeout: envDurationDefault("PINGUARD_SHUTDOWN_TIMEOUT", DefaultShutdownTimeout),
		LogReports:      envBoolDefault("PINGUARD_LOG_REPORTS", true),
	}
}

func envDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envIntDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return def
	}
}

func envDurationDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return parsed
}
