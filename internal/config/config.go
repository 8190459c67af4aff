// Package config provides configuration for the autopilot service.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/deviation"
)

// Config holds the service configuration.
type Config struct {
	// Server settings
	HTTPPort int
	RPCPort  int

	// Database
	DatabaseURL string

	// Policy
	PolicyFile       string
	AutopilotEnabled bool

	// Notification relay (JSON-RPC address); empty disables notifications.
	NotifyURL string

	// Timeouts
	ApprovalTimeout time.Duration

	// Deviation thresholds
	MaxDeviations         int
	StepTimeout           time.Duration
	UnexpectedStepPenalty int
	FailedStepPenalty     int
	RiskEscalationPenalty int

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	defaults := deviation.DefaultConfig()
	cfg := &Config{
		HTTPPort:              getEnvInt("HTTP_PORT", 8080),
		RPCPort:               getEnvInt("RPC_PORT", 8091),
		DatabaseURL:           getEnv("DATABASE_URL", "file:autopilot.db?cache=shared&mode=rwc"),
		PolicyFile:            getEnv("POLICY_FILE", "policy.yaml"),
		AutopilotEnabled:      getEnvBool("AUTOPILOT_ENABLED", false),
		NotifyURL:             getEnv("NOTIFY_URL", ""),
		ApprovalTimeout:       time.Duration(getEnvInt("APPROVAL_TIMEOUT_MS", 3600000)) * time.Millisecond,
		MaxDeviations:         getEnvInt("MAX_DEVIATIONS", defaults.MaxDeviations),
		StepTimeout:           time.Duration(getEnvInt("STEP_TIMEOUT_MS", int(defaults.StepTimeout/time.Millisecond))) * time.Millisecond,
		UnexpectedStepPenalty: getEnvInt("UNEXPECTED_STEP_PENALTY", defaults.UnexpectedStepPenalty),
		FailedStepPenalty:     getEnvInt("FAILED_STEP_PENALTY", defaults.FailedStepPenalty),
		RiskEscalationPenalty: getEnvInt("RISK_ESCALATION_PENALTY", defaults.RiskEscalationPenalty),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

// Deviation returns the detector configuration.
func (c *Config) Deviation() deviation.Config {
	return deviation.Config{
		MaxDeviations:         c.MaxDeviations,
		StepTimeout:           c.StepTimeout,
		UnexpectedStepPenalty: c.UnexpectedStepPenalty,
		FailedStepPenalty:     c.FailedStepPenalty,
		RiskEscalationPenalty: c.RiskEscalationPenalty,
	}
}

// SlogLevel maps LogLevel to a slog level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
