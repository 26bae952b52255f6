// Package config loads the trigger configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/EthDevOps/k8s-service-trigger/internal/trigger"
)

const (
	defaultRef          = "main"
	defaultCooldown     = 180 * time.Second
	defaultRestartDelay = 5 * time.Second
	defaultMetricsAddr  = ":8080"
)

// Config holds all configuration for the service trigger. Values are loaded
// from environment variables; only GITHUB_TOKEN is mandatory at startup.
// The dispatch target values (GITHUB_REPO, WORKFLOW_FILE, TENANT, PROJECT)
// may be absent — their absence surfaces per dispatch attempt, not at boot.
type Config struct {
	GitHubToken  string
	GitHubRepo   string
	WorkflowFile string
	WorkflowRef  string
	Tenant       string
	Project      string

	// CooldownWindow is the minimum time between two successful dispatches.
	CooldownWindow time.Duration
	// CooldownScope is "global" (one window shared by all services) or
	// "per-service" (one window per namespace/name).
	CooldownScope trigger.Scope

	// RestartDelay is how long the supervisor waits before re-establishing
	// a failed watch.
	RestartDelay time.Duration

	MetricsAddr string
}

// Load reads configuration from environment variables with defaults.
// Invalid optional values fall back to their defaults; Validate reports the
// hard startup errors.
func Load() Config {
	cfg := Config{
		GitHubToken:    os.Getenv("GITHUB_TOKEN"),
		GitHubRepo:     os.Getenv("GITHUB_REPO"),
		WorkflowFile:   os.Getenv("WORKFLOW_FILE"),
		WorkflowRef:    os.Getenv("WORKFLOW_REF"),
		Tenant:         os.Getenv("TENANT"),
		Project:        os.Getenv("PROJECT"),
		CooldownWindow: parseDuration(os.Getenv("COOLDOWN_WINDOW"), defaultCooldown),
		RestartDelay:   parseDuration(os.Getenv("RESTART_DELAY"), defaultRestartDelay),
		MetricsAddr:    os.Getenv("METRICS_ADDR"),
	}

	if cfg.WorkflowRef == "" {
		cfg.WorkflowRef = defaultRef
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = defaultMetricsAddr
	}

	switch scope := os.Getenv("COOLDOWN_SCOPE"); scope {
	case "", string(trigger.ScopeGlobal):
		cfg.CooldownScope = trigger.ScopeGlobal
	case string(trigger.ScopePerService):
		cfg.CooldownScope = trigger.ScopePerService
	default:
		cfg.CooldownScope = trigger.ScopeGlobal
	}

	return cfg
}

// Validate reports configuration problems that must stop the process before
// the watch loop starts.
func (c Config) Validate() error {
	if c.GitHubToken == "" {
		return fmt.Errorf("GITHUB_TOKEN environment variable must be set")
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
