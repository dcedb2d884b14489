// Package config loads and validates the mcpbridge configuration file,
// per SPEC_FULL.md §3/§6. Configuration is JSON, matching the wire format
// mandated for the rest of the system, with ${VAR}/${VAR:default}
// environment expansion applied to the whole raw document before it is
// parsed and validated.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/billyjbryant/mcp-foxxy-bridge/internal/bridgeerr"
	"github.com/billyjbryant/mcp-foxxy-bridge/pkg/bridge"
)

// rawBackend mirrors BackendConfig's on-disk JSON shape; duration fields
// are decoded from their string form (e.g. "30s") via time.ParseDuration.
// Its name comes from the key it is stored under in rawConfig.MCPServers,
// per spec §6.
type rawBackend struct {
	Enabled *bool             `json:"enabled,omitempty"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	Timeout       string `json:"timeout,omitempty"`
	RetryAttempts int    `json:"retryAttempts,omitempty"`
	RetryDelay    string `json:"retryDelay,omitempty"`

	HealthCheck *rawHealthCheck `json:"healthCheck,omitempty"`

	ToolNamespace     string `json:"toolNamespace,omitempty"`
	ResourceNamespace string `json:"resourceNamespace,omitempty"`
	PromptNamespace   string `json:"promptNamespace,omitempty"`

	Priority int      `json:"priority,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

type rawHealthCheck struct {
	Enabled                *bool          `json:"enabled,omitempty"`
	Interval               string         `json:"interval,omitempty"`
	Timeout                string         `json:"timeout,omitempty"`
	Probe                  string         `json:"probe,omitempty"`
	ProbeParams            map[string]any `json:"probeParams,omitempty"`
	AutoRestart            *bool          `json:"autoRestart,omitempty"`
	RestartDelay           string         `json:"restartDelay,omitempty"`
	MaxRestartAttempts     int            `json:"maxRestartAttempts,omitempty"`
	MaxConsecutiveFailures int            `json:"maxConsecutiveFailures,omitempty"`
}

type rawFailover struct {
	Enabled          bool   `json:"enabled,omitempty"`
	MaxFailures      int    `json:"maxFailures,omitempty"`
	RecoveryInterval string `json:"recoveryInterval,omitempty"`
}

type rawAggregation struct {
	Tools     *bool `json:"tools,omitempty"`
	Resources *bool `json:"resources,omitempty"`
	Prompts   *bool `json:"prompts,omitempty"`
}

// rawBridge mirrors BridgeConfig's on-disk JSON shape, nested under the
// top-level "bridge" key per spec §6.
type rawBridge struct {
	ConflictResolution string          `json:"conflictResolution,omitempty"`
	DefaultNamespace   *bool           `json:"defaultNamespace,omitempty"`
	Aggregation        *rawAggregation `json:"aggregation,omitempty"`
	Failover           *rawFailover    `json:"failover,omitempty"`
}

// rawConfig is the top-level on-disk JSON document, per spec §3/§6:
// backends are keyed by name under "mcpServers", and the process-wide
// policy lives under "bridge".
type rawConfig struct {
	MCPServers map[string]rawBackend `json:"mcpServers"`
	Bridge     *rawBridge            `json:"bridge,omitempty"`
}

// Config is the fully parsed, validated, immutable configuration for one
// bridge process, per spec §3.
type Config struct {
	Bridge   bridge.BridgeConfig
	Backends []bridge.BackendConfig
}

// Load reads, expands, parses, and validates the configuration file at
// path, per spec §3/§6. Environment expansion is applied to the whole raw
// document before JSON parsing. A missing variable with no default
// expands to the empty string; it surfaces as a validation error only
// where an empty value is itself invalid (e.g. an enabled backend's
// command).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, bridgeerr.NewConfigError(fmt.Sprintf("read configuration file %q", path), err)
	}

	var raw rawConfig
	if err := json.Unmarshal(ExpandBytes(data), &raw); err != nil {
		return nil, bridgeerr.NewConfigError(fmt.Sprintf("parse configuration file %q", path), err)
	}

	cfg, err := raw.toConfig()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (r rawConfig) toConfig() (*Config, error) {
	cfg := &Config{Bridge: bridge.DefaultBridgeConfig()}

	if r.Bridge != nil {
		if r.Bridge.ConflictResolution != "" {
			cfg.Bridge.ConflictResolution = bridge.ConflictResolution(r.Bridge.ConflictResolution)
		}
		if r.Bridge.DefaultNamespace != nil {
			cfg.Bridge.DefaultNamespace = *r.Bridge.DefaultNamespace
		}
		if r.Bridge.Aggregation != nil {
			if r.Bridge.Aggregation.Tools != nil {
				cfg.Bridge.Aggregation.Tools = *r.Bridge.Aggregation.Tools
			}
			if r.Bridge.Aggregation.Resources != nil {
				cfg.Bridge.Aggregation.Resources = *r.Bridge.Aggregation.Resources
			}
			if r.Bridge.Aggregation.Prompts != nil {
				cfg.Bridge.Aggregation.Prompts = *r.Bridge.Aggregation.Prompts
			}
		}
		if r.Bridge.Failover != nil {
			cfg.Bridge.Failover.Enabled = r.Bridge.Failover.Enabled
			cfg.Bridge.Failover.MaxFailures = r.Bridge.Failover.MaxFailures
			d, err := parseDuration("bridge.failover.recoveryInterval", r.Bridge.Failover.RecoveryInterval, 0)
			if err != nil {
				return nil, err
			}
			cfg.Bridge.Failover.RecoveryInterval = d
		}
	}

	// Sorted for deterministic output; the map itself carries no order.
	names := make([]string, 0, len(r.MCPServers))
	for name := range r.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		bc, err := r.MCPServers[name].toBackendConfig(name)
		if err != nil {
			return nil, err
		}
		cfg.Backends = append(cfg.Backends, bc)
	}
	return cfg, nil
}

func (rb rawBackend) toBackendConfig(name string) (bridge.BackendConfig, error) {
	bc := bridge.BackendConfig{
		Name:              name,
		Enabled:           true,
		Command:           rb.Command,
		Args:              rb.Args,
		Env:               rb.Env,
		RetryAttempts:     rb.RetryAttempts,
		ToolNamespace:     rb.ToolNamespace,
		ResourceNamespace: rb.ResourceNamespace,
		PromptNamespace:   rb.PromptNamespace,
		Priority:          rb.Priority,
		Tags:              rb.Tags,
		HealthCheck:       bridge.DefaultHealthCheckConfig(),
	}
	if rb.Enabled != nil {
		bc.Enabled = *rb.Enabled
	}

	var err error
	if bc.Timeout, err = parseDuration(name+".timeout", rb.Timeout, 30*time.Second); err != nil {
		return bc, err
	}
	if bc.RetryDelay, err = parseDuration(name+".retryDelay", rb.RetryDelay, time.Second); err != nil {
		return bc, err
	}

	if rb.HealthCheck != nil {
		hc := bc.HealthCheck
		if rb.HealthCheck.Enabled != nil {
			hc.Enabled = *rb.HealthCheck.Enabled
		}
		if rb.HealthCheck.Interval != "" {
			if hc.Interval, err = parseDuration(name+".healthCheck.interval", rb.HealthCheck.Interval, hc.Interval); err != nil {
				return bc, err
			}
		}
		if rb.HealthCheck.Timeout != "" {
			if hc.Timeout, err = parseDuration(name+".healthCheck.timeout", rb.HealthCheck.Timeout, hc.Timeout); err != nil {
				return bc, err
			}
		}
		if rb.HealthCheck.Probe != "" {
			hc.Probe = bridge.ProbeOperation(rb.HealthCheck.Probe)
		}
		if rb.HealthCheck.ProbeParams != nil {
			hc.ProbeParams = rb.HealthCheck.ProbeParams
		}
		if rb.HealthCheck.AutoRestart != nil {
			hc.AutoRestart = *rb.HealthCheck.AutoRestart
		}
		if rb.HealthCheck.RestartDelay != "" {
			if hc.RestartDelay, err = parseDuration(name+".healthCheck.restartDelay", rb.HealthCheck.RestartDelay, hc.RestartDelay); err != nil {
				return bc, err
			}
		}
		if rb.HealthCheck.MaxRestartAttempts != 0 {
			hc.MaxRestartAttempts = rb.HealthCheck.MaxRestartAttempts
		}
		if rb.HealthCheck.MaxConsecutiveFailures != 0 {
			hc.MaxConsecutiveFailures = rb.HealthCheck.MaxConsecutiveFailures
		}
		bc.HealthCheck = hc
	}

	return bc, nil
}

func parseDuration(field, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, bridgeerr.NewConfigError(fmt.Sprintf("field %q: invalid duration %q", field, value), err)
	}
	return d, nil
}
