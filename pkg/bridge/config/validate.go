package config

import (
	"fmt"

	"github.com/billyjbryant/mcp-foxxy-bridge/internal/bridgeerr"
	"github.com/billyjbryant/mcp-foxxy-bridge/pkg/bridge"
)

var validConflictResolutions = map[bridge.ConflictResolution]bool{
	bridge.ConflictNamespace: true,
	bridge.ConflictPriority:  true,
	bridge.ConflictFirst:     true,
	bridge.ConflictError:     true,
}

var validProbeOperations = map[bridge.ProbeOperation]bool{
	bridge.ProbeListTools:     true,
	bridge.ProbeListResources: true,
	bridge.ProbeReadResource:  true,
	bridge.ProbeCallTool:      true,
	bridge.ProbePing:          true,
}

// Validate checks a parsed Config against the structural invariants of
// spec §3/§6: unique, well-formed backend names, a non-empty command per
// enabled backend, and a recognized conflict resolution policy.
func Validate(cfg *Config) error {
	if !validConflictResolutions[cfg.Bridge.ConflictResolution] {
		return bridgeerr.NewConfigError(fmt.Sprintf("unknown conflictResolution %q", cfg.Bridge.ConflictResolution), nil)
	}

	if len(cfg.Backends) == 0 {
		return bridgeerr.NewConfigError("configuration must declare at least one backend", nil)
	}

	seen := make(map[string]bool, len(cfg.Backends))
	for _, b := range cfg.Backends {
		if !bridge.ValidBackendName(b.Name) {
			return bridgeerr.NewConfigError(fmt.Sprintf("backend name %q is invalid: must match ^[A-Za-z0-9_-]+$", b.Name), nil)
		}
		if seen[b.Name] {
			return bridgeerr.NewConfigError(fmt.Sprintf("duplicate backend name %q", b.Name), nil)
		}
		seen[b.Name] = true

		if b.Enabled && b.Command == "" {
			return bridgeerr.NewConfigError(fmt.Sprintf("backend %q: command must not be empty", b.Name), nil)
		}
		if b.HealthCheck.Enabled && !validProbeOperations[b.HealthCheck.Probe] {
			return bridgeerr.NewConfigError(fmt.Sprintf("backend %q: unknown health check probe %q", b.Name, b.HealthCheck.Probe), nil)
		}
		if b.HealthCheck.Enabled && b.HealthCheck.MaxConsecutiveFailures < 1 {
			return bridgeerr.NewConfigError(fmt.Sprintf("backend %q: healthCheck.maxConsecutiveFailures must be >= 1", b.Name), nil)
		}
	}

	return nil
}
