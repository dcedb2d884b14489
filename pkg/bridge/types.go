// Package bridge holds the data model shared by every component of the
// mcpbridge multiplexing engine: backend configuration, runtime state, and
// the unified capability catalog. See SPEC_FULL.md §3 for the invariants
// these types must uphold.
package bridge

import (
	"regexp"
	"time"
)

// backendNamePattern is the validation pattern for a BackendConfig.Name,
// per spec §3/§6.
var backendNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidBackendName reports whether name matches the required pattern.
func ValidBackendName(name string) bool {
	return name != "" && backendNamePattern.MatchString(name)
}

// ProbeOperation names the MCP operation a health check issues.
type ProbeOperation string

// Supported probe operations, per spec §3.
const (
	ProbeListTools     ProbeOperation = "list_tools"
	ProbeListResources ProbeOperation = "list_resources"
	ProbeReadResource  ProbeOperation = "read_resource"
	ProbeCallTool      ProbeOperation = "call_tool"
	ProbePing          ProbeOperation = "ping"
)

// HealthCheckConfig configures a backend's liveness probing and restart
// policy, per spec §3/§4.2.
type HealthCheckConfig struct {
	Enabled bool
	// Interval between probes.
	Interval time.Duration
	// Timeout for a single probe call.
	Timeout time.Duration
	// Probe is the operation issued; defaults to ProbeListTools.
	Probe ProbeOperation
	// ProbeParams carries operation-specific parameters from the
	// configuration (e.g. a resource URI, a tool name/args, or an
	// expected HTTP status/content). No probe reads it: the Health
	// Supervisor's read_resource and call_tool probes refresh the
	// catalog, and its ping probe sends an MCP ping, not an HTTP request.
	ProbeParams map[string]any

	AutoRestart            bool
	RestartDelay           time.Duration
	MaxRestartAttempts     int
	MaxConsecutiveFailures int
}

// DefaultHealthCheckConfig returns the spec's defaults: list_tools every
// 30s with a 5s per-probe timeout, auto-restart after 3 consecutive
// failures, uncapped restart attempts.
func DefaultHealthCheckConfig() HealthCheckConfig {
	return HealthCheckConfig{
		Enabled:                true,
		Interval:               30 * time.Second,
		Timeout:                5 * time.Second,
		Probe:                  ProbeListTools,
		AutoRestart:            true,
		RestartDelay:           time.Second,
		MaxRestartAttempts:     0, // 0 = unbounded
		MaxConsecutiveFailures: 3,
	}
}

// BackendConfig is the immutable configuration of one backend MCP server,
// per spec §3.
type BackendConfig struct {
	Name    string
	Enabled bool

	Command string
	Args    []string
	Env     map[string]string

	// Timeout bounds a single request/response round trip.
	Timeout time.Duration

	RetryAttempts int
	RetryDelay    time.Duration

	HealthCheck HealthCheckConfig

	ToolNamespace     string
	ResourceNamespace string
	PromptNamespace   string

	// Priority: lower wins under the "priority" conflict resolution
	// policy. Ties are broken by lexicographic backend name.
	Priority int

	Tags []string
}

// ConflictResolution selects how the Capability Registry resolves public
// identifier collisions across backends, per spec §4.3.
type ConflictResolution string

// Supported conflict resolution policies.
const (
	ConflictNamespace ConflictResolution = "namespace"
	ConflictPriority  ConflictResolution = "priority"
	ConflictFirst     ConflictResolution = "first"
	ConflictError     ConflictResolution = "error"
)

// AggregationConfig toggles which capability kinds are aggregated at all.
type AggregationConfig struct {
	Tools     bool
	Resources bool
	Prompts   bool
}

// DefaultAggregationConfig aggregates all three kinds.
func DefaultAggregationConfig() AggregationConfig {
	return AggregationConfig{Tools: true, Resources: true, Prompts: true}
}

// FailoverConfig governs Router retry behavior when a target backend is
// not Ready, per spec §4.4.
type FailoverConfig struct {
	Enabled          bool
	MaxFailures      int
	RecoveryInterval time.Duration
}

// BridgeConfig is the process-wide policy shared by the Registry and
// Router, per spec §3.
type BridgeConfig struct {
	ConflictResolution ConflictResolution
	DefaultNamespace   bool
	Aggregation        AggregationConfig
	Failover           FailoverConfig
}

// DefaultBridgeConfig returns the spec's default policy: namespace
// conflict resolution, default namespacing on, all kinds aggregated,
// failover disabled.
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		ConflictResolution: ConflictNamespace,
		DefaultNamespace:   true,
		Aggregation:        DefaultAggregationConfig(),
	}
}

// BackendStatus is a node in the Health Supervisor's state machine, per
// spec §4.2.
type BackendStatus string

// States, per spec §4.2.
const (
	StatusDisabled BackendStatus = "disabled"
	StatusStarting BackendStatus = "starting"
	StatusReady    BackendStatus = "ready"
	StatusDegraded BackendStatus = "degraded"
	StatusFailed   BackendStatus = "failed"
	StatusStopping BackendStatus = "stopping"
	StatusStopped  BackendStatus = "stopped"
)

// CapabilityKind distinguishes the three catalog kinds a backend can
// advertise.
type CapabilityKind string

// Capability kinds, per spec §3.
const (
	KindTool     CapabilityKind = "tool"
	KindResource CapabilityKind = "resource"
	KindPrompt   CapabilityKind = "prompt"
)

// CatalogEntry is one backend-native capability plus its owning backend,
// per spec §3. Descriptor is forwarded to clients verbatim except for the
// renamed identifier (spec §4.3).
type CatalogEntry struct {
	Kind       CapabilityKind
	NativeID   string
	Descriptor any
	Backend    string
}

// BackendSnapshot is one backend's catalog as of its last successful
// discovery fetch, per spec §3.
type BackendSnapshot struct {
	Backend   string
	Priority  int
	ReadyAt   time.Time
	Tools     []CatalogEntry
	Resources []CatalogEntry
	Prompts   []CatalogEntry
}

// UnifiedEntry is a published catalog entry together with the public
// identifier it is reachable under. Alternates lists other backends
// (in merge-priority order) that independently advertise the same
// native id, for the Router to retry against under failover, per spec
// §4.4.
type UnifiedEntry struct {
	PublicID   string
	Alternates []string
	CatalogEntry
}

// UnifiedCatalog is the Capability Registry's published, read-only view,
// per spec §3/§4.3. Each kind is namespaced independently, so identical
// native ids in different kinds never collide (spec §8 boundary case).
type UnifiedCatalog struct {
	Tools     map[string]UnifiedEntry
	Resources map[string]UnifiedEntry
	Prompts   map[string]UnifiedEntry
	// Generation increments on every successful rebuild; tests use it to
	// observe that a rebuild was published.
	Generation uint64
}

// EmptyUnifiedCatalog returns a zero-value, non-nil catalog — the
// published state before the first successful rebuild. A rebuild
// rejected under the "error" policy leaves whatever catalog was
// published before it in place.
func EmptyUnifiedCatalog() *UnifiedCatalog {
	return &UnifiedCatalog{
		Tools:     map[string]UnifiedEntry{},
		Resources: map[string]UnifiedEntry{},
		Prompts:   map[string]UnifiedEntry{},
	}
}

// mapFor returns the catalog's map for the given kind.
func (c *UnifiedCatalog) mapFor(kind CapabilityKind) map[string]UnifiedEntry {
	switch kind {
	case KindTool:
		return c.Tools
	case KindResource:
		return c.Resources
	case KindPrompt:
		return c.Prompts
	default:
		return nil
	}
}

// Lookup resolves a public identifier of the given kind back to its
// owning backend and native id, per spec §4.3/§8 property 3.
func (c *UnifiedCatalog) Lookup(kind CapabilityKind, publicID string) (UnifiedEntry, bool) {
	m := c.mapFor(kind)
	if m == nil {
		return UnifiedEntry{}, false
	}
	e, ok := m[publicID]
	return e, ok
}

// MapFor exposes the catalog's map for the given kind so other packages
// (the Capability Registry's merge logic) can populate it directly.
func (c *UnifiedCatalog) MapFor(kind CapabilityKind) map[string]UnifiedEntry {
	return c.mapFor(kind)
}
