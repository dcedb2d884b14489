// Package registry implements the Capability Registry: it merges every
// backend's catalog snapshot into one unified, namespaced view and
// publishes it atomically, per SPEC_FULL.md §4.3.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/billyjbryant/mcp-foxxy-bridge/internal/bridgeerr"
	"github.com/billyjbryant/mcp-foxxy-bridge/internal/bridgelog"
	"github.com/billyjbryant/mcp-foxxy-bridge/internal/bridgemetrics"
	"github.com/billyjbryant/mcp-foxxy-bridge/pkg/bridge"
)

// Registry owns the rebuild pipeline and the published UnifiedCatalog
// snapshot, per spec §4.3/§9. Rebuilds run synchronously and are
// serialized by mu, so they never race; every trigger performs its own
// rebuild, so a burst of backend-ready events is not coalesced into one.
type Registry struct {
	cfg bridge.BridgeConfig

	mu        sync.Mutex
	configs   map[string]bridge.BackendConfig
	snapshots map[string]*bridge.BackendSnapshot

	published atomic.Pointer[bridge.UnifiedCatalog]

	rebuildCh  chan struct{}
	generation uint64
}

// New constructs a Registry over the given per-backend configuration
// (used for namespace/priority policy lookups during merge).
func New(cfg bridge.BridgeConfig, backends []bridge.BackendConfig) *Registry {
	configs := make(map[string]bridge.BackendConfig, len(backends))
	for _, b := range backends {
		configs[b.Name] = b
	}
	r := &Registry{
		cfg:       cfg,
		configs:   configs,
		snapshots: make(map[string]*bridge.BackendSnapshot),
		rebuildCh: make(chan struct{}, 1),
	}
	r.published.Store(bridge.EmptyUnifiedCatalog())
	return r
}

// Catalog returns the current published view. Safe for concurrent use
// without locking, per spec §4.3/§8 property 1: readers never observe a
// partially rebuilt catalog.
func (r *Registry) Catalog() *bridge.UnifiedCatalog {
	return r.published.Load()
}

// UpdateSnapshot records (or clears, if snap is nil) a backend's catalog
// and triggers a rebuild. Call with snap == nil when a backend goes
// non-Ready, so its capabilities drop out of the unified view.
func (r *Registry) UpdateSnapshot(backend string, snap *bridge.BackendSnapshot) error {
	r.mu.Lock()
	if snap == nil {
		delete(r.snapshots, backend)
	} else {
		r.snapshots[backend] = snap
	}
	r.mu.Unlock()
	return r.Rebuild()
}

// Rebuild recomputes the unified catalog synchronously from the current
// set of backend snapshots and swaps the published pointer atomically,
// per spec §4.3/§8 property 1. Concurrent calls are serialized (mu is
// held for the whole rebuild), so an older rebuild never overwrites a
// newer one; they are not coalesced, each call rebuilds in full.
func (r *Registry) Rebuild() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshots := make([]*bridge.BackendSnapshot, 0, len(r.snapshots))
	for _, s := range r.snapshots {
		snapshots = append(snapshots, s)
	}

	// Deterministic merge order: descending Priority value, then
	// descending backend name. Under "first" the entry merged earliest is
	// kept, so the backend with the highest Priority value (then the
	// greatest name) wins those conflicts.
	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].Priority != snapshots[j].Priority {
			return snapshots[i].Priority > snapshots[j].Priority
		}
		return snapshots[i].Backend > snapshots[j].Backend
	})

	// Native-id -> candidate backends, independent of the conflict policy
	// and of whichever publicID eventually wins: the Router consults this
	// (via UnifiedEntry.Alternates) to fail over to another Ready backend
	// offering the same capability, per spec §4.4.
	toolIndex := nativeIDIndex(snapshots, func(s *bridge.BackendSnapshot) []bridge.CatalogEntry { return s.Tools })
	resourceIndex := nativeIDIndex(snapshots, func(s *bridge.BackendSnapshot) []bridge.CatalogEntry { return s.Resources })
	promptIndex := nativeIDIndex(snapshots, func(s *bridge.BackendSnapshot) []bridge.CatalogEntry { return s.Prompts })

	catalog := bridge.EmptyUnifiedCatalog()
	for _, snap := range snapshots {
		if r.cfg.Aggregation.Tools {
			if err := r.mergeKind(catalog, bridge.KindTool, snap.Tools, toolIndex); err != nil {
				return err
			}
		}
		if r.cfg.Aggregation.Resources {
			if err := r.mergeKind(catalog, bridge.KindResource, snap.Resources, resourceIndex); err != nil {
				return err
			}
		}
		if r.cfg.Aggregation.Prompts {
			if err := r.mergeKind(catalog, bridge.KindPrompt, snap.Prompts, promptIndex); err != nil {
				return err
			}
		}
	}

	catalog.Generation = atomic.AddUint64(&r.generation, 1)
	r.published.Store(catalog)
	bridgemetrics.CatalogRebuildsTotal.Inc()
	bridgelog.Infow("capability catalog rebuilt", "tools", len(catalog.Tools),
		"resources", len(catalog.Resources), "prompts", len(catalog.Prompts), "generation", catalog.Generation)
	return nil
}

// nativeIDIndex records, for one capability kind, every backend that
// advertises a given native id, in the same deterministic order the
// snapshots were merged in.
func nativeIDIndex(snapshots []*bridge.BackendSnapshot, entriesOf func(*bridge.BackendSnapshot) []bridge.CatalogEntry) map[string][]string {
	idx := make(map[string][]string)
	for _, snap := range snapshots {
		for _, e := range entriesOf(snap) {
			idx[e.NativeID] = append(idx[e.NativeID], snap.Backend)
		}
	}
	return idx
}

// otherBackends returns backends, minus self, in order.
func otherBackends(backends []string, self string) []string {
	out := make([]string, 0, len(backends))
	for _, b := range backends {
		if b != self {
			out = append(out, b)
		}
	}
	return out
}

func (r *Registry) mergeKind(catalog *bridge.UnifiedCatalog, kind bridge.CapabilityKind, entries []bridge.CatalogEntry, nativeIndex map[string][]string) error {
	m := catalog.MapFor(kind)
	for _, entry := range entries {
		publicID := r.publicID(kind, entry)
		alternates := otherBackends(nativeIndex[entry.NativeID], entry.Backend)
		existing, collides := m[publicID]
		if !collides {
			m[publicID] = bridge.UnifiedEntry{PublicID: publicID, Alternates: alternates, CatalogEntry: entry}
			continue
		}
		resolved, err := r.resolveConflict(kind, publicID, existing, entry)
		if err != nil {
			return err
		}
		if resolved != nil {
			resolved.Alternates = alternates
			m[publicID] = *resolved
		}
	}
	return nil
}

// publicID computes a capability's externally visible identifier, per
// spec §4.3/§6: an explicit per-kind namespace always applies; absent
// one, the process-wide default-namespace toggle only namespaces under
// the "namespace" conflict resolution policy. Under "priority", "first",
// and "error", collisions must be detectable at the bare native id
// (spec §8 scenarios 2-3), so those policies never fall back to
// backend-name namespacing.
func (r *Registry) publicID(kind bridge.CapabilityKind, entry bridge.CatalogEntry) string {
	cfg := r.configs[entry.Backend]
	ns := r.namespaceFor(kind, cfg)
	if ns != "" {
		return joinNamespace(kind, ns, entry.NativeID)
	}
	if r.cfg.ConflictResolution == bridge.ConflictNamespace && r.cfg.DefaultNamespace {
		return joinNamespace(kind, entry.Backend, entry.NativeID)
	}
	return entry.NativeID
}

// joinNamespace prefixes a native id with its namespace, per spec §6.
// Resources use "+" rather than "." because native resource URIs
// already contain "://" and often ".", e.g. file:///a/b.txt.
func joinNamespace(kind bridge.CapabilityKind, ns, nativeID string) string {
	if kind == bridge.KindResource {
		return ns + "+" + nativeID
	}
	return ns + "." + nativeID
}

func (r *Registry) namespaceFor(kind bridge.CapabilityKind, cfg bridge.BackendConfig) string {
	switch kind {
	case bridge.KindTool:
		return cfg.ToolNamespace
	case bridge.KindResource:
		return cfg.ResourceNamespace
	case bridge.KindPrompt:
		return cfg.PromptNamespace
	default:
		return ""
	}
}

// resolveConflict applies the configured conflict resolution policy to a
// publicID collision, per spec §4.3. It returns the entry that should be
// published, or nil to leave the existing one in place.
func (r *Registry) resolveConflict(kind bridge.CapabilityKind, publicID string, existing bridge.UnifiedEntry, incoming bridge.CatalogEntry) (*bridge.UnifiedEntry, error) {
	switch r.cfg.ConflictResolution {
	case bridge.ConflictPriority:
		bridgemetrics.CatalogConflictsTotal.WithLabelValues(string(kind), string(bridge.ConflictPriority)).Inc()
		incomingPriority := r.configs[incoming.Backend].Priority
		existingPriority := r.configs[existing.Backend].Priority
		if incomingPriority < existingPriority ||
			(incomingPriority == existingPriority && incoming.Backend < existing.Backend) {
			return &bridge.UnifiedEntry{PublicID: publicID, CatalogEntry: incoming}, nil
		}
		return nil, nil
	case bridge.ConflictFirst:
		// The merge already iterates backends in a stable, deterministic
		// order (by priority then name), so "first" means "first in that
		// order wins" -- the existing entry is always kept.
		bridgemetrics.CatalogConflictsTotal.WithLabelValues(string(kind), string(bridge.ConflictFirst)).Inc()
		return nil, nil
	case bridge.ConflictError:
		bridgemetrics.CatalogConflictsTotal.WithLabelValues(string(kind), string(bridge.ConflictError)).Inc()
		return nil, bridgeerr.NewCatalogConflictError(
			fmt.Sprintf("capability %q of kind %s is published by both %q and %q", publicID, kind, existing.Backend, incoming.Backend), nil)
	case bridge.ConflictNamespace:
		fallthrough
	default:
		// Namespacing should make publicID collisions impossible when every
		// backend has a distinct name; if one still occurs (e.g. two
		// backends sharing an explicit namespace), fall back to the same
		// rule as the "priority" policy: lower Priority wins, ties go to
		// the lexicographically smaller backend name.
		bridgemetrics.CatalogConflictsTotal.WithLabelValues(string(kind), string(bridge.ConflictNamespace)).Inc()
		incomingPriority := r.configs[incoming.Backend].Priority
		existingPriority := r.configs[existing.Backend].Priority
		if incomingPriority < existingPriority ||
			(incomingPriority == existingPriority && incoming.Backend < existing.Backend) {
			return &bridge.UnifiedEntry{PublicID: publicID, CatalogEntry: incoming}, nil
		}
		return nil, nil
	}
}

// Lookup resolves a public identifier back to its owning backend, per
// spec §4.3/§8 property 3.
func (r *Registry) Lookup(kind bridge.CapabilityKind, publicID string) (bridge.UnifiedEntry, bool) {
	return r.Catalog().Lookup(kind, publicID)
}
