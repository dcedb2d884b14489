package registry

import (
	"testing"

	"github.com/billyjbryant/mcp-foxxy-bridge/internal/bridgeerr"
	"github.com/billyjbryant/mcp-foxxy-bridge/pkg/bridge"
)

func backendSnapshot(name string, priority int, toolNames ...string) *bridge.BackendSnapshot {
	snap := &bridge.BackendSnapshot{Backend: name, Priority: priority}
	for _, n := range toolNames {
		snap.Tools = append(snap.Tools, bridge.CatalogEntry{Kind: bridge.KindTool, NativeID: n, Backend: name})
	}
	return snap
}

func TestRegistry_NamespacesByDefault(t *testing.T) {
	cfg := bridge.DefaultBridgeConfig()
	backends := []bridge.BackendConfig{{Name: "github"}, {Name: "jira"}}
	r := New(cfg, backends)

	if err := r.UpdateSnapshot("github", backendSnapshot("github", 0, "search")); err != nil {
		t.Fatalf("UpdateSnapshot error = %v", err)
	}
	if err := r.UpdateSnapshot("jira", backendSnapshot("jira", 0, "search")); err != nil {
		t.Fatalf("UpdateSnapshot error = %v", err)
	}

	catalog := r.Catalog()
	if _, ok := catalog.Lookup(bridge.KindTool, "github.search"); !ok {
		t.Error("expected github.search in catalog")
	}
	if _, ok := catalog.Lookup(bridge.KindTool, "jira.search"); !ok {
		t.Error("expected jira.search in catalog")
	}
}

func TestRegistry_ExplicitNamespaceOverridesDefault(t *testing.T) {
	cfg := bridge.DefaultBridgeConfig()
	backends := []bridge.BackendConfig{{Name: "github", ToolNamespace: "gh"}}
	r := New(cfg, backends)

	if err := r.UpdateSnapshot("github", backendSnapshot("github", 0, "search")); err != nil {
		t.Fatalf("UpdateSnapshot error = %v", err)
	}

	if _, ok := r.Catalog().Lookup(bridge.KindTool, "gh.search"); !ok {
		t.Error("expected gh.search under explicit namespace override")
	}
}

func TestRegistry_NoNamespaceWhenDisabled(t *testing.T) {
	cfg := bridge.DefaultBridgeConfig()
	cfg.DefaultNamespace = false
	backends := []bridge.BackendConfig{{Name: "github"}}
	r := New(cfg, backends)

	if err := r.UpdateSnapshot("github", backendSnapshot("github", 0, "search")); err != nil {
		t.Fatalf("UpdateSnapshot error = %v", err)
	}
	if _, ok := r.Catalog().Lookup(bridge.KindTool, "search"); !ok {
		t.Error("expected bare native id when namespacing is disabled")
	}
}

func TestRegistry_PriorityConflictResolution(t *testing.T) {
	cfg := bridge.DefaultBridgeConfig()
	cfg.ConflictResolution = bridge.ConflictPriority
	// DefaultNamespace stays at its default (true): the "priority" policy
	// must still resolve collisions at the bare native id, not fall back
	// to backend-name namespacing.
	backends := []bridge.BackendConfig{
		{Name: "low-priority", Priority: 10},
		{Name: "high-priority", Priority: 1},
	}
	r := New(cfg, backends)

	if err := r.UpdateSnapshot("low-priority", backendSnapshot("low-priority", 10, "search")); err != nil {
		t.Fatalf("UpdateSnapshot error = %v", err)
	}
	if err := r.UpdateSnapshot("high-priority", backendSnapshot("high-priority", 1, "search")); err != nil {
		t.Fatalf("UpdateSnapshot error = %v", err)
	}

	entry, ok := r.Catalog().Lookup(bridge.KindTool, "search")
	if !ok {
		t.Fatal("expected search to be published")
	}
	if entry.Backend != "high-priority" {
		t.Errorf("Backend = %q, want high-priority (lower Priority value wins)", entry.Backend)
	}
}

func TestRegistry_ErrorConflictResolution(t *testing.T) {
	cfg := bridge.DefaultBridgeConfig()
	cfg.ConflictResolution = bridge.ConflictError
	// DefaultNamespace stays at its default (true): the "error" policy
	// must still detect the collision at the bare native id.
	backends := []bridge.BackendConfig{{Name: "a"}, {Name: "b"}}
	r := New(cfg, backends)

	if err := r.UpdateSnapshot("a", backendSnapshot("a", 0, "search")); err != nil {
		t.Fatalf("UpdateSnapshot error = %v", err)
	}
	err := r.UpdateSnapshot("b", backendSnapshot("b", 0, "search"))
	if !bridgeerr.Is(err, bridgeerr.TypeCatalogConflict) {
		t.Errorf("expected TypeCatalogConflict, got %v", err)
	}
}

func TestRegistry_ClearingSnapshotRemovesCapabilities(t *testing.T) {
	cfg := bridge.DefaultBridgeConfig()
	backends := []bridge.BackendConfig{{Name: "github"}}
	r := New(cfg, backends)

	if err := r.UpdateSnapshot("github", backendSnapshot("github", 0, "search")); err != nil {
		t.Fatalf("UpdateSnapshot error = %v", err)
	}
	if _, ok := r.Catalog().Lookup(bridge.KindTool, "github.search"); !ok {
		t.Fatal("precondition: search must be published before clearing")
	}

	if err := r.UpdateSnapshot("github", nil); err != nil {
		t.Fatalf("UpdateSnapshot(nil) error = %v", err)
	}
	if _, ok := r.Catalog().Lookup(bridge.KindTool, "github.search"); ok {
		t.Error("search should be removed after clearing the backend's snapshot")
	}
}

func TestRegistry_RebuildIncrementsGeneration(t *testing.T) {
	cfg := bridge.DefaultBridgeConfig()
	r := New(cfg, []bridge.BackendConfig{{Name: "a"}})

	first := r.Catalog().Generation
	if err := r.UpdateSnapshot("a", backendSnapshot("a", 0, "x")); err != nil {
		t.Fatalf("UpdateSnapshot error = %v", err)
	}
	second := r.Catalog().Generation
	if second <= first {
		t.Errorf("Generation did not increase: first=%d second=%d", first, second)
	}
}

func TestRegistry_RetainsAlternatesForFailover(t *testing.T) {
	cfg := bridge.DefaultBridgeConfig()
	backends := []bridge.BackendConfig{
		{Name: "primary", ToolNamespace: "p"},
		{Name: "backup", ToolNamespace: "b"},
	}
	r := New(cfg, backends)

	if err := r.UpdateSnapshot("primary", backendSnapshot("primary", 0, "search")); err != nil {
		t.Fatalf("UpdateSnapshot error = %v", err)
	}
	if err := r.UpdateSnapshot("backup", backendSnapshot("backup", 0, "search")); err != nil {
		t.Fatalf("UpdateSnapshot error = %v", err)
	}

	entry, ok := r.Catalog().Lookup(bridge.KindTool, "p.search")
	if !ok {
		t.Fatal("expected p.search to be published")
	}
	if len(entry.Alternates) != 1 || entry.Alternates[0] != "backup" {
		t.Errorf("Alternates = %v, want [backup]", entry.Alternates)
	}
}

func TestRegistry_AggregationTogglesDisableKind(t *testing.T) {
	cfg := bridge.DefaultBridgeConfig()
	cfg.Aggregation.Tools = false
	r := New(cfg, []bridge.BackendConfig{{Name: "a"}})

	if err := r.UpdateSnapshot("a", backendSnapshot("a", 0, "search")); err != nil {
		t.Fatalf("UpdateSnapshot error = %v", err)
	}
	if _, ok := r.Catalog().Lookup(bridge.KindTool, "a.search"); ok {
		t.Error("tools should not be aggregated when Aggregation.Tools is false")
	}
}
