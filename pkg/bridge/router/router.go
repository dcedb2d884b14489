// Package router implements the Request Router: it classifies an
// incoming client request, resolves its target backend through the
// Capability Registry, and dispatches it, per SPEC_FULL.md §4.4.
package router

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/billyjbryant/mcp-foxxy-bridge/internal/bridgeerr"
	"github.com/billyjbryant/mcp-foxxy-bridge/internal/bridgelog"
	"github.com/billyjbryant/mcp-foxxy-bridge/internal/bridgemetrics"
	"github.com/billyjbryant/mcp-foxxy-bridge/pkg/bridge"
)

// MethodClass categorizes an incoming JSON-RPC method, per spec §4.4.
type MethodClass int

// Method classes.
const (
	ClassUnknown MethodClass = iota
	ClassInitialize
	ClassDiscovery
	ClassInvocation
	ClassCancellation
)

// discoveryMethods and invocationMethods classify the MCP methods this
// bridge understands; apart from initialize, ping and
// notifications/cancelled, anything else is ClassUnknown and rejected
// with MethodNotFound, per spec §4.4.
var discoveryMethods = map[string]bridge.CapabilityKind{
	"tools/list":               bridge.KindTool,
	"resources/list":           bridge.KindResource,
	"resources/templates/list": bridge.KindResource,
	"prompts/list":             bridge.KindPrompt,
}

var invocationMethods = map[string]bridge.CapabilityKind{
	"tools/call":     bridge.KindTool,
	"resources/read": bridge.KindResource,
	"prompts/get":    bridge.KindPrompt,
}

const cancelledNotificationMethod = "notifications/cancelled"

// ClassifyMethod returns the MethodClass for an incoming JSON-RPC method
// name, per spec §4.4.
func ClassifyMethod(method string) MethodClass {
	switch {
	case method == "initialize" || method == "ping":
		return ClassInitialize
	case method == cancelledNotificationMethod:
		return ClassCancellation
	default:
		if _, ok := discoveryMethods[method]; ok {
			return ClassDiscovery
		}
		if _, ok := invocationMethods[method]; ok {
			return ClassInvocation
		}
		return ClassUnknown
	}
}

// registryView is the subset of the Capability Registry the Router reads
// from, declared locally so this package depends on behavior, not a
// concrete struct.
type registryView interface {
	Lookup(kind bridge.CapabilityKind, publicID string) (bridge.UnifiedEntry, bool)
	Catalog() *bridge.UnifiedCatalog
}

// Dispatcher is the subset of a Backend Session the Router invokes once
// it has resolved a target backend and native id.
type Dispatcher interface {
	CallByMethod(ctx context.Context, method, nativeID string, params map[string]any) (any, error)
	Cancel(ctx context.Context, requestID any) error
	IsReady() bool
}

// Router resolves and dispatches classified requests across backends.
type Router struct {
	registry registryView
	backends map[string]Dispatcher
	failover bridge.FailoverConfig
}

// New constructs a Router bound to the given Registry and backend
// dispatch table (keyed by backend name).
func New(reg registryView, backends map[string]Dispatcher, failover bridge.FailoverConfig) *Router {
	return &Router{registry: reg, backends: backends, failover: failover}
}

// Resolved is the outcome of routing one request: which backend it must
// go to and the native (backend-local) identifier to use. Alternates
// lists other backends that independently advertise the same native id,
// in merge-priority order, for failover per spec §4.4.
type Resolved struct {
	Backend    string
	NativeID   string
	Kind       bridge.CapabilityKind
	Alternates []string
}

// Route classifies method and resolves the public identifier carried in
// params (under the "name" or "uri" key, per spec §4.3/§6) to a backend
// and native id. It returns a *bridgeerr.Error for every rejection path
// so callers can translate directly to a JSON-RPC error response.
func (r *Router) Route(method string, params map[string]any) (Resolved, error) {
	class := ClassifyMethod(method)
	switch class {
	case ClassDiscovery:
		return Resolved{Kind: discoveryMethods[method]}, nil
	case ClassInvocation:
		kind := invocationMethods[method]
		publicID, err := publicIDFromParams(kind, params)
		if err != nil {
			return Resolved{}, err
		}
		entry, ok := r.registry.Lookup(kind, publicID)
		if !ok {
			return Resolved{}, bridgeerr.NewInvalidParamsError("unknown "+string(kind)+" identifier \""+publicID+"\"", nil)
		}
		return Resolved{Backend: entry.Backend, NativeID: entry.NativeID, Kind: kind, Alternates: entry.Alternates}, nil
	case ClassInitialize, ClassCancellation:
		return Resolved{}, nil
	default:
		return Resolved{}, bridgeerr.NewMethodNotFoundError("unsupported method \""+method+"\"", nil)
	}
}

func publicIDFromParams(kind bridge.CapabilityKind, params map[string]any) (string, error) {
	key := "name"
	if kind == bridge.KindResource {
		key = "uri"
	}
	raw, ok := params[key]
	if !ok {
		return "", bridgeerr.NewInvalidParamsError("missing required parameter \""+key+"\"", nil)
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", bridgeerr.NewInvalidParamsError("parameter \""+key+"\" must be a non-empty string", nil)
	}
	return s, nil
}

// Dispatch routes and invokes a tools/call, resources/read, or
// prompts/get request, applying failover across equally-qualified
// backends when the configured policy allows it, per spec §4.4.
func (r *Router) Dispatch(ctx context.Context, method string, params map[string]any) (any, error) {
	correlationID := uuid.NewString()

	resolved, err := r.Route(method, params)
	if err != nil {
		bridgemetrics.RequestsTotal.WithLabelValues(method, "route_error").Inc()
		return nil, err
	}

	dispatcher, ok := r.backends[resolved.Backend]
	if !ok {
		bridgemetrics.RequestsTotal.WithLabelValues(method, "backend_unregistered").Inc()
		return nil, bridgeerr.NewBackendUnavailableError("backend \""+resolved.Backend+"\" is not registered", nil)
	}

	if !dispatcher.IsReady() {
		bridgemetrics.RequestsTotal.WithLabelValues(method, "backend_unready").Inc()
		if !r.failover.Enabled {
			return nil, bridgeerr.NewBackendUnavailableError("backend \""+resolved.Backend+"\" is not ready", nil)
		}
		altBackend, altDispatcher, found := r.findReadyAlternate(resolved.Alternates)
		if !found {
			bridgelog.Warnw("backend not ready, no ready alternate for failover",
				"backend", resolved.Backend, "method", method, "correlation_id", correlationID)
			return nil, bridgeerr.NewBackendUnavailableError("backend \""+resolved.Backend+"\" is not ready and no equivalent capability exists elsewhere", nil)
		}
		bridgelog.Warnw("backend not ready, failing over to alternate",
			"backend", resolved.Backend, "failover_backend", altBackend, "method", method, "correlation_id", correlationID)
		result, err := altDispatcher.CallByMethod(ctx, method, resolved.NativeID, params)
		if err != nil {
			bridgemetrics.RequestsTotal.WithLabelValues(method, "error").Inc()
			return nil, err
		}
		bridgemetrics.RequestsTotal.WithLabelValues(method, "failover_success").Inc()
		return result, nil
	}

	bridgelog.Debugw("dispatching request", "backend", resolved.Backend, "method", method, "correlation_id", correlationID)
	result, err := dispatcher.CallByMethod(ctx, method, resolved.NativeID, params)
	if err != nil {
		bridgemetrics.RequestsTotal.WithLabelValues(method, "error").Inc()
		return nil, err
	}
	bridgemetrics.RequestsTotal.WithLabelValues(method, "success").Inc()
	return result, nil
}

// findReadyAlternate returns the first Ready backend among alternates, in
// the order the Capability Registry recorded them (merge-priority order).
func (r *Router) findReadyAlternate(alternates []string) (string, Dispatcher, bool) {
	for _, alt := range alternates {
		d, ok := r.backends[alt]
		if ok && d.IsReady() {
			return alt, d, true
		}
	}
	return "", nil, false
}

// Cancel passes a cancellation for requestID to the named backend's
// Dispatcher. The Router does not track which backend owns an in-flight
// request, so callers pass the backend name resolved at dispatch time.
// Whether a notifications/cancelled message reaches the backend depends
// on the Dispatcher; the Controller's stdio adapter sends none, and
// Dispatch itself never calls Cancel.
func (r *Router) Cancel(ctx context.Context, backend string, requestID any) error {
	dispatcher, ok := r.backends[backend]
	if !ok {
		return bridgeerr.NewBackendUnavailableError("backend \""+backend+"\" is not registered", nil)
	}
	return dispatcher.Cancel(ctx, requestID)
}

// IsDiscoveryMethod reports whether method is one of the aggregated list
// endpoints the Controller serves directly from the Registry's catalog.
func IsDiscoveryMethod(method string) bool {
	_, ok := discoveryMethods[method]
	return ok
}

// TrimNamespacePrefix is a convenience helper for logging/diagnostics: it
// strips a "ns." (tool/prompt) or "ns+" (resource) prefix from a public
// id, returning the bare native id and the namespace, if any. Resources
// use "+" rather than "." because native resource URIs already contain
// "://" and often "." (e.g. file:///a/b.txt), per spec §6.
func TrimNamespacePrefix(publicID string) (namespace, nativeID string) {
	if idx := strings.Index(publicID, "+"); idx >= 0 {
		return publicID[:idx], publicID[idx+1:]
	}
	if idx := strings.Index(publicID, "."); idx >= 0 {
		return publicID[:idx], publicID[idx+1:]
	}
	return "", publicID
}
