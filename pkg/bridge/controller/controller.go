// Package controller implements the Bridge Controller: it wires Backend
// Sessions, Health Supervisors, the Capability Registry, and the Request
// Router into one running process and exposes the single entry point the
// front transport calls per client request, per SPEC_FULL.md §4.5.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/billyjbryant/mcp-foxxy-bridge/internal/bridgeerr"
	"github.com/billyjbryant/mcp-foxxy-bridge/internal/bridgelog"
	"github.com/billyjbryant/mcp-foxxy-bridge/pkg/bridge"
	"github.com/billyjbryant/mcp-foxxy-bridge/pkg/bridge/health"
	"github.com/billyjbryant/mcp-foxxy-bridge/pkg/bridge/registry"
	"github.com/billyjbryant/mcp-foxxy-bridge/pkg/bridge/router"
	"github.com/billyjbryant/mcp-foxxy-bridge/pkg/bridge/session"
)

// startupReadinessPoll is how often Start polls supervisor status while
// waiting for the initial readiness window to elapse.
const startupReadinessPoll = 20 * time.Millisecond

// Controller owns every backend's Session and Supervisor, the shared
// Registry, and the Router, per spec §4.5.
type Controller struct {
	bridgeCfg bridge.BridgeConfig

	mu          sync.RWMutex
	sessions    map[string]*session.Session
	supervisors map[string]*health.Supervisor
	adapters    map[string]*backendAdapter

	reg *registry.Registry
	rtr *router.Router

	startupWindow time.Duration

	cancel context.CancelFunc
	eg     *errgroup.Group
}

// New constructs a Controller for the given backend configurations. No
// subprocess is spawned until Start is called.
func New(backends []bridge.BackendConfig, bridgeCfg bridge.BridgeConfig) *Controller {
	c := &Controller{
		bridgeCfg:     bridgeCfg,
		sessions:      make(map[string]*session.Session),
		supervisors:   make(map[string]*health.Supervisor),
		adapters:      make(map[string]*backendAdapter),
		reg:           registry.New(bridgeCfg, backends),
		startupWindow: 30 * time.Second,
	}

	dispatchers := make(map[string]router.Dispatcher)
	for _, cfg := range backends {
		if !cfg.Enabled {
			continue
		}
		cfg := cfg
		sess := session.New(cfg, c.notificationHandler)
		sup := health.New(sess, cfg.HealthCheck, c.statusChanged)
		adapter := &backendAdapter{sess: sess, sup: sup}

		c.sessions[cfg.Name] = sess
		c.supervisors[cfg.Name] = sup
		c.adapters[cfg.Name] = adapter
		dispatchers[cfg.Name] = adapter
	}

	c.rtr = router.New(c.reg, dispatchers, bridgeCfg.Failover)
	return c
}

// notificationHandler reacts to an unsolicited backend notification by
// refreshing that backend's catalog, per spec §4.1/§4.3.
func (c *Controller) notificationHandler(backend string, _ mcp.JSONRPCNotification) {
	sess := c.sessionFor(backend)
	if sess == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sess.Refresh(ctx); err != nil {
		bridgelog.Warnw("catalog refresh after notification failed", "backend", backend, "error", err)
		return
	}
	if err := c.reg.UpdateSnapshot(backend, sess.Snapshot()); err != nil {
		bridgelog.Warnw("catalog rebuild after notification failed", "backend", backend, "error", err)
	}
}

// statusChanged updates the Registry's view of a backend's capabilities
// whenever its Health Supervisor state changes, per spec §4.2/§4.3: only
// a Ready backend's catalog is published; any other state removes it.
func (c *Controller) statusChanged(backend string, status bridge.BackendStatus) {
	sess := c.sessionFor(backend)
	if sess == nil {
		return
	}
	if status == bridge.StatusReady {
		if err := c.reg.UpdateSnapshot(backend, sess.Snapshot()); err != nil {
			bridgelog.Warnw("catalog rebuild on readiness failed", "backend", backend, "error", err)
		}
		return
	}
	if err := c.reg.UpdateSnapshot(backend, nil); err != nil {
		bridgelog.Warnw("catalog rebuild on un-readiness failed", "backend", backend, "error", err)
	}
}

func (c *Controller) sessionFor(backend string) *session.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessions[backend]
}

// Start launches every enabled backend's Health Supervisor concurrently
// and blocks for a bounded window while they reach Ready or Failed, per
// spec §4.5. Supervisors keep running (probing, restarting) in the
// background after Start returns; call Shutdown to tear them down.
func (c *Controller) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	eg, egCtx := errgroup.WithContext(runCtx)
	c.eg = eg

	c.mu.RLock()
	supervisors := make(map[string]*health.Supervisor, len(c.supervisors))
	for name, sup := range c.supervisors {
		supervisors[name] = sup
	}
	c.mu.RUnlock()

	for name, sup := range supervisors {
		name, sup := name, sup
		eg.Go(func() error {
			if err := sup.Run(egCtx); err != nil {
				bridgelog.Errorw("backend supervisor exited with error", "backend", name, "error", err)
			}
			return nil
		})
	}

	c.awaitInitialReadiness(supervisors)
	return nil
}

func (c *Controller) awaitInitialReadiness(supervisors map[string]*health.Supervisor) {
	deadline := time.Now().Add(c.startupWindow)
	for time.Now().Before(deadline) {
		allSettled := true
		for _, sup := range supervisors {
			switch sup.Status() {
			case bridge.StatusReady, bridge.StatusFailed, bridge.StatusStopped:
			default:
				allSettled = false
			}
		}
		if allSettled {
			return
		}
		time.Sleep(startupReadinessPoll)
	}
}

// Shutdown signals every Supervisor to stop and waits for them to finish.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.RLock()
	supervisors := make([]*health.Supervisor, 0, len(c.supervisors))
	for _, sup := range c.supervisors {
		supervisors = append(supervisors, sup)
	}
	c.mu.RUnlock()

	for _, sup := range supervisors {
		sup.Stop()
	}

	if c.cancel != nil {
		c.cancel()
	}
	if c.eg == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- c.eg.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a point-in-time snapshot of every backend's health
// state, serving the supplemented /status endpoint.
func (c *Controller) Status() map[string]bridge.BackendStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]bridge.BackendStatus, len(c.supervisors))
	for name, sup := range c.supervisors {
		out[name] = sup.Status()
	}
	return out
}

// Catalog returns the current published capability catalog.
func (c *Controller) Catalog() *bridge.UnifiedCatalog {
	return c.reg.Catalog()
}

// HandleRequest is the single entry point the front transport calls for
// every client JSON-RPC request, per spec §4.4/§4.5.
func (c *Controller) HandleRequest(ctx context.Context, method string, params map[string]any) (any, error) {
	switch method {
	case "initialize":
		return c.initializeResult(), nil
	case "ping":
		return struct{}{}, nil
	}
	if router.IsDiscoveryMethod(method) {
		return c.listCapabilities(method), nil
	}
	if params == nil {
		params = map[string]any{}
	}
	res, err := c.rtr.Dispatch(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// initializeResult answers the client handshake locally rather than
// routing it to any one backend, per spec §4.4: it advertises the union
// of capability kinds at least one currently Ready backend offers.
func (c *Controller) initializeResult() mcp.InitializeResult {
	catalog := c.reg.Catalog()
	var caps mcp.ServerCapabilities
	if len(catalog.Tools) > 0 {
		caps.Tools = &mcp.ToolsCapability{}
	}
	if len(catalog.Resources) > 0 {
		caps.Resources = &mcp.ResourcesCapability{}
	}
	if len(catalog.Prompts) > 0 {
		caps.Prompts = &mcp.PromptsCapability{}
	}
	return mcp.InitializeResult{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		ServerInfo:      mcp.Implementation{Name: "mcpbridge", Version: "dev"},
		Capabilities:    caps,
	}
}

func (c *Controller) listCapabilities(method string) any {
	catalog := c.reg.Catalog()
	switch method {
	case "tools/list":
		return listEntries(catalog.Tools)
	case "resources/list", "resources/templates/list":
		return listEntries(catalog.Resources)
	case "prompts/list":
		return listEntries(catalog.Prompts)
	default:
		return nil
	}
}

func listEntries(m map[string]bridge.UnifiedEntry) []bridge.UnifiedEntry {
	out := make([]bridge.UnifiedEntry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	return out
}

// Err converts any error into a *bridgeerr.Error, defaulting to Internal
// for anything the rest of the pipeline did not already classify.
func Err(err error) *bridgeerr.Error {
	if be, ok := err.(*bridgeerr.Error); ok {
		return be
	}
	return bridgeerr.NewInternalError("unclassified bridge error", err)
}
