// Package session implements the Backend Session: one long-lived MCP
// conversation with a backend server launched as a child subprocess, per
// SPEC_FULL.md §4.1. Wire-level JSON-RPC framing and id correlation are
// delegated to mark3labs/mcp-go's stdio client/transport, which already
// implements the single-reader-task-with-correlation-by-id design called
// for in §4.1/§9 — see DESIGN.md for the rationale. Session layers the
// spec's own concerns on top: per-request deadlines, a pending-request
// count for observability, environment expansion, and catalog population.
package session

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/billyjbryant/mcp-foxxy-bridge/internal/bridgeerr"
	"github.com/billyjbryant/mcp-foxxy-bridge/internal/bridgelog"
	"github.com/billyjbryant/mcp-foxxy-bridge/pkg/bridge"
)

// NotificationFunc receives an unsolicited notification (method with no
// id) from the backend; the Health Supervisor/Capability Registry use
// this to react to capability-changed events, per spec §4.1.
type NotificationFunc func(backend string, notification mcp.JSONRPCNotification)

// mcpClient is the subset of *mark3labs/mcp-go/client.Client that Session
// depends on. *mcpclient.Client satisfies it structurally; declaring it
// lets tests substitute a fake without spawning a subprocess.
type mcpClient interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	ListResources(ctx context.Context, req mcp.ListResourcesRequest) (*mcp.ListResourcesResult, error)
	ListPrompts(ctx context.Context, req mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	ReadResource(ctx context.Context, req mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error)
	GetPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error)
	Ping(ctx context.Context) error
	OnNotification(handler func(notification mcp.JSONRPCNotification))
	Close() error
}

// clientFactory is overridden in tests to avoid spawning real processes.
type clientFactory func(cfg bridge.BackendConfig) (mcpClient, error)

// Session owns one backend subprocess and presents a request/response
// interface to the rest of the core, per spec §4.1.
type Session struct {
	cfg       bridge.BackendConfig
	onNotif   NotificationFunc
	newClient clientFactory

	mu      sync.Mutex
	client  mcpClient
	closed  bool
	pending int64 // count of requests currently awaiting a response

	snapshot atomic.Pointer[bridge.BackendSnapshot]
}

// New constructs a Session for the given backend configuration. onNotif
// may be nil.
func New(cfg bridge.BackendConfig, onNotif NotificationFunc) *Session {
	return &Session{
		cfg:       cfg,
		onNotif:   onNotif,
		newClient: defaultClientFactory,
	}
}

func defaultClientFactory(cfg bridge.BackendConfig) (mcpClient, error) {
	env := expandEnv(cfg.Env)
	envSlice := make([]string, 0, len(env))
	for k, v := range env {
		envSlice = append(envSlice, k+"="+v)
	}
	args := expandArgs(cfg.Args)
	return mcpclient.NewStdioMCPClient(cfg.Command, envSlice, args...)
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:([^}]*))?\}`)

// expandValue performs ${VAR} / ${VAR:default} substitution against the
// process environment, per spec §4.1/§6. A missing variable with no
// default expands to the empty string and is logged at warning level.
func expandValue(backend, value string) string {
	return envPattern.ReplaceAllStringFunc(value, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		name, hasDefault, def := groups[1], groups[2] != "", groups[3]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if hasDefault {
			return def
		}
		bridgelog.Warnw("environment variable not set, expanding to empty string",
			"backend", backend, "variable", name)
		return ""
	})
}

func expandEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = expandValue(k, v)
	}
	return out
}

func expandArgsFor(backend string, args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = expandValue(backend, a)
	}
	return out
}

func expandArgs(args []string) []string { return expandArgsFor("args", args) }

// Start spawns the subprocess, performs the MCP initialize handshake, and
// populates the initial catalog snapshot, per spec §4.1.
func (s *Session) Start(ctx context.Context) error {
	c, err := s.newClient(s.cfg)
	if err != nil {
		return bridgeerr.NewSpawnError(fmt.Sprintf("spawn backend %q", s.cfg.Name), err)
	}

	c.OnNotification(func(n mcp.JSONRPCNotification) {
		if s.onNotif != nil {
			s.onNotif(s.cfg.Name, n)
		}
	})

	hctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "mcpbridge", Version: "dev"}

	if _, err := c.Initialize(hctx, initReq); err != nil {
		_ = c.Close()
		return bridgeerr.NewHandshakeError(fmt.Sprintf("initialize backend %q", s.cfg.Name), err)
	}

	snap, err := s.fetchCatalog(hctx, c)
	if err != nil {
		_ = c.Close()
		return err
	}

	s.mu.Lock()
	s.client = c
	s.closed = false
	s.mu.Unlock()
	s.snapshot.Store(snap)

	bridgelog.Infow("backend session started", "backend", s.cfg.Name, "tools", len(snap.Tools),
		"resources", len(snap.Resources), "prompts", len(snap.Prompts))
	return nil
}

func (s *Session) fetchCatalog(ctx context.Context, c mcpClient) (*bridge.BackendSnapshot, error) {
	snap := &bridge.BackendSnapshot{Backend: s.cfg.Name, Priority: s.cfg.Priority, ReadyAt: time.Now()}

	toolsRes, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.TypeHandshake, fmt.Sprintf("list_tools on %q", s.cfg.Name), err)
	}
	for _, t := range toolsRes.Tools {
		snap.Tools = append(snap.Tools, bridge.CatalogEntry{Kind: bridge.KindTool, NativeID: t.Name, Descriptor: t, Backend: s.cfg.Name})
	}

	resourcesRes, err := c.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.TypeHandshake, fmt.Sprintf("list_resources on %q", s.cfg.Name), err)
	}
	for _, r := range resourcesRes.Resources {
		snap.Resources = append(snap.Resources, bridge.CatalogEntry{Kind: bridge.KindResource, NativeID: r.URI, Descriptor: r, Backend: s.cfg.Name})
	}

	promptsRes, err := c.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.TypeHandshake, fmt.Sprintf("list_prompts on %q", s.cfg.Name), err)
	}
	for _, p := range promptsRes.Prompts {
		snap.Prompts = append(snap.Prompts, bridge.CatalogEntry{Kind: bridge.KindPrompt, NativeID: p.Name, Descriptor: p, Backend: s.cfg.Name})
	}

	return snap, nil
}

// Snapshot returns the most recent catalog snapshot, or nil if the
// session has never completed Start.
func (s *Session) Snapshot() *bridge.BackendSnapshot { return s.snapshot.Load() }

// Refresh re-fetches the catalog, e.g. in response to a capability-changed
// notification, and replaces the stored snapshot atomically.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	c := s.client
	closed := s.closed
	s.mu.Unlock()
	if closed || c == nil {
		return bridgeerr.NewSessionClosedError(fmt.Sprintf("backend %q is not connected", s.cfg.Name), nil)
	}

	rctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	snap, err := s.fetchCatalog(rctx, c)
	if err != nil {
		return err
	}
	s.snapshot.Store(snap)
	return nil
}

// PendingCount returns the number of requests currently in flight, for
// the pending-table invariant in spec §8 property 5.
func (s *Session) PendingCount() int64 { return atomic.LoadInt64(&s.pending) }

// deadline resolves the effective deadline for a request: the caller's
// ctx deadline if nearer, else the backend's configured Timeout.
func (s *Session) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	backendDeadline := time.Now().Add(s.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(backendDeadline) {
		return context.WithDeadline(ctx, d)
	}
	return context.WithDeadline(ctx, backendDeadline)
}

// call runs fn under a bounded deadline and bookkeeps the pending count,
// per spec §4.1/§9: the entry is removed both on completion and on
// deadline expiry, and a late reply from the backend after expiry has no
// matching waiter in mcp-go's own transport and is silently discarded.
func (s *Session) call(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	c := s.client
	closed := s.closed
	s.mu.Unlock()
	if closed || c == nil {
		return bridgeerr.NewSessionClosedError(fmt.Sprintf("backend %q session is closed", s.cfg.Name), nil)
	}

	cctx, cancel := s.deadline(ctx)
	defer cancel()

	atomic.AddInt64(&s.pending, 1)
	defer atomic.AddInt64(&s.pending, -1)

	err := fn(cctx)
	if err != nil {
		if cctx.Err() == context.DeadlineExceeded {
			return bridgeerr.NewTimeoutError(fmt.Sprintf("request to backend %q timed out", s.cfg.Name), err)
		}
		s.mu.Lock()
		stillOpen := !s.closed
		s.mu.Unlock()
		if !stillOpen {
			return bridgeerr.NewSessionClosedError(fmt.Sprintf("backend %q session is closed", s.cfg.Name), err)
		}
	}
	return err
}

// CallTool forwards a tools/call invocation to the backend.
func (s *Session) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var res *mcp.CallToolResult
	err := s.call(ctx, func(cctx context.Context) error {
		var callErr error
		res, callErr = s.clientUnsafe().CallTool(cctx, req)
		return callErr
	})
	return res, err
}

// ReadResource forwards a resources/read invocation to the backend.
func (s *Session) ReadResource(ctx context.Context, req mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	var res *mcp.ReadResourceResult
	err := s.call(ctx, func(cctx context.Context) error {
		var callErr error
		res, callErr = s.clientUnsafe().ReadResource(cctx, req)
		return callErr
	})
	return res, err
}

// GetPrompt forwards a prompts/get invocation to the backend.
func (s *Session) GetPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	var res *mcp.GetPromptResult
	err := s.call(ctx, func(cctx context.Context) error {
		var callErr error
		res, callErr = s.clientUnsafe().GetPrompt(cctx, req)
		return callErr
	})
	return res, err
}

// Ping issues a protocol-level MCP ping request to the backend. The
// Health Supervisor uses it when the configured probe is ProbePing (or an
// unrecognized probe); no HTTP request is made.
func (s *Session) Ping(ctx context.Context) error {
	return s.call(ctx, func(cctx context.Context) error {
		return s.clientUnsafe().Ping(cctx)
	})
}

func (s *Session) clientUnsafe() mcpClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Stop marks the session closed and calls the client's Close, waiting up
// to grace for it to return. If Close has not returned by then, Stop
// returns a SessionClosed error and leaves Close running in the
// background; it does not itself kill the process. All pending requests
// observe SessionClosed through their own in-flight deadline/error
// handling once the underlying client tears down its transport.
func (s *Session) Stop(ctx context.Context, grace time.Duration) error {
	s.mu.Lock()
	c := s.client
	s.closed = true
	s.client = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- c.Close() }()

	select {
	case err := <-done:
		if err != nil {
			bridgelog.Warnw("error closing backend session", "backend", s.cfg.Name, "error", err)
		}
		return err
	case <-time.After(grace):
		bridgelog.Warnw("backend session did not close within grace period", "backend", s.cfg.Name, "grace", grace)
		return bridgeerr.NewSessionClosedError(fmt.Sprintf("backend %q did not stop within grace period", s.cfg.Name), nil)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Name returns the backend name this session belongs to.
func (s *Session) Name() string { return s.cfg.Name }
