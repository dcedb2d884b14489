package controller

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/billyjbryant/mcp-foxxy-bridge/internal/bridgeerr"
	"github.com/billyjbryant/mcp-foxxy-bridge/pkg/bridge"
	"github.com/billyjbryant/mcp-foxxy-bridge/pkg/bridge/health"
	"github.com/billyjbryant/mcp-foxxy-bridge/pkg/bridge/session"
)

// backendAdapter binds a Backend Session and its Health Supervisor so the
// Request Router can dispatch generic (method, params) pairs without
// knowing about either concrete type, per spec §4.4.
type backendAdapter struct {
	sess *session.Session
	sup  *health.Supervisor
}

func (a *backendAdapter) IsReady() bool {
	return a.sup.Status() == bridge.StatusReady
}

// CallByMethod translates a generic invocation into the matching mcp-go
// request type and forwards it to the Session, per spec §4.1/§4.4.
func (a *backendAdapter) CallByMethod(ctx context.Context, method, nativeID string, params map[string]any) (any, error) {
	switch method {
	case "tools/call":
		req := mcp.CallToolRequest{}
		req.Params.Name = nativeID
		if args, ok := params["arguments"].(map[string]any); ok {
			req.Params.Arguments = args
		}
		return a.sess.CallTool(ctx, req)
	case "resources/read":
		req := mcp.ReadResourceRequest{}
		req.Params.URI = nativeID
		return a.sess.ReadResource(ctx, req)
	case "prompts/get":
		req := mcp.GetPromptRequest{}
		req.Params.Name = nativeID
		if args, ok := params["arguments"].(map[string]string); ok {
			req.Params.Arguments = args
		}
		return a.sess.GetPrompt(ctx, req)
	default:
		return nil, bridgeerr.NewMethodNotFoundError(fmt.Sprintf("unsupported invocation method %q", method), nil)
	}
}

// Cancel has no native MCP equivalent to forward for stdio backends since
// mcp-go's stdio transport has no cancellation primitive; the Session
// already drops its local pending-entry bookkeeping once the caller's
// deadline elapses (spec §4.1/§9), so Cancel here is a documented no-op
// that still satisfies the Router's contract.
func (a *backendAdapter) Cancel(_ context.Context, _ any) error {
	return nil
}
