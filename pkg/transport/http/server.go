// Package http is the external-facing transport: it exposes the Bridge
// Controller to MCP clients as plain JSON-RPC over HTTP (POST /rpc, one
// request and one response per call; no Server-Sent Events), plus a
// /status endpoint for operational visibility and /metrics, per
// SPEC_FULL.md §5/SUPPLEMENTED FEATURES.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/billyjbryant/mcp-foxxy-bridge/internal/bridgeerr"
	"github.com/billyjbryant/mcp-foxxy-bridge/internal/bridgelog"
	"github.com/billyjbryant/mcp-foxxy-bridge/internal/bridgemetrics"
	"github.com/billyjbryant/mcp-foxxy-bridge/pkg/bridge"
)

// bridgeController is the subset of *controller.Controller the transport
// depends on, declared locally for testability.
type bridgeController interface {
	HandleRequest(ctx context.Context, method string, params map[string]any) (any, error)
	Status() map[string]bridge.BackendStatus
}

// jsonRPCRequest is the wire envelope for one client call, per spec §5.
type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewRouter assembles the chi router exposing the bridge's HTTP surface:
// POST /rpc for JSON-RPC requests and GET /status for health visibility.
func NewRouter(ctrl bridgeController) http.Handler {
	routes := &handlers{ctrl: ctrl}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Post("/rpc", routes.handleRPC)
	r.Get("/status", routes.handleStatus)
	r.Handle("/metrics", bridgemetrics.Handler())
	return r
}

type handlers struct {
	ctrl bridgeController
}

func (h *handlers) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req jsonRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, nil, bridgeerr.NewInvalidParamsError("malformed JSON-RPC request body", err))
		return
	}

	var params map[string]any
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeError(w, req.ID, bridgeerr.NewInvalidParamsError("params must be a JSON object", err))
			return
		}
	}

	result, err := h.ctrl.HandleRequest(r.Context(), req.Method, params)
	if err != nil {
		writeError(w, req.ID, err)
		return
	}

	writeResult(w, req.ID, result)
}

func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	statuses := h.ctrl.Status()
	body := make(map[string]string, len(statuses))
	for name, status := range statuses {
		body[name] = string(status)
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		bridgelog.Warnw("failed to encode status response", "error", err)
	}
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result any) {
	w.Header().Set("Content-Type", "application/json")
	resp := jsonRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		bridgelog.Warnw("failed to encode JSON-RPC result", "error", err)
	}
}

func writeError(w http.ResponseWriter, id json.RawMessage, err error) {
	var be *bridgeerr.Error
	if !errors.As(err, &be) {
		be = bridgeerr.NewInternalError("unclassified error", err)
	}
	bridgelog.Warnw("request failed", "error", be, "code", be.Code())

	w.Header().Set("Content-Type", "application/json")
	resp := jsonRPCResponse{JSONRPC: "2.0", ID: id, Error: &jsonRPCError{Code: be.Code(), Message: be.Error()}}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		bridgelog.Warnw("failed to encode JSON-RPC error response", "error", err)
	}
}
