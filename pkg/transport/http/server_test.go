package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/billyjbryant/mcp-foxxy-bridge/internal/bridgeerr"
	"github.com/billyjbryant/mcp-foxxy-bridge/pkg/bridge"
)

type fakeController struct {
	result  any
	err     error
	status  map[string]bridge.BackendStatus
	gotMeth string
}

func (f *fakeController) HandleRequest(_ context.Context, method string, _ map[string]any) (any, error) {
	f.gotMeth = method
	return f.result, f.err
}

func (f *fakeController) Status() map[string]bridge.BackendStatus {
	return f.status
}

func doRPC(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleRPC_Success(t *testing.T) {
	fc := &fakeController{result: map[string]string{"ok": "yes"}}
	h := NewRouter(fc)

	rec := doRPC(t, h, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"x"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if fc.gotMeth != "tools/call" {
		t.Errorf("HandleRequest called with method %q", fc.gotMeth)
	}

	var resp jsonRPCResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != nil {
		t.Errorf("unexpected error in response: %+v", resp.Error)
	}
}

func TestHandleRPC_MalformedBody(t *testing.T) {
	fc := &fakeController{}
	h := NewRouter(fc)

	rec := doRPC(t, h, `{ not json `)
	var resp jsonRPCResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil {
		t.Fatal("expected error in response")
	}
	if resp.Error.Code != -32602 {
		t.Errorf("Code = %d, want -32602 (invalid params)", resp.Error.Code)
	}
}

func TestHandleRPC_ControllerError(t *testing.T) {
	fc := &fakeController{err: bridgeerr.NewMethodNotFoundError("nope", nil)}
	h := NewRouter(fc)

	rec := doRPC(t, h, `{"jsonrpc":"2.0","id":2,"method":"bogus"}`)
	var resp jsonRPCResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Errorf("Error = %+v, want code -32601", resp.Error)
	}
}

func TestHandleStatus(t *testing.T) {
	fc := &fakeController{status: map[string]bridge.BackendStatus{"github": bridge.StatusReady}}
	h := NewRouter(fc)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode status body: %v", err)
	}
	if body["github"] != "ready" {
		t.Errorf("status[github] = %q, want ready", body["github"])
	}
}
