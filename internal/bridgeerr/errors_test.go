package bridgeerr

import (
	"errors"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "error with cause",
			err:  &Error{Type: TypeTimeout, Message: "call timed out", Cause: errors.New("context deadline exceeded")},
			want: "timeout: call timed out: context deadline exceeded",
		},
		{
			name: "error without cause",
			err:  &Error{Type: TypeBackendUnavailable, Message: "no ready backend"},
			want: "backend_unavailable: no ready backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := New(TypeInternal, "wrapped", cause)

	if got := err.Unwrap(); got != cause {
		t.Errorf("Unwrap() = %v, want %v", got, cause)
	}

	noCause := New(TypeInternal, "wrapped", nil)
	if got := noCause.Unwrap(); got != nil {
		t.Errorf("Unwrap() = %v, want nil", got)
	}
}

func TestError_Code(t *testing.T) {
	tests := []struct {
		name string
		typ  Type
		want int
	}{
		{"method not found", TypeMethodNotFound, -32601},
		{"invalid params", TypeInvalidParams, -32602},
		{"backend unavailable", TypeBackendUnavailable, -32000},
		{"timeout", TypeTimeout, -32001},
		{"session closed", TypeSessionClosed, -32002},
		{"catalog conflict", TypeCatalogConflict, -32003},
		{"unmapped type falls back to internal", TypeConfig, -32603},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.typ, "msg", nil)
			if got := err.Code(); got != tt.want {
				t.Errorf("Code() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestConstructors(t *testing.T) {
	cause := errors.New("cause")

	tests := []struct {
		name        string
		constructor func(string, error) *Error
		wantType    Type
	}{
		{"NewConfigError", NewConfigError, TypeConfig},
		{"NewSpawnError", NewSpawnError, TypeSpawn},
		{"NewHandshakeError", NewHandshakeError, TypeHandshake},
		{"NewTimeoutError", NewTimeoutError, TypeTimeout},
		{"NewSessionClosedError", NewSessionClosedError, TypeSessionClosed},
		{"NewMethodNotFoundError", NewMethodNotFoundError, TypeMethodNotFound},
		{"NewInvalidParamsError", NewInvalidParamsError, TypeInvalidParams},
		{"NewBackendUnavailableError", NewBackendUnavailableError, TypeBackendUnavailable},
		{"NewCatalogConflictError", NewCatalogConflictError, TypeCatalogConflict},
		{"NewInternalError", NewInternalError, TypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.constructor("test message", cause)
			if err.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", err.Type, tt.wantType)
			}
			if err.Message != "test message" {
				t.Errorf("Message = %v, want %q", err.Message, "test message")
			}
			if err.Cause != cause {
				t.Errorf("Cause = %v, want %v", err.Cause, cause)
			}
		})
	}
}

func TestIs(t *testing.T) {
	base := NewTimeoutError("slow backend", nil)
	wrapped := errors.New("outer: " + base.Error())

	if !Is(base, TypeTimeout) {
		t.Error("Is(base, TypeTimeout) = false, want true")
	}
	if Is(base, TypeSessionClosed) {
		t.Error("Is(base, TypeSessionClosed) = true, want false")
	}
	if Is(wrapped, TypeTimeout) {
		t.Error("Is on a plain errors.New should never match")
	}
}
