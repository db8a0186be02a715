package rpcerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeStableMapping(t *testing.T) {
	if Code(KindSessionNotFound) == Code(KindInternal) {
		t.Fatalf("expected distinct codes for distinct kinds")
	}
	if Code(KindMethodNotFound) != -32601 {
		t.Fatalf("expected the reused JSON-RPC MethodNotFound code")
	}
}

func TestCodeUnknownKindFallsBackToInternal(t *testing.T) {
	if Code(Kind("bogus")) != Code(KindInternal) {
		t.Fatalf("expected unregistered kinds to map to Internal's code")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindIoError, "read failed", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
}

func TestAsFindsWrappedRpcError(t *testing.T) {
	base := New(KindSessionNotFound, "no such session")
	wrapped := fmt.Errorf("handler failed: %w", base)
	e, ok := As(wrapped)
	if !ok || e.Kind != KindSessionNotFound {
		t.Fatalf("expected As to unwrap to the rpcerr.Error")
	}
}

func TestWithDataAttachesFields(t *testing.T) {
	err := New(KindUnknownKey, "bad key").WithData(map[string]any{"key": "foo"})
	if err.Data["key"] != "foo" {
		t.Fatalf("expected data field to be attached")
	}
}
