package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestFrameworkError_Error(t *testing.T) {
	err := NewError(ErrNotFound, "order missing")
	if err.Error() != "[NOT_FOUND] order missing" {
		t.Errorf("unexpected message: %s", err.Error())
	}

	wrapped := Wrap(errors.New("dial tcp: refused"), ErrConnectionLost, "broker unreachable")
	if wrapped.Error() != "[CONNECTION_LOST] broker unreachable: dial tcp: refused" {
		t.Errorf("unexpected message: %s", wrapped.Error())
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, ErrNotFound, "x") != nil {
		t.Fatal("expected nil for nil cause")
	}
}

func TestFrameworkError_Is(t *testing.T) {
	err := fmt.Errorf("context: %w", NewError(ErrShutdown, "bus closed"))

	if !errors.Is(err, NewError(ErrShutdown, "")) {
		t.Error("expected errors.Is to match by code")
	}
	if errors.Is(err, NewError(ErrNotFound, "")) {
		t.Error("expected different code not to match")
	}
}

func TestHasCode(t *testing.T) {
	inner := NewError(ErrNotConnected, "no channel")
	outer := Wrap(inner, ErrConnectionLost, "publish failed")

	if !HasCode(outer, ErrConnectionLost) {
		t.Error("expected outer code")
	}
	if !HasCode(outer, ErrNotConnected) {
		t.Error("expected inner code")
	}
	if HasCode(outer, ErrNotFound) {
		t.Error("unexpected code")
	}
	if HasCode(errors.New("plain"), ErrNotFound) {
		t.Error("plain error has no code")
	}
	if CodeOf(fmt.Errorf("x: %w", outer)) != ErrConnectionLost {
		t.Error("expected CodeOf to return first code")
	}
}

func TestErrorf(t *testing.T) {
	err := Errorf(ErrInvalidConfig, "unknown store %q", "sqlite")
	if err.Error() != `[INVALID_CONFIG] unknown store "sqlite"` {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestIsConnectivity(t *testing.T) {
	if !IsConnectivity(fmt.Errorf("publish: %w", NewError(ErrNotConnected, "no channel"))) {
		t.Error("expected NOT_CONNECTED to be a connectivity error")
	}
	if IsConnectivity(NewError(ErrInvalidConfig, "bad url")) {
		t.Error("INVALID_CONFIG is not a connectivity error")
	}
}
