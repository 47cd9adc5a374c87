package lavalink

import (
	"errors"
	"testing"
)

func TestNodeError_Unwrap(t *testing.T) {
	t.Parallel()

	err := &NodeError{Node: "eu-1", Err: ErrNodeUnavailable}
	if !errors.Is(err, ErrNodeUnavailable) {
		t.Error("NodeError must unwrap to its cause")
	}

	var ne *NodeError
	if !errors.As(err, &ne) || ne.Node != "eu-1" {
		t.Errorf("errors.As failed or node name lost: %v", err)
	}
}

func TestIllegalActionf(t *testing.T) {
	t.Parallel()

	err := illegalActionf("volume must be between %d and %d", 0, 150)
	var iae *IllegalActionError
	if !errors.As(err, &iae) {
		t.Fatalf("illegalActionf must yield *IllegalActionError, got %T", err)
	}
	if iae.Reason != "volume must be between 0 and 150" {
		t.Errorf("Reason = %q", iae.Reason)
	}
}
