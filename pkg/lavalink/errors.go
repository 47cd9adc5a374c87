package lavalink

import (
	"errors"
	"fmt"
)

// Sentinel errors reported at the library boundary. Callers should test for
// them with [errors.Is].
var (
	// ErrNoNodesAvailable is returned when the load balancer cannot find a
	// single available node to serve a request.
	ErrNoNodesAvailable = errors.New("lavalink: no nodes available")

	// ErrNodeUnavailable is returned when an operation requires an open
	// websocket session but the node's socket is not open.
	ErrNodeUnavailable = errors.New("lavalink: node unavailable")
)

// IllegalActionError indicates that the caller violated a state precondition:
// seeking with nothing playing, connecting to a mismatched guild, or forcing
// an illegal link state transition.
type IllegalActionError struct {
	Reason string
}

func (e *IllegalActionError) Error() string {
	return "lavalink: illegal action: " + e.Reason
}

// illegalActionf builds an [IllegalActionError] from a format string.
func illegalActionf(format string, args ...any) error {
	return &IllegalActionError{Reason: fmt.Sprintf(format, args...)}
}

// NodeError wraps a transport or worker-side failure on a named node.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("lavalink: node %q: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }
