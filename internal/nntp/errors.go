package nntp

import (
	"errors"
	"fmt"
)

// ErrConnection covers socket, timeout and TLS failures. A connection that
// reports it is dead and must be discarded by the pool.
var ErrConnection = errors.New("nntp connection error")

// ErrAuth indicates rejected credentials or a 480/481 from the server.
var ErrAuth = errors.New("nntp authentication failed")

// ErrGroupNotFound indicates a 411 response to GROUP.
var ErrGroupNotFound = errors.New("no such newsgroup (411)")

// ErrArticleNotFound indicates a 430 response to BODY or STAT.
var ErrArticleNotFound = errors.New("article not found (430)")

// ErrPoolTimeout indicates acquire waited out its timeout without a release.
var ErrPoolTimeout = errors.New("timed out waiting for a pool connection")

// ErrPoolClosed indicates acquire or a waiter hit a closed pool.
var ErrPoolClosed = errors.New("connection pool closed")

// ErrPoolInit indicates a pool came up with zero usable connections.
var ErrPoolInit = errors.New("connection pool failed to open any connections")

// ProtocolError reports an unexpected response code at a point where a
// specific code was required. It keeps the raw line for diagnostics.
type ProtocolError struct {
	Code int
	Line string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected nntp response %d: %q", e.Code, e.Line)
}
