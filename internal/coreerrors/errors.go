// Package coreerrors defines the sentinel error kinds shared by every core
// component (C1-C6). Adapter code (cmd/proxyd) maps these to transport-level
// status codes; the core never does that mapping itself.
package coreerrors

import "errors"

var (
	// ErrNotFound means the inbox id is unknown to the credential resolver (C1).
	ErrNotFound = errors.New("mailproxy: inbox id not found")

	// ErrCredentialExpired means the resolved credentials' OAuth token is already
	// past its expiry (C1). The caller should not attempt to use them.
	ErrCredentialExpired = errors.New("mailproxy: credential token expired")

	// ErrUpstreamAuthFailed means LOGIN/AUTH was rejected by the upstream
	// server (C3/C4). Not retryable within the same request.
	ErrUpstreamAuthFailed = errors.New("mailproxy: upstream authentication failed")

	// ErrUpstreamUnavailable means two consecutive rebuild attempts failed, or
	// a deadline was exceeded while establishing a connection (C3/C4).
	// Request-level retryable; the pool has already closed the bad handle.
	ErrUpstreamUnavailable = errors.New("mailproxy: upstream unavailable")

	// ErrUpstreamProtocolError means a tagged NO/BAD response was returned for
	// an otherwise well-formed command (C3/C4). The handle has been closed.
	ErrUpstreamProtocolError = errors.New("mailproxy: upstream protocol error")

	// ErrStoreUnavailable means the session store (C2) could not be reached.
	// Never fails a request on its own; logged and the caller degrades to
	// memory-only operation.
	ErrStoreUnavailable = errors.New("mailproxy: session store unavailable")

	// ErrDeadlineExceeded means the caller-supplied deadline was exceeded
	// while waiting on an external operation. The affected handle is closed.
	ErrDeadlineExceeded = errors.New("mailproxy: deadline exceeded")

	// ErrMissing means a session-store lookup found no record for the key.
	ErrMissing = errors.New("mailproxy: session record missing")

	// ErrAlreadyExists means put_new raced against an existing record.
	ErrAlreadyExists = errors.New("mailproxy: session record already exists")
)

// TransformDegraded is not an error returned to a caller (§7: "C6 never
// propagates errors"); it is recorded as a string in TransformedMessage.Errors
// instead. Kept here as a named constant so every producer uses the same text.
const TransformDegraded = "transform_degraded"
