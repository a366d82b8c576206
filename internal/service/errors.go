package service

import "errors"

var (
	// ErrNotConnected: an operation was requested for an identity with no
	// live session. Returned synchronously, never retried.
	ErrNotConnected = errors.New("no active session for this identity")

	// ErrNotReady: the session exists but the transport is not fully
	// authenticated yet (pairing still in progress).
	ErrNotReady = errors.New("session is not ready yet, connection not fully established")

	// ErrAmbiguousTarget: a target address carries both a group suffix and
	// an individual-chat suffix. Rejected before any transport call.
	ErrAmbiguousTarget = errors.New("target address is tagged as both group and individual chat")

	// ErrConnectionClosed: a transport operation failed because the
	// underlying channel is closed. Clearer rewrite of the wire error.
	ErrConnectionClosed = errors.New("connection is closed, message was not delivered")
)
