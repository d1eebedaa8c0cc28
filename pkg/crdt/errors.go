// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package crdt

import "errors"

var (
	// ErrInvalidDelta is returned when a counter is incremented or
	// decremented by a non-positive amount.
	ErrInvalidDelta = errors.New("invalid delta: must be positive")

	// ErrKindMismatch is returned when MergeAs receives replicas that are
	// not of the requested kind.
	ErrKindMismatch = errors.New("crdt kind mismatch")

	// ErrUnknownKind is returned when a kind tag cannot be parsed.
	ErrUnknownKind = errors.New("unknown crdt kind")
)
