// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package resolver

import "errors"

var (
	// ErrNoVersions is returned when Resolve is called without candidates.
	ErrNoVersions = errors.New("no versions to resolve")

	// ErrKeyMismatch is returned when candidates name different state keys.
	ErrKeyMismatch = errors.New("versions belong to different keys")

	// ErrUnsupportedValue is returned when a CRDT merge meets a value shape
	// it cannot combine under the requested kind.
	ErrUnsupportedValue = errors.New("unsupported value for crdt merge")
)
