// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package topology

import "errors"

var (
	// ErrUnknownAgent is returned when an operation names an agent that is
	// not part of the topology.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrDuplicateAgent is returned when an agent id is already registered.
	ErrDuplicateAgent = errors.New("agent already registered")

	// ErrNotConnected is returned when two agents have no link between them.
	ErrNotConnected = errors.New("agents not connected")

	// ErrHubRemoval is returned when removing the hub of a star topology.
	ErrHubRemoval = errors.New("cannot remove hub")

	// ErrFeatureDisabled is returned when the feature gate rejects an
	// operation, usually because service is degraded.
	ErrFeatureDisabled = errors.New("feature disabled")
)
