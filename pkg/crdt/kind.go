// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package crdt

import (
	"fmt"
	"strings"
)

// Kind identifies a replicated data type.
type Kind int

const (
	KindUnknown Kind = iota
	KindGCounter
	KindPNCounter
	KindLWWRegister
	KindORSet
	// KindMap is a key-wise last-write-wins map. It has no replica type of
	// its own; the resolver merges plain maps under this tag.
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindGCounter:
		return "g_counter"
	case KindPNCounter:
		return "pn_counter"
	case KindLWWRegister:
		return "lww_register"
	case KindORSet:
		return "or_set"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// IsCounter reports whether values of this kind merge by summation.
func (k Kind) IsCounter() bool {
	return k == KindGCounter || k == KindPNCounter
}

// ParseKind maps a wire tag to a Kind. The short tags "counter", "set" and
// "register" are accepted alongside the canonical names.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "counter", "g_counter", "gcounter":
		return KindGCounter, nil
	case "pn_counter", "pncounter":
		return KindPNCounter, nil
	case "register", "lww_register", "lww":
		return KindLWWRegister, nil
	case "set", "or_set", "orset":
		return KindORSet, nil
	case "map":
		return KindMap, nil
	}
	return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. "unknown" and the
// empty string decode to KindUnknown.
func (k *Kind) UnmarshalText(b []byte) error {
	if s := strings.TrimSpace(string(b)); s == "" || s == KindUnknown.String() {
		*k = KindUnknown
		return nil
	}
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Replica is implemented by the four replica types of this package only.
type Replica interface {
	Kind() Kind
	sealed()
}

func (*GCounter) sealed()    {}
func (*PNCounter) sealed()   {}
func (*LWWRegister) sealed() {}
func (*ORSet) sealed()       {}

// MergeAs merges two replicas of the given kind and returns a new replica.
// Neither input is modified.
func MergeAs(kind Kind, a, b Replica) (Replica, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("%w: nil replica", ErrKindMismatch)
	}
	if a.Kind() != kind || b.Kind() != kind {
		return nil, fmt.Errorf("%w: want %s, got %s and %s", ErrKindMismatch, kind, a.Kind(), b.Kind())
	}

	switch kind {
	case KindGCounter:
		return a.(*GCounter).Merge(b.(*GCounter)), nil
	case KindPNCounter:
		return a.(*PNCounter).Merge(b.(*PNCounter)), nil
	case KindLWWRegister:
		return a.(*LWWRegister).Merge(b.(*LWWRegister)), nil
	case KindORSet:
		return a.(*ORSet).Merge(b.(*ORSet)), nil
	}
	return nil, fmt.Errorf("%w: %s has no replica type", ErrUnknownKind, kind)
}
