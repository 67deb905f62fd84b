// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import "fmt"

// State is an asset's position in the build state machine:
//
//	Unknown → Fresh → Stale → Building → Fresh | Error
//
// Unknown is "never seen". Stale is entered on a content, settings
// or dependency-output change. Building is claimed exclusively by
// the scheduler. Error is terminal until a new triggering event
// (another edit or an explicit retry) re-evaluates staleness — the
// pipeline never auto-retries a hard failure, which would loop
// forever on a permanently broken asset.
type State uint8

const (
	StateUnknown State = iota
	StateFresh
	StateStale
	StateBuilding
	StateError
)

// String returns the lowercase state name used in the store's status
// column and in log output.
func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	case StateBuilding:
		return "building"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(s))
	}
}

// ParseState parses a state from its string name.
func ParseState(name string) (State, error) {
	for s := StateUnknown; s <= StateError; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown build state: %q", name)
}
