// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package asset defines the pipeline's data model: stable asset
// identity, source and build records, the per-asset build state
// machine, and typed import settings.
package asset

import (
	"fmt"

	"github.com/google/uuid"
)

// pathNamespace is the UUIDv5 namespace for deriving asset identity
// from library paths. A protocol constant: changing it re-identifies
// every asset ever imported.
var pathNamespace = uuid.MustParse("0d1c2b3a-4958-4b5f-8e6d-7c8b9a0f1e2d")

// ID is the stable unique identifier of a logical asset. It is
// independent of the source file path at steady state — once an
// asset is tracked, renames update the record's path, not its
// identity.
type ID uuid.UUID

// NilID is the zero asset identifier.
var NilID ID

// NewID returns a fresh random identifier, used for assets created
// by an operation rather than discovered on disk.
func NewID() ID {
	return ID(uuid.New())
}

// DeriveID returns the deterministic identifier for a source file
// first discovered at the given library-relative path. Derivation is
// UUIDv5 in a fixed namespace, so rescans of an unchanged library
// agree on identity without consulting the store.
func DeriveID(libraryPath string) ID {
	return ID(uuid.NewSHA1(pathNamespace, []byte(libraryPath)))
}

// ParseID parses the canonical UUID string form.
func ParseID(s string) (ID, error) {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return NilID, fmt.Errorf("parsing asset id %q: %w", s, err)
	}
	return ID(parsed), nil
}

// String returns the canonical UUID string form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the nil identifier.
func (id ID) IsZero() bool {
	return id == NilID
}

// MarshalText implements encoding.TextMarshaler so identifiers
// serialize as strings in CBOR and JSON.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
