// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package assethash defines the hashes the build pipeline uses to
// detect change: content hashes over raw source bytes, settings
// hashes over canonical import-settings serializations, output
// hashes over finished containers, and input fingerprints combining
// all three. All are 32-byte BLAKE3 digests with keyed domain
// separation so the same bytes hashed in different roles never
// collide.
package assethash

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

// IsZero reports whether h is the zero digest. The zero value is
// used as "no hash recorded" in store records, never as a real
// digest.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String returns the hex encoding of the digest.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalText implements encoding.TextMarshaler so digests
// serialize as hex strings in CBOR and JSON records.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Parse parses a 64-character hex digest.
func Parse(hexString string) (Hash, error) {
	var h Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return h, fmt.Errorf("parsing hash digest: %w", err)
	}
	if len(decoded) != 32 {
		return h, fmt.Errorf("hash digest is %d bytes, want 32", len(decoded))
	}
	copy(h[:], decoded)
	return h, nil
}

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation keys are fixed protocol constants — changing one
// invalidates every stored hash in that domain and forces a full
// rebuild. The byte values are the ASCII domain name, zero-padded,
// so the keys stay readable in hex dumps.
type domainKey [32]byte

var (
	contentDomainKey = domainKey{
		'b', 'f', 'p', 'i', 'p', 'e', '.', 'c', 'o', 'n', 't', 'e', 'n', 't',
	}
	settingsDomainKey = domainKey{
		'b', 'f', 'p', 'i', 'p', 'e', '.', 's', 'e', 't', 't', 'i', 'n', 'g', 's',
	}
	outputDomainKey = domainKey{
		'b', 'f', 'p', 'i', 'p', 'e', '.', 'o', 'u', 't', 'p', 'u', 't',
	}
	fingerprintDomainKey = domainKey{
		'b', 'f', 'p', 'i', 'p', 'e', '.', 'f', 'i', 'n', 'g', 'e', 'r', 'p', 'r', 'i', 'n', 't',
	}
)

func keyedHasher(key domainKey) *blake3.Hasher {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		// NewKeyed fails only on a key that is not 32 bytes, which
		// the domainKey type rules out.
		panic("assethash: keyed hasher initialization failed: " + err.Error())
	}
	return hasher
}

func keyedHash(key domainKey, data []byte) Hash {
	hasher := keyedHasher(key)
	hasher.Write(data)

	var digest Hash
	hasher.Digest().Read(digest[:])
	return digest
}

// Content computes the content-domain hash of raw source bytes.
func Content(data []byte) Hash {
	return keyedHash(contentDomainKey, data)
}

// ContentFile computes the content-domain hash of the file at path,
// streamed in chunks so memory stays constant for large sources.
func ContentFile(path string) (Hash, error) {
	file, err := os.Open(path)
	if err != nil {
		return Hash{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher := keyedHasher(contentDomainKey)
	if _, err := io.Copy(hasher, file); err != nil {
		return Hash{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	var digest Hash
	hasher.Digest().Read(digest[:])
	return digest, nil
}

// Settings computes the settings-domain hash of a canonical
// import-settings serialization. Callers must pass deterministic
// bytes (lib/codec's deterministic CBOR); hashing a non-canonical
// encoding would make field order look like an edit.
func Settings(canonical []byte) Hash {
	return keyedHash(settingsDomainKey, canonical)
}

// Output computes the output-domain hash of a finished container's
// bytes. This is the value dependents consume in their fingerprints:
// if a rebuild produces byte-identical output, dependents see no
// change.
func Output(container []byte) Hash {
	return keyedHash(outputDomainKey, container)
}

// Fingerprint combines everything a build reads into one digest:
// the source content hash, the settings hash, and the output hashes
// of all dependencies. Dependency hashes are sorted before hashing
// so the fingerprint is independent of dependency enumeration order.
// Two equal fingerprints mean a rebuild is unnecessary.
func Fingerprint(content, settings Hash, dependencyOutputs []Hash) Hash {
	sorted := make([]Hash, len(dependencyOutputs))
	copy(sorted, dependencyOutputs)
	sort.Slice(sorted, func(i, j int) bool {
		for b := range sorted[i] {
			if sorted[i][b] != sorted[j][b] {
				return sorted[i][b] < sorted[j][b]
			}
		}
		return false
	})

	hasher := keyedHasher(fingerprintDomainKey)
	hasher.Write(content[:])
	hasher.Write(settings[:])
	for _, dep := range sorted {
		hasher.Write(dep[:])
	}

	var digest Hash
	hasher.Digest().Read(digest[:])
	return digest
}
