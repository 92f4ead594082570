// Package canonjson produces the canonical JSON encoding used for change
// hashing: object keys sorted lexicographically, compact separators, no
// trailing newline. The SHA-256 of this encoding identifies a row payload
// on the wire, so both sides must agree on it byte for byte.
//
// Go's encoding/json already emits map keys in sorted order with compact
// separators, which is exactly the canonical form; Marshal wraps it so the
// contract is named at the call sites.
package canonjson

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Marshal returns the canonical JSON encoding of v.
func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonjson: encoding: %w", err)
	}

	return data, nil
}

// Hash returns the lowercase hex SHA-256 of the canonical JSON encoding
// of v. This is the data_hash recorded for tracked INSERT/UPDATE changes.
func Hash(v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:]), nil
}
