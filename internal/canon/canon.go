// Package canon produces canonical JSON encodings and the digests derived
// from them. Cache keys, provenance data versions, and algorithm parameter
// digests all hash canonical JSON, so the encoding must be stable across
// processes: object keys sorted, no insignificant whitespace.
package canon

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// JSON returns the canonical JSON encoding of v. The value is first
// marshaled, then decoded into generic form and re-marshaled; encoding/json
// sorts map keys, which makes the second pass canonical regardless of struct
// field order or input map iteration order.
func JSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return out, nil
}

// SHA1Hex returns the hex SHA-1 of the canonical JSON of v. SHA-1 is used
// only for cache-key compaction, never for integrity.
func SHA1Hex(v any) (string, error) {
	b, err := JSON(v)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:]), nil
}

// SHA256Hex returns the hex SHA-256 of the canonical JSON of v. Used for
// provenance data versions.
func SHA256Hex(v any) (string, error) {
	b, err := JSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// SHA256HexBytes returns the hex SHA-256 of raw bytes (file hashes).
func SHA256HexBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
