// Package sha256 derives the hex SHA-256 digests used for article identity and response ETags.
package sha256

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hex returns the lowercase hex digest of data.
func Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HexString returns the lowercase hex digest of s.
func HexString(s string) string {
	return Hex([]byte(s))
}

// CanonicalJSON encodes fields as compact JSON with lexically sorted keys and unescaped HTML
// characters. Nested maps are sorted too, so equal inputs always yield equal bytes.
func CanonicalJSON(fields map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		return nil, fmt.Errorf("encode canonical json: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DigestJSON hashes the canonical JSON encoding of fields.
func DigestJSON(fields map[string]any) (string, error) {
	blob, err := CanonicalJSON(fields)
	if err != nil {
		return "", err
	}
	return Hex(blob), nil
}
