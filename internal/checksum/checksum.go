// Package checksum provides canonical, order-independent content hashing.
package checksum

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Service computes deterministic digests over JSON payloads. The same
// logical content always yields the same digest regardless of object key
// order; digest equality is treated as content equality for conflict
// detection.
type Service struct{}

// NewService creates a checksum service.
func NewService() *Service {
	return &Service{}
}

// Hash returns the hex digest of the canonicalized payload.
func (s *Service) Hash(raw json.RawMessage) (string, error) {
	canonical, err := Canonicalize(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	sum := blake2b.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// HashTuples returns the hex digest over an ordered list of identity
// strings. Used for checkpoint and aggregate integrity digests, where the
// order of entries is part of the content.
func (s *Service) HashTuples(tuples []string) string {
	h, _ := blake2b.New256(nil)
	for _, t := range tuples {
		h.Write([]byte(t))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Canonicalize re-serializes a JSON payload into its canonical form: object
// keys sorted, no insignificant whitespace, numbers preserved verbatim.
func Canonicalize(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return []byte("null"), nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}

	// encoding/json marshals map keys in sorted order, which gives the
	// canonical form. UseNumber keeps numbers byte-stable through the
	// round trip.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, fmt.Errorf("serialize canonical form: %w", err)
	}

	return []byte(strings.TrimSuffix(buf.String(), "\n")), nil
}
