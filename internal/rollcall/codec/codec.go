// Package codec converts raw badge identifiers into their canonical string key.
package codec

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedHex = errors.New("identifier is not hexadecimal")

// Canonicalize renders each byte as two uppercase hex digits, in scan order.
// An empty input yields "", which callers treat as an invalid scan.
func Canonicalize(raw []byte) string {
	return strings.ToUpper(hex.EncodeToString(raw))
}

// ParseHex decodes a reader line such as "04 a1 b2 c3" or "04:A1:B2:C3".
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(" ", "", ":", "", "-", "", "\t", "").Replace(s)
	if s == "" {
		return nil, nil
	}
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("ParseHex %q: odd length: %w", s, ErrMalformedHex)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("ParseHex %q: %w", s, ErrMalformedHex)
	}
	return b, nil
}

// Normalize maps an operator-entered identifier onto the canonical form a
// scan of the same badge would produce.
func Normalize(s string) (string, error) {
	b, err := ParseHex(s)
	if err != nil {
		return "", err
	}
	return Canonicalize(b), nil
}
