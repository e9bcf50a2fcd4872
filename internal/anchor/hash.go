package anchor

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// HashSize is the byte length of every digest in the system.
const HashSize = 32

// Hash256 is a fixed-length SHA3-256 digest. Using a byte array rather
// than a hex string keeps comparisons free of case and format ambiguity.
type Hash256 [HashSize]byte

// ZeroHash is the chain seed: the well-known value the first record links
// against before anything has been anchored.
var ZeroHash Hash256

// HashBytes returns the SHA3-256 digest of data.
func HashBytes(data []byte) Hash256 {
	return sha3.Sum256(data)
}

// String returns the digest as 64 lowercase hex characters.
func (h Hash256) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the all-zero seed value.
func (h Hash256) IsZero() bool {
	return h == ZeroHash
}

// ParseHash256 decodes a 64-character hex string into a Hash256.
func ParseHash256(s string) (Hash256, error) {
	var h Hash256
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parse hash: %w", err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("parse hash: expected %d bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// MarshalJSON encodes the digest as a hex string.
func (h Hash256) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes a hex string into the digest.
func (h *Hash256) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseHash256(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
