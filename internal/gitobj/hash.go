// Package gitobj provides the git object model: SHA-1 object ids, object
// kinds, and decoding of commit and tree payloads.
package gitobj

import (
	"crypto/sha1" //nolint:gosec // object ids are SHA-1 by format, not for security
	"strconv"
)

// Constants for hash operations.
const (
	// HashSize is the size of a SHA-1 object id in bytes.
	HashSize = 20
	// HashHexSize is the size of a hex-encoded object id.
	HashHexSize = 40
	// hexBase is the base offset for hexadecimal digits a-f.
	hexBase = 10
	// hexShift is the bit shift for the high nibble.
	hexShift = 4
)

// Hash is a git object id: the SHA-1 content hash identifying any stored
// object (commit, tree, blob, tag). Equality is the sole identity notion.
type Hash [HashSize]byte

// ZeroHash returns the zero value hash.
func ZeroHash() Hash {
	return Hash{}
}

// NewHash creates a Hash from a hex string.
func NewHash(hexStr string) Hash {
	var hash Hash

	for i := 0; i < HashSize && i*2+1 < len(hexStr); i++ {
		c1, c2 := hexStr[i*2], hexStr[i*2+1]
		hash[i] = hexCharToNibble(c1)<<hexShift | hexCharToNibble(c2)
	}

	return hash
}

// hexCharToNibble converts a hex character to its 4-bit value.
func hexCharToNibble(char byte) byte {
	switch {
	case char >= '0' && char <= '9':
		return char - '0'
	case char >= 'a' && char <= 'f':
		return char - 'a' + hexBase
	case char >= 'A' && char <= 'F':
		return char - 'A' + hexBase
	default:
		return 0
	}
}

// String returns the hex representation of the hash.
func (h Hash) String() string {
	const hexChars = "0123456789abcdef"

	buf := make([]byte, HashHexSize)

	for i, byteVal := range h {
		buf[i*2] = hexChars[byteVal>>hexShift]
		buf[i*2+1] = hexChars[byteVal&0x0f]
	}

	return string(buf)
}

// IsZero returns true if the hash is all zeros.
func (h Hash) IsZero() bool {
	for _, b := range h {
		if b != 0 {
			return false
		}
	}

	return true
}

// Compare returns -1, 0, or 1 ordering hashes lexicographically by bytes.
func (h Hash) Compare(other Hash) int {
	for i := range h {
		switch {
		case h[i] < other[i]:
			return -1
		case h[i] > other[i]:
			return 1
		}
	}

	return 0
}

// HashObject computes the object id of a fully-materialized object:
// SHA-1 over the loose-object header "<kind> <len>\x00" followed by the
// content bytes.
func HashObject(kind Kind, data []byte) Hash {
	hasher := sha1.New() //nolint:gosec // object ids are SHA-1 by format

	hasher.Write([]byte(kind.String()))
	hasher.Write([]byte{' '})
	hasher.Write([]byte(strconv.Itoa(len(data))))
	hasher.Write([]byte{0})
	hasher.Write(data)

	var hash Hash
	copy(hash[:], hasher.Sum(nil))

	return hash
}
