package gitobj

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrMalformedTree reports a tree payload that does not follow the
// "<octal-mode> <name>\x00<20-byte-id>" entry encoding.
var ErrMalformedTree = errors.New("gitobj: malformed tree object")

// EntryKind classifies a tree entry by its mode bits.
type EntryKind uint8

// Tree entry kinds.
const (
	EntryInvalid EntryKind = iota
	EntryTree
	EntryFile
	EntryFileExecutable
	EntrySymlink
	EntryGitlink
)

// Tree entry mode values as stored in tree objects (octal).
const (
	modeTree           = 0o040000
	modeFile           = 0o100644
	modeFileGroupWrite = 0o100664
	modeFileExecutable = 0o100755
	modeSymlink        = 0o120000
	modeGitlink        = 0o160000
)

// TreeEntry is one directory entry of a decoded tree object.
type TreeEntry struct {
	Name string
	ID   Hash
	Mode uint32
}

// Kind classifies the entry by its mode.
func (e TreeEntry) Kind() EntryKind {
	switch e.Mode {
	case modeTree:
		return EntryTree
	case modeFile, modeFileGroupWrite:
		return EntryFile
	case modeFileExecutable:
		return EntryFileExecutable
	case modeSymlink:
		return EntrySymlink
	case modeGitlink:
		return EntryGitlink
	default:
		return EntryInvalid
	}
}

// ParseTree decodes a tree object payload into its ordered entries.
func ParseTree(data []byte) ([]TreeEntry, error) {
	var entries []TreeEntry

	rest := data

	for len(rest) > 0 {
		modeBytes, tail, found := bytes.Cut(rest, []byte{' '})
		if !found {
			return nil, fmt.Errorf("%w: truncated mode", ErrMalformedTree)
		}

		mode, err := parseOctalMode(modeBytes)
		if err != nil {
			return nil, err
		}

		name, tail, found := bytes.Cut(tail, []byte{0})
		if !found || len(name) == 0 {
			return nil, fmt.Errorf("%w: truncated entry name", ErrMalformedTree)
		}

		if len(tail) < HashSize {
			return nil, fmt.Errorf("%w: truncated entry id", ErrMalformedTree)
		}

		var id Hash
		copy(id[:], tail[:HashSize])

		entries = append(entries, TreeEntry{
			Name: string(name),
			ID:   id,
			Mode: mode,
		})

		rest = tail[HashSize:]
	}

	return entries, nil
}

// parseOctalMode parses the ASCII octal mode field of a tree entry.
func parseOctalMode(text []byte) (uint32, error) {
	if len(text) == 0 {
		return 0, fmt.Errorf("%w: empty mode", ErrMalformedTree)
	}

	var mode uint32

	for _, c := range text {
		if c < '0' || c > '7' {
			return 0, fmt.Errorf("%w: mode %q", ErrMalformedTree, text)
		}

		mode = mode<<3 | uint32(c-'0')
	}

	return mode, nil
}
