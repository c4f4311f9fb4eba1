package gitobj

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Sentinel errors for commit decoding.
var (
	ErrMalformedCommit = errors.New("gitobj: malformed commit object")
)

// Commit holds the fields of a decoded commit object that the history
// planner needs: the root tree reference and the committer timestamp.
// Parent links are intentionally not decoded; commit enumeration works
// off the pack index, not the parent chain.
type Commit struct {
	Tree      Hash
	Committer time.Time
}

// ParseCommit decodes a commit object payload.
func ParseCommit(data []byte) (Commit, error) {
	var (
		commit       Commit
		sawTree      bool
		sawCommitter bool
	)

	rest := data

	for len(rest) > 0 {
		line, tail, found := bytes.Cut(rest, []byte{'\n'})
		if !found {
			line = rest
			tail = nil
		}

		rest = tail

		// Blank line separates headers from the commit message.
		if len(line) == 0 {
			break
		}

		key, value, ok := bytes.Cut(line, []byte{' '})
		if !ok {
			// Continuation lines (e.g. gpgsig) have a leading space and
			// empty key after Cut; skip anything that is not a header.
			continue
		}

		switch string(key) {
		case "tree":
			if len(value) != HashHexSize {
				return Commit{}, fmt.Errorf("%w: tree ref %q", ErrMalformedCommit, value)
			}

			commit.Tree = NewHash(string(value))
			sawTree = true
		case "committer":
			when, err := parseSignatureTime(value)
			if err != nil {
				return Commit{}, err
			}

			commit.Committer = when
			sawCommitter = true
		}
	}

	if !sawTree || !sawCommitter {
		return Commit{}, fmt.Errorf("%w: missing tree or committer header", ErrMalformedCommit)
	}

	return commit, nil
}

// parseSignatureTime extracts the timestamp from a signature line of the
// form "Name <email> <unix-seconds> <tz-offset>".
func parseSignatureTime(value []byte) (time.Time, error) {
	end := bytes.LastIndexByte(value, '>')
	if end < 0 || end+2 > len(value) {
		return time.Time{}, fmt.Errorf("%w: signature %q", ErrMalformedCommit, value)
	}

	fields := bytes.Fields(value[end+1:])
	if len(fields) == 0 {
		return time.Time{}, fmt.Errorf("%w: signature %q has no timestamp", ErrMalformedCommit, value)
	}

	seconds, err := strconv.ParseInt(string(fields[0]), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrMalformedCommit, fields[0])
	}

	return time.Unix(seconds, 0).UTC(), nil
}
