// Package gitwire implements the client side of the git smart HTTP
// protocol: pkt-line framing, ref advertisement parsing, and a single
// round-trip want/done fetch that streams a size-capped pack response.
package gitwire

import (
	"errors"
	"fmt"
	"io"
)

// pkt-line framing constants.
const (
	// pktLenSize is the size of the hex length prefix of each pkt-line.
	pktLenSize = 4

	// MaxPktPayload is the maximum payload of a single pkt-line
	// (65520 total frame bytes minus the length prefix).
	MaxPktPayload = 65516
)

// ErrPktTooLong reports a pkt-line whose declared length exceeds the
// protocol maximum.
var ErrPktTooLong = errors.New("gitwire: pkt-line exceeds maximum length")

// ErrMalformedPkt reports a pkt-line with a non-hex or undersized length
// prefix.
var ErrMalformedPkt = errors.New("gitwire: malformed pkt-line")

// writePkt writes one data pkt-line frame.
func writePkt(w io.Writer, payload []byte) error {
	if len(payload) > MaxPktPayload {
		return ErrPktTooLong
	}

	frame := make([]byte, 0, pktLenSize+len(payload))
	frame = appendHexLen(frame, pktLenSize+len(payload))
	frame = append(frame, payload...)

	_, err := w.Write(frame)
	if err != nil {
		return fmt.Errorf("write pkt-line: %w", err)
	}

	return nil
}

// writePktString writes one data pkt-line frame with a string payload.
func writePktString(w io.Writer, payload string) error {
	return writePkt(w, []byte(payload))
}

// writeFlush writes a flush-pkt ("0000").
func writeFlush(w io.Writer) error {
	_, err := w.Write([]byte("0000"))
	if err != nil {
		return fmt.Errorf("write flush-pkt: %w", err)
	}

	return nil
}

// appendHexLen appends the 4-digit lowercase hex length prefix.
func appendHexLen(dst []byte, length int) []byte {
	const hexChars = "0123456789abcdef"

	return append(dst,
		hexChars[length>>12&0xf],
		hexChars[length>>8&0xf],
		hexChars[length>>4&0xf],
		hexChars[length&0xf],
	)
}

// readPkt reads one pkt-line. A flush-pkt yields (nil, true, nil); a data
// pkt yields its payload, which may be empty.
func readPkt(r io.Reader) (payload []byte, flush bool, err error) {
	var prefix [pktLenSize]byte

	_, err = io.ReadFull(r, prefix[:])
	if err != nil {
		return nil, false, fmt.Errorf("read pkt-line length: %w", err)
	}

	length, err := parseHexLen(prefix[:])
	if err != nil {
		return nil, false, err
	}

	if length == 0 {
		return nil, true, nil
	}

	if length < pktLenSize {
		return nil, false, fmt.Errorf("%w: length %d", ErrMalformedPkt, length)
	}

	if length-pktLenSize > MaxPktPayload {
		return nil, false, ErrPktTooLong
	}

	payload = make([]byte, length-pktLenSize)

	_, err = io.ReadFull(r, payload)
	if err != nil {
		return nil, false, fmt.Errorf("read pkt-line payload: %w", err)
	}

	return payload, false, nil
}

// parseHexLen parses the 4-digit hex length prefix.
func parseHexLen(prefix []byte) (int, error) {
	length := 0

	for _, c := range prefix {
		var nibble int

		switch {
		case c >= '0' && c <= '9':
			nibble = int(c - '0')
		case c >= 'a' && c <= 'f':
			nibble = int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			nibble = int(c-'A') + 10
		default:
			return 0, fmt.Errorf("%w: prefix %q", ErrMalformedPkt, prefix)
		}

		length = length<<4 | nibble
	}

	return length, nil
}
