package pack

import (
	"fmt"
)

// Delta instruction encoding constants.
const (
	// copyInstruction marks a copy-from-base instruction.
	copyInstruction = 0x80

	// copyOffsetBytes is how many optional little-endian offset bytes a
	// copy instruction can carry.
	copyOffsetBytes = 4

	// copySizeBytes is how many optional little-endian size bytes a copy
	// instruction can carry.
	copySizeBytes = 3

	// copyZeroSize is the implied size when a copy instruction encodes
	// size zero.
	copyZeroSize = 0x10000
)

// applyDelta resolves a delta instruction stream against its fully
// materialized base, returning the reconstructed object bytes.
func applyDelta(base, delta []byte) ([]byte, error) {
	srcSize, pos, err := parseDeltaSize(delta, 0)
	if err != nil {
		return nil, err
	}

	if srcSize != int64(len(base)) {
		return nil, fmt.Errorf("%w: delta base size %d, have %d", ErrCorruptPack, srcSize, len(base))
	}

	targetSize, pos, err := parseDeltaSize(delta, pos)
	if err != nil {
		return nil, err
	}

	result := make([]byte, 0, targetSize)

	for pos < int64(len(delta)) {
		cmd := delta[pos]
		pos++

		switch {
		case cmd&copyInstruction != 0:
			var offset, size int64

			offset, size, pos, err = parseCopyArgs(delta, pos, cmd)
			if err != nil {
				return nil, err
			}

			if offset+size > int64(len(base)) {
				return nil, fmt.Errorf("%w: copy [%d,%d) past base end %d", ErrCorruptPack, offset, offset+size, len(base))
			}

			result = append(result, base[offset:offset+size]...)
		case cmd != 0:
			// Insert: cmd literal bytes follow.
			if pos+int64(cmd) > int64(len(delta)) {
				return nil, fmt.Errorf("%w: truncated insert of %d bytes", ErrCorruptPack, cmd)
			}

			result = append(result, delta[pos:pos+int64(cmd)]...)
			pos += int64(cmd)
		default:
			// Instruction byte zero is reserved.
			return nil, fmt.Errorf("%w: reserved delta instruction 0", ErrCorruptPack)
		}
	}

	if int64(len(result)) != targetSize {
		return nil, fmt.Errorf("%w: delta produced %d bytes, expected %d", ErrCorruptPack, len(result), targetSize)
	}

	return result, nil
}

// parseDeltaSize decodes one little-endian LEB128 size field.
func parseDeltaSize(delta []byte, pos int64) (size, next int64, err error) {
	shift := uint(0)

	for {
		if pos >= int64(len(delta)) {
			return 0, 0, fmt.Errorf("%w: truncated delta size", ErrCorruptPack)
		}

		b := delta[pos]
		pos++
		size |= int64(b&varintMask) << shift
		shift += varintBits

		if b&continuationBit == 0 {
			return size, pos, nil
		}
	}
}

// parseCopyArgs decodes the sparse offset and size operands of a copy
// instruction: each of the low seven cmd bits selects whether the next
// byte contributes to the offset (bits 0-3) or the size (bits 4-6).
func parseCopyArgs(delta []byte, pos int64, cmd byte) (offset, size, next int64, err error) {
	for i := range copyOffsetBytes {
		if cmd&(1<<i) == 0 {
			continue
		}

		if pos >= int64(len(delta)) {
			return 0, 0, 0, fmt.Errorf("%w: truncated copy offset", ErrCorruptPack)
		}

		offset |= int64(delta[pos]) << (8 * i)
		pos++
	}

	for i := range copySizeBytes {
		if cmd&(1<<(copyOffsetBytes+i)) == 0 {
			continue
		}

		if pos >= int64(len(delta)) {
			return 0, 0, 0, fmt.Errorf("%w: truncated copy size", ErrCorruptPack)
		}

		size |= int64(delta[pos]) << (8 * i)
		pos++
	}

	if size == 0 {
		size = copyZeroSize
	}

	return offset, size, pos, nil
}
