package pack

import (
	"fmt"

	"github.com/DCNick3/unsafe-track/internal/gitobj"
)

// entryType is the on-wire object type tag of a pack entry.
type entryType byte

// Pack entry type tags (pack format v2).
const (
	typeCommit   entryType = 1
	typeTree     entryType = 2
	typeBlob     entryType = 3
	typeTag      entryType = 4
	typeOfsDelta entryType = 6
	typeRefDelta entryType = 7
)

// Header varint encoding constants.
const (
	continuationBit = 0x80
	typeShift       = 4
	typeMask        = 0x07
	firstSizeMask   = 0x0f
	firstSizeBits   = 4
	varintMask      = 0x7f
	varintBits      = 7
)

// Entry is the parsed header of one pack entry.
type Entry struct {
	// Offset is the entry's start within the pack.
	Offset int64
	// DataOffset is where the zlib-compressed payload begins.
	DataOffset int64
	// Size is the inflated payload size declared by the header. For delta
	// entries this is the size of the delta instruction stream, not of the
	// resolved object.
	Size int64
	// BaseOffset is the absolute pack offset of the base object for
	// ofs-delta entries; zero otherwise.
	BaseOffset int64
	// Type is the on-wire type tag.
	Type entryType
}

// isDelta reports whether the entry encodes a diff against another object.
func (e Entry) isDelta() bool {
	return e.Type == typeOfsDelta || e.Type == typeRefDelta
}

// objectKind maps a non-delta entry type to its object kind.
func (t entryType) objectKind() gitobj.Kind {
	switch t {
	case typeCommit:
		return gitobj.KindCommit
	case typeTree:
		return gitobj.KindTree
	case typeBlob:
		return gitobj.KindBlob
	case typeTag:
		return gitobj.KindTag
	default:
		return gitobj.KindInvalid
	}
}

// parseEntryHeader decodes the entry header starting at offset: the
// type-and-size varint, plus the base reference for delta entries.
func parseEntryHeader(data []byte, offset int64) (Entry, error) {
	pos := offset
	if pos >= int64(len(data)) {
		return Entry{}, fmt.Errorf("%w: entry header at %d past end", ErrCorruptPack, offset)
	}

	first := data[pos]
	pos++

	entry := Entry{
		Offset: offset,
		Type:   entryType(first >> typeShift & typeMask),
		Size:   int64(first & firstSizeMask),
	}

	shift := uint(firstSizeBits)

	for b := first; b&continuationBit != 0; {
		if pos >= int64(len(data)) {
			return Entry{}, fmt.Errorf("%w: truncated size varint at %d", ErrCorruptPack, offset)
		}

		b = data[pos]
		pos++
		entry.Size |= int64(b&varintMask) << shift
		shift += varintBits
	}

	switch entry.Type {
	case typeCommit, typeTree, typeBlob, typeTag:
		// Full object, nothing more to read.
	case typeOfsDelta:
		distance, next, err := parseBaseDistance(data, pos)
		if err != nil {
			return Entry{}, err
		}

		pos = next
		entry.BaseOffset = offset - distance

		if entry.BaseOffset < headerSize || entry.BaseOffset >= offset {
			return Entry{}, fmt.Errorf("%w: delta base offset %d out of range", ErrCorruptPack, entry.BaseOffset)
		}
	case typeRefDelta:
		return Entry{}, fmt.Errorf("%w at offset %d", ErrRefDelta, offset)
	default:
		return Entry{}, fmt.Errorf("%w: entry type %d at offset %d", ErrCorruptPack, entry.Type, offset)
	}

	entry.DataOffset = pos

	return entry, nil
}

// parseBaseDistance decodes the ofs-delta negative base distance. The
// encoding adds one before each continuation so distances have a single
// representation.
func parseBaseDistance(data []byte, pos int64) (distance, next int64, err error) {
	if pos >= int64(len(data)) {
		return 0, 0, fmt.Errorf("%w: truncated base distance at %d", ErrCorruptPack, pos)
	}

	b := data[pos]
	pos++
	distance = int64(b & varintMask)

	for b&continuationBit != 0 {
		if pos >= int64(len(data)) {
			return 0, 0, fmt.Errorf("%w: truncated base distance at %d", ErrCorruptPack, pos)
		}

		b = data[pos]
		pos++
		distance = (distance+1)<<varintBits | int64(b&varintMask)
	}

	return distance, pos, nil
}
