package pack

import (
	"bytes"
	"compress/zlib"
	"crypto/sha1" //nolint:gosec // pack trailer is SHA-1 by format
	"encoding/binary"
	"fmt"
	"time"

	"github.com/DCNick3/unsafe-track/internal/gitobj"
)

// TestPackBuilder assembles synthetic version-2 packs for tests: full
// objects, ofs-delta entries, and convenience commit/tree/blob payloads.
// Entries are framed exactly as a server would send them.
type TestPackBuilder struct {
	body    bytes.Buffer
	offsets []int64
	count   uint32
}

// NewTestPackBuilder creates an empty builder.
func NewTestPackBuilder() *TestPackBuilder {
	return &TestPackBuilder{}
}

// AddObject appends a full (non-delta) object and returns its id and
// entry index.
func (b *TestPackBuilder) AddObject(kind gitobj.Kind, data []byte) (gitobj.Hash, int) {
	var typ entryType

	switch kind {
	case gitobj.KindCommit:
		typ = typeCommit
	case gitobj.KindTree:
		typ = typeTree
	case gitobj.KindBlob:
		typ = typeBlob
	case gitobj.KindTag:
		typ = typeTag
	default:
		panic(fmt.Sprintf("pack: cannot encode kind %v", kind))
	}

	index := b.appendEntry(typ, data, 0)

	return gitobj.HashObject(kind, data), index
}

// AddDelta appends an ofs-delta entry against the entry at baseIndex and
// returns the new entry's index. The delta stream is used verbatim.
func (b *TestPackBuilder) AddDelta(baseIndex int, delta []byte) int {
	return b.appendEntry(typeOfsDelta, delta, b.offsets[baseIndex])
}

// AddBlob appends a blob object.
func (b *TestPackBuilder) AddBlob(data []byte) gitobj.Hash {
	id, _ := b.AddObject(gitobj.KindBlob, data)

	return id
}

// AddTree appends a tree object with the given entries, which must be in
// git's name order.
func (b *TestPackBuilder) AddTree(entries ...gitobj.TreeEntry) gitobj.Hash {
	var payload bytes.Buffer

	for _, entry := range entries {
		fmt.Fprintf(&payload, "%o %s\x00", entry.Mode, entry.Name)
		payload.Write(entry.ID[:])
	}

	id, _ := b.AddObject(gitobj.KindTree, payload.Bytes())

	return id
}

// AddCommit appends a commit object referencing tree with the given
// committer timestamp.
func (b *TestPackBuilder) AddCommit(tree gitobj.Hash, committer time.Time) gitobj.Hash {
	payload := fmt.Sprintf(
		"tree %s\nauthor T <t@example.com> %d +0000\ncommitter T <t@example.com> %d +0000\n\ntest\n",
		tree, committer.Unix(), committer.Unix(),
	)

	id, _ := b.AddObject(gitobj.KindCommit, []byte(payload))

	return id
}

// Bytes returns the complete pack: header, entries, SHA-1 trailer.
func (b *TestPackBuilder) Bytes() []byte {
	var pack bytes.Buffer

	pack.Write(packMagic)

	var word [4]byte

	binary.BigEndian.PutUint32(word[:], supportedVersion)
	pack.Write(word[:])
	binary.BigEndian.PutUint32(word[:], b.count)
	pack.Write(word[:])
	pack.Write(b.body.Bytes())

	sum := sha1.Sum(pack.Bytes()) //nolint:gosec // pack trailer is SHA-1 by format
	pack.Write(sum[:])

	return pack.Bytes()
}

// appendEntry frames one entry: type/size varint header, optional base
// distance, zlib payload.
func (b *TestPackBuilder) appendEntry(typ entryType, payload []byte, baseOffset int64) int {
	offset := int64(headerSize) + int64(b.body.Len())

	b.body.Write(encodeEntryHeader(typ, int64(len(payload))))

	if typ == typeOfsDelta {
		b.body.Write(encodeBaseDistance(offset - baseOffset))
	}

	zw := zlib.NewWriter(&b.body)

	_, err := zw.Write(payload)
	if err == nil {
		err = zw.Close()
	}

	if err != nil {
		panic(fmt.Sprintf("pack: compress test entry: %v", err))
	}

	b.offsets = append(b.offsets, offset)
	b.count++

	return len(b.offsets) - 1
}

// encodeEntryHeader encodes the type-and-size varint.
func encodeEntryHeader(typ entryType, size int64) []byte {
	first := byte(typ)<<typeShift | byte(size&firstSizeMask)
	size >>= firstSizeBits

	out := []byte{first}

	for size > 0 {
		out[len(out)-1] |= continuationBit
		out = append(out, byte(size&varintMask))
		size >>= varintBits
	}

	return out
}

// encodeBaseDistance encodes the ofs-delta negative base distance.
func encodeBaseDistance(distance int64) []byte {
	out := []byte{byte(distance & varintMask)}

	for distance >>= varintBits; distance > 0; distance >>= varintBits {
		distance--
		out = append([]byte{byte(distance&varintMask) | continuationBit}, out...)
	}

	return out
}

// TestDeltaBuilder assembles delta instruction streams for tests.
type TestDeltaBuilder struct {
	ops      bytes.Buffer
	baseSize int64
	target   int64
}

// NewTestDeltaBuilder creates a builder for a delta against a base of
// baseSize bytes.
func NewTestDeltaBuilder(baseSize int64) *TestDeltaBuilder {
	return &TestDeltaBuilder{baseSize: baseSize}
}

// Insert appends an insert instruction carrying data (at most 127 bytes
// per instruction).
func (d *TestDeltaBuilder) Insert(data []byte) *TestDeltaBuilder {
	for len(data) > 0 {
		n := min(len(data), 127)
		d.ops.WriteByte(byte(n))
		d.ops.Write(data[:n])
		d.target += int64(n)
		data = data[n:]
	}

	return d
}

// Copy appends a copy-from-base instruction.
func (d *TestDeltaBuilder) Copy(offset, size int64) *TestDeltaBuilder {
	cmd := byte(copyInstruction)

	var args []byte

	for i := range copyOffsetBytes {
		if b := byte(offset >> (8 * i)); b != 0 {
			cmd |= 1 << i

			args = append(args, b)
		}
	}

	for i := range copySizeBytes {
		if b := byte(size >> (8 * i)); b != 0 {
			cmd |= 1 << (copyOffsetBytes + i)

			args = append(args, b)
		}
	}

	d.ops.WriteByte(cmd)
	d.ops.Write(args)
	d.target += size

	return d
}

// Bytes returns the framed delta stream: base size, target size, ops.
func (d *TestDeltaBuilder) Bytes() []byte {
	var out []byte

	out = appendDeltaSize(out, d.baseSize)
	out = appendDeltaSize(out, d.target)

	return append(out, d.ops.Bytes()...)
}

// appendDeltaSize encodes one little-endian LEB128 size field.
func appendDeltaSize(buf []byte, n int64) []byte {
	for {
		b := byte(n & varintMask)
		n >>= varintBits

		if n == 0 {
			return append(buf, b)
		}

		buf = append(buf, b|continuationBit)
	}
}
