// Package pack turns a raw git pack stream into a queryable object store:
// an index from object id to pack offset plus delta-chain-aware decoding
// of fully-materialized object bytes.
package pack

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/DCNick3/unsafe-track/internal/gitobj"
)

// Pack framing constants (pack format v2).
const (
	// headerSize is the fixed pack header: magic, version, object count.
	headerSize = 12
	// trailerSize is the SHA-1 checksum trailing the pack.
	trailerSize = 20
	// supportedVersion is the only pack version this store accepts.
	supportedVersion = 2
)

// packMagic is the pack header magic.
var packMagic = []byte("PACK")

// Sentinel errors. All of them are fatal to the run; there is no partial
// or best-effort indexing.
var (
	// ErrCorruptPack reports corrupt or truncated pack data.
	ErrCorruptPack = errors.New("pack: corrupt or truncated pack")

	// ErrRefDelta reports a ref-delta entry. The fetch negotiates
	// ofs-delta, so every delta base must be addressable by offset; a
	// ref-delta base is unresolvable here.
	ErrRefDelta = errors.New("pack: unresolvable ref-delta base reference")

	// ErrObjectNotFound reports a lookup for an id the index does not hold.
	ErrObjectNotFound = errors.New("pack: object not found in index")
)

// Bundle is a read-only object store over one pack: the raw pack bytes,
// the per-offset entry table, and the id index built by Index. A Bundle is
// owned by a single pipeline run; lookups through Find are safe for
// concurrent use as long as each caller brings its own scratch buffer and
// cache handle.
type Bundle struct {
	data    []byte
	entries map[int64]Entry
	offsets []int64
	index   map[gitobj.Hash]int64
}

// NewBundle reads the whole pack stream, validates its framing, scans
// every entry, and indexes object ids after resolving delta chains.
// Any corruption fails the whole build.
func NewBundle(r io.Reader) (*Bundle, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pack stream: %w", err)
	}

	bundle := &Bundle{
		data:    data,
		entries: make(map[int64]Entry),
		index:   make(map[gitobj.Hash]int64),
	}

	count, err := bundle.validateHeader()
	if err != nil {
		return nil, err
	}

	err = bundle.scan(count)
	if err != nil {
		return nil, err
	}

	err = bundle.buildIndex()
	if err != nil {
		return nil, err
	}

	return bundle, nil
}

// validateHeader checks magic and version and returns the object count.
func (b *Bundle) validateHeader() (uint32, error) {
	if len(b.data) < headerSize+trailerSize {
		return 0, fmt.Errorf("%w: %d bytes is too short", ErrCorruptPack, len(b.data))
	}

	if !bytes.Equal(b.data[:4], packMagic) {
		return 0, fmt.Errorf("%w: bad magic %q", ErrCorruptPack, b.data[:4])
	}

	version := binary.BigEndian.Uint32(b.data[4:8])
	if version != supportedVersion {
		return 0, fmt.Errorf("%w: unsupported pack version %d", ErrCorruptPack, version)
	}

	return binary.BigEndian.Uint32(b.data[8:12]), nil
}

// scan walks all entries sequentially, recording their parsed headers and
// locating each compressed payload's end to find the next entry.
func (b *Bundle) scan(count uint32) error {
	pos := int64(headerSize)
	payloadEnd := int64(len(b.data)) - trailerSize

	for i := uint32(0); i < count; i++ {
		entry, err := parseEntryHeader(b.data, pos)
		if err != nil {
			return err
		}

		if entry.DataOffset > payloadEnd {
			return fmt.Errorf("%w: entry %d data past payload end", ErrCorruptPack, i)
		}

		consumed, err := measureCompressed(b.data[entry.DataOffset:payloadEnd], entry.Size)
		if err != nil {
			return fmt.Errorf("entry %d at offset %d: %w", i, entry.Offset, err)
		}

		b.entries[entry.Offset] = entry
		b.offsets = append(b.offsets, entry.Offset)
		pos = entry.DataOffset + consumed
	}

	if pos != payloadEnd {
		return fmt.Errorf("%w: %d trailing bytes before checksum", ErrCorruptPack, payloadEnd-pos)
	}

	return nil
}

// measureCompressed inflates one zlib stream to determine how many input
// bytes it occupies, verifying the declared inflated size.
func measureCompressed(data []byte, declaredSize int64) (int64, error) {
	br := bytes.NewReader(data)

	zr, err := zlib.NewReader(br)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorruptPack, err)
	}

	inflated, err := io.Copy(io.Discard, zr)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorruptPack, err)
	}

	err = zr.Close()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorruptPack, err)
	}

	if inflated != declaredSize {
		return 0, fmt.Errorf("%w: inflated %d bytes, header declared %d", ErrCorruptPack, inflated, declaredSize)
	}

	return int64(len(data)) - int64(br.Len()), nil
}

// buildIndex resolves every entry to its full object bytes and records its
// content hash. Entries are processed in pack order so delta bases are
// usually warm in the cache by the time their dependents resolve.
func (b *Bundle) buildIndex() error {
	cache := NewDeltaBaseCache(DefaultBaseCacheBytes)

	var scratch []byte

	for _, offset := range b.offsets {
		kind, data, err := b.materialize(offset, &scratch, cache)
		if err != nil {
			return err
		}

		b.index[gitobj.HashObject(kind, data)] = offset
	}

	return nil
}

// Count returns the number of indexed objects.
func (b *Bundle) Count() int {
	return len(b.index)
}

// IDs returns all indexed object ids in deterministic (byte-sorted) order.
func (b *Bundle) IDs() []gitobj.Hash {
	ids := make([]gitobj.Hash, 0, len(b.index))
	for id := range b.index {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i].Compare(ids[j]) < 0 })

	return ids
}

// Contains reports whether the index holds id.
func (b *Bundle) Contains(id gitobj.Hash) bool {
	_, ok := b.index[id]

	return ok
}

// Kind resolves the object kind of id. For delta entries the kind is found
// by following the chain of base references until a non-delta entry; the
// chain has no fixed depth limit and is bounded only by pack size (base
// offsets strictly decrease, so the walk always terminates).
func (b *Bundle) Kind(id gitobj.Hash) (gitobj.Kind, error) {
	offset, ok := b.index[id]
	if !ok {
		return gitobj.KindInvalid, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}

	return b.kindAt(offset)
}

func (b *Bundle) kindAt(offset int64) (gitobj.Kind, error) {
	for {
		entry, ok := b.entries[offset]
		if !ok {
			return gitobj.KindInvalid, fmt.Errorf("%w: no entry at offset %d", ErrCorruptPack, offset)
		}

		if !entry.isDelta() {
			return entry.Type.objectKind(), nil
		}

		offset = entry.BaseOffset
	}
}

// Find materializes the object identified by id: its kind and fully
// resolved bytes after delta application. The scratch buffer is reused for
// transient inflation; cache amortizes repeated base resolution. The
// returned bytes may be shared with the cache and must not be modified.
func (b *Bundle) Find(id gitobj.Hash, scratch *[]byte, cache BaseCache) (gitobj.Kind, []byte, error) {
	offset, ok := b.index[id]
	if !ok {
		return gitobj.KindInvalid, nil, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}

	return b.materialize(offset, scratch, cache)
}

// materialize resolves the entry at offset to its full object bytes. Delta
// chains are walked down with an explicit stack until a cached base or a
// full object, then applied back up; depth is data-dependent and never
// assumed small.
func (b *Bundle) materialize(offset int64, scratch *[]byte, cache BaseCache) (gitobj.Kind, []byte, error) {
	var chain []Entry

	kind, base, err := b.resolveChainBase(offset, &chain, cache)
	if err != nil {
		return gitobj.KindInvalid, nil, err
	}

	// Apply deltas innermost-first back up to the requested entry.
	for i := len(chain) - 1; i >= 0; i-- {
		entry := chain[i]

		delta := growBuf(scratch, entry.Size)

		err = b.inflateEntry(entry, delta)
		if err != nil {
			return gitobj.KindInvalid, nil, err
		}

		result, applyErr := applyDelta(base, delta)
		if applyErr != nil {
			return gitobj.KindInvalid, nil, fmt.Errorf("offset %d: %w", entry.Offset, applyErr)
		}

		cache.Put(entry.Offset, kind, result)
		base = result
	}

	return kind, base, nil
}

// resolveChainBase walks the delta chain down from offset, collecting the
// delta entries to apply, and returns the first fully-resolved base (from
// the cache or by inflating a non-delta entry). The base is always freshly
// allocated; the cache takes ownership of it.
func (b *Bundle) resolveChainBase(
	offset int64,
	chain *[]Entry,
	cache BaseCache,
) (gitobj.Kind, []byte, error) {
	for {
		if kind, data, ok := cache.Get(offset); ok {
			return kind, data, nil
		}

		entry, ok := b.entries[offset]
		if !ok {
			return gitobj.KindInvalid, nil, fmt.Errorf("%w: no entry at offset %d", ErrCorruptPack, offset)
		}

		if entry.isDelta() {
			*chain = append(*chain, entry)
			offset = entry.BaseOffset

			continue
		}

		data := make([]byte, entry.Size)

		err := b.inflateEntry(entry, data)
		if err != nil {
			return gitobj.KindInvalid, nil, err
		}

		kind := entry.Type.objectKind()
		cache.Put(entry.Offset, kind, data)

		return kind, data, nil
	}
}

// inflateEntry decompresses the entry's zlib payload into dst, which must
// be exactly the declared inflated size.
func (b *Bundle) inflateEntry(entry Entry, dst []byte) error {
	zr, err := zlib.NewReader(bytes.NewReader(b.data[entry.DataOffset:]))
	if err != nil {
		return fmt.Errorf("%w: offset %d: %v", ErrCorruptPack, entry.Offset, err)
	}

	defer zr.Close()

	_, err = io.ReadFull(zr, dst)
	if err != nil {
		return fmt.Errorf("%w: offset %d: %v", ErrCorruptPack, entry.Offset, err)
	}

	return nil
}

// growBuf returns a slice of length n backed by buf, growing buf if
// needed. The content is not zeroed; callers overwrite it fully.
func growBuf(buf *[]byte, n int64) []byte {
	if int64(cap(*buf)) < n {
		*buf = make([]byte, n)
	}

	return (*buf)[:n]
}
