// Package analysis runs a pluggable per-blob analyzer over the blobs a
// history plan selected, memoized by blob id, and folds the per-blob
// results into a chronological per-commit series.
package analysis

// Count tallies occurrences of one construct, split by safety.
type Count struct {
	Safe   uint64
	Unsafe uint64
}

// Add accumulates other into c.
func (c *Count) Add(other Count) {
	c.Safe += other.Safe
	c.Unsafe += other.Unsafe
}

// Total is the combined safe and unsafe tally.
func (c Count) Total() uint64 {
	return c.Safe + c.Unsafe
}

// CounterBlock holds the per-construct counts produced for one unit of
// source: free functions, expressions, impl blocks, trait declarations,
// and methods declared inside impl or trait blocks.
type CounterBlock struct {
	Functions  Count
	Exprs      Count
	ItemImpls  Count
	ItemTraits Count
	Methods    Count
}

// Add accumulates other into b field by field.
func (b *CounterBlock) Add(other CounterBlock) {
	b.Functions.Add(other.Functions)
	b.Exprs.Add(other.Exprs)
	b.ItemImpls.Add(other.ItemImpls)
	b.ItemTraits.Add(other.ItemTraits)
	b.Methods.Add(other.Methods)
}

// IsZero reports whether every count in the block is zero.
func (b CounterBlock) IsZero() bool {
	return b == CounterBlock{}
}
