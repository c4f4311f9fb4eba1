package analysis

// FailureReason classifies why a blob produced no counters.
type FailureReason uint8

const (
	// FailureNone marks a successful analysis.
	FailureNone FailureReason = iota
	// FailureNotText marks a blob that is not valid UTF-8 text.
	FailureNotText
	// FailureParse marks a blob the language grammar could not parse.
	FailureParse
)

// String implements fmt.Stringer.
func (r FailureReason) String() string {
	switch r {
	case FailureNone:
		return "none"
	case FailureNotText:
		return "not-text"
	case FailureParse:
		return "parse-error"
	default:
		return "unknown"
	}
}

// BlobResult is the memoized outcome of analyzing one blob. Exactly one
// of Counters and Failure is meaningful: a failed blob carries a reason
// and a zero block.
type BlobResult struct {
	Counters CounterBlock
	Failure  FailureReason
}

// OK reports whether the blob was analyzed successfully.
func (r BlobResult) OK() bool {
	return r.Failure == FailureNone
}

// Analyzer produces counters for one source text. Implementations must
// be safe for concurrent use: the executor calls Analyze from multiple
// goroutines. A returned error means the text exists but could not be
// parsed; the executor records it as FailureParse.
type Analyzer interface {
	Analyze(text string) (CounterBlock, error)
}
