package gitobj

// Kind is the decoded kind of a stored object.
type Kind uint8

// Object kinds as they appear in loose-object headers.
const (
	KindInvalid Kind = iota
	KindCommit
	KindTree
	KindBlob
	KindTag
)

// String returns the kind name used in loose-object headers.
func (k Kind) String() string {
	switch k {
	case KindCommit:
		return "commit"
	case KindTree:
		return "tree"
	case KindBlob:
		return "blob"
	case KindTag:
		return "tag"
	default:
		return "invalid"
	}
}
