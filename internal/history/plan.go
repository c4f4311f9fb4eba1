// Package history plans the analysis of a repository's packed history: it
// classifies every packed commit, walks each commit's tree through a path
// filter, and collects the deduplicated set of blobs worth analyzing.
package history

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DCNick3/unsafe-track/internal/gitobj"
	"github.com/DCNick3/unsafe-track/internal/pack"
)

// ErrUnexpectedKind reports an object whose kind contradicts its
// reference (e.g. a commit's tree field naming a blob).
var ErrUnexpectedKind = errors.New("history: object has unexpected kind")

// PathFilter decides which in-repository file paths are interesting.
// Paths are rooted, slash-joined tree entry names ("/src/lib.rs").
// *regexp.Regexp satisfies it.
type PathFilter interface {
	MatchString(string) bool
}

// PathBlob is one filter-matched file of a commit's tree.
type PathBlob struct {
	Path string
	ID   gitobj.Hash
}

// CommitInfo is the per-commit traversal product: the committer timestamp
// and the matching files in depth-first traversal order.
type CommitInfo struct {
	Time          time.Time
	MatchingBlobs []PathBlob
}

// Plan is the traversal output consumed by the analysis phase.
type Plan struct {
	// Commits maps each packed commit to its traversal product.
	Commits map[gitobj.Hash]CommitInfo

	// InterestingBlobs is the union of blob ids referenced by any
	// matching path in any commit. Membership depends only on the path
	// filter, never on traversal order.
	InterestingBlobs map[gitobj.Hash]struct{}
}

// treeFrame is one pending subtree of the walk.
type treeFrame struct {
	id   gitobj.Hash
	path string
}

// BuildPlan enumerates every object in the bundle's index and, for each
// commit, walks its tree recording filter matches. The walk is
// single-threaded: one decode cache and one scratch buffer are shared
// across all commits, so subtrees common to many commits inflate once.
func BuildPlan(bundle *pack.Bundle, filter PathFilter) (*Plan, error) {
	plan := &Plan{
		Commits:          make(map[gitobj.Hash]CommitInfo),
		InterestingBlobs: make(map[gitobj.Hash]struct{}),
	}

	cache := pack.NewDeltaBaseCache(pack.DefaultBaseCacheBytes)

	var scratch []byte

	slog.Info("finding the blobs to analyse", "objects", bundle.Count())

	for _, id := range bundle.IDs() {
		kind, err := bundle.Kind(id)
		if err != nil {
			return nil, err
		}

		if kind != gitobj.KindCommit {
			continue
		}

		info, err := planCommit(bundle, id, filter, plan.InterestingBlobs, &scratch, cache)
		if err != nil {
			return nil, err
		}

		plan.Commits[id] = info
	}

	return plan, nil
}

// planCommit decodes one commit and walks its tree.
func planCommit(
	bundle *pack.Bundle,
	id gitobj.Hash,
	filter PathFilter,
	interesting map[gitobj.Hash]struct{},
	scratch *[]byte,
	cache pack.BaseCache,
) (CommitInfo, error) {
	_, data, err := bundle.Find(id, scratch, cache)
	if err != nil {
		return CommitInfo{}, err
	}

	commit, err := gitobj.ParseCommit(data)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit %s: %w", id, err)
	}

	info := CommitInfo{Time: commit.Committer}

	// Depth-first with an explicit stack; tree nesting depth is
	// data-dependent, so no recursion on the call stack.
	stack := []treeFrame{{id: commit.Tree, path: ""}}

	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		kind, data, findErr := bundle.Find(frame.id, scratch, cache)
		if findErr != nil {
			return CommitInfo{}, findErr
		}

		if kind != gitobj.KindTree {
			return CommitInfo{}, fmt.Errorf("%w: %s is %s, expected tree", ErrUnexpectedKind, frame.id, kind)
		}

		entries, parseErr := gitobj.ParseTree(data)
		if parseErr != nil {
			return CommitInfo{}, fmt.Errorf("tree %s: %w", frame.id, parseErr)
		}

		var subtrees []treeFrame

		for _, entry := range entries {
			entryPath := frame.path + "/" + entry.Name

			switch entry.Kind() {
			case gitobj.EntryTree:
				subtrees = append(subtrees, treeFrame{id: entry.ID, path: entryPath})
			case gitobj.EntryFile, gitobj.EntryFileExecutable:
				if filter.MatchString(entryPath) {
					interesting[entry.ID] = struct{}{}
					info.MatchingBlobs = append(info.MatchingBlobs, PathBlob{Path: entryPath, ID: entry.ID})
				}
			case gitobj.EntrySymlink, gitobj.EntryGitlink, gitobj.EntryInvalid:
				// Not matched, not recursed.
			}
		}

		// Push in reverse so siblings pop in entry order.
		for i := len(subtrees) - 1; i >= 0; i-- {
			stack = append(stack, subtrees[i])
		}
	}

	return info, nil
}
