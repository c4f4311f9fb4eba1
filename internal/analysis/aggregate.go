package analysis

import (
	"sort"
	"time"

	"github.com/DCNick3/unsafe-track/internal/gitobj"
	"github.com/DCNick3/unsafe-track/internal/history"
)

// CommitResult is the aggregated outcome for one commit: the summed
// counters of every successfully analyzed matching blob plus the number
// of matching blobs that failed analysis.
type CommitResult struct {
	// ID is the commit id.
	ID gitobj.Hash

	// Index is the commit's position in the chronological series,
	// starting at zero.
	Index int

	// Time is the committer timestamp.
	Time time.Time

	// FailedFiles counts matching blobs that could not be analyzed.
	FailedFiles int

	// Counters is the sum over all successfully analyzed matching
	// blobs. A blob appearing under several paths is counted once per
	// path, matching what a per-file report would show.
	Counters CounterBlock
}

// buildResults folds per-blob outcomes into one CommitResult per
// planned commit, ordered by committer time with the commit id breaking
// ties. The ordering is total, so the series is deterministic for a
// given pack.
func buildResults(plan *history.Plan, blobs map[gitobj.Hash]BlobResult) []CommitResult {
	results := make([]CommitResult, 0, len(plan.Commits))

	for id, info := range plan.Commits {
		result := CommitResult{ID: id, Time: info.Time}

		for _, blob := range info.MatchingBlobs {
			outcome, ok := blobs[blob.ID]
			if !ok || !outcome.OK() {
				result.FailedFiles++

				continue
			}

			result.Counters.Add(outcome.Counters)
		}

		results = append(results, result)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if !results[i].Time.Equal(results[j].Time) {
			return results[i].Time.Before(results[j].Time)
		}

		return results[i].ID.Compare(results[j].ID) < 0
	})

	for i := range results {
		results[i].Index = i
	}

	return results
}
