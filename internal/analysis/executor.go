package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"unicode/utf8"

	"github.com/DCNick3/unsafe-track/internal/gitobj"
	"github.com/DCNick3/unsafe-track/internal/pack"
)

// analyzeBlobs resolves every blob in interesting and returns its
// analysis outcome. Cached outcomes are served from cache; the rest are
// inflated from the bundle and analyzed on a pool of GOMAXPROCS
// workers. An error decoding a blob is fatal for the whole run; an
// analyzer failure is not, it is recorded as a failed BlobResult.
func analyzeBlobs(
	ctx context.Context,
	bundle *pack.Bundle,
	interesting map[gitobj.Hash]struct{},
	analyzer Analyzer,
	cache *ResultCache,
) (map[gitobj.Hash]BlobResult, error) {
	results := make(map[gitobj.Hash]BlobResult, len(interesting))

	var missing []gitobj.Hash

	for id := range interesting {
		if result, ok := cache.Get(id); ok {
			results[id] = result

			continue
		}

		missing = append(missing, id)
	}

	slog.Info("analysing blobs",
		"total", len(interesting),
		"cached", len(results),
		"missing", len(missing))

	if len(missing) == 0 {
		return results, nil
	}

	workers := min(runtime.GOMAXPROCS(0), len(missing))

	work := make(chan gitobj.Hash)

	// failed unblocks the dispatch loop once any worker gives up, so a
	// fatal decode error cannot deadlock the send below.
	failed := make(chan struct{})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		once     sync.Once
		firstErr error
	)

	fail := func(err error) {
		mu.Lock()

		if firstErr == nil {
			firstErr = err
		}

		mu.Unlock()
		once.Do(func() { close(failed) })
	}

	for range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			var scratch []byte

			for id := range work {
				// Each blob id is decoded exactly once, so a base cache
				// would only hold bytes nobody asks for again.
				result, err := analyzeOne(bundle, id, analyzer, &scratch, pack.Never{})
				if err != nil {
					fail(err)

					return
				}

				cache.Put(id, result)

				mu.Lock()
				results[id] = result
				mu.Unlock()
			}
		}()
	}

dispatch:
	for _, id := range missing {
		select {
		case work <- id:
		case <-failed:
			break dispatch
		case <-ctx.Done():
			fail(ctx.Err())

			break dispatch
		}
	}

	close(work)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	return results, nil
}

// analyzeOne inflates a single blob and runs the analyzer over it.
func analyzeOne(
	bundle *pack.Bundle,
	id gitobj.Hash,
	analyzer Analyzer,
	scratch *[]byte,
	baseCache pack.BaseCache,
) (BlobResult, error) {
	kind, data, err := bundle.Find(id, scratch, baseCache)
	if err != nil {
		return BlobResult{}, fmt.Errorf("blob %s: %w", id, err)
	}

	if kind != gitobj.KindBlob {
		return BlobResult{}, fmt.Errorf("blob %s: object is a %s", id, kind)
	}

	if !utf8.Valid(data) {
		return BlobResult{Failure: FailureNotText}, nil
	}

	counters, err := analyzer.Analyze(string(data))
	if err != nil {
		slog.Debug("analyzer failed on blob", "blob", id.String(), "error", err)

		return BlobResult{Failure: FailureParse}, nil
	}

	return BlobResult{Counters: counters}, nil
}
