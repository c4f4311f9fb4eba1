package analysis_test

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DCNick3/unsafe-track/internal/analysis"
	"github.com/DCNick3/unsafe-track/internal/gitobj"
	"github.com/DCNick3/unsafe-track/internal/pack"
)

// fnAnalyzer counts `fn ` occurrences, splitting on whether the line
// mentions unsafe.
type fnAnalyzer struct{}

func (fnAnalyzer) Analyze(text string) (analysis.CounterBlock, error) {
	var block analysis.CounterBlock

	for _, line := range strings.Split(text, "\n") {
		if !strings.Contains(line, "fn ") {
			continue
		}

		if strings.Contains(line, "unsafe") {
			block.Functions.Unsafe++
		} else {
			block.Functions.Safe++
		}
	}

	return block, nil
}

func pkt(payload string) string {
	return fmt.Sprintf("%04x%s", len(payload)+4, payload)
}

// serveRepo exposes packData as a smart HTTP repository whose HEAD is
// headID and returns the repository URL.
func serveRepo(t *testing.T, headID gitobj.Hash, packData []byte) string {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("GET /repo.git/info/refs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-git-upload-pack-advertisement")

		body := pkt("# service=git-upload-pack\n") + "0000" +
			pkt(headID.String()+" HEAD\x00ofs-delta agent=test\n") + "0000"

		_, err := io.WriteString(w, body)
		assert.NoError(t, err)
	})

	mux.HandleFunc("POST /repo.git/git-upload-pack", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-git-upload-pack-result")

		_, err := io.WriteString(w, pkt("NAK\n"))
		assert.NoError(t, err)
		_, err = w.Write(packData)
		assert.NoError(t, err)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server.URL + "/repo.git"
}

// buildHistoryPack packs two commits: the first with one safe file, the
// second adding an unsafe one. Returns the pack and the second commit id.
func buildHistoryPack(t *testing.T) ([]byte, gitobj.Hash) {
	t.Helper()

	builder := pack.NewTestPackBuilder()

	safeBlob := builder.AddBlob([]byte("fn alpha() {}\nfn beta() {}\n"))
	unsafeBlob := builder.AddBlob([]byte("unsafe fn gamma() {}\n"))

	tree1 := builder.AddTree(gitobj.TreeEntry{Name: "lib.rs", ID: safeBlob, Mode: 0o100644})
	tree2 := builder.AddTree(
		gitobj.TreeEntry{Name: "gamma.rs", ID: unsafeBlob, Mode: 0o100644},
		gitobj.TreeEntry{Name: "lib.rs", ID: safeBlob, Mode: 0o100644},
	)

	builder.AddCommit(tree1, time.Unix(1700000000, 0))
	head := builder.AddCommit(tree2, time.Unix(1700086400, 0))

	return builder.Bytes(), head
}

func TestPipeline_AnalyzeRepo(t *testing.T) {
	t.Parallel()

	packData, head := buildHistoryPack(t)
	repoURL := serveRepo(t, head, packData)

	pipeline := analysis.NewPipeline(fnAnalyzer{}, 128)

	results, stats, err := pipeline.AnalyzeRepo(t.Context(), repoURL, regexp.MustCompile(`\.rs$`))
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, int64(len(packData)), stats.PackBytes)
	assert.Equal(t, 2, stats.Commits)
	assert.Equal(t, 2, stats.BlobsAnalyzed)

	first, second := results[0], results[1]

	assert.Equal(t, 0, first.Index)
	assert.Equal(t, 1, second.Index)
	assert.True(t, first.Time.Before(second.Time))

	assert.Equal(t, analysis.Count{Safe: 2}, first.Counters.Functions)
	assert.Equal(t, analysis.Count{Safe: 2, Unsafe: 1}, second.Counters.Functions)
	assert.Zero(t, first.FailedFiles)
	assert.Zero(t, second.FailedFiles)
}

func TestPipeline_AnalyzeRepo_Idempotent(t *testing.T) {
	t.Parallel()

	packData, head := buildHistoryPack(t)
	repoURL := serveRepo(t, head, packData)

	pipeline := analysis.NewPipeline(fnAnalyzer{}, 128)

	first, _, err := pipeline.AnalyzeRepo(t.Context(), repoURL, regexp.MustCompile(`\.rs$`))
	require.NoError(t, err)

	// Second run is served from the warm blob cache and must agree.
	second, _, err := pipeline.AnalyzeRepo(t.Context(), repoURL, regexp.MustCompile(`\.rs$`))
	require.NoError(t, err)

	assert.Equal(t, first, second)

	hits, _ := pipeline.Cache.Stats()
	assert.Equal(t, uint64(2), hits)
}

func TestPipeline_AnalyzeRepo_NoMatchingFiles(t *testing.T) {
	t.Parallel()

	packData, head := buildHistoryPack(t)
	repoURL := serveRepo(t, head, packData)

	pipeline := analysis.NewPipeline(fnAnalyzer{}, 128)

	results, stats, err := pipeline.AnalyzeRepo(t.Context(), repoURL, regexp.MustCompile(`\.go$`))
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Zero(t, stats.BlobsAnalyzed)

	for _, result := range results {
		assert.True(t, result.Counters.IsZero())
		assert.Zero(t, result.FailedFiles)
	}
}

func TestPipeline_AnalyzeRepo_FetchFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(server.Close)

	pipeline := analysis.NewPipeline(fnAnalyzer{}, 0)

	_, _, err := pipeline.AnalyzeRepo(t.Context(), server.URL+"/repo.git", regexp.MustCompile(`\.rs$`))
	require.Error(t, err)
}
