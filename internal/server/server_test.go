package server_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DCNick3/unsafe-track/internal/analysis"
	"github.com/DCNick3/unsafe-track/internal/gitobj"
	"github.com/DCNick3/unsafe-track/internal/observability"
	"github.com/DCNick3/unsafe-track/internal/pack"
	"github.com/DCNick3/unsafe-track/internal/server"
)

// countingAnalyzer treats every line as one safe function.
type countingAnalyzer struct{}

func (countingAnalyzer) Analyze(text string) (analysis.CounterBlock, error) {
	var block analysis.CounterBlock

	for _, line := range strings.Split(text, "\n") {
		if line != "" {
			block.Functions.Safe++
		}
	}

	return block, nil
}

func pkt(payload string) string {
	return fmt.Sprintf("%04x%s", len(payload)+4, payload)
}

// fakeGitHub serves one smart HTTP repository at /acme/widget.
func fakeGitHub(t *testing.T) *httptest.Server {
	t.Helper()

	builder := pack.NewTestPackBuilder()
	blob := builder.AddBlob([]byte("fn main() {}\n"))
	tree := builder.AddTree(gitobj.TreeEntry{Name: "main.rs", ID: blob, Mode: 0o100644})
	head := builder.AddCommit(tree, time.Unix(1700000000, 0))
	packData := builder.Bytes()

	mux := http.NewServeMux()

	mux.HandleFunc("GET /acme/widget/info/refs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-git-upload-pack-advertisement")

		body := pkt("# service=git-upload-pack\n") + "0000" +
			pkt(head.String()+" HEAD\x00ofs-delta agent=test\n") + "0000"
		_, _ = io.WriteString(w, body)
	})

	mux.HandleFunc("POST /acme/widget/git-upload-pack", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-git-upload-pack-result")

		_, _ = io.WriteString(w, pkt("NAK\n"))
		_, _ = w.Write(packData)
	})

	githubStub := httptest.NewServer(mux)
	t.Cleanup(githubStub.Close)

	return githubStub
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	github := fakeGitHub(t)

	srv := server.New(analysis.NewPipeline(countingAnalyzer{}, 128), observability.NewMetrics())
	srv.GitHubBase = github.URL

	web := httptest.NewServer(srv.Handler())
	t.Cleanup(web.Close)

	return web
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()

	resp, err := http.Get(url) //nolint:gosec,noctx // test URL
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	return resp, string(body)
}

func TestServer_Chart(t *testing.T) {
	t.Parallel()

	web := newTestServer(t)

	resp, body := get(t, web.URL+"/github/acme/widget")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Contains(t, body, "acme/widget")
	assert.Contains(t, body, "unsafe")
}

func TestServer_ChartWithParams(t *testing.T) {
	t.Parallel()

	web := newTestServer(t)

	resp, _ := get(t, web.URL+"/github/acme/widget?x_coord=date&y_coord=expressions&path_filter=%5C.rs%24")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_BadParams(t *testing.T) {
	t.Parallel()

	web := newTestServer(t)

	resp, _ := get(t, web.URL+"/github/acme/widget?path_filter=%5B")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = get(t, web.URL+"/github/acme/widget?x_coord=epoch")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = get(t, web.URL+"/github/acme/widget?y_coord=statements")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_UnknownRepoIsBadGateway(t *testing.T) {
	t.Parallel()

	web := newTestServer(t)

	resp, _ := get(t, web.URL+"/github/acme/missing")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestServer_ClientDisconnectDoesNotCancelRun(t *testing.T) {
	t.Parallel()

	builder := pack.NewTestPackBuilder()
	blob := builder.AddBlob([]byte("fn main() {}\n"))
	tree := builder.AddTree(gitobj.TreeEntry{Name: "main.rs", ID: blob, Mode: 0o100644})
	head := builder.AddCommit(tree, time.Unix(1700000000, 0))
	packData := builder.Bytes()

	// The upload-pack response is held back until the client has already
	// hung up, so the run only finishes if it is detached from the
	// request context.
	fetchStarted := make(chan struct{})
	release := make(chan struct{})

	mux := http.NewServeMux()

	mux.HandleFunc("GET /acme/widget/info/refs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-git-upload-pack-advertisement")

		body := pkt("# service=git-upload-pack\n") + "0000" +
			pkt(head.String()+" HEAD\x00ofs-delta agent=test\n") + "0000"
		_, _ = io.WriteString(w, body)
	})

	mux.HandleFunc("POST /acme/widget/git-upload-pack", func(w http.ResponseWriter, _ *http.Request) {
		close(fetchStarted)
		<-release

		w.Header().Set("Content-Type", "application/x-git-upload-pack-result")

		_, _ = io.WriteString(w, pkt("NAK\n"))
		_, _ = w.Write(packData)
	})

	github := httptest.NewServer(mux)
	t.Cleanup(github.Close)

	pipeline := analysis.NewPipeline(countingAnalyzer{}, 128)

	srv := server.New(pipeline, observability.NewMetrics())
	srv.GitHubBase = github.URL

	web := httptest.NewServer(srv.Handler())
	t.Cleanup(web.Close)

	ctx, cancel := context.WithCancel(t.Context())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, web.URL+"/github/acme/widget", nil)
	require.NoError(t, err)

	clientDone := make(chan struct{})

	go func() {
		defer close(clientDone)

		resp, doErr := http.DefaultClient.Do(req)
		if doErr == nil {
			resp.Body.Close()
		}
	}()

	<-fetchStarted
	cancel()
	<-clientDone
	close(release)

	// The detached run still completes and memoizes the blob result.
	assert.Eventually(t, func() bool {
		return pipeline.Cache.Len() > 0
	}, 10*time.Second, 10*time.Millisecond)
}

func TestServer_OperationalEndpoints(t *testing.T) {
	t.Parallel()

	web := newTestServer(t)

	resp, _ := get(t, web.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = get(t, web.URL+"/readyz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// A served chart shows up in the scrape.
	resp, _ = get(t, web.URL+"/github/acme/widget")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := get(t, web.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `unsafe_track_runs_total{outcome="ok"} 1`)
}
