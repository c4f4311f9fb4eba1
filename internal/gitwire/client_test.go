package gitwire_test

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DCNick3/unsafe-track/internal/gitobj"
	"github.com/DCNick3/unsafe-track/internal/gitwire"
)

const testHeadID = "89e6c98d92887913cadf06b2adb97f26cde4849b"

// pkt formats a data pkt-line frame.
func pkt(payload string) string {
	return fmt.Sprintf("%04x%s", len(payload)+4, payload)
}

// fakeUploadPack serves a minimal smart HTTP upload-pack endpoint that
// advertises headID (when non-empty) and answers fetches with pack.
func fakeUploadPack(t *testing.T, headID string, pack []byte) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("GET /repo.git/info/refs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "git-upload-pack", r.URL.Query().Get("service"))

		w.Header().Set("Content-Type", "application/x-git-upload-pack-advertisement")

		var body strings.Builder

		body.WriteString(pkt("# service=git-upload-pack\n"))
		body.WriteString("0000")

		if headID != "" {
			body.WriteString(pkt(headID + " HEAD\x00symref=HEAD:refs/heads/main ofs-delta agent=test\n"))
			body.WriteString(pkt(headID + " refs/heads/main\n"))
		} else {
			body.WriteString(pkt(strings.Repeat("0", 40) + " capabilities^{}\x00ofs-delta\n"))
		}

		body.WriteString("0000")

		_, err := io.WriteString(w, body.String())
		assert.NoError(t, err)
	})

	mux.HandleFunc("POST /repo.git/git-upload-pack", func(w http.ResponseWriter, r *http.Request) {
		request, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(request), "want "+headID)
		assert.Contains(t, string(request), "ofs-delta")
		assert.Contains(t, string(request), pkt("done\n"))

		w.Header().Set("Content-Type", "application/x-git-upload-pack-result")

		_, err = io.WriteString(w, pkt("NAK\n"))
		assert.NoError(t, err)
		_, err = w.Write(pack)
		assert.NoError(t, err)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func tempSink(t *testing.T) *os.File {
	t.Helper()

	sink, err := os.Create(filepath.Join(t.TempDir(), "pack"))
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })

	return sink
}

func TestClient_DiscoverRefs(t *testing.T) {
	t.Parallel()

	server := fakeUploadPack(t, testHeadID, nil)

	adv, err := gitwire.NewClient().DiscoverRefs(t.Context(), server.URL+"/repo.git")
	require.NoError(t, err)

	require.Len(t, adv.Refs, 2)
	assert.Equal(t, "HEAD", adv.Refs[0].Name)
	assert.Equal(t, gitobj.NewHash(testHeadID), adv.Refs[0].ID)
	assert.Contains(t, adv.Capabilities, "ofs-delta")
	assert.Contains(t, adv.Capabilities, "symref=HEAD:refs/heads/main")
}

func TestClient_FetchPack(t *testing.T) {
	t.Parallel()

	packData := bytes.Repeat([]byte{0xab}, 4096)
	server := fakeUploadPack(t, testHeadID, packData)
	sink := tempSink(t)

	size, err := gitwire.NewClient().FetchPack(t.Context(), server.URL+"/repo.git", sink)
	require.NoError(t, err)
	assert.Equal(t, int64(len(packData)), size)

	// Sink is rewound to the start for the next stage.
	got, err := io.ReadAll(sink)
	require.NoError(t, err)
	assert.Equal(t, packData, got)
}

func TestClient_FetchPack_HeadNotFound(t *testing.T) {
	t.Parallel()

	server := fakeUploadPack(t, "", nil)

	_, err := gitwire.NewClient().FetchPack(t.Context(), server.URL+"/repo.git", tempSink(t))
	require.ErrorIs(t, err, gitwire.ErrHeadNotFound)
}

func TestClient_FetchPack_SizeCapBoundary(t *testing.T) {
	t.Parallel()

	const capBytes = 1024

	exact := fakeUploadPack(t, testHeadID, bytes.Repeat([]byte{0x01}, capBytes))
	over := fakeUploadPack(t, testHeadID, bytes.Repeat([]byte{0x01}, capBytes+1))

	client := gitwire.NewClient()
	client.MaxPackSize = capBytes

	size, err := client.FetchPack(t.Context(), exact.URL+"/repo.git", tempSink(t))
	require.NoError(t, err)
	assert.Equal(t, int64(capBytes), size)

	_, err = client.FetchPack(t.Context(), over.URL+"/repo.git", tempSink(t))
	require.ErrorIs(t, err, gitwire.ErrPackTooLarge)
}

func TestClient_FetchPack_MissingNAK(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()

	mux.HandleFunc("GET /repo.git/info/refs", func(w http.ResponseWriter, _ *http.Request) {
		body := pkt("# service=git-upload-pack\n") + "0000" + pkt(testHeadID+" HEAD\x00ofs-delta\n") + "0000"
		_, _ = io.WriteString(w, body)
	})
	mux.HandleFunc("POST /repo.git/git-upload-pack", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, pkt("ERR no\n"))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	_, err := gitwire.NewClient().FetchPack(t.Context(), server.URL+"/repo.git", tempSink(t))
	require.ErrorIs(t, err, gitwire.ErrNoNAK)
}

func TestClient_DiscoverRefs_BadService(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repo.git/info/refs", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, pkt("# service=git-receive-pack\n")+"0000")
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	_, err := gitwire.NewClient().DiscoverRefs(t.Context(), server.URL+"/repo.git")
	require.ErrorIs(t, err, gitwire.ErrBadAdvertisement)
}
