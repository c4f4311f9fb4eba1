package gitwire

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DCNick3/unsafe-track/internal/gitobj"
)

// Protocol constants.
const (
	// MaxPackSize is the hard cap on downloaded pack bytes (10 MiB).
	// Exceeding it aborts the fetch; no partial result is kept.
	MaxPackSize = 10 * 1024 * 1024

	// DefaultAgent identifies this client in the agent capability.
	DefaultAgent = "unsafe-track/0.1"

	// uploadPackService is the smart HTTP service used for fetches.
	uploadPackService = "git-upload-pack"

	// advertisementContentType is the expected content type of the ref
	// advertisement response.
	advertisementContentType = "application/x-git-upload-pack-advertisement"

	// requestContentType is the content type of the upload-pack request body.
	requestContentType = "application/x-git-upload-pack-request"

	// resultContentType is the expected content type of the upload-pack
	// response.
	resultContentType = "application/x-git-upload-pack-result"

	// headRefName is the ref the fetch wants: the remote's HEAD.
	headRefName = "HEAD"

	// copyBufSize is the chunk size used while draining the pack stream.
	copyBufSize = 8192

	// defaultTimeout bounds a single HTTP exchange. The pipeline itself has
	// no timeout policy; this only guards against dead transports.
	defaultTimeout = 5 * time.Minute
)

// Sentinel errors for fetch failures. All of them are fatal to the run.
var (
	// ErrHeadNotFound reports an advertisement with no ref named HEAD.
	ErrHeadNotFound = errors.New("gitwire: remote did not advertise HEAD")

	// ErrPackTooLarge reports a pack stream exceeding MaxPackSize.
	ErrPackTooLarge = errors.New("gitwire: pack stream exceeds size cap")

	// ErrBadAdvertisement reports an unparsable ref advertisement.
	ErrBadAdvertisement = errors.New("gitwire: malformed ref advertisement")

	// ErrBadStatus reports a non-200 HTTP response from the remote.
	ErrBadStatus = errors.New("gitwire: unexpected HTTP status")

	// ErrNoNAK reports an upload-pack response that never acknowledged the
	// end of negotiation.
	ErrNoNAK = errors.New("gitwire: server did not send NAK")
)

// Ref is one advertised reference.
type Ref struct {
	Name string
	ID   gitobj.Hash
}

// Advertisement is the parsed ref advertisement of a remote repository.
type Advertisement struct {
	Refs         []Ref
	Capabilities []string
}

// FindRef returns the advertised ref with the given name.
func (a *Advertisement) FindRef(name string) (Ref, bool) {
	for _, ref := range a.Refs {
		if ref.Name == name {
			return ref, true
		}
	}

	return Ref{}, false
}

// Client fetches packs from remote repositories over the smart HTTP
// protocol. It performs a single round-trip negotiation: one want, no
// haves, immediate done.
type Client struct {
	HTTPClient  *http.Client
	Agent       string
	MaxPackSize int64
	Logger      *slog.Logger
}

// NewClient returns a Client with default transport, agent, and size cap.
func NewClient() *Client {
	return &Client{
		HTTPClient:  &http.Client{Timeout: defaultTimeout},
		Agent:       DefaultAgent,
		MaxPackSize: MaxPackSize,
		Logger:      slog.Default(),
	}
}

// DiscoverRefs fetches and parses the ref advertisement of repoURL.
func (c *Client) DiscoverRefs(ctx context.Context, repoURL string) (*Advertisement, error) {
	infoURL := strings.TrimSuffix(repoURL, "/") + "/info/refs?service=" + uploadPackService

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, infoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build ref discovery request: %w", err)
	}

	req.Header.Set("Accept", advertisementContentType)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ref discovery: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s from %s", ErrBadStatus, resp.Status, infoURL)
	}

	return parseAdvertisement(bufio.NewReader(resp.Body))
}

// parseAdvertisement reads the smart HTTP ref advertisement: a service
// header pkt, a flush, then one pkt per ref with the capability list
// appended to the first ref after a NUL byte.
func parseAdvertisement(r io.Reader) (*Advertisement, error) {
	payload, flush, err := readPkt(r)
	if err != nil {
		return nil, err
	}

	if flush || !bytes.HasPrefix(payload, []byte("# service="+uploadPackService)) {
		return nil, fmt.Errorf("%w: missing service header", ErrBadAdvertisement)
	}

	_, flush, err = readPkt(r)
	if err != nil {
		return nil, err
	}

	if !flush {
		return nil, fmt.Errorf("%w: missing separator after service header", ErrBadAdvertisement)
	}

	adv := &Advertisement{}

	for {
		payload, flush, err = readPkt(r)
		if err != nil {
			return nil, err
		}

		if flush {
			break
		}

		parseErr := adv.parseRefLine(payload)
		if parseErr != nil {
			return nil, parseErr
		}
	}

	return adv, nil
}

// parseRefLine parses one "<oid> <name>[\x00caps]" advertisement line.
func (a *Advertisement) parseRefLine(payload []byte) error {
	line := bytes.TrimSuffix(payload, []byte{'\n'})

	refPart, capPart, hasCaps := bytes.Cut(line, []byte{0})
	if hasCaps {
		a.Capabilities = strings.Fields(string(capPart))
	}

	hexID, name, ok := bytes.Cut(refPart, []byte{' '})
	if !ok || len(hexID) != gitobj.HashHexSize || len(name) == 0 {
		return fmt.Errorf("%w: ref line %q", ErrBadAdvertisement, payload)
	}

	// An empty repository advertises a dummy capabilities^{} ref.
	if string(name) == "capabilities^{}" {
		return nil
	}

	a.Refs = append(a.Refs, Ref{
		Name: string(name),
		ID:   gitobj.NewHash(string(hexID)),
	})

	return nil
}

// FetchPack negotiates with repoURL, wants its HEAD, and streams the pack
// response into sink, capping total pack bytes at MaxPackSize. On success
// the sink is rewound to the start and the pack size is returned.
func (c *Client) FetchPack(ctx context.Context, repoURL string, sink io.ReadWriteSeeker) (int64, error) {
	adv, err := c.DiscoverRefs(ctx, repoURL)
	if err != nil {
		return 0, err
	}

	wanted, ok := adv.FindRef(headRefName)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrHeadNotFound, repoURL)
	}

	c.Logger.Debug("found the wanted object", "ref", headRefName, "oid", wanted.ID)

	body, err := c.buildFetchRequest(wanted.ID)
	if err != nil {
		return 0, err
	}

	resp, err := c.postUploadPack(ctx, repoURL, body)
	if err != nil {
		return 0, err
	}

	defer resp.Body.Close()

	return c.receivePack(bufio.NewReader(resp.Body), sink)
}

// buildFetchRequest encodes the single round-trip negotiation: one want
// carrying our capabilities, a flush, then done. No haves are advertised.
func (c *Client) buildFetchRequest(wanted gitobj.Hash) (*bytes.Buffer, error) {
	var body bytes.Buffer

	// ofs-delta keeps all delta bases addressable by pack offset.
	caps := "ofs-delta agent=" + c.Agent

	err := writePktString(&body, "want "+wanted.String()+" "+caps+"\n")
	if err != nil {
		return nil, err
	}

	err = writeFlush(&body)
	if err != nil {
		return nil, err
	}

	err = writePktString(&body, "done\n")
	if err != nil {
		return nil, err
	}

	return &body, nil
}

func (c *Client) postUploadPack(ctx context.Context, repoURL string, body io.Reader) (*http.Response, error) {
	packURL := strings.TrimSuffix(repoURL, "/") + "/" + uploadPackService

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, packURL, body)
	if err != nil {
		return nil, fmt.Errorf("build upload-pack request: %w", err)
	}

	req.Header.Set("Content-Type", requestContentType)
	req.Header.Set("Accept", resultContentType)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload-pack: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()

		return nil, fmt.Errorf("%w: %s from %s", ErrBadStatus, resp.Status, packURL)
	}

	return resp, nil
}

// receivePack consumes the negotiation acknowledgement and copies the raw
// pack stream into sink, enforcing the size cap as bytes arrive.
func (c *Client) receivePack(r io.Reader, sink io.ReadWriteSeeker) (int64, error) {
	// With no haves sent the server acknowledges with a single NAK before
	// the pack data. No side-band was requested, so the pack follows raw.
	payload, flush, err := readPkt(r)
	if err != nil {
		return 0, err
	}

	if flush || !bytes.HasPrefix(payload, []byte("NAK")) {
		return 0, fmt.Errorf("%w: got %q", ErrNoNAK, payload)
	}

	c.Logger.Info("downloading the pack file")

	var total int64

	buf := make([]byte, copyBufSize)

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > c.MaxPackSize {
				return 0, fmt.Errorf("%w: more than %d bytes", ErrPackTooLarge, c.MaxPackSize)
			}

			_, writeErr := sink.Write(buf[:n])
			if writeErr != nil {
				return 0, fmt.Errorf("write pack sink: %w", writeErr)
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}

			return 0, fmt.Errorf("read pack stream: %w", readErr)
		}
	}

	_, err = sink.Seek(0, io.SeekStart)
	if err != nil {
		return 0, fmt.Errorf("rewind pack sink: %w", err)
	}

	return total, nil
}
