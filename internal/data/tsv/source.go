package tsv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Source opens a resource by logical path. Paths always use forward slashes.
type Source interface {
	Open(ctx context.Context, logical string) (io.ReadCloser, error)
}

// FileSource reads resources below a root directory. When the plain file is
// missing, a zstd-compressed sibling (<path>.zst) is tried.
type FileSource struct {
	Root string
}

// Open implements Source.
func (s FileSource) Open(ctx context.Context, logical string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, err := cleanLogical(logical)
	if err != nil {
		return nil, err
	}
	full := filepath.Join(s.Root, filepath.FromSlash(clean))

	f, err := os.Open(full)
	if err == nil {
		if strings.HasSuffix(full, ".zst") {
			return newZstdReadCloser(f)
		}
		return f, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s: %v", ErrDataUnavailable, logical, err)
	}

	zf, zerr := os.Open(full + ".zst")
	if zerr != nil {
		return nil, fmt.Errorf("%w: %s: not found", ErrDataUnavailable, logical)
	}
	return newZstdReadCloser(zf)
}

// HTTPSource reads resources from a flat-file store over HTTP(S).
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPSource creates an HTTP source with a bounded client timeout.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Open implements Source. A single attempt is made; non-200 responses are
// reported as ErrDataUnavailable.
func (s *HTTPSource) Open(ctx context.Context, logical string) (io.ReadCloser, error) {
	clean, err := cleanLogical(logical)
	if err != nil {
		return nil, err
	}
	segments := strings.Split(clean, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	u := s.BaseURL + "/" + strings.Join(segments, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDataUnavailable, logical, err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrDataUnavailable, logical, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s: http status %d", ErrDataUnavailable, logical, resp.StatusCode)
	}
	if strings.HasSuffix(clean, ".zst") {
		return newZstdReadCloser(resp.Body)
	}
	return resp.Body, nil
}

func cleanLogical(logical string) (string, error) {
	p := path.Clean("/" + strings.TrimSpace(logical))
	p = strings.TrimPrefix(p, "/")
	if p == "" || p == "." {
		return "", fmt.Errorf("%w: empty path", ErrDataUnavailable)
	}
	return p, nil
}

type zstdReadCloser struct {
	dec *zstd.Decoder
	src io.Closer
}

func newZstdReadCloser(src io.ReadCloser) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(src)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("%w: zstd: %v", ErrDataUnavailable, err)
	}
	return &zstdReadCloser{dec: dec, src: src}, nil
}

func (z *zstdReadCloser) Read(p []byte) (int, error) { return z.dec.Read(p) }

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.src.Close()
}
