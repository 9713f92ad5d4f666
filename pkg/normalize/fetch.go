package normalize

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Fetcher reads the raw bytes behind a source URI.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Router dispatches on the URI scheme. Bare paths and file:// URIs are read
// from disk, http(s):// over HTTP and s3:// through the S3 fetcher.
type Router struct {
	File Fetcher
	HTTP Fetcher
	S3   Fetcher
}

var _ Fetcher = (*Router)(nil)

// NewRouter returns a router with file and HTTP fetchers. s3 may be nil
// when no object storage is configured.
func NewRouter(s3 Fetcher) *Router {
	return &Router{
		File: FileFetcher{},
		HTTP: NewHTTPFetcher(30 * time.Second),
		S3:   s3,
	}
}

// Fetch implements Fetcher.
func (r *Router) Fetch(ctx context.Context, uri string) ([]byte, error) {
	scheme := ""
	if i := strings.Index(uri, "://"); i > 0 {
		scheme = strings.ToLower(uri[:i])
	}

	var f Fetcher

	switch scheme {
	case "", "file":
		f = r.File
	case "http", "https":
		f = r.HTTP
	case "s3":
		f = r.S3
	}

	if f == nil {
		return nil, fmt.Errorf("%w: no fetcher for %q", ErrSourceUnavailable, uri)
	}

	return f.Fetch(ctx, uri)
}

// FileFetcher reads local files.
type FileFetcher struct{}

// Fetch implements Fetcher.
func (FileFetcher) Fetch(_ context.Context, uri string) ([]byte, error) {
	path := strings.TrimPrefix(uri, "file://")

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	return b, nil
}

// HTTPFetcher downloads over HTTP.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher returns a fetcher with the given request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch implements Fetcher.
func (h *HTTPFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if _, err := url.Parse(uri); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %s", ErrSourceUnavailable, uri, resp.Status)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrSourceUnavailable, uri, err)
	}

	return b, nil
}
