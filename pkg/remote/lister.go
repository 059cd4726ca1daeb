package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"pulpfile/pkg/core"
	"pulpfile/pkg/ignore"
)

var (
	// ErrRemoteUnavailable covers network failures, timeouts and non-2xx
	// responses.
	ErrRemoteUnavailable = errors.New("remote unavailable")
	// ErrInvalidManifest means the remote answered with a manifest that
	// does not parse.
	ErrInvalidManifest = errors.New("invalid manifest")
	ErrUnsupportedURL  = errors.New("unsupported remote url")
)

const DefaultTimeout = 30 * time.Second

type Config struct {
	// Timeout bounds one manifest fetch.
	Timeout time.Duration
	// DownloadTimeout bounds one file download; zero leaves it to ctx.
	DownloadTimeout time.Duration
	UserAgent       string
}

// Lister fetches remote manifests and the files they list. It keeps no
// cache: every Fetch goes to the remote.
type Lister struct {
	client *http.Client
	cfg    Config
	logger *slog.Logger
}

func NewLister(cfg Config, logger *slog.Logger) *Lister {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "pulpfile"
	}
	return &Lister{
		client: &http.Client{Transport: http.DefaultTransport},
		cfg:    cfg,
		logger: logger,
	}
}

// ValidateURL accepts http, https and file URLs.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnsupportedURL, err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return fmt.Errorf("%w: %q has no host", ErrUnsupportedURL, raw)
		}
	case "file":
		if u.Path == "" {
			return fmt.Errorf("%w: %q has no path", ErrUnsupportedURL, raw)
		}
	default:
		return fmt.Errorf("%w: scheme %q", ErrUnsupportedURL, u.Scheme)
	}
	return nil
}

// Fetch downloads and parses the manifest of remote. Entries matching the
// remote's excludes are dropped.
func (l *Lister) Fetch(ctx context.Context, remote *core.Remote) ([]core.ManifestEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	start := time.Now()
	body, err := l.open(ctx, remote.URL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	tr := &trackingReader{r: body}
	entries, err := core.DecodeManifest(tr)
	if err != nil {
		// a transfer cut short is the remote's fault, not the manifest's
		if tr.err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrRemoteUnavailable, remote.URL, tr.err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidManifest, remote.URL, err)
	}

	matcher := ignore.NewMatcher(remote.Excludes)
	kept := entries[:0]
	for _, e := range entries {
		if matcher.Matches(e.RelativePath) {
			continue
		}
		kept = append(kept, e)
	}

	l.logger.Info("remote manifest fetched",
		"remote", remote.Name,
		"url", remote.URL,
		"entries", len(kept),
		"excluded", len(entries)-len(kept),
		"duration", time.Since(start),
	)
	return kept, nil
}

// Open streams one file listed by the manifest. relPath is resolved
// against the directory of the manifest URL.
func (l *Lister) Open(ctx context.Context, remote *core.Remote, relPath string) (io.ReadCloser, error) {
	target, err := ResolveURL(remote.URL, relPath)
	if err != nil {
		return nil, err
	}

	cancel := context.CancelFunc(func() {})
	if l.cfg.DownloadTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, l.cfg.DownloadTimeout)
	}
	body, err := l.open(ctx, target)
	if err != nil {
		cancel()
		return nil, err
	}
	return &cancelReadCloser{ReadCloser: body, cancel: cancel}, nil
}

// ResolveURL joins a manifest-relative path onto the manifest's directory.
func ResolveURL(manifestURL, relPath string) (string, error) {
	base, err := url.Parse(manifestURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnsupportedURL, err)
	}
	if base.Scheme == "file" {
		u := *base
		u.Path = path.Join(path.Dir(base.Path), relPath)
		return u.String(), nil
	}
	return base.ResolveReference(&url.URL{Path: relPath}).String(), nil
}

func (l *Lister) open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedURL, err)
	}

	switch u.Scheme {
	case "file":
		f, err := os.Open(filepath.FromSlash(u.Path))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
		}
		return f, nil
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnsupportedURL, err)
		}
		req.Header.Set("User-Agent", l.cfg.UserAgent)

		resp, err := l.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: GET %s: %s", ErrRemoteUnavailable, rawURL, resp.Status)
		}
		return resp.Body, nil
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedURL, u.Scheme)
	}
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

// trackingReader remembers the first transport error seen while reading.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}
