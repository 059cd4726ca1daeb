package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pulpfile/pkg/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func digestOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func newTestLister(cfg Config) *Lister {
	return NewLister(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// serveFiles publishes a manifest plus the files it lists.
func serveFiles(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	manifest := ""
	for p, body := range files {
		manifest += fmt.Sprintf("%s,%s,%d\n", p, digestOf(body), len(body))
		mux.HandleFunc("/repo/"+p, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, body)
		})
	}
	mux.HandleFunc("/repo/PULP_MANIFEST", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, manifest)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLister_FetchAndOpen(t *testing.T) {
	srv := serveFiles(t, map[string]string{"a.txt": "A", "sub/b.txt": "BB"})
	l := newTestLister(Config{Timeout: time.Second})
	r := &core.Remote{Name: "up", URL: srv.URL + "/repo/PULP_MANIFEST"}
	ctx := context.Background()

	entries, err := l.Fetch(ctx, r)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	body, err := l.Open(ctx, r, "sub/b.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, "BB", string(data))
}

func TestLister_Excludes(t *testing.T) {
	srv := serveFiles(t, map[string]string{"a.txt": "A", "big.iso": "ISO"})
	l := newTestLister(Config{})
	r := &core.Remote{URL: srv.URL + "/repo/PULP_MANIFEST", Excludes: []string{"*.iso"}}

	entries, err := l.Fetch(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].RelativePath)
}

func TestLister_Unavailable(t *testing.T) {
	l := newTestLister(Config{Timeout: 200 * time.Millisecond})
	ctx := context.Background()

	t.Run("non-2xx", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()
		_, err := l.Fetch(ctx, &core.Remote{URL: srv.URL + "/PULP_MANIFEST"})
		assert.ErrorIs(t, err, ErrRemoteUnavailable)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()
		_, err := l.Fetch(ctx, &core.Remote{URL: srv.URL + "/PULP_MANIFEST"})
		assert.ErrorIs(t, err, ErrRemoteUnavailable)
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		_, err := l.Fetch(ctx, &core.Remote{URL: url + "/PULP_MANIFEST"})
		assert.ErrorIs(t, err, ErrRemoteUnavailable)
	})
}

func TestLister_InvalidManifest(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
	}{
		{"two fields", "a.txt,abc\n"},
		{"bad digest", "a.txt,xyz,1\n"},
		{"bad size", fmt.Sprintf("a.txt,%s,-1\n", digestOf("A"))},
		{"duplicate path", fmt.Sprintf("a.txt,%s,1\na.txt,%s,1\n", digestOf("A"), digestOf("B"))},
	}
	l := newTestLister(Config{})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.manifest)
			}))
			defer srv.Close()

			_, err := l.Fetch(context.Background(), &core.Remote{URL: srv.URL + "/PULP_MANIFEST"})
			assert.ErrorIs(t, err, ErrInvalidManifest)
		})
	}
}

func TestLister_FileScheme(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "x.txt"), []byte("X"), 0644))
	manifest := fmt.Sprintf("sub/x.txt,%s,1\n", digestOf("X"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "PULP_MANIFEST"), []byte(manifest), 0644))

	l := newTestLister(Config{})
	r := &core.Remote{URL: "file://" + filepath.ToSlash(filepath.Join(dir, "PULP_MANIFEST"))}

	entries, err := l.Fetch(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	body, err := l.Open(context.Background(), r, "sub/x.txt")
	require.NoError(t, err)
	defer body.Close()
	data, _ := io.ReadAll(body)
	assert.Equal(t, "X", string(data))

	_, err = l.Fetch(context.Background(), &core.Remote{URL: "file://" + filepath.ToSlash(filepath.Join(dir, "missing"))})
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("https://example.com/PULP_MANIFEST"))
	assert.NoError(t, ValidateURL("file:///srv/repo/PULP_MANIFEST"))
	assert.ErrorIs(t, ValidateURL("ftp://example.com/x"), ErrUnsupportedURL)
	assert.ErrorIs(t, ValidateURL("http:///nohost"), ErrUnsupportedURL)
}

func TestResolveURL(t *testing.T) {
	got, err := ResolveURL("https://h/a/b/PULP_MANIFEST", "c/d.txt")
	require.NoError(t, err)
	assert.Equal(t, "https://h/a/b/c/d.txt", got)

	got, err = ResolveURL("file:///srv/repo/PULP_MANIFEST", "x.txt")
	require.NoError(t, err)
	assert.Equal(t, "file:///srv/repo/x.txt", got)
}
