package server

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newRouter(buf *bytes.Buffer) chi.Router {
	r := chi.NewRouter()
	r.Use(HTTPMiddleware(newLogger(buf))...)
	return r
}

func TestHTTPMiddleware_LogsStatus(t *testing.T) {
	var buf bytes.Buffer
	r := newRouter(&buf)
	r.Get("/tasks/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), "status=418")
	assert.Contains(t, buf.String(), "path=/tasks/")
	assert.Contains(t, buf.String(), "bytes=15")
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "request_id=")
}

func TestHTTPMiddleware_RecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	r := newRouter(&buf)
	r.Post("/repositories/", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/repositories/", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "panic recovered")
	assert.Contains(t, buf.String(), "panic=boom")
	assert.Contains(t, buf.String(), "status=500")
}

func TestHTTPMiddleware_RepanicsAbort(t *testing.T) {
	var buf bytes.Buffer
	r := newRouter(&buf)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	})

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.NotContains(t, buf.String(), "panic recovered")
}

func TestUnaryInterceptors(t *testing.T) {
	var buf bytes.Buffer
	i := NewInterceptors(newLogger(&buf))
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	// 1. success
	resp, err := i.UnaryLogging(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Contains(t, buf.String(), "code=OK")

	// 2. panic becomes Internal
	_, err = i.UnaryRecovery(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Contains(t, buf.String(), "panic recovered")

	// 3. errors are logged with their code
	buf.Reset()
	_, _ = i.UnaryLogging(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.NotFound, "nope")
	})
	assert.Contains(t, buf.String(), "code=NotFound")
	assert.Contains(t, buf.String(), "level=WARN")
}
