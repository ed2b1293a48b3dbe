package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPFetcherDownloadsObject(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte("object-bytes"))
	}))
	defer srv.Close()

	f := newTestHTTPFetcher(t, srv.URL+"/bucket/", RetryPolicy{})
	var buf bytes.Buffer
	if err := f.Fetch(context.Background(), "org.allenai/file-v1.txt", &buf); err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if buf.String() != "object-bytes" {
		t.Fatalf("unexpected body: %q", buf.String())
	}
	if gotPath != "/bucket/org.allenai/file-v1.txt" {
		t.Fatalf("unexpected request path: %s", gotPath)
	}
}

func TestHTTPFetcherMapsNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newTestHTTPFetcher(t, srv.URL, RetryPolicy{MaxRetries: 3, InitialBackoff: time.Millisecond})
	err := f.Fetch(context.Background(), "g/missing-v1", &bytes.Buffer{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("404 不应重试, calls=%d", calls.Load())
	}
}

func TestHTTPFetcherRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestHTTPFetcher(t, srv.URL, RetryPolicy{MaxRetries: 3, InitialBackoff: time.Millisecond})
	var buf bytes.Buffer
	if err := f.Fetch(context.Background(), "g/flaky-v1", &buf); err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if buf.String() != "ok" || calls.Load() != 3 {
		t.Fatalf("body=%q calls=%d", buf.String(), calls.Load())
	}
}

func TestHTTPFetcherGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newTestHTTPFetcher(t, srv.URL, RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond})
	err := f.Fetch(context.Background(), "g/down-v1", &bytes.Buffer{})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected StatusError 502, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestHTTPFetcherPropagatesForbiddenWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := newTestHTTPFetcher(t, srv.URL, RetryPolicy{MaxRetries: 3, InitialBackoff: time.Millisecond})
	err := f.Fetch(context.Background(), "g/secret-v1", &bytes.Buffer{})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected StatusError 403, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("403 不应映射为 ErrNotFound")
	}
	if calls.Load() != 1 {
		t.Fatalf("403 不应重试, calls=%d", calls.Load())
	}
}

func TestHTTPFetcherSendsBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("private"))
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(HTTPOptions{Upstream: srv.URL, Username: "alice", Password: "s3cret"})
	if err != nil {
		t.Fatalf("new fetcher error: %v", err)
	}
	var buf bytes.Buffer
	if err := f.Fetch(context.Background(), "g/private-v1", &buf); err != nil {
		t.Fatalf("fetch error: %v", err)
	}
}

func TestNewHTTPFetcherRejectsBadScheme(t *testing.T) {
	if _, err := NewHTTPFetcher(HTTPOptions{Upstream: "ftp://example.com"}); err == nil {
		t.Fatalf("仅支持 http/https 上游")
	}
}

func TestNewClientAppliesHeaderTimeout(t *testing.T) {
	client := NewClient(45 * time.Second)
	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("unexpected transport %T", client.Transport)
	}
	if transport.ResponseHeaderTimeout != 45*time.Second {
		t.Fatalf("expected header timeout 45s, got %s", transport.ResponseHeaderTimeout)
	}
	if client.Timeout != 0 {
		t.Fatalf("整体超时应保持为 0，避免截断大文件下载")
	}
}

func newTestHTTPFetcher(t *testing.T, upstream string, policy RetryPolicy) *HTTPFetcher {
	t.Helper()
	f, err := NewHTTPFetcher(HTTPOptions{Upstream: upstream, Retry: policy})
	if err != nil {
		t.Fatalf("new fetcher error: %v", err)
	}
	return f
}
