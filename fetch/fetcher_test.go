package fetch

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/git-pkgs/cargolock/internal/core"
)

// crateArchive builds a gzipped tarball laid out the way cargo package
// writes it: every file under "<name>-<version>/".
func crateArchive(t *testing.T, name, version string, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	paths := make([]string, 0, len(files)+1)
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	manifest := fmt.Sprintf("[package]\nname = %q\nversion = %q\n", name, version)
	write := func(path, body string) {
		hdr := &tar.Header{Name: name + "-" + version + "/" + path, Mode: 0o644, Size: int64(len(body))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	write("Cargo.toml", manifest)
	for _, path := range paths {
		write(path, files[path])
	}

	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestFetchCrate(t *testing.T) {
	crate := crateArchive(t, "serde", "1.0.0", map[string]string{"src/lib.rs": "pub fn f() {}\n"})
	checksum := sum(string(crate))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/serde/1.0.0/download" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/x-tar")
		w.Header().Set("Content-Length", strconv.Itoa(len(crate)))
		w.Header().Set("ETag", `"`+checksum+`"`)
		_, _ = w.Write(crate)
	}))
	defer server.Close()

	f := NewFetcher()
	defer f.Close()

	artifact, err := f.Fetch(context.Background(), server.URL+"/serde/1.0.0/download")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	defer func() { _ = artifact.Body.Close() }()

	if artifact.Size != int64(len(crate)) {
		t.Errorf("Size = %d, want %d", artifact.Size, len(crate))
	}
	if artifact.ContentType != "application/x-tar" {
		t.Errorf("ContentType = %q, want %q", artifact.ContentType, "application/x-tar")
	}
	if artifact.ETag != `"`+checksum+`"` {
		t.Errorf("ETag = %q", artifact.ETag)
	}

	gz, err := gzip.NewReader(artifact.Body)
	if err != nil {
		t.Fatalf("body is not gzip: %v", err)
	}
	hdr, err := tar.NewReader(gz).Next()
	if err != nil {
		t.Fatalf("reading tar: %v", err)
	}
	if hdr.Name != "serde-1.0.0/Cargo.toml" {
		t.Errorf("first entry = %q, want serde-1.0.0/Cargo.toml", hdr.Name)
	}
}

func TestFetchNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := NewFetcher()
	_, err := f.Fetch(context.Background(), server.URL+"/missing.crate")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Fetch = %v, want ErrNotFound", err)
	}
}

func TestFetchRateLimitRetry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("success"))
	}))
	defer server.Close()

	f := NewFetcher(WithBaseDelay(10 * time.Millisecond))
	artifact, err := f.Fetch(context.Background(), server.URL+"/test.crate")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	defer func() { _ = artifact.Body.Close() }()

	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestFetchServerErrorRetry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("success"))
	}))
	defer server.Close()

	f := NewFetcher(WithBaseDelay(10 * time.Millisecond))
	artifact, err := f.Fetch(context.Background(), server.URL+"/test.crate")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	defer func() { _ = artifact.Body.Close() }()

	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestFetchMaxRetries(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	f := NewFetcher(WithMaxRetries(2), WithBaseDelay(10*time.Millisecond))
	_, err := f.Fetch(context.Background(), server.URL+"/test.crate")
	if err == nil {
		t.Error("expected error after max retries")
	}
	if !errors.Is(err, ErrUpstreamDown) {
		t.Errorf("expected ErrUpstreamDown, got %v", err)
	}

	// Initial attempt + 2 retries = 3 total
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestFetchNoRetries(t *testing.T) {
	for _, retries := range []int{0, -1} {
		t.Run(strconv.Itoa(retries), func(t *testing.T) {
			var attempts atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				w.WriteHeader(http.StatusServiceUnavailable)
			}))
			defer server.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			f := NewFetcher(WithMaxRetries(retries), WithBaseDelay(time.Millisecond))
			defer f.Close()

			_, err := f.Fetch(ctx, server.URL+"/serde/1.0.0/download")
			if !errors.Is(err, ErrUpstreamDown) {
				t.Errorf("Fetch = %v, want ErrUpstreamDown", err)
			}
			if n := attempts.Load(); n != 1 {
				t.Errorf("attempts = %d, want 1", n)
			}
		})
	}
}

func TestFetchContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		_, _ = w.Write([]byte("success"))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	f := NewFetcher()
	_, err := f.Fetch(ctx, server.URL+"/test.crate")
	if err == nil {
		t.Error("expected error on context cancellation")
	}
}

func TestFetchUnknownSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Chunked encoding, no Content-Length
		w.Header().Set("Transfer-Encoding", "chunked")
		_, _ = w.Write([]byte("chunk1"))
	}))
	defer server.Close()

	f := NewFetcher()
	artifact, err := f.Fetch(context.Background(), server.URL+"/test.crate")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	defer func() { _ = artifact.Body.Close() }()

	if artifact.Size != -1 {
		t.Errorf("Size = %d, want -1 for unknown", artifact.Size)
	}
}

func TestHead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("Method = %s, want HEAD", r.Method)
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", "12345")
	}))
	defer server.Close()

	f := NewFetcher()
	size, contentType, err := f.Head(context.Background(), server.URL+"/test.crate")
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}

	if size != 12345 {
		t.Errorf("size = %d, want 12345", size)
	}
	if contentType != "application/octet-stream" {
		t.Errorf("contentType = %q, want %q", contentType, "application/octet-stream")
	}
}

func TestHeadNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := NewFetcher()
	_, _, err := f.Head(context.Background(), server.URL+"/missing.crate")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Head = %v, want ErrNotFound", err)
	}
}

func TestFetchUserAgent(t *testing.T) {
	var receivedUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := NewFetcher(WithUserAgent("custom-agent/2.0"))
	artifact, _ := f.Fetch(context.Background(), server.URL+"/test.crate")
	if artifact != nil {
		_ = artifact.Body.Close()
	}

	if receivedUA != "custom-agent/2.0" {
		t.Errorf("User-Agent = %q, want %q", receivedUA, "custom-agent/2.0")
	}
}

func TestFetchLargeCrateVerifies(t *testing.T) {
	crate := crateArchive(t, "big", "2.0.0", map[string]string{
		"src/data.rs": strings.Repeat("// padding\n", 100*1024),
	})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(crate)
	}))
	defer server.Close()

	source := "sparse+https://cargo.example.com/index/"
	r := NewResolver()
	r.RegisterRegistry(source, server.URL)

	f := NewFetcher()
	defer f.Close()

	pkg := core.Package{Name: "big", Version: "2.0.0", Source: source, Checksum: sum(string(crate))}
	results, err := NewVerifier(f, r).Verify(context.Background(), []core.Package{pkg})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if results[0].Status != StatusVerified {
		t.Errorf("Status = %q, want verified (err %v)", results[0].Status, results[0].Err)
	}
	if results[0].URL != server.URL+"/big/2.0.0/download" {
		t.Errorf("URL = %q", results[0].URL)
	}
}

func TestFetchBackoffSpacing(t *testing.T) {
	var retryTimes []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		retryTimes = append(retryTimes, time.Now())
		if len(retryTimes) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("success"))
	}))
	defer server.Close()

	f := NewFetcher(WithBaseDelay(50 * time.Millisecond))
	defer f.Close()
	artifact, err := f.Fetch(context.Background(), server.URL+"/test.crate")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	defer func() { _ = artifact.Body.Close() }()

	if len(retryTimes) != 3 {
		t.Fatalf("attempts = %d, want 3", len(retryTimes))
	}
	// 50ms with 10% randomization, so never below 45ms.
	if d := retryTimes[1].Sub(retryTimes[0]); d < 45*time.Millisecond {
		t.Errorf("first retry after %v, want at least 45ms", d)
	}
}

func TestFetchAuthHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := NewFetcher(WithAuthFunc(func(url string) (string, string) {
		if strings.HasPrefix(url, server.URL) {
			return "Authorization", "token-123"
		}
		return "", ""
	}))
	defer f.Close()

	artifact, err := f.Fetch(context.Background(), server.URL+"/private.crate")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	_ = artifact.Body.Close()

	if gotAuth != "token-123" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "token-123")
	}
}

func TestFetchClientErrorNotRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("denied"))
	}))
	defer server.Close()

	f := NewFetcher(WithBaseDelay(time.Millisecond))
	defer f.Close()
	_, err := f.Fetch(context.Background(), server.URL+"/test.crate")
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("Fetch = %v, want 403 error", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	f := NewFetcher(WithDNSRefresh(time.Millisecond))
	f.Close()
	f.Close()
}

func TestFetchDNSCaching(t *testing.T) {
	var requestCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := NewFetcher()
	defer f.Close()

	for _, version := range []string{"1.0.0", "1.0.1", "1.1.0"} {
		artifact, err := f.Fetch(context.Background(), server.URL+"/serde/"+version+"/download")
		if err != nil {
			t.Fatalf("Fetch %s failed: %v", version, err)
		}
		_ = artifact.Body.Close()
	}

	if n := requestCount.Load(); n != 3 {
		t.Errorf("requestCount = %d, want 3", n)
	}
}
