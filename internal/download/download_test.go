package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/crosspack-dev/crosspack/internal/log"
)

func TestFetch_DownloadsAndCaches(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte("artifact-bytes"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "cache", "artifact.tar.gz")
	d := New(log.NewNoop())

	status, err := d.Fetch(context.Background(), server.URL, dest, false)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if status != StatusDownloaded {
		t.Errorf("status = %s, want downloaded", status)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "artifact-bytes" {
		t.Errorf("content = %q", data)
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Error("part file survived")
	}

	// Second fetch is a cache hit with no request.
	status, err = d.Fetch(context.Background(), server.URL, dest, false)
	if err != nil {
		t.Fatalf("second Fetch() error = %v", err)
	}
	if status != StatusCacheHit {
		t.Errorf("status = %s, want cache-hit", status)
	}
	if requests != 1 {
		t.Errorf("requests = %d, want 1", requests)
	}

	// Force bypasses the cache.
	status, err = d.Fetch(context.Background(), server.URL, dest, true)
	if err != nil {
		t.Fatalf("forced Fetch() error = %v", err)
	}
	if status != StatusDownloaded || requests != 2 {
		t.Errorf("forced fetch: status = %s, requests = %d", status, requests)
	}
}

func TestFetch_NotFoundDoesNotRetry(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.NotFound(w, r)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "artifact")
	_, err := New(log.NewNoop()).Fetch(context.Background(), server.URL, dest, false)
	if err == nil {
		t.Fatal("Fetch() error = nil for 404")
	}
	if requests != 1 {
		t.Errorf("requests = %d, want 1 (no retries on 4xx)", requests)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Error("destination created despite failure")
	}
}

func TestFetch_ServerErrorRetries(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "artifact")
	status, err := New(log.NewNoop()).Fetch(context.Background(), server.URL, dest, false)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if status != StatusDownloaded || requests != 2 {
		t.Errorf("status = %s, requests = %d", status, requests)
	}
}
