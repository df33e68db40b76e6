package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app-debug.apk")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func TestPut(t *testing.T) {
	data := []byte("pretend this is an APK")

	var got []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/octet-stream" {
			t.Errorf("expected content-type application/octet-stream, got %s", ct)
		}
		if r.ContentLength != int64(len(data)) {
			t.Errorf("expected content length %d, got %d", len(data), r.ContentLength)
		}
		got, _ = io.ReadAll(r.Body)
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	err := client.Put(context.Background(), server.URL+"/upload?X-Amz-Signature=secret", writeFile(t, data), "application/octet-stream")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	if string(got) != string(data) {
		t.Errorf("server received %q, want %q", got, data)
	}
}

func TestPutFailureCarriesReason(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	err := client.Put(context.Background(), server.URL+"/upload?X-Amz-Signature=secret", writeFile(t, []byte("x")), "application/octet-stream")

	var terr *TransferError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *TransferError, got %v", err)
	}
	if terr.StatusCode != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", terr.StatusCode)
	}
	if terr.Reason != "Forbidden" {
		t.Errorf("expected reason 'Forbidden', got %q", terr.Reason)
	}
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected error to wrap ErrForbidden, got %v", err)
	}
	if strings.Contains(err.Error(), "secret") {
		t.Errorf("error leaks pre-signed query: %s", err.Error())
	}
	if n := attempts.Load(); n != 1 {
		t.Errorf("uploads must not be retried, got %d attempts", n)
	}
}

func TestPutMissingFile(t *testing.T) {
	client := NewClient(DefaultOptions())
	err := client.Put(context.Background(), "http://127.0.0.1:1/never", filepath.Join(t.TempDir(), "missing.apk"), "application/octet-stream")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "logcat output")
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	body, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "logcat output" {
		t.Errorf("expected 'logcat output', got %q", data)
	}
}

func TestGetNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	_, err := client.Get(context.Background(), server.URL)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRetryOnServerError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "ok")
	}))
	defer server.Close()

	opts := DefaultOptions()
	opts.RetryBackoff = 10 * time.Millisecond
	opts.RetryMaxBackoff = 50 * time.Millisecond

	client := NewClient(opts)
	body, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	body.Close()

	if n := attempts.Load(); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestRetryExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	opts := DefaultOptions()
	opts.RetryAttempts = 2
	opts.RetryBackoff = time.Millisecond
	opts.RetryMaxBackoff = 5 * time.Millisecond

	client := NewClient(opts)
	_, err := client.Get(context.Background(), server.URL)

	var terr *TransferError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *TransferError, got %v", err)
	}
	if terr.StatusCode != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", terr.StatusCode)
	}
	if !errors.Is(err, ErrServerError) {
		t.Errorf("expected ErrServerError, got %v", err)
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"https://bucket/key?X-Amz-Signature=abc", "https://bucket/key"},
		{"https://bucket/key", "https://bucket/key"},
		{"", ""},
	}

	for _, tt := range tests {
		if result := redact(tt.input); result != tt.expected {
			t.Errorf("redact(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewClient(DefaultOptions())
	_, err := client.Get(ctx, server.URL)
	if err == nil {
		t.Error("expected error due to context cancellation")
	}
}
