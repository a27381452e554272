package asset

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestFetch_StreamsBody(t *testing.T) {
	pdf := []byte("%PDF-1.4 vocabulary")
	var gotUA string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(pdf)
	}))
	defer ts.Close()

	f := NewFetcher(ts.Client(), 1024)
	obj, err := f.Fetch(context.Background(), ts.URL+"/spanish.pdf")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer obj.Body.Close()

	got, err := io.ReadAll(obj.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if !bytes.Equal(got, pdf) {
		t.Errorf("body = %q, want %q", got, pdf)
	}
	if obj.ContentLength != int64(len(pdf)) {
		t.Errorf("ContentLength = %d, want %d", obj.ContentLength, len(pdf))
	}
	if gotUA != userAgent {
		t.Errorf("User-Agent = %q, want %q", gotUA, userAgent)
	}
}

func TestFetch_FollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old.pdf", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new.pdf", http.StatusFound)
	})
	mux.HandleFunc("/new.pdf", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("%PDF"))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	obj, err := NewFetcher(ts.Client(), 0).Fetch(context.Background(), ts.URL+"/old.pdf")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer obj.Body.Close()
	got, _ := io.ReadAll(obj.Body)
	if string(got) != "%PDF" {
		t.Errorf("body = %q", got)
	}
}

func TestFetch_NonOKStatus_ReturnsUnavailable(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusForbidden, http.StatusInternalServerError} {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))

		_, err := NewFetcher(ts.Client(), 1024).Fetch(context.Background(), ts.URL)
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("status %d: expected ErrUnavailable, got %v", status, err)
		}
		ts.Close()
	}
}

func TestFetch_DeclaredSizeOverLimit_ReturnsTooLarge(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "2048")
		_, _ = w.Write(bytes.Repeat([]byte("a"), 2048))
	}))
	defer ts.Close()

	_, err := NewFetcher(ts.Client(), 1024).Fetch(context.Background(), ts.URL)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestFetch_UndeclaredSizeOverLimit_FailsWhileReading(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 4; i++ {
			_, _ = w.Write(bytes.Repeat([]byte("a"), 512))
			flusher.Flush()
		}
	}))
	defer ts.Close()

	obj, err := NewFetcher(ts.Client(), 1024).Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("expected no error before reading, got %v", err)
	}
	defer obj.Body.Close()

	_, err = io.ReadAll(obj.Body)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge while reading, got %v", err)
	}
}

func TestFetch_ExactlyAtLimit_Succeeds(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = w.Write(bytes.Repeat([]byte("a"), 512))
		flusher.Flush()
		_, _ = w.Write(bytes.Repeat([]byte("a"), 512))
	}))
	defer ts.Close()

	obj, err := NewFetcher(ts.Client(), 1024).Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer obj.Body.Close()

	got, err := io.ReadAll(obj.Body)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(got) != 1024 {
		t.Errorf("len = %d, want 1024", len(got))
	}
}

func TestFetch_Timeout_ReturnsUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := ts.Client()
	client.Timeout = 50 * time.Millisecond

	_, err := NewFetcher(client, 1024).Fetch(context.Background(), ts.URL)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestFetch_InvalidURL_ReturnsUnavailable(t *testing.T) {
	_, err := NewFetcher(http.DefaultClient, 1024).Fetch(context.Background(), "://bad")
	if !errors.Is(err, ErrUnavailable) || !strings.Contains(err.Error(), "asset unavailable") {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
