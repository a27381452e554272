package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

const testOrigin = "http://localhost:3000"

func TestCORSMiddleware_AllowedOrigin_SetsHeaders(t *testing.T) {
	handler := NewCORSMiddleware(testOrigin)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/pdfs", nil)
	req.Header.Set("Origin", testOrigin)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	h := rec.Header()
	if h.Get("Access-Control-Allow-Origin") != testOrigin {
		t.Errorf("Allow-Origin = %q, want %q", h.Get("Access-Control-Allow-Origin"), testOrigin)
	}
	if h.Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("Allow-Credentials should be true")
	}
	if h.Get("Access-Control-Allow-Headers") != "Content-Type, Authorization" {
		t.Errorf("Allow-Headers = %q", h.Get("Access-Control-Allow-Headers"))
	}
	if h.Get("Vary") != "Origin" {
		t.Errorf("Vary = %q, want Origin", h.Get("Vary"))
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestCORSMiddleware_Preflight_Returns204(t *testing.T) {
	called := false
	handler := NewCORSMiddleware(testOrigin)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/orders/create-checkout-session", nil)
	req.Header.Set("Origin", testOrigin)
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if called {
		t.Error("preflight must not reach the handler")
	}
}

func TestCORSMiddleware_OtherOrigin_NoCORSHeaders(t *testing.T) {
	handler := NewCORSMiddleware(testOrigin)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/pdfs", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want empty", got)
	}
}

func TestCORSMiddleware_NoOrigin_PassesThrough(t *testing.T) {
	handler := NewCORSMiddleware(testOrigin)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/orders/webhook", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
