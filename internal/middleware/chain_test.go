package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/vocabstore/internal/model"
)

type statusCounter struct {
	statuses []int
}

func (c *statusCounter) RecordHTTPStatus(statusCode int) {
	c.statuses = append(c.statuses, statusCode)
}

func TestMetricsMiddleware_RecordsStatus(t *testing.T) {
	counter := &statusCounter{}
	handler := NewMetricsMiddleware(counter)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/pdfs", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/pdfs", nil))

	if len(counter.statuses) != 2 || counter.statuses[0] != http.StatusCreated {
		t.Errorf("statuses = %v, want [201 201]", counter.statuses)
	}
}

func TestRecoveryMiddleware_ReturnsUnifiedInternalError(t *testing.T) {
	handler := NewRecoveryMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != model.ErrCodeInternal {
		t.Errorf("code = %q, want %q", code, model.ErrCodeInternal)
	}
}

func TestRecoveryMiddleware_ReraisesAbortHandler(t *testing.T) {
	handler := NewRecoveryMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if p := recover(); p != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", p)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	for _, hsts := range []bool{false, true} {
		rec := httptest.NewRecorder()
		NewSecurityHeadersMiddleware(hsts)(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		h := rec.Header()
		if h.Get("X-Content-Type-Options") != "nosniff" || h.Get("X-Frame-Options") != "DENY" {
			t.Errorf("missing basic security headers: %v", h)
		}
		if got := h.Get("Strict-Transport-Security") != ""; got != hsts {
			t.Errorf("hsts=%v: Strict-Transport-Security present = %v", hsts, got)
		}
	}
}

// TestMiddlewareChain_OnChiRouter はCORS → Session → Admin の順で組み立てたチェーンを検証する。
func TestMiddlewareChain_OnChiRouter(t *testing.T) {
	validator := &mockSessionValidator{
		validateFn: func(_ context.Context, token string) (*model.User, error) {
			switch token {
			case "admin-token":
				return &model.User{ID: "admin-1", Role: model.RoleAdmin}, nil
			case "user-token":
				return &model.User{ID: "user-1", Role: model.RoleUser}, nil
			}
			return nil, model.NewUnauthenticatedError()
		},
	}

	r := chi.NewRouter()
	r.Use(NewRecoveryMiddleware())
	r.Use(NewCORSMiddleware(testOrigin))
	r.Get("/api/pdfs", okHandler().ServeHTTP)
	r.Group(func(r chi.Router) {
		r.Use(NewSessionMiddleware(validator))
		r.Get("/api/auth/me", okHandler().ServeHTTP)
		r.With(NewAdminMiddleware()).Post("/api/pdfs", okHandler().ServeHTTP)
	})

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		wantStatus int
	}{
		{name: "public catalog", method: http.MethodGet, path: "/api/pdfs", wantStatus: http.StatusOK},
		{name: "me without token", method: http.MethodGet, path: "/api/auth/me", wantStatus: http.StatusUnauthorized},
		{name: "me with token", method: http.MethodGet, path: "/api/auth/me", token: "user-token", wantStatus: http.StatusOK},
		{name: "admin create by user", method: http.MethodPost, path: "/api/pdfs", token: "user-token", wantStatus: http.StatusForbidden},
		{name: "admin create by admin", method: http.MethodPost, path: "/api/pdfs", token: "admin-token", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("Origin", testOrigin)
			if tt.token != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: tt.token})
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Header().Get("Access-Control-Allow-Origin") != testOrigin {
				t.Error("CORS headers should be present on every response")
			}
		})
	}
}
