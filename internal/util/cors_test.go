package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithCORSEchoesAllowedOrigin(t *testing.T) {
	h := WithCORS([]string{"http://localhost:3000/"}, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/files", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allow origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("allow credentials = %q", got)
	}
}

func TestWithCORSIgnoresUnknownOrigin(t *testing.T) {
	h := WithCORS([]string{"http://localhost:3000"}, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/files", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("simple request should pass through, got %d", rec.Code)
	}
}

func TestWithCORSPreflight(t *testing.T) {
	called := false
	h := WithCORS([]string{"http://localhost:3000"}, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))

	tests := []struct {
		origin string
		want   int
	}{
		{origin: "http://localhost:3000", want: http.StatusNoContent},
		{origin: "https://evil.example", want: http.StatusForbidden},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
		req.Header.Set("Origin", tc.origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("preflight from %s: status %d, want %d", tc.origin, rec.Code, tc.want)
		}
	}
	if called {
		t.Fatalf("preflight must not reach the wrapped handler")
	}
}
