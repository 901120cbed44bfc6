package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormaliseBasePath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"bot", "/bot"},
		{"/bot", "/bot"},
		{"/bot/", "/bot"},
		{"  /bot  ", "/bot"},
	}
	for _, tc := range cases {
		if got := normaliseBasePath(tc.in); got != tc.want {
			t.Fatalf("normaliseBasePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMountWithBasePath(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Path", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	handler := mountWithBasePath("/bot", inner)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bot/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 under base path, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Path"); got != "/healthz" {
		t.Fatalf("expected trimmed path /healthz, got %q", got)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 outside base path, got %d", rec.Code)
	}

	// A prefix match must respect the path segment boundary.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/botnet/healthz", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for sibling prefix, got %d", rec.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	healthHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json content type, got %q", ct)
	}

	rec = httptest.NewRecorder()
	healthHandler(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
