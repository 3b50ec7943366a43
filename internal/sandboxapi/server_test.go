package sandboxapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthRequiresNoAuth(t *testing.T) {
	s := &Server{cfg: Config{BearerToken: "secret"}}
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestExecuteRequiresBearerToken(t *testing.T) {
	s := &Server{cfg: Config{BearerToken: "secret", MaxCodeBytes: 1024}}
	req := httptest.NewRequest(http.MethodPost, "/v1/execute", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
