package auth

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLoginHandler_BadBody(t *testing.T) {
	svc, _ := newTestAuth(t)
	h := NewHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader([]byte(`{"username":`)))
	w := httptest.NewRecorder()

	h.Login(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestLoginHandler_WrongPassword(t *testing.T) {
	svc, conn := newTestAuth(t)
	seedAuthUser(t, conn, "alice", "s3cret", true)
	h := NewHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader([]byte(`{"username":"alice","password":"nope"}`)))
	w := httptest.NewRecorder()

	h.Login(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRequireAuth_RoundTrip(t *testing.T) {
	svc, conn := newTestAuth(t)
	seedAuthUser(t, conn, "alice", "s3cret", true)
	h := NewHandler(svc)

	token, _, err := svc.Login(context.Background(), "alice", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	var sawUser *User
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, _ := CurrentUser(r.Context())
		sawUser = u
		w.WriteHeader(http.StatusOK)
	})
	protected := h.RequireAuth(next)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	protected.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if sawUser == nil || sawUser.Username != "alice" {
		t.Fatalf("expected alice in context, got %+v", sawUser)
	}
}

func TestRequireAuth_MissingOrBadToken(t *testing.T) {
	svc, _ := newTestAuth(t)
	h := NewHandler(svc)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next must not run without a valid token")
	})
	protected := h.RequireAuth(next)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	w := httptest.NewRecorder()
	protected.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without header, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	protected.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", w.Code)
	}
}
