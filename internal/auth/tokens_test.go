package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/testkart/backend-testkart/internal/common"
)

func newTestTokens(t *testing.T) *Tokens {
	t.Helper()
	tok, err := NewTokens(Config{Secret: "unit-test-secret"})
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	return tok
}

func TestSignAndParseRoundTrip(t *testing.T) {
	tok := newTestTokens(t)

	signed, expiry, err := tok.Sign("student-1", RoleStudent)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !expiry.After(time.Now()) {
		t.Fatalf("expected future expiry, got %v", expiry)
	}

	claims, err := tok.Parse(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.StudentID != "student-1" || claims.Role != RoleStudent {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	tok := newTestTokens(t)
	past := time.Now().Add(-2 * time.Hour)
	tok.WithNow(func() time.Time { return past })
	signed, _, err := tok.Sign("student-1", RoleStudent)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tok.WithNow(time.Now)
	if _, err := tok.Parse(signed); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	tok := newTestTokens(t)
	signed, _, err := tok.Sign("student-1", RoleStudent)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	other, err := NewTokens(Config{Secret: "another-secret"})
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	if _, err := other.Parse(signed); err == nil {
		t.Fatal("expected token signed with a different secret to be rejected")
	}
}

func TestRequireStudent(t *testing.T) {
	tok := newTestTokens(t)
	mw := Middleware{Tokens: tok}

	var gotID string
	handler := mw.RequireStudent(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = common.StudentID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cart", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("wrong role", func(t *testing.T) {
		signed, _, err := tok.Sign("admin-1", "admin")
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/cart", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("student passes", func(t *testing.T) {
		signed, _, err := tok.Sign("student-7", RoleStudent)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/cart", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
		if gotID != "student-7" {
			t.Fatalf("expected student id in context, got %q", gotID)
		}
	})
}
