package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func protectedEcho(t *testing.T, issuer *TokenIssuer) http.Handler {
	t.Helper()
	return issuer.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := GetUserIDFromContext(r.Context())
		if err != nil {
			t.Fatalf("user missing from context: %v", err)
		}
		RespondWithJSON(w, http.StatusOK, map[string]interface{}{
			"user_id": userID,
			"role":    GetRoleFromContext(r.Context()),
		})
	}))
}

func TestIssueAndParse(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)

	token, err := issuer.Issue(42, "expert")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	userID, role, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if userID != 42 || role != "expert" {
		t.Errorf("got (%d, %q), want (42, \"expert\")", userID, role)
	}
}

func TestParseRejectsForeignAndExpiredTokens(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	other := NewTokenIssuer("other-secret", time.Hour)

	foreign, _ := other.Issue(1, "farmer")
	if _, _, err := issuer.Parse(foreign); err != ErrInvalidToken {
		t.Errorf("foreign token: got %v, want ErrInvalidToken", err)
	}

	expired := NewTokenIssuer("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _ := expired.Issue(1, "farmer")
	if _, _, err := issuer.Parse(old); err != ErrInvalidToken {
		t.Errorf("expired token: got %v, want ErrInvalidToken", err)
	}
}

func TestMiddleware(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	token, _ := issuer.Issue(7, "farmer")
	handler := protectedEcho(t, issuer)

	tests := []struct {
		name       string
		header     string
		query      string
		userHeader string
		wantStatus int
	}{
		{name: "no token", wantStatus: http.StatusUnauthorized},
		{name: "malformed header", header: "Token " + token, wantStatus: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "bearer header", header: "Bearer " + token, wantStatus: http.StatusOK},
		{name: "query token", query: "?token=" + token, wantStatus: http.StatusOK},
		{name: "matching user header", header: "Bearer " + token, userHeader: "7", wantStatus: http.StatusOK},
		{name: "mismatched user header", header: "Bearer " + token, userHeader: "8", wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.userHeader != "" {
				req.Header.Set(UserIDHeader, tt.userHeader)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var body struct {
				UserID uint   `json:"user_id"`
				Role   string `json:"role"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.UserID != 7 || body.Role != "farmer" {
				t.Errorf("got %+v", body)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole("expert", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler(rec, req.WithContext(WithUser(req.Context(), 1, "farmer")))
	if rec.Code != http.StatusForbidden {
		t.Errorf("farmer: status = %d, want 403", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler(rec, req.WithContext(WithUser(req.Context(), 2, "expert")))
	if rec.Code != http.StatusNoContent {
		t.Errorf("expert: status = %d, want 204", rec.Code)
	}
}
