package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func serveAdmin(t *testing.T, secret, header string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/admin/sessions/s1/turns", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	called := false
	AdminJWT(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		claims, ok := AdminClaimsFromContext(r.Context())
		if !ok || claims.Subject != "ops-1" {
			t.Fatalf("expected operator claims in context, got %+v", claims)
		}
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)
	return rec, called
}

func TestAdminJWTMissingSecret(t *testing.T) {
	rec, called := serveAdmin(t, "", "Bearer "+signedOperatorToken(t, "secret", RoleOperator, jwt.SigningMethodHS256))
	if called || rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAdminJWTMissingHeader(t *testing.T) {
	rec, called := serveAdmin(t, "secret", "")
	if called || rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAdminJWTWrongSecret(t *testing.T) {
	rec, called := serveAdmin(t, "secret", "Bearer "+signedOperatorToken(t, "wrong", RoleOperator, jwt.SigningMethodHS256))
	if called || rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAdminJWTRejectsOtherAlgorithms(t *testing.T) {
	rec, called := serveAdmin(t, "secret", "Bearer "+signedOperatorToken(t, "secret", RoleOperator, jwt.SigningMethodHS512))
	if called || rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAdminJWTRequiresRole(t *testing.T) {
	rec, called := serveAdmin(t, "secret", "Bearer "+signedOperatorToken(t, "secret", "patient", jwt.SigningMethodHS256))
	if called || rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAdminJWTValidToken(t *testing.T) {
	rec, called := serveAdmin(t, "secret", "Bearer "+signedOperatorToken(t, "secret", RoleOperator, jwt.SigningMethodHS256))
	if !called || rec.Code != http.StatusOK {
		t.Fatalf("expected handler with 200, got called=%v code=%d", called, rec.Code)
	}
}

func signedOperatorToken(t *testing.T, secret, role string, method jwt.SigningMethod) string {
	t.Helper()
	claims := OperatorClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
