package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testJWTSecret = "test-secret"

func newProtectedRouter(audience string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/me", JWTMiddleware(testJWTSecret, audience), func(c *gin.Context) {
		userID, _ := GetUserID(c.Request.Context())
		c.String(http.StatusOK, userID)
	})
	return router
}

func TestJWTMiddlewareAcceptsIssuedToken(t *testing.T) {
	issuer, err := NewIssuer(testJWTSecret, "fruitscan", time.Hour)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	token, err := issuer.Issue("user-123")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	newProtectedRouter("fruitscan").ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	if resp.Body.String() != "user-123" {
		t.Fatalf("unexpected subject %q", resp.Body.String())
	}
}

func TestJWTMiddlewareRejects(t *testing.T) {
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	expiredToken, _ := expired.SignedString([]byte(testJWTSecret))

	wrongKey := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "user-1"})
	wrongKeyToken, _ := wrongKey.SignedString([]byte("other"))

	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	noSubjectToken, _ := noSubject.SignedString([]byte(testJWTSecret))

	otherAudience, _ := (&Issuer{secret: []byte(testJWTSecret), audience: "elsewhere", ttl: time.Hour, now: time.Now}).Issue("user-1")

	cases := map[string]string{
		"missing header":  "",
		"wrong scheme":    "Basic abc",
		"empty token":     "Bearer ",
		"expired":         "Bearer " + expiredToken,
		"wrong key":       "Bearer " + wrongKeyToken,
		"missing subject": "Bearer " + noSubjectToken,
		"wrong audience":  "Bearer " + otherAudience,
	}
	router := newProtectedRouter("fruitscan")
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected status %d, got %d", name, http.StatusUnauthorized, resp.Code)
		}
	}
}

func TestIssuerDefaults(t *testing.T) {
	if _, err := NewIssuer("  ", "", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}

	issuer, err := NewIssuer(testJWTSecret, "", 0)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return fixed }

	token, err := issuer.Issue("user-7")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(testJWTSecret), nil
	}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := claims.ExpiresAt.Time.Sub(fixed); got != DefaultTokenTTL {
		t.Fatalf("expected ttl %v, got %v", DefaultTokenTTL, got)
	}
	if claims.Subject != "user-7" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}

	if _, err := issuer.Issue(""); err == nil {
		t.Fatal("expected error for empty subject")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret!")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "s3cret!" {
		t.Fatal("expected hashed password")
	}

	ok, err := CheckPassword(hash, "s3cret!")
	if err != nil || !ok {
		t.Fatalf("expected match, got %v %v", ok, err)
	}
	ok, err = CheckPassword(hash, "wrong")
	if err != nil || ok {
		t.Fatalf("expected mismatch without error, got %v %v", ok, err)
	}
	if _, err := CheckPassword("not-a-hash", "s3cret!"); err == nil {
		t.Fatal("expected error for malformed hash")
	}
}
