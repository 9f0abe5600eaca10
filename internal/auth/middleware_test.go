package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func newProtectedRouter(secret, audience string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/me", JWTMiddleware(secret, audience), func(c *gin.Context) {
		id, ok := InspectorID(c.Request.Context())
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, id)
	})
	return router
}

func serve(router *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestJWTMiddlewareAcceptsIssuedToken(t *testing.T) {
	token, err := IssueToken("secret", "dresscheck", "inspector-7", time.Hour)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	rec := serve(newProtectedRouter("secret", "dresscheck"), "Bearer "+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "inspector-7" {
		t.Fatalf("unexpected inspector %q", rec.Body.String())
	}
}

func TestJWTMiddlewareRejections(t *testing.T) {
	valid, err := IssueToken("secret", "dresscheck", "inspector-7", time.Hour)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	expired, err := IssueToken("secret", "dresscheck", "inspector-7", -time.Minute)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	otherAudience, err := IssueToken("secret", "elsewhere", "inspector-7", time.Hour)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Audience: jwt.ClaimStrings{"dresscheck"},
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	cases := []struct {
		name   string
		secret string
		header string
	}{
		{name: "missing header", secret: "secret"},
		{name: "wrong scheme", secret: "secret", header: "Basic " + valid},
		{name: "empty token", secret: "secret", header: "Bearer  "},
		{name: "wrong secret", secret: "other", header: "Bearer " + valid},
		{name: "expired", secret: "secret", header: "Bearer " + expired},
		{name: "audience", secret: "secret", header: "Bearer " + otherAudience},
		{name: "subject", secret: "secret", header: "Bearer " + noSubject},
		{name: "no secret configured", secret: "", header: "Bearer " + valid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(newProtectedRouter(tc.secret, "dresscheck"), tc.header)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestIssueTokenRequiresSecretAndInspector(t *testing.T) {
	if _, err := IssueToken(" ", "", "inspector", time.Hour); err != ErrMissingSecret {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
	if _, err := IssueToken("secret", "", "", time.Hour); err == nil {
		t.Fatal("expected missing inspector to fail")
	}
}
