package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"ticketflow/internal/auth"
	"ticketflow/internal/model"
)

var testTokenConfig = auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}

func tokenFor(t *testing.T, id string, role model.Role) string {
	t.Helper()
	tok, err := auth.CreateToken(model.User{ID: id, Email: id + "@x.com", Role: role}, testTokenConfig)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	return tok
}

func doRequest(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth_SetsClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tok := tokenFor(t, "user-1", model.RoleAgent)

	r := gin.New()
	r.GET("/", RequireAuth(testTokenConfig), func(c *gin.Context) {
		uid, ok := UserIDFromContext(c)
		claims, _ := ClaimsFromContext(c)
		if !ok || uid != "user-1" || claims.Role != model.RoleAgent {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})

	if w := doRequest(r, "Bearer "+tok); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := doRequest(r, "bearer "+tok); w.Code != http.StatusOK {
		t.Fatalf("expected case-insensitive scheme, got %d", w.Code)
	}
}

func TestRequireAuth_Rejects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", RequireAuth(testTokenConfig), func(c *gin.Context) { c.Status(http.StatusOK) })

	other, err := auth.CreateToken(model.User{ID: "u1", Role: model.RoleClient}, auth.TokenConfig{Secret: "other", Expiry: time.Hour})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	for _, h := range []string{"", "Bearer", "Basic abc", "Bearer not-a-jwt", "Bearer " + other} {
		if w := doRequest(r, h); w.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", h, w.Code)
		}
	}
}

func TestRequireRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", RequireAuth(testTokenConfig), RequireRoles(model.RoleAdmin, model.RoleAgent), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	cases := map[model.Role]int{
		model.RoleAdmin:  http.StatusOK,
		model.RoleAgent:  http.StatusOK,
		model.RoleClient: http.StatusForbidden,
	}
	for role, want := range cases {
		if w := doRequest(r, "Bearer "+tokenFor(t, "u-"+string(role), role)); w.Code != want {
			t.Fatalf("role %q: expected %d, got %d", role, want, w.Code)
		}
	}

	// An invalid token fails before the role check.
	if w := doRequest(r, "Bearer junk"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", w.Code)
	}
}

func TestRequireRoles_EmptyAllowsAnyAuthenticated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", RequireAuth(testTokenConfig), RequireRoles(), func(c *gin.Context) { c.Status(http.StatusOK) })

	if w := doRequest(r, "Bearer "+tokenFor(t, "c1", model.RoleClient)); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS([]string{"http://localhost:5173/"}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Fatalf("unexpected preflight: %d %v", w.Code, w.Header())
	}

	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown origin preflight, got %d", w.Code)
	}

	check := OriginChecker([]string{"http://localhost:5173"})
	ok := httptest.NewRequest(http.MethodGet, "/", nil)
	ok.Header.Set("Origin", "http://localhost:5173")
	bad := httptest.NewRequest(http.MethodGet, "/", nil)
	bad.Header.Set("Origin", "http://evil.example")
	if !check(ok) || check(bad) || !check(httptest.NewRequest(http.MethodGet, "/", nil)) {
		t.Fatalf("unexpected origin checker results")
	}
}
