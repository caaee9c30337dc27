package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestIssueAndParse(t *testing.T) {
	tok, err := Issue("42", "Asha", "presence-agent", "k", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := Parse(tok.Value, "k", "presence-agent")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	id := claims.Identity()
	if id.Ref != "42" || id.Name != "Asha" {
		t.Fatalf("identity = %+v", id)
	}
}

func TestParseRejects(t *testing.T) {
	good, _ := Issue("42", "Asha", "presence-agent", "k", time.Hour)
	expired, _ := Issue("42", "Asha", "presence-agent", "k", -time.Minute)

	tests := []struct {
		name, token, key, issuer string
	}{
		{"wrong key", good.Value, "other", "presence-agent"},
		{"wrong issuer", good.Value, "k", "someone-else"},
		{"expired", expired.Value, "k", "presence-agent"},
		{"garbage", "not-a-jwt", "k", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.token, tt.key, tt.issuer); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestIssueRequiresNameAndSubject(t *testing.T) {
	if _, err := Issue("", "Asha", "i", "k", time.Hour); err == nil {
		t.Error("empty subject accepted")
	}
	if _, err := Issue("42", "", "i", "k", time.Hour); err == nil {
		t.Error("empty name accepted")
	}
}

func TestRequireIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", RequireIdentity("k", "presence-agent"), func(c *gin.Context) {
		id := IdentityFrom(c)
		c.JSON(http.StatusOK, gin.H{"ref": id.Ref, "name": id.Name})
	})

	tok, _ := Issue("42", "Asha", "presence-agent", "k", time.Hour)
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + tok.Value, http.StatusOK},
		{"lowercase scheme", "bearer " + tok.Value, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}
