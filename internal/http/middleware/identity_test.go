package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIdentity_AndRequireUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Identity())
	r.GET("/open", func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })
	r.GET("/closed", RequireUser(), func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })

	cases := []struct {
		path, header string
		code         int
		body         string
	}{
		{"/open", "", http.StatusOK, ""},
		{"/open", "  u1 ", http.StatusOK, "u1"},
		{"/open", strings.Repeat("x", maxUserIDLen+1), http.StatusOK, ""},
		{"/closed", "u1", http.StatusOK, "u1"},
		{"/closed", "", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.header != "" {
			req.Header.Set(HeaderUserID, tc.header)
		}
		r.ServeHTTP(w, req)
		if w.Code != tc.code {
			t.Fatalf("%s %q: status %d, want %d", tc.path, tc.header, w.Code, tc.code)
		}
		if tc.code == http.StatusOK && w.Body.String() != tc.body {
			t.Fatalf("%s %q: body %q, want %q", tc.path, tc.header, w.Body.String(), tc.body)
		}
		if tc.code == http.StatusUnauthorized && !strings.Contains(w.Body.String(), `"unauthorized"`) {
			t.Fatalf("unexpected 401 body: %s", w.Body.String())
		}
	}
}
