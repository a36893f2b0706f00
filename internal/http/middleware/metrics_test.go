package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RouteLabels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())
	r.GET("/conversations/:id", func(c *gin.Context) { c.String(http.StatusOK, "hello") })

	route := apiRequests.WithLabelValues("GET", "/conversations/:id", "200")
	miss := apiRequests.WithLabelValues("GET", unmatchedRoute, "404")
	baseRoute, baseMiss := testutil.ToFloat64(route), testutil.ToFloat64(miss)

	for _, p := range []string{"/conversations/a", "/conversations/b", "/nope"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	if got := testutil.ToFloat64(route); got != baseRoute+2 {
		t.Fatalf("route counter = %v, want %v", got, baseRoute+2)
	}
	if got := testutil.ToFloat64(miss); got != baseMiss+1 {
		t.Fatalf("unmatched counter = %v, want %v", got, baseMiss+1)
	}
	if got := testutil.ToFloat64(apiInflight); got != 0 {
		t.Fatalf("inflight = %v, want 0", got)
	}
}

func TestMetrics_CountsReplays(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())
	r.POST("/messages", func(c *gin.Context) {
		if c.GetHeader("X-Test-Replay") != "" {
			c.Set(ctxKeyIdemReplay, true)
		}
		c.Status(http.StatusCreated)
	})

	replays := apiReplays.WithLabelValues("/messages")
	base := testutil.ToFloat64(replays)

	req := httptest.NewRequest(http.MethodPost, "/messages", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)
	req = httptest.NewRequest(http.MethodPost, "/messages", nil)
	req.Header.Set("X-Test-Replay", "1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	if got := testutil.ToFloat64(replays); got != base+1 {
		t.Fatalf("replays = %v, want %v", got, base+1)
	}
}
