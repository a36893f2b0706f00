package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type lookupCall struct {
	user, conv, key string
}

func newIdemRouter(t *testing.T, opts IdempotencyOptions, exists bool, calls *[]lookupCall) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	lookup := func(_ context.Context, userID, conversationID, key string, _ time.Time) (bool, error) {
		*calls = append(*calls, lookupCall{userID, conversationID, key})
		return exists, nil
	}
	r := gin.New()
	r.Use(Identity(), IdempotencyValidator(opts, lookup))
	handler := func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		key, _ := GetIdempotencyKey(c)
		c.JSON(http.StatusOK, gin.H{
			"key":    key,
			"scope":  IdempotencyScope(c),
			"replay": IsReplay(c),
			"bypass": IsRateBypass(c),
			"body":   string(body),
		})
	}
	r.POST("/conversations/:id/messages", handler)
	r.POST("/messages", handler)
	return r
}

func post(r http.Handler, path, key, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderUserID, "u1")
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotency_NoHeaderIsNoop(t *testing.T) {
	var calls []lookupCall
	r := newIdemRouter(t, IdempotencyOptions{}, true, &calls)
	w := post(r, "/conversations/c1/messages", "", `{}`)
	if w.Code != http.StatusOK || len(calls) != 0 || strings.Contains(w.Body.String(), `"replay":true`) {
		t.Fatalf("unexpected: %d %s calls=%v", w.Code, w.Body.String(), calls)
	}
}

func TestIdempotency_RejectsMalformedKeys(t *testing.T) {
	var calls []lookupCall
	r := newIdemRouter(t, IdempotencyOptions{MaxLen: 8}, false, &calls)
	for _, key := range []string{"has space", "waytoolongkey", "bad/slash"} {
		w := post(r, "/conversations/c1/messages", key, `{}`)
		if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "bad_idempotency_key") {
			t.Fatalf("%q: expected 400, got %d %s", key, w.Code, w.Body.String())
		}
	}
	if len(calls) != 0 {
		t.Fatalf("lookup must not run for invalid keys")
	}
}

func TestIdempotency_ScopeByParamMarksReplay(t *testing.T) {
	var calls []lookupCall
	r := newIdemRouter(t, IdempotencyOptions{}, true, &calls)
	w := post(r, "/conversations/c1/messages", "k-1", `{}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if len(calls) != 1 || calls[0] != (lookupCall{"u1", "c1", "k-1"}) {
		t.Fatalf("lookup calls = %v", calls)
	}
	b := w.Body.String()
	if !strings.Contains(b, `"replay":true`) || !strings.Contains(b, `"bypass":true`) || !strings.Contains(b, `"scope":"c1"`) {
		t.Fatalf("replay not marked: %s", b)
	}
}

func TestIdempotency_ScopeByJSONFieldKeepsBody(t *testing.T) {
	var calls []lookupCall
	r := newIdemRouter(t, IdempotencyOptions{Scope: ScopeByJSONField("conversation_id")}, false, &calls)

	w := post(r, "/messages", "k-2", `{"conversation_id":"c9","content":"hi"}`)
	b := w.Body.String()
	if len(calls) != 1 || calls[0].conv != "c9" {
		t.Fatalf("lookup calls = %v", calls)
	}
	if !strings.Contains(b, `"replay":false`) || !strings.Contains(b, `\"content\":\"hi\"`) {
		t.Fatalf("body not restored or replay wrong: %s", b)
	}

	// No conversation yet: nothing to replay, lookup skipped.
	calls = nil
	w = post(r, "/messages", "k-3", `{"content":"hi"}`)
	if len(calls) != 0 || !strings.Contains(w.Body.String(), `"scope":""`) {
		t.Fatalf("expected no lookup without a conversation: %v %s", calls, w.Body.String())
	}

	// Not JSON: still passes through untouched.
	w = post(r, "/messages", "k-4", `not json`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"body":"not json"`) {
		t.Fatalf("non-JSON body mishandled: %s", w.Body.String())
	}
}

func TestIdempotency_LookupErrorDoesNotBlock(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, func(context.Context, string, string, string, time.Time) (bool, error) {
		return false, errors.New("db down")
	}))
	r.POST("/conversations/:id/messages", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	if w := post(r, "/conversations/c1/messages", "k", `{}`); w.Code != http.StatusNoContent {
		t.Fatalf("status %d", w.Code)
	}
}

func TestIdempotency_ContextAccessorsTolerateWrongTypes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Set(ctxKeyIdemKey, 123)
	c.Set(ctxKeyIdemReplay, "yes")
	c.Set(ctxKeyIdemScope, 7)
	if k, ok := GetIdempotencyKey(c); k != "" || ok {
		t.Fatalf("non-string key must be absent")
	}
	if IsReplay(c) || IdempotencyScope(c) != "" {
		t.Fatalf("wrong types must read as zero values")
	}
}
