// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file validates the Idempotency-Key header and detects replays. A key
// is scoped to (caller, conversation): the same key sent for another
// conversation is a different operation. The middleware only marks the
// request; handlers decide how to serve the stored result.
package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the client's key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemScope  = "idem.scope"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"

	// maxScopePeek bounds how much of a body ScopeByJSONField reads.
	maxScopePeek = 1 << 20
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the validated key, if any.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether a stored result exists for this request's key.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// ScopeFunc extracts the conversation a key belongs to. "" means the request
// targets no existing conversation, so nothing can be replayed.
type ScopeFunc func(*gin.Context) string

// ScopeByParam reads the scope from a route parameter.
func ScopeByParam(name string) ScopeFunc {
	return func(c *gin.Context) string { return c.Param(name) }
}

// ScopeByJSONField reads a top-level string field from a JSON body and puts
// the body back for the handler.
func ScopeByJSONField(field string) ScopeFunc {
	return func(c *gin.Context) string {
		if c.Request.Body == nil {
			return ""
		}
		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxScopePeek))
		c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(raw), c.Request.Body))
		if err != nil {
			return ""
		}
		var fields map[string]json.RawMessage
		if json.Unmarshal(raw, &fields) != nil {
			return ""
		}
		var s string
		if json.Unmarshal(fields[field], &s) != nil {
			return ""
		}
		return s
	}
}

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters; nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// Scope finds the conversation; nil means the ":id" route parameter.
	Scope ScopeFunc
}

// IdempotencyLookup reports whether a still-valid result exists. Lookup
// errors do not block the request.
type IdempotencyLookup func(ctx context.Context, userID, conversationID, key string, now time.Time) (bool, error)

// IdempotencyValidator rejects malformed keys with 400, stashes valid ones,
// and marks replays so the rate limiter lets them through.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}
	scope := opts.Scope
	if scope == nil {
		scope = ScopeByParam("id")
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		conv := scope(c)
		c.Set(ctxKeyIdemScope, conv)
		if lookup != nil && conv != "" {
			if exists, _ := lookup(c.Request.Context(), UserID(c), conv, key, time.Now().UTC()); exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}

// IdempotencyScope returns the conversation the key was scoped to.
func IdempotencyScope(c *gin.Context) string {
	v, _ := c.Get(ctxKeyIdemScope)
	s, _ := v.(string)
	return s
}
