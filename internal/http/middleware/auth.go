package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-botrelay/internal/auth"
)

// CtxKeyUserID is the Gin context key holding the authenticated owner id.
const CtxKeyUserID = "userID"

// HeaderUserID is accepted in place of a bearer token when the dev header is enabled.
const HeaderUserID = "X-User-ID"

// TokenVerifier validates an access token and returns its subject.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// AuthOptions configures Authenticate.
type AuthOptions struct {
	// DevHeader trusts X-User-ID when no bearer token is present.
	DevHeader bool
}

// Authenticate resolves the caller's identity and stores it under
// CtxKeyUserID. Requests without credentials pass through anonymously so that
// public share-link chats keep working; a credential that is present but
// invalid is rejected with 401.
func Authenticate(v TokenVerifier, opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h := c.GetHeader("Authorization"); h != "" {
			tok, ok := auth.BearerToken(h)
			if !ok {
				abortUnauthorized(c, "malformed Authorization header")
				return
			}
			sub, err := v.Verify(tok)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, auth.ErrTokenExpired) {
					msg = "token expired"
				}
				abortUnauthorized(c, msg)
				return
			}
			c.Set(CtxKeyUserID, sub)
			c.Next()
			return
		}

		if opts.DevHeader {
			if uid := strings.TrimSpace(c.GetHeader(HeaderUserID)); uid != "" {
				c.Set(CtxKeyUserID, uid)
			}
		}
		c.Next()
	}
}

// RequireIdentity rejects anonymous requests with 401.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserID(c) == "" {
			abortUnauthorized(c, "authentication required")
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated owner id, or "" for anonymous callers.
func UserID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	if v, ok := c.Get(CtxKeyUserID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get("X-Request-ID"),
		"code":       "unauthorized",
		"message":    msg,
	})
}
