package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-botrelay/internal/http/middleware"
)

// ErrorResponse is the envelope of every non-2xx reply.
//
//	{"request_id": "…", "code": "share_not_found", "message": "share link not found or expired"}
type ErrorResponse struct {
	// Echo of X-Request-ID, for matching client errors to server logs.
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable machine-readable code, see errors.go.
	Code string `json:"code" example:"not_found"`
	// Safe to show to end users.
	Message string `json:"message" example:"bot not found"`
}

func requestID(c *gin.Context) string {
	if rid := middleware.RequestIDFrom(c); rid != "" {
		return rid
	}
	return c.Writer.Header().Get("X-Request-ID")
}

// fail aborts with the error envelope. 5xx outcomes are logged on the
// request-scoped logger; 4xx are left to the access log.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{RequestID: requestID(c), Code: code, Message: msg})
}

// Fail lets the router answer NoRoute/NoMethod with the same envelope.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) { c.JSON(status, body) }

func noContent(c *gin.Context) { c.Status(http.StatusNoContent) }

// listETag is a weak validator for one page of an owner's collection. It
// changes when a row is added or touched, or when the page window moves.
func listETag(kind, owner string, count int64, last *time.Time, page, pageSize int) string {
	var ts int64
	if last != nil {
		ts = last.UnixNano()
	}
	return fmt.Sprintf(`W/"%s:%s:%d:%d:%d:%d"`, kind, owner, count, ts, page, pageSize)
}

// notModified sets ETag and reports whether If-None-Match already names it,
// in which case a 304 has been written.
func notModified(c *gin.Context, etag string) bool {
	c.Header("ETag", etag)
	inm := c.GetHeader("If-None-Match")
	if inm == "" {
		return false
	}
	for _, candidate := range strings.Split(inm, ",") {
		if candidate = strings.TrimSpace(candidate); candidate == etag || candidate == "*" {
			c.Status(http.StatusNotModified)
			return true
		}
	}
	return false
}
