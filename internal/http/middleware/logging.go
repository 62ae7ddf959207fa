// Package middleware holds the Gin middleware shared by every route: request
// correlation, access logging, panic recovery, identity, idempotency,
// rate limiting, metrics and security headers.
//
// Handlers and services log through the request-scoped zerolog.Logger that
// AccessLog attaches; use LoggerFrom in handlers and zerolog.Ctx(ctx) below
// the HTTP layer.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	ctxKeyLogger    = "logger"
)

// Inbound correlation ids are echoed into logs and headers, so only short,
// plain values are trusted.
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._:\-]{1,128}$`)

// RequestID reuses a well-formed X-Request-ID from the caller or mints a
// UUID, then exposes it on the response and in the Gin context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !validRequestID.MatchString(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// RequestIDFrom returns the id set by RequestID, or "".
func RequestIDFrom(c *gin.Context) string {
	return asString(c.Value(requestIDKey))
}

// Recovery turns a panic into the standard 500 envelope, logging the stack on
// the request-scoped logger. If the handler already started writing, the
// connection is only marked failed.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := RequestIDFrom(c)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", rid).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// attachLogger publishes l to LoggerFrom and to zerolog.Ctx on the request
// context.
func attachLogger(c *gin.Context, l *zerolog.Logger) {
	c.Set(ctxKeyLogger, l)
	c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))
}

// LoggerFrom returns the request-scoped logger, or the global logger when
// none is attached.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if lg, ok := c.Value(ctxKeyLogger).(*zerolog.Logger); ok {
		return lg
	}
	return &log.Logger
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
