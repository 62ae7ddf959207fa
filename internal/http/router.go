// Package httpapi assembles the gin engine: the global middleware chain,
// operational endpoints, the relay endpoint and the owner API.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-botrelay/internal/auth"
	"github.com/tbourn/go-botrelay/internal/config"
	"github.com/tbourn/go-botrelay/internal/domain"
	"github.com/tbourn/go-botrelay/internal/http/handlers"
	"github.com/tbourn/go-botrelay/internal/http/middleware"
	"github.com/tbourn/go-botrelay/internal/llm"
	"github.com/tbourn/go-botrelay/internal/repo"
	"github.com/tbourn/go-botrelay/internal/services"
)

// ChatPath is the unversioned relay endpoint kept for existing widgets.
const ChatPath = "/api/chat"

// botRepoShim adapts the repository free functions to the services.BotRepo
// interface expected by the BotService.
type botRepoShim struct{}

// CreateBot proxies repo.CreateBot.
func (botRepoShim) CreateBot(ctx context.Context, db *gorm.DB, b *domain.Bot) (*domain.Bot, error) {
	return repo.CreateBot(ctx, db, b)
}

// GetBot proxies repo.GetBot.
func (botRepoShim) GetBot(ctx context.Context, db *gorm.DB, id, ownerID string) (*domain.Bot, error) {
	return repo.GetBot(ctx, db, id, ownerID)
}

// UpdateBot proxies repo.UpdateBot.
func (botRepoShim) UpdateBot(ctx context.Context, db *gorm.DB, id, ownerID string, fields map[string]any) error {
	return repo.UpdateBot(ctx, db, id, ownerID, fields)
}

// CountBots proxies repo.CountBots (pagination support).
func (botRepoShim) CountBots(ctx context.Context, db *gorm.DB, ownerID string) (int64, error) {
	return repo.CountBots(ctx, db, ownerID)
}

// ListBotsPage proxies repo.ListBotsPage (pagination support).
func (botRepoShim) ListBotsPage(ctx context.Context, db *gorm.DB, ownerID string, offset, limit int) ([]domain.Bot, error) {
	return repo.ListBotsPage(ctx, db, ownerID, offset, limit)
}

// maxBodyBytes caps every request body.
const maxBodyBytes = 1 << 20

// RegisterRoutes mounts middleware and endpoints on r; gw performs upstream
// chat completions.
//
// Order: tracing, request id, access log, recovery, body limit, metrics,
// identity, idempotency, rate limit, CORS, security headers, gzip. Gin binds
// middleware at registration, so /metrics sees only the first six. The
// idempotency validator must precede the limiter so replays can bypass it.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, gw llm.Completer, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	chatV1 := joinPath(cfg.APIBasePath, "/chat")

	r.Use(
		otelgin.Middleware(cfg.OTEL.ServiceName),
		middleware.RequestID(),
		middleware.AccessLog(middleware.AccessLogOptions{
			MaskHeaders: []string{"X-API-Key", middleware.HeaderUserID},
			SkipPaths:   []string{"/health", "/metrics"},
		}),
		middleware.Recovery(),
		limitBody(maxBodyBytes),
		middleware.Metrics(),
	)
	// Registered before the limiter so scrapes are never throttled.
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(
		middleware.Authenticate(auth.NewVerifier(cfg.Auth.JWTSecret), middleware.AuthOptions{
			DevHeader: cfg.Auth.DevHeader,
		}),
		chatIdempotency(db, ChatPath, chatV1),
		middleware.NewRateLimiter(middleware.RateLimitOptions{
			RPS:   cfg.RateRPS,
			Burst: cfg.RateBurst,
			Key:   middleware.KeyByUserOrIP(),
		}).Handler(),
	)
	r.Use(corsHandlers(cfg)...)
	r.Use(
		middleware.SecurityHeaders(middleware.SecurityOptions{
			EnableHSTS:      cfg.Security.EnableHSTS,
			HSTSMaxAge:      cfg.Security.HSTSMaxAge,
			EnablePolicy:    true,
			NoStorePrefixes: []string{ChatPath, chatV1, joinPath(cfg.APIBasePath, "/credentials")},
		}),
		gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})),
	)

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := newHandlers(db, gw, cfg)

	// Anonymous callers reach the relay through share links.
	r.POST(ChatPath, h.ChatRelay)

	api := groupWithPrefix(r, cfg.APIBasePath)
	if chatV1 != ChatPath {
		api.POST("/chat", h.ChatRelay)
	}

	owned := api.Group("", middleware.RequireIdentity())
	owned.POST("/bots", h.CreateBot)
	owned.GET("/bots", h.ListBots)
	owned.GET("/bots/:id", h.GetBot)
	owned.PUT("/bots/:id", h.UpdateBot)
	owned.POST("/bots/:id/shares", h.CreateShare)
	owned.DELETE("/shares/:token", h.RevokeShare)
	owned.PUT("/credentials/openrouter", h.SetOpenRouterKey)
	owned.GET("/usage", h.ListUsage)
}

// newHandlers builds the service graph over db and gw.
func newHandlers(db *gorm.DB, gw llm.Completer, cfg config.Config) *handlers.Handlers {
	usage := &services.UsageService{DB: db}
	shares := &services.ShareService{DB: db, DefaultTTL: cfg.ShareTTL}
	creds := &services.CredentialService{DB: db, Key: cfg.CredentialsKey, PlatformKey: cfg.OpenRouter.APIKey}
	chat := &services.ChatService{
		DB:              db,
		Relay:           services.NewModelRelay(gw, cfg.Relay),
		Credentials:     creds,
		Shares:          shares,
		Usage:           usage,
		MaxMessageRunes: cfg.Relay.MaxMessageRunes,
		MaxHistory:      cfg.Relay.MaxHistory,
	}

	h := handlers.New(chat, services.NewBotService(db, botRepoShim{}), shares, creds, usage)
	if cfg.IdempotencyTTL > 0 {
		h.IdempotencyTTL = cfg.IdempotencyTTL
	}
	return h
}

// chatIdempotency validates Idempotency-Key everywhere but only looks up
// stored replies for chat POSTs on the given routes.
func chatIdempotency(db *gorm.DB, routes ...string) gin.HandlerFunc {
	chat := make(map[string]bool, len(routes))
	for _, p := range routes {
		chat[p] = true
	}
	scope := func(c *gin.Context) (string, string) {
		if c.Request.Method != http.MethodPost || !chat[c.FullPath()] {
			return "", ""
		}
		return handlers.ChatIdempotencyScope(c)
	}
	lookup := func(ctx context.Context, ownerID, scopeID, key string, now time.Time) (bool, error) {
		if ownerID == handlers.ShareScopeOwner {
			// A dead link has no replay and so no rate-limit bypass.
			link, err := repo.GetShareLink(ctx, db, scopeID)
			if errors.Is(err, repo.ErrNotFound) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			if link.Expired(now) {
				return false, nil
			}
		}
		_, err := repo.GetIdempotency(ctx, db, ownerID, scopeID, key, now)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, repo.ErrNotFound):
			return false, nil
		default:
			return false, err
		}
	}
	return middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200, Scope: scope}, lookup)
}

// corsHandlers returns the CORS chain. With no configured origins every
// origin is allowed and ACAO is always "*"; otherwise allowed origins are
// echoed back.
func corsHandlers(cfg config.Config) []gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
		ExposeHeaders: []string{
			"X-Request-ID", "Content-Length", "ETag", "Retry-After", handlers.HeaderIdempotencyReplayed,
		},
		MaxAge: 12 * time.Hour,
	}
	if cfg.Auth.DevHeader {
		cc.AllowHeaders = append(cc.AllowHeaders, middleware.HeaderUserID)
	}

	if len(cfg.CORS.AllowedOrigins) == 0 {
		cc.AllowAllOrigins = true
		// cors only answers requests that carry an Origin; health probes and
		// same-origin tools still get the wildcard.
		wildcard := func(c *gin.Context) {
			c.Header("Access-Control-Allow-Origin", "*")
			c.Next()
		}
		return []gin.HandlerFunc{wildcard, cors.New(cc)}
	}

	cc.AllowOrigins = cfg.CORS.AllowedOrigins
	allowed := make(map[string]bool, len(cc.AllowOrigins))
	for _, o := range cc.AllowOrigins {
		allowed[o] = true
	}
	echo := func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		}
		c.Next()
	}
	return []gin.HandlerFunc{echo, cors.New(cc)}
}

// limitBody wraps the body in http.MaxBytesReader; reads past maxBytes fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix returns the group for prefix; "" and "/" mean the root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

// joinPath joins a base path and a route the way groupWithPrefix mounts it.
func joinPath(base, route string) string {
	if base == "" || base == "/" {
		return route
	}
	return base + route
}
