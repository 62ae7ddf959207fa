// Package handlers provides HTTP handler implementations for the public API.
//
// Handlers are transport-thin: they bind and validate input, call application
// services through the interfaces below, and translate results into HTTP
// responses (including conditional and idempotent responses).
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-botrelay/internal/domain"
	"github.com/tbourn/go-botrelay/internal/http/middleware"
	"github.com/tbourn/go-botrelay/internal/services"
	"github.com/tbourn/go-botrelay/internal/utils"
)

//
// Service contracts (context-aware)
//

// ChatService relays one chat turn.
type ChatService interface {
	Chat(ctx context.Context, req services.ChatRequest) (*services.ChatReply, error)
}

// BotService manages an owner's bots.
type BotService interface {
	Create(ctx context.Context, ownerID string, in services.BotInput) (*domain.Bot, error)
	Get(ctx context.Context, ownerID, id string) (*domain.Bot, error)
	ListPage(ctx context.Context, ownerID string, page, pageSize int) ([]domain.Bot, int64, error)
	Update(ctx context.Context, ownerID, id string, in services.BotInput) (*domain.Bot, error)
}

// ShareService issues, resolves and revokes share links.
type ShareService interface {
	Create(ctx context.Context, ownerID, botID string, ttl *time.Duration) (*domain.ShareLink, error)
	Resolve(ctx context.Context, token string) (*domain.ShareLink, error)
	Revoke(ctx context.Context, ownerID, token string) error
}

// CredentialService stores owner API keys.
type CredentialService interface {
	SetOpenRouterKey(ctx context.Context, ownerID, apiKey string) error
}

// UsageService lists daily usage.
type UsageService interface {
	ListPage(ctx context.Context, ownerID string, page, pageSize int) ([]domain.UsageRecord, int64, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for chat, bots, shares, credentials, and usage.
type Handlers struct {
	chatSvc  ChatService
	botSvc   BotService
	shareSvc ShareService
	credSvc  CredentialService
	usageSvc UsageService

	// IdempotencyTTL bounds how long a chat reply can be replayed.
	IdempotencyTTL time.Duration
}

// New constructs a Handlers instance bound to the given services.
func New(chat ChatService, bots BotService, shares ShareService, creds CredentialService, usage UsageService) *Handlers {
	return &Handlers{
		chatSvc:        chat,
		botSvc:         bots,
		shareSvc:       shares,
		credSvc:        creds,
		usageSvc:       usage,
		IdempotencyTTL: 24 * time.Hour,
	}
}

// userID returns the authenticated owner id set by the auth middleware, or "".
func userID(c *gin.Context) string { return middleware.UserID(c) }

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	p := utils.Page{Number: page, Size: pageSize}
	totalPages := p.TotalPages(total)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination reads page and page_size from the query string, bounded to
// [1, utils.MaxPageSize].
func clampPagination(c *gin.Context) (page, pageSize int) {
	p := utils.ParsePage(c.Query("page"), c.Query("page_size"))
	return p.Number, p.Size
}
