// Chat relay HTTP handler.
//
// This file exposes the relay endpoint:
//   - POST /api/chat   (also mounted as {base}/chat)
//
// A request either names one of the caller's bots (chatbotId) or carries a
// public share token. Retries with the same Idempotency-Key replay the stored
// reply instead of calling the upstream models again.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"gorm.io/gorm"

	"github.com/tbourn/go-botrelay/internal/domain"
	"github.com/tbourn/go-botrelay/internal/http/middleware"
	"github.com/tbourn/go-botrelay/internal/repo"
	"github.com/tbourn/go-botrelay/internal/services"
)

// ShareScopeOwner is the idempotency owner used for share-link traffic, whose
// callers are anonymous. The scope id is the share token.
const ShareScopeOwner = services.ShareIdempotencyOwner

// HeaderIdempotencyReplayed marks a response served from the idempotency store.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

//
// DTOs
//

// ChatRelayRequest is the JSON payload for one chat turn.
type ChatRelayRequest struct {
	// Message is the user's new message.
	Message string `json:"message" binding:"required" example:"Do you ship to Greece?"`
	// History holds prior turns, oldest first.
	History []domain.Turn `json:"history" binding:"omitempty,dive"`
	// ChatbotID selects one of the caller's bots (owner mode).
	ChatbotID string `json:"chatbotId" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	// ShareToken selects a bot through a public share link.
	ShareToken string `json:"shareToken" example:"9f1c0d..."`
	// IsPublic marks a share-link request.
	IsPublic bool `json:"isPublic" example:"false"`
}

// chatScopePeek reads only the fields that select the idempotency slot.
type chatScopePeek struct {
	ChatbotID  string `json:"chatbotId"`
	ShareToken string `json:"shareToken"`
}

//
// Helpers
//

// chatScope returns the idempotency slot for a chat request: share traffic is
// scoped to the token, owner traffic to (owner, bot).
func chatScope(uid, botID, shareToken string) (ownerID, scopeID string) {
	if shareToken != "" {
		return ShareScopeOwner, shareToken
	}
	if uid == "" {
		return "", ""
	}
	return uid, botID
}

// ChatIdempotencyScope resolves the idempotency slot of a chat POST from its
// JSON body. The body is cached on the context so the handler can bind it
// again.
func ChatIdempotencyScope(c *gin.Context) (ownerID, scopeID string) {
	var peek chatScopePeek
	if err := c.ShouldBindBodyWith(&peek, binding.JSON); err != nil {
		return "", ""
	}
	return chatScope(userID(c), peek.ChatbotID, peek.ShareToken)
}

// chatDB returns the database behind the concrete chat service, if any.
func (h *Handlers) chatDB() *gorm.DB {
	if svc, ok := h.chatSvc.(*services.ChatService); ok {
		return svc.DB
	}
	return nil
}

//
// Handlers
//

// ChatRelay godoc
// @ID          chatRelay
// @Summary     Send a chat message to a bot
// @Description Relays the message to the bot's preferred model and falls back through the model pool until one answers.
// @Description Owner mode needs a bearer token and chatbotId; share mode needs shareToken and no authentication.
// @Description Supports idempotency via the Idempotency-Key header (same key → same reply).
// @Tags        Chat
// @Accept      json
// @Produce     json
//
// @Param       Authorization    header  string  false "Bearer access token (owner mode)"
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.ChatRelayRequest  true  "Chat payload"
//
// @Success     200  {object}  services.ChatReply       "Assistant reply"
// @Header      200  {string}  Idempotency-Replayed     "true when served from the idempotency store"
// @Failure     400  {object}  handlers.ErrorResponse   "Bad request or credential missing"
// @Failure     401  {object}  handlers.ErrorResponse   "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse   "Bot or share link not found"
// @Failure     500  {object}  handlers.ErrorResponse   "All upstream models failed"
// @Router      /chat [post]
func (h *Handlers) ChatRelay(c *gin.Context) {
	ctx := c.Request.Context()

	var req ChatRelayRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required; history turns need a role (user|assistant) and content")
		return
	}

	uid := userID(c)
	owner, scope := chatScope(uid, req.ChatbotID, req.ShareToken)
	db := h.chatDB()

	// Idempotency (replay path). A stored share-mode reply is only served
	// while its link is still live.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" && scope != "" && db != nil {
		if rec, err := repo.GetIdempotency(ctx, db, owner, scope, idemKey, time.Now().UTC()); err == nil {
			if owner == ShareScopeOwner {
				if _, err := h.shareSvc.Resolve(ctx, scope); err != nil {
					failService(c, err)
					return
				}
			}
			c.Header(HeaderIdempotencyReplayed, "true")
			ok(c, rec.Status, services.ChatReply{
				Reply:      rec.Reply,
				Model:      rec.Model,
				TokensUsed: rec.TokensUsed,
			})
			return
		}
	}

	reply, err := h.chatSvc.Chat(ctx, services.ChatRequest{
		OwnerID:    uid,
		BotID:      req.ChatbotID,
		ShareToken: req.ShareToken,
		IsPublic:   req.IsPublic,
		Message:    req.Message,
		History:    req.History,
	})
	if err != nil {
		failService(c, err)
		return
	}

	// Idempotency (store path), best effort.
	if idemKey != "" && scope != "" && db != nil {
		if _, err := repo.CreateIdempotency(ctx, db, owner, scope, idemKey, repo.IdempotentReply{
			Reply:      reply.Reply,
			Model:      reply.Model,
			TokensUsed: reply.TokensUsed,
			Status:     http.StatusOK,
		}, h.IdempotencyTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency store failed")
		}
	}

	ok(c, http.StatusOK, reply)
}
