// Bot HTTP handlers.
//
// This file exposes REST endpoints for an owner's bots:
//   - POST   /bots        (create)
//   - GET    /bots        (list, paginated, ETag support)
//   - GET    /bots/{id}   (fetch)
//   - PUT    /bots/{id}   (partial update)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-botrelay/internal/domain"
	"github.com/tbourn/go-botrelay/internal/repo"
	"github.com/tbourn/go-botrelay/internal/services"
)

//
// DTOs
//

// BotRequest is the JSON payload for creating or updating a bot. Omitted
// fields keep their current (or default) value.
type BotRequest struct {
	Name           *string  `json:"name"            example:"Support Bot"`
	Goal           *string  `json:"goal"            example:"Answer shipping questions"`
	Description    *string  `json:"description"     example:"A friendly assistant for an online shop"`
	Tone           *string  `json:"tone"            example:"friendly"`
	PreferredModel *string  `json:"preferred_model" example:"openai/gpt-4o-mini"`
	Temperature    *float64 `json:"temperature"     example:"0.7"`
}

func (r BotRequest) input() services.BotInput {
	return services.BotInput{
		Name:           r.Name,
		Goal:           r.Goal,
		Description:    r.Description,
		Tone:           r.Tone,
		PreferredModel: r.PreferredModel,
		Temperature:    r.Temperature,
	}
}

// ListBotsResponse wraps a page of bots and pagination information.
type ListBotsResponse struct {
	Bots       []domain.Bot `json:"bots"`
	Pagination Pagination   `json:"pagination"`
}

//
// Handlers
//

// CreateBot godoc
// @ID          createBot
// @Summary     Create a bot
// @Description Creates a bot owned by the caller.
// @Tags        Bots
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.BotRequest  true  "Bot payload"
//
// @Success     201  {object}  domain.Bot
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /bots [post]
func (h *Handlers) CreateBot(c *gin.Context) {
	var req BotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	b, err := h.botSvc.Create(c.Request.Context(), userID(c), req.input())
	if err != nil {
		if isClientError(err) {
			failService(c, err)
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, "could not create bot")
		return
	}
	ok(c, http.StatusCreated, b)
}

// ListBots godoc
// @ID          listBots
// @Summary     List bots (paginated)
// @Description Returns a page of the caller's bots. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Bots
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListBotsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /bots [get]
func (h *Handlers) ListBots(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if svc, ok := h.botSvc.(*services.BotService); ok && svc.DB != nil {
		if count, last, err := repo.BotsStats(ctx, svc.DB, uid); err == nil {
			if notModified(c, listETag("bots", uid, count, last, page, pageSize)) {
				return
			}
		}
	}

	items, total, err := h.botSvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list bots")
		return
	}
	ok(c, http.StatusOK, ListBotsResponse{Bots: items, Pagination: newPagination(page, pageSize, total)})
}

// GetBot godoc
// @ID          getBot
// @Summary     Fetch a bot
// @Tags        Bots
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Bot ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.Bot
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Bot not found"
// @Router      /bots/{id} [get]
func (h *Handlers) GetBot(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "bot id must be a UUID")
		return
	}
	b, err := h.botSvc.Get(c.Request.Context(), userID(c), id)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, b)
}

// UpdateBot godoc
// @ID          updateBot
// @Summary     Update a bot
// @Description Applies the provided fields to a bot owned by the caller and returns the result.
// @Tags        Bots
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  string              true  "Bot ID (UUID)"  format(uuid)
// @Param       body  body  handlers.BotRequest true  "Fields to change"
//
// @Success     200  {object} domain.Bot
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Bot not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /bots/{id} [put]
func (h *Handlers) UpdateBot(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "bot id must be a UUID")
		return
	}
	var req BotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	b, err := h.botSvc.Update(c.Request.Context(), userID(c), id, req.input())
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, b)
}
