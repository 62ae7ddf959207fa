package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateShareRequest is the JSON payload for issuing a share link.
type CreateShareRequest struct {
	// TTLHours overrides the default lifetime; 0 creates a link that never expires.
	TTLHours *float64 `json:"ttl_hours" binding:"omitempty,min=0" example:"72"`
}

// CreateShare godoc
// @ID          createShare
// @Summary     Create a share link
// @Description Issues a public link that lets anonymous visitors chat with the bot. Usage is charged to the owner.
// @Tags        Shares
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  string                       true   "Bot ID (UUID)"  format(uuid)
// @Param       body  body  handlers.CreateShareRequest  false  "Link options"
//
// @Success     201  {object} domain.ShareLink
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Bot not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /bots/{id}/shares [post]
func (h *Handlers) CreateShare(c *gin.Context) {
	botID := c.Param("id")
	if _, err := uuid.Parse(botID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "bot id must be a UUID")
		return
	}

	var req CreateShareRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "ttl_hours must be a non-negative number")
			return
		}
	}
	var ttl *time.Duration
	if req.TTLHours != nil {
		d := time.Duration(*req.TTLHours * float64(time.Hour))
		ttl = &d
	}

	link, err := h.shareSvc.Create(c.Request.Context(), userID(c), botID, ttl)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, link)
}

// RevokeShare godoc
// @ID          revokeShare
// @Summary     Revoke a share link
// @Tags        Shares
// @Security    BearerAuth
//
// @Param       token  path  string  true  "Share token"
//
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Share link not found"
// @Router      /shares/{token} [delete]
func (h *Handlers) RevokeShare(c *gin.Context) {
	if err := h.shareSvc.Revoke(c.Request.Context(), userID(c), c.Param("token")); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}
