package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetCredentialRequest carries an upstream API key.
type SetCredentialRequest struct {
	APIKey string `json:"api_key" binding:"required" example:"sk-or-v1-..."`
}

// SetOpenRouterKey godoc
// @ID          setOpenRouterKey
// @Summary     Store the caller's OpenRouter key
// @Description The key is sealed at rest and used for every chat with the caller's bots, including share-link traffic.
// @Tags        Credentials
// @Accept      json
// @Security    BearerAuth
//
// @Param       body  body  handlers.SetCredentialRequest  true  "API key"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /credentials/openrouter [put]
func (h *Handlers) SetOpenRouterKey(c *gin.Context) {
	var req SetCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "api_key required")
		return
	}
	if err := h.credSvc.SetOpenRouterKey(c.Request.Context(), userID(c), req.APIKey); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}
