package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-botrelay/internal/domain"
	"github.com/tbourn/go-botrelay/internal/repo"
	"github.com/tbourn/go-botrelay/internal/services"
)

// ListUsageResponse wraps a page of daily usage records, newest day first.
type ListUsageResponse struct {
	Usage      []domain.UsageRecord `json:"usage"`
	Pagination Pagination           `json:"pagination"`
}

// ListUsage godoc
// @ID          listUsage
// @Summary     List daily usage (paginated)
// @Description Returns the caller's per-day message, token and API call counters. Supports weak ETag.
// @Tags        Usage
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListUsageResponse
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /usage [get]
func (h *Handlers) ListUsage(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	if svc, ok := h.usageSvc.(*services.UsageService); ok && svc.DB != nil {
		if count, last, err := repo.UsageStats(ctx, svc.DB, uid); err == nil {
			if notModified(c, listETag("usage", uid, count, last, page, pageSize)) {
				return
			}
		}
	}

	items, total, err := h.usageSvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list usage")
		return
	}
	ok(c, http.StatusOK, ListUsageResponse{Usage: items, Pagination: newPagination(page, pageSize, total)})
}
