package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-botrelay/internal/domain"
)

func Test_clampPagination_and_userID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rc := gin.CreateTestContextOnly(httptest.NewRecorder(), gin.New())
	if got := userID(rc); got != "" {
		t.Fatalf("anonymous userID = %q", got)
	}
	rc.Set("userID", "u1")
	if got := userID(rc); got != "u1" {
		t.Fatalf("ctx userID = %q", got)
	}

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/?page=-5&page_size=9999", nil)
	if p, ps := clampPagination(c); p != 1 || ps != 100 {
		t.Fatalf("clamp bounds got p=%d ps=%d", p, ps)
	}
	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/?page=&page_size=0", nil)
	if p, ps := clampPagination(c); p != 1 || ps != 20 {
		t.Fatalf("clamp defaults got p=%d ps=%d", p, ps)
	}

	if pg := newPagination(2, 10, 25); pg.TotalPages != 3 || !pg.HasNext {
		t.Fatalf("pagination=%+v", pg)
	}
}

func TestBots_CreateGetUpdate(t *testing.T) {
	a := newTestAPI(t, nil)

	w := a.do(t, http.MethodPost, "/api/v1/bots", "u1", map[string]any{
		"name": "  Support   Bot ", "tone": "FRIENDLY", "preferred_model": "openai/gpt-4o-mini", "temperature": 0.2,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", w.Code, w.Body.String())
	}
	created := decode[domain.Bot](t, w)
	if created.Name != "Support Bot" || created.Tone != "friendly" || created.OwnerID != "u1" {
		t.Fatalf("created=%+v", created)
	}

	if w = a.do(t, http.MethodGet, "/api/v1/bots/"+created.ID, "u1", nil); w.Code != http.StatusOK {
		t.Fatalf("get status=%d", w.Code)
	}
	if w = a.do(t, http.MethodGet, "/api/v1/bots/"+created.ID, "u2", nil); w.Code != http.StatusNotFound {
		t.Fatalf("foreign get status=%d", w.Code)
	}
	if w = a.do(t, http.MethodGet, "/api/v1/bots/not-a-uuid", "u1", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id status=%d", w.Code)
	}

	w = a.do(t, http.MethodPut, "/api/v1/bots/"+created.ID, "u1", map[string]any{"goal": "Answer shipping questions"})
	if w.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", w.Code, w.Body.String())
	}
	updated := decode[domain.Bot](t, w)
	if updated.Goal != "Answer shipping questions" || updated.Name != "Support Bot" {
		t.Fatalf("updated=%+v", updated)
	}

	w = a.do(t, http.MethodPut, "/api/v1/bots/"+created.ID, "u1", map[string]any{"temperature": 5})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid temperature status=%d", w.Code)
	}
	w = a.do(t, http.MethodPost, "/api/v1/bots", "u1", map[string]any{"preferred_model": "no-slash"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid model status=%d", w.Code)
	}
	if w = a.do(t, http.MethodPost, "/api/v1/bots", "u1", "{bad"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad json status=%d", w.Code)
	}
	if w = a.do(t, http.MethodPost, "/api/v1/bots", "", map[string]any{}); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status=%d", w.Code)
	}
}

func TestListBots_PaginationAndETag(t *testing.T) {
	a := newTestAPI(t, nil)
	for i := 0; i < 3; i++ {
		a.seedBot(t, "u1", "")
	}
	a.seedBot(t, "u2", "")

	w := a.do(t, http.MethodGet, "/api/v1/bots?page=1&page_size=2", "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	got := decode[ListBotsResponse](t, w)
	if len(got.Bots) != 2 || got.Pagination.Total != 3 || !got.Pagination.HasNext {
		t.Fatalf("list=%+v", got.Pagination)
	}

	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}
	w = a.do(t, http.MethodGet, "/api/v1/bots?page=1&page_size=2", "u1", nil, "If-None-Match", etag)
	if w.Code != http.StatusNotModified {
		t.Fatalf("conditional status=%d", w.Code)
	}

	// Another page has its own tag.
	w = a.do(t, http.MethodGet, "/api/v1/bots?page=2&page_size=2", "u1", nil, "If-None-Match", etag)
	if w.Code != http.StatusOK {
		t.Fatalf("page 2 status=%d", w.Code)
	}
	if got := decode[ListBotsResponse](t, w); len(got.Bots) != 1 {
		t.Fatalf("page 2 len=%d", len(got.Bots))
	}
}
