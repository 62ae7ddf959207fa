package httpapi

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v4"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-botrelay/internal/auth"
	"github.com/tbourn/go-botrelay/internal/config"
	"github.com/tbourn/go-botrelay/internal/domain"
	"github.com/tbourn/go-botrelay/internal/http/middleware"
	"github.com/tbourn/go-botrelay/internal/llm"
	"github.com/tbourn/go-botrelay/internal/repo"
)

const testJWTSecret = "router-test-secret"

// --- upstream double ---
type echoModels struct {
	mu    sync.Mutex
	calls int
	fail  map[string]bool
}

func (e *echoModels) Complete(_ context.Context, _ string, req llm.Request) (*llm.Completion, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.fail[req.Model] {
		return nil, errors.New("status 502")
	}
	last := req.Messages[len(req.Messages)-1].Content
	return &llm.Completion{Content: "echo: " + last, Model: req.Model, TotalTokens: 4}, nil
}

func (e *echoModels) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:    "/api/v1",
		RateRPS:        100,
		RateBurst:      10,
		CORS:           config.CORSConfig{AllowedOrigins: nil},
		Security:       config.SecurityConfig{EnableHSTS: false},
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
		OpenRouter:     config.OpenRouterConfig{APIKey: "sk-platform"},
		Relay:          config.RelayConfig{FallbackModels: []string{"pool/a"}},
		Auth:           config.AuthConfig{JWTSecret: testJWTSecret, DevHeader: true},
		CredentialsKey: bytes.Repeat([]byte{1}, 32),
		IdempotencyTTL: time.Hour,
	}
}

func newServer(t *testing.T, cfg config.Config, models *echoModels) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)
	RegisterRoutes(r, db, models, cfg)
	return r, db
}

func send(r *gin.Engine, method, path string, body any, hdr ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r, _ := newServer(t, testConfig(), &echoModels{})

	w := send(r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	w = send(r, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	w = send(r, http.MethodGet, "/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}
	var env struct {
		RequestID string `json:"request_id"`
		Code      string `json:"code"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	if env.Code != "not_found" || env.RequestID == "" {
		t.Fatalf("404 envelope = %+v", env)
	}

	if w = send(r, http.MethodPost, "/health", nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.CORS.AllowedOrigins = []string{"http://example.com"}
	r, _ := newServer(t, cfg, &echoModels{})

	w := send(r, http.MethodGet, "/health", nil, "Origin", "http://example.com")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_GzipAndSecurityHeaders(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour}
	r, _ := newServer(t, cfg, &echoModels{})

	w := send(r, http.MethodGet, "/health", nil, "Accept-Encoding", "gzip", "X-Forwarded-Proto", "https")
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip response, headers=%v", w.Header())
	}
	if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=3600; includeSubDomains; preload" {
		t.Fatalf("HSTS = %q", got)
	}
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatal("expected X-Request-ID header to be set")
	}

	// promhttp negotiates its own compression; the body is gzipped once.
	w = send(r, http.MethodGet, "/metrics", nil, "Accept-Encoding", "gzip")
	if w.Code != http.StatusOK || w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("metrics = %d headers=%v", w.Code, w.Header())
	}
	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	text, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("inflate: %v", err)
	}
	if !bytes.Contains(text, []byte("# TYPE ")) {
		t.Fatalf("metrics body is not exposition text after one inflate: %.80q", text)
	}
}

func TestRegisterRoutes_EndToEnd_BotChatReplayUsage(t *testing.T) {
	models := &echoModels{fail: map[string]bool{"vendor/down": true}}
	r, _ := newServer(t, testConfig(), models)
	owner := []string{middleware.HeaderUserID, "owner-1"}

	w := send(r, http.MethodPost, "/api/v1/bots", map[string]any{"name": "Helper", "preferred_model": "vendor/down"}, owner...)
	if w.Code != http.StatusCreated {
		t.Fatalf("create bot = %d %s", w.Code, w.Body.String())
	}
	var bot domain.Bot
	_ = json.Unmarshal(w.Body.Bytes(), &bot)

	body := map[string]any{"message": "ping", "chatbotId": bot.ID}
	hdr := append([]string{middleware.HeaderIdempotencyKey, "retry-1"}, owner...)

	w = send(r, http.MethodPost, ChatPath, body, hdr...)
	if w.Code != http.StatusOK {
		t.Fatalf("chat = %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("chat replies must not be cached, got %q", w.Header().Get("Cache-Control"))
	}
	var reply struct {
		Reply string `json:"reply"`
		Model string `json:"model"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &reply)
	if reply.Reply != "echo: ping" || reply.Model != "pool/a" {
		t.Fatalf("reply = %+v", reply)
	}

	// Same key on the versioned mount replays without new upstream calls.
	w = send(r, http.MethodPost, "/api/v1/chat", body, hdr...)
	if w.Code != http.StatusOK || w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay = %d replayed=%q", w.Code, w.Header().Get("Idempotency-Replayed"))
	}
	if n := models.Calls(); n != 2 {
		t.Fatalf("upstream calls = %d; want 2 (preferred failure + fallback)", n)
	}

	w = send(r, http.MethodGet, "/api/v1/usage", nil, owner...)
	var usage struct {
		Usage []domain.UsageRecord `json:"usage"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &usage)
	if len(usage.Usage) != 1 || usage.Usage[0].MessageCount != 1 || usage.Usage[0].TokenCount != 4 {
		t.Fatalf("usage = %+v", usage.Usage)
	}
}

func TestRegisterRoutes_ReplayBypassesRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 1
	r, db := newServer(t, cfg, &echoModels{})

	bot, err := repo.CreateBot(context.Background(), db, &domain.Bot{OwnerID: "owner-rl", Name: "b"})
	if err != nil {
		t.Fatalf("seed bot: %v", err)
	}
	body := map[string]any{"message": "hi", "chatbotId": bot.ID}
	hdr := []string{middleware.HeaderUserID, "owner-rl", middleware.HeaderIdempotencyKey, "k1"}

	if w := send(r, http.MethodPost, ChatPath, body, hdr...); w.Code != http.StatusOK {
		t.Fatalf("first = %d %s", w.Code, w.Body.String())
	}
	if w := send(r, http.MethodPost, ChatPath, body, hdr...); w.Code != http.StatusOK {
		t.Fatalf("replay should bypass limiter, got %d", w.Code)
	}
	hdr[3] = "k2"
	if w := send(r, http.MethodPost, ChatPath, body, hdr...); w.Code != http.StatusTooManyRequests {
		t.Fatalf("new key should be limited, got %d", w.Code)
	}
}

func TestRegisterRoutes_DeadShareReplayIsRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 1
	r, db := newServer(t, cfg, &echoModels{})

	ctx := context.Background()
	bot, err := repo.CreateBot(ctx, db, &domain.Bot{OwnerID: "owner-rl", Name: "b"})
	if err != nil {
		t.Fatalf("seed bot: %v", err)
	}
	future := time.Now().UTC().Add(time.Hour)
	if _, err := repo.CreateShareLink(ctx, db, "share-rl", bot.ID, "owner-rl", &future); err != nil {
		t.Fatalf("seed share: %v", err)
	}
	body := map[string]any{"message": "hi", "shareToken": "share-rl", "isPublic": true}
	hdr := []string{middleware.HeaderIdempotencyKey, "k1"}

	if w := send(r, http.MethodPost, ChatPath, body, hdr...); w.Code != http.StatusOK {
		t.Fatalf("first = %d %s", w.Code, w.Body.String())
	}
	if w := send(r, http.MethodPost, ChatPath, body, hdr...); w.Code != http.StatusOK {
		t.Fatalf("live replay should bypass limiter, got %d", w.Code)
	}

	past := time.Now().UTC().Add(-time.Minute)
	if err := db.Model(&domain.ShareLink{}).Where("token = ?", "share-rl").Update("expires_at", past).Error; err != nil {
		t.Fatalf("expire link: %v", err)
	}
	if w := send(r, http.MethodPost, ChatPath, body, hdr...); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expired link replay = %d, want 429", w.Code)
	}
}

func TestRegisterRoutes_BearerIdentity(t *testing.T) {
	r, _ := newServer(t, testConfig(), &echoModels{})

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "owner-jwt",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if w := send(r, http.MethodGet, "/api/v1/usage", nil, "Authorization", "Bearer "+tok); w.Code != http.StatusOK {
		t.Fatalf("bearer = %d %s", w.Code, w.Body.String())
	}
	if w := send(r, http.MethodGet, "/api/v1/usage", nil, "Authorization", "Bearer nope"); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d", w.Code)
	}
	if w := send(r, http.MethodGet, "/api/v1/usage", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous = %d", w.Code)
	}
	// Anonymous share traffic is still routed to the relay.
	if w := send(r, http.MethodPost, ChatPath, map[string]any{"message": "hi", "shareToken": "missing", "isPublic": true}); w.Code != http.StatusNotFound {
		t.Fatalf("anonymous share chat = %d", w.Code)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix_and_joinPath(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}

	for _, tc := range []struct{ base, want string }{
		{"", "/chat"}, {"/", "/chat"}, {"/api/v1", "/api/v1/chat"},
	} {
		if got := joinPath(tc.base, "/chat"); got != tc.want {
			t.Fatalf("joinPath(%q) = %q", tc.base, got)
		}
	}
}

func TestRegisterRoutes_BaseAtApiDoesNotDoubleMountChat(t *testing.T) {
	cfg := testConfig()
	cfg.APIBasePath = "/api"
	r, _ := newServer(t, cfg, &echoModels{})
	if w := send(r, http.MethodPost, ChatPath, map[string]any{}); w.Code != http.StatusBadRequest {
		t.Fatalf("chat with empty body = %d", w.Code)
	}
}

func Test_botRepoShim_Proxies(t *testing.T) {
	db := newTestDB(t)
	shim := botRepoShim{}
	ctx := context.Background()

	b, err := shim.CreateBot(ctx, db, &domain.Bot{OwnerID: "u1", Name: "first"})
	if err != nil || b.ID == "" {
		t.Fatalf("CreateBot: %v %+v", err, b)
	}
	if _, err := shim.CreateBot(ctx, db, &domain.Bot{OwnerID: "u1", Name: "second"}); err != nil {
		t.Fatalf("CreateBot second: %v", err)
	}

	got, err := shim.GetBot(ctx, db, b.ID, "u1")
	if err != nil || got.Name != "first" {
		t.Fatalf("GetBot: %v %+v", err, got)
	}
	if err := shim.UpdateBot(ctx, db, b.ID, "u1", map[string]any{"name": "renamed"}); err != nil {
		t.Fatalf("UpdateBot: %v", err)
	}
	if got, _ = shim.GetBot(ctx, db, b.ID, "u1"); got.Name != "renamed" {
		t.Fatalf("UpdateBot not applied: %+v", got)
	}

	if n, err := shim.CountBots(ctx, db, "u1"); err != nil || n != 2 {
		t.Fatalf("CountBots: %v %d", err, n)
	}
	if page, err := shim.ListBotsPage(ctx, db, "u1", 0, 1); err != nil || len(page) != 1 {
		t.Fatalf("ListBotsPage: %v %d", err, len(page))
	}
}

func TestRegisterRoutes_SwaggerToggle(t *testing.T) {
	cfg := testConfig()
	r, _ := newServer(t, cfg, &echoModels{})
	if w := send(r, http.MethodGet, "/swagger/index.html", nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger disabled should 404, got %d", w.Code)
	}

	cfg.SwaggerEnabled = true
	r, _ = newServer(t, cfg, &echoModels{})
	if w := send(r, http.MethodGet, "/swagger/index.html", nil); w.Code != http.StatusOK {
		t.Fatalf("swagger enabled should serve UI, got %d", w.Code)
	}
}
