package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-botrelay/internal/config"
	"github.com/tbourn/go-botrelay/internal/domain"
	"github.com/tbourn/go-botrelay/internal/http/middleware"
	"github.com/tbourn/go-botrelay/internal/llm"
	"github.com/tbourn/go-botrelay/internal/repo"
	"github.com/tbourn/go-botrelay/internal/services"
)

// ---------- test DB ----------

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// ---------- scripted upstream ----------

// scriptedModels answers known models and fails every other one.
type scriptedModels struct {
	mu      sync.Mutex
	calls   []string
	replies map[string]llm.Completion
}

func (s *scriptedModels) Complete(_ context.Context, _ string, req llm.Request) (*llm.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req.Model)
	rep, ok := s.replies[req.Model]
	if !ok {
		return nil, errors.New("status 503")
	}
	rep.Model = req.Model
	return &rep, nil
}

func (s *scriptedModels) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// ---------- API under test ----------

var testRelayConfig = config.RelayConfig{FallbackModels: []string{"pool/a", "pool/b"}}

type testAPI struct {
	r      *gin.Engine
	db     *gorm.DB
	models *scriptedModels
}

type botRepo struct{}

func (botRepo) CreateBot(ctx context.Context, db *gorm.DB, b *domain.Bot) (*domain.Bot, error) {
	return repo.CreateBot(ctx, db, b)
}
func (botRepo) GetBot(ctx context.Context, db *gorm.DB, id, ownerID string) (*domain.Bot, error) {
	return repo.GetBot(ctx, db, id, ownerID)
}
func (botRepo) UpdateBot(ctx context.Context, db *gorm.DB, id, ownerID string, fields map[string]any) error {
	return repo.UpdateBot(ctx, db, id, ownerID, fields)
}
func (botRepo) CountBots(ctx context.Context, db *gorm.DB, ownerID string) (int64, error) {
	return repo.CountBots(ctx, db, ownerID)
}
func (botRepo) ListBotsPage(ctx context.Context, db *gorm.DB, ownerID string, offset, limit int) ([]domain.Bot, error) {
	return repo.ListBotsPage(ctx, db, ownerID, offset, limit)
}

func newTestAPI(t *testing.T, replies map[string]llm.Completion) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newTestDB(t)
	models := &scriptedModels{replies: replies}
	usage := &services.UsageService{DB: db}
	shares := &services.ShareService{DB: db}
	creds := &services.CredentialService{
		DB:          db,
		Key:         bytes.Repeat([]byte{7}, 32),
		PlatformKey: "sk-platform",
	}
	chat := &services.ChatService{
		DB:          db,
		Relay:       services.NewModelRelay(models, testRelayConfig),
		Credentials: creds,
		Shares:      shares,
		Usage:       usage,
	}
	h := New(chat, services.NewBotService(db, botRepo{}), shares, creds, usage)

	r := gin.New()
	r.Use(middleware.Authenticate(nil, middleware.AuthOptions{DevHeader: true}))
	idem := middleware.IdempotencyValidator(middleware.IdempotencyOptions{Scope: ChatIdempotencyScope},
		func(ctx context.Context, owner, scope, key string, now time.Time) (bool, error) {
			_, err := repo.GetIdempotency(ctx, db, owner, scope, key, now)
			return err == nil, nil
		})
	r.POST("/api/chat", idem, h.ChatRelay)

	owned := r.Group("/api/v1", middleware.RequireIdentity())
	owned.POST("/bots", h.CreateBot)
	owned.GET("/bots", h.ListBots)
	owned.GET("/bots/:id", h.GetBot)
	owned.PUT("/bots/:id", h.UpdateBot)
	owned.POST("/bots/:id/shares", h.CreateShare)
	owned.DELETE("/shares/:token", h.RevokeShare)
	owned.PUT("/credentials/openrouter", h.SetOpenRouterKey)
	owned.GET("/usage", h.ListUsage)

	return &testAPI{r: r, db: db, models: models}
}

func (a *testAPI) relayConfig() config.RelayConfig { return testRelayConfig }

// do sends a JSON request as uid ("" for anonymous).
func (a *testAPI) do(t *testing.T, method, path, uid string, body any, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		req.Header.Set(middleware.HeaderUserID, uid)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	return w
}

func (a *testAPI) seedBot(t *testing.T, owner, preferred string) *domain.Bot {
	t.Helper()
	b, err := repo.CreateBot(context.Background(), a.db, &domain.Bot{OwnerID: owner, Name: "Helper", PreferredModel: preferred})
	if err != nil {
		t.Fatalf("seed bot: %v", err)
	}
	return b
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}
