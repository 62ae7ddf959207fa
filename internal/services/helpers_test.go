package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-botrelay/internal/config"
	"github.com/tbourn/go-botrelay/internal/domain"
	"github.com/tbourn/go-botrelay/internal/llm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.Bot{}, &domain.ShareLink{}, &domain.Credential{}, &domain.UsageRecord{}, &domain.Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// reply describes how the fake upstream answers one model.
type reply struct {
	status  int
	content string
	tokens  int
	raw     string // overrides the JSON body when set
}

// fakeUpstream is an OpenRouter double that records the models it was asked
// for, in order. Unknown models answer 503.
type fakeUpstream struct {
	mu      sync.Mutex
	calls   []string
	bodies  []map[string]any
	replies map[string]reply
	srv     *httptest.Server
}

func newFakeUpstream(t *testing.T, replies map[string]reply) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{replies: replies}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeUpstream) serve(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	model, _ := body["model"].(string)

	f.mu.Lock()
	f.calls = append(f.calls, model)
	f.bodies = append(f.bodies, body)
	rep, ok := f.replies[model]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"no provider available"}}`))
		return
	}
	if rep.status != 0 && rep.status != http.StatusOK {
		w.WriteHeader(rep.status)
		_, _ = fmt.Fprintf(w, `{"error":{"message":"status %d"}}`, rep.status)
		return
	}
	if rep.raw != "" {
		_, _ = w.Write([]byte(rep.raw))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "gen-1",
		"model":   model,
		"choices": []any{map[string]any{"index": 0, "message": map[string]any{"role": "assistant", "content": rep.content}}},
		"usage":   map[string]any{"total_tokens": rep.tokens},
	})
}

func (f *fakeUpstream) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeUpstream) gateway() *llm.Gateway {
	return llm.NewGateway(config.OpenRouterConfig{BaseURL: f.srv.URL, Timeout: 5 * time.Second})
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
