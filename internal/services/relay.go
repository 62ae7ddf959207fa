// Package services – ModelRelay
//
// ModelRelay turns one chat request into at most one upstream reply by walking
// an ordered candidate list: the bot's preferred model first, then the
// configured fallback pool. Each candidate gets exactly one synchronous call;
// the first parseable reply wins and no further candidates are contacted.
// There is no retry, backoff, or caching, and no state is kept between calls.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-botrelay/internal/config"
	"github.com/tbourn/go-botrelay/internal/domain"
	"github.com/tbourn/go-botrelay/internal/llm"
)

var (
	relayAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_attempts_total",
			Help: "Upstream chat-completion attempts by model and outcome.",
		},
		[]string{"model", "outcome"},
	)

	relayAttemptsPerRequest = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_attempts_per_request",
			Help:    "Number of candidates contacted per relay call.",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)
)

func init() {
	prometheus.MustRegister(relayAttempts, relayAttemptsPerRequest)
}

// RelayResult is the outcome of a successful relay call.
type RelayResult struct {
	Reply      string
	TokensUsed int
	Model      string
	Attempts   int
}

// ModelRelay performs the per-request model fallback.
type ModelRelay struct {
	// Gateway performs one upstream call.
	Gateway llm.Completer
	// FallbackPool is tried in order after the preferred model.
	FallbackPool []string
	// MaxTokens caps each completion. Values <= 0 default to 2048.
	MaxTokens int
	// DefaultTemperature applies when the bot has none; nil means
	// domain.DefaultTemperature. Zero is a valid setting.
	DefaultTemperature *float64
}

// NewModelRelay builds a relay from configuration.
func NewModelRelay(g llm.Completer, cfg config.RelayConfig) *ModelRelay {
	pool := make([]string, len(cfg.FallbackModels))
	copy(pool, cfg.FallbackModels)
	return &ModelRelay{
		Gateway:            g,
		FallbackPool:       pool,
		MaxTokens:          cfg.MaxTokens,
		DefaultTemperature: cfg.DefaultTemperature,
	}
}

// Candidates returns [preferred] ++ FallbackPool. An empty preferred model is
// skipped; duplicates are kept, so a preferred model listed in the pool is
// tried twice.
func (r *ModelRelay) Candidates(preferred string) []string {
	out := make([]string, 0, len(r.FallbackPool)+1)
	if p := strings.TrimSpace(preferred); p != "" {
		out = append(out, p)
	}
	return append(out, r.FallbackPool...)
}

// Relay produces a reply for message given the bot snapshot, the upstream
// apiKey, a system prompt, and prior turns. It returns ErrUpstreamExhausted
// after exactly len(Candidates) failed attempts.
//
// The caller's cancellation is not propagated to upstream calls; each call is
// bounded only by the gateway's HTTP timeout.
func (r *ModelRelay) Relay(ctx context.Context, bot *domain.Bot, apiKey, systemPrompt string, history []domain.Turn, message string) (*RelayResult, error) {
	tr := otel.Tracer("services/ModelRelay")
	ctx, span := tr.Start(ctx, "Relay",
		trace.WithAttributes(
			attribute.String("bot.id", bot.ID),
			attribute.String("bot.preferred_model", bot.PreferredModel),
			attribute.Int("history.len", len(history)),
		),
	)
	defer span.End()

	if strings.TrimSpace(message) == "" {
		return nil, ErrInvalidRequest
	}

	lg := zerolog.Ctx(ctx)
	callCtx := context.WithoutCancel(ctx)
	candidates := r.Candidates(bot.PreferredModel)
	req := llm.Request{
		Messages:    buildMessages(systemPrompt, history, message),
		Temperature: r.temperature(bot),
		MaxTokens:   r.maxTokens(),
	}

	for i, model := range candidates {
		attempt := i + 1
		req.Model = model
		start := time.Now()

		c, err := r.Gateway.Complete(callCtx, apiKey, req)
		if err != nil {
			relayAttempts.WithLabelValues(model, "error").Inc()
			lg.Warn().
				Err(err).
				Str("model", model).
				Int("attempt", attempt).
				Int("upstream_status", llm.StatusCode(err)).
				Dur("latency", time.Since(start)).
				Msg("relay attempt failed")
			continue
		}

		relayAttempts.WithLabelValues(model, "success").Inc()
		relayAttemptsPerRequest.Observe(float64(attempt))
		span.SetAttributes(
			attribute.String("relay.model", model),
			attribute.Int("relay.attempts", attempt),
		)
		lg.Debug().
			Str("model", model).
			Int("attempt", attempt).
			Int("tokens", c.TotalTokens).
			Dur("latency", time.Since(start)).
			Msg("relay attempt succeeded")

		return &RelayResult{
			Reply:      c.Content,
			TokensUsed: c.TotalTokens,
			Model:      model,
			Attempts:   attempt,
		}, nil
	}

	relayAttemptsPerRequest.Observe(float64(len(candidates)))
	span.SetStatus(codes.Error, "upstream exhausted")
	lg.Error().Int("attempts", len(candidates)).Msg("all relay candidates failed")
	return nil, fmt.Errorf("%w after %d attempts", ErrUpstreamExhausted, len(candidates))
}

func (r *ModelRelay) temperature(bot *domain.Bot) float64 {
	if bot != nil && bot.Temperature != nil {
		return *bot.Temperature
	}
	if r.DefaultTemperature != nil {
		return *r.DefaultTemperature
	}
	return domain.DefaultTemperature
}

func (r *ModelRelay) maxTokens() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return 2048
}

// buildMessages lays out [system, ...history, user].
func buildMessages(systemPrompt string, history []domain.Turn, message string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: domain.RoleSystem, Content: systemPrompt})
	for _, t := range history {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Content})
	}
	return append(msgs, llm.Message{Role: domain.RoleUser, Content: message})
}

// BuildSystemPrompt renders the bot's persona into a system message.
func BuildSystemPrompt(bot *domain.Bot) string {
	var b strings.Builder
	name := strings.TrimSpace(bot.Name)
	if name == "" {
		name = "an assistant"
	}
	fmt.Fprintf(&b, "You are %s.", name)
	if g := strings.TrimSpace(bot.Goal); g != "" {
		fmt.Fprintf(&b, "\n\nYour goal: %s", g)
	}
	if d := strings.TrimSpace(bot.Description); d != "" {
		fmt.Fprintf(&b, "\n\nAbout you: %s", d)
	}
	if t := strings.TrimSpace(bot.Tone); t != "" {
		fmt.Fprintf(&b, "\n\nRespond in a %s tone.", t)
	}
	b.WriteString("\n\nStay on topic and answer the user's latest message.")
	return b.String()
}
