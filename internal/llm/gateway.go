// Package llm is the outbound chat-completion client for OpenRouter's
// OpenAI-compatible API. A Gateway holds connection settings only; the API key
// travels with every call because each bot owner brings their own.
package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	gopenai "github.com/sashabaranov/go-openai"

	"github.com/tbourn/go-botrelay/internal/config"
)

// ErrEmptyResponse is returned when the upstream answered 2xx without any choice.
var ErrEmptyResponse = errors.New("llm: response has no choices")

// Message is one chat-completion message.
type Message struct {
	Role    string
	Content string
}

// Request is a single chat-completion call against one model.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Completion is the first choice of a successful call.
type Completion struct {
	Content     string
	Model       string
	TotalTokens int
}

// Completer performs one chat-completion call.
type Completer interface {
	Complete(ctx context.Context, apiKey string, req Request) (*Completion, error)
}

// Gateway talks to OpenRouter.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
}

// NewGateway builds a Gateway from cfg. Calls time out after cfg.Timeout; the
// Referer and Title are sent as OpenRouter attribution headers when set.
func NewGateway(cfg config.OpenRouterConfig) *Gateway {
	return &Gateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &attributionTransport{
				base:    http.DefaultTransport,
				referer: cfg.Referer,
				title:   cfg.Title,
			},
		},
	}
}

// Complete sends req with apiKey and returns the first choice.
func (g *Gateway) Complete(ctx context.Context, apiKey string, req Request) (*Completion, error) {
	oc := gopenai.DefaultConfig(apiKey)
	oc.BaseURL = g.baseURL
	oc.HTTPClient = g.httpClient
	client := gopenai.NewClientWithConfig(oc)

	msgs := make([]gopenai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, gopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := client.CreateChatCompletion(ctx, gopenai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: wireTemperature(req.Temperature),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return &Completion{
		Content:     resp.Choices[0].Message.Content,
		Model:       model,
		TotalTokens: resp.Usage.TotalTokens,
	}, nil
}

// go-openai omits a zero temperature from the request body, which would let
// the upstream apply its own default. A tiny positive value keeps sampling
// greedy.
func wireTemperature(t float64) float32 {
	if t <= 0 {
		return 1e-6
	}
	return float32(t)
}

// StatusCode returns the upstream HTTP status carried by err, or 0 when the
// call failed before a response was read.
func StatusCode(err error) int {
	var apiErr *gopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *gopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

type attributionTransport struct {
	base    http.RoundTripper
	referer string
	title   string
}

func (t *attributionTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if t.referer == "" && t.title == "" {
		return t.base.RoundTrip(r)
	}
	r = r.Clone(r.Context())
	if t.referer != "" {
		r.Header.Set("HTTP-Referer", t.referer)
	}
	if t.title != "" {
		r.Header.Set("X-Title", t.title)
	}
	return t.base.RoundTrip(r)
}
