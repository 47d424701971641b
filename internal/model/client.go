package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"qresponder/internal/httpx"
	"qresponder/internal/pipeline"
)

// GeminiBaseURL is Gemini's OpenAI-compatible endpoint.
const GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// OpenAIBaseURL is the OpenAI API endpoint.
const OpenAIBaseURL = "https://api.openai.com/v1"

type Config struct {
	APIKey  string
	BaseURL string
	Model   string

	Temperature float32
	MaxTokens   int
	// RequestsPerMinute paces calls across all workers (0 = unpaced).
	RequestsPerMinute int
	// Timeout bounds a single model call (0 = no per-call timeout).
	Timeout time.Duration

	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
	Logger    *slog.Logger
	// LogHTTP logs every provider request at debug level.
	LogHTTP bool
}

// Client evaluates requirements against an OpenAI-compatible chat completion API.
// It is safe for concurrent use.
type Client struct {
	api     *openai.Client
	cfg     Config
	limiter *rate.Limiter
	budget  *RequestBudget
	logger  *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("model client: API key is empty")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("model client: model name is empty")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = GeminiBaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	budget := NewRequestBudget()
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if cfg.LogHTTP {
		transport = httpx.Wrap(transport, logger, "model")
	}
	transport = &budgetTransport{budget: budget, next: transport}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	oc.HTTPClient = &http.Client{Transport: transport}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	return &Client{
		api:     openai.NewClientWithConfig(oc),
		cfg:     cfg,
		limiter: limiter,
		budget:  budget,
		logger:  logger,
	}, nil
}

// Evaluate renders the prompt for q, calls the model and normalizes the reply.
// Errors are classified with pipeline error kinds.
func (c *Client) Evaluate(ctx context.Context, q pipeline.Query) (string, error) {
	prompt, err := RenderPrompt(q)
	if err != nil {
		return "", pipeline.Classify(pipeline.KindUnknown, err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", classify(fmt.Errorf("wait for rate limiter: %w", err))
	}

	callCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemMessage(q.Context)},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.cfg.Temperature,
	}
	if c.cfg.MaxTokens > 0 {
		req.MaxCompletionTokens = c.cfg.MaxTokens
	}

	c.logger.Debug("evaluating requirement", "row", q.Requirement.RowID, "attempt", q.Attempt, "model", c.cfg.Model)
	resp, err := c.api.CreateChatCompletion(callCtx, req)
	if err != nil {
		return "", classify(fmt.Errorf("chat completion for row %s: %w", q.Requirement.RowID, err))
	}
	if len(resp.Choices) == 0 {
		return "", pipeline.Classify(pipeline.KindContentRejected, fmt.Errorf("model returned no choices for row %s", q.Requirement.RowID))
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", pipeline.Classify(pipeline.KindContentRejected, fmt.Errorf("response for row %s blocked by content filter", q.Requirement.RowID))
	}

	stmt := Normalize(choice.Message.Content, q.Context.AllowedNames())
	if stmt != pipeline.NotFoundStatement {
		stmt = q.Context.FixReferences(stmt)
	}
	return stmt, nil
}

// Budget exposes the provider request budget observed so far.
func (c *Client) Budget() *RequestBudget {
	return c.budget
}
