// Package openrouter turns an uploaded image plus user context into a
// validated, rate-limited, retried request against an OpenRouter-style
// chat-completions API, and normalizes the structured response.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/akarwowska/altgen/internal/domain"
	"github.com/akarwowska/altgen/internal/httputil"
	"github.com/akarwowska/altgen/internal/metrics"
	"github.com/akarwowska/altgen/internal/ratelimit"
	"github.com/akarwowska/altgen/internal/retry"
	"github.com/akarwowska/altgen/internal/telemetry"
)

// DefaultSystemPrompt instructs the model to answer with exactly the two
// tagged lines the parser expects.
const DefaultSystemPrompt = "You are an assistant that writes SEO-friendly image descriptions. " +
	"Reply with exactly two lines: \"Alt: <concise alt text for the image>\" and " +
	"\"Nazwa: <short-kebab-case-file-name without extension>\". Do not add anything else."

// quotaCooldown is how long to report after the provider signals 429; its
// free-tier quota resets daily.
const quotaCooldown = 24 * time.Hour

// Client is the outbound request orchestrator. Configuration is guarded by a
// mutex so SetConfig can swap it wholesale; the rate limiter carries its own
// synchronization.
type Client struct {
	mu             sync.RWMutex
	cfg            Config
	responseFormat map[string]any

	httpClient *http.Client
	limiter    ratelimit.Limiter
	policy     retry.Policy
	logger     *slog.Logger

	lastMu       sync.Mutex
	lastResponse *Response
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLimiter(l ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New validates the configuration and builds a client. Zero-value model
// params and system prompt fall back to the defaults before validation.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.ModelParams == (ModelParams{}) {
		cfg.ModelParams = DefaultModelParams()
	}
	if cfg.SystemPrompt == (SystemPrompt{}) {
		cfg.SystemPrompt = SystemPrompt{Role: RoleSystem, Content: DefaultSystemPrompt}
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	c := &Client{
		cfg: cfg,
		responseFormat: map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "ResponseSchema",
				"strict": true,
				"schema": map[string]any{
					"success": "boolean",
					"data":    "object",
					"message": "string",
				},
			},
		},
		policy: retry.DefaultPolicy(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = httputil.DefaultClient()
	}
	if c.limiter == nil {
		limiter, err := ratelimit.NewSlidingWindow(ratelimit.DefaultSettings())
		if err != nil {
			return nil, err
		}
		c.limiter = limiter
	}

	c.logger.Info("openrouter client initialized",
		"endpoint", cfg.APIEndpoint,
		"model", cfg.DefaultModel,
	)
	return c, nil
}

// SetConfig merges a partial configuration into the current one. The merged
// result is validated before it replaces anything.
func (c *Client) SetConfig(patch ConfigPatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.cfg
	if patch.APIKey != nil {
		next.APIKey = *patch.APIKey
	}
	if patch.APIEndpoint != nil {
		next.APIEndpoint = *patch.APIEndpoint
	}
	if patch.DefaultModel != nil {
		next.DefaultModel = *patch.DefaultModel
	}
	if patch.ModelParams != nil {
		next.ModelParams = *patch.ModelParams
	}
	if patch.SystemPrompt != nil {
		next.SystemPrompt = *patch.SystemPrompt
	}

	if err := ValidateConfig(next); err != nil {
		return err
	}

	c.cfg = next
	c.logger.Info("configuration updated")
	return nil
}

func (c *Client) SetSystemPrompt(prompt SystemPrompt) error {
	if prompt.Role == "" {
		prompt.Role = RoleSystem
	}
	if strings.TrimSpace(prompt.Content) == "" {
		return domain.NewValidationError("system prompt content cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.SystemPrompt = prompt
	return nil
}

// Config returns a copy of the current configuration.
func (c *Client) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// RateLimitStatus exposes the limiter's remaining capacity.
func (c *Client) RateLimitStatus(ctx context.Context) (ratelimit.Status, error) {
	return c.limiter.Status(ctx)
}

// LastResponse returns the most recently stored response, success or failure.
// It reflects whichever concurrent call finished last; a debugging aid, not
// an audit log.
func (c *Client) LastResponse() *Response {
	c.lastMu.Lock()
	defer c.lastMu.Unlock()
	return c.lastResponse
}

func (c *Client) storeLast(resp *Response) {
	c.lastMu.Lock()
	c.lastResponse = resp
	c.lastMu.Unlock()
}

// SendRequest is the single public entry point: validate, gate on the rate
// limiter, drive the attempt loop, and normalize the result. imageRef may be
// empty for a text-only request, an absolute URL, or a data URI.
func (c *Client) SendRequest(ctx context.Context, text string, imageRef string) (*Response, error) {
	start := time.Now()

	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()

	resp, err := c.send(ctx, cfg, text, imageRef)
	if err != nil {
		failure := &Response{
			Success: false,
			Message: err.Error(),
			Data:    ResponseData{Error: err.Error()},
		}
		c.storeLast(failure)
		metrics.RecordRequest(cfg.DefaultModel, errorStatus(err), time.Since(start).Seconds())
		return nil, err
	}

	c.storeLast(resp)
	metrics.RecordRequest(cfg.DefaultModel, "success", time.Since(start).Seconds())
	if resp.Data.Usage != nil {
		metrics.RecordTokens(cfg.DefaultModel, resp.Data.Usage.PromptTokens, resp.Data.Usage.CompletionTokens)
	}

	c.logger.Info("request completed",
		"model", resp.Data.Model,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

func (c *Client) send(ctx context.Context, cfg Config, text string, imageRef string) (*Response, error) {
	ctx, span := telemetry.StartSpan(ctx, "openrouter.send_request")
	defer span.End()
	telemetry.AddRequestAttributes(span, cfg.DefaultModel, imageRef != "")

	// Validation comes first so a malformed request never consumes a
	// rate-limit slot.
	if err := ValidateText(text); err != nil {
		telemetry.AddErrorAttribute(span, err)
		return nil, err
	}

	userMsg := buildUserMessage(text, imageRef)
	if err := ValidateMessage(userMsg); err != nil {
		telemetry.AddErrorAttribute(span, err)
		return nil, err
	}

	// Pre-flight gate; a rejection here is surfaced immediately, never
	// retried by this subsystem.
	if err := c.limiter.Acquire(ctx); err != nil {
		metrics.RecordRateLimitHit("limiter")
		telemetry.AddErrorAttribute(span, err)
		c.logger.Warn("rate limit reached", "error", err)
		return nil, err
	}

	body, err := json.Marshal(payload{
		Model: cfg.DefaultModel,
		Messages: []Message{
			{Role: RoleSystem, Content: cfg.SystemPrompt.Content},
			userMsg,
		},
		ResponseFormat: c.responseFormat,
		Temperature:    cfg.ModelParams.Temperature,
		MaxTokens:      cfg.ModelParams.MaxTokens,
		TopP:           cfg.ModelParams.TopP,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	c.logger.Debug("sending completion request",
		"model", cfg.DefaultModel,
		"message_length", len(text),
		"multimodal", imageRef != "",
	)

	operation := func() (*Response, error) {
		resp, err := c.attempt(ctx, cfg, body)
		if err != nil {
			if derr, ok := domain.AsError(err); ok {
				metrics.RecordProviderError(derr.Kind.String())
				if derr.Kind == domain.KindRateLimit {
					metrics.RecordRateLimitHit("provider")
				}
			}
			if !retry.Retryable(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.policy.NewBackOff()),
		backoff.WithMaxTries(c.policy.MaxTries()),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.RecordRetry(cfg.DefaultModel)
			c.logger.Warn("request attempt failed, will retry",
				"error", err,
				"next_attempt_in", next,
			)
		}),
	)
	if err != nil {
		if _, ok := domain.AsError(err); !ok {
			err = domain.NewProviderError(err.Error(), 0)
		}
		telemetry.AddErrorAttribute(span, err)
		c.logger.Error("request failed", "error", err)
		return nil, err
	}

	return resp, nil
}

// attempt performs one network call and classifies the outcome before
// touching the content.
func (c *Client) attempt(ctx context.Context, cfg Config, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(cfg.APIEndpoint, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewValidationError("create request: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var completion completionResponse
	decodeErr := json.Unmarshal(data, &completion)

	message := "unknown API error"
	if decodeErr == nil && completion.Error != nil && completion.Error.Message != "" {
		message = completion.Error.Message
	}

	// Quota exhaustion comes either as a 429 status or as an embedded
	// error code 429 inside a 2xx body.
	if res.StatusCode == http.StatusTooManyRequests || completion.Error.isQuotaExhausted() {
		if message == "unknown API error" {
			message = "provider rate limit exceeded"
		}
		return nil, domain.NewRateLimitError(message, int(quotaCooldown.Seconds()))
	}

	switch {
	case res.StatusCode == http.StatusUnauthorized:
		return nil, domain.NewAuthenticationError(message)
	case res.StatusCode == http.StatusBadRequest:
		return nil, domain.NewValidationError(message)
	case res.StatusCode < 200 || res.StatusCode > 299:
		return nil, domain.NewProviderError(message, res.StatusCode)
	}

	if decodeErr != nil {
		return nil, domain.NewParseError("malformed completion body: " + decodeErr.Error())
	}
	if completion.Error != nil {
		return nil, domain.NewProviderError(message, res.StatusCode)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message == nil || completion.Choices[0].Message.Content == "" {
		return nil, domain.NewParseError("completion is missing choices[0].message.content")
	}

	return &Response{
		Success: true,
		Message: "request successful",
		Data: ResponseData{
			Content: completion.Choices[0].Message.Content,
			Model:   completion.Model,
			Usage:   completion.Usage,
		},
	}, nil
}

// buildUserMessage orders image parts ahead of the instruction text so the
// model sees the image first.
func buildUserMessage(text, imageRef string) Message {
	if imageRef == "" {
		return Message{Role: RoleUser, Content: text}
	}
	return Message{
		Role: RoleUser,
		Content: []ContentPart{
			{Type: PartImage, ImageURL: &ImageURL{URL: imageRef, Detail: DetailHigh}},
			{Type: PartText, Text: text},
		},
	}
}

func errorStatus(err error) string {
	if derr, ok := domain.AsError(err); ok {
		return derr.Kind.String()
	}
	return "error"
}
