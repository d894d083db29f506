package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"

	"english-eval-go/internal/config"
	"english-eval-go/internal/logger"
)

// Message is one chat turn sent to the scoring provider.
type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem = openai.ChatMessageRoleSystem
	RoleUser   = openai.ChatMessageRoleUser
)

// ScoringProvider returns the raw text of one model completion.
type ScoringProvider interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// OpenAIProvider calls an OpenAI-compatible chat completions endpoint.
// Transient failures are retried here; malformed content is the
// extractor's problem.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	maxAttempts int
	retryDelay  time.Duration
}

func NewOpenAIProvider(cfg config.ScoringConfig) *OpenAIProvider {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = &http.Client{}
	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message) (string, error) {
	log := logger.Component("scoring").WithField("model", p.model)

	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	var (
		content string
		lastErr error
		attempt int
	)
	op := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		start := time.Now()
		resp, err := p.client.CreateChatCompletion(callCtx, req)
		if err != nil {
			lastErr = err
			log.WithField("attempt", attempt).WithField("duration_ms", time.Since(start).Milliseconds()).
				WithField("error", err.Error()).Warn("scoring request failed")
			if !transientProviderError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("scoring provider returned no choices")
			return lastErr
		}
		content = resp.Choices[0].Message.Content
		log.WithField("attempt", attempt).
			WithField("duration_ms", time.Since(start).Milliseconds()).
			WithField("content_length", len(content)).Debug("scoring response received")
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.retryDelay
	b.MaxInterval = 8 * p.retryDelay
	b.MaxElapsedTime = 0
	retries := p.maxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)); err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return "", fmt.Errorf("scoring provider failed after %d attempt(s): %w", attempt, lastErr)
	}
	return content, nil
}

// transientProviderError is true for network errors, timeouts, 408, 429
// and 5xx responses.
func transientProviderError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return transientStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return transientStatus(reqErr.HTTPStatusCode)
	}
	return true
}

func transientStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}
