package clients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// DefaultVisionTimeout bounds a single chat completion round trip
const DefaultVisionTimeout = 120 * time.Second

// VisionClient sends single-image prompts to an OpenAI-compatible chat completions endpoint
type VisionClient struct {
	client     *openai.Client
	retryCount int
	retryDelay time.Duration
	limiter    *rate.Limiter
}

// VisionClientConfig holds configuration for the vision client
type VisionClientConfig struct {
	APIKey            string
	BaseURL           string        // Default: https://api.openai.com/v1
	Timeout           time.Duration // Default: 120s
	RetryCount        int           // Default: 0, frames are never retried unless asked
	RetryDelay        time.Duration // Default: 1s, grows quadratically
	RequestsPerSecond float64       // 0 disables client-side pacing
	Burst             int           // Default: 5
}

// NewVisionClient creates a new vision client
func NewVisionClient(config VisionClientConfig) *VisionClient {
	if config.Timeout == 0 {
		config.Timeout = DefaultVisionTimeout
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = time.Second
	}
	if config.Burst == 0 {
		config.Burst = 5
	}

	cfg := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		cfg.BaseURL = config.BaseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: config.Timeout}

	c := &VisionClient{
		client:     openai.NewClientWithConfig(cfg),
		retryCount: config.RetryCount,
		retryDelay: config.RetryDelay,
	}
	if config.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst)
	}
	return c
}

// AnalyzeImage sends one text prompt plus one image and returns the raw reply text
func (c *VisionClient) AnalyzeImage(ctx context.Context, model, prompt, imageURL string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: imageURL},
					},
				},
			},
		},
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * c.retryDelay
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		content, err := c.doRequest(ctx, req)
		if err == nil {
			return content, nil
		}
		lastErr = err

		if !c.isRetryable(err) {
			return "", err
		}
		slog.WarnContext(ctx, "vision request failed, retrying", "attempt", attempt+1, "err", err)
	}

	return "", fmt.Errorf("vision request failed after %d attempts: %w", c.retryCount+1, lastErr)
}

func (c *VisionClient) doRequest(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

// isRetryable determines if an error is retryable: rate limits, 5xx and timeouts
func (c *VisionClient) isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// HealthCheck checks that the endpoint answers and the key is accepted
func (c *VisionClient) HealthCheck(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("vision endpoint unhealthy: %w", err)
	}
	return nil
}
