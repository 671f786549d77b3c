package generation

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/inkwell/internal/config"
	"github.com/hpungsan/inkwell/internal/errors"
	"github.com/hpungsan/inkwell/internal/logging"
)

const systemPrompt = "You are a writing assistant. Reply with the requested text only, in markdown, without preamble."

// ClientOptions configures an HTTP Client.
type ClientOptions struct {
	// BaseURL is an OpenAI-compatible API root, e.g. https://api.openai.com/v1.
	BaseURL string
	APIKey  string
	Model   string

	// MaxAttempts bounds retries of 429 and 5xx responses within one call.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	http        *http.Client
	logger      *zap.Logger
}

var _ Generator = (*Client)(nil)

// NewClient creates a Client. The caller's context carries the timeout.
func NewClient(opts ClientOptions) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		apiKey:      opts.APIKey,
		model:       opts.Model,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		maxDelay:    opts.MaxDelay,
		http:        opts.HTTPClient,
		logger:      logging.OrNop(opts.Logger).Named("generation"),
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 3
	}
	if c.baseDelay <= 0 {
		c.baseDelay = 500 * time.Millisecond
	}
	if c.maxDelay <= 0 {
		c.maxDelay = 4 * time.Second
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d message=%s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error: status=%d", e.StatusCode)
}

func (e *APIError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Generate sends req and returns the first choice's content.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if c.baseURL == "" {
		return "", errors.NewGenerationFailure(stderrors.New("generation base url is not configured"))
	}
	if c.model == "" {
		return "", errors.NewGenerationFailure(stderrors.New("generation model is not configured"))
	}

	payload, err := json.Marshal(chatRequest{Model: c.model, Messages: messages(req)})
	if err != nil {
		return "", errors.NewGenerationFailure(fmt.Errorf("marshal request: %w", err))
	}

	backoff := c.baseDelay
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		out, err := c.do(ctx, payload)
		if err == nil {
			return out, nil
		}
		lastErr = err

		var apiErr *APIError
		retry := attempt < c.maxAttempts && ctx.Err() == nil &&
			((stderrors.As(err, &apiErr) && apiErr.retryable()) || isRetryableNetErr(err))
		if !retry {
			break
		}

		wait := withJitter(backoff)
		if apiErr != nil && apiErr.RetryAfter > 0 {
			wait = apiErr.RetryAfter
		}
		if wait > c.maxDelay {
			wait = c.maxDelay
		}
		c.logger.Debug("retrying generation",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.String("kind", string(req.Kind)),
			zap.Error(err),
		)
		if err := sleep(ctx, wait); err != nil {
			lastErr = err
			break
		}
		backoff *= 2
	}

	c.logger.Warn("generation failed",
		zap.String("kind", string(req.Kind)),
		zap.String("section_id", req.SectionID),
		zap.String("tool_id", req.ToolID),
		zap.Error(lastErr),
	)
	return "", errors.NewGenerationFailure(lastErr)
}

func (c *Client) do(ctx context.Context, payload []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(strings.TrimSpace(ra)); err == nil && secs > 0 {
				apiErr.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return "", apiErr
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", stderrors.New("response has no choices")
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", stderrors.New("response is empty")
	}
	return text, nil
}

func messages(req Request) []chatMessage {
	msgs := []chatMessage{{Role: "system", Content: systemPrompt}}
	if req.Kind == KindTool {
		msgs = append(msgs, chatMessage{Role: "user", Content: req.Prompt + "\n\nText:\n" + req.Input})
		return msgs
	}
	return append(msgs, chatMessage{Role: "user", Content: req.Prompt})
}

// errorMessage extracts {"error":{"message":...}} or {"message":...}.
func errorMessage(body []byte) string {
	var raw map[string]any
	if json.Unmarshal(body, &raw) != nil {
		return strings.TrimSpace(string(body))
	}
	if v, ok := raw["error"].(map[string]any); ok {
		if msg, ok := v["message"].(string); ok {
			return msg
		}
	}
	if msg, ok := raw["message"].(string); ok {
		return msg
	}
	return ""
}

func isRetryableNetErr(err error) bool {
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d/2 + rand.N(d/2+1)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FromConfig returns the configured Client, or the Echo generator when no
// endpoint is configured.
func FromConfig(cfg *config.Config, logger *zap.Logger) Generator {
	logger = logging.OrNop(logger)
	if strings.TrimSpace(cfg.GenerationBaseURL) == "" {
		logger.Warn("no generation endpoint configured; using echo generator")
		return Echo()
	}
	var apiKey string
	if cfg.GenerationAPIKeyEnv != "" {
		apiKey = os.Getenv(cfg.GenerationAPIKeyEnv)
	}
	return NewClient(ClientOptions{
		BaseURL:     cfg.GenerationBaseURL,
		APIKey:      apiKey,
		Model:       cfg.GenerationModel,
		MaxAttempts: cfg.GenerationMaxAttempts,
		Logger:      logger,
	})
}
