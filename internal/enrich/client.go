// Package enrich talks to the paid external inference service that produces
// nudge message text and job summaries. Calls are latency-variable and
// budget-relevant, so every call carries a bounded timeout and reports its
// cost and token usage to the caller.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/referlane/referlane/internal/engine"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultTimeout = 20 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

// Client communicates with an OpenAI-compatible chat completion API.
type Client struct {
	apiKey       string
	baseURL      string
	model        string
	timeout      time.Duration
	costPer1KUSD float64
	httpClient   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a custom base URL (for testing).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCostRate sets the fallback USD cost per 1K tokens, used when the
// provider does not report a cost itself.
func WithCostRate(usdPer1K float64) Option {
	return func(c *Client) { c.costPer1KUSD = usdPer1K }
}

// NewClient creates a Client for the given API key and model.
func NewClient(apiKey, model string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      model,
		timeout:    defaultTimeout,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Completion is the result of one inference call, with the usage the budget
// layer charges for.
type Completion struct {
	Text    string
	CostUSD float64
	Tokens  int64
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
	Usage struct {
		TotalTokens int64   `json:"total_tokens"`
		Cost        float64 `json:"cost"`
	} `json:"usage"`
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	_, ok := err.(*rateLimitError)
	return ok
}

// Complete sends one prompt and returns the completion with its usage.
// Retries on 429 with exponential backoff; any other failure, including the
// bounded timeout, is an engine.ErrUpstream.
func (c *Client) Complete(ctx context.Context, system, prompt string) (Completion, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return Completion{}, fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := range maxRetries {
		out, err := c.doComplete(ctx, body)
		if err == nil {
			return out, nil
		}
		if !isRateLimit(err) {
			return Completion{}, fmt.Errorf("%w: %w", engine.ErrUpstream, err)
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return Completion{}, fmt.Errorf("%w: %w", engine.ErrUpstream, ctx.Err())
			case <-time.After(backoff):
			}
		}
	}
	return Completion{}, fmt.Errorf("%w: rate limited after %d retries: %w", engine.ErrUpstream, maxRetries, lastErr)
}

func (c *Client) doComplete(ctx context.Context, body []byte) (Completion, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Completion{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return Completion{}, &rateLimitError{status: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Completion{}, fmt.Errorf("upstream returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Completion{}, fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Completion{}, fmt.Errorf("upstream returned no choices")
	}

	out := Completion{
		Text:    strings.TrimSpace(parsed.Choices[0].Message.Content),
		Tokens:  parsed.Usage.TotalTokens,
		CostUSD: parsed.Usage.Cost,
	}
	if out.CostUSD == 0 && c.costPer1KUSD > 0 {
		out.CostUSD = float64(out.Tokens) / 1000 * c.costPer1KUSD
	}
	return out, nil
}
