// Package openai implements the completion gateway over the OpenAI chat
// completions API. Failures are classified into the model.ErrorKind
// taxonomy and retried per the control.RetryPolicy; callers only see the
// final outcome.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stupiduntilnot/chatrelay/internal/control"
	"github.com/stupiduntilnot/chatrelay/internal/model"
	"github.com/stupiduntilnot/chatrelay/internal/sanitize"
)

// Client is a chat completions client implementing model.Provider.
type Client struct {
	apiKey      string
	url         string
	model       string
	maxTokens   int
	temperature float32
	retry       control.RetryPolicy
	httpClient  *http.Client

	// after is swapped out by tests to avoid real backoff waits.
	after func(time.Duration) <-chan time.Time
}

// NewClient creates an OpenAI client. The timeout bounds each individual
// attempt, not the whole retry sequence.
func NewClient(apiKey, url, model string, maxTokens int, temperature float32, timeout time.Duration, retry control.RetryPolicy) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if retry.MaxAttempts <= 0 {
		retry = control.DefaultRetryPolicy()
	}
	return &Client{
		apiKey:      apiKey,
		url:         url,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		retry:       retry,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		after: time.After,
	}
}

type chatRequest struct {
	Model       string          `json:"model"`
	Messages    []model.Message `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float32         `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *usage `json:"usage"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// ChatCompletion sends a chat completion request, retrying transient
// failures with increasing backoff. Invalid requests and auth failures
// return immediately.
func (c *Client) ChatCompletion(ctx context.Context, messages []model.Message) (model.CompletionResponse, error) {
	if err := validateMessages(messages); err != nil {
		return model.CompletionResponse{}, err
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		resp, err := c.complete(ctx, messages)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		kind := model.KindOf(err)
		if !c.retry.ShouldRetry(kind, attempt) {
			return model.CompletionResponse{}, lastErr
		}
		backoff := c.retry.Backoff(kind, attempt)
		log.Debug().
			Int("attempt", attempt).
			Str("error_kind", string(kind)).
			Dur("backoff", backoff).
			Msg("completion attempt failed; retrying")
		// The backoff wait itself honors cancellation.
		select {
		case <-ctx.Done():
			return model.CompletionResponse{}, model.NewError(model.ErrTimeout, ctx.Err())
		case <-c.after(backoff):
		}
	}
}

func (c *Client) complete(ctx context.Context, messages []model.Message) (model.CompletionResponse, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return model.CompletionResponse{}, model.Errorf(model.ErrInvalidRequest, "failed to marshal request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return model.CompletionResponse{}, model.Errorf(model.ErrInvalidRequest, "failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.CompletionResponse{}, model.NewError(classifyTransport(err), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.CompletionResponse{}, model.Errorf(model.ErrUnavailable, "failed reading response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// The raw body may echo request content; redact before it can
		// reach a log line.
		return model.CompletionResponse{}, model.Errorf(
			classifyStatus(resp.StatusCode),
			"non-success status=%d body=%s", resp.StatusCode, sanitize.ForLog(string(body), 400),
		)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return model.CompletionResponse{}, model.Errorf(model.ErrUnavailable, "failed to parse response: %s", sanitize.ForLog(string(body), 400))
	}

	result := model.CompletionResponse{}
	if parsed.Usage != nil {
		result.InputTokens = parsed.Usage.PromptTokens
		result.OutputTokens = parsed.Usage.CompletionTokens
	}
	if len(parsed.Choices) == 0 {
		return model.CompletionResponse{}, model.Errorf(model.ErrUnavailable, "response carried no choices")
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return model.CompletionResponse{}, model.Errorf(model.ErrUnavailable, "response content was empty")
	}
	result.Content = content
	return result, nil
}

// validateMessages rejects malformed history before any network call.
func validateMessages(messages []model.Message) error {
	if len(messages) == 0 {
		return model.Errorf(model.ErrInvalidRequest, "no messages provided")
	}
	for i, m := range messages {
		if !model.ValidRole(m.Role) {
			return model.Errorf(model.ErrInvalidRequest, "message %d has unknown role %q", i, m.Role)
		}
		if strings.TrimSpace(m.Content) == "" {
			return model.Errorf(model.ErrInvalidRequest, "message %d has empty content", i)
		}
	}
	return nil
}

func classifyStatus(status int) model.ErrorKind {
	switch status {
	case http.StatusTooManyRequests:
		return model.ErrRateLimited
	case http.StatusBadRequest:
		return model.ErrInvalidRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		return model.ErrAuthFailed
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return model.ErrTimeout
	}
	return model.ErrUnavailable
}

func classifyTransport(err error) model.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.ErrTimeout
	}
	return model.ErrUnavailable
}

var _ model.Provider = (*Client)(nil)

// String identifies the provider in logs without leaking credentials.
func (c *Client) String() string {
	return fmt.Sprintf("openai(model=%s)", c.model)
}
