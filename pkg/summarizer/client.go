package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/evahq/evamem/pkg/memory"
)

const compressionPrompt = `You are a memory compression engine. Distill durable facts from the conversation.

Rules:
1. Extract only explicit facts about the user, no speculation
2. Keep each fact concise and self-contained
3. category must be one of: preference/fact/goal/event/other
4. importance must be an integer in [1, 10]
5. Also provide a concise running summary of the conversation

Return strict JSON object:
{"facts":[{"content":"...","category":"...","importance":7}],"summary":"..."}

Conversation:
%s`

// Client talks to an OpenAI-compatible chat-completions endpoint and turns
// conversation batches into summary drafts. It is safe for concurrent use.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

// Options configures the client; zero values take defaults.
type Options struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Proxy     string
	Timeout   time.Duration
}

const (
	defaultMaxTokens   = 1024
	defaultHTTPTimeout = 60 * time.Second
)

func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("summarizer base URL not configured")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, fmt.Errorf("summarizer model not configured")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      strings.TrimSpace(opts.Model),
		maxTokens:  opts.MaxTokens,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Summarize sends the transcript to the model and parses the structured
// result. Network failures, timeouts, 429 and 5xx responses come back as
// TransientError so callers can retry; malformed model output comes back as
// ValidationError and should not be retried.
func (c *Client) Summarize(ctx context.Context, utterances []memory.Utterance) (memory.SummaryResult, error) {
	if len(utterances) == 0 {
		return memory.SummaryResult{}, nil
	}

	content, err := c.complete(ctx, fmt.Sprintf(compressionPrompt, transcript(utterances)))
	if err != nil {
		return memory.SummaryResult{}, err
	}
	return parseSummaryResult(content)
}

func transcript(utterances []memory.Utterance) string {
	var b strings.Builder
	for _, u := range utterances {
		b.WriteString(string(u.Role))
		b.WriteString(": ")
		b.WriteString(u.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	body := map[string]any{
		"model": c.model,
		"messages": []map[string]string{{
			"role":    "user",
			"content": prompt,
		}},
		"max_tokens":  c.maxTokens,
		"temperature": 0.3,
		"response_format": map[string]string{
			"type": "json_object",
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", &memory.TransientError{Op: "summarizer request", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &memory.TransientError{Op: "read summarizer response", Err: err}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := fmt.Errorf("summarizer http %d: %s", resp.StatusCode, extractAPIError(respBody))
		if retryableStatus(resp.StatusCode) {
			return "", &memory.TransientError{Op: "summarizer call", Err: apiErr}
		}
		return "", apiErr
	}

	message := gjson.GetBytes(respBody, "choices.0.message.content")
	content := strings.TrimSpace(message.String())
	if !message.Exists() || content == "" {
		return "", &memory.ValidationError{Field: "response", Reason: "no content in summarizer response"}
	}
	return content, nil
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status >= http.StatusInternalServerError
}

// parseSummaryResult reads the model's JSON leniently: a missing summary or
// facts array is tolerated, but non-JSON output is rejected outright.
func parseSummaryResult(content string) (memory.SummaryResult, error) {
	if !gjson.Valid(content) {
		return memory.SummaryResult{}, &memory.ValidationError{Field: "response", Reason: "summarizer output is not valid JSON"}
	}

	root := gjson.Parse(content)
	result := memory.SummaryResult{
		Summary: strings.TrimSpace(root.Get("summary").String()),
	}
	for _, fact := range root.Get("facts").Array() {
		result.Facts = append(result.Facts, memory.DraftFact{
			Content:    strings.TrimSpace(fact.Get("content").String()),
			Category:   fact.Get("category").String(),
			Importance: int(fact.Get("importance").Int()),
		})
	}
	return result, nil
}

func extractAPIError(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "empty response body"
	}
	if msg := strings.TrimSpace(gjson.GetBytes(body, "error.message").String()); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(gjson.GetBytes(body, "message").String()); msg != "" {
		return msg
	}
	if len(trimmed) > 500 {
		return trimmed[:500] + "..."
	}
	return trimmed
}
