// Package llm talks to an OpenAI-compatible chat completion endpoint and
// decodes the JSON documents it is asked to return.
package llm

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

	"trendscout/internal/config"
)

// ErrMalformed is returned when a completion cannot be decoded into the
// expected shape.
var ErrMalformed = errors.New("malformed completion")

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System builds a system message.
func System(content string) Message { return Message{Role: "system", Content: content} }

// User builds a user message.
func User(content string) Message { return Message{Role: "user", Content: content} }

// Completer turns a conversation into the assistant's reply text. When
// strictJSON is set the reply is requested as a single JSON object.
type Completer interface {
	Complete(ctx context.Context, messages []Message, strictJSON bool) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, messages []Message, strictJSON bool) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, messages []Message, strictJSON bool) (string, error) {
	return f(ctx, messages, strictJSON)
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Client implements Completer against an OpenAI-compatible API.
type Client struct {
	endpoint string
	model    string
	apiKey   string
	timeout  time.Duration
	client   HTTPClient
}

var _ Completer = (*Client)(nil)

// New builds a Client from configuration.
func New(cfg config.LLMConfig, client HTTPClient) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		timeout:  timeout,
		client:   client,
	}
}

// Complete posts the conversation and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, messages []Message, strictJSON bool) (string, error) {
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return "", errors.New("completion client misconfigured")
	}

	reqBody := chatRequest{Model: c.model, Messages: messages}
	if strictJSON {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("completion error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4*1024*1024)).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(chatResp.Choices) == 0 || chatResp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty completion: %w", ErrMalformed)
	}
	return chatResp.Choices[0].Message.Content, nil
}

// DecodeJSON decodes a completion into v. Surrounding Markdown code fences are
// ignored. Any decoding failure wraps ErrMalformed.
func DecodeJSON(raw string, v any) error {
	text := StripFences(raw)
	if text == "" {
		return fmt.Errorf("empty document: %w", ErrMalformed)
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// StripFences removes a leading ```json (or ```) line and a trailing ``` from s.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
