// Package openrouter is a minimal client for OpenAI-compatible chat
// completion endpoints, OpenRouter by default.
package openrouter

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

	"github.com/stupiduntilnot/chatrelay/internal/model"
	"github.com/stupiduntilnot/chatrelay/internal/prompt"
)

const (
	DefaultURL     = "https://openrouter.ai/api/v1/chat/completions"
	DefaultModel   = "openrouter/free"
	DefaultTimeout = 30 * time.Second
)

// Fixed sampling parameters.
const (
	Temperature      = 0.9
	PresencePenalty  = 0.4
	FrequencyPenalty = 0.2
)

// Options configures a Client. SiteURL and SiteName are optional app
// attribution headers understood by OpenRouter.
type Options struct {
	APIKey   string
	URL      string
	Model    string
	SiteURL  string
	SiteName string
	Timeout  time.Duration
}

// Client sends chat completion requests. It makes exactly one attempt per call.
type Client struct {
	apiKey     string
	url        string
	model      string
	siteURL    string
	siteName   string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a client, filling defaults for empty options.
func NewClient(opts Options) *Client {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Client{
		apiKey:   opts.APIKey,
		url:      opts.URL,
		model:    opts.Model,
		siteURL:  opts.SiteURL,
		siteName: opts.SiteName,
		timeout:  opts.Timeout,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model            string    `json:"model"`
	Messages         []message `json:"messages"`
	Temperature      float64   `json:"temperature"`
	PresencePenalty  float64   `json:"presence_penalty"`
	FrequencyPenalty float64   `json:"frequency_penalty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

var errEmptyReply = errors.New("no reply content in response")

// Complete sends messages and returns the trimmed reply of the first choice.
// Any transport, status or decoding problem yields a failed Result.
func (c *Client) Complete(ctx context.Context, messages []prompt.Message) model.Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := c.complete(ctx, messages)
	if err != nil {
		return model.Failure(err)
	}
	return model.Success(reply)
}

func (c *Client) complete(ctx context.Context, messages []prompt.Message) (string, error) {
	reqBody := chatRequest{
		Model:            c.model,
		Messages:         make([]message, 0, len(messages)),
		Temperature:      Temperature,
		PresencePenalty:  PresencePenalty,
		FrequencyPenalty: FrequencyPenalty,
	}
	for _, m := range messages {
		reqBody.Messages = append(reqBody.Messages, message{Role: m.Role, Content: m.Content})
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed reading completion response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("completion non-success status=%d body=%s", resp.StatusCode, truncate(string(body), 400))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse completion response: %s", truncate(string(body), 400))
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == nil {
		return "", errEmptyReply
	}
	content := strings.TrimSpace(*parsed.Choices[0].Message.Content)
	if content == "" {
		return "", errEmptyReply
	}
	return content, nil
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
