package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stupiduntilnot/chatrelay/internal/model"
	"github.com/stupiduntilnot/chatrelay/internal/prompt"
)

var hi = []prompt.Message{{Role: "user", Content: "hi"}}

func TestComplete_TrimsReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"message":{"content":" Hi there! "}}]}`)
	}))
	defer server.Close()

	client := NewClient(Options{APIKey: "test-key", URL: server.URL, Model: "test-model", Timeout: 5 * time.Second})
	result := client.Complete(context.Background(), hi)
	if !result.OK() {
		t.Fatal(result.Err)
	}
	if result.Reply != "Hi there!" {
		t.Errorf("expected trimmed reply, got %q", result.Reply)
	}
}

func TestComplete_SendsRequestShape(t *testing.T) {
	var (
		gotBody    map[string]any
		gotHeaders http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer server.Close()

	client := NewClient(Options{
		APIKey:   "test-key",
		URL:      server.URL,
		Model:    "test-model",
		SiteURL:  "https://example.com",
		SiteName: "Example",
	})
	msgs := []prompt.Message{
		{Role: "system", Content: "persona"},
		{Role: "user", Content: "hello"},
	}
	if result := client.Complete(context.Background(), msgs); !result.OK() {
		t.Fatal(result.Err)
	}

	if gotHeaders.Get("Authorization") != "Bearer test-key" {
		t.Errorf("unexpected auth header %q", gotHeaders.Get("Authorization"))
	}
	if gotHeaders.Get("HTTP-Referer") != "https://example.com" || gotHeaders.Get("X-Title") != "Example" {
		t.Errorf("missing site headers: %v", gotHeaders)
	}
	if gotBody["model"] != "test-model" {
		t.Errorf("unexpected model %v", gotBody["model"])
	}
	if gotBody["temperature"] != 0.9 || gotBody["presence_penalty"] != 0.4 || gotBody["frequency_penalty"] != 0.2 {
		t.Errorf("unexpected sampling params: %v", gotBody)
	}
	messages, _ := gotBody["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %v", gotBody["messages"])
	}
	first, _ := messages[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "persona" {
		t.Errorf("unexpected first message %v", first)
	}
}

func TestComplete_OmitsSiteHeadersWhenUnset(t *testing.T) {
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer server.Close()

	client := NewClient(Options{APIKey: "k", URL: server.URL})
	if result := client.Complete(context.Background(), hi); !result.OK() {
		t.Fatal(result.Err)
	}
	if _, ok := gotHeaders["Http-Referer"]; ok {
		t.Error("unexpected HTTP-Referer header")
	}
	if _, ok := gotHeaders["X-Title"]; ok {
		t.Error("unexpected X-Title header")
	}
}

func TestComplete_Failures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"http error", http.StatusTooManyRequests, `{"error":"rate limited"}`},
		{"server error", http.StatusInternalServerError, `oops`},
		{"malformed json", http.StatusOK, `not json`},
		{"empty choices", http.StatusOK, `{"choices":[]}`},
		{"missing content", http.StatusOK, `{"choices":[{"message":{}}]}`},
		{"blank content", http.StatusOK, `{"choices":[{"message":{"content":"   "}}]}`},
		{"error envelope", http.StatusOK, `{"error":{"message":"no credits"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			}))
			defer server.Close()

			client := NewClient(Options{APIKey: "k", URL: server.URL, Timeout: 5 * time.Second})
			result := client.Complete(context.Background(), hi)
			if result.OK() {
				t.Fatalf("expected failure, got reply %q", result.Reply)
			}
			if !errors.Is(result.Err, model.ErrCompletionFailed) {
				t.Fatalf("expected ErrCompletionFailed, got %v", result.Err)
			}
		})
	}
}

func TestComplete_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := NewClient(Options{APIKey: "k", URL: server.URL, Timeout: 50 * time.Millisecond})
	started := time.Now()
	result := client.Complete(context.Background(), hi)
	if result.OK() {
		t.Fatal("expected timeout failure")
	}
	if !errors.Is(result.Err, model.ErrCompletionFailed) {
		t.Fatalf("expected ErrCompletionFailed, got %v", result.Err)
	}
	if time.Since(started) > time.Second {
		t.Fatalf("timeout not enforced, took %s", time.Since(started))
	}
}

func TestComplete_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	result := NewClient(Options{APIKey: "k", URL: url, Timeout: time.Second}).Complete(context.Background(), hi)
	if result.OK() {
		t.Fatal("expected network failure")
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Options{APIKey: "k"})
	if c.url != DefaultURL || c.Model() != DefaultModel || c.timeout != DefaultTimeout {
		t.Fatalf("unexpected defaults: url=%s model=%s timeout=%s", c.url, c.Model(), c.timeout)
	}
}
