package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func chatHandler(t *testing.T, content string, check func(chatRequest)) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if check != nil {
			check(req)
		}
		resp := chatResponse{}
		resp.Message.Content = content
		json.NewEncoder(w).Encode(resp)
	}
}

func TestGenerate(t *testing.T) {
	var seen chatRequest
	srv := httptest.NewServer(chatHandler(t, "once upon a tide", func(req chatRequest) {
		seen = req
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, WithModel("test-model"), WithRateLimit(6000, 10))
	got, err := c.Generate(context.Background(), Request{
		System:      "you are a novelist",
		Prompt:      "write",
		Temperature: 0.8,
		ForceJSON:   true,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "once upon a tide" {
		t.Errorf("content = %q", got)
	}

	if seen.Model != "test-model" {
		t.Errorf("model = %q", seen.Model)
	}
	if seen.Stream {
		t.Error("streaming must be disabled")
	}
	if seen.Format != "json" {
		t.Errorf("format = %q, want json when ForceJSON is set", seen.Format)
	}
	if len(seen.Messages) != 2 || seen.Messages[0].Role != "system" {
		t.Errorf("messages = %+v", seen.Messages)
	}
}

func TestGenerateServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, WithRateLimit(6000, 10))
	_, err := c.Generate(context.Background(), Request{Prompt: "write"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
	if !IsRetryable(err) {
		t.Error("server errors should be retryable")
	}
}

func TestGenerateEmptyContent(t *testing.T) {
	srv := httptest.NewServer(chatHandler(t, "   ", nil))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, WithRateLimit(6000, 10))
	_, err := c.Generate(context.Background(), Request{Prompt: "write"})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("want ErrEmptyResponse, got %v", err)
	}
}

func TestGenerateCancellation(t *testing.T) {
	srv := httptest.NewServer(chatHandler(t, "late", nil))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewOllamaClient(srv.URL, WithRateLimit(6000, 10))
	_, err := c.Generate(ctx, Request{Prompt: "write"})
	if err == nil {
		t.Fatal("cancelled context should abort the call")
	}
	if IsRetryable(err) {
		t.Errorf("cancellation must not be retryable: %v", err)
	}
}

func TestAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"models": [{"name": "llama3.1:8b"}, {"name": "qwen2.5:14b"}]}`))
	}))
	defer srv.Close()

	if !NewOllamaClient(srv.URL).Available(context.Background()) {
		t.Error("default model is installed, Available should be true")
	}
	if NewOllamaClient(srv.URL, WithModel("missing:7b")).Available(context.Background()) {
		t.Error("missing model should report unavailable")
	}
}
