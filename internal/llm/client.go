package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// OllamaClient speaks the local Ollama chat API. It is the only component
// allowed to block for long durations; cancellation aborts the in-flight
// request without side effects.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

type ClientOption func(*OllamaClient)

func WithModel(model string) ClientOption {
	return func(c *OllamaClient) {
		c.model = model
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *OllamaClient) {
		transport := c.httpClient.Transport
		c.httpClient = &http.Client{
			Timeout:   timeout,
			Transport: transport,
		}
	}
}

func WithRateLimit(requestsPerMinute, burst int) ClientOption {
	return func(c *OllamaClient) {
		c.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
	}
}

func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *OllamaClient) {
		c.logger = logger.With("component", "llm_client")
	}
}

func NewOllamaClient(baseURL string, opts ...ClientOption) *OllamaClient {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}

	c := &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   "llama3.1:8b",
		httpClient: &http.Client{
			Timeout:   15 * time.Minute,
			Transport: transport,
		},
		limiter: rate.NewLimiter(rate.Limit(1), 1),
		logger:  slog.Default().With("component", "llm_client"),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logger.Debug("model client initialized",
		"base_url", c.baseURL,
		"model", c.model,
		"rate_limit", fmt.Sprintf("%v req/s", c.limiter.Limit()))
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error,omitempty"`
}

// Generate performs a single chat completion. Failures are classified into
// the package's sentinel errors so the retry policy can decide what to do.
func (c *OllamaClient) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	options := map[string]any{}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	body := chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Options:  options,
	}
	if req.ForceJSON {
		body.Format = "json"
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding chat request: %w", err)
	}

	c.logger.Debug("sending generation request",
		"model", c.model,
		"prompt_length", len(req.Prompt),
		"force_json", req.ForceJSON)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
		}
		return "", fmt.Errorf("model request rejected: status %d: %s", resp.StatusCode, truncateBody(raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, parsed.Error)
	}

	content := strings.TrimSpace(parsed.Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}

	c.logger.Info("generation completed",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"response_length", len(content))
	return content, nil
}

// Available reports whether the endpoint is reachable and the configured
// model is installed.
func (c *OllamaClient) Available(ctx context.Context) bool {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}
	for _, m := range tags.Models {
		if m.Name == c.model {
			return true
		}
	}
	return false
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func truncateBody(raw []byte) string {
	s := string(raw)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
