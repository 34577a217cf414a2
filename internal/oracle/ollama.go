package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"aide/pkg/logx"
)

const chatCompletionsPath = "/chat/completions"

// HTTPConfig carries the endpoint settings for the HTTP client.
type HTTPConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// HTTPClient implements Client against any OpenAI-compatible
// /chat/completions endpoint.
type HTTPClient struct {
	mu     sync.RWMutex
	cfg    HTTPConfig // guarded by mu; SetModel swaps the model live
	client *http.Client
	log    logx.Logger
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient sets a custom http.Client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) { h.client = c }
}

// NewHTTP builds a client for the configured endpoint.
func NewHTTP(cfg HTTPConfig, log logx.Logger, opts ...Option) *HTTPClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	h := &HTTPClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// SetModel swaps the model name, used by config hot reload. Safe to
// call while Chat requests are in flight.
func (h *HTTPClient) SetModel(model string) {
	if model == "" {
		return
	}
	h.mu.Lock()
	h.cfg.Model = model
	h.mu.Unlock()
}

func (h *HTTPClient) snapshot() HTTPConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Chat sends a non-streaming completion request and returns the first
// choice's content.
func (h *HTTPClient) Chat(ctx context.Context, msgs []Message) (string, error) {
	cfg := h.snapshot()
	req := chatRequest{
		Model:    cfg.Model,
		Messages: msgs,
	}
	if cfg.Temperature > 0 {
		t := cfg.Temperature
		req.Temperature = &t
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		cfg.BaseURL+chatCompletionsPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	start := time.Now()
	httpResp, err := h.client.Do(httpReq)
	if err != nil {
		h.log.Warn("oracle request failed", logx.Err(err))
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		h.log.Warn("oracle non-ok status",
			logx.Int("status", httpResp.StatusCode),
			logx.Duration("elapsed", time.Since(start)))
		return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, httpResp.StatusCode, truncate(string(respBody), 200))
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("%w: [%s] %s", ErrUnavailable, resp.Error.Type, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrUnavailable)
	}
	h.log.Debug("oracle reply",
		logx.String("model", cfg.Model),
		logx.Duration("elapsed", time.Since(start)))
	return resp.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
