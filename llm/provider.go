package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/attacklens/attacklens/config"
	"github.com/attacklens/attacklens/taskerr"
)

// Provider produces completions. Implementations must be safe for
// concurrent use.
type Provider interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// HTTPProvider speaks the OpenAI chat-completions wire format.
type HTTPProvider struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	logger   *slog.Logger
}

// chatRequest is the wire shape sent to the endpoint.
type chatRequest struct {
	Model          string          `json:"model,omitempty"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// chatResponse is the wire shape received from the endpoint.
type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewHTTPProvider returns a provider for the configured endpoint.
func NewHTTPProvider(cfg *config.LLMConfig, logger *slog.Logger) (*HTTPProvider, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, taskerr.NewInvalidInput("llm.NewHTTPProvider", fmt.Errorf("endpoint is required"))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPProvider{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		client:   &http.Client{Timeout: cfg.GetTimeout()},
		logger:   logger,
	}, nil
}

// Complete sends the request and returns the first choice's content.
// Transport errors, 429s, and 5xx responses are Transient; other non-2xx
// responses are permanent.
func (p *HTTPProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	const op = "HTTPProvider.Complete"

	body, err := json.Marshal(chatRequest{
		Model:          p.model,
		Messages:       req.Messages,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		ResponseFormat: req.ResponseFormat,
	})
	if err != nil {
		return nil, taskerr.NewInternal(op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, taskerr.NewInternal(op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, taskerr.NewTransient(op, err)
	}
	defer taskerr.CloseWithLog(resp.Body, p.logger, "response body")

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, taskerr.NewTransient(op, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, taskerr.NewTransient(op, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 300:
		return nil, taskerr.NewInternal(op, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(respBody, 200)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, taskerr.NewInternal(op, fmt.Errorf("decode response: %w", err))
	}
	if parsed.Error != nil {
		return nil, taskerr.NewInternal(op, fmt.Errorf("endpoint error: %s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return nil, taskerr.NewInternal(op, fmt.Errorf("response has no choices"))
	}

	return &CompletionResponse{
		Content: parsed.Choices[0].Message.Content,
		Model:   parsed.Model,
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
