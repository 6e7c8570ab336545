package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"playground/internal/logging"
	"playground/internal/observability"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultTimeout       = 60 * time.Second
	maxErrorBodyBytes    = 2048
)

// Config configures an HTTP provider client.
type Config struct {
	Model   string
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Headers map[string]string
}

// OpenAIClient speaks the OpenAI-compatible chat completions API.
type OpenAIClient struct {
	model      string
	apiKey     string
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	logger     logging.Logger
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient constructs a client from config.
func NewOpenAIClient(config Config, logger logging.Logger) (*OpenAIClient, error) {
	model := strings.TrimSpace(config.Model)
	if model == "" {
		return nil, fmt.Errorf("openai client: model is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger = logging.OrNop(logger)
	logger.Debug("OpenAI client for %s at %s (key %s)", model, baseURL, observability.SanitizeAPIKey(config.APIKey))
	return &OpenAIClient{
		model:      model,
		apiKey:     config.APIKey,
		baseURL:    baseURL,
		headers:    config.Headers,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// Model returns the model name used by this client.
func (c *OpenAIClient) Model() string {
	return c.model
}

type openaiRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *openaiError `json:"error"`
}

type openaiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	prefix := ""
	if requestID := observability.RequestIDFromContext(ctx); requestID != "" {
		prefix = fmt.Sprintf("[req:%s] ", requestID)
	}

	body, err := json.Marshal(openaiRequest{
		Model:       c.model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, &Error{Kind: ErrorKindBadRequest, Message: "marshal request", Err: err}
	}

	endpoint := c.baseURL + "/chat/completions"
	c.logger.Debug("%sPOST %s model=%s", prefix, endpoint, c.model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: ErrorKindTransport, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Debug("%sHTTP request failed: %v", prefix, err)
		return nil, &Error{Kind: ErrorKindTransport, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: ErrorKindTransport, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}
	c.logger.Debug("%sStatus: %d, %d bytes", prefix, resp.StatusCode, len(respBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			Kind:       errorKindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody),
		}
	}

	var decoded openaiResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, &Error{Kind: ErrorKindProvider, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return nil, &Error{Kind: ErrorKindProvider, StatusCode: resp.StatusCode, Message: formatOpenAIError(decoded.Error)}
	}
	if len(decoded.Choices) == 0 {
		return nil, &Error{Kind: ErrorKindProvider, StatusCode: resp.StatusCode, Message: "no choices in response"}
	}

	result := &CompletionResponse{
		Content:    decoded.Choices[0].Message.Content,
		StopReason: decoded.Choices[0].FinishReason,
		Usage: TokenUsage{
			PromptTokens:     decoded.Usage.PromptTokens,
			CompletionTokens: decoded.Usage.CompletionTokens,
			TotalTokens:      decoded.Usage.TotalTokens,
		},
	}
	c.logger.Debug("%sStop Reason: %s, Content Length: %d chars, Usage: %d prompt + %d completion",
		prefix, result.StopReason, len(result.Content), result.Usage.PromptTokens, result.Usage.CompletionTokens)
	return result, nil
}

// errorMessage extracts the provider's error text from a failure body.
func errorMessage(body []byte) string {
	var envelope struct {
		Error *openaiError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		return formatOpenAIError(envelope.Error)
	}
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBodyBytes {
		text = text[:maxErrorBodyBytes] + "..."
	}
	return text
}

func formatOpenAIError(e *openaiError) string {
	if e.Type == "" {
		return e.Message
	}
	return e.Type + ": " + e.Message
}
