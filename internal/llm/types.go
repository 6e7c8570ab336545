// Package llm is the language-model gateway: a provider router in front of
// chat-completion clients.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"

	apperrors "playground/internal/errors"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a single non-streaming chat completion.
type CompletionRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// TokenUsage reports provider token accounting.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// CompletionResponse is the model's answer.
type CompletionResponse struct {
	Content    string
	StopReason string
	Usage      TokenUsage
}

// Client talks to one provider.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Gateway dispatches completions to a named provider.
type Gateway interface {
	Complete(ctx context.Context, provider string, req CompletionRequest) (*CompletionResponse, error)
}

// ErrorKind classifies gateway failures.
type ErrorKind string

const (
	ErrorKindTransport       ErrorKind = "transport"
	ErrorKindRateLimited     ErrorKind = "rate_limited"
	ErrorKindAuth            ErrorKind = "auth"
	ErrorKindBadRequest      ErrorKind = "bad_request"
	ErrorKindProvider        ErrorKind = "provider"
	ErrorKindUnknownProvider ErrorKind = "unknown_provider"
)

// Error is returned by every gateway failure.
type Error struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("llm %s", e.Kind)
	if e.Provider != "" {
		msg += " (" + e.Provider + ")"
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether resubmitting the same request later may succeed.
func (e *Error) Transient() bool {
	switch e.Kind {
	case ErrorKindTransport, ErrorKindRateLimited:
		return true
	case ErrorKindProvider:
		return e.StatusCode == 0 || apperrors.IsTransientHTTPStatus(e.StatusCode)
	}
	return false
}

// Hint returns a short operator action for the failure, or "" when the
// error message already says all there is.
func (e *Error) Hint() string {
	switch e.Kind {
	case ErrorKindTransport:
		var netErr net.Error
		if errors.Is(e.Err, context.DeadlineExceeded) || (errors.As(e.Err, &netErr) && netErr.Timeout()) {
			return "The language model did not answer in time; raise llm.timeout or resubmit later."
		}
		return "The language model endpoint is not reachable; check llm.base_url."
	case ErrorKindRateLimited:
		return "The language model provider is rate limiting; resubmit later."
	case ErrorKindAuth:
		return "The language model provider refused the credentials; check llm.api_key."
	case ErrorKindUnknownProvider:
		return "No client is registered for this provider; check llm.provider."
	}
	return ""
}

// errorKindForStatus maps an HTTP status onto an ErrorKind.
func errorKindForStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return ErrorKindAuth
	case status == 429:
		return ErrorKindRateLimited
	case status >= 400 && status < 500:
		return ErrorKindBadRequest
	}
	return ErrorKindProvider
}
