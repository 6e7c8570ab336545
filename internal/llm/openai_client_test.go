package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewOpenAIClient(Config{
		Model:   "test-model",
		BaseURL: server.URL + "/",
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
		Headers: map[string]string{"X-Custom": "value"},
	}, nil)
	require.NoError(t, err)
	return client
}

func TestOpenAIClientCompleteSuccess(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "value", r.Header.Get("X-Custom"))

		var payload map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "test-model", payload["model"])
		assert.Equal(t, 0.1, payload["temperature"])
		assert.Equal(t, float64(50), payload["max_tokens"])
		assert.Equal(t, false, payload["stream"])
		messages, _ := payload["messages"].([]any)
		assert.Len(t, messages, 2)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"content": "debug"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 30, "completion_tokens": 1, "total_tokens": 31}
		}`))
	})

	resp, err := client.Complete(context.Background(), CompletionRequest{
		Messages:    []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "more logs"}},
		Temperature: 0.1,
		MaxTokens:   50,
	})
	require.NoError(t, err)
	assert.Equal(t, "debug", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, "test-model", client.Model())
	assert.Equal(t, TokenUsage{PromptTokens: 30, CompletionTokens: 1, TotalTokens: 31}, resp.Usage)
}

func TestOpenAIClientMapsStatusCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusUnauthorized, ErrorKindAuth},
		{http.StatusForbidden, ErrorKindAuth},
		{http.StatusTooManyRequests, ErrorKindRateLimited},
		{http.StatusBadRequest, ErrorKindBadRequest},
		{http.StatusInternalServerError, ErrorKindProvider},
		{http.StatusBadGateway, ErrorKindProvider},
	}
	for _, tc := range cases {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":{"type":"test_error","message":"nope"}}`))
		})

		_, err := client.Complete(context.Background(), CompletionRequest{})
		var llmErr *Error
		require.True(t, errors.As(err, &llmErr), "status %d", tc.status)
		assert.Equal(t, tc.want, llmErr.Kind, "status %d", tc.status)
		assert.Equal(t, tc.status, llmErr.StatusCode)
		assert.Equal(t, "test_error: nope", llmErr.Message)
	}
}

func TestOpenAIClientEmptyChoicesIsProviderError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	})

	_, err := client.Complete(context.Background(), CompletionRequest{})
	var llmErr *Error
	require.True(t, errors.As(err, &llmErr))
	assert.Equal(t, ErrorKindProvider, llmErr.Kind)
}

func TestOpenAIClientMalformedBodyIsProviderError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>gateway</html>`))
	})

	_, err := client.Complete(context.Background(), CompletionRequest{})
	var llmErr *Error
	require.True(t, errors.As(err, &llmErr))
	assert.Equal(t, ErrorKindProvider, llmErr.Kind)
}

func TestOpenAIClientTransportError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := NewOpenAIClient(Config{Model: "m", BaseURL: url}, nil)
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), CompletionRequest{})
	var llmErr *Error
	require.True(t, errors.As(err, &llmErr))
	assert.Equal(t, ErrorKindTransport, llmErr.Kind)
	assert.True(t, llmErr.Transient())
	assert.Contains(t, llmErr.Hint(), "llm.base_url")
}

func TestErrorHintByKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  *Error
		want string
	}{
		{&Error{Kind: ErrorKindTransport, Err: context.DeadlineExceeded}, "llm.timeout"},
		{&Error{Kind: ErrorKindTransport, Err: errors.New("connection refused")}, "llm.base_url"},
		{&Error{Kind: ErrorKindRateLimited, StatusCode: http.StatusTooManyRequests}, "resubmit later"},
		{&Error{Kind: ErrorKindAuth, StatusCode: http.StatusUnauthorized}, "llm.api_key"},
		{&Error{Kind: ErrorKindUnknownProvider, Provider: "nope"}, "llm.provider"},
	}
	for _, tc := range cases {
		assert.Contains(t, tc.err.Hint(), tc.want, "kind %s", tc.err.Kind)
	}
	assert.Empty(t, (&Error{Kind: ErrorKindBadRequest, StatusCode: http.StatusBadRequest}).Hint())
	assert.Empty(t, (&Error{Kind: ErrorKindProvider, StatusCode: http.StatusBadGateway}).Hint())
}

func TestNewOpenAIClientRequiresModel(t *testing.T) {
	t.Parallel()

	_, err := NewOpenAIClient(Config{}, nil)
	assert.Error(t, err)
}

func TestErrorMessageTruncatesPlainBodies(t *testing.T) {
	t.Parallel()

	long := make([]byte, maxErrorBodyBytes+100)
	for i := range long {
		long[i] = 'x'
	}
	msg := errorMessage(long)
	assert.Len(t, msg, maxErrorBodyBytes+3)
}
