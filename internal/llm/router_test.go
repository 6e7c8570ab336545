package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterDispatchesByProvider(t *testing.T) {
	t.Parallel()

	router := NewRouter(nil)
	mock := NewMockClient(Reply("warn"))
	router.Register(" Mock ", mock)

	resp, err := router.Complete(context.Background(), "mock", CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "warn", resp.Content)
	assert.Equal(t, 1, mock.Calls())
	assert.Equal(t, []string{"mock"}, router.Providers())
}

func TestRouterUnknownProvider(t *testing.T) {
	t.Parallel()

	router := NewRouter(nil)
	_, err := router.Complete(context.Background(), "nope", CompletionRequest{})

	var llmErr *Error
	require.True(t, errors.As(err, &llmErr))
	assert.Equal(t, ErrorKindUnknownProvider, llmErr.Kind)
	assert.False(t, llmErr.Transient())
}

func TestRouterWrapsForeignErrors(t *testing.T) {
	t.Parallel()

	router := NewRouter(nil)
	router.Register("mock", NewMockClient(Fail(errors.New("socket closed"))))

	_, err := router.Complete(context.Background(), "mock", CompletionRequest{})
	var llmErr *Error
	require.True(t, errors.As(err, &llmErr))
	assert.Equal(t, ErrorKindProvider, llmErr.Kind)
	assert.Equal(t, "mock", llmErr.Provider)
	assert.Contains(t, llmErr.Error(), "socket closed")
}

func TestRouterKeepsTypedErrors(t *testing.T) {
	t.Parallel()

	router := NewRouter(nil)
	router.Register("mock", NewMockClient(Fail(&Error{Kind: ErrorKindRateLimited, StatusCode: 429})))

	_, err := router.Complete(context.Background(), "mock", CompletionRequest{})
	var llmErr *Error
	require.True(t, errors.As(err, &llmErr))
	assert.Equal(t, ErrorKindRateLimited, llmErr.Kind)
	assert.True(t, llmErr.Transient())
}

func TestMockKeywordResponder(t *testing.T) {
	t.Parallel()

	mock := NewMockClient(nil)
	ask := func(text string) string {
		resp, err := mock.Complete(context.Background(), CompletionRequest{
			Messages: []Message{{Role: RoleSystem, Content: "debug info warn error"}, {Role: RoleUser, Content: text}},
		})
		require.NoError(t, err)
		return resp.Content
	}

	assert.Equal(t, "debug", ask("I need more detail in the logs"))
	assert.Equal(t, "warn", ask("less noise please"))
	assert.Equal(t, "error", ask("Only failures"))
	assert.Contains(t, ask("make it purple"), `"error"`)
	assert.Len(t, mock.Requests(), 4)
}

func TestMockHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMockClient(Reply("info")).Complete(ctx, CompletionRequest{})
	var llmErr *Error
	require.True(t, errors.As(err, &llmErr))
	assert.Equal(t, ErrorKindTransport, llmErr.Kind)
}
