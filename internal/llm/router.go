package llm

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"playground/internal/logging"
)

const tracerName = "playground/internal/llm"

// Router is the Gateway implementation: provider name to Client.
type Router struct {
	logger logging.Logger

	mu      sync.RWMutex
	clients map[string]Client
}

var _ Gateway = (*Router)(nil)

// NewRouter returns an empty router.
func NewRouter(logger logging.Logger) *Router {
	return &Router{
		logger:  logging.OrNop(logger),
		clients: make(map[string]Client),
	}
}

// Register binds client to provider, replacing any previous binding.
func (r *Router) Register(provider string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[normalizeProvider(provider)] = client
}

// Providers lists registered provider names in order.
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Complete sends req to the named provider. No retries happen here.
func (r *Router) Complete(ctx context.Context, provider string, req CompletionRequest) (*CompletionResponse, error) {
	name := normalizeProvider(provider)
	r.mu.RLock()
	client, ok := r.clients[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &Error{Kind: ErrorKindUnknownProvider, Provider: provider, Message: "provider not registered"}
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "llm.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", name),
		attribute.Int("llm.messages", len(req.Messages)),
		attribute.Int("llm.max_tokens", req.MaxTokens),
	)

	start := time.Now()
	resp, err := client.Complete(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		var llmErr *Error
		if !errors.As(err, &llmErr) {
			llmErr = &Error{Kind: ErrorKindProvider, Err: err}
		}
		if llmErr.Provider == "" {
			llmErr.Provider = name
		}
		span.RecordError(llmErr)
		span.SetStatus(codes.Error, string(llmErr.Kind))
		r.logger.Warn("LLM completion via %s failed after %s: %v", name, elapsed, llmErr)
		return nil, llmErr
	}

	span.SetAttributes(attribute.Int("llm.total_tokens", resp.Usage.TotalTokens))
	r.logger.Debug("LLM completion via %s took %s (%d tokens, stop=%s)", name, elapsed, resp.Usage.TotalTokens, resp.StopReason)
	return resp, nil
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
