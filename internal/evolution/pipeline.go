// Package evolution turns a natural-language instruction into a validated,
// backed-up change of one allow-listed server config field.
package evolution

import (
	"context"
	"crypto/subtle"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"playground/internal/diff"
	apperrors "playground/internal/errors"
	"playground/internal/llm"
	"playground/internal/logging"
	"playground/internal/serverconfig"
)

// Pipeline stages, reported on every rejection.
const (
	StageGate     = "gate"
	StageScope    = "scope"
	StagePrompt   = "prompt"
	StagePropose  = "propose"
	StageParse    = "parse"
	StageValidate = "validate"
	StageBackup   = "backup"
	StageApply    = "apply"
	StageConfirm  = "confirm"
)

const (
	// Model parameters sent with every proposal.
	Temperature = 0.1
	MaxTokens   = 50

	DefaultProvider    = "mock"
	DefaultHistorySize = 50

	traceScope = "playground/internal/evolution"
)

// ConfigStore is the subset of serverconfig.Store the pipeline drives.
type ConfigStore interface {
	Get(ctx context.Context) (serverconfig.ServerConfig, error)
	Save(ctx context.Context, cfg serverconfig.ServerConfig) error
	Reload(ctx context.Context) (serverconfig.ServerConfig, error)
	Backup(ctx context.Context, now time.Time) (string, error)
	Path() string
}

// Observer receives one outcome per Evolve call: "success" or an error kind.
type Observer interface {
	RecordEvolution(outcome string)
}

type nopObserver struct{}

func (nopObserver) RecordEvolution(string) {}

// Request is one natural-language change request.
type Request struct {
	Credential  string
	Target      string
	Instruction string
}

// Result is the audit record of an applied change.
type Result struct {
	PreviousValue string    `json:"previousValue"`
	NewValue      string    `json:"newValue"`
	BackupPath    string    `json:"backupPath"`
	Request       string    `json:"request"`
	Target        string    `json:"target"`
	Diff          string    `json:"diff,omitempty"`
	Provider      string    `json:"provider"`
	AppliedAt     time.Time `json:"appliedAt"`
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithAdminSecret sets the shared secret. An empty secret denies everything.
func WithAdminSecret(secret string) Option {
	return func(p *Pipeline) { p.adminSecret = secret }
}

// WithProvider selects the gateway provider.
func WithProvider(provider string) Option {
	return func(p *Pipeline) {
		if strings.TrimSpace(provider) != "" {
			p.provider = strings.TrimSpace(provider)
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(logger logging.Logger) Option {
	return func(p *Pipeline) { p.logger = logging.OrNop(logger) }
}

// WithClock overrides time.Now for backup names and audit timestamps.
func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithObserver attaches an outcome observer.
func WithObserver(observer Observer) Option {
	return func(p *Pipeline) {
		if observer != nil {
			p.observer = observer
		}
	}
}

// WithHistorySize bounds the number of audit records kept in memory.
func WithHistorySize(size int) Option {
	return func(p *Pipeline) {
		if size > 0 {
			p.historySize = size
		}
	}
}

// Pipeline runs config evolutions. Each call is terminal on its first
// failure; nothing is retried.
type Pipeline struct {
	store       ConfigStore
	gateway     llm.Gateway
	adminSecret string
	provider    string
	logger      logging.Logger
	clock       func() time.Time
	observer    Observer
	historySize int
	history     *lru.Cache[string, Result]
	differ      *diff.Generator
}

// New builds a pipeline over store and gateway.
func New(store ConfigStore, gateway llm.Gateway, opts ...Option) (*Pipeline, error) {
	if store == nil || gateway == nil {
		return nil, errors.New("evolution: config store and llm gateway are required")
	}
	p := &Pipeline{
		store:       store,
		gateway:     gateway,
		provider:    DefaultProvider,
		logger:      logging.Nop(),
		clock:       time.Now,
		observer:    nopObserver{},
		historySize: DefaultHistorySize,
		differ:      diff.NewGenerator(false),
	}
	for _, opt := range opts {
		opt(p)
	}
	history, err := lru.New[string, Result](p.historySize)
	if err != nil {
		return nil, err
	}
	p.history = history
	return p, nil
}

// Authorize reports whether credential matches the admin secret.
func (p *Pipeline) Authorize(credential string) bool {
	if p.adminSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(credential), []byte(p.adminSecret)) == 1
}

// Evolve runs the gate, scope, prompt, propose, parse, validate, backup,
// apply and confirm steps in order. Every failure before apply leaves the
// config store untouched.
func (p *Pipeline) Evolve(ctx context.Context, req Request) (result *Result, err error) {
	ctx, span := otel.Tracer(traceScope).Start(ctx, "config.evolve",
		trace.WithAttributes(attribute.String("config.target", req.Target), attribute.String("llm.provider", p.provider)))
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = string(apperrors.KindOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
			p.logger.Warn("Config evolution of %s rejected: %v", req.Target, err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.SetAttributes(attribute.String("config.outcome", outcome))
		span.End()
		p.observer.RecordEvolution(outcome)
	}()

	if !p.Authorize(req.Credential) {
		return nil, reject(apperrors.KindForbidden, StageGate, "admin credential missing or invalid")
	}

	t, ok := targets[req.Target]
	if !ok {
		return nil, reject(apperrors.KindInvalidTarget, StageScope, "target %q cannot be changed", req.Target).
			WithDetail("target", req.Target).
			WithDetail("allowedTargets", AllowedTargets())
	}
	instruction := req.Instruction
	if strings.TrimSpace(instruction) == "" {
		return nil, reject(apperrors.KindValidation, StageScope, "request must be a non-empty instruction")
	}

	current, err := p.store.Get(ctx)
	if err != nil {
		return nil, rejectWrap(apperrors.KindIO, StagePrompt, err, "read current config")
	}
	currentValue := t.get(current)
	messages := buildMessages(t, currentValue, instruction)

	resp, err := p.gateway.Complete(ctx, p.provider, llm.CompletionRequest{
		Messages:    messages,
		Temperature: Temperature,
		MaxTokens:   MaxTokens,
	})
	if err != nil {
		rejection := rejectWrap(apperrors.KindUpstream, StagePropose, err, "language model call failed").
			WithDetail("provider", p.provider).
			WithDetail("request", instruction)
		var llmErr *llm.Error
		if errors.As(err, &llmErr) {
			rejection.WithDetail("upstreamKind", string(llmErr.Kind)).WithDetail("transient", llmErr.Transient())
			if hint := llmErr.Hint(); hint != "" {
				rejection.WithDetail("hint", hint)
			}
			if llmErr.StatusCode != 0 {
				rejection.WithDetail("statusCode", llmErr.StatusCode)
			}
		}
		return nil, rejection
	}

	candidate := ParseCandidate(resp.Content)
	proposed, ok := ProposedValue(candidate)
	if !ok {
		reason := candidate.(CandidateJSONError).Reason
		return nil, reject(apperrors.KindModelRejected, StageParse, "model declined the request: %s", reason).
			WithDetail("reason", reason).
			WithDetail("currentValue", currentValue).
			WithDetail("request", instruction)
	}
	p.logger.Debug("Model proposed %q for %s (current %q)", proposed, t.name, currentValue)

	if !t.accepts(proposed) {
		return nil, reject(apperrors.KindInvalidProposal, StageValidate, "proposed value %q is not allowed for %s", proposed, t.name).
			WithDetail("candidate", proposed).
			WithDetail("allowedValues", t.allowed).
			WithDetail("currentValue", currentValue).
			WithDetail("request", instruction)
	}

	backupPath, err := p.store.Backup(ctx, p.clock())
	if err != nil {
		return nil, rejectWrap(apperrors.KindBackupFailed, StageBackup, err, "could not back up the config file; nothing was changed").
			WithDetail("candidate", proposed).
			WithDetail("currentValue", currentValue)
	}

	next := t.set(current, proposed)
	if err := p.store.Save(ctx, next); err != nil {
		return nil, rejectWrap(apperrors.KindApplyFailed, StageApply, err, "saving the new config failed; restore from the backup if needed").
			WithDetail("backupPath", backupPath).
			WithDetail("candidate", proposed).
			WithDetail("currentValue", currentValue)
	}

	// The change is committed; a caller hanging up must not abort the confirm.
	confirmed, err := p.store.Reload(context.WithoutCancel(ctx))
	if err != nil {
		p.logger.Warn("Config reload after evolution failed: %v", err)
	} else if got := t.get(confirmed); got != proposed {
		p.logger.Warn("Config %s reads %q after applying %q; a concurrent change may have landed", t.name, got, proposed)
	}

	rendered := p.renderDiff(current, next)
	result = &Result{
		PreviousValue: currentValue,
		NewValue:      proposed,
		BackupPath:    backupPath,
		Request:       instruction,
		Target:        t.name,
		Diff:          rendered.Patch,
		Provider:      p.provider,
		AppliedAt:     p.clock(),
	}
	p.history.Add(backupPath, *result)
	p.logger.Info("Config %s changed %q -> %q, %s (backup %s)", t.name, currentValue, proposed, rendered.Summary(), backupPath)
	return result, nil
}

// History returns recent successful evolutions, newest first.
func (p *Pipeline) History() []Result {
	records := p.history.Values()
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].AppliedAt.After(records[j].AppliedAt)
	})
	return records
}

func (p *Pipeline) renderDiff(before, after serverconfig.ServerConfig) diff.Result {
	oldDoc, err := serverconfig.Encode(before)
	if err != nil {
		return diff.Result{}
	}
	newDoc, err := serverconfig.Encode(after)
	if err != nil {
		return diff.Result{}
	}
	return p.differ.Unified(string(oldDoc), string(newDoc), filepath.Base(p.store.Path()))
}

func reject(kind apperrors.Kind, stage, format string, args ...any) *apperrors.Error {
	err := apperrors.New(kind, format, args...)
	err.Stage = stage
	return err
}

func rejectWrap(kind apperrors.Kind, stage string, cause error, format string, args ...any) *apperrors.Error {
	err := apperrors.Wrap(kind, cause, format, args...)
	err.Stage = stage
	return err
}
