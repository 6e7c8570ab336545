package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesByKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", NotFound("context", "ctx-1"))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrValidation))
}

func TestIsHonoursStageOnTarget(t *testing.T) {
	err := &Error{Kind: KindUpstream, Stage: "propose", Message: "llm down"}

	assert.True(t, errors.Is(err, &Error{Kind: KindUpstream, Stage: "propose"}))
	assert.False(t, errors.Is(err, &Error{Kind: KindUpstream, Stage: "backup"}))
	assert.True(t, errors.Is(err, ErrUpstream))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := IO(cause, "write %s", "contexts.json")

	assert.Equal(t, "write contexts.json: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindIO, KindOf(err))
}

func TestKindOfForeignAndNil(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestWithDetailInitialisesMap(t *testing.T) {
	err := Validation("bad input").WithDetail("field", "ownerId")

	appErr, ok := As(fmt.Errorf("ctx: %w", err))
	require.True(t, ok)
	assert.Equal(t, "ownerId", appErr.Details["field"])
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:      http.StatusBadRequest,
		KindInvalidTarget:   http.StatusBadRequest,
		KindNotFound:        http.StatusNotFound,
		KindForbidden:       http.StatusForbidden,
		KindModelRejected:   http.StatusUnprocessableEntity,
		KindInvalidProposal: http.StatusUnprocessableEntity,
		KindUpstream:        http.StatusBadGateway,
		KindBackupFailed:    http.StatusInternalServerError,
		KindApplyFailed:     http.StatusInternalServerError,
		KindIO:              http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), "kind %s", kind)
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	assert.True(t, IsTransientHTTPStatus(http.StatusTooManyRequests))
	assert.True(t, IsTransientHTTPStatus(http.StatusServiceUnavailable))
	assert.False(t, IsTransientHTTPStatus(http.StatusBadRequest))
	assert.False(t, IsTransientHTTPStatus(http.StatusOK))
}
