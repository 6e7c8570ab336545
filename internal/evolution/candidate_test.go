package evolution

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCandidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want Candidate
	}{
		{"bare string", "debug", CandidateRawString{Value: "debug"}},
		{"bare string with whitespace", "  warn \n", CandidateRawString{Value: "warn"}},
		{"error object", `{"error": "ambiguous request"}`, CandidateJSONError{Reason: "ambiguous request"}},
		{"level object", `{"level": " error "}`, CandidateJSONValue{Value: "error"}},
		{"error wins over level", `{"error": "no", "level": "debug"}`, CandidateJSONError{Reason: "no"}},
		{"non-string error field", `{"error": 42}`, CandidateRawString{Value: `{"error": 42}`}},
		{"json string literal", `"debug"`, CandidateRawString{Value: `"debug"`}},
		{"json number", `7`, CandidateRawString{Value: `7`}},
		{"truncated error object", `{"error": "request is ambig`, CandidateJSONError{Reason: "request is ambig"}},
		{"single quoted object", `{'level': 'info'}`, CandidateJSONValue{Value: "info"}},
		{"fenced json", "```json\n{\"level\": \"warn\"}\n```", CandidateJSONValue{Value: "warn"}},
		{"fenced bare", "```\ndebug\n```", CandidateRawString{Value: "debug"}},
		{"sentence", "Set it to debug.", CandidateRawString{Value: "Set it to debug."}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseCandidate(tc.raw))
		})
	}
}

func TestProposedValue(t *testing.T) {
	t.Parallel()

	v, ok := ProposedValue(CandidateJSONValue{Value: "info"})
	assert.True(t, ok)
	assert.Equal(t, "info", v)

	v, ok = ProposedValue(CandidateRawString{Value: "debug"})
	assert.True(t, ok)
	assert.Equal(t, "debug", v)

	_, ok = ProposedValue(CandidateJSONError{Reason: "x"})
	assert.False(t, ok)
}
