package evolution

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Candidate is the parsed form of a model answer. It is one of
// CandidateJSONError, CandidateJSONValue or CandidateRawString.
type Candidate interface {
	candidate()
}

// CandidateJSONError is the model declining with {"error": "..."}.
type CandidateJSONError struct {
	Reason string
}

// CandidateJSONValue is a proposal given as {"level": "..."}.
type CandidateJSONValue struct {
	Value string
}

// CandidateRawString is any other answer, trimmed.
type CandidateRawString struct {
	Value string
}

func (CandidateJSONError) candidate() {}
func (CandidateJSONValue) candidate() {}
func (CandidateRawString) candidate() {}

// ProposedValue returns the value a candidate proposes and false for a
// rejection.
func ProposedValue(c Candidate) (string, bool) {
	switch v := c.(type) {
	case CandidateJSONValue:
		return v.Value, true
	case CandidateRawString:
		return v.Value, true
	}
	return "", false
}

// ParseCandidate interprets raw model output. JSON is tried first; output
// that looks like a truncated or sloppy object is repaired before giving up
// on it. An object with a string "error" field is a rejection, one with a
// string "level" field is a proposal, and anything else is taken verbatim.
func ParseCandidate(raw string) Candidate {
	text := stripCodeFence(strings.TrimSpace(raw))

	if obj, ok := decodeObject(text); ok {
		if reason, ok := obj["error"].(string); ok {
			return CandidateJSONError{Reason: strings.TrimSpace(reason)}
		}
		if level, ok := obj["level"].(string); ok {
			return CandidateJSONValue{Value: strings.TrimSpace(level)}
		}
	}
	return CandidateRawString{Value: text}
}

func decodeObject(text string) (map[string]any, bool) {
	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		if !strings.HasPrefix(text, "{") {
			return nil, false
		}
		repaired, repairErr := jsonrepair.JSONRepair(text)
		if repairErr != nil {
			return nil, false
		}
		if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
			return nil, false
		}
	}
	obj, ok := parsed.(map[string]any)
	return obj, ok
}

// stripCodeFence unwraps a single ```...``` block.
func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") || !strings.HasSuffix(text, "```") || len(text) < 6 {
		return text
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(text, "```"), "```")
	if newline := strings.IndexByte(inner, '\n'); newline >= 0 {
		// Drop a language tag such as ```json.
		if tag := strings.TrimSpace(inner[:newline]); !strings.ContainsAny(tag, " {\"") {
			inner = inner[newline+1:]
		}
	}
	return strings.TrimSpace(inner)
}
