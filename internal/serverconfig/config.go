// Package serverconfig holds the live server configuration, validates it on
// load and persists it through the persistence gateway.
package serverconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	apperrors "playground/internal/errors"
)

// Logging levels accepted by logging.level, in increasing severity.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"

	DefaultLevel = LevelInfo
)

// Built-in feature flags backfilled on every load.
const (
	FlagContextPersistence = "contextPersistence"
	FlagConfigEvolution    = "configEvolution"
	FlagSwarmVisualizer    = "swarmVisualizer"
	FlagAgentTelemetry     = "agentTelemetry"
)

// Levels returns the allowed logging levels.
func Levels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}

// IsValidLevel reports whether level is an exact member of Levels.
func IsValidLevel(level string) bool {
	return slices.Contains(Levels(), level)
}

// DefaultFeatureFlags returns a fresh copy of the built-in flag set.
func DefaultFeatureFlags() map[string]bool {
	return map[string]bool{
		FlagContextPersistence: true,
		FlagConfigEvolution:    true,
		FlagSwarmVisualizer:    false,
		FlagAgentTelemetry:     false,
	}
}

// Document keys owned by this package. Any other member is carried through
// untouched.
const (
	keyLogging      = "logging"
	keyFeatureFlags = "featureFlags"
	keyLevel        = "level"
)

// LoggingConfig is the logging section.
type LoggingConfig struct {
	Level string `json:"level"`

	// extra holds members of the section other than level, compacted.
	extra map[string]json.RawMessage
}

// Equal reports whether both sections hold the same values.
func (l LoggingConfig) Equal(other LoggingConfig) bool {
	return l.Level == other.Level && equalExtra(l.extra, other.extra)
}

// MarshalJSON writes level first, then the carried members by name.
func (l LoggingConfig) MarshalJSON() ([]byte, error) {
	return marshalObject([]member{{keyLevel, l.Level}}, l.extra)
}

// UnmarshalJSON reads level and keeps every other member.
func (l *LoggingConfig) UnmarshalJSON(data []byte) error {
	var section struct {
		Level string `json:"level"`
	}
	if err := json.Unmarshal(data, &section); err != nil {
		return err
	}
	extra, err := captureExtra(data, keyLevel)
	if err != nil {
		return err
	}
	*l = LoggingConfig{Level: section.Level, extra: extra}
	return nil
}

// ServerConfig is the full configuration document.
type ServerConfig struct {
	Logging      LoggingConfig   `json:"logging"`
	FeatureFlags map[string]bool `json:"featureFlags"`

	// extra holds top-level members other than logging and featureFlags.
	extra map[string]json.RawMessage
}

// MarshalJSON writes logging and featureFlags first, then the carried
// members by name.
func (c ServerConfig) MarshalJSON() ([]byte, error) {
	return marshalObject([]member{{keyLogging, c.Logging}, {keyFeatureFlags, c.FeatureFlags}}, c.extra)
}

// UnmarshalJSON reads the document without validating it and keeps
// members it does not know.
func (c *ServerConfig) UnmarshalJSON(data []byte) error {
	var doc struct {
		Logging      LoggingConfig   `json:"logging"`
		FeatureFlags map[string]bool `json:"featureFlags"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	extra, err := captureExtra(data, keyLogging, keyFeatureFlags)
	if err != nil {
		return err
	}
	*c = ServerConfig{Logging: doc.Logging, FeatureFlags: doc.FeatureFlags, extra: extra}
	return nil
}

// Default returns the compiled-in configuration.
func Default() ServerConfig {
	return ServerConfig{
		Logging:      LoggingConfig{Level: DefaultLevel},
		FeatureFlags: DefaultFeatureFlags(),
	}
}

// Clone creates a deep copy of the config to avoid accidental mutations.
func (c ServerConfig) Clone() ServerConfig {
	clone := c
	if c.FeatureFlags != nil {
		clone.FeatureFlags = maps.Clone(c.FeatureFlags)
	}
	clone.extra = maps.Clone(c.extra)
	clone.Logging.extra = maps.Clone(c.Logging.extra)
	return clone
}

// Equal reports whether both configs hold the same values.
func (c ServerConfig) Equal(other ServerConfig) bool {
	return c.Logging.Equal(other.Logging) &&
		maps.Equal(c.FeatureFlags, other.FeatureFlags) &&
		equalExtra(c.extra, other.extra)
}

// Validate checks the invariants Save enforces.
func (c ServerConfig) Validate() error {
	if !IsValidLevel(c.Logging.Level) {
		return apperrors.Validation("logging.level %q is not one of %s", c.Logging.Level, strings.Join(Levels(), ", ")).
			WithDetail("allowedValues", Levels())
	}
	if c.FeatureFlags == nil {
		return apperrors.Validation("featureFlags must be a mapping of flag name to boolean")
	}
	return nil
}

// Fallback records a section that was replaced by its default on decode.
type Fallback struct {
	Section string
	Reason  string
}

func (f Fallback) String() string {
	return f.Section + ": " + f.Reason
}

// Decode parses a config file. The logging and featureFlags sections are
// validated independently; an invalid section is replaced by its default and
// reported as a Fallback. Missing built-in flags are backfilled and unknown
// flags kept. Members outside logging.level and featureFlags are carried
// through to Encode. An error means the document is not a JSON object at all.
func Decode(data []byte) (ServerConfig, []Fallback, error) {
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(data, &sections); err != nil {
		return ServerConfig{}, nil, fmt.Errorf("parse server config: %w", err)
	}
	if sections == nil {
		return ServerConfig{}, nil, fmt.Errorf("parse server config: document is null")
	}

	cfg := Default()
	cfg.extra = compactExtra(sections, keyLogging, keyFeatureFlags)
	var fallbacks []Fallback

	logging, reason := decodeLogging(sections[keyLogging])
	if reason != "" {
		fallbacks = append(fallbacks, Fallback{Section: keyLogging, Reason: reason})
		logging.Level = DefaultLevel
	}
	cfg.Logging = logging

	if flags, reason := decodeFlags(sections[keyFeatureFlags]); reason != "" {
		fallbacks = append(fallbacks, Fallback{Section: keyFeatureFlags, Reason: reason})
	} else {
		for name, enabled := range DefaultFeatureFlags() {
			if _, ok := flags[name]; !ok {
				flags[name] = enabled
			}
		}
		cfg.FeatureFlags = flags
	}
	return cfg, fallbacks, nil
}

// decodeLogging returns the section and, when level is unusable, the reason.
// Members other than level are kept whenever the section is an object.
func decodeLogging(raw json.RawMessage) (LoggingConfig, string) {
	if isAbsent(raw) {
		return LoggingConfig{}, "section missing"
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil {
		return LoggingConfig{}, fmt.Sprintf("malformed: %v", err)
	}
	section := LoggingConfig{extra: compactExtra(members, keyLevel)}
	rawLevel, ok := members[keyLevel]
	if !ok || isAbsent(rawLevel) {
		return section, "level missing"
	}
	var level string
	if err := json.Unmarshal(rawLevel, &level); err != nil {
		return section, fmt.Sprintf("malformed level: %v", err)
	}
	if !IsValidLevel(level) {
		return section, fmt.Sprintf("level %q not one of %s", level, strings.Join(Levels(), ", "))
	}
	section.Level = level
	return section, ""
}

func decodeFlags(raw json.RawMessage) (map[string]bool, string) {
	if isAbsent(raw) {
		return nil, "section missing"
	}
	var flags map[string]bool
	if err := json.Unmarshal(raw, &flags); err != nil {
		return nil, fmt.Sprintf("malformed: %v", err)
	}
	return flags, ""
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

type member struct {
	key   string
	value any
}

// marshalObject writes known members in order followed by extra members
// sorted by key. Extra keys that shadow a known member are skipped.
func marshalObject(known []member, extra map[string]json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	seen := make(map[string]bool, len(known))
	write := func(key string, value []byte) {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		name, _ := json.Marshal(key)
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	for _, m := range known {
		value, err := json.Marshal(m.value)
		if err != nil {
			return nil, err
		}
		seen[m.key] = true
		write(m.key, value)
	}
	for _, key := range slices.Sorted(maps.Keys(extra)) {
		if !seen[key] {
			write(key, extra[key])
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// captureExtra returns the members of the JSON object data not named in
// known, or nil when there are none.
func captureExtra(data []byte, known ...string) (map[string]json.RawMessage, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, err
	}
	return compactExtra(members, known...), nil
}

func compactExtra(members map[string]json.RawMessage, known ...string) map[string]json.RawMessage {
	var extra map[string]json.RawMessage
	for key, raw := range members {
		if slices.Contains(known, key) {
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[key] = buf.Bytes()
	}
	return extra
}

func equalExtra(a, b map[string]json.RawMessage) bool {
	return maps.EqualFunc(a, b, func(x, y json.RawMessage) bool { return bytes.Equal(x, y) })
}

// Encode renders cfg as the on-disk document.
func Encode(cfg ServerConfig) ([]byte, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode server config: %w", err)
	}
	return append(data, '\n'), nil
}
