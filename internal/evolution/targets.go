package evolution

import (
	"fmt"
	"sort"
	"strings"

	"playground/internal/llm"
	"playground/internal/serverconfig"
)

// TargetLoggingLevel is the only field natural-language requests may change.
const TargetLoggingLevel = "logging.level"

// target describes one allow-listed config field.
type target struct {
	name    string
	allowed []string
	get     func(serverconfig.ServerConfig) string
	set     func(serverconfig.ServerConfig, string) serverconfig.ServerConfig
}

var targets = map[string]target{
	TargetLoggingLevel: {
		name:    TargetLoggingLevel,
		allowed: serverconfig.Levels(),
		get:     func(cfg serverconfig.ServerConfig) string { return cfg.Logging.Level },
		set: func(cfg serverconfig.ServerConfig, value string) serverconfig.ServerConfig {
			next := cfg.Clone()
			next.Logging.Level = value
			return next
		},
	},
}

// AllowedTargets lists the fields that may be evolved.
func AllowedTargets() []string {
	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t target) accepts(value string) bool {
	for _, allowed := range t.allowed {
		if value == allowed {
			return true
		}
	}
	return false
}

func buildMessages(t target, currentValue, instruction string) []llm.Message {
	var system strings.Builder
	fmt.Fprintf(&system, "You change exactly one server configuration field: %s.\n", t.name)
	fmt.Fprintf(&system, "Its current value is %q.\n", currentValue)
	fmt.Fprintf(&system, "Legal values are: %s.\n", strings.Join(t.allowed, ", "))
	system.WriteString("Reply with only the new value as a bare string, with no quotes, punctuation or explanation.\n")
	system.WriteString(`If the request is unclear or asks for anything other than one of the legal values, reply with only {"error": "<short reason>"}.`)

	return []llm.Message{
		{Role: llm.RoleSystem, Content: system.String()},
		{Role: llm.RoleUser, Content: instruction},
	}
}
