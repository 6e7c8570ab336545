package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PLAYGROUND_SERVER_PORT.
const EnvPrefix = "PLAYGROUND"

// Config holds server configuration.
type Config struct {
	Port             string
	AllowedOrigins   []string
	DataDir          string
	ContextsFile     string
	BackstopInterval time.Duration
	ConfigFile       string
	WatchConfig      bool
	AdminSecret      string
	LLM              LLMConfig
	LogFormat        string
	HistorySize      int

	// LogOutput overrides stdout for the process logger.
	LogOutput io.Writer
}

// LLMConfig selects and configures the language model provider.
type LLMConfig struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

var defaults = map[string]any{
	"server.port":                "8080",
	"server.cors_origins":        "",
	"data.dir":                   "./data",
	"contexts.file":              "contexts.json",
	"contexts.backstop_interval": 30 * time.Second,
	"config.file":                "server-config.json",
	"config.watch":               true,
	"admin.secret":               "",
	"llm.provider":               "mock",
	"llm.model":                  "",
	"llm.base_url":               "",
	"llm.api_key":                "",
	"llm.timeout":                60 * time.Second,
	"log.format":                 "json",
	"evolution.history_size":     50,
}

// LoadConfig reads configuration from the optional file at path and
// PLAYGROUND_* environment variables, environment taking precedence.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Config{
		Port:             strings.TrimSpace(v.GetString("server.port")),
		AllowedOrigins:   allowedOrigins(v.Get("server.cors_origins")),
		DataDir:          strings.TrimSpace(v.GetString("data.dir")),
		ContextsFile:     strings.TrimSpace(v.GetString("contexts.file")),
		BackstopInterval: v.GetDuration("contexts.backstop_interval"),
		ConfigFile:       strings.TrimSpace(v.GetString("config.file")),
		WatchConfig:      v.GetBool("config.watch"),
		AdminSecret:      v.GetString("admin.secret"),
		LLM: LLMConfig{
			Provider: strings.ToLower(strings.TrimSpace(v.GetString("llm.provider"))),
			Model:    strings.TrimSpace(v.GetString("llm.model")),
			BaseURL:  strings.TrimSpace(v.GetString("llm.base_url")),
			APIKey:   strings.TrimSpace(v.GetString("llm.api_key")),
			Timeout:  v.GetDuration("llm.timeout"),
		},
		LogFormat:   strings.ToLower(strings.TrimSpace(v.GetString("log.format"))),
		HistorySize: v.GetInt("evolution.history_size"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be a port number, got %q", c.Port))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data.dir is required"))
	}
	if c.ContextsFile == "" || c.ConfigFile == "" {
		errs = append(errs, errors.New("contexts.file and config.file are required"))
	}
	if c.BackstopInterval < 0 {
		errs = append(errs, errors.New("contexts.backstop_interval must not be negative"))
	}
	switch c.LLM.Provider {
	case "mock":
	case "openai":
		if c.LLM.APIKey == "" {
			errs = append(errs, fmt.Errorf("API key required for provider '%s'", c.LLM.Provider))
		}
		if c.LLM.Model == "" {
			errs = append(errs, fmt.Errorf("llm.model required for provider '%s'", c.LLM.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported llm.provider %q", c.LLM.Provider))
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// ContextsPath is the context snapshot location.
func (c Config) ContextsPath() string {
	return resolvePath(c.DataDir, c.ContextsFile)
}

// ServerConfigPath is the server config document location.
func (c Config) ServerConfigPath() string {
	return resolvePath(c.DataDir, c.ConfigFile)
}

func resolvePath(dir, file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(dir, file)
}

// allowedOrigins accepts either a list from a config file or a separated
// string from the environment.
func allowedOrigins(raw any) []string {
	switch value := raw.(type) {
	case []string:
		return parseAllowedOrigins(strings.Join(value, ","))
	case []any:
		parts := make([]string, 0, len(value))
		for _, item := range value {
			parts = append(parts, fmt.Sprint(item))
		}
		return parseAllowedOrigins(strings.Join(parts, ","))
	case string:
		return parseAllowedOrigins(value)
	default:
		return []string{}
	}
}

func parseAllowedOrigins(raw string) []string {
	fields := strings.FieldsFunc(strings.TrimSpace(raw), func(r rune) bool {
		switch r {
		case ',', ';', '\n', '\r', '\t':
			return true
		default:
			return false
		}
	})
	origins := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		origin := strings.TrimSpace(field)
		if origin == "" {
			continue
		}
		if _, ok := seen[origin]; ok {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
