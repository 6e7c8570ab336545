package bootstrap

import (
	"strings"

	"playground/internal/logging"
	"playground/internal/observability"
)

// LogServerConfiguration prints a redacted snapshot of the configuration.
func LogServerConfiguration(logger logging.Logger, config Config) {
	logger = logging.OrNop(logger)

	logger.Info("=== Server Configuration ===")
	logger.Info("Port: %s", config.Port)
	logger.Info("Contexts file: %s (backstop=%s)", config.ContextsPath(), config.BackstopInterval)
	logger.Info("Server config file: %s (watch=%t)", config.ServerConfigPath(), config.WatchConfig)
	logger.Info("LLM Provider: %s", config.LLM.Provider)
	if config.LLM.Model != "" {
		logger.Info("LLM Model: %s", config.LLM.Model)
	}
	if config.LLM.BaseURL != "" {
		logger.Info("Base URL: %s", config.LLM.BaseURL)
	}
	if config.LLM.APIKey != "" {
		logger.Info("API Key: %s", observability.SanitizeAPIKey(config.LLM.APIKey))
	} else {
		logger.Info("API Key: (not set)")
	}
	if strings.TrimSpace(config.AdminSecret) == "" {
		logger.Warn("Admin secret: (not set; config evolution will reject every request)")
	} else {
		logger.Info("Admin secret: (set)")
	}
	if len(config.AllowedOrigins) == 0 {
		logger.Info("CORS origins: *")
	} else {
		logger.Info("CORS origins: %s", strings.Join(config.AllowedOrigins, ", "))
	}
	logger.Info("Evolution history size: %d", config.HistorySize)
	logger.Info("============================")
}
