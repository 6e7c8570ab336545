package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "playground/internal/errors"
	"playground/internal/evolution"
	"playground/internal/serverconfig"
)

// HeaderAdminSecret carries the credential for config evolution.
const HeaderAdminSecret = "X-Admin-Secret"

// ConfigReader exposes the current server config.
type ConfigReader interface {
	Get(ctx context.Context) (serverconfig.ServerConfig, error)
}

// EvolutionService runs config evolutions.
type EvolutionService interface {
	Authorize(credential string) bool
	Evolve(ctx context.Context, req evolution.Request) (*evolution.Result, error)
	History() []evolution.Result
}

// ConfigHandler serves /api/config.
type ConfigHandler struct {
	config    ConfigReader
	evolution EvolutionService
}

// NewConfigHandler creates a config handler.
func NewConfigHandler(config ConfigReader, evolution EvolutionService) *ConfigHandler {
	return &ConfigHandler{config: config, evolution: evolution}
}

type evolveRequest struct {
	Target  string `json:"target"`
	Request string `json:"request"`
}

// Get handles GET /api/config.
func (h *ConfigHandler) Get(c *gin.Context) {
	cfg, err := h.config.Get(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// Evolve handles POST /api/config/evolve.
func (h *ConfigHandler) Evolve(c *gin.Context) {
	var req evolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidation(c, "invalid request body: %v", err)
		return
	}

	credential := c.GetHeader(HeaderAdminSecret)
	// Unauthorised callers go straight to the pipeline gate and never see
	// the flag state.
	if h.evolution.Authorize(credential) {
		cfg, err := h.config.Get(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		if enabled, ok := cfg.FeatureFlags[serverconfig.FlagConfigEvolution]; ok && !enabled {
			writeError(c, &apperrors.Error{
				Kind:    apperrors.KindForbidden,
				Stage:   "feature",
				Message: "config evolution is disabled by feature flag " + serverconfig.FlagConfigEvolution,
			})
			return
		}
	}

	result, err := h.evolution.Evolve(c.Request.Context(), evolution.Request{
		Credential:  credential,
		Target:      strings.TrimSpace(req.Target),
		Instruction: req.Request,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// History handles GET /api/config/evolutions.
func (h *ConfigHandler) History(c *gin.Context) {
	if !h.evolution.Authorize(c.GetHeader(HeaderAdminSecret)) {
		writeError(c, &apperrors.Error{
			Kind:    apperrors.KindForbidden,
			Stage:   evolution.StageGate,
			Message: "admin credential required",
		})
		return
	}
	records := h.evolution.History()
	c.JSON(http.StatusOK, gin.H{"evolutions": records, "count": len(records)})
}
