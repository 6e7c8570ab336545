package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"playground/internal/contextstore"
	apperrors "playground/internal/errors"
)

// ContextService is the context store surface served over HTTP.
type ContextService interface {
	Create(ctx context.Context, ownerID, typ string, initialData *contextstore.Value, metadata map[string]contextstore.Value) (*contextstore.Context, error)
	Get(ctx context.Context, id string) (*contextstore.Context, error)
	Update(ctx context.Context, id string, data contextstore.Value, metadata map[string]contextstore.Value) (*contextstore.Context, error)
	AppendToList(ctx context.Context, id, listKey string, item contextstore.Value) (*contextstore.Context, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, ownerID string) []*contextstore.Context
	Len() int
}

// ContextHandler serves /api/contexts.
type ContextHandler struct {
	store ContextService
}

// NewContextHandler creates a context handler.
func NewContextHandler(store ContextService) *ContextHandler {
	return &ContextHandler{store: store}
}

type createContextRequest struct {
	OwnerID     string                        `json:"ownerId"`
	Type        string                        `json:"type"`
	InitialData json.RawMessage               `json:"initialData"`
	Metadata    map[string]contextstore.Value `json:"metadata"`
}

type updateContextRequest struct {
	Data     json.RawMessage               `json:"data"`
	Metadata map[string]contextstore.Value `json:"metadata"`
}

type appendRequest struct {
	ListKey string          `json:"listKey"`
	Item    json.RawMessage `json:"item"`
}

// Create handles POST /api/contexts.
func (h *ContextHandler) Create(c *gin.Context) {
	var req createContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidation(c, "invalid request body: %v", err)
		return
	}
	if strings.TrimSpace(req.OwnerID) == "" || strings.TrimSpace(req.Type) == "" {
		writeValidation(c, "ownerId and type are required")
		return
	}

	var initial *contextstore.Value
	if present(req.InitialData) && !isJSONNull(req.InitialData) {
		value, err := contextstore.ParseValue(req.InitialData)
		if err != nil {
			writeValidation(c, "invalid initialData: %v", err)
			return
		}
		initial = &value
	}

	record, err := h.store.Create(c.Request.Context(), req.OwnerID, req.Type, initial, req.Metadata)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

// List handles GET /api/contexts.
func (h *ContextHandler) List(c *gin.Context) {
	records := h.store.List(c.Request.Context(), strings.TrimSpace(c.Query("ownerId")))
	c.JSON(http.StatusOK, gin.H{"contexts": records, "count": len(records)})
}

// Get handles GET /api/contexts/:id.
func (h *ContextHandler) Get(c *gin.Context) {
	record, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// Update handles PUT /api/contexts/:id.
func (h *ContextHandler) Update(c *gin.Context) {
	var req updateContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidation(c, "invalid request body: %v", err)
		return
	}
	if !present(req.Data) {
		writeValidation(c, "data is required")
		return
	}
	data, err := contextstore.ParseValue(req.Data)
	if err != nil {
		writeValidation(c, "invalid data: %v", err)
		return
	}

	record, err := h.store.Update(c.Request.Context(), c.Param("id"), data, req.Metadata)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// Append handles POST /api/contexts/:id/append. The item may be any JSON
// value including false, 0, "" and null; only its absence is rejected.
func (h *ContextHandler) Append(c *gin.Context) {
	var req appendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidation(c, "invalid request body: %v", err)
		return
	}
	if strings.TrimSpace(req.ListKey) == "" {
		writeValidation(c, "listKey is required")
		return
	}
	if !present(req.Item) {
		writeValidation(c, "item is required")
		return
	}
	item, err := contextstore.ParseValue(req.Item)
	if err != nil {
		writeValidation(c, "invalid item: %v", err)
		return
	}

	record, err := h.store.AppendToList(c.Request.Context(), c.Param("id"), req.ListKey, item)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// Delete handles DELETE /api/contexts/:id.
func (h *ContextHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	deleted, err := h.store.Delete(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if !deleted {
		writeError(c, apperrors.NotFound("context", id))
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// present reports whether a field appeared in the request body at all.
func present(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) > 0
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
