package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-status-api/internal/models"
	"github.com/noah-isme/sma-status-api/pkg/response"
)

type statusCatalogService interface {
	List(ctx context.Context) ([]models.StatusDefinition, error)
	Get(ctx context.Context, id string) (*models.StatusDefinition, error)
	Refresh(ctx context.Context) ([]models.StatusDefinition, error)
}

// StatusDefinitionHandler exposes the status catalog.
type StatusDefinitionHandler struct {
	catalog statusCatalogService
}

// NewStatusDefinitionHandler builds a new handler.
func NewStatusDefinitionHandler(catalog statusCatalogService) *StatusDefinitionHandler {
	return &StatusDefinitionHandler{catalog: catalog}
}

// List godoc
// @Summary List status definitions
// @Tags StatusDefinitions
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /status-definitions [get]
func (h *StatusDefinitionHandler) List(c *gin.Context) {
	defs, err := h.catalog.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, defs)
}

// Get godoc
// @Summary Get a status definition
// @Tags StatusDefinitions
// @Produce json
// @Param id path string true "Definition ID"
// @Success 200 {object} response.Envelope
// @Router /status-definitions/{id} [get]
func (h *StatusDefinitionHandler) Get(c *gin.Context) {
	def, err := h.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, def)
}

// Refresh godoc
// @Summary Reload the status catalog
// @Tags StatusDefinitions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /status-definitions/refresh [post]
func (h *StatusDefinitionHandler) Refresh(c *gin.Context) {
	defs, err := h.catalog.Refresh(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, defs)
}
