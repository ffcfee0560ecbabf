package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-status-api/internal/dto"
	"github.com/noah-isme/sma-status-api/internal/models"
	appErrors "github.com/noah-isme/sma-status-api/pkg/errors"
	"github.com/noah-isme/sma-status-api/pkg/response"
)

type statusAssignmentService interface {
	CreateAssignment(ctx context.Context, req dto.CreateStatusAssignmentRequest, actorID string) (*models.StatusAssignment, error)
	UpdateAssignment(ctx context.Context, id string, req dto.UpdateStatusAssignmentRequest, actorID string) (*models.StatusAssignment, error)
	DeleteAssignment(ctx context.Context, id string, actorID string) error
	GetAssignment(ctx context.Context, id string) (*models.StatusAssignment, error)
	ListAssignmentsForSubject(ctx context.Context, subjectID string) ([]models.StatusAssignment, error)
}

// StatusAssignmentHandler exposes status assignment endpoints.
type StatusAssignmentHandler struct {
	service statusAssignmentService
}

// NewStatusAssignmentHandler builds a new handler.
func NewStatusAssignmentHandler(service statusAssignmentService) *StatusAssignmentHandler {
	return &StatusAssignmentHandler{service: service}
}

// Create godoc
// @Summary Assign a status to a subject
// @Description Evaluates frequency and exclusivity rules before storing. Activating a terminal status deactivates the subject's other statuses in the academic year.
// @Tags StatusAssignments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateStatusAssignmentRequest true "Assignment payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /status-assignments [post]
func (h *StatusAssignmentHandler) Create(c *gin.Context) {
	var req dto.CreateStatusAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status assignment payload"))
		return
	}
	assignment, err := h.service.CreateAssignment(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, assignment)
}

// Get godoc
// @Summary Get a status assignment
// @Tags StatusAssignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /status-assignments/{id} [get]
func (h *StatusAssignmentHandler) Get(c *gin.Context) {
	assignment, err := h.service.GetAssignment(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment)
}

// Update godoc
// @Summary Update a status assignment
// @Description Partial update. Re-activating an assignment re-runs the rules.
// @Tags StatusAssignments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assignment ID"
// @Param payload body dto.UpdateStatusAssignmentRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /status-assignments/{id} [patch]
func (h *StatusAssignmentHandler) Update(c *gin.Context) {
	var req dto.UpdateStatusAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status assignment payload"))
		return
	}
	assignment, err := h.service.UpdateAssignment(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment)
}

// Delete godoc
// @Summary Delete a status assignment
// @Description Administrative removal; no rules are evaluated and no cascade runs.
// @Tags StatusAssignments
// @Security BearerAuth
// @Param id path string true "Assignment ID"
// @Success 204
// @Router /status-assignments/{id} [delete]
func (h *StatusAssignmentHandler) Delete(c *gin.Context) {
	if err := h.service.DeleteAssignment(c.Request.Context(), c.Param("id"), actorID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListForSubject godoc
// @Summary List a subject's status assignments
// @Tags StatusAssignments
// @Produce json
// @Param subjectId path string true "Subject ID"
// @Success 200 {object} response.Envelope
// @Router /subjects/{subjectId}/status-assignments [get]
func (h *StatusAssignmentHandler) ListForSubject(c *gin.Context) {
	items, err := h.service.ListAssignmentsForSubject(c.Request.Context(), c.Param("subjectId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, map[string]interface{}{"count": len(items)})
}
