package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/reliefops/crisis-dispatch-api/internal/middleware"
	"github.com/reliefops/crisis-dispatch-api/internal/models"
	"github.com/reliefops/crisis-dispatch-api/internal/service"
	appErrors "github.com/reliefops/crisis-dispatch-api/pkg/errors"
	"github.com/reliefops/crisis-dispatch-api/pkg/response"
)

// CrisisHandler serves the crisis feed and the dispatch operations hanging
// off a single crisis.
type CrisisHandler struct {
	crises      *service.CrisisService
	dispatch    *service.DispatchService
	assignments *service.AssignmentService
}

// NewCrisisHandler creates a new handler.
func NewCrisisHandler(crises *service.CrisisService, dispatch *service.DispatchService, assignments *service.AssignmentService) *CrisisHandler {
	return &CrisisHandler{crises: crises, dispatch: dispatch, assignments: assignments}
}

// List godoc
// @Summary Crisis feed
// @Description List crises with optional status, type and severity filters
// @Tags Crises
// @Produce json
// @Security BearerAuth
// @Param status query string false "Crisis status"
// @Param disaster_type query string false "Disaster type"
// @Param min_severity query int false "Minimum severity (1-5)"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /crises [get]
func (h *CrisisHandler) List(c *gin.Context) {
	filter := models.CrisisFilter{
		Status:       models.CrisisStatus(c.Query("status")),
		DisasterType: c.Query("disaster_type"),
	}
	filter.MinSeverity, _ = strconv.Atoi(c.Query("min_severity"))
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	crises, pagination, err := h.crises.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, crises, map[string]interface{}{"pagination": pagination})
}

// Get godoc
// @Summary Crisis detail
// @Tags Crises
// @Produce json
// @Security BearerAuth
// @Param id path string true "Crisis ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /crises/{id} [get]
func (h *CrisisHandler) Get(c *gin.Context) {
	crisis, err := h.crises.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, crisis)
}

// RequestHelp godoc
// @Summary Request help for a crisis
// @Description Notify every available volunteer about the crisis
// @Tags Crises
// @Produce json
// @Security BearerAuth
// @Param id path string true "Crisis ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /crises/{id}/request-help [post]
func (h *CrisisHandler) RequestHelp(c *gin.Context) {
	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	result, err := h.dispatch.RequestHelp(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, result)
}

// Assign godoc
// @Summary Assign a volunteer to a crisis
// @Description Admin override that puts a specific volunteer on the crisis
// @Tags Crises
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Crisis ID"
// @Param payload body handler.assignRequest true "Assignment payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /crises/{id}/assign [post]
func (h *CrisisHandler) Assign(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "volunteer_id is required"))
		return
	}

	result, err := h.assignments.AdminAssign(c.Request.Context(), c.Param("id"), req.VolunteerID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, result)
}

type assignRequest struct {
	VolunteerID string `json:"volunteer_id" binding:"required"`
}
