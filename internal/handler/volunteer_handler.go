package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reliefops/crisis-dispatch-api/internal/middleware"
	"github.com/reliefops/crisis-dispatch-api/internal/service"
	appErrors "github.com/reliefops/crisis-dispatch-api/pkg/errors"
	"github.com/reliefops/crisis-dispatch-api/pkg/response"
)

// VolunteerHandler serves volunteer profile management and the volunteer's
// own assignment lifecycle.
type VolunteerHandler struct {
	volunteers  *service.VolunteerService
	assignments *service.AssignmentService
}

// NewVolunteerHandler creates a new handler.
func NewVolunteerHandler(volunteers *service.VolunteerService, assignments *service.AssignmentService) *VolunteerHandler {
	return &VolunteerHandler{volunteers: volunteers, assignments: assignments}
}

// Profile godoc
// @Summary Volunteer profile
// @Tags Volunteers
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /volunteers/profile [get]
func (h *VolunteerHandler) Profile(c *gin.Context) {
	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	detail, err := h.volunteers.Profile(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail)
}

// UpdateProfile godoc
// @Summary Update volunteer profile
// @Description Upsert skills and availability for the authenticated volunteer
// @Tags Volunteers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.UpdateProfileRequest true "Profile payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /volunteers/profile [put]
func (h *VolunteerHandler) UpdateProfile(c *gin.Context) {
	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid profile payload"))
		return
	}

	profile, err := h.volunteers.UpdateProfile(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile)
}

// Assignments godoc
// @Summary Volunteer assignments
// @Description List the authenticated volunteer's assignments with crisis context
// @Tags Volunteers
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /volunteers/assignments [get]
func (h *VolunteerHandler) Assignments(c *gin.Context) {
	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	details, err := h.volunteers.Assignments(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, details)
}

// Accept godoc
// @Summary Accept an assignment
// @Tags Assignments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Response ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /assignments/{id}/accept [post]
func (h *VolunteerHandler) Accept(c *gin.Context) {
	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	updated, err := h.assignments.Accept(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated)
}

// Complete godoc
// @Summary Complete an assignment
// @Tags Assignments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Response ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /assignments/{id}/complete [post]
func (h *VolunteerHandler) Complete(c *gin.Context) {
	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	updated, err := h.assignments.Complete(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated)
}

// Fail godoc
// @Summary Fail or reject an assignment
// @Description Terminate the assignment with a mandatory reason
// @Tags Assignments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Response ID"
// @Param payload body service.FailAssignmentRequest true "Failure payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /assignments/{id}/fail [post]
func (h *VolunteerHandler) Fail(c *gin.Context) {
	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.FailAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "a reason is required"))
		return
	}

	updated, err := h.assignments.Fail(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated)
}
