package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reliefops/crisis-dispatch-api/internal/middleware"
	"github.com/reliefops/crisis-dispatch-api/internal/service"
	appErrors "github.com/reliefops/crisis-dispatch-api/pkg/errors"
	"github.com/reliefops/crisis-dispatch-api/pkg/response"
)

// RatingHandler serves rating submission, listings and photo proofs.
type RatingHandler struct {
	ratings *service.RatingService
	proofs  *service.ProofService
}

// NewRatingHandler creates a new handler.
func NewRatingHandler(ratings *service.RatingService, proofs *service.ProofService) *RatingHandler {
	return &RatingHandler{ratings: ratings, proofs: proofs}
}

// Submit godoc
// @Summary Rate a completed response
// @Tags Ratings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.SubmitRatingRequest true "Rating payload"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /ratings [post]
func (h *RatingHandler) Submit(c *gin.Context) {
	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.SubmitRatingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rating payload"))
		return
	}

	rating, err := h.ratings.Submit(c.Request.Context(), claims.UserID, claims.Role, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rating)
}

// ListByVolunteer godoc
// @Summary Ratings received by a volunteer
// @Tags Ratings
// @Produce json
// @Security BearerAuth
// @Param id path string true "Volunteer user ID"
// @Success 200 {object} response.Envelope
// @Router /ratings/volunteer/{id} [get]
func (h *RatingHandler) ListByVolunteer(c *gin.Context) {
	details, err := h.ratings.ListByVolunteer(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, details)
}

// UploadProof godoc
// @Summary Upload a photo proof
// @Description Store a photo proof and return a signed download token
// @Tags Ratings
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "Photo proof image"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /ratings/proofs [post]
func (h *RatingHandler) UploadProof(c *gin.Context) {
	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "a file field is required"))
		return
	}

	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload"))
		return
	}
	defer file.Close()

	upload, err := h.proofs.Save(claims.UserID, header.Header.Get("Content-Type"), header.Size, file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, upload)
}

// DownloadProof godoc
// @Summary Download a photo proof
// @Description Resolve a signed token and stream the stored image
// @Tags Ratings
// @Produce image/jpeg
// @Param token path string true "Signed proof token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /ratings/proofs/{token} [get]
func (h *RatingHandler) DownloadProof(c *gin.Context) {
	download, err := h.proofs.Resolve(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close()

	c.Header("Content-Disposition", "inline; filename="+download.Filename)
	c.Header("Content-Type", download.ContentType)
	c.File(download.File.Name())
}
