package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reliefops/crisis-dispatch-api/internal/service"
	"github.com/reliefops/crisis-dispatch-api/pkg/response"
)

// ReportHandler streams rendered reports to coordinators.
type ReportHandler struct {
	reports *service.ReportService
}

// NewReportHandler creates a new handler.
func NewReportHandler(reports *service.ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// CrisisResponses godoc
// @Summary Crisis responses report
// @Description Render all responses for a crisis as CSV or PDF
// @Tags Reports
// @Produce text/csv
// @Security BearerAuth
// @Param id path string true "Crisis ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Router /reports/crises/{id}/responses [get]
func (h *ReportHandler) CrisisResponses(c *gin.Context) {
	format := service.ReportFormat(c.DefaultQuery("format", "csv"))

	file, err := h.reports.CrisisResponses(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+file.Filename)
	c.Data(http.StatusOK, file.ContentType, file.Content)
}
