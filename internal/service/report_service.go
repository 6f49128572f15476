package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reliefops/crisis-dispatch-api/internal/models"
	appErrors "github.com/reliefops/crisis-dispatch-api/pkg/errors"
	"github.com/reliefops/crisis-dispatch-api/pkg/export"
)

// ReportFormat selects the rendered output of a report.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

type crisisResponseLister interface {
	ListByCrisis(ctx context.Context, crisisID string) ([]models.ResponseDetail, error)
}

// ReportFile is a rendered report ready to be streamed to the client.
type ReportFile struct {
	Content     []byte
	ContentType string
	Filename    string
}

// ReportService renders crisis response reports for coordinators.
type ReportService struct {
	crises    crisisReader
	responses crisisResponseLister
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	logger    *zap.Logger
}

func NewReportService(crises crisisReader, responses crisisResponseLister, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{
		crises:    crises,
		responses: responses,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		logger:    logger,
	}
}

// CrisisResponses renders every response recorded against a crisis as CSV
// or PDF.
func (s *ReportService) CrisisResponses(ctx context.Context, crisisID string, format ReportFormat) (*ReportFile, error) {
	switch format {
	case ReportFormatCSV, ReportFormatPDF:
	case "":
		format = ReportFormatCSV
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported report format: %s", format))
	}

	crisis, err := s.crises.FindByID(ctx, crisisID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "crisis not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load crisis")
	}

	details, err := s.responses.ListByCrisis(ctx, crisisID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list crisis responses")
	}

	dataset := buildResponseDataset(details)
	stamp := time.Now().UTC().Format("20060102-150405")

	switch format {
	case ReportFormatPDF:
		title := fmt.Sprintf("Crisis responses: %s (%s)", crisis.DisasterType, crisis.ID)
		content, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf report")
		}
		return &ReportFile{
			Content:     content,
			ContentType: "application/pdf",
			Filename:    fmt.Sprintf("crisis-%s-responses-%s.pdf", crisis.ID, stamp),
		}, nil
	default:
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv report")
		}
		return &ReportFile{
			Content:     content,
			ContentType: "text/csv",
			Filename:    fmt.Sprintf("crisis-%s-responses-%s.csv", crisis.ID, stamp),
		}, nil
	}
}

func buildResponseDataset(details []models.ResponseDetail) export.Dataset {
	dataset := export.Dataset{
		Headers: []string{"Response ID", "Volunteer ID", "Status", "Accepted At", "Completed At", "Failed Reason", "Disaster Type", "Severity"},
	}
	for _, d := range details {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Response ID":   d.ID,
			"Volunteer ID":  d.VolunteerID,
			"Status":        string(d.Status),
			"Accepted At":   formatTimePtr(d.AcceptedAt),
			"Completed At":  formatTimePtr(d.CompletedAt),
			"Failed Reason": derefOrEmpty(d.FailedReason),
			"Disaster Type": d.DisasterType,
			"Severity":      strconv.Itoa(d.CrisisSeverity),
		})
	}
	return dataset
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
