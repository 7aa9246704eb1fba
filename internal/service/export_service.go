package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/isotope-submissions-api/internal/models"
	appErrors "github.com/noah-isme/isotope-submissions-api/pkg/errors"
	"github.com/noah-isme/isotope-submissions-api/pkg/export"
	"github.com/noah-isme/isotope-submissions-api/pkg/storage"
)

// Export formats.
const (
	FormatCSV = "csv"
	FormatPDF = "pdf"
)

// ApprovedColumns is the columnar view of approved measurements, in order.
var ApprovedColumns = []export.Column{
	{Key: "id", Label: "ID", Weight: 2.4},
	{Key: "source_submission_id", Label: "Submission", Weight: 2.4},
	{Key: "target_name", Label: "Target", Weight: 1.6},
	{Key: "category", Label: "Category", Weight: 1},
	{Key: "carbon_ratio", Label: "12C/13C", Weight: 1},
	{Key: "oxygen_ratio", Label: "16O/18O", Weight: 1},
	{Key: "instrument", Label: "Instrument", Weight: 1},
	{Key: "reference", Label: "Reference", Weight: 1.6},
	{Key: "doi", Label: "DOI", Weight: 1.4},
	{Key: "notes", Label: "Notes", Weight: 2},
	{Key: "approved_at", Label: "Approved", Weight: 1.6},
}

type approvedLister interface {
	ListApproved(ctx context.Context) ([]models.ApprovedMeasurement, bool, error)
}

type renderer interface {
	Render(data export.Dataset) ([]byte, error)
	ContentType() string
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	Title       string
	CSVFilename string
	PDFFilename string
}

// ExportArtifact is one rendered export.
type ExportArtifact struct {
	Filename    string
	ContentType string
	Format      string
	Records     int
	Data        []byte
}

// PublishResult lists where exports landed.
type PublishResult struct {
	Records     int
	Locations   []string
	PublishedAt time.Time
}

// ExportService renders the approved collection and publishes it for the
// public table.
type ExportService struct {
	catalog   approvedLister
	publisher storage.Publisher
	renderers map[string]renderer
	cfg       ExportConfig
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewExportService constructs an ExportService. publisher may be nil when
// only on-demand rendering is needed.
func NewExportService(catalog approvedLister, publisher storage.Publisher, cfg ExportConfig, metrics *MetricsService, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CSVFilename == "" {
		cfg.CSVFilename = "approved_measurements.csv"
	}
	if cfg.PDFFilename == "" {
		cfg.PDFFilename = "approved_measurements.pdf"
	}
	return &ExportService{
		catalog:   catalog,
		publisher: publisher,
		renderers: map[string]renderer{
			FormatCSV: export.NewCSVExporter(),
			FormatPDF: export.NewPDFExporter(),
		},
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Render produces the approved measurements export in the requested format.
func (s *ExportService) Render(ctx context.Context, format string) (*ExportArtifact, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatCSV
	}
	r, ok := s.renderers[format]
	if !ok {
		err := appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
		err.Field = "format"
		return nil, err
	}

	approved, _, err := s.catalog.ListApproved(ctx)
	if err != nil {
		return nil, err
	}
	data, err := r.Render(ApprovedDataset(s.cfg.Title, approved))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	s.metrics.RecordExport(format, "render")

	filename := s.cfg.CSVFilename
	if format == FormatPDF {
		filename = s.cfg.PDFFilename
	}
	return &ExportArtifact{
		Filename:    filename,
		ContentType: r.ContentType(),
		Format:      format,
		Records:     len(approved),
		Data:        data,
	}, nil
}

// Publish renders the CSV and PDF exports and hands both to the publisher.
// Each artifact replaces its previous version atomically.
func (s *ExportService) Publish(ctx context.Context) (*PublishResult, error) {
	if s.publisher == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "no export publisher configured")
	}
	result := &PublishResult{PublishedAt: s.now().UTC()}
	for _, format := range []string{FormatCSV, FormatPDF} {
		artifact, err := s.Render(ctx, format)
		if err != nil {
			return nil, err
		}
		location, err := s.publisher.Publish(ctx, artifact.Filename, artifact.ContentType, artifact.Data)
		if err != nil {
			s.logger.Error("failed to publish export", zap.String("format", format), zap.Error(err))
			return nil, appErrors.WrapStorage(err, "failed to publish export")
		}
		s.metrics.RecordExport(format, "publish")
		result.Records = artifact.Records
		result.Locations = append(result.Locations, location)
	}
	s.logger.Info("exports published", zap.Int("records", result.Records), zap.Strings("locations", result.Locations))
	return result, nil
}

// ApprovedDataset converts measurements into the export table.
func ApprovedDataset(title string, approved []models.ApprovedMeasurement) export.Dataset {
	rows := make([][]string, 0, len(approved))
	for _, m := range approved {
		f := m.MeasurementFields
		rows = append(rows, []string{
			m.ID, m.SourceSubmissionID,
			f.TargetName, f.Category, f.CarbonRatio, f.OxygenRatio, f.Instrument, f.Reference, f.DOI, f.Notes,
			m.ApprovedAt.UTC().Format(time.RFC3339),
		})
	}
	return export.Dataset{Title: title, Columns: ApprovedColumns, Rows: rows}
}
