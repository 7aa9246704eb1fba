package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/isotope-submissions-api/internal/dto"
	"github.com/noah-isme/isotope-submissions-api/internal/middleware"
	"github.com/noah-isme/isotope-submissions-api/internal/service"
	"github.com/noah-isme/isotope-submissions-api/pkg/response"
)

type exportService interface {
	Render(ctx context.Context, format string) (*service.ExportArtifact, error)
	Publish(ctx context.Context) (*service.PublishResult, error)
}

// ExportHandler serves and publishes approved measurement exports.
type ExportHandler struct {
	service exportService
}

// NewExportHandler constructs the handler.
func NewExportHandler(service exportService) *ExportHandler {
	return &ExportHandler{service: service}
}

// Download godoc
// @Summary Download approved measurements
// @Tags Approved
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /approved/export [get]
func (h *ExportHandler) Download(c *gin.Context) {
	artifact, err := h.service.Render(c.Request.Context(), c.DefaultQuery("format", service.FormatCSV))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, artifact.Filename, artifact.ContentType, artifact.Data)
}

// Publish godoc
// @Summary Publish exports for the public table
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /admin/publish [post]
func (h *ExportHandler) Publish(c *gin.Context) {
	result, err := h.service.Publish(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "published_at", result.PublishedAt)
	response.JSON(c, http.StatusOK, dto.PublishResponse{Records: result.Records, Locations: result.Locations}, middleware.ExtractMeta(c))
}
