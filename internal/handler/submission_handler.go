package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/isotope-submissions-api/internal/dto"
	"github.com/noah-isme/isotope-submissions-api/internal/middleware"
	"github.com/noah-isme/isotope-submissions-api/internal/models"
	appErrors "github.com/noah-isme/isotope-submissions-api/pkg/errors"
	"github.com/noah-isme/isotope-submissions-api/pkg/response"
)

type submissionLifecycle interface {
	Submit(ctx context.Context, req dto.SubmitRequest) (*models.Submission, error)
	Approve(ctx context.Context, id, reviewerNotes string) (*models.ApprovedMeasurement, error)
	Reject(ctx context.Context, id, reviewerNotes string) (*models.Submission, error)
}

type submissionCatalog interface {
	ListSubmissions(ctx context.Context, filter models.SubmissionFilter) ([]models.Submission, bool, error)
	GetSubmission(ctx context.Context, id string) (*models.Submission, error)
	ListApproved(ctx context.Context) ([]models.ApprovedMeasurement, bool, error)
}

// SubmissionHandler exposes the submission lifecycle endpoints.
type SubmissionHandler struct {
	lifecycle submissionLifecycle
	catalog   submissionCatalog
}

// NewSubmissionHandler constructs the handler.
func NewSubmissionHandler(lifecycle submissionLifecycle, catalog submissionCatalog) *SubmissionHandler {
	return &SubmissionHandler{lifecycle: lifecycle, catalog: catalog}
}

// Submit godoc
// @Summary Submit a measurement for review
// @Tags Submissions
// @Accept json
// @Produce json
// @Param payload body dto.SubmitRequest true "Measurement form"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /submit [post]
func (h *SubmissionHandler) Submit(c *gin.Context) {
	var req dto.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid submission payload"))
		return
	}
	submission, err := h.lifecycle.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.SubmitResponse{Message: "Submission received successfully", Submission: submission})
}

// List godoc
// @Summary List submissions
// @Tags Submissions
// @Produce json
// @Param status query string false "Comma separated statuses (pending, approved, rejected)"
// @Success 200 {object} response.Envelope
// @Router /submissions [get]
func (h *SubmissionHandler) List(c *gin.Context) {
	filter, err := parseStatusFilter(c.Query("status"))
	if err != nil {
		response.Error(c, err)
		return
	}
	submissions, cacheHit, err := h.catalog.ListSubmissions(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submissions, listMeta(c, cacheHit, len(submissions)))
}

// Get godoc
// @Summary Get submission by id
// @Tags Submissions
// @Produce json
// @Param id path string true "Submission ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /submissions/{id} [get]
func (h *SubmissionHandler) Get(c *gin.Context) {
	submission, err := h.catalog.GetSubmission(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submission)
}

// Approve godoc
// @Summary Approve a pending submission
// @Tags Review
// @Accept json
// @Produce json
// @Param id path string true "Submission ID"
// @Param payload body dto.ReviewRequest false "Reviewer notes"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /approve/{id} [post]
func (h *SubmissionHandler) Approve(c *gin.Context) {
	req, ok := bindReview(c)
	if !ok {
		return
	}
	measurement, err := h.lifecycle.Approve(c.Request.Context(), c.Param("id"), req.Notes())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ReviewResponse{Measurement: measurement}, map[string]interface{}{"message": "Submission approved"})
}

// Reject godoc
// @Summary Reject a pending submission
// @Tags Review
// @Accept json
// @Produce json
// @Param id path string true "Submission ID"
// @Param payload body dto.ReviewRequest false "Reviewer notes"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /reject/{id} [post]
func (h *SubmissionHandler) Reject(c *gin.Context) {
	req, ok := bindReview(c)
	if !ok {
		return
	}
	submission, err := h.lifecycle.Reject(c.Request.Context(), c.Param("id"), req.Notes())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ReviewResponse{Submission: submission}, map[string]interface{}{"message": "Submission rejected"})
}

// ListApproved godoc
// @Summary List published measurements
// @Tags Approved
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /approved [get]
func (h *SubmissionHandler) ListApproved(c *gin.Context) {
	approved, cacheHit, err := h.catalog.ListApproved(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, approved, listMeta(c, cacheHit, len(approved)))
}

func listMeta(c *gin.Context, cacheHit bool, count int) map[string]interface{} {
	middleware.SetCacheHit(c, cacheHit)
	middleware.SetMeta(c, "count", count)
	return middleware.ExtractMeta(c)
}

// bindReview accepts an empty body; reviewer notes are optional.
func bindReview(c *gin.Context) (dto.ReviewRequest, bool) {
	var req dto.ReviewRequest
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid review payload"))
		return req, false
	}
	return req, true
}

func parseStatusFilter(raw string) (models.SubmissionFilter, error) {
	var filter models.SubmissionFilter
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		status := models.SubmissionStatus(part)
		if !status.Valid() {
			err := appErrors.Clone(appErrors.ErrValidation, "unknown status "+part)
			err.Field = "status"
			return filter, err
		}
		filter.Status = append(filter.Status, status)
	}
	return filter, nil
}
