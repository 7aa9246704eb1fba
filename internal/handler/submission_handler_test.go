package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/isotope-submissions-api/internal/dto"
	"github.com/noah-isme/isotope-submissions-api/internal/models"
	appErrors "github.com/noah-isme/isotope-submissions-api/pkg/errors"
)

type lifecycleMock struct {
	submitErr error
	notes     string
	id        string
}

func (m *lifecycleMock) Submit(ctx context.Context, req dto.SubmitRequest) (*models.Submission, error) {
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	return &models.Submission{ID: "s1", Status: models.SubmissionStatusPending}, nil
}

func (m *lifecycleMock) Approve(ctx context.Context, id, notes string) (*models.ApprovedMeasurement, error) {
	m.id, m.notes = id, notes
	return &models.ApprovedMeasurement{ID: "m1", SourceSubmissionID: id}, nil
}

func (m *lifecycleMock) Reject(ctx context.Context, id, notes string) (*models.Submission, error) {
	m.id, m.notes = id, notes
	return &models.Submission{ID: id, Status: models.SubmissionStatusRejected}, nil
}

type catalogMock struct {
	filter models.SubmissionFilter
}

func (m *catalogMock) ListSubmissions(ctx context.Context, filter models.SubmissionFilter) ([]models.Submission, bool, error) {
	m.filter = filter
	return []models.Submission{}, true, nil
}

func (m *catalogMock) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	return nil, appErrors.ErrNotFound
}

func (m *catalogMock) ListApproved(ctx context.Context) ([]models.ApprovedMeasurement, bool, error) {
	return nil, false, nil
}

func TestSubmissionHandlerStorageUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewSubmissionHandler(&lifecycleMock{submitErr: appErrors.ErrStorageUnavailable}, &catalogMock{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/api/submit", bytes.NewBufferString(`{"targetName":"x","carbonRatio":"1","reference":"r"}`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Submit(c)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSubmissionHandlerApproveWithoutBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	lifecycle := &lifecycleMock{}
	handler := NewSubmissionHandler(lifecycle, &catalogMock{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodPost, "/api/approve/s1", nil)
	c.Params = gin.Params{{Key: "id", Value: "s1"}}

	handler.Approve(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "s1", lifecycle.id)
	assert.Equal(t, "", lifecycle.notes)
}

func TestSubmissionHandlerRejectInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewSubmissionHandler(&lifecycleMock{}, &catalogMock{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/api/reject/s1", bytes.NewBufferString(`{"reviewerNotes":`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "s1"}}

	handler.Reject(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmissionHandlerListParsesStatuses(t *testing.T) {
	gin.SetMode(gin.TestMode)
	catalog := &catalogMock{}
	handler := NewSubmissionHandler(&lifecycleMock{}, catalog)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/api/submissions?status=Pending,%20rejected", nil)

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []models.SubmissionStatus{models.SubmissionStatusPending, models.SubmissionStatusRejected}, catalog.filter.Status)
	require.Contains(t, w.Body.String(), `"cache_hit":true`)
}
