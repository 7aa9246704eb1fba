package dto

import (
	"strings"

	"github.com/noah-isme/isotope-submissions-api/internal/models"
)

// SubmitRequest is the measurement form payload. Required fields come first
// so validation reports them in form order.
type SubmitRequest struct {
	TargetName     string `json:"targetName" validate:"required"`
	CarbonRatio    string `json:"carbonRatio" validate:"required"`
	Reference      string `json:"reference" validate:"required"`
	Category       string `json:"category"`
	OxygenRatio    string `json:"oxygenRatio"`
	Instrument     string `json:"instrument"`
	DOI            string `json:"doi"`
	Notes          string `json:"notes"`
	SubmitterEmail string `json:"submitterEmail"`
}

// Normalize trims surrounding whitespace from every field.
func (r *SubmitRequest) Normalize() {
	for _, field := range []*string{
		&r.TargetName, &r.CarbonRatio, &r.Reference, &r.Category, &r.OxygenRatio,
		&r.Instrument, &r.DOI, &r.Notes, &r.SubmitterEmail,
	} {
		*field = strings.TrimSpace(*field)
	}
}

// Fields returns the descriptive measurement fields.
func (r SubmitRequest) Fields() models.MeasurementFields {
	return models.MeasurementFields{
		TargetName:  r.TargetName,
		Category:    r.Category,
		CarbonRatio: r.CarbonRatio,
		OxygenRatio: r.OxygenRatio,
		Instrument:  r.Instrument,
		Reference:   r.Reference,
		DOI:         r.DOI,
		Notes:       r.Notes,
	}
}

// ReviewRequest carries optional reviewer notes for approve and reject. The
// snake_case key is accepted for older admin pages.
type ReviewRequest struct {
	ReviewerNotes       string `json:"reviewerNotes"`
	LegacyReviewerNotes string `json:"reviewer_notes"`
}

// Notes returns the trimmed reviewer notes.
func (r ReviewRequest) Notes() string {
	if notes := strings.TrimSpace(r.ReviewerNotes); notes != "" {
		return notes
	}
	return strings.TrimSpace(r.LegacyReviewerNotes)
}

// SubmitResponse is returned after a successful submit.
type SubmitResponse struct {
	Message    string             `json:"message"`
	Submission *models.Submission `json:"submission"`
}

// ReviewResponse is returned after approve or reject.
type ReviewResponse struct {
	Submission  *models.Submission          `json:"submission,omitempty"`
	Measurement *models.ApprovedMeasurement `json:"measurement,omitempty"`
}

// PublishResponse lists where exports were written.
type PublishResponse struct {
	Records   int      `json:"records"`
	Locations []string `json:"locations"`
}

// StatusResponse reports server state for the admin page.
type StatusResponse struct {
	Status       string `json:"status"`
	Timestamp    string `json:"timestamp"`
	Backend      string `json:"backend"`
	EmailEnabled bool   `json:"emailEnabled"`
	AutoApprove  bool   `json:"autoApprove"`
}
