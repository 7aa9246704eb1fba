package models

import "time"

// SubmissionStatus captures the review state of a submission.
type SubmissionStatus string

const (
	SubmissionStatusPending  SubmissionStatus = "pending"
	SubmissionStatusApproved SubmissionStatus = "approved"
	SubmissionStatusRejected SubmissionStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s SubmissionStatus) Valid() bool {
	switch s {
	case SubmissionStatusPending, SubmissionStatusApproved, SubmissionStatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition is defined from s.
func (s SubmissionStatus) Terminal() bool {
	return s == SubmissionStatusApproved || s == SubmissionStatusRejected
}

// CanTransitionTo reports whether moving from s to next is allowed. Only
// pending submissions may be decided, and only into a terminal state.
func (s SubmissionStatus) CanTransitionTo(next SubmissionStatus) bool {
	return s == SubmissionStatusPending && next.Terminal()
}

// MeasurementFields are the descriptive fields shared by a submission and the
// measurement published from it. Promotion copies them by value.
type MeasurementFields struct {
	TargetName  string `db:"target_name" json:"targetName"`
	Category    string `db:"category" json:"category"`
	CarbonRatio string `db:"carbon_ratio" json:"carbonRatio"`
	OxygenRatio string `db:"oxygen_ratio" json:"oxygenRatio"`
	Instrument  string `db:"instrument" json:"instrument"`
	Reference   string `db:"reference" json:"reference"`
	DOI         string `db:"doi" json:"doi"`
	Notes       string `db:"notes" json:"notes"`
}

// Submission is a measurement awaiting or having received review.
type Submission struct {
	ID          string           `db:"id" json:"id"`
	SubmittedAt time.Time        `db:"submitted_at" json:"submittedAt"`
	Status      SubmissionStatus `db:"status" json:"status"`
	MeasurementFields
	SubmitterEmail string     `db:"submitter_email" json:"submitterEmail"`
	ReviewedAt     *time.Time `db:"reviewed_at" json:"reviewedAt,omitempty"`
	ReviewerNotes  string     `db:"reviewer_notes" json:"reviewerNotes"`
}

// ApprovedMeasurement is the published record created when a submission is
// approved. It never changes after creation.
type ApprovedMeasurement struct {
	ID                 string `db:"id" json:"id"`
	SourceSubmissionID string `db:"source_submission_id" json:"sourceSubmissionId"`
	MeasurementFields
	ApprovedAt time.Time `db:"approved_at" json:"approvedAt"`
}

// SubmissionFilter constrains listing queries.
type SubmissionFilter struct {
	Status []SubmissionStatus
}

// Matches reports whether the submission passes the filter.
func (f SubmissionFilter) Matches(s Submission) bool {
	if len(f.Status) == 0 {
		return true
	}
	for _, status := range f.Status {
		if s.Status == status {
			return true
		}
	}
	return false
}
