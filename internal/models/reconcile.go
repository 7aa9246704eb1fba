package models

import "time"

// ReconcileIssueKind classifies a cross-collection inconsistency.
type ReconcileIssueKind string

const (
	// IssueOrphanMeasurement: the measurement's source submission does not exist.
	IssueOrphanMeasurement ReconcileIssueKind = "ORPHAN_MEASUREMENT"
	// IssueSourceNotApproved: the source exists but is not marked approved,
	// typically left by a promotion whose status update failed.
	IssueSourceNotApproved ReconcileIssueKind = "SOURCE_NOT_APPROVED"
	// IssueMissingMeasurement: an approved submission has no measurement.
	IssueMissingMeasurement ReconcileIssueKind = "MISSING_MEASUREMENT"
	// IssueDuplicateMeasurement: more than one measurement shares a source.
	IssueDuplicateMeasurement ReconcileIssueKind = "DUPLICATE_MEASUREMENT"
)

// ReconcileIssue describes one inconsistency. Nothing is repaired
// automatically since either side could hold the truth.
type ReconcileIssue struct {
	Kind           ReconcileIssueKind `json:"kind"`
	SubmissionID   string             `json:"submissionId"`
	MeasurementIDs []string           `json:"measurementIds,omitempty"`
	Status         SubmissionStatus   `json:"status,omitempty"`
	Detail         string             `json:"detail"`
}

// ReconcileReport summarises a reconciliation sweep.
type ReconcileReport struct {
	CheckedAt    time.Time        `json:"checkedAt"`
	Submissions  int              `json:"submissions"`
	Measurements int              `json:"measurements"`
	Issues       []ReconcileIssue `json:"issues"`
}

// Consistent reports whether the sweep found nothing to surface.
func (r ReconcileReport) Consistent() bool {
	return len(r.Issues) == 0
}
